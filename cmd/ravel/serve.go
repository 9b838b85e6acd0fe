package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ravel/internal/api"
	"github.com/samcharles93/ravel/internal/metrics"
	"github.com/samcharles93/ravel/internal/pool"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the completion REST API",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr)
			log := newLogger()

			engine, p, cache, err := buildStack(log)
			if err != nil {
				return err
			}
			defer p.Close()

			sampleCtx, stopSampling := context.WithCancel(ctx)
			defer stopSampling()
			go sampleLaneDepths(sampleCtx, p)

			server := api.NewServer(engine, p, modelName(), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server",
				"address", addr,
				"backend", backend,
				"lanes", p.Size(),
				"cache_enabled", cache.Enabled(),
			)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func modelName() string {
	if modelPath != "" {
		return modelPath
	}
	return backend
}

// sampleLaneDepths publishes per-lane queue depths to the metrics registry.
func sampleLaneDepths(ctx context.Context, p *pool.Pool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for lane, depth := range p.Depths() {
				metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(lane)).Set(float64(depth))
			}
		}
	}
}
