package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ravel/internal/logger"
	"github.com/samcharles93/ravel/internal/statecache"
)

var (
	modelPath     string
	vocabPath     string
	backend       string
	poolSize      int64
	threads       int64
	gpuLayers     int64
	cacheCapacity int64
	logLevel      string
	logFormat     string
	debug         bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to the model file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "path to a vocabulary JSON file (default: raw byte vocabulary)",
			Destination: &vocabPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "evaluator backend (toy)",
			Value:       "toy",
			Destination: &backend,
		},
		&cli.Int64Flag{
			Name:        "pool-size",
			Aliases:     []string{"workers"},
			Usage:       "number of evaluator lanes",
			Value:       1,
			Destination: &poolSize,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "threads per evaluator context (0 = runtime default)",
			Destination: &threads,
		},
		&cli.Int64Flag{
			Name:        "gpu-layers",
			Usage:       "layers to offload to the GPU per context",
			Destination: &gpuLayers,
		},
		&cli.Int64Flag{
			Name:        "cache-capacity",
			Usage:       "prompt state cache entries (0 disables the cache)",
			Value:       statecache.DefaultCapacity,
			Destination: &cacheCapacity,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	if logFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Pretty(os.Stderr, level)
}
