package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ravel/internal/inference"
)

func runCmd() *cli.Command {
	var (
		prompt    string
		maxTokens int64
		temp      float64
		topP      float64
		seed      int64
		stop      []string
		prewarm   bool
		stats     bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a single completion and stream it to stdout",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "max-tokens",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to generate",
				Value:       inference.DefaultMaxTokens,
				Destination: &maxTokens,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature"},
				Usage:       "sampling temperature (0 = greedy)",
				Value:       inference.DefaultTemperature,
				Destination: &temp,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "nucleus sampling cutoff",
				Value:       inference.DefaultTopP,
				Destination: &topP,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling seed",
				Destination: &seed,
			},
			&cli.StringSliceFlag{
				Name:        "stop",
				Usage:       "stop sequence (repeatable)",
				Destination: &stop,
			},
			&cli.BoolFlag{
				Name:        "prewarm",
				Usage:       "resolve the prompt into the cache without generating",
				Destination: &prewarm,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print token and timing stats after generation",
				Destination: &stats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(cmd, cfg)
			applyRunConfig(cmd, cfg, &temp, &topP, &maxTokens, &seed)
			log := newLogger()

			if prompt == "" {
				return fmt.Errorf("prompt is required")
			}

			engine, p, _, err := buildStack(log)
			if err != nil {
				return err
			}
			defer p.Close()

			req := inference.Request{
				Prompt:      prompt,
				MaxTokens:   int(maxTokens),
				Temperature: float32(temp),
				TopP:        float32(topP),
				Stop:        stop,
				Seed:        seed,
			}
			if prewarm {
				req.MaxTokens = 0
			}

			result, err := engine.Complete(ctx, &req, func(chunk string) {
				_, _ = fmt.Fprint(os.Stdout, chunk)
			})
			if err != nil {
				return err
			}
			fmt.Println()

			if stats {
				fmt.Fprintf(os.Stderr, "prompt tokens:  %d (%d cached)\n",
					result.Usage.PromptTokens, result.Usage.PromptTokensCached)
				fmt.Fprintf(os.Stderr, "output tokens:  %d\n", result.Usage.CompletionTokens)
				fmt.Fprintf(os.Stderr, "prompt time:    %s\n", result.Timings.PromptResolution)
				fmt.Fprintf(os.Stderr, "generate time:  %s (%.1f tok/s)\n",
					result.Timings.Generation, result.Timings.TokensPerSecond)
			}
			return nil
		},
	}
}
