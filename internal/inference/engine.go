// Package inference drives token-by-token completion over a pool of
// evaluator lanes, resuming from the state cache where it can and writing
// back what the next request can safely reuse.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/ravel/internal/eval"
	"github.com/samcharles93/ravel/internal/logger"
	"github.com/samcharles93/ravel/internal/metrics"
	"github.com/samcharles93/ravel/internal/pool"
	"github.com/samcharles93/ravel/internal/statecache"
	"github.com/samcharles93/ravel/internal/tokenizer"
)

const (
	// DefaultCacheLag is how many generated tokens the cache write-back
	// stays behind the tip of the sequence. The most recent tokens are not
	// yet stable under re-tokenization, so they are never memoized.
	DefaultCacheLag = 2
	// DefaultPromptBatch is the token batch size for prompt resolution.
	DefaultPromptBatch = 8
	// DefaultPromptBatchGPU is the batch size used when layers are
	// offloaded; larger batches amortize transfer overhead.
	DefaultPromptBatchGPU = 64
)

// Config tunes the generation engine. Zero values select the defaults.
type Config struct {
	CacheLag int
	// RingDepth is the number of generation snapshots kept for the cache
	// write-back. Clamped to at least CacheLag+1.
	RingDepth   int
	PromptBatch int
}

func (c Config) withDefaults() Config {
	if c.CacheLag <= 0 {
		c.CacheLag = DefaultCacheLag
	}
	if c.RingDepth < c.CacheLag+1 {
		c.RingDepth = c.CacheLag + 1
	}
	if c.PromptBatch <= 0 {
		c.PromptBatch = DefaultPromptBatch
	}
	return c
}

// Engine turns single-token evaluation into a completion API.
type Engine struct {
	pool  *pool.Pool
	cache *statecache.Cache
	tok   tokenizer.Tokenizer
	cfg   Config
	log   logger.Logger
}

// NewEngine wires a pool, cache and tokenizer into an engine. cache may be
// nil or disabled; every lookup is then a miss.
func NewEngine(p *pool.Pool, cache *statecache.Cache, tok tokenizer.Tokenizer, cfg Config, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		pool:  p,
		cache: cache,
		tok:   tok,
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// Complete runs one completion request. Validation happens before any worker
// is engaged; once admitted, the request runs to completion or failure on a
// single lane. An evaluator failure is fatal for this request only and
// discards any partial output.
func (e *Engine) Complete(ctx context.Context, req *Request, stream StreamFunc) (*Result, error) {
	if err := validate(req); err != nil {
		metrics.CompletionErrors.WithLabelValues("validation").Inc()
		return nil, err
	}

	promptTokens, err := e.tok.Encode(req.Prompt)
	if err != nil {
		metrics.CompletionErrors.WithLabelValues("validation").Inc()
		return nil, newValidationError(fmt.Sprintf("prompt: %v", err))
	}
	if len(promptTokens) == 0 {
		metrics.CompletionErrors.WithLabelValues("validation").Inc()
		return nil, newValidationError("prompt: encodes to no tokens")
	}

	var res *Result
	err = e.pool.Do(ctx, func(ec eval.Context) error {
		r, runErr := e.run(ec, req, promptTokens, stream)
		res = r
		return runErr
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			metrics.CompletionErrors.WithLabelValues("eval").Inc()
		}
		return nil, err
	}

	metrics.CompletionsTotal.Inc()
	metrics.PromptTokens.Add(float64(res.Usage.PromptTokens))
	metrics.PromptTokensCached.Add(float64(res.Usage.PromptTokensCached))
	metrics.TokensGenerated.Add(float64(res.Usage.CompletionTokens))
	metrics.PromptDuration.Observe(res.Timings.PromptResolution.Seconds())
	metrics.GenerationDuration.Observe(res.Timings.Generation.Seconds())
	return res, nil
}

func validate(req *Request) error {
	if req == nil {
		return newValidationError("request is required")
	}
	if req.Prompt == "" {
		return newValidationError("prompt: must not be empty")
	}
	if req.MaxTokens < 0 {
		return newValidationError("max_tokens: must not be negative")
	}
	if req.TopP < 0 {
		return newValidationError("top_p: must not be negative")
	}
	for i, stop := range req.Stop {
		if stop == "" {
			return newValidationError(fmt.Sprintf("stop[%d]: must not be empty", i))
		}
	}
	return nil
}
