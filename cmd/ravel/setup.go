package main

import (
	"fmt"

	"github.com/samcharles93/ravel/internal/eval"
	"github.com/samcharles93/ravel/internal/inference"
	"github.com/samcharles93/ravel/internal/logger"
	"github.com/samcharles93/ravel/internal/pool"
	"github.com/samcharles93/ravel/internal/statecache"
	"github.com/samcharles93/ravel/internal/tokenizer"
	"github.com/samcharles93/ravel/internal/toy"
)

// Toy backend shape. Deterministic by construction so repeated runs agree.
const (
	toyHidden = 256
	toySeed   = 1
)

func loadTokenizer() (*tokenizer.Vocab, error) {
	if vocabPath != "" {
		return tokenizer.LoadVocab(vocabPath)
	}
	return tokenizer.ByteVocab(), nil
}

func buildLibrary(tok *tokenizer.Vocab) (eval.Library, error) {
	switch backend {
	case "toy":
		return toy.Library{Vocab: tok.Size(), Hidden: toyHidden, Seed: toySeed}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// buildStack assembles tokenizer, evaluator pool, cache and engine from the
// shared flag set. Caller owns the returned pool.
func buildStack(log logger.Logger) (*inference.Engine, *pool.Pool, *statecache.Cache, error) {
	tok, err := loadTokenizer()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load vocabulary: %w", err)
	}
	lib, err := buildLibrary(tok)
	if err != nil {
		return nil, nil, nil, err
	}

	p, err := pool.New(lib, pool.Config{
		ModelPath: modelPath,
		Size:      int(poolSize),
		Threads:   int(threads),
		GPULayers: int(gpuLayers),
		Log:       log,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := inference.Config{}
	if gpuLayers > 0 {
		cfg.PromptBatch = inference.DefaultPromptBatchGPU
	}
	cache := statecache.New(int(cacheCapacity))
	engine := inference.NewEngine(p, cache, tok, cfg, log)
	return engine, p, cache, nil
}
