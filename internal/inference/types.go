package inference

import (
	"errors"
	"time"
)

// StreamFunc receives finalized output text as it becomes safe to emit.
// Chunks never contain any part of a matched or partially-matched stop
// sequence.
type StreamFunc func(chunk string)

// Request is one completion call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
	Seed        int64

	// InitState overrides the starting hidden state. When set, the prompt
	// cache is neither consulted nor written for this request.
	InitState []float32
}

// Usage counts tokens for one completion.
type Usage struct {
	PromptTokens int
	// PromptTokensCached is how many prompt tokens were served from the
	// state cache instead of being evaluated.
	PromptTokensCached int
	CompletionTokens   int
}

func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Timings is the per-call latency breakdown.
type Timings struct {
	PromptResolution time.Duration
	Generation       time.Duration
	TokensPerSecond  float64
}

// Result is a finished completion.
type Result struct {
	Text string
	// StopSequence is the stop string that terminated generation, empty if
	// generation ran to MaxTokens.
	StopSequence string
	Usage        Usage
	Timings      Timings
}

// ErrValidation marks requests rejected before any worker is engaged.
// Validation failures are never retried.
var ErrValidation = errors.New("invalid_request")

type validationError struct {
	msg string
}

func (e validationError) Error() string { return e.msg }
func (e validationError) Unwrap() error { return ErrValidation }

func newValidationError(msg string) error {
	return validationError{msg: msg}
}
