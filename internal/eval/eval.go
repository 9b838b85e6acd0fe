// Package eval defines the contract between ravel and the native recurrent
// evaluator it wraps. The evaluator is opaque: given a context, a token and an
// input state vector it produces an output state vector and a logits vector.
// Everything else (weights, quantization, arithmetic) is its own business.
package eval

import "errors"

var (
	// ErrLoad is wrapped by Library.Init failures.
	ErrLoad = errors.New("eval: load failed")
	// ErrClone is wrapped by Library.Clone failures.
	ErrClone = errors.New("eval: clone failed")
	// ErrEval is wrapped by evaluation failures. An evaluation error is
	// fatal for the request that issued it; the failure reason is opaque,
	// so callers must not retry.
	ErrEval = errors.New("eval: evaluation failed")
)

// Library loads evaluator contexts. Init produces the primary context for a
// model file; Clone produces additional contexts sharing the primary's
// weights. Clones must be freed before the primary they were cloned from.
type Library interface {
	Init(modelPath string, threads int) (Context, error)
	Clone(primary Context, threads int) (Context, error)
}

// Context is one loaded evaluator instance. A Context is NOT reentrant:
// at most one EvalToken or EvalSequence call may be in flight per Context.
// Callers are responsible for serializing access.
type Context interface {
	// StateLen reports the length of the hidden state vector.
	StateLen() int
	// LogitsLen reports the length of the logits vector (vocabulary size).
	LogitsLen() int
	// LayerCount reports the number of model layers.
	LayerCount() int

	// OffloadLayers directs the evaluator to move up to n layers to an
	// accelerator. Best effort.
	OffloadLayers(n int) error

	// EvalToken consumes one token from stateIn and writes the resulting
	// state and logits into stateOut and logitsOut. stateIn may be nil to
	// start from the zero state. stateIn and stateOut may alias: the
	// evaluator overwrites output buffers in place.
	EvalToken(token int, stateIn, stateOut, logitsOut []float32) error

	// EvalSequence consumes tokens in order, equivalent to repeated
	// EvalToken calls but allowed to batch internally. Only the final
	// state and logits are reported.
	EvalSequence(tokens []int, stateIn, stateOut, logitsOut []float32) error

	// Free releases the context. The context must not be used afterwards.
	Free()
}
