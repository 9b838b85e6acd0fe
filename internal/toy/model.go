// Package toy is a minimal recurrent language model implementing the eval
// contracts. It exists for tests, benchmarks and local smoke runs: fully
// deterministic, pure Go, and honest about the native evaluator's quirks
// (in-place buffer writes, weight-sharing clones, no reentrancy per context).
package toy

import (
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/samcharles93/ravel/internal/eval"
)

const layerCount = 4

// weights is the shared parameter block. The primary context owns it and
// clones alias it, mirroring how the native evaluator shares weights.
type weights struct {
	vocab  int
	hidden int
	emb    []float32 // vocab x hidden
	rec    []float32 // hidden, recurrent mixing coefficients
	out    []float32 // hidden x vocab
}

// Library builds toy evaluator contexts. The model path is ignored; the
// weights are derived from Seed so runs are reproducible.
type Library struct {
	Vocab  int
	Hidden int
	Seed   int64
}

var _ eval.Library = Library{}

func (l Library) Init(modelPath string, threads int) (eval.Context, error) {
	if l.Vocab <= 0 || l.Hidden <= 0 {
		return nil, fmt.Errorf("%w: vocab %d hidden %d", eval.ErrLoad, l.Vocab, l.Hidden)
	}
	w := &weights{
		vocab:  l.Vocab,
		hidden: l.Hidden,
		emb:    make([]float32, l.Vocab*l.Hidden),
		rec:    make([]float32, l.Hidden),
		out:    make([]float32, l.Hidden*l.Vocab),
	}
	fillRand(w.emb, l.Seed+11)
	fillRand(w.out, l.Seed+23)
	rng := rand.New(rand.NewSource(l.Seed + 37))
	for i := range w.rec {
		// Keep the recurrence contractive so state stays bounded.
		w.rec[i] = 0.5 + 0.4*rng.Float32()
	}
	return &Context{w: w}, nil
}

func (l Library) Clone(primary eval.Context, threads int) (eval.Context, error) {
	pc, ok := primary.(*Context)
	if !ok {
		return nil, fmt.Errorf("%w: not a toy context", eval.ErrClone)
	}
	if pc.freed.Load() {
		return nil, fmt.Errorf("%w: primary already freed", eval.ErrClone)
	}
	return &Context{w: pc.w}, nil
}

// Context is one toy evaluator instance. Like the native evaluator it wraps,
// it is not reentrant: concurrent evaluation calls on one Context fail.
type Context struct {
	w        *weights
	scratch  []float32
	busy     atomic.Bool
	freed    atomic.Bool
	failNext atomic.Bool
}

var _ eval.Context = (*Context)(nil)

func (c *Context) StateLen() int   { return c.w.hidden }
func (c *Context) LogitsLen() int  { return c.w.vocab }
func (c *Context) LayerCount() int { return layerCount }

// OffloadLayers is a no-op; the toy model has nowhere to offload to.
func (c *Context) OffloadLayers(n int) error { return nil }

// FailNext makes the next evaluation call return an error. Test hook for the
// opaque-failure path.
func (c *Context) FailNext() { c.failNext.Store(true) }

func (c *Context) EvalToken(token int, stateIn, stateOut, logitsOut []float32) error {
	return c.evalTokens([]int{token}, stateIn, stateOut, logitsOut)
}

func (c *Context) EvalSequence(tokens []int, stateIn, stateOut, logitsOut []float32) error {
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty token sequence", eval.ErrEval)
	}
	return c.evalTokens(tokens, stateIn, stateOut, logitsOut)
}

func (c *Context) evalTokens(tokens []int, stateIn, stateOut, logitsOut []float32) error {
	if !c.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: context is not reentrant", eval.ErrEval)
	}
	defer c.busy.Store(false)

	if c.freed.Load() {
		return fmt.Errorf("%w: context freed", eval.ErrEval)
	}
	if c.failNext.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: injected failure", eval.ErrEval)
	}
	if len(stateOut) != c.w.hidden || len(logitsOut) != c.w.vocab {
		return fmt.Errorf("%w: buffer length mismatch", eval.ErrEval)
	}
	if stateIn != nil && len(stateIn) != c.w.hidden {
		return fmt.Errorf("%w: input state length mismatch", eval.ErrEval)
	}

	if cap(c.scratch) < c.w.hidden {
		c.scratch = make([]float32, c.w.hidden)
	}
	h := c.scratch[:c.w.hidden]
	if stateIn == nil {
		for i := range h {
			h[i] = 0
		}
	} else {
		copy(h, stateIn)
	}

	for _, tok := range tokens {
		if tok < 0 || tok >= c.w.vocab {
			return fmt.Errorf("%w: token %d out of range", eval.ErrEval, tok)
		}
		emb := c.w.emb[tok*c.w.hidden : (tok+1)*c.w.hidden]
		for i := range h {
			h[i] = tanh32(emb[i] + c.w.rec[i]*h[i])
		}
	}

	copy(stateOut, h)
	for j := 0; j < c.w.vocab; j++ {
		var sum float32
		for i := 0; i < c.w.hidden; i++ {
			sum += h[i] * c.w.out[i*c.w.vocab+j]
		}
		logitsOut[j] = sum
	}
	return nil
}

func (c *Context) Free() {
	c.freed.Store(true)
}

// fillRand fills dst with reproducible pseudo-random values in a small range
// around zero to avoid overflow in accumulations.
func fillRand(dst []float32, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = (rng.Float32() - 0.5) * 2
	}
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
