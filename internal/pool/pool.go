// Package pool distributes generation work across a fixed set of evaluator
// contexts. The native evaluator is not reentrant per context, so each lane
// pairs one context with a single-slot FIFO queue and a dedicated goroutine;
// correctness rests on that one-task-at-a-time discipline, not on tuning.
//
// Admission goes through a shared funnel of capacity 2x the lane count. The
// funnel provides backpressure; the per-lane queues keep one oversized
// request from starving jobs queued behind other lanes.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/ravel/internal/eval"
	"github.com/samcharles93/ravel/internal/logger"
)

// ErrClosed is returned by Do after Close has begun.
var ErrClosed = errors.New("pool: closed")

// Config describes the pool to build.
type Config struct {
	ModelPath string
	// Size is the number of evaluation lanes. Lane 0 owns the primary
	// context; the rest own weight-sharing clones. Minimum 1.
	Size int
	// Threads per evaluator context.
	Threads int
	// GPULayers is forwarded to Context.OffloadLayers on every lane.
	// Best effort: failures are logged and ignored.
	GPULayers int
	Log       logger.Logger
}

type task struct {
	fn   func(eval.Context) error
	done chan error
}

type lane struct {
	id      int
	ctx     eval.Context
	tasks   chan task
	pending atomic.Int64
}

// Pool is a fixed-size set of evaluation lanes behind a shared admission
// funnel. Raw evaluator contexts never leave the pool; callers hand Do a
// closure that runs on whichever lane the dispatcher picks.
type Pool struct {
	lanes  []*lane
	funnel *semaphore.Weighted
	log    logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New loads the primary evaluator context and Size-1 weight-sharing clones,
// then starts one worker goroutine per lane.
func New(lib eval.Library, cfg Config) (*Pool, error) {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	log := cfg.Log
	if log == nil {
		log = logger.Default()
	}

	primary, err := lib.Init(cfg.ModelPath, cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("init evaluator: %w", err)
	}
	contexts := []eval.Context{primary}
	for i := 1; i < cfg.Size; i++ {
		clone, err := lib.Clone(primary, cfg.Threads)
		if err != nil {
			freeAll(contexts)
			return nil, fmt.Errorf("clone evaluator for lane %d: %w", i, err)
		}
		contexts = append(contexts, clone)
	}

	if cfg.GPULayers > 0 {
		for i, ec := range contexts {
			if err := ec.OffloadLayers(cfg.GPULayers); err != nil {
				log.Warn("gpu offload failed", "lane", i, "layers", cfg.GPULayers, "error", err)
			}
		}
	}

	p := &Pool{
		funnel: semaphore.NewWeighted(int64(2 * cfg.Size)),
		log:    log,
	}
	for i, ec := range contexts {
		ln := &lane{id: i, ctx: ec, tasks: make(chan task, 1)}
		p.lanes = append(p.lanes, ln)
		p.wg.Add(1)
		go p.work(ln)
	}
	log.Info("evaluator pool ready", "lanes", cfg.Size, "threads", cfg.Threads)
	return p, nil
}

func (p *Pool) work(ln *lane) {
	defer p.wg.Done()
	for t := range ln.tasks {
		err := t.fn(ln.ctx)
		ln.pending.Add(-1)
		t.done <- err
	}
}

// Do runs fn on the least-loaded lane's context, in FIFO order relative to
// that lane. It blocks while the admission funnel is full; ctx only covers
// admission — once the task is queued it runs to completion or failure.
func (p *Pool) Do(ctx context.Context, fn func(eval.Context) error) error {
	if err := p.funnel.Acquire(ctx, 1); err != nil {
		return err
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.funnel.Release(1)
		return ErrClosed
	}

	ln := p.pick()
	ln.pending.Add(1)
	t := task{fn: fn, done: make(chan error, 1)}

	select {
	case ln.tasks <- t:
		p.mu.RUnlock()
		p.funnel.Release(1)
	case <-ctx.Done():
		p.mu.RUnlock()
		ln.pending.Add(-1)
		p.funnel.Release(1)
		return ctx.Err()
	}

	return <-t.done
}

// pick returns the lane with the fewest queued-plus-running tasks, ties
// broken by lowest lane index. Load counts are advisory only.
func (p *Pool) pick() *lane {
	best := p.lanes[0]
	bestLoad := best.pending.Load()
	for _, ln := range p.lanes[1:] {
		if load := ln.pending.Load(); load < bestLoad {
			best, bestLoad = ln, load
		}
	}
	return best
}

// Size reports the number of lanes.
func (p *Pool) Size() int { return len(p.lanes) }

// Depths reports each lane's queued-plus-running task count.
func (p *Pool) Depths() []int {
	depths := make([]int, len(p.lanes))
	for i, ln := range p.lanes {
		depths[i] = int(ln.pending.Load())
	}
	return depths
}

// StateLen reports the evaluator's hidden state vector length.
func (p *Pool) StateLen() int { return p.lanes[0].ctx.StateLen() }

// LogitsLen reports the evaluator's logits vector length.
func (p *Pool) LogitsLen() int { return p.lanes[0].ctx.LogitsLen() }

// Close stops admission, drains every lane, and frees the contexts. Clones
// are freed before the primary they share weights with.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for _, ln := range p.lanes {
		close(ln.tasks)
	}
	p.wg.Wait()

	for i := len(p.lanes) - 1; i >= 0; i-- {
		p.lanes[i].ctx.Free()
	}
	p.log.Info("evaluator pool closed")
}

func freeAll(contexts []eval.Context) {
	for i := len(contexts) - 1; i >= 0; i-- {
		contexts[i].Free()
	}
}
