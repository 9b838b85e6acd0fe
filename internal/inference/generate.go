package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/ravel/internal/eval"
	"github.com/samcharles93/ravel/internal/logits"
	"github.com/samcharles93/ravel/internal/metrics"
)

// snapshot is one ring slot: the evaluator's state and logits after consuming
// the prompt plus the first len(tokens) generated tokens. Each slot owns its
// buffers; the evaluator overwrites output buffers in place, so slots are
// never aliased.
type snapshot struct {
	state  []float32
	logits []float32
	text   string
	tokens []int
}

// run executes one completion on the lane's evaluator context. It owns all
// mutable per-request state; nothing here is shared with other requests
// except the state cache, whose entries are immutable.
func (e *Engine) run(ec eval.Context, req *Request, promptTokens []int, stream StreamFunc) (*Result, error) {
	resolveStart := time.Now()

	stateLen, logitsLen := ec.StateLen(), ec.LogitsLen()
	state := make([]float32, stateLen)
	lg := make([]float32, logitsLen)

	var stateIn []float32 // nil is the zero state
	cachedTokens := 0
	useCache := e.cache.Enabled() && req.InitState == nil

	switch {
	case req.InitState != nil:
		stateIn = append([]float32(nil), req.InitState...)
	case useCache:
		// A string-prefix hit is only trusted if its token sequence still
		// matches the fresh tokenization; tokenization is not prefix-stable.
		if entry, ok := e.cache.Lookup(req.Prompt); ok && len(entry.Tokens) > 0 && entry.TokenPrefixOf(promptTokens) {
			copy(state, entry.State)
			copy(lg, entry.Logits)
			stateIn = state
			cachedTokens = len(entry.Tokens)
			metrics.CacheHits.Inc()
		} else {
			metrics.CacheMisses.Inc()
		}
	}

	remaining := promptTokens[cachedTokens:]
	for len(remaining) > 0 {
		n := e.cfg.PromptBatch
		if n > len(remaining) {
			n = len(remaining)
		}
		var err error
		if n == 1 {
			err = ec.EvalToken(remaining[0], stateIn, state, lg)
		} else {
			err = ec.EvalSequence(remaining[:n], stateIn, state, lg)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve prompt: %w", err)
		}
		stateIn = state
		remaining = remaining[n:]
	}

	res := &Result{
		Usage: Usage{
			PromptTokens:       len(promptTokens),
			PromptTokensCached: cachedTokens,
		},
	}
	res.Timings.PromptResolution = time.Since(resolveStart)

	if req.MaxTokens == 0 {
		// Pure pre-warm: memoize the prompt's end state, emit nothing.
		if useCache {
			e.cache.Put(req.Prompt, promptTokens, state, lg)
		}
		return res, nil
	}

	genStart := time.Now()

	depth := e.cfg.RingDepth
	ring := make([]snapshot, depth)
	for i := range ring {
		ring[i].state = make([]float32, stateLen)
		ring[i].logits = make([]float32, logitsLen)
	}
	copy(ring[0].state, state)
	copy(ring[0].logits, lg)
	cur := 0
	evals := 0

	sampler := logits.NewSampler(req.Seed)

	maxStop := 0
	for _, s := range req.Stop {
		if len(s) > maxStop {
			maxStop = len(s)
		}
	}

	outText := ""
	outTokens := make([]int, 0, req.MaxTokens)
	streamed := 0
	stopIdx := -1
	matchedStop := ""

	appendToken := func(tok int) error {
		piece, err := e.tok.Decode([]int{tok})
		if err != nil {
			return fmt.Errorf("decode token %d: %w", tok, err)
		}
		outTokens = append(outTokens, tok)
		outText += piece
		return nil
	}

	// checkStop scans the trailing window for any configured stop string.
	// The window is twice the longest stop so a stop split across the two
	// most recent tokens is still caught.
	checkStop := func() bool {
		if maxStop == 0 {
			return false
		}
		winStart := len(outText) - 2*maxStop
		if winStart < 0 {
			winStart = 0
		}
		for _, s := range req.Stop {
			if !strings.Contains(outText[winStart:], s) {
				continue
			}
			if idx := strings.Index(outText, s); stopIdx < 0 || idx < stopIdx {
				stopIdx = idx
				matchedStop = s
			}
		}
		return stopIdx >= 0
	}

	// flush emits text that is far enough from the tail to be outside any
	// partially matched stop sequence.
	flush := func() {
		if stream == nil {
			return
		}
		if safe := len(outText) - maxStop; safe > streamed {
			stream(outText[streamed:safe])
			streamed = safe
		}
	}

	choice := sampler.Sample(ring[cur].logits, req.Temperature, req.TopP)
	if err := appendToken(choice.Token); err != nil {
		return nil, err
	}
	stopped := checkStop()
	if !stopped {
		flush()
	}

	for i := 1; i < req.MaxTokens && !stopped; i++ {
		next := (cur + 1) % depth
		prev := outTokens[len(outTokens)-1]
		if err := ec.EvalToken(prev, ring[cur].state, ring[next].state, ring[next].logits); err != nil {
			return nil, fmt.Errorf("generate token %d: %w", i, err)
		}
		ring[next].text = outText
		ring[next].tokens = append(ring[next].tokens[:0], outTokens...)
		cur = next
		evals++

		choice = sampler.Sample(ring[cur].logits, req.Temperature, req.TopP)
		if err := appendToken(choice.Token); err != nil {
			return nil, err
		}
		if stopped = checkStop(); stopped {
			break
		}
		flush()
	}

	final := outText
	if stopIdx >= 0 {
		final = outText[:stopIdx]
		res.StopSequence = matchedStop
	}
	if stream != nil && len(final) > streamed {
		stream(final[streamed:])
	}

	genDur := time.Since(genStart)
	res.Text = final
	res.Usage.CompletionTokens = len(outTokens)
	res.Timings.Generation = genDur
	if secs := genDur.Seconds(); secs > 0 {
		res.Timings.TokensPerSecond = float64(len(outTokens)) / secs
	}

	// Write back the snapshot CacheLag steps behind the tip. Anything newer
	// may still merge into different tokens once more text follows it.
	if lag := e.cfg.CacheLag; useCache && evals >= lag {
		snap := &ring[((cur-lag)%depth+depth)%depth]
		key := req.Prompt + snap.text
		all := make([]int, 0, len(promptTokens)+len(snap.tokens))
		all = append(all, promptTokens...)
		all = append(all, snap.tokens...)
		e.cache.Put(key, all, snap.state, snap.logits)
	}

	return res, nil
}
