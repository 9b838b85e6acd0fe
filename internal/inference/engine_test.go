package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/samcharles93/ravel/internal/eval"
	"github.com/samcharles93/ravel/internal/pool"
	"github.com/samcharles93/ravel/internal/statecache"
	"github.com/samcharles93/ravel/internal/tokenizer"
	"github.com/samcharles93/ravel/internal/toy"
)

const (
	testHidden = 16
	testSeed   = 9
)

// capturingLib records the contexts it hands out so tests can reach the
// toy failure-injection hook behind the pool.
type capturingLib struct {
	toy.Library
	mu   sync.Mutex
	ctxs []*toy.Context
}

func (l *capturingLib) Init(path string, threads int) (eval.Context, error) {
	ec, err := l.Library.Init(path, threads)
	if err == nil {
		l.mu.Lock()
		l.ctxs = append(l.ctxs, ec.(*toy.Context))
		l.mu.Unlock()
	}
	return ec, err
}

func (l *capturingLib) Clone(primary eval.Context, threads int) (eval.Context, error) {
	ec, err := l.Library.Clone(primary, threads)
	if err == nil {
		l.mu.Lock()
		l.ctxs = append(l.ctxs, ec.(*toy.Context))
		l.mu.Unlock()
	}
	return ec, err
}

type testRig struct {
	engine *Engine
	cache  *statecache.Cache
	tok    *tokenizer.Vocab
	lib    *capturingLib
}

func newRig(t *testing.T, poolSize, cacheCap int, tok *tokenizer.Vocab) *testRig {
	t.Helper()
	lib := &capturingLib{Library: toy.Library{Vocab: tok.Size(), Hidden: testHidden, Seed: testSeed}}
	p, err := pool.New(lib, pool.Config{Size: poolSize})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	cache := statecache.New(cacheCap)
	return &testRig{
		engine: NewEngine(p, cache, tok, Config{}, nil),
		cache:  cache,
		tok:    tok,
		lib:    lib,
	}
}

func mergeVocab(t *testing.T) *tokenizer.Vocab {
	t.Helper()
	v, err := tokenizer.NewVocab([]string{"h", "e", "l", "o", "hello"})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// referenceNext evaluates tokens on a fresh toy context and returns the
// argmax continuation, independent of the engine under test.
func referenceNext(t *testing.T, vocabSize int, tokens []int) int {
	t.Helper()
	lib := toy.Library{Vocab: vocabSize, Hidden: testHidden, Seed: testSeed}
	ec, err := lib.Init("", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ec.Free()
	state := make([]float32, testHidden)
	lg := make([]float32, vocabSize)
	if err := ec.EvalSequence(tokens, nil, state, lg); err != nil {
		t.Fatal(err)
	}
	best := 0
	for i, v := range lg {
		if v > lg[best] {
			best = i
		}
	}
	return best
}

func mustComplete(t *testing.T, e *Engine, req *Request, stream StreamFunc) *Result {
	t.Helper()
	res, err := e.Complete(context.Background(), req, stream)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestValidation(t *testing.T) {
	rig := newRig(t, 1, 0, mergeVocab(t))

	cases := []struct {
		name string
		req  *Request
	}{
		{"nil request", nil},
		{"empty prompt", &Request{}},
		{"negative max_tokens", &Request{Prompt: "hello", MaxTokens: -1}},
		{"negative top_p", &Request{Prompt: "hello", MaxTokens: 1, TopP: -0.5}},
		{"empty stop entry", &Request{Prompt: "hello", MaxTokens: 1, Stop: []string{""}}},
		{"unencodable prompt", &Request{Prompt: "hz", MaxTokens: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.engine.Complete(context.Background(), tc.req, nil)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGreedySingleToken(t *testing.T) {
	tok := tokenizer.ByteVocab()
	rig := newRig(t, 1, 0, tok)

	prompt := "Hello"
	res := mustComplete(t, rig.engine, &Request{Prompt: prompt, MaxTokens: 1}, nil)

	promptIDs, err := tok.Encode(prompt)
	if err != nil {
		t.Fatal(err)
	}
	want, err := tok.Decode([]int{referenceNext(t, tok.Size(), promptIDs)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != want {
		t.Fatalf("text = %q, want argmax continuation %q", res.Text, want)
	}
	if res.Usage.PromptTokens != len(promptIDs) || res.Usage.PromptTokensCached != 0 {
		t.Fatalf("usage = %+v", res.Usage)
	}
	if res.Usage.CompletionTokens != 1 {
		t.Fatalf("completion tokens = %d", res.Usage.CompletionTokens)
	}

	again := mustComplete(t, rig.engine, &Request{Prompt: prompt, MaxTokens: 1}, nil)
	if again.Text != res.Text {
		t.Fatalf("greedy generation not deterministic: %q vs %q", again.Text, res.Text)
	}
}

func TestStreamMatchesResult(t *testing.T) {
	rig := newRig(t, 1, 0, tokenizer.ByteVocab())

	var got strings.Builder
	res := mustComplete(t, rig.engine, &Request{Prompt: "stream me", MaxTokens: 8}, func(chunk string) {
		got.WriteString(chunk)
	})
	if got.String() != res.Text {
		t.Fatalf("streamed %q, result %q", got.String(), res.Text)
	}
	if res.Usage.CompletionTokens != 8 {
		t.Fatalf("completion tokens = %d", res.Usage.CompletionTokens)
	}
}

func TestStopSequence(t *testing.T) {
	tok := tokenizer.ByteVocab()
	full := mustComplete(t, newRig(t, 1, 0, tok).engine, &Request{Prompt: "once upon", MaxTokens: 10}, nil)
	if len(full.Text) < 6 {
		t.Fatalf("unexpectedly short generation %q", full.Text)
	}
	stop := full.Text[3:5]
	wantIdx := strings.Index(full.Text, stop)

	var chunks []string
	rig := newRig(t, 1, 0, tok)
	res := mustComplete(t, rig.engine, &Request{
		Prompt:    "once upon",
		MaxTokens: 10,
		Stop:      []string{stop},
	}, func(chunk string) {
		chunks = append(chunks, chunk)
	})

	if res.StopSequence != stop {
		t.Fatalf("stop sequence = %q, want %q", res.StopSequence, stop)
	}
	if want := full.Text[:wantIdx]; res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
	if strings.Contains(res.Text, stop) {
		t.Fatalf("result %q contains stop %q", res.Text, stop)
	}
	streamed := strings.Join(chunks, "")
	if streamed != res.Text {
		t.Fatalf("streamed %q, result %q", streamed, res.Text)
	}
	for _, c := range chunks {
		if strings.Contains(c, stop) {
			t.Fatalf("chunk %q contains stop %q", c, stop)
		}
	}
}

func TestPrewarm(t *testing.T) {
	rig := newRig(t, 1, 8, tokenizer.ByteVocab())

	res := mustComplete(t, rig.engine, &Request{Prompt: "Hello"}, nil)
	if res.Text != "" || res.Usage.CompletionTokens != 0 {
		t.Fatalf("prewarm emitted output: %+v", res)
	}
	if res.Usage.PromptTokensCached != 0 {
		t.Fatalf("first prewarm reported cached tokens: %+v", res.Usage)
	}
	if rig.cache.Len() != 1 {
		t.Fatalf("cache len = %d after prewarm", rig.cache.Len())
	}

	// Re-warming the same prompt is a full hit and evaluates nothing new.
	again := mustComplete(t, rig.engine, &Request{Prompt: "Hello"}, nil)
	if again.Usage.PromptTokensCached != again.Usage.PromptTokens {
		t.Fatalf("second prewarm usage = %+v", again.Usage)
	}
	if rig.cache.Len() != 1 {
		t.Fatalf("cache len = %d after re-warm", rig.cache.Len())
	}
}

// A cache hit must change only timings and usage counters, never the text.
func TestCacheTransparency(t *testing.T) {
	tok := tokenizer.ByteVocab()
	req := &Request{Prompt: "Hello world", MaxTokens: 6}

	baseline := mustComplete(t, newRig(t, 1, 0, tok).engine, req, nil)

	rig := newRig(t, 1, 8, tok)
	mustComplete(t, rig.engine, &Request{Prompt: "Hello"}, nil) // pre-warm the prefix

	res := mustComplete(t, rig.engine, req, nil)
	if res.Text != baseline.Text {
		t.Fatalf("cached run produced %q, uncached %q", res.Text, baseline.Text)
	}
	if res.Usage.PromptTokensCached == 0 || res.Usage.PromptTokensCached >= res.Usage.PromptTokens {
		t.Fatalf("expected partial prefix hit, usage = %+v", res.Usage)
	}
	if res.Usage.PromptTokensCached != len("Hello") {
		t.Fatalf("cached tokens = %d, want %d", res.Usage.PromptTokensCached, len("Hello"))
	}
}

// A string-prefix hit whose token sequence does not survive re-tokenization
// must be ignored.
func TestTokenValidationGuard(t *testing.T) {
	tok := mergeVocab(t)
	baseline := mustComplete(t, newRig(t, 1, 0, tok).engine, &Request{Prompt: "hello", MaxTokens: 3}, nil)

	rig := newRig(t, 1, 8, tok)
	mustComplete(t, rig.engine, &Request{Prompt: "h"}, nil)
	if rig.cache.Len() != 1 {
		t.Fatalf("cache len = %d", rig.cache.Len())
	}

	// "h" is a string prefix of "hello", but "hello" tokenizes to the
	// merged token, not ["h", ...]. The cached state must not be reused.
	res := mustComplete(t, rig.engine, &Request{Prompt: "hello", MaxTokens: 3}, nil)
	if res.Usage.PromptTokensCached != 0 {
		t.Fatalf("reused incompatible cached tokens: %+v", res.Usage)
	}
	if res.Text != baseline.Text {
		t.Fatalf("text = %q, want %q", res.Text, baseline.Text)
	}
}

func TestWriteBackLagsBehindTip(t *testing.T) {
	tok := tokenizer.ByteVocab()

	// Too few generated tokens: nothing is stable enough to memoize.
	rig := newRig(t, 1, 8, tok)
	mustComplete(t, rig.engine, &Request{Prompt: "tip", MaxTokens: 2}, nil)
	if rig.cache.Len() != 0 {
		t.Fatalf("cache len = %d after short generation", rig.cache.Len())
	}

	// Longer generation writes back exactly one lagged entry.
	res := mustComplete(t, rig.engine, &Request{Prompt: "tip", MaxTokens: 6}, nil)
	if rig.cache.Len() != 1 {
		t.Fatalf("cache len = %d after long generation", rig.cache.Len())
	}
	entry, ok := rig.cache.Lookup("tip" + res.Text)
	if !ok {
		t.Fatal("expected a write-back entry prefixing prompt+output")
	}
	if !strings.HasPrefix("tip"+res.Text, entry.Prompt) || entry.Prompt == "tip"+res.Text {
		t.Fatalf("write-back key %q should lag behind the full output", entry.Prompt)
	}

	// A follow-up extending the conversation resumes from the lagged entry.
	next := mustComplete(t, rig.engine, &Request{Prompt: "tip" + res.Text, MaxTokens: 2}, nil)
	if next.Usage.PromptTokensCached == 0 {
		t.Fatalf("follow-up missed the write-back: %+v", next.Usage)
	}
}

func TestInitStateBypassesCache(t *testing.T) {
	tok := tokenizer.ByteVocab()

	baseline := mustComplete(t, newRig(t, 1, 0, tok).engine, &Request{Prompt: "Hello world", MaxTokens: 2}, nil)

	// Compute the state after "Hello" directly, then resume from it.
	lib := toy.Library{Vocab: tok.Size(), Hidden: testHidden, Seed: testSeed}
	ec, err := lib.Init("", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ec.Free()
	ids, err := tok.Encode("Hello")
	if err != nil {
		t.Fatal(err)
	}
	state := make([]float32, testHidden)
	lg := make([]float32, tok.Size())
	if err := ec.EvalSequence(ids, nil, state, lg); err != nil {
		t.Fatal(err)
	}

	rig := newRig(t, 1, 8, tok)
	res := mustComplete(t, rig.engine, &Request{Prompt: " world", MaxTokens: 2, InitState: state}, nil)
	if res.Text != baseline.Text {
		t.Fatalf("resumed text = %q, want %q", res.Text, baseline.Text)
	}
	if res.Usage.PromptTokensCached != 0 {
		t.Fatalf("InitState request consulted the cache: %+v", res.Usage)
	}
	if rig.cache.Len() != 0 {
		t.Fatalf("InitState request wrote to the cache, len = %d", rig.cache.Len())
	}
}

func TestEvalFailureDiscardsRequest(t *testing.T) {
	rig := newRig(t, 1, 8, tokenizer.ByteVocab())

	rig.lib.ctxs[0].FailNext()
	_, err := rig.engine.Complete(context.Background(), &Request{Prompt: "Hello", MaxTokens: 4}, nil)
	if !errors.Is(err, eval.ErrEval) {
		t.Fatalf("expected eval error, got %v", err)
	}
	if rig.cache.Len() != 0 {
		t.Fatalf("failed request left a cache entry, len = %d", rig.cache.Len())
	}

	// The failure is fatal for that request only.
	if _, err := rig.engine.Complete(context.Background(), &Request{Prompt: "Hello", MaxTokens: 4}, nil); err != nil {
		t.Fatalf("engine unusable after per-request failure: %v", err)
	}
}

func TestConcurrentCompletionsAgree(t *testing.T) {
	tok := tokenizer.ByteVocab()
	req := &Request{Prompt: "concurrent", MaxTokens: 5}
	baseline := mustComplete(t, newRig(t, 1, 0, tok).engine, req, nil)

	rig := newRig(t, 2, 8, tok)
	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := *req
			res, err := rig.engine.Complete(context.Background(), &r, nil)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res.Text
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if results[i] != baseline.Text {
			t.Fatalf("request %d produced %q, want %q", i, results[i], baseline.Text)
		}
	}
}

func TestResolveRequest(t *testing.T) {
	req := ResolveRequest(RequestOptions{Prompt: "hi"})
	if req.MaxTokens != DefaultMaxTokens || req.Temperature != DefaultTemperature || req.TopP != DefaultTopP {
		t.Fatalf("defaults not applied: %+v", req)
	}

	maxTokens, temp, topP, seed := 0, 0.0, 0.5, int64(42)
	req = ResolveRequest(RequestOptions{
		Prompt:      "hi",
		MaxTokens:   &maxTokens,
		Temperature: &temp,
		TopP:        &topP,
		Seed:        &seed,
		Stop:        []string{"\n"},
	})
	if req.MaxTokens != 0 || req.Temperature != 0 || req.TopP != 0.5 || req.Seed != 42 || len(req.Stop) != 1 {
		t.Fatalf("overrides not applied: %+v", req)
	}
}
