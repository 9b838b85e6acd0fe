// Package statecache memoizes evaluator hidden state across prompts. Repeated
// conversations share a common opening, so the cache is keyed by prompt text
// and looked up by longest literal prefix.
//
// A string prefix alone is not enough for correctness: tokenization is not
// prefix-stable, so every hit must also be validated token-for-token against
// the query's fresh tokenization before its state is trusted. That check
// belongs to the caller (it owns the tokenizer); TokenPrefixOf implements it.
package statecache

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the entry bound used when callers pass no explicit one.
const DefaultCapacity = 50

// Entry is one memoized prompt: its text, the exact token sequence it was
// computed from, and the evaluator's state and logits after consuming those
// tokens. Entries are immutable once stored; consumers must copy the vectors
// before handing them to the evaluator as mutable buffers.
type Entry struct {
	Prompt string
	Tokens []int
	State  []float32
	Logits []float32
}

// TokenPrefixOf reports whether the entry's token sequence matches the head
// of tokens exactly. A mismatch means the candidate is stale for this query
// and must be treated as a miss.
func (e *Entry) TokenPrefixOf(tokens []int) bool {
	if len(e.Tokens) > len(tokens) {
		return false
	}
	for i, id := range e.Tokens {
		if tokens[i] != id {
			return false
		}
	}
	return true
}

// StateCopy returns a private copy of the hidden state vector.
func (e *Entry) StateCopy() []float32 {
	return append([]float32(nil), e.State...)
}

// LogitsCopy returns a private copy of the logits vector.
func (e *Entry) LogitsCopy() []float32 {
	return append([]float32(nil), e.Logits...)
}

// Cache is an LRU of prompt entries, safe for concurrent use. A nil or
// zero-capacity cache is valid and treats every operation as a no-op miss.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *Entry]
}

// New builds a cache bounded to capacity entries. capacity <= 0 disables
// caching entirely.
func New(capacity int) *Cache {
	c := &Cache{}
	if capacity > 0 {
		// Error only fires for non-positive sizes, which we just excluded.
		c.lru, _ = lru.New[string, *Entry](capacity)
	}
	return c
}

// Enabled reports whether the cache stores anything at all.
func (c *Cache) Enabled() bool {
	return c != nil && c.lru != nil
}

// Lookup returns the entry whose prompt is the longest literal prefix of
// prompt, touching its recency. The caller still has to token-validate the
// candidate before using it.
func (c *Cache) Lookup(prompt string) (*Entry, bool) {
	if !c.Enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	best := ""
	found := false
	for _, key := range c.lru.Keys() {
		if !strings.HasPrefix(prompt, key) {
			continue
		}
		if !found || len(key) > len(best) {
			best = key
			found = true
		}
	}
	if !found {
		return nil, false
	}
	// Get marks the entry recently used. A racing eviction is a plain miss.
	entry, ok := c.lru.Get(best)
	return entry, ok
}

// Put stores a new entry for prompt. This is the only insertion path; the
// vectors and token slice are copied so the entry owns its data.
func (c *Cache) Put(prompt string, tokens []int, state, logits []float32) {
	if !c.Enabled() {
		return
	}
	entry := &Entry{
		Prompt: prompt,
		Tokens: append([]int(nil), tokens...),
		State:  append([]float32(nil), state...),
		Logits: append([]float32(nil), logits...),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(prompt, entry)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	if !c.Enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
