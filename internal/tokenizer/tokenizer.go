// Package tokenizer converts text to and from token id sequences. The codec
// is deterministic and order-preserving but NOT prefix-stable: appending text
// to a prompt may merge its trailing characters into different tokens. The
// state cache depends on that distinction, so it validates token sequences
// rather than trusting string prefixes.
package tokenizer

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Tokenizer is the minimal encode/decode contract the engine consumes.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Vocab is a greedy longest-match tokenizer over a fixed token list. At each
// position the longest vocabulary entry matching the remaining text wins;
// merged entries ("hello") therefore shadow their single-character pieces
// once enough text is present.
type Vocab struct {
	tokens []string
	index  map[string]int
	maxLen int
}

// NewVocab builds a Vocab from an ordered token list. Token ids are list
// positions. Empty and duplicate tokens are rejected.
func NewVocab(tokens []string) (*Vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokenizer: empty vocabulary")
	}
	v := &Vocab{
		tokens: append([]string(nil), tokens...),
		index:  make(map[string]int, len(tokens)),
	}
	for i, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("tokenizer: empty token at id %d", i)
		}
		if _, dup := v.index[tok]; dup {
			return nil, fmt.Errorf("tokenizer: duplicate token %q", tok)
		}
		v.index[tok] = i
		if len(tok) > v.maxLen {
			v.maxLen = len(tok)
		}
	}
	return v, nil
}

// LoadVocab reads a JSON array of token strings.
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: read vocab: %w", err)
	}
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("tokenizer: parse vocab: %w", err)
	}
	return NewVocab(tokens)
}

// ByteVocab returns a vocabulary of the 256 single-byte tokens, id == byte
// value. Every input round-trips; nothing ever merges.
func ByteVocab() *Vocab {
	tokens := make([]string, 256)
	for i := range tokens {
		tokens[i] = string([]byte{byte(i)})
	}
	v, err := NewVocab(tokens)
	if err != nil {
		panic(err)
	}
	return v
}

// Size reports the vocabulary size.
func (v *Vocab) Size() int { return len(v.tokens) }

func (v *Vocab) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for pos := 0; pos < len(text); {
		end := pos + v.maxLen
		if end > len(text) {
			end = len(text)
		}
		matched := false
		for n := end; n > pos; n-- {
			if id, ok := v.index[text[pos:n]]; ok {
				ids = append(ids, id)
				pos = n
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("tokenizer: no token for input at offset %d", pos)
		}
	}
	return ids, nil
}

func (v *Vocab) Decode(ids []int) (string, error) {
	var size int
	for _, id := range ids {
		if id < 0 || id >= len(v.tokens) {
			return "", fmt.Errorf("tokenizer: token id %d out of range", id)
		}
		size += len(v.tokens[id])
	}
	buf := make([]byte, 0, size)
	for _, id := range ids {
		buf = append(buf, v.tokens[id]...)
	}
	return string(buf), nil
}
