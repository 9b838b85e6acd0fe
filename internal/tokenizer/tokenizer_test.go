package tokenizer

import (
	"reflect"
	"testing"
)

func TestVocabRoundTrip(t *testing.T) {
	v, err := NewVocab([]string{"h", "e", "l", "o", " ", "he", "hello", "world"})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		text string
		want []int
	}{
		{"h", []int{0}},
		{"he", []int{5}},
		{"hello", []int{6}},
		{"hello world", []int{6, 4, 7}},
		{"hell", []int{5, 2, 2}},
	}
	for _, tc := range cases {
		ids, err := v.Encode(tc.text)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tc.text, err)
		}
		if !reflect.DeepEqual(ids, tc.want) {
			t.Fatalf("Encode(%q) = %v, want %v", tc.text, ids, tc.want)
		}
		back, err := v.Decode(ids)
		if err != nil {
			t.Fatalf("Decode(%v): %v", ids, err)
		}
		if back != tc.text {
			t.Fatalf("Decode(Encode(%q)) = %q", tc.text, back)
		}
	}
}

// Appending text can merge trailing characters into a different token
// sequence. The prompt cache's token validation exists because of this.
func TestVocabNotPrefixStable(t *testing.T) {
	v, err := NewVocab([]string{"h", "e", "l", "o", "he", "hello"})
	if err != nil {
		t.Fatal(err)
	}
	short, _ := v.Encode("h")
	long, _ := v.Encode("hello")
	if len(long) >= len(short) && reflect.DeepEqual(long[:len(short)], short) {
		t.Fatalf("expected %v to not be a token prefix of %v", short, long)
	}
}

func TestVocabRejectsBadInput(t *testing.T) {
	if _, err := NewVocab(nil); err == nil {
		t.Fatal("expected error for empty vocab")
	}
	if _, err := NewVocab([]string{"a", "a"}); err == nil {
		t.Fatal("expected error for duplicate token")
	}
	if _, err := NewVocab([]string{"a", ""}); err == nil {
		t.Fatal("expected error for empty token")
	}

	v, _ := NewVocab([]string{"a"})
	if _, err := v.Encode("ab"); err == nil {
		t.Fatal("expected error for unencodable input")
	}
	if _, err := v.Decode([]int{5}); err == nil {
		t.Fatal("expected error for out-of-range id")
	}
}

func TestByteVocab(t *testing.T) {
	v := ByteVocab()
	if v.Size() != 256 {
		t.Fatalf("size = %d, want 256", v.Size())
	}
	ids, err := v.Encode("Hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 5 || ids[0] != 'H' {
		t.Fatalf("unexpected encoding %v", ids)
	}
	s, err := v.Decode(ids)
	if err != nil || s != "Hello" {
		t.Fatalf("round trip failed: %q, %v", s, err)
	}
}
