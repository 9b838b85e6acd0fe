// Package logits draws tokens from evaluator logits vectors.
package logits

import (
	"math"
	"math/rand"
	"sort"
)

// Candidate is one vocabulary entry ranked by probability.
type Candidate struct {
	Token int
	Prob  float64
}

// Choice is the result of one sampling step.
type Choice struct {
	Token int
	// Candidates is the shortlist the draw was made from, ordered by
	// descending probability. For greedy decoding it holds the single
	// arg-max entry.
	Candidates []Candidate
}

type Sampler struct {
	rng  *rand.Rand
	rank []Candidate
	prob []float64
}

// NewSampler returns a sampler seeded for reproducible draws. The same seed,
// logits and parameters always yield the same token.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample draws one token from logits.
//
//  1. Temperature <= 0 means arg-max: the distribution is bypassed entirely.
//  2. Otherwise logits are scaled by the inverse temperature and softmaxed
//     with a max subtraction for numerical stability.
//  3. If topP < 1 the candidates, sorted by descending probability, are cut
//     at the first point cumulative mass reaches topP.
//  4. A uniform draw selects from the remaining mass. An empty shortlist
//     falls back to the single highest-probability token.
func (s *Sampler) Sample(logits []float32, temperature, topP float32) Choice {
	if len(logits) == 0 {
		return Choice{}
	}

	if temperature <= 0 {
		best := argmax(logits)
		return Choice{Token: best, Candidates: []Candidate{{Token: best, Prob: 1}}}
	}

	invTemp := float64(1) / float64(temperature)

	maxv := float64(logits[0]) * invTemp
	for _, l := range logits[1:] {
		if v := float64(l) * invTemp; v > maxv {
			maxv = v
		}
	}

	if cap(s.prob) < len(logits) {
		s.prob = make([]float64, len(logits))
	}
	prob := s.prob[:len(logits)]
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l)*invTemp - maxv)
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		best := argmax(logits)
		return Choice{Token: best, Candidates: []Candidate{{Token: best, Prob: 1}}}
	}

	if cap(s.rank) < len(logits) {
		s.rank = make([]Candidate, len(logits))
	}
	rank := s.rank[:len(logits)]
	invSum := 1 / sum
	for i := range prob {
		rank[i] = Candidate{Token: i, Prob: prob[i] * invSum}
	}
	sort.Slice(rank, func(i, j int) bool { return rank[i].Prob > rank[j].Prob })

	cut := len(rank)
	if topP < 1 {
		var c float64
		for i := range rank {
			c += rank[i].Prob
			if float32(c) >= topP {
				cut = i + 1
				break
			}
		}
	}
	if cut == 0 {
		cut = 1
	}
	shortlist := rank[:cut]

	var mass float64
	for i := range shortlist {
		mass += shortlist[i].Prob
	}
	if mass <= 0 {
		return Choice{Token: shortlist[0].Token, Candidates: copyCandidates(shortlist)}
	}

	r := s.rng.Float64() * mass
	var c float64
	for i := range shortlist {
		c += shortlist[i].Prob
		if r <= c {
			return Choice{Token: shortlist[i].Token, Candidates: copyCandidates(shortlist)}
		}
	}
	return Choice{Token: shortlist[cut-1].Token, Candidates: copyCandidates(shortlist)}
}

func copyCandidates(src []Candidate) []Candidate {
	return append([]Candidate(nil), src...)
}

// argmax returns the index of the maximum value in the slice.
func argmax(x []float32) int {
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
