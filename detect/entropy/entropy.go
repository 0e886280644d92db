package entropy

import (
	"math"
	"sync"
)

// DefaultHMax is the reference entropy ceiling in bits. It is a practical
// ceiling rather than log2(distinct sources): the distinct-source count is
// attacker-controlled, so using it as the denominator would let an attacker
// inflate it and flatten their own anomaly score.
const DefaultHMax = 8.0

// Snapshot is the derived result of scoring one traffic distribution.
// It lives for a single evaluation tick and is never persisted.
type Snapshot struct {
	Total        int     `json:"total_events"`
	Sources      int     `json:"sources"`
	Entropy      float64 `json:"entropy"`
	AnomalyScore float64 `json:"anomaly_score"`
}

// Scorer computes a normalized anomaly score from the Shannon entropy of a
// source distribution. Low entropy means traffic concentrated on few
// sources, the classic flood signature, and maps to a high score.
// Safe for concurrent use: the ceiling may be swapped by a config reload
// while the evaluation tick is scoring.
type Scorer struct {
	mu   sync.RWMutex
	hMax float64
}

// NewScorer creates a scorer with the given entropy ceiling. Non-positive
// values fall back to DefaultHMax.
func NewScorer(hMax float64) *Scorer {
	if hMax <= 0 {
		hMax = DefaultHMax
	}
	return &Scorer{hMax: hMax}
}

// HMax returns the configured reference ceiling.
func (s *Scorer) HMax() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hMax
}

// SetHMax replaces the ceiling. Used by config hot reload; non-positive
// values are ignored.
func (s *Scorer) SetHMax(hMax float64) {
	if hMax <= 0 {
		return
	}
	s.mu.Lock()
	s.hMax = hMax
	s.mu.Unlock()
}

// Score computes Shannon entropy over all sources with count > 0 and the
// normalized anomaly score clamp(1 - min(H, HMax)/HMax, 0, 1).
//
// A zero-total distribution is not an error: no traffic means no anomaly,
// so entropy and score are both defined as 0.
func (s *Scorer) Score(dist map[string]int) Snapshot {
	hMax := s.HMax()

	total := 0
	sources := 0
	for _, n := range dist {
		if n > 0 {
			total += n
			sources++
		}
	}
	if total == 0 {
		return Snapshot{}
	}

	h := 0.0
	for _, n := range dist {
		if n <= 0 {
			continue // zero-probability terms contribute 0, never NaN
		}
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}

	score := 1 - math.Min(h, hMax)/hMax
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}

	return Snapshot{
		Total:        total,
		Sources:      sources,
		Entropy:      h,
		AnomalyScore: score,
	}
}
