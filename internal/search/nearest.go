package search

import (
	"gopac/domain/anchor"
	"gopac/domain/core"
	"gopac/internal/primes"
)

// DefaultBound is the largest distance examined before giving up. Observed
// prime gaps below 2^64 are under 1600, so reaching it signals a defect.
const DefaultBound = 3000

// Searcher finds the prime nearest to an anchor, excluding the anchor's own
// two primes. It is stateless and safe for concurrent use.
type Searcher struct {
	bound uint64
}

// NewSearcher creates a searcher; a zero bound selects DefaultBound.
func NewSearcher(bound uint64) *Searcher {
	if bound == 0 {
		bound = DefaultBound
	}
	return &Searcher{bound: bound}
}

// Bound returns the configured search bound.
func (s *Searcher) Bound() uint64 {
	return s.bound
}

// Nearest expands d = 1, 2, ... testing S-d before S+d. When both qualify at
// the same d the lower prime is returned with Symmetric set.
func (s *Searcher) Nearest(a anchor.Point) (anchor.NearestPrime, error) {
	for d := uint64(1); d <= s.bound; d++ {
		below := false
		if d < a.Sum {
			below = s.qualifies(a, a.Sum-d)
		}

		hi := a.Sum + d
		if hi < a.Sum {
			return anchor.NearestPrime{}, core.NewOverflowError("add", a.Sum, d)
		}
		above := s.qualifies(a, hi)

		switch {
		case below:
			return anchor.NearestPrime{Prime: a.Sum - d, Distance: d, Symmetric: above}, nil
		case above:
			return anchor.NearestPrime{Prime: hi, Distance: d}, nil
		}
	}
	return anchor.NearestPrime{}, core.NewSearchExhaustedError(a.Index, a.Sum, s.bound)
}

func (s *Searcher) qualifies(a anchor.Point, v uint64) bool {
	return !a.Excludes(v) && primes.IsPrime(v)
}

// Classify maps k_min to its outcome.
func Classify(k uint64) anchor.Outcome {
	switch {
	case k == 1:
		return anchor.OutcomeUnit
	case primes.IsPrime(k):
		return anchor.OutcomePrime
	default:
		return anchor.OutcomeComposite
	}
}
