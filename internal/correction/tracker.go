package correction

import (
	"sort"

	"gopac/domain/anchor"
	"gopac/internal/primes"
)

// Lookup returns the anchor with the given index if it is available.
type Lookup func(index uint64) (anchor.Point, bool)

// Find returns the closest neighbouring anchor S_{n±r}, r in 1..radius, whose
// distance to q is clean. S_{n-r} is tried before S_{n+r}. It returns nil when
// no neighbour within the radius repairs the failure.
func Find(failing anchor.Point, q, radius uint64, at Lookup) *anchor.Fix {
	for r := uint64(1); r <= radius; r++ {
		if r < failing.Index {
			if fix := tryNeighbour(failing.Index-r, r, q, at); fix != nil {
				return fix
			}
		}
		if fix := tryNeighbour(failing.Index+r, r, q, at); fix != nil {
			return fix
		}
	}
	return nil
}

func tryNeighbour(index, r, q uint64, at Lookup) *anchor.Fix {
	nb, ok := at(index)
	if !ok {
		return nil
	}
	if primes.IsClean(absDiff(nb.Sum, q)) {
		return &anchor.Fix{Radius: r, Sum: nb.Sum, Index: nb.Index}
	}
	return nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Stats accumulates fix radii over failures applied in index order.
type Stats struct {
	radius      uint64
	moduli      []uint64
	failures    uint64
	fixed       uint64
	maxRadius   uint64
	histogram   map[uint64]uint64
	classes     map[classKey]*ClassRadius
	transitions map[transitionKey]uint64
	unfixed     []Unfixed
}

type classKey struct{ modulus, residue uint64 }

type transitionKey struct{ modulus, residue, fixResidue uint64 }

// NewStats creates an empty accumulator.
func NewStats(radius uint64, moduli []uint64) *Stats {
	return &Stats{
		radius:      radius,
		moduli:      append([]uint64(nil), moduli...),
		histogram:   make(map[uint64]uint64),
		classes:     make(map[classKey]*ClassRadius),
		transitions: make(map[transitionKey]uint64),
	}
}

// Record adds one failure.
func (s *Stats) Record(rec anchor.FailureRecord) {
	s.failures++
	if rec.Fix == nil {
		s.unfixed = append(s.unfixed, Unfixed{
			Index: rec.Anchor.Index,
			Sum:   rec.Anchor.Sum,
			Q:     rec.Nearest.Prime,
			K:     rec.Nearest.Distance,
		})
		return
	}

	s.fixed++
	s.histogram[rec.Fix.Radius]++
	if rec.Fix.Radius > s.maxRadius {
		s.maxRadius = rec.Fix.Radius
	}
	for _, sig := range rec.Signatures {
		ck := classKey{sig.Modulus, sig.Residue}
		c, ok := s.classes[ck]
		if !ok {
			c = &ClassRadius{Modulus: sig.Modulus, Residue: sig.Residue}
			s.classes[ck] = c
		}
		c.Fixed++
		c.RadiusSum += rec.Fix.Radius
		s.transitions[transitionKey{sig.Modulus, sig.Residue, rec.Fix.Sum % sig.Modulus}]++
	}
}

// Summary is the finalized, deterministically ordered view of Stats.
type Summary struct {
	Radius      uint64        `json:"radius"`
	Failures    uint64        `json:"failures"`
	Fixed       uint64        `json:"fixed"`
	MaxRadius   uint64        `json:"max_radius"`
	Histogram   []RadiusCount `json:"histogram"`
	Classes     []ClassRadius `json:"classes"`
	Transitions []Transition  `json:"transitions"`
	Unfixed     []Unfixed     `json:"unfixed"`
}

// RadiusCount is the number of failures fixed at exactly Radius.
type RadiusCount struct {
	Radius uint64 `json:"r"`
	Count  uint64 `json:"count"`
}

// ClassRadius sums fix radii for failures whose anchor is in one residue class.
type ClassRadius struct {
	Modulus   uint64 `json:"modulus"`
	Residue   uint64 `json:"residue"`
	Fixed     uint64 `json:"fixed"`
	RadiusSum uint64 `json:"radius_sum"`
}

// AverageRadius is RadiusSum/Fixed, or 0 for an empty class.
func (c ClassRadius) AverageRadius() float64 {
	if c.Fixed == 0 {
		return 0
	}
	return float64(c.RadiusSum) / float64(c.Fixed)
}

// Transition counts fixes where the failing anchor has Residue and the
// fixing anchor has FixResidue under Modulus.
type Transition struct {
	Modulus    uint64 `json:"modulus"`
	Residue    uint64 `json:"residue"`
	FixResidue uint64 `json:"fix_residue"`
	Count      uint64 `json:"count"`
}

// Unfixed is a failure no neighbour within the radius repairs.
type Unfixed struct {
	Index uint64 `json:"n"`
	Sum   uint64 `json:"s"`
	Q     uint64 `json:"q"`
	K     uint64 `json:"k"`
}

// Summary returns a sorted copy of the accumulated statistics.
func (s *Stats) Summary() *Summary {
	out := &Summary{
		Radius:      s.radius,
		Failures:    s.failures,
		Fixed:       s.fixed,
		MaxRadius:   s.maxRadius,
		Histogram:   make([]RadiusCount, 0, len(s.histogram)),
		Classes:     make([]ClassRadius, 0, len(s.classes)),
		Transitions: make([]Transition, 0, len(s.transitions)),
		Unfixed:     append([]Unfixed{}, s.unfixed...),
	}
	for r, n := range s.histogram {
		out.Histogram = append(out.Histogram, RadiusCount{Radius: r, Count: n})
	}
	sort.Slice(out.Histogram, func(i, j int) bool { return out.Histogram[i].Radius < out.Histogram[j].Radius })

	for _, c := range s.classes {
		out.Classes = append(out.Classes, *c)
	}
	rank := moduliRank(s.moduli)
	sort.Slice(out.Classes, func(i, j int) bool {
		a, b := out.Classes[i], out.Classes[j]
		if a.Modulus != b.Modulus {
			return rank[a.Modulus] < rank[b.Modulus]
		}
		return a.Residue < b.Residue
	})

	for k, n := range s.transitions {
		out.Transitions = append(out.Transitions, Transition{Modulus: k.modulus, Residue: k.residue, FixResidue: k.fixResidue, Count: n})
	}
	sort.Slice(out.Transitions, func(i, j int) bool {
		a, b := out.Transitions[i], out.Transitions[j]
		if a.Modulus != b.Modulus {
			return rank[a.Modulus] < rank[b.Modulus]
		}
		if a.Residue != b.Residue {
			return a.Residue < b.Residue
		}
		return a.FixResidue < b.FixResidue
	})
	return out
}

// RestoreStats rebuilds an accumulator from a summary.
func RestoreStats(moduli []uint64, sum *Summary) *Stats {
	s := NewStats(sum.Radius, moduli)
	s.failures = sum.Failures
	s.fixed = sum.Fixed
	s.maxRadius = sum.MaxRadius
	for _, h := range sum.Histogram {
		s.histogram[h.Radius] = h.Count
	}
	for _, c := range sum.Classes {
		c := c
		s.classes[classKey{c.Modulus, c.Residue}] = &c
	}
	for _, tr := range sum.Transitions {
		s.transitions[transitionKey{tr.Modulus, tr.Residue, tr.FixResidue}] = tr.Count
	}
	s.unfixed = append(s.unfixed, sum.Unfixed...)
	return s
}

func moduliRank(moduli []uint64) map[uint64]int {
	rank := make(map[uint64]int, len(moduli))
	for i, m := range moduli {
		rank[m] = i
	}
	return rank
}
