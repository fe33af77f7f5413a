package aggregate

import (
	"sort"

	"gopac/domain/core"
	"gopac/internal/correction"
)

// Totals are run-wide counters.
type Totals struct {
	Anchors       uint64 `json:"anchors"`
	GapSum        uint64 `json:"gap_sum"`
	Unit          uint64 `json:"unit"`
	PrimeK        uint64 `json:"prime_k"`
	Failures      uint64 `json:"failures"`
	FailureGapSum uint64 `json:"failure_gap_sum"`
	Symmetric     uint64 `json:"symmetric"`
	MaxK          uint64 `json:"max_k"`
	MaxKIndex     uint64 `json:"max_k_n"`
	MaxGap        uint64 `json:"max_gap"`
	MaxGapIndex   uint64 `json:"max_gap_n"`
}

// Clean is the number of anchors whose k_min is 1 or prime.
func (t Totals) Clean() uint64 { return t.Unit + t.PrimeK }

// AverageGap is the mean prime gap over all anchors.
func (t Totals) AverageGap() float64 { return ratio(t.GapSum, t.Anchors) }

// AverageFailureGap is the mean prime gap over failing anchors.
func (t Totals) AverageFailureGap() float64 { return ratio(t.FailureGapSum, t.Failures) }

// FailureRate is the fraction of anchors that are Law I failures.
func (t Totals) FailureRate() float64 { return ratio(t.Failures, t.Anchors) }

// ResidueClass holds the counters for anchors with S ≡ Residue (mod Modulus).
type ResidueClass struct {
	Modulus       uint64 `json:"modulus"`
	Residue       uint64 `json:"residue"`
	Perfect       bool   `json:"perfect"`
	Anchors       uint64 `json:"anchors"`
	GapSum        uint64 `json:"gap_sum"`
	Failures      uint64 `json:"failures"`
	FailureGapSum uint64 `json:"failure_gap_sum"`
}

func (c ResidueClass) AverageGap() float64        { return ratio(c.GapSum, c.Anchors) }
func (c ResidueClass) AverageFailureGap() float64 { return ratio(c.FailureGapSum, c.Failures) }
func (c ResidueClass) FailureRate() float64       { return ratio(c.Failures, c.Anchors) }

// KEntry counts failures with k_min == K in one residue class.
type KEntry struct {
	Modulus uint64 `json:"modulus"`
	Residue uint64 `json:"residue"`
	K       uint64 `json:"k"`
	Count   uint64 `json:"count"`
}

// KStat aggregates failures with k_min == K across all residue classes.
type KStat struct {
	K      uint64 `json:"k"`
	Count  uint64 `json:"count"`
	GapSum uint64 `json:"gap_sum"`
}

func (k KStat) AverageGap() float64 { return ratio(k.GapSum, k.Count) }

// Violation is a perfect anchor whose composite k_min shares a prime with the
// modulus it is perfect under. A single violation falsifies the conjecture.
type Violation struct {
	Modulus      uint64   `json:"modulus"`
	Index        uint64   `json:"n"`
	Sum          uint64   `json:"s"`
	Q            uint64   `json:"q"`
	K            uint64   `json:"k"`
	Gap          uint64   `json:"g"`
	SharedPrimes []uint64 `json:"shared_primes"`
}

// Snapshot is the immutable result of a run, or of a run prefix when taken for
// a checkpoint. All slices are deterministically ordered.
type Snapshot struct {
	Moduli     []uint64            `json:"moduli"`
	FirstIndex uint64              `json:"first_index"`
	NextIndex  uint64              `json:"next_index"`
	Totals     Totals              `json:"totals"`
	Classes    []ResidueClass      `json:"classes"`
	Histogram  []KEntry            `json:"histogram"`
	KStats     []KStat             `json:"k_stats"`
	Violations []Violation         `json:"violations"`
	Correction *correction.Summary `json:"correction,omitempty"`
}

// Fingerprint hashes the snapshot's canonical JSON.
func (s *Snapshot) Fingerprint() (core.Hash, error) {
	return core.HashJSON(s)
}

// Holds reports whether no violation was observed.
func (s *Snapshot) Holds() bool {
	return len(s.Violations) == 0
}

// ClassesFor returns the residue classes of one modulus in residue order.
func (s *Snapshot) ClassesFor(modulus uint64) []ResidueClass {
	var out []ResidueClass
	for _, c := range s.Classes {
		if c.Modulus == modulus {
			out = append(out, c)
		}
	}
	return out
}

// HistogramFor returns the (residue, k) entries of one modulus.
func (s *Snapshot) HistogramFor(modulus uint64) []KEntry {
	var out []KEntry
	for _, e := range s.Histogram {
		if e.Modulus == modulus {
			out = append(out, e)
		}
	}
	return out
}

// ViolationsFor returns the violations recorded under one modulus.
func (s *Snapshot) ViolationsFor(modulus uint64) []Violation {
	var out []Violation
	for _, v := range s.Violations {
		if v.Modulus == modulus {
			out = append(out, v)
		}
	}
	return out
}

// PerfectAnchors is the number of anchors with S ≡ 0 (mod modulus).
func (s *Snapshot) PerfectAnchors(modulus uint64) uint64 {
	for _, c := range s.Classes {
		if c.Modulus == modulus && c.Residue == 0 {
			return c.Anchors
		}
	}
	return 0
}

func (s *Snapshot) sort() {
	rank := make(map[uint64]int, len(s.Moduli))
	for i, m := range s.Moduli {
		rank[m] = i
	}
	sort.Slice(s.Classes, func(i, j int) bool {
		a, b := s.Classes[i], s.Classes[j]
		if a.Modulus != b.Modulus {
			return rank[a.Modulus] < rank[b.Modulus]
		}
		return a.Residue < b.Residue
	})
	sort.Slice(s.Histogram, func(i, j int) bool {
		a, b := s.Histogram[i], s.Histogram[j]
		if a.Modulus != b.Modulus {
			return rank[a.Modulus] < rank[b.Modulus]
		}
		if a.Residue != b.Residue {
			return a.Residue < b.Residue
		}
		return a.K < b.K
	})
	sort.Slice(s.KStats, func(i, j int) bool { return s.KStats[i].K < s.KStats[j].K })
}

func ratio(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
