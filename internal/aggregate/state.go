package aggregate

import (
	"fmt"

	"gopac/domain/anchor"
	"gopac/domain/core"
	"gopac/internal/correction"
	"gopac/internal/primes"
	"gopac/internal/residue"
	"gopac/internal/search"
)

// State accumulates exact counts for one run. It has a single writer: anchors
// must be applied in strictly increasing index order with no gaps.
type State struct {
	classifier *residue.Classifier
	moduli     []uint64
	firstIndex uint64
	next       uint64
	finalized  bool

	totals      Totals
	classes     map[classKey]*ResidueClass
	histogram   map[histKey]uint64
	kstats      map[uint64]*KStat
	violations  []Violation
	corrections *correction.Stats
}

type classKey struct{ modulus, residue uint64 }

type histKey struct{ modulus, residue, k uint64 }

// New creates an empty state whose first anchor has index firstIndex. A zero
// fixRadius disables Law III correction statistics.
func New(c *residue.Classifier, firstIndex, fixRadius uint64) *State {
	s := &State{
		classifier: c,
		moduli:     c.Moduli(),
		firstIndex: firstIndex,
		next:       firstIndex,
		classes:    make(map[classKey]*ResidueClass),
		histogram:  make(map[histKey]uint64),
		kstats:     make(map[uint64]*KStat),
	}
	if fixRadius > 0 {
		s.corrections = correction.NewStats(fixRadius, s.moduli)
	}
	return s
}

// NextIndex is the index the next applied anchor must carry.
func (s *State) NextIndex() uint64 {
	return s.next
}

// Apply folds one evaluated anchor into the state. For a Law I failure it
// returns the full failure record; otherwise it returns nil. fix is ignored
// for clean anchors. The outcome is derived from k_min; a non-empty
// ev.Outcome that disagrees with it is rejected.
func (s *State) Apply(ev anchor.Evaluated, fix *anchor.Fix) (*anchor.FailureRecord, error) {
	if s.finalized {
		return nil, core.ErrFinalized
	}
	a := ev.Anchor
	if a.Index != s.next {
		return nil, fmt.Errorf("%w: got n=%d, want n=%d", core.ErrOutOfOrder, a.Index, s.next)
	}
	k := ev.Nearest.Distance
	if k == 0 {
		return nil, fmt.Errorf("%w: n=%d has k_min=0", core.ErrInvalidOutcome, a.Index)
	}
	outcome := search.Classify(k)
	if ev.Outcome != "" && ev.Outcome != outcome {
		return nil, fmt.Errorf("%w: n=%d has k_min=%d classified %q, want %q",
			core.ErrInvalidOutcome, a.Index, k, ev.Outcome, outcome)
	}
	sigs := ev.Signatures
	if len(sigs) == 0 {
		sigs = s.classifier.Classify(a.Sum)
	}

	t := &s.totals
	t.Anchors++
	t.GapSum += a.Gap
	if ev.Nearest.Symmetric {
		t.Symmetric++
	}
	if k > t.MaxK {
		t.MaxK, t.MaxKIndex = k, a.Index
	}
	if a.Gap > t.MaxGap {
		t.MaxGap, t.MaxGapIndex = a.Gap, a.Index
	}

	failure := outcome.IsFailure()
	for _, sig := range sigs {
		c := s.class(sig)
		c.Anchors++
		c.GapSum += a.Gap
		if failure {
			c.Failures++
			c.FailureGapSum += a.Gap
			s.histogram[histKey{sig.Modulus, sig.Residue, k}]++
		}
	}
	s.next++

	switch outcome {
	case anchor.OutcomeUnit:
		t.Unit++
		return nil, nil
	case anchor.OutcomePrime:
		t.PrimeK++
		return nil, nil
	}

	t.Failures++
	t.FailureGapSum += a.Gap
	ks, ok := s.kstats[k]
	if !ok {
		ks = &KStat{K: k}
		s.kstats[k] = ks
	}
	ks.Count++
	ks.GapSum += a.Gap

	for _, sig := range sigs {
		if !sig.Perfect {
			continue
		}
		if shared := s.classifier.SharedProtected(sig.Modulus, k); len(shared) > 0 {
			s.violations = append(s.violations, Violation{
				Modulus:      sig.Modulus,
				Index:        a.Index,
				Sum:          a.Sum,
				Q:            ev.Nearest.Prime,
				K:            k,
				Gap:          a.Gap,
				SharedPrimes: shared,
			})
		}
	}

	rec := &anchor.FailureRecord{
		Anchor:         a,
		Nearest:        ev.Nearest,
		Factors:        primes.Factorize(k),
		SmallestFactor: primes.SmallestFactor(k),
		Signatures:     sigs,
	}
	if s.corrections != nil {
		rec.Fix = fix
		s.corrections.Record(*rec)
	}
	return rec, nil
}

// ViolationCount is the number of violations recorded so far.
func (s *State) ViolationCount() int {
	return len(s.violations)
}

// ViolationsFrom returns the violations recorded at or after position i.
func (s *State) ViolationsFrom(i int) []Violation {
	if i >= len(s.violations) {
		return nil
	}
	return append([]Violation(nil), s.violations[i:]...)
}

func (s *State) class(sig anchor.Signature) *ResidueClass {
	key := classKey{sig.Modulus, sig.Residue}
	c, ok := s.classes[key]
	if !ok {
		c = &ResidueClass{Modulus: sig.Modulus, Residue: sig.Residue, Perfect: sig.Perfect}
		s.classes[key] = c
	}
	return c
}

// Snapshot returns a sorted copy of the current state without finalizing it.
func (s *State) Snapshot() *Snapshot {
	snap := &Snapshot{
		Moduli:     append([]uint64(nil), s.moduli...),
		FirstIndex: s.firstIndex,
		NextIndex:  s.next,
		Totals:     s.totals,
		Classes:    make([]ResidueClass, 0, len(s.classes)),
		Histogram:  make([]KEntry, 0, len(s.histogram)),
		KStats:     make([]KStat, 0, len(s.kstats)),
		Violations: make([]Violation, 0, len(s.violations)),
	}
	for _, c := range s.classes {
		snap.Classes = append(snap.Classes, *c)
	}
	for k, n := range s.histogram {
		snap.Histogram = append(snap.Histogram, KEntry{Modulus: k.modulus, Residue: k.residue, K: k.k, Count: n})
	}
	for _, ks := range s.kstats {
		snap.KStats = append(snap.KStats, *ks)
	}
	for _, v := range s.violations {
		v.SharedPrimes = append([]uint64(nil), v.SharedPrimes...)
		snap.Violations = append(snap.Violations, v)
	}
	if s.corrections != nil {
		snap.Correction = s.corrections.Summary()
	}
	snap.sort()
	return snap
}

// Finalize ends accumulation and returns the read-only result. Later Apply
// calls fail with core.ErrFinalized.
func (s *State) Finalize() *Snapshot {
	s.finalized = true
	return s.Snapshot()
}

// Restore rebuilds a state from a snapshot taken with the same moduli.
func Restore(c *residue.Classifier, snap *Snapshot) (*State, error) {
	moduli := c.Moduli()
	if len(moduli) != len(snap.Moduli) {
		return nil, core.NewConfigurationError("moduli", "snapshot was taken with different moduli")
	}
	for i := range moduli {
		if moduli[i] != snap.Moduli[i] {
			return nil, core.NewConfigurationError("moduli", "snapshot was taken with different moduli")
		}
	}

	s := New(c, snap.FirstIndex, 0)
	s.next = snap.NextIndex
	s.totals = snap.Totals
	for _, rc := range snap.Classes {
		rc := rc
		s.classes[classKey{rc.Modulus, rc.Residue}] = &rc
	}
	for _, e := range snap.Histogram {
		s.histogram[histKey{e.Modulus, e.Residue, e.K}] = e.Count
	}
	for _, ks := range snap.KStats {
		ks := ks
		s.kstats[ks.K] = &ks
	}
	for _, v := range snap.Violations {
		v.SharedPrimes = append([]uint64(nil), v.SharedPrimes...)
		s.violations = append(s.violations, v)
	}
	if snap.Correction != nil {
		s.corrections = correction.RestoreStats(moduli, snap.Correction)
	}
	return s, nil
}
