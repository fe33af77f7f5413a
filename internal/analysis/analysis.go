package analysis

import (
	"fmt"
	"sort"
	"strings"

	"gopac/domain/verdict"
	"gopac/internal/aggregate"
	"gopac/internal/cfr"
	"gopac/internal/correction"
	"gopac/internal/residue"
)

// DefaultTopK is the number of composite k values listed before the rest are
// folded into "other".
const DefaultTopK = 20

const (
	// DefaultClassTopK is the number of composite k values listed per residue class.
	DefaultClassTopK = 5
	// DefaultDetailModulus is the modulus whose classes are broken down by k
	// and by fixing residue.
	DefaultDetailModulus = 30
	// SmallestKSeen bounds the ascending list of k values kept per class.
	SmallestKSeen = 10
	// SignificanceLevel is the alpha the independence test is judged at.
	SignificanceLevel = 0.01
)

// Report is everything derived from a finalized snapshot for presentation.
type Report struct {
	Moduli            []uint64              `json:"moduli"`
	Totals            aggregate.Totals      `json:"totals"`
	AverageGap        float64               `json:"average_gap"`
	AverageFailureGap float64               `json:"average_failure_gap"`
	Residues          []ResidueRow          `json:"residues"`
	Spreads           []Spread              `json:"spreads"`
	Independence      []ChiSquared          `json:"independence"`
	KDistribution     KDistribution         `json:"k_distribution"`
	KGaps             []KGapRow             `json:"k_gaps"`
	DetailModulus     uint64                `json:"detail_modulus"`
	ClassK            []ClassKRow           `json:"class_k"`
	Radius            *RadiusSummary        `json:"radius,omitempty"`
	Transitions       *TransitionTable      `json:"transitions,omitempty"`
	Violations        []aggregate.Violation `json:"violations"`
	Verdicts          verdict.Summary       `json:"verdicts"`
}

// ResidueRow describes one residue class under one modulus.
type ResidueRow struct {
	Modulus             uint64  `json:"modulus"`
	Residue             uint64  `json:"residue"`
	Perfect             bool    `json:"perfect"`
	Anchors             uint64  `json:"anchors"`
	Share               float64 `json:"share"`
	Failures            uint64  `json:"failures"`
	FailureRate         float64 `json:"failure_rate"`
	AverageGap          float64 `json:"average_gap"`
	GapDeviation        float64 `json:"gap_deviation"`
	AverageFailureGap   float64 `json:"average_failure_gap"`
	FailureGapDeviation float64 `json:"failure_gap_deviation"`
}

// KGapRow is the average gap of anchors failing with one composite k.
type KGapRow struct {
	K            uint64  `json:"k"`
	Count        uint64  `json:"count"`
	AverageGap   float64 `json:"average_gap"`
	GapDeviation float64 `json:"gap_deviation"`
}

// Options tune Analyze.
type Options struct {
	TopK      int
	ClassTopK int
	// DetailModulus falls back to the first configured modulus when it is
	// not one of the snapshot's moduli.
	DetailModulus uint64
}

// Analyze derives the report. The snapshot is not modified.
func Analyze(snap *aggregate.Snapshot, opts Options) (*Report, error) {
	if snap == nil {
		return nil, fmt.Errorf("analyze: nil snapshot")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ClassTopK <= 0 {
		opts.ClassTopK = DefaultClassTopK
	}
	detail := detailModulus(snap.Moduli, opts.DetailModulus)

	t := snap.Totals
	r := &Report{
		Moduli:            append([]uint64(nil), snap.Moduli...),
		Totals:            t,
		AverageGap:        t.AverageGap(),
		AverageFailureGap: t.AverageFailureGap(),
		Residues:          residueRows(snap),
		KDistribution:     topK(snap.KStats, t.Failures, opts.TopK),
		KGaps:             kGaps(snap.KStats, t.AverageFailureGap()),
		DetailModulus:     detail,
		ClassK:            classKRows(snap, detail, opts.ClassTopK),
		Violations:        append([]aggregate.Violation{}, snap.Violations...),
	}

	for _, m := range snap.Moduli {
		classes := snap.ClassesFor(m)
		spread, err := classSpread(m, classes)
		if err != nil {
			return nil, err
		}
		r.Spreads = append(r.Spreads, spread)
		r.Independence = append(r.Independence, FailureIndependence(m, classes))
	}
	if snap.Correction != nil {
		r.Radius = Radius(snap.Correction)
		r.Transitions = Transitions(snap.Correction, detail)
	}
	r.Verdicts = Verdicts(snap)
	return r, nil
}

func residueRows(snap *aggregate.Snapshot) []ResidueRow {
	t := snap.Totals
	overall := t.AverageGap()
	overallFailure := t.AverageFailureGap()
	rows := make([]ResidueRow, 0, len(snap.Classes))
	for _, c := range snap.Classes {
		row := ResidueRow{
			Modulus:           c.Modulus,
			Residue:           c.Residue,
			Perfect:           c.Perfect,
			Anchors:           c.Anchors,
			Share:             percent(c.Anchors, t.Anchors),
			Failures:          c.Failures,
			FailureRate:       c.FailureRate(),
			AverageGap:        c.AverageGap(),
			GapDeviation:      c.AverageGap() - overall,
			AverageFailureGap: c.AverageFailureGap(),
		}
		if c.Failures > 0 {
			row.FailureGapDeviation = c.AverageFailureGap() - overallFailure
		}
		rows = append(rows, row)
	}
	return rows
}

func kGaps(ks []aggregate.KStat, overallFailure float64) []KGapRow {
	rows := make([]KGapRow, 0, len(ks))
	for _, k := range ks {
		rows = append(rows, KGapRow{
			K:            k.K,
			Count:        k.Count,
			AverageGap:   k.AverageGap(),
			GapDeviation: k.AverageGap() - overallFailure,
		})
	}
	return rows
}

// KDistribution lists the most frequent composite k values.
type KDistribution struct {
	Total uint64 `json:"total"`
	Top   []KRow `json:"top"`
	// Other aggregates every k beyond the top rows.
	Other KRow `json:"other"`
}

// KRow is one k value, or the remainder when K is zero.
type KRow struct {
	K       uint64  `json:"k,omitempty"`
	Count   uint64  `json:"count"`
	Percent float64 `json:"percent"`
}

func topK(ks []aggregate.KStat, failures uint64, n int) KDistribution {
	sorted := append([]aggregate.KStat(nil), ks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].K < sorted[j].K
	})

	d := KDistribution{Total: failures, Top: []KRow{}}
	for i, k := range sorted {
		if i < n {
			d.Top = append(d.Top, KRow{K: k.K, Count: k.Count, Percent: percent(k.Count, failures)})
			continue
		}
		d.Other.Count += k.Count
	}
	d.Other.Percent = percent(d.Other.Count, failures)
	return d
}

func detailModulus(moduli []uint64, want uint64) uint64 {
	if want == 0 {
		want = DefaultDetailModulus
	}
	for _, m := range moduli {
		if m == want {
			return m
		}
	}
	if len(moduli) == 0 {
		return 0
	}
	return moduli[0]
}

// ClassKRow breaks down the failures of one residue class by composite k.
type ClassKRow struct {
	Modulus  uint64 `json:"modulus"`
	Residue  uint64 `json:"residue"`
	Perfect  bool   `json:"perfect"`
	Failures uint64 `json:"failures"`
	Distinct int    `json:"distinct"`
	// Smallest holds up to SmallestKSeen distinct k values in ascending order.
	Smallest []uint64 `json:"smallest"`
	Top      []KRow   `json:"top"`
}

// classKRows covers every class of the detail modulus and the perfect class
// of every other modulus.
func classKRows(snap *aggregate.Snapshot, detail uint64, n int) []ClassKRow {
	rows := []ClassKRow{}
	for _, m := range snap.Moduli {
		rows = append(rows, modulusKRows(snap.HistogramFor(m), m == detail, n)...)
	}
	return rows
}

// modulusKRows groups the residue-ordered entries of one modulus by class.
func modulusKRows(entries []aggregate.KEntry, allClasses bool, n int) []ClassKRow {
	var rows []ClassKRow
	for i := 0; i < len(entries); {
		j := i
		for j < len(entries) && entries[j].Modulus == entries[i].Modulus && entries[j].Residue == entries[i].Residue {
			j++
		}
		group := entries[i:j]
		i = j

		m, res := group[0].Modulus, group[0].Residue
		if !allClasses && res != 0 {
			continue
		}
		row := ClassKRow{Modulus: m, Residue: res, Perfect: res == 0, Distinct: len(group)}
		for _, e := range group {
			row.Failures += e.Count
			if len(row.Smallest) < SmallestKSeen {
				row.Smallest = append(row.Smallest, e.K)
			}
		}
		sorted := append([]aggregate.KEntry(nil), group...)
		sort.SliceStable(sorted, func(a, b int) bool {
			if sorted[a].Count != sorted[b].Count {
				return sorted[a].Count > sorted[b].Count
			}
			return sorted[a].K < sorted[b].K
		})
		if len(sorted) > n {
			sorted = sorted[:n]
		}
		for _, e := range sorted {
			row.Top = append(row.Top, KRow{K: e.K, Count: e.Count, Percent: percent(e.Count, row.Failures)})
		}
		rows = append(rows, row)
	}
	return rows
}

// TransitionTable is the residue of the fixing anchor S_fix against the
// residue of the failing anchor, under one modulus.
type TransitionTable struct {
	Modulus uint64          `json:"modulus"`
	Rows    []TransitionRow `json:"rows"`
}

// TransitionRow counts fixes of failures in Residue by anchors in FixResidue.
// Percent is relative to all fixes of Residue.
type TransitionRow struct {
	Residue    uint64  `json:"residue"`
	FixResidue uint64  `json:"fix_residue"`
	Count      uint64  `json:"count"`
	Percent    float64 `json:"percent"`
}

// Transitions extracts the transition table of one modulus.
func Transitions(sum *correction.Summary, modulus uint64) *TransitionTable {
	out := &TransitionTable{Modulus: modulus, Rows: []TransitionRow{}}
	fixed := map[uint64]uint64{}
	for _, tr := range sum.Transitions {
		if tr.Modulus == modulus {
			fixed[tr.Residue] += tr.Count
		}
	}
	for _, tr := range sum.Transitions {
		if tr.Modulus != modulus {
			continue
		}
		out.Rows = append(out.Rows, TransitionRow{
			Residue:    tr.Residue,
			FixResidue: tr.FixResidue,
			Count:      tr.Count,
			Percent:    percent(tr.Count, fixed[tr.Residue]),
		})
	}
	return out
}

// RadiusSummary is the distribution of Law III fix radii.
type RadiusSummary struct {
	Limit         uint64                   `json:"limit"`
	Failures      uint64                   `json:"failures"`
	Fixed         uint64                   `json:"fixed"`
	Unfixed       uint64                   `json:"unfixed"`
	MaxRadius     uint64                   `json:"max_radius"`
	AverageRadius float64                  `json:"average_radius"`
	Rows          []RadiusRow              `json:"rows"`
	Classes       []correction.ClassRadius `json:"classes"`
}

// RadiusRow is the share of fixed failures repaired at exactly Radius, and
// at or below it.
type RadiusRow struct {
	Radius     uint64  `json:"r"`
	Count      uint64  `json:"count"`
	Percent    float64 `json:"percent"`
	Cumulative float64 `json:"cumulative"`
}

// Radius summarizes correction statistics.
func Radius(sum *correction.Summary) *RadiusSummary {
	out := &RadiusSummary{
		Limit:     sum.Radius,
		Failures:  sum.Failures,
		Fixed:     sum.Fixed,
		Unfixed:   uint64(len(sum.Unfixed)),
		MaxRadius: sum.MaxRadius,
		Rows:      make([]RadiusRow, 0, len(sum.Histogram)),
		Classes:   append([]correction.ClassRadius{}, sum.Classes...),
	}
	var running, radiusSum uint64
	for _, h := range sum.Histogram {
		running += h.Count
		radiusSum += h.Radius * h.Count
		out.Rows = append(out.Rows, RadiusRow{
			Radius:     h.Radius,
			Count:      h.Count,
			Percent:    percent(h.Count, sum.Fixed),
			Cumulative: percent(running, sum.Fixed),
		})
	}
	if sum.Fixed > 0 {
		out.AverageRadius = float64(radiusSum) / float64(sum.Fixed)
	}
	return out
}

// Verdicts judges Law II under every modulus and, when correction ran, Law
// III within the configured radius.
func Verdicts(snap *aggregate.Snapshot) verdict.Summary {
	var s verdict.Summary
	classifier, _ := residue.NewClassifier(snap.Moduli)
	for _, m := range snap.Moduli {
		v := verdict.Verdict{Claim: lawIIClaim(classifier, m)}
		perfect := snap.PerfectAnchors(m)
		violations := uint64(len(snap.ViolationsFor(m)))
		switch {
		case violations > 0:
			v.Status, v.Reason, v.Evidence = verdict.StatusFalsified, verdict.ReasonViolationsFound, violations
		case perfect == 0:
			v.Status, v.Reason = verdict.StatusNoData, verdict.ReasonNoPerfectAnchors
		default:
			v.Status, v.Reason, v.Evidence = verdict.StatusVerified, verdict.ReasonNoViolations, perfectFailures(snap, m)
		}
		s.Verdicts = append(s.Verdicts, v)
	}

	if c := snap.Correction; c != nil {
		v := verdict.Verdict{Claim: fmt.Sprintf("every failure is fixed within radius %d", c.Radius)}
		switch {
		case c.Failures == 0:
			v.Status, v.Reason = verdict.StatusNoData, verdict.ReasonNoFailures
		case len(c.Unfixed) > 0:
			v.Status, v.Reason, v.Evidence = verdict.StatusFalsified, verdict.ReasonUnfixedFailures, uint64(len(c.Unfixed))
		default:
			v.Status, v.Reason, v.Evidence = verdict.StatusVerified, verdict.ReasonAllFixed, c.Fixed
		}
		s.Verdicts = append(s.Verdicts, v)
	}
	return s
}

// lawIIClaim names the odd protected primes of the modulus. k is always odd,
// so 2 never divides it.
func lawIIClaim(c *residue.Classifier, modulus uint64) string {
	var odd []string
	if c != nil {
		for _, p := range c.ProtectedPrimes(modulus) {
			if p != 2 {
				odd = append(odd, fmt.Sprint(p))
			}
		}
	}
	if len(odd) == 0 {
		return fmt.Sprintf("no perfect anchor under P=%d fails with k sharing a prime factor of P", modulus)
	}
	return fmt.Sprintf("no perfect anchor under P=%d fails with k divisible by %s", modulus, strings.Join(odd, " or "))
}

func perfectFailures(snap *aggregate.Snapshot, modulus uint64) uint64 {
	for _, c := range snap.ClassesFor(modulus) {
		if c.Residue == 0 {
			return c.Failures
		}
	}
	return 0
}

// CFRVerdict judges whether the composite failure rate decays strictly with
// the modulus.
func CFRVerdict(res *cfr.Result) verdict.Verdict {
	v := verdict.Verdict{Claim: "composite failure rate strictly decreases as the primorial grows", Evidence: res.Tested}
	switch {
	case res.Tested == 0:
		v.Status, v.Reason = verdict.StatusNoData, verdict.ReasonNoFailures
	case res.DecayConfirmed:
		v.Status, v.Reason = verdict.StatusVerified, verdict.ReasonDecayObserved
	default:
		v.Status, v.Reason = verdict.StatusFalsified, verdict.ReasonDecayBroken
	}
	return v
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
