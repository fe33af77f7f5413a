package analysis

import (
	"fmt"

	"gopac/internal/aggregate"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Spread is the dispersion of per-class average gaps under one modulus.
type Spread struct {
	Modulus          uint64  `json:"modulus"`
	Classes          int     `json:"classes"`
	MeanAverageGap   float64 `json:"mean_average_gap"`
	StdDevAverageGap float64 `json:"stddev_average_gap"`
	MinAverageGap    float64 `json:"min_average_gap"`
	MaxAverageGap    float64 `json:"max_average_gap"`
}

func classSpread(modulus uint64, classes []aggregate.ResidueClass) (Spread, error) {
	s := Spread{Modulus: modulus, Classes: len(classes)}
	if len(classes) == 0 {
		return s, nil
	}
	gaps := make([]float64, 0, len(classes))
	for _, c := range classes {
		gaps = append(gaps, c.AverageGap())
	}

	var err error
	if s.MeanAverageGap, err = stats.Mean(gaps); err != nil {
		return s, fmt.Errorf("mean gap under P=%d: %w", modulus, err)
	}
	if s.StdDevAverageGap, err = stats.StandardDeviation(gaps); err != nil {
		return s, fmt.Errorf("gap deviation under P=%d: %w", modulus, err)
	}
	if s.MinAverageGap, err = stats.Min(gaps); err != nil {
		return s, fmt.Errorf("smallest gap under P=%d: %w", modulus, err)
	}
	if s.MaxAverageGap, err = stats.Max(gaps); err != nil {
		return s, fmt.Errorf("largest gap under P=%d: %w", modulus, err)
	}
	return s, nil
}

// ChiSquared is Pearson's test of whether failures are independent of the
// residue class of the anchor.
type ChiSquared struct {
	Modulus   uint64  `json:"modulus"`
	Statistic float64 `json:"statistic"`
	DF        int     `json:"df"`
	PValue    float64 `json:"p_value"`
	// Valid is false when fewer than two classes were observed or every
	// anchor has the same outcome.
	Valid bool `json:"valid"`
}

// Significant reports whether independence is rejected at level alpha.
func (c ChiSquared) Significant(alpha float64) bool {
	return c.Valid && c.PValue < alpha
}

// FailureIndependence runs the test on a classes × {failure, clean} table.
func FailureIndependence(modulus uint64, classes []aggregate.ResidueClass) ChiSquared {
	out := ChiSquared{Modulus: modulus, PValue: 1}
	var anchors, failures uint64
	for _, c := range classes {
		anchors += c.Anchors
		failures += c.Failures
	}
	if len(classes) < 2 || failures == 0 || failures == anchors {
		return out
	}

	rate := float64(failures) / float64(anchors)
	for _, c := range classes {
		n := float64(c.Anchors)
		expFail := n * rate
		expClean := n - expFail
		dFail := float64(c.Failures) - expFail
		dClean := float64(c.Anchors-c.Failures) - expClean
		out.Statistic += dFail*dFail/expFail + dClean*dClean/expClean
	}
	out.DF = len(classes) - 1
	out.PValue = distuv.ChiSquared{K: float64(out.DF)}.Survival(out.Statistic)
	out.Valid = true
	return out
}
