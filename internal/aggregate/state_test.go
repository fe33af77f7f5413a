package aggregate

import (
	"testing"

	"gopac/domain/anchor"
	"gopac/domain/core"
	anchorBuilder "gopac/internal/anchor"
	"gopac/internal/primes"
	"gopac/internal/residue"
	"gopac/internal/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultModuli = []uint64{6, 30, 210, 2310}

func newClassifier(t *testing.T) *residue.Classifier {
	t.Helper()
	c, err := residue.NewClassifier(defaultModuli)
	require.NoError(t, err)
	return c
}

// evaluate computes anchors n0..n0+count-1 sequentially.
func evaluate(t *testing.T, c *residue.Classifier, n0, count uint64) []anchor.Evaluated {
	t.Helper()
	stream := primes.NewStream(primes.DefaultOptions())
	defer stream.Close()

	b := anchorBuilder.NewBuilder(stream, n0, count)
	s := search.NewSearcher(search.DefaultBound)
	out := make([]anchor.Evaluated, 0, count)
	for i := uint64(0); i < count; i++ {
		a, err := b.Next()
		require.NoError(t, err)
		np, err := s.Nearest(a)
		require.NoError(t, err)
		out = append(out, anchor.Evaluated{
			Anchor:     a,
			Nearest:    np,
			Outcome:    search.Classify(np.Distance),
			Signatures: c.Classify(a.Sum),
		})
	}
	return out
}

func TestApply_CountsMatchRecomputation(t *testing.T) {
	c := newClassifier(t)
	evs := evaluate(t, c, 10, 20_000)

	st := New(c, 10, 0)
	var records []*anchor.FailureRecord
	for _, ev := range evs {
		rec, err := st.Apply(ev, nil)
		require.NoError(t, err)
		if rec != nil {
			records = append(records, rec)
		}
	}
	snap := st.Finalize()

	var gapSum, failures, unit, symmetric uint64
	classGaps := map[uint64][]uint64{}
	failureGaps := map[uint64][]uint64{}
	for _, ev := range evs {
		gapSum += ev.Anchor.Gap
		r := ev.Anchor.Sum % 30
		classGaps[r] = append(classGaps[r], ev.Anchor.Gap)
		if ev.Nearest.Distance == 1 {
			unit++
		}
		if ev.Nearest.Symmetric {
			symmetric++
		}
		if ev.Nearest.Distance > 1 && !primes.IsPrime(ev.Nearest.Distance) {
			failures++
			failureGaps[ev.Nearest.Distance] = append(failureGaps[ev.Nearest.Distance], ev.Anchor.Gap)
		}
	}

	assert.Equal(t, uint64(20_000), snap.Totals.Anchors)
	assert.Equal(t, gapSum, snap.Totals.GapSum)
	assert.Equal(t, failures, snap.Totals.Failures)
	assert.Equal(t, unit, snap.Totals.Unit)
	assert.Equal(t, symmetric, snap.Totals.Symmetric)
	assert.Equal(t, snap.Totals.Anchors, snap.Totals.Clean()+snap.Totals.Failures)
	assert.Len(t, records, int(failures))
	assert.Equal(t, uint64(10), snap.FirstIndex)
	assert.Equal(t, uint64(20_010), snap.NextIndex)
	assert.InDelta(t, float64(gapSum)/20_000, snap.Totals.AverageGap(), 1e-12)

	for _, rc := range snap.ClassesFor(30) {
		gaps := classGaps[rc.Residue]
		require.NotEmpty(t, gaps, "residue %d", rc.Residue)
		var sum uint64
		for _, g := range gaps {
			sum += g
		}
		assert.Equal(t, uint64(len(gaps)), rc.Anchors)
		assert.InDelta(t, float64(sum)/float64(len(gaps)), rc.AverageGap(), 1e-12, "residue %d", rc.Residue)
	}
	assert.Len(t, snap.ClassesFor(30), len(classGaps))

	for _, ks := range snap.KStats {
		gaps := failureGaps[ks.K]
		var sum uint64
		for _, g := range gaps {
			sum += g
		}
		assert.Equal(t, uint64(len(gaps)), ks.Count, "k=%d", ks.K)
		assert.InDelta(t, float64(sum)/float64(len(gaps)), ks.AverageGap(), 1e-12, "k=%d", ks.K)
	}

	var histTotal uint64
	for _, e := range snap.HistogramFor(2310) {
		histTotal += e.Count
	}
	assert.Equal(t, failures, histTotal)
}

func TestApply_NoViolationsInSteadyState(t *testing.T) {
	c := newClassifier(t)
	st := New(c, 10, 0)
	for _, ev := range evaluate(t, c, 10, 50_000) {
		_, err := st.Apply(ev, nil)
		require.NoError(t, err)
	}
	snap := st.Finalize()
	assert.True(t, snap.Holds())
	assert.Positive(t, snap.PerfectAnchors(2310))

	// Perfect 2310 anchors never fail with k divisible by 3, 5, 7 or 11.
	for _, e := range snap.HistogramFor(2310) {
		if e.Residue != 0 {
			continue
		}
		for _, p := range []uint64{3, 5, 7, 11} {
			assert.NotZero(t, e.K%p, "k=%d", e.K)
		}
	}
}

func TestApply_SeededViolationIsReported(t *testing.T) {
	c := newClassifier(t)
	st := New(c, 1, 0)
	ev := anchor.Evaluated{
		Anchor:  anchor.Point{Index: 1, Lower: 2309, Upper: 2311, Sum: 4620, Gap: 2},
		Nearest: anchor.NearestPrime{Prime: 4611, Distance: 9},
		Outcome: anchor.OutcomeComposite,
	}
	rec, err := st.Apply(ev, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []anchor.Factor{{Prime: 3, Exponent: 2}}, rec.Factors)
	assert.Equal(t, uint64(3), rec.SmallestFactor)
	require.Len(t, rec.Signatures, 4, "signatures are derived when absent")

	snap := st.Finalize()
	assert.False(t, snap.Holds())
	require.Len(t, snap.Violations, 4)
	for i, m := range defaultModuli {
		v := snap.Violations[i]
		assert.Equal(t, m, v.Modulus)
		assert.Equal(t, uint64(4620), v.Sum)
		assert.Equal(t, []uint64{3}, v.SharedPrimes)
	}
	assert.Len(t, snap.ViolationsFor(2310), 1)
}

func TestApply_Lifecycle(t *testing.T) {
	c := newClassifier(t)
	st := New(c, 10, 0)
	ev := anchor.Evaluated{
		Anchor:  anchor.Point{Index: 11, Lower: 31, Upper: 37, Sum: 68, Gap: 6},
		Nearest: anchor.NearestPrime{Prime: 67, Distance: 1},
		Outcome: anchor.OutcomeUnit,
	}
	_, err := st.Apply(ev, nil)
	assert.ErrorIs(t, err, core.ErrOutOfOrder)

	ev.Anchor = anchor.Point{Index: 10, Lower: 29, Upper: 31, Sum: 60, Gap: 2}
	ev.Nearest = anchor.NearestPrime{Prime: 59, Distance: 1, Symmetric: true}
	rec, err := st.Apply(ev, nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	st.Finalize()
	ev.Anchor.Index = 11
	_, err = st.Apply(ev, nil)
	assert.ErrorIs(t, err, core.ErrFinalized)
}

func TestApply_OutcomeFollowsDistance(t *testing.T) {
	c := newClassifier(t)
	st := New(c, 56, 0)
	ev := anchor.Evaluated{
		Anchor:  anchor.Point{Index: 56, Lower: 263, Upper: 269, Sum: 532, Gap: 6},
		Nearest: anchor.NearestPrime{Prime: 523, Distance: 9, Symmetric: true},
	}

	ev.Outcome = anchor.OutcomePrime
	_, err := st.Apply(ev, nil)
	assert.ErrorIs(t, err, core.ErrInvalidOutcome)
	assert.Equal(t, uint64(56), st.NextIndex(), "rejected anchors leave the state untouched")

	ev.Outcome = ""
	rec, err := st.Apply(ev, nil)
	require.NoError(t, err)
	require.NotNil(t, rec, "an empty outcome is derived from k_min")

	snap := st.Finalize()
	assert.Equal(t, uint64(1), snap.Totals.Failures)
	for _, m := range defaultModuli {
		var failures uint64
		for _, cl := range snap.ClassesFor(m) {
			failures += cl.Failures
		}
		assert.Equal(t, snap.Totals.Failures, failures, "P=%d", m)
	}

	zero := New(c, 1, 0)
	_, err = zero.Apply(anchor.Evaluated{Anchor: anchor.Point{Index: 1, Lower: 2, Upper: 3, Sum: 5, Gap: 1}}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidOutcome)
}

func TestRestore_ContinuesIdentically(t *testing.T) {
	c := newClassifier(t)
	evs := evaluate(t, c, 10, 5_000)

	full := New(c, 10, 30)
	for _, ev := range evs {
		_, err := full.Apply(ev, nil)
		require.NoError(t, err)
	}
	want, err := full.Finalize().Fingerprint()
	require.NoError(t, err)

	first := New(c, 10, 30)
	for _, ev := range evs[:2_000] {
		_, err := first.Apply(ev, nil)
		require.NoError(t, err)
	}
	resumed, err := Restore(c, first.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_010), resumed.NextIndex())
	for _, ev := range evs[2_000:] {
		_, err := resumed.Apply(ev, nil)
		require.NoError(t, err)
	}
	got, err := resumed.Finalize().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestore_RejectsDifferentModuli(t *testing.T) {
	c := newClassifier(t)
	snap := New(c, 10, 0).Snapshot()

	other, err := residue.NewClassifier([]uint64{6, 30})
	require.NoError(t, err)
	_, err = Restore(other, snap)
	assert.True(t, core.IsConfigurationError(err))
}

func TestSnapshot_FingerprintStable(t *testing.T) {
	c := newClassifier(t)
	evs := evaluate(t, c, 10, 3_000)

	run := func() core.Hash {
		st := New(c, 10, 30)
		for _, ev := range evs {
			_, err := st.Apply(ev, nil)
			require.NoError(t, err)
		}
		h, err := st.Finalize().Fingerprint()
		require.NoError(t, err)
		return h
	}
	assert.Equal(t, run(), run())
}
