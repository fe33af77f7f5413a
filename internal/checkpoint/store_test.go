package checkpoint

import (
	"context"
	"testing"
	"time"

	"gopac/domain/core"
	"gopac/internal/aggregate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(next uint64) *aggregate.Snapshot {
	return &aggregate.Snapshot{
		Moduli:     []uint64{6, 30},
		FirstIndex: 10,
		NextIndex:  next,
		Totals:     aggregate.Totals{Anchors: next - 10, GapSum: 4 * (next - 10), Failures: 1},
		Classes: []aggregate.ResidueClass{
			{Modulus: 6, Residue: 0, Perfect: true, Anchors: next - 10, GapSum: 4 * (next - 10)},
		},
		Histogram:  []aggregate.KEntry{{Modulus: 6, Residue: 0, K: 9, Count: 1}},
		KStats:     []aggregate.KStat{{K: 9, Count: 1, GapSum: 6}},
		Violations: []aggregate.Violation{},
	}
}

func TestStore_SaveAndLatest(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	hash := core.ComputeConfigHash(1000, 10, []uint64{6, 30}, 3000, 30)
	runID := core.NewRunID()

	for _, next := range []uint64{110, 310, 210} {
		require.NoError(t, s.Save(ctx, Checkpoint{
			RunID:       runID,
			ConfigHash:  hash,
			NextIndex:   next,
			ResumeIndex: next - 30,
			ResumePrime: 7 * next,
			Snapshot:    sampleSnapshot(next),
			CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}))
	}

	cp, err := s.Latest(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(310), cp.NextIndex)
	assert.Equal(t, uint64(280), cp.ResumeIndex)
	assert.Equal(t, uint64(2170), cp.ResumePrime)
	assert.Equal(t, runID, cp.RunID)
	assert.Equal(t, hash, cp.ConfigHash)
	assert.Equal(t, sampleSnapshot(310), cp.Snapshot)

	want, err := sampleSnapshot(310).Fingerprint()
	require.NoError(t, err)
	got, err := cp.Snapshot.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SaveReplacesSameIndex(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	hash := core.ComputeConfigHash(1000, 10, []uint64{6, 30}, 3000, 30)

	first := sampleSnapshot(110)
	require.NoError(t, s.Save(ctx, Checkpoint{RunID: core.NewRunID(), ConfigHash: hash, NextIndex: 110, Snapshot: first}))
	second := sampleSnapshot(110)
	second.Totals.Failures = 7
	require.NoError(t, s.Save(ctx, Checkpoint{RunID: core.NewRunID(), ConfigHash: hash, NextIndex: 110, Snapshot: second}))

	cp, err := s.Latest(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cp.Snapshot.Totals.Failures)
}

func TestStore_LatestMissing(t *testing.T) {
	s := openMemory(t)
	_, err := s.Latest(context.Background(), core.ConfigHash("nothing"))
	assert.ErrorIs(t, err, core.ErrNoCheckpoint)
}

func TestStore_SeparatesConfigurations(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	a := core.ComputeConfigHash(1000, 10, []uint64{6, 30}, 3000, 30)
	b := core.ComputeConfigHash(2000, 10, []uint64{6, 30}, 3000, 30)
	require.NoError(t, s.Save(ctx, Checkpoint{RunID: core.NewRunID(), ConfigHash: a, NextIndex: 500, Snapshot: sampleSnapshot(500)}))

	_, err := s.Latest(ctx, b)
	assert.ErrorIs(t, err, core.ErrNoCheckpoint)
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	hash := core.ComputeConfigHash(1000, 10, []uint64{6, 30}, 3000, 30)
	for _, next := range []uint64{110, 210, 310} {
		require.NoError(t, s.Save(ctx, Checkpoint{RunID: core.NewRunID(), ConfigHash: hash, NextIndex: next, Snapshot: sampleSnapshot(next)}))
	}
	n, err := s.Prune(ctx, hash, 310)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cp, err := s.Latest(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(310), cp.NextIndex)
}

func TestStore_RejectsInconsistentCheckpoint(t *testing.T) {
	s := openMemory(t)
	err := s.Save(context.Background(), Checkpoint{NextIndex: 5, Snapshot: sampleSnapshot(6)})
	assert.Error(t, err)
	err = s.Save(context.Background(), Checkpoint{NextIndex: 5})
	assert.Error(t, err)
}

func TestStore_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	hash := core.ComputeConfigHash(1000, 10, []uint64{6, 30}, 3000, 30)
	require.NoError(t, s.Save(ctx, Checkpoint{RunID: core.NewRunID(), ConfigHash: hash, NextIndex: 110, Snapshot: sampleSnapshot(110)}))

	_, err := s.db.ExecContext(ctx, `UPDATE pac_checkpoints SET snapshot = replace(snapshot, '"failures":1', '"failures":0')`)
	require.NoError(t, err)

	_, err = s.Latest(ctx, hash)
	assert.ErrorIs(t, err, core.ErrHashMismatch)
}
