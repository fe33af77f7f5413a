package pipeline

import (
	"context"
	"fmt"
	"time"

	"gopac/domain/anchor"
	"gopac/internal/checkpoint"
	"gopac/internal/correction"
)

// merger is owned by the merge goroutine. It restores block order, keeps a
// sliding window of anchors for Law III lookups, and is the only writer of
// the aggregate state.
type merger struct {
	r *Runner
	p *plan

	nextSeq  uint64
	buffered map[uint64]*block

	// window holds built anchors [windowBase, windowBase+len(window)).
	window     []anchor.Point
	windowBase uint64
	pending    []anchor.Evaluated

	radius       uint64
	lastProgress uint64
	started      time.Time
}

func newMerger(r *Runner, p *plan) *merger {
	return &merger{
		r:            r,
		p:            p,
		buffered:     make(map[uint64]*block),
		windowBase:   p.lo,
		radius:       r.opts.Params.FixRadius,
		lastProgress: p.primary - r.opts.Params.Offset,
		started:      time.Now(),
	}
}

// add buffers b and merges every block that is now in sequence. It returns
// the number of blocks merged.
func (m *merger) add(ctx context.Context, b *block) (int, error) {
	m.buffered[b.seq] = b
	merged := 0
	for {
		next, ok := m.buffered[m.nextSeq]
		if !ok {
			return merged, nil
		}
		delete(m.buffered, m.nextSeq)
		m.nextSeq++
		merged++

		if len(next.anchors) > 0 {
			want := m.windowBase + uint64(len(m.window))
			if next.anchors[0].Index != want {
				return merged, fmt.Errorf("block %d starts at n=%d, want n=%d", next.seq, next.anchors[0].Index, want)
			}
		}
		m.window = append(m.window, next.anchors...)
		m.pending = append(m.pending, next.evals...)
		if err := m.drain(ctx, false); err != nil {
			return merged, err
		}
	}
}

// flush finalizes everything once no more blocks will arrive.
func (m *merger) flush(ctx context.Context) error {
	if len(m.buffered) > 0 {
		return fmt.Errorf("%d blocks left unmerged", len(m.buffered))
	}
	return m.drain(ctx, true)
}

// drain applies pending anchors whose upper correction neighbours are all in
// the window, or every pending anchor when final is set.
func (m *merger) drain(ctx context.Context, final bool) error {
	built := m.windowBase + uint64(len(m.window))
	applied := 0
	for _, ev := range m.pending {
		if !final && ev.Anchor.Index+m.radius >= built && built < m.p.hi {
			break
		}
		if err := m.apply(ctx, ev); err != nil {
			return err
		}
		applied++
	}
	m.pending = m.pending[applied:]
	if applied > 0 {
		m.r.metrics.AnchorsMerged(applied, m.p.state.NextIndex())
	}
	m.evict()
	return nil
}

func (m *merger) apply(ctx context.Context, ev anchor.Evaluated) error {
	var fix *anchor.Fix
	if ev.Outcome.IsFailure() && m.radius > 0 {
		fix = correction.Find(ev.Anchor, ev.Nearest.Prime, m.radius, m.lookup)
	}

	state := m.p.state
	before := state.ViolationCount()
	rec, err := state.Apply(ev, fix)
	if err != nil {
		return err
	}

	if rec != nil {
		m.r.metrics.Failure(m.radius > 0 && rec.Fix == nil)
		if m.r.sink != nil {
			if err := m.r.sink.WriteFailure(*rec); err != nil {
				return fmt.Errorf("failure sink at n=%d: %w", ev.Anchor.Index, err)
			}
		}
		for _, v := range state.ViolationsFrom(before) {
			m.r.metrics.Violation(v.Modulus)
			m.r.logger.Warn("violation under P=%d at n=%d: S=%d q=%d k=%d shares %v",
				v.Modulus, v.Index, v.Sum, v.Q, v.K, v.SharedPrimes)
		}
	}

	next := state.NextIndex()
	done := next - m.r.opts.Params.Offset
	if done-m.lastProgress >= m.r.opts.ProgressEvery {
		m.lastProgress = done
		elapsed := time.Since(m.started).Seconds()
		m.r.logger.Info("progress: n=%d (%d/%d anchors, %.0f anchors/s)",
			next, done, m.r.opts.Params.Pairs, float64(done)/elapsed)
	}
	if every := m.r.opts.CheckpointEvery; every > 0 && m.r.store != nil && done%every == 0 && next < m.p.end {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *merger) lookup(index uint64) (anchor.Point, bool) {
	if index < m.windowBase || index >= m.windowBase+uint64(len(m.window)) {
		return anchor.Point{}, false
	}
	return m.window[index-m.windowBase], true
}

// evict drops anchors no pending or future lookup can reach.
func (m *merger) evict() {
	keep := lowerContext(m.p.state.NextIndex(), m.radius)
	if keep <= m.windowBase {
		return
	}
	drop := keep - m.windowBase
	if drop > uint64(len(m.window)) {
		drop = uint64(len(m.window))
	}
	m.window = m.window[drop:]
	m.windowBase += drop
}

func (m *merger) checkpoint(ctx context.Context) error {
	state := m.p.state
	next := state.NextIndex()
	resume := lowerContext(next, m.radius)
	if resume < m.p.lo {
		resume = m.p.lo
	}
	first, ok := m.lookup(resume)
	if !ok {
		return fmt.Errorf("checkpoint at n=%d: anchor %d left the window", next, resume)
	}
	cp := checkpoint.Checkpoint{
		RunID:       m.r.manifest.RunID,
		ConfigHash:  m.r.opts.Params.ConfigHash(),
		NextIndex:   next,
		ResumeIndex: resume,
		ResumePrime: first.Lower,
		Snapshot:    state.Snapshot(),
	}
	if err := m.r.store.Save(ctx, cp); err != nil {
		return err
	}
	pruned, err := m.r.store.Prune(ctx, cp.ConfigHash, next)
	if err != nil {
		return err
	}
	m.r.metrics.CheckpointSaved()
	m.r.logger.Debug("checkpoint saved at n=%d, %d superseded", next, pruned)
	return nil
}
