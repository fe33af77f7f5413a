package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"gopac/domain/anchor"
	"gopac/domain/core"
	"gopac/domain/run"
	"gopac/internal"
	"gopac/internal/aggregate"
	anchorBuilder "gopac/internal/anchor"
	"gopac/internal/checkpoint"
	"gopac/internal/errors"
	"gopac/internal/metrics"
	"gopac/internal/primes"
	"gopac/internal/residue"
	"gopac/internal/search"
)

// Defaults for the tuning options.
const (
	DefaultBlockSize     = 4096
	DefaultProgressEvery = 1_000_000
)

// Options configure a Runner. Only Params affect results.
type Options struct {
	Params          run.Parameters
	Workers         int
	BlockSize       int
	SegmentBytes    int
	Prefetch        int
	ProgressEvery   uint64
	CheckpointEvery uint64
	// Resume continues from the latest checkpoint for Params, if any.
	Resume bool
}

// FailureSink receives every failure record in index order from the merge
// goroutine.
type FailureSink interface {
	WriteFailure(rec anchor.FailureRecord) error
}

// CheckpointStore persists and reloads run prefixes. Prune drops checkpoints
// superseded by one at index before.
type CheckpointStore interface {
	Save(ctx context.Context, cp checkpoint.Checkpoint) error
	Latest(ctx context.Context, hash core.ConfigHash) (*checkpoint.Checkpoint, error)
	Prune(ctx context.Context, hash core.ConfigHash, before uint64) (int64, error)
}

// Option customizes a Runner.
type Option func(*Runner)

func WithLogger(l *internal.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithMetrics(m *metrics.Recorder) Option { return func(r *Runner) { r.metrics = m } }

func WithFailureSink(s FailureSink) Option { return func(r *Runner) { r.sink = s } }

func WithCheckpoints(s CheckpointStore) Option { return func(r *Runner) { r.store = s } }

// Runner orchestrates one run: a producer sieves primes and cuts anchors into
// blocks, workers search blocks concurrently, and a single merge goroutine
// applies results in index order.
type Runner struct {
	opts       Options
	manifest   *run.Manifest
	classifier *residue.Classifier
	searcher   *search.Searcher

	logger  *internal.Logger
	metrics *metrics.Recorder
	sink    FailureSink
	store   CheckpointStore
}

// NewRunner validates the options. Configuration errors are reported here,
// before any computation.
func NewRunner(opts Options, options ...Option) (*Runner, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	classifier, err := residue.NewClassifier(opts.Params.Moduli)
	if err != nil {
		return nil, err
	}
	end := opts.Params.Offset + opts.Params.Pairs
	if end+opts.Params.FixRadius < end {
		return nil, core.NewOverflowError("add", end, opts.Params.FixRadius)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.ProgressEvery == 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}

	r := &Runner{
		opts:       opts,
		manifest:   run.NewManifest(opts.Params, opts.Workers),
		classifier: classifier,
		searcher:   search.NewSearcher(opts.Params.SearchBound),
		logger:     internal.DefaultLogger,
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// Manifest describes the run.
func (r *Runner) Manifest() *run.Manifest {
	return r.manifest
}

// Classifier returns the residue classifier built from the moduli.
func (r *Runner) Classifier() *residue.Classifier {
	return r.classifier
}

// block is a contiguous slice of anchors. Only anchors with index >= primary
// are searched; the rest are context for the correction window.
type block struct {
	seq     uint64
	anchors []anchor.Point
	evals   []anchor.Evaluated
}

// plan is the index range a run covers.
type plan struct {
	primary uint64 // first anchor to aggregate
	end     uint64 // one past the last anchor to aggregate
	lo      uint64 // first anchor built
	hi      uint64 // one past the last anchor built
	stream  primes.Options
	state   *aggregate.State
}

// Run computes the aggregate snapshot. Identical Params yield an identical
// snapshot regardless of worker count or block size.
func (r *Runner) Run(ctx context.Context) (*aggregate.Snapshot, error) {
	p, err := r.plan(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("run %s: anchors [%d, %d) moduli=%v workers=%d search_bound=%d fix_radius=%d config=%s",
		r.manifest.RunID, p.primary, p.end, r.opts.Params.Moduli, r.opts.Workers,
		r.searcher.Bound(), r.opts.Params.FixRadius, core.Hash(r.opts.Params.ConfigHash()).Short())

	started := time.Now()
	if p.primary < p.end {
		if err := r.execute(ctx, p); err != nil {
			if core.IsFatal(err) {
				r.logger.Error("run %s aborted: %v", r.manifest.RunID, err)
			}
			return nil, err
		}
	}
	if next := p.state.NextIndex(); next != p.end {
		return nil, errors.InternalError(fmt.Sprintf("run stopped at n=%d before n=%d", next, p.end))
	}

	snap := p.state.Finalize()
	t := snap.Totals
	r.logger.Info("run %s finished in %s: anchors=%d clean=%d failures=%d (%.4f%%) symmetric=%d max_k=%d violations=%d",
		r.manifest.RunID, time.Since(started).Round(time.Millisecond), t.Anchors, t.Clean(), t.Failures,
		100*t.FailureRate(), t.Symmetric, t.MaxK, len(snap.Violations))
	if snap.Correction != nil && len(snap.Correction.Unfixed) > 0 {
		r.logger.Warn("%d failures have no fix within radius %d", len(snap.Correction.Unfixed), snap.Correction.Radius)
	}
	return snap, nil
}

func (r *Runner) plan(ctx context.Context) (*plan, error) {
	params := r.opts.Params
	radius := params.FixRadius
	p := &plan{
		primary: params.Offset,
		end:     params.Offset + params.Pairs,
		stream: primes.Options{
			SegmentBytes: r.opts.SegmentBytes,
			Prefetch:     r.opts.Prefetch,
			StartValue:   2,
			StartIndex:   1,
		},
	}
	p.lo = lowerContext(params.Offset, radius)
	p.hi = p.end + radius

	if r.opts.Resume && r.store != nil {
		cp, err := r.store.Latest(ctx, params.ConfigHash())
		switch {
		case stderrors.Is(err, core.ErrNoCheckpoint):
			r.logger.Info("no checkpoint for config %s, starting fresh", core.Hash(params.ConfigHash()).Short())
		case err != nil:
			return nil, err
		default:
			state, err := aggregate.Restore(r.classifier, cp.Snapshot)
			if err != nil {
				return nil, err
			}
			p.state = state
			p.primary = cp.NextIndex
			p.lo = cp.ResumeIndex
			p.stream.StartValue = cp.ResumePrime
			p.stream.StartIndex = cp.ResumeIndex
			r.logger.Info("resuming from checkpoint at n=%d (stream restarts at p_%d=%d)",
				cp.NextIndex, cp.ResumeIndex, cp.ResumePrime)
		}
	}
	if p.state == nil {
		p.state = aggregate.New(r.classifier, params.Offset, radius)
	}
	return p, nil
}

func lowerContext(n, radius uint64) uint64 {
	if n > radius {
		return n - radius
	}
	return 1
}

func (r *Runner) execute(ctx context.Context, p *plan) error {
	workers := r.opts.Workers
	inflight := int64(2 * workers)

	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(inflight)
	work := make(chan *block)
	results := make(chan *block, inflight)

	// work and results are closed only on success; a failed stage is seen
	// by the merger as ctx cancellation, never as end of input.
	g.Go(func() error {
		if err := r.produce(ctx, p, sem, work); err != nil {
			return err
		}
		close(work)
		return nil
	})

	workerGroup, workerCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerGroup.Go(func() error {
			return r.work(workerCtx, p, work, results)
		})
	}
	g.Go(func() error {
		if err := workerGroup.Wait(); err != nil {
			return err
		}
		close(results)
		return nil
	})

	g.Go(func() error {
		m := newMerger(r, p)
		for {
			select {
			case b, ok := <-results:
				if !ok {
					return m.flush(ctx)
				}
				n, err := m.add(ctx, b)
				sem.Release(int64(n))
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

func (r *Runner) produce(ctx context.Context, p *plan, sem *semaphore.Weighted, work chan<- *block) error {
	stream := primes.NewStream(p.stream)
	defer stream.Close()

	builder := anchorBuilder.NewBuilder(stream, p.lo, p.hi-p.lo)
	size := r.opts.BlockSize
	for seq := uint64(0); ; seq++ {
		n := uint64(size)
		if rem := builder.Remaining(); rem < n {
			n = rem
		}
		if n == 0 {
			return nil
		}
		b := &block{seq: seq, anchors: make([]anchor.Point, 0, n)}
		for uint64(len(b.anchors)) < n {
			a, err := builder.Next()
			if err != nil {
				return err
			}
			b.anchors = append(b.anchors, a)
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		select {
		case work <- b:
		case <-ctx.Done():
			sem.Release(1)
			return ctx.Err()
		}
	}
}

func (r *Runner) work(ctx context.Context, p *plan, work <-chan *block, results chan<- *block) error {
	for {
		var b *block
		select {
		case next, ok := <-work:
			if !ok {
				return nil
			}
			b = next
		case <-ctx.Done():
			return ctx.Err()
		}

		started := time.Now()
		b.evals = make([]anchor.Evaluated, 0, len(b.anchors))
		for _, a := range b.anchors {
			if a.Index < p.primary || a.Index >= p.end {
				continue
			}
			np, err := r.searcher.Nearest(a)
			if err != nil {
				return err
			}
			b.evals = append(b.evals, anchor.Evaluated{
				Anchor:     a,
				Nearest:    np,
				Outcome:    search.Classify(np.Distance),
				Signatures: r.classifier.Classify(a.Sum),
			})
		}
		elapsed := time.Since(started)
		r.metrics.BlockSearched(elapsed)
		r.logger.Trace("block %d: searched %d anchors in %s", b.seq, len(b.evals), elapsed)
		select {
		case results <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
