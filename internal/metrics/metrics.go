package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pac"

// Recorder publishes run progress. A nil *Recorder discards everything.
type Recorder struct {
	anchors     prometheus.Counter
	failures    prometheus.Counter
	violations  *prometheus.CounterVec
	unfixed     prometheus.Counter
	index       prometheus.Gauge
	blocks      prometheus.Histogram
	checkpoints prometheus.Counter
}

// New registers the run metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		anchors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchors_processed_total",
			Help:      "Anchors folded into the aggregate state",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "law1_failures_total",
			Help:      "Anchors whose nearest-prime distance is composite",
		}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Perfect anchors whose composite distance shares a protected prime",
		}, []string{"modulus"}),
		unfixed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "law3_unfixed_total",
			Help:      "Failures with no clean neighbour within the fix radius",
		}),
		index: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anchor_index",
			Help:      "Index of the next anchor to be merged",
		}),
		blocks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_seconds",
			Help:      "Time spent searching one block of anchors",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_saved_total",
			Help:      "Checkpoints written to the store",
		}),
	}
}

func (r *Recorder) AnchorsMerged(n int, next uint64) {
	if r == nil {
		return
	}
	r.anchors.Add(float64(n))
	r.index.Set(float64(next))
}

func (r *Recorder) Failure(unfixed bool) {
	if r == nil {
		return
	}
	r.failures.Inc()
	if unfixed {
		r.unfixed.Inc()
	}
}

func (r *Recorder) Violation(modulus uint64) {
	if r == nil {
		return
	}
	r.violations.WithLabelValues(strconv.FormatUint(modulus, 10)).Inc()
}

func (r *Recorder) BlockSearched(d time.Duration) {
	if r == nil {
		return
	}
	r.blocks.Observe(d.Seconds())
}

func (r *Recorder) CheckpointSaved() {
	if r == nil {
		return
	}
	r.checkpoints.Inc()
}
