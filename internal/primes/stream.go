package primes

import (
	"sync"

	"gopac/domain/anchor"
	"gopac/domain/core"
)

const (
	// DefaultSegmentBytes sieves 983,040 integers per window.
	DefaultSegmentBytes = 32 * 1024
	// DefaultMaxValue keeps every candidate, anchor sum and squared base prime
	// comfortably inside uint64.
	DefaultMaxValue = uint64(1) << 62
)

// Options configure a Stream
type Options struct {
	// SegmentBytes is the window size in bytes; each byte covers 30 integers.
	SegmentBytes int
	// Prefetch is the number of windows sieved ahead of consumption by a
	// background goroutine. Zero sieves inline.
	Prefetch int
	// StartValue is the smallest value the stream may yield; the first prime
	// returned is the smallest prime >= StartValue.
	StartValue uint64
	// StartIndex is the 1-based index assigned to the first prime returned.
	// The caller must supply it when StartValue > 2.
	StartIndex uint64
	// MaxValue bounds every candidate; crossing it yields ErrArithmeticOverflow.
	MaxValue uint64
}

// DefaultOptions starts at 2 with index 1 and sieves inline.
func DefaultOptions() Options {
	return Options{
		SegmentBytes: DefaultSegmentBytes,
		StartValue:   2,
		StartIndex:   1,
		MaxValue:     DefaultMaxValue,
	}
}

func (o Options) normalized() Options {
	if o.SegmentBytes <= 0 {
		o.SegmentBytes = DefaultSegmentBytes
	}
	if o.StartValue < 2 {
		o.StartValue = 2
	}
	if o.StartIndex == 0 {
		o.StartIndex = 1
	}
	if o.MaxValue == 0 || o.MaxValue > DefaultMaxValue {
		o.MaxValue = DefaultMaxValue
	}
	if o.Prefetch < 0 {
		o.Prefetch = 0
	}
	return o
}

// Stream yields consecutive primes in strictly increasing order. It is
// finite, cannot be rewound, and is not safe for concurrent use by more
// than one consumer.
type Stream struct {
	opts      Options
	producer  *windowProducer
	windows   chan window
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	buf       []uint64
	pos       int
	nextIndex uint64
	err       error
}

type window struct {
	primes []uint64
	err    error
}

// NewStream creates a stream. Callers must Close streams created with
// Prefetch > 0 to stop the background sieve.
func NewStream(opts Options) *Stream {
	opts = opts.normalized()
	s := &Stream{
		opts:      opts,
		producer:  newWindowProducer(opts),
		nextIndex: opts.StartIndex,
	}
	if opts.Prefetch > 0 {
		s.windows = make(chan window, opts.Prefetch)
		s.done = make(chan struct{})
		s.wg.Add(1)
		go s.prefetch()
	}
	return s
}

// Next returns the next prime. After an error every later call returns the
// same error.
func (s *Stream) Next() (anchor.Prime, error) {
	for s.pos >= len(s.buf) {
		if s.err != nil {
			return anchor.Prime{}, s.err
		}
		s.fill()
	}
	p := anchor.Prime{Value: s.buf[s.pos], Index: s.nextIndex}
	s.pos++
	s.nextIndex++
	return p, nil
}

// Close stops prefetching. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if s.done != nil {
			close(s.done)
			s.wg.Wait()
		}
	})
}

func (s *Stream) fill() {
	var w window
	if s.windows == nil {
		w = s.producer.next(s.buf[:0])
	} else {
		var ok bool
		w, ok = <-s.windows
		if !ok {
			w = window{err: core.ErrStreamExhausted}
		}
	}
	s.buf, s.pos, s.err = w.primes, 0, w.err
}

func (s *Stream) prefetch() {
	defer s.wg.Done()
	defer close(s.windows)
	for {
		w := s.producer.next(nil)
		select {
		case s.windows <- w:
		case <-s.done:
			return
		}
		if w.err != nil {
			return
		}
	}
}

// windowProducer advances the sieve window by window.
type windowProducer struct {
	sieve    *segmentSieve
	start    uint64
	maxValue uint64
	lo       uint64
	small    bool
}

func newWindowProducer(opts Options) *windowProducer {
	return &windowProducer{
		sieve:    newSegmentSieve(opts.SegmentBytes),
		start:    opts.StartValue,
		maxValue: opts.MaxValue,
		lo:       opts.StartValue / 30 * 30,
		small:    opts.StartValue <= 5,
	}
}

func (p *windowProducer) next(dst []uint64) window {
	if p.small {
		p.small = false
		for _, v := range [...]uint64{2, 3, 5} {
			if v >= p.start {
				dst = append(dst, v)
			}
		}
	}

	span := p.sieve.span()
	if p.lo > p.maxValue-span {
		return window{primes: dst, err: core.NewOverflowError("window", p.lo, span)}
	}

	first := len(dst)
	dst = p.sieve.window(p.lo, dst)
	if p.lo < p.start {
		kept := dst[:first]
		for _, v := range dst[first:] {
			if v >= p.start {
				kept = append(kept, v)
			}
		}
		dst = kept
	}
	p.lo += span
	return window{primes: dst}
}
