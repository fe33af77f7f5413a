package anchor

import (
	"fmt"
	"io"

	domainAnchor "gopac/domain/anchor"
	"gopac/domain/core"
)

// PrimeSource yields consecutive primes in increasing order.
type PrimeSource interface {
	Next() (domainAnchor.Prime, error)
}

// Builder turns a prime source into anchor points S_n = p_n + p_{n+1}.
// It holds one prime of lookahead so every prime is read exactly once.
type Builder struct {
	src       PrimeSource
	start     uint64
	remaining uint64

	prev   domainAnchor.Prime
	primed bool
}

// NewBuilder emits count anchors beginning at prime index start.
func NewBuilder(src PrimeSource, start, count uint64) *Builder {
	return &Builder{src: src, start: start, remaining: count}
}

// Remaining returns how many anchors are still to be emitted.
func (b *Builder) Remaining() uint64 {
	return b.remaining
}

// Next returns the next anchor, io.EOF once count anchors were emitted, or
// the source's error.
func (b *Builder) Next() (domainAnchor.Point, error) {
	if b.remaining == 0 {
		return domainAnchor.Point{}, io.EOF
	}
	if !b.primed {
		if err := b.seek(); err != nil {
			return domainAnchor.Point{}, err
		}
	}

	next, err := b.src.Next()
	if err != nil {
		return domainAnchor.Point{}, err
	}
	if next.Value <= b.prev.Value || next.Index != b.prev.Index+1 {
		return domainAnchor.Point{}, fmt.Errorf("prime source out of order: p_%d=%d followed by p_%d=%d",
			b.prev.Index, b.prev.Value, next.Index, next.Value)
	}

	sum := b.prev.Value + next.Value
	if sum < b.prev.Value {
		return domainAnchor.Point{}, core.NewOverflowError("add", b.prev.Value, next.Value)
	}

	pt := domainAnchor.Point{
		Index: b.prev.Index,
		Lower: b.prev.Value,
		Upper: next.Value,
		Sum:   sum,
		Gap:   next.Value - b.prev.Value,
	}
	b.prev = next
	b.remaining--
	return pt, nil
}

// seek discards primes below the start index.
func (b *Builder) seek() error {
	for {
		p, err := b.src.Next()
		if err != nil {
			return err
		}
		if p.Index > b.start {
			return core.NewConfigurationError("offset",
				fmt.Sprintf("prime source begins at index %d, after start index %d", p.Index, b.start))
		}
		if p.Index == b.start {
			b.prev = p
			b.primed = true
			return nil
		}
	}
}
