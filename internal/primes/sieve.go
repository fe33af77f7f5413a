package primes

import (
	"math"
	"math/bits"
)

// One byte covers 30 consecutive integers; bit i marks lo + wheel[i].
var wheel = [8]uint64{1, 7, 11, 13, 17, 19, 23, 29}

// wheelBit maps a residue mod 30 to its bit, or -1 when the residue shares a
// factor with 30.
var wheelBit = func() [30]int8 {
	var t [30]int8
	for i := range t {
		t[i] = -1
	}
	for i, w := range wheel {
		t[w] = int8(i)
	}
	return t
}()

// segmentSieve holds the base primes (>= 7) used to sieve windows. It is
// owned by a single goroutine.
type segmentSieve struct {
	base      []uint64
	baseLimit uint64
	buf       []byte
}

func newSegmentSieve(segmentBytes int) *segmentSieve {
	return &segmentSieve{buf: make([]byte, segmentBytes)}
}

// span is the number of integers covered by one window.
func (s *segmentSieve) span() uint64 {
	return uint64(len(s.buf)) * 30
}

// ensureBase grows the base primes so that every prime <= limit is present.
func (s *segmentSieve) ensureBase(limit uint64) {
	if limit <= s.baseLimit {
		return
	}
	newLimit := limit * 2
	if newLimit < 1<<16 {
		newLimit = 1 << 16
	}
	composite := make([]bool, newLimit+1)
	base := s.base[:0]
	for i := uint64(2); i <= newLimit; i++ {
		if composite[i] {
			continue
		}
		if i >= 7 {
			base = append(base, i)
		}
		for j := i * i; j <= newLimit; j += i {
			composite[j] = true
		}
	}
	s.base = base
	s.baseLimit = newLimit
}

// window sieves [lo, lo+span) and appends its primes to dst. lo must be a
// multiple of 30. 2, 3 and 5 are never produced; 1 is cleared.
func (s *segmentSieve) window(lo uint64, dst []uint64) []uint64 {
	hi := lo + s.span()
	s.ensureBase(isqrt(hi-1) + 1)

	buf := s.buf
	for i := range buf {
		buf[i] = 0xFF
	}
	if lo == 0 {
		buf[0] &^= 1 // the integer 1
	}

	for _, p := range s.base {
		if p > (hi-1)/p {
			break
		}
		kmin := (lo + p - 1) / p
		if kmin < p {
			kmin = p
		}
		r := kmin % 30
		for _, w := range wheel {
			k := kmin - r + w
			if w < r {
				k += 30
			}
			m := p * k
			if m >= hi {
				continue
			}
			bit := byte(1) << uint(wheelBit[m%30])
			for idx := (m - lo) / 30; idx < uint64(len(buf)); idx += p {
				buf[idx] &^= bit
			}
		}
	}

	for i, b := range buf {
		for b != 0 {
			t := bits.TrailingZeros8(b)
			dst = append(dst, lo+uint64(i)*30+wheel[t])
			b &= b - 1
		}
	}
	return dst
}

func isqrt(n uint64) uint64 {
	r := uint64(math.Sqrt(float64(n)))
	for r > 0 && r > n/r {
		r--
	}
	for (r+1) <= n/(r+1) {
		r++
	}
	return r
}
