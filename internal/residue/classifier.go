package residue

import (
	"fmt"
	"math/bits"

	"gopac/domain/anchor"
	"gopac/domain/core"
	"gopac/internal/primes"
)

// MaxPrimorialIndex is the largest k with P_k representable in uint64.
const MaxPrimorialIndex = 15

// Classifier computes residue signatures of anchors under a fixed, ordered
// set of primorial moduli.
type Classifier struct {
	moduli    []uint64
	protected map[uint64][]uint64
}

// NewClassifier validates that every modulus is a primorial and rejects
// duplicates.
func NewClassifier(moduli []uint64) (*Classifier, error) {
	if len(moduli) == 0 {
		return nil, core.NewConfigurationError("moduli", "at least one modulus is required")
	}
	c := &Classifier{
		moduli:    append([]uint64(nil), moduli...),
		protected: make(map[uint64][]uint64, len(moduli)),
	}
	for _, m := range moduli {
		if _, dup := c.protected[m]; dup {
			return nil, core.NewModulusError(m, "duplicate")
		}
		ps, err := primorialFactors(m)
		if err != nil {
			return nil, err
		}
		c.protected[m] = ps
	}
	return c, nil
}

// Moduli returns the configured moduli in order.
func (c *Classifier) Moduli() []uint64 {
	return append([]uint64(nil), c.moduli...)
}

// Classify returns S's signature under every modulus, in configured order.
func (c *Classifier) Classify(sum uint64) []anchor.Signature {
	sigs := make([]anchor.Signature, len(c.moduli))
	for i, m := range c.moduli {
		r := sum % m
		sigs[i] = anchor.Signature{Modulus: m, Residue: r, Perfect: r == 0}
	}
	return sigs
}

// ProtectedPrimes returns the primes dividing the modulus, or nil when it is
// not configured.
func (c *Classifier) ProtectedPrimes(modulus uint64) []uint64 {
	ps, ok := c.protected[modulus]
	if !ok {
		return nil
	}
	return append([]uint64(nil), ps...)
}

// SharedProtected returns the protected primes of modulus that divide k.
func (c *Classifier) SharedProtected(modulus, k uint64) []uint64 {
	var shared []uint64
	for _, p := range c.protected[modulus] {
		if k%p == 0 {
			shared = append(shared, p)
		}
	}
	return shared
}

// IsPrimorial reports whether m equals P_k for some k >= 1.
func IsPrimorial(m uint64) bool {
	_, err := primorialFactors(m)
	return err == nil
}

// Primorial returns P_k, the product of the first k primes.
func Primorial(k int) (uint64, error) {
	if k < 1 || k > MaxPrimorialIndex {
		return 0, core.NewConfigurationError("primorial", fmt.Sprintf("index %d outside 1..%d", k, MaxPrimorialIndex))
	}
	product := uint64(1)
	p := uint64(1)
	for i := 0; i < k; i++ {
		p = nextPrime(p)
		product *= p
	}
	return product, nil
}

// primorialFactors returns the primes of m when m is a primorial.
func primorialFactors(m uint64) ([]uint64, error) {
	if m < 2 {
		return nil, core.NewModulusError(m, "not a primorial")
	}
	var ps []uint64
	product := uint64(1)
	for p := uint64(2); product < m; p = nextPrime(p) {
		hi, lo := bits.Mul64(product, p)
		if hi != 0 {
			return nil, core.NewModulusError(m, "not a primorial")
		}
		product = lo
		ps = append(ps, p)
	}
	if product != m {
		return nil, core.NewModulusError(m, "not a primorial")
	}
	return ps, nil
}

func nextPrime(p uint64) uint64 {
	for p++; !primes.IsPrime(p); p++ {
	}
	return p
}
