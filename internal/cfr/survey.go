package cfr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gopac/domain/anchor"
	"gopac/domain/core"
	"gopac/internal/primes"
	"gopac/internal/residue"
)

// MinPrime is the largest prime excluded from the survey.
const MinPrime = 7

const cancelCheckEvery = 1 << 16

// PrimeSource yields consecutive primes in increasing order.
type PrimeSource interface {
	Next() (anchor.Prime, error)
}

// Rate is the composite failure count under one modulus.
type Rate struct {
	Modulus  uint64 `json:"modulus"`
	Failures uint64 `json:"failures"`
	Tested   uint64 `json:"tested"`
}

// Percent is the failure rate in percent.
func (r Rate) Percent() float64 {
	if r.Tested == 0 {
		return 0
	}
	return 100 * float64(r.Failures) / float64(r.Tested)
}

// Result is the outcome of one survey.
type Result struct {
	Primes uint64 `json:"primes"`
	Tested uint64 `json:"tested"`
	Rates  []Rate `json:"rates"`
	// DecayConfirmed is set when rates strictly decrease as the modulus grows.
	DecayConfirmed bool `json:"decay_confirmed"`
}

// NearestMultiple returns the multiple of m closest to q. The lower multiple
// wins only when it is strictly closer.
func NearestMultiple(q, m uint64) uint64 {
	below := q / m * m
	if q-below < below+m-q {
		return below
	}
	return below + m
}

// IsFailure reports whether the distance from q to its nearest multiple of
// m is a composite greater than one.
func IsFailure(q, m uint64) bool {
	a := NearestMultiple(q, m)
	var k uint64
	if a > q {
		k = a - q
	} else {
		k = q - a
	}
	return k > 1 && !primes.IsPrime(k)
}

// Survey reads the first count primes from src and measures, for every
// prime above MinPrime, how often the distance to the nearest multiple of
// each modulus is composite.
func Survey(ctx context.Context, src PrimeSource, count uint64, moduli []uint64) (*Result, error) {
	if count == 0 {
		return nil, core.NewConfigurationError("primes", "must be positive")
	}
	if _, err := residue.NewClassifier(moduli); err != nil {
		return nil, err
	}

	res := &Result{Rates: make([]Rate, len(moduli))}
	for i, m := range moduli {
		res.Rates[i].Modulus = m
	}

	for i := uint64(0); i < count; i++ {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p, err := src.Next()
		if err != nil {
			if errors.Is(err, core.ErrStreamExhausted) {
				break
			}
			return nil, fmt.Errorf("cfr survey at prime %d: %w", i+1, err)
		}
		res.Primes++
		if p.Value <= MinPrime {
			continue
		}
		res.Tested++
		for j := range res.Rates {
			if IsFailure(p.Value, res.Rates[j].Modulus) {
				res.Rates[j].Failures++
			}
		}
	}

	for j := range res.Rates {
		res.Rates[j].Tested = res.Tested
	}
	res.DecayConfirmed = strictlyDecreasing(res.Rates)
	return res, nil
}

// strictlyDecreasing orders by modulus and compares failure counts, which
// share a denominator.
func strictlyDecreasing(rates []Rate) bool {
	if len(rates) < 2 {
		return false
	}
	sorted := append([]Rate(nil), rates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Modulus < sorted[j].Modulus })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Failures >= sorted[i-1].Failures {
			return false
		}
	}
	return true
}
