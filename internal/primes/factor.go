package primes

import "gopac/domain/anchor"

// Factorize returns the prime factorization of n in ascending prime order.
// It uses trial division and is meant for distances bounded by the search
// bound, not for arbitrary 64-bit values. Factorize(0) and Factorize(1) are empty.
func Factorize(n uint64) []anchor.Factor {
	if n < 2 {
		return nil
	}
	var factors []anchor.Factor
	divide := func(p uint64) {
		var e uint32
		for n%p == 0 {
			n /= p
			e++
		}
		if e > 0 {
			factors = append(factors, anchor.Factor{Prime: p, Exponent: e})
		}
	}

	divide(2)
	divide(3)
	// 6k±1 candidates
	for p := uint64(5); p <= n/p; p += 6 {
		divide(p)
		divide(p + 2)
	}
	if n > 1 {
		factors = append(factors, anchor.Factor{Prime: n, Exponent: 1})
	}
	return factors
}

// SmallestFactor returns the smallest prime factor of n, n itself when n is
// prime, and 0 for n < 2.
func SmallestFactor(n uint64) uint64 {
	if n < 2 {
		return 0
	}
	if n%2 == 0 {
		return 2
	}
	if n%3 == 0 {
		return 3
	}
	for p := uint64(5); p <= n/p; p += 6 {
		if n%p == 0 {
			return p
		}
		if n%(p+2) == 0 {
			return p + 2
		}
	}
	return n
}

// Product multiplies a factorization back out.
func Product(factors []anchor.Factor) uint64 {
	n := uint64(1)
	for _, f := range factors {
		for i := uint32(0); i < f.Exponent; i++ {
			n *= f.Prime
		}
	}
	return n
}
