package primes

import "math/bits"

var smallPrimes = [...]uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71, 73, 79, 83, 89, 97}

// Every composite below 101^2 has a prime factor in smallPrimes.
const trialLimit = 101 * 101

// The first twelve primes as Miller-Rabin bases are deterministic for every
// n < 3.18e23, which covers all of uint64.
var millerRabinBases = [...]uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}

// IsPrime reports whether n is prime. Deterministic for all uint64.
func IsPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	for _, p := range smallPrimes {
		if n == p {
			return true
		}
		if n%p == 0 {
			return false
		}
	}
	if n < trialLimit {
		return true
	}
	return millerRabin(n)
}

// IsClean reports whether a distance satisfies Law I: k == 1 or k prime.
func IsClean(k uint64) bool {
	return k == 1 || IsPrime(k)
}

func millerRabin(n uint64) bool {
	d := n - 1
	s := bits.TrailingZeros64(d)
	d >>= uint(s)

	for _, a := range millerRabinBases {
		x := powMod(a, d, n)
		if x == 1 || x == n-1 {
			continue
		}
		composite := true
		for r := 1; r < s; r++ {
			x = mulMod(x, x, n)
			if x == n-1 {
				composite = false
				break
			}
		}
		if composite {
			return false
		}
	}
	return true
}

// mulMod computes a*b mod m for a, b < m without overflow.
func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi, lo, m)
	return rem
}

func powMod(base, exp, m uint64) uint64 {
	result := uint64(1)
	base %= m
	for exp > 0 {
		if exp&1 == 1 {
			result = mulMod(result, base, m)
		}
		base = mulMod(base, base, m)
		exp >>= 1
	}
	return result
}
