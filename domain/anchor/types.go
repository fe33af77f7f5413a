package anchor

// Prime is a positive integer known to be prime together with its 1-based
// position in the ordered prime sequence.
type Prime struct {
	Value uint64 `json:"value"`
	Index uint64 `json:"index"`
}

// Point is the anchor S_n = p_n + p_{n+1} derived from two adjacent primes.
// Invariant: Sum == Lower + Upper == 2*Lower + Gap, Gap > 0.
type Point struct {
	Index uint64 `json:"n"`
	Lower uint64 `json:"p_n"`
	Upper uint64 `json:"p_n1"`
	Sum   uint64 `json:"s"`
	Gap   uint64 `json:"g"`
}

// Excludes reports whether q is one of the two primes that formed the anchor.
func (p Point) Excludes(q uint64) bool {
	return q == p.Lower || q == p.Upper
}

// NearestPrime is the closest prime to an anchor other than its two source primes.
type NearestPrime struct {
	Prime    uint64 `json:"q"`
	Distance uint64 `json:"k_min"`
	// Symmetric is set when S-d and S+d were both qualifying primes at the
	// minimal distance; Prime then holds the smaller one.
	Symmetric bool `json:"symmetric,omitempty"`
}

// Signature is an anchor's residue under one modulus.
type Signature struct {
	Modulus uint64 `json:"modulus"`
	Residue uint64 `json:"residue"`
	Perfect bool   `json:"perfect"`
}

// Outcome classifies k_min.
type Outcome string

const (
	OutcomeUnit      Outcome = "unit"      // k_min == 1
	OutcomePrime     Outcome = "prime"     // k_min prime
	OutcomeComposite Outcome = "composite" // Law I failure
)

// IsFailure reports whether the outcome is a Law I failure.
func (o Outcome) IsFailure() bool { return o == OutcomeComposite }

// Factor is one prime power in a factorization.
type Factor struct {
	Prime    uint64 `json:"p"`
	Exponent uint32 `json:"e"`
}

// Fix is the Law III correction found for a failing anchor.
type Fix struct {
	Radius uint64 `json:"r"`
	Sum    uint64 `json:"s_fix"`
	Index  uint64 `json:"n_fix"`
}

// FailureRecord is emitted for every anchor whose k_min is composite.
type FailureRecord struct {
	Anchor         Point        `json:"anchor"`
	Nearest        NearestPrime `json:"nearest"`
	Factors        []Factor     `json:"factors"`
	SmallestFactor uint64       `json:"smallest_factor"`
	Signatures     []Signature  `json:"signatures"`
	// Fix is nil when correction tracking is disabled or no neighbour within
	// the configured radius repairs the failure.
	Fix *Fix `json:"fix,omitempty"`
}

// Evaluated bundles an anchor with everything computed about it.
type Evaluated struct {
	Anchor     Point
	Nearest    NearestPrime
	Outcome    Outcome
	Signatures []Signature
}
