package verdict

// VerdictStatus represents the outcome of testing a conjecture over a run
type VerdictStatus string

const (
	StatusVerified  VerdictStatus = "verified"
	StatusFalsified VerdictStatus = "falsified"
	StatusNoData    VerdictStatus = "no_data"
)

// Reason explains a verdict
type Reason string

const (
	ReasonNoViolations     Reason = "no_violations"
	ReasonViolationsFound  Reason = "violations_found"
	ReasonNoPerfectAnchors Reason = "no_perfect_anchors"
	ReasonDecayObserved    Reason = "strict_decay_observed"
	ReasonDecayBroken      Reason = "decay_not_monotonic"
	ReasonUnfixedFailures  Reason = "unfixed_failures"
	ReasonAllFixed         Reason = "all_failures_fixed"
	ReasonNoFailures       Reason = "no_failures"
)

// Verdict represents a judgment on one claim
type Verdict struct {
	Claim  string        `json:"claim"`
	Status VerdictStatus `json:"status"`
	Reason Reason        `json:"reason"`
	// Evidence is the count supporting the status: violations when falsified,
	// perfect-anchor failures examined when verified.
	Evidence uint64 `json:"evidence"`
}

// Falsified reports whether the claim was refuted
func (v Verdict) Falsified() bool { return v.Status == StatusFalsified }

// Summary aggregates verdicts for a whole run
type Summary struct {
	Verdicts []Verdict `json:"verdicts"`
}

// Overall is falsified if any claim is falsified, verified if at least one
// claim is verified, and no_data otherwise.
func (s Summary) Overall() VerdictStatus {
	verified := false
	for _, v := range s.Verdicts {
		switch v.Status {
		case StatusFalsified:
			return StatusFalsified
		case StatusVerified:
			verified = true
		}
	}
	if verified {
		return StatusVerified
	}
	return StatusNoData
}
