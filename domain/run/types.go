package run

import (
	"crypto/sha256"
	"fmt"

	"gopac/domain/core"
)

// Parameters are the inputs that determine a run's results. Worker count and
// block size are deliberately absent: they must never change the outcome.
type Parameters struct {
	Pairs       uint64   `json:"pairs"`
	Offset      uint64   `json:"offset"`
	Moduli      []uint64 `json:"moduli"`
	SearchBound uint64   `json:"search_bound"`
	FixRadius   uint64   `json:"fix_radius"`
}

// DefaultModuli are P_2..P_5.
var DefaultModuli = []uint64{6, 30, 210, 2310}

// Default parameter values observed in the reference runs. Offset is the
// 1-based index of p_n, so the default first anchor is 31 + 37 = 68.
const (
	DefaultOffset      = 11
	DefaultSearchBound = 3000
	DefaultFixRadius   = 30
)

// ConfigHash hashes the parameters
func (p Parameters) ConfigHash() core.ConfigHash {
	return core.ComputeConfigHash(p.Pairs, p.Offset, p.Moduli, p.SearchBound, p.FixRadius)
}

// Validate checks the parameters before any computation starts
func (p Parameters) Validate() error {
	if p.Pairs == 0 {
		return fmt.Errorf("%w: must be positive", core.ErrInvalidPairs)
	}
	if p.Offset == 0 {
		return fmt.Errorf("%w: prime indices are 1-based", core.ErrInvalidOffset)
	}
	if len(p.Moduli) == 0 {
		return core.NewConfigurationError("moduli", "at least one modulus is required")
	}
	if p.SearchBound == 0 {
		return core.NewConfigurationError("search_bound", "must be positive")
	}
	if p.Offset+p.Pairs < p.Offset {
		return core.NewOverflowError("add", p.Offset, p.Pairs)
	}
	return nil
}

// RunFingerprint ensures deterministic replay
type RunFingerprint struct {
	ConfigHash  core.ConfigHash `json:"config_hash"`
	CodeVersion string          `json:"code_version"`
	Fingerprint core.Hash       `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(configHash core.ConfigHash, codeVersion string) RunFingerprint {
	return RunFingerprint{
		ConfigHash:  configHash,
		CodeVersion: codeVersion,
		Fingerprint: computeRunFingerprint(configHash, codeVersion),
	}
}

// computeRunFingerprint generates deterministic hash from all determinism parameters
func computeRunFingerprint(configHash core.ConfigHash, codeVersion string) core.Hash {
	data := fmt.Sprintf("config:%s|code:%s", configHash, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
