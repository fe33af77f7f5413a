package run

import (
	"gopac/domain/core"
)

// CodeVersion is bumped whenever a change alters aggregate results.
const CodeVersion = "pac-engine/1"

// Manifest is the complete specification for a run
// This is the "truth source" for replay and checkpoint compatibility
type Manifest struct {
	RunID       core.RunID     `json:"run_id"`
	Parameters  Parameters     `json:"parameters"`
	Workers     int            `json:"workers"`
	CodeVersion string         `json:"code_version"`
	Fingerprint RunFingerprint `json:"fingerprint"`
	CreatedAt   core.Timestamp `json:"created_at"`
}

// NewManifest creates a run manifest from validated parameters
func NewManifest(params Parameters, workers int) *Manifest {
	return &Manifest{
		RunID:       core.NewRunID(),
		Parameters:  params,
		Workers:     workers,
		CodeVersion: CodeVersion,
		Fingerprint: NewRunFingerprint(params.ConfigHash(), CodeVersion),
		CreatedAt:   core.Now(),
	}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewConfigurationError("run_manifest", "run_id cannot be empty")
	}
	if m.CodeVersion == "" {
		return core.NewConfigurationError("run_manifest", "code_version cannot be empty")
	}
	if m.Workers <= 0 {
		return core.NewConfigurationError("run_manifest", "workers must be positive")
	}
	return m.Parameters.Validate()
}

// Compatible reports whether a checkpoint written under other can be resumed
// by this manifest.
func (m *Manifest) Compatible(other RunFingerprint) bool {
	return m.Fingerprint.Fingerprint.Equals(other.Fingerprint)
}
