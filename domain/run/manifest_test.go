package run

import (
	"errors"
	"testing"

	"gopac/domain/core"
)

func defaultParams() Parameters {
	return Parameters{
		Pairs:       1000,
		Offset:      DefaultOffset,
		Moduli:      DefaultModuli,
		SearchBound: DefaultSearchBound,
		FixRadius:   DefaultFixRadius,
	}
}

func TestRunFingerprint_Deterministic(t *testing.T) {
	// Golden test - same inputs produce identical fingerprints
	fp1 := NewRunFingerprint(defaultParams().ConfigHash(), CodeVersion)
	fp2 := NewRunFingerprint(defaultParams().ConfigHash(), CodeVersion)

	if fp1.Fingerprint != fp2.Fingerprint {
		t.Errorf("Fingerprints not identical: %s vs %s", fp1.Fingerprint, fp2.Fingerprint)
	}
	if fp1.CodeVersion != CodeVersion {
		t.Errorf("CodeVersion mismatch: %s vs %s", fp1.CodeVersion, CodeVersion)
	}
}

func TestRunFingerprint_Unique(t *testing.T) {
	base := NewRunFingerprint(defaultParams().ConfigHash(), CodeVersion)

	morePairs := defaultParams()
	morePairs.Pairs = 2000
	otherOffset := defaultParams()
	otherOffset.Offset = 1
	fewerModuli := defaultParams()
	fewerModuli.Moduli = []uint64{6, 30}

	testCases := []struct {
		name string
		fp   RunFingerprint
	}{
		{"different pairs", NewRunFingerprint(morePairs.ConfigHash(), CodeVersion)},
		{"different offset", NewRunFingerprint(otherOffset.ConfigHash(), CodeVersion)},
		{"different moduli", NewRunFingerprint(fewerModuli.ConfigHash(), CodeVersion)},
		{"different code", NewRunFingerprint(defaultParams().ConfigHash(), "pac-engine/0")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.fp.Fingerprint == base.Fingerprint {
				t.Errorf("Fingerprint should be different for %s", tc.name)
			}
		})
	}
}

func TestManifest_WorkersDoNotChangeFingerprint(t *testing.T) {
	m1 := NewManifest(defaultParams(), 1)
	m8 := NewManifest(defaultParams(), 8)

	if !m1.Compatible(m8.Fingerprint) {
		t.Errorf("worker count must not affect the fingerprint")
	}
	stale := NewRunFingerprint(defaultParams().ConfigHash(), "pac-engine/0")
	if m1.Compatible(stale) {
		t.Errorf("a fingerprint from another code version must not be compatible")
	}
	if m1.RunID == m8.RunID {
		t.Errorf("each manifest should get its own run ID")
	}
	if err := m1.Validate(); err != nil {
		t.Errorf("Manifest validation failed: %v", err)
	}
}

func TestParameters_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero pairs", func(p *Parameters) { p.Pairs = 0 }},
		{"zero offset", func(p *Parameters) { p.Offset = 0 }},
		{"no moduli", func(p *Parameters) { p.Moduli = nil }},
		{"zero bound", func(p *Parameters) { p.SearchBound = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if !core.IsConfigurationError(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}

	noPairs := defaultParams()
	noPairs.Pairs = 0
	if err := noPairs.Validate(); !errors.Is(err, core.ErrInvalidPairs) {
		t.Errorf("expected ErrInvalidPairs, got %v", err)
	}
	noOffset := defaultParams()
	noOffset.Offset = 0
	if err := noOffset.Validate(); !errors.Is(err, core.ErrInvalidOffset) {
		t.Errorf("expected ErrInvalidOffset, got %v", err)
	}

	overflow := defaultParams()
	overflow.Pairs = ^uint64(0)
	if err := overflow.Validate(); !core.IsOverflowError(err) {
		t.Errorf("expected overflow error, got %v", err)
	}
}
