package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Fails before any computation starts
	ErrConfiguration  = errors.New("invalid configuration")
	ErrInvalidPairs   = fmt.Errorf("%w: pair count", ErrConfiguration)
	ErrInvalidOffset  = fmt.Errorf("%w: start offset", ErrConfiguration)
	ErrInvalidModulus = fmt.Errorf("%w: modulus", ErrConfiguration)

	// Abort the run
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrSearchExhausted    = errors.New("nearest prime search exhausted")
	ErrStreamExhausted    = errors.New("prime stream exhausted")

	// Lifecycle errors
	ErrFinalized      = errors.New("aggregate state already finalized")
	ErrOutOfOrder     = errors.New("anchor applied out of index order")
	ErrInvalidOutcome = errors.New("outcome does not match k_min")
	ErrNoCheckpoint   = errors.New("no checkpoint found")
	ErrHashMismatch   = errors.New("hash mismatch")
)

// Error constructors with context
func NewConfigurationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrConfiguration, field, reason)
}

func NewModulusError(modulus uint64, reason string) error {
	return fmt.Errorf("%w %d: %s", ErrInvalidModulus, modulus, reason)
}

func NewOverflowError(op string, a, b uint64) error {
	return fmt.Errorf("%w: %s(%d, %d) exceeds uint64", ErrArithmeticOverflow, op, a, b)
}

func NewSearchExhaustedError(index, sum, bound uint64) error {
	return fmt.Errorf("%w: anchor n=%d S=%d found no prime within distance %d", ErrSearchExhausted, index, sum, bound)
}

// Error checking helpers
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsOverflowError(err error) bool {
	return errors.Is(err, ErrArithmeticOverflow)
}

func IsSearchExhausted(err error) bool {
	return errors.Is(err, ErrSearchExhausted)
}

// IsFatal reports whether err must abort a run rather than be recorded.
func IsFatal(err error) bool {
	return IsConfigurationError(err) || IsOverflowError(err) || IsSearchExhausted(err) ||
		errors.Is(err, ErrStreamExhausted)
}
