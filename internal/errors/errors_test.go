package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"gopac/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestWrap_ClassifiesDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{"configuration", core.NewModulusError(60, "not a primorial"), CodeConfigInvalid, 2},
		{"overflow", core.NewOverflowError("add", 1, 2), CodeOverflow, 3},
		{"search", core.NewSearchExhaustedError(10, 60, 1), CodeSearchExhausted, 3},
		{"checkpoint", fmt.Errorf("load: %w", core.ErrNoCheckpoint), CodeNotFound, 1},
		{"other", stderrors.New("disk full"), CodeInternalError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap(tt.err, "run failed")
			assert.Equal(t, tt.code, Classify(err))
			assert.Equal(t, tt.exit, ExitCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestWrap_KeepsAppErrorCode(t *testing.T) {
	err := Wrapf(ConfigInvalid("PAC_PAIRS must be positive"), "loading %s", "env")
	assert.Equal(t, CodeConfigInvalid, Classify(err))
	assert.True(t, core.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "loading env")
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWithCode(t *testing.T) {
	err := WithCode(CodeInvalidInput, stderrors.New("bad flag"))
	assert.Equal(t, CodeInvalidInput, Classify(err))
	assert.Equal(t, 2, ExitCode(err))

	recoded := WithCode(CodeDatabaseError, New(CodeNotFound, "checkpoint not found"))
	assert.Equal(t, CodeDatabaseError, Classify(recoded))
	assert.Equal(t, "checkpoint not found", recoded.Error())
}

func TestViolationExitCode(t *testing.T) {
	assert.Equal(t, 4, ExitCode(Violation(2)))
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, CodeInternalError, Classify(stderrors.New("plain")))
}
