package exitcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danieljhkim/stagerun/internal/engine"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"task failure", fmt.Errorf("%w: \"make vet\" (*.go)", engine.ErrTaskFailed), TaskFailed},
		{"config", fmt.Errorf("%w: rule 2: malformed glob pattern", engine.ErrConfig), ConfigError},
		{"not in repo", fmt.Errorf("%w: exit status 128", engine.ErrNotInRepo), ConfigError},
		{"guard", fmt.Errorf("%w: lock held", engine.ErrGuard), GuardError},
		{"empty commit", fmt.Errorf("%w: reverted", engine.ErrEmptyCommit), EmptyCommit},
		{"interrupted", engine.ErrInterrupted, Interrupted},
		{"restore failure outranks task failure", errors.Join(engine.ErrTaskFailed, fmt.Errorf("%w: disk full", engine.ErrGuard)), GuardError},
		{"interrupt outranks restore failure", errors.Join(engine.ErrInterrupted, engine.ErrGuard), Interrupted},
		{"unknown", errors.New("boom"), TaskFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineExitCode(tt.err))
		})
	}
}

func TestDescription(t *testing.T) {
	for _, code := range Codes() {
		assert.NotEqual(t, "Unknown error", Description(code), "code %d", code)
	}
	assert.Equal(t, "Unknown error", Description(99))
}
