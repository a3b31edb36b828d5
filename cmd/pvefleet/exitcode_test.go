package main

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexops/pvefleet/pkg/ferrors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error succeeds", nil, 0},
		{"cliError carries its own code", runFailed(3, errors.New("all hosts skipped")), 3},
		{"manifestNotFound maps to 65", manifestNotFound(errors.New("no such file")), 65},
		{"manifestInvalid maps to 64", manifestInvalid(errors.New("bad toml")), 64},
		{"cancelled maps to 130", cancelled(errors.New("context canceled")), 130},
		{"bare os.ErrNotExist maps to 65", fmt.Errorf("open manifest: %w", os.ErrNotExist), 65},
		{"bare ferrors.ErrManifestInvalid maps to 64", fmt.Errorf("validate: %w", ferrors.ErrManifestInvalid), 64},
		{"bare ferrors.ErrForbiddenOverride maps to 64", fmt.Errorf("validate: %w", ferrors.ErrForbiddenOverride), 64},
		{"unrecognized bare error maps to 2", errors.New("something went wrong"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestOpenManifestErr(t *testing.T) {
	notExist := openManifestErr(os.ErrNotExist)
	assert.Equal(t, 65, notExist.code)

	malformed := openManifestErr(errors.New("permission denied"))
	assert.Equal(t, 64, malformed.code)
}
