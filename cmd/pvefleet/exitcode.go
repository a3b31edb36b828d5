package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nexops/pvefleet/pkg/ferrors"
)

// cliError pairs an error with the process exit code it must produce,
// per spec §6's exit-code table. A command's RunE wraps any terminal
// error in one of these so main can derive os.Exit's argument without
// re-inspecting error chains it didn't produce.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func manifestNotFound(err error) *cliError {
	return &cliError{code: 65, err: fmt.Errorf("manifest not found: %w", err)}
}

func manifestInvalid(err error) *cliError {
	return &cliError{code: 64, err: err}
}

func cancelled(err error) *cliError {
	return &cliError{code: 130, err: err}
}

func runFailed(code int, err error) *cliError {
	return &cliError{code: code, err: err}
}

// exitCodeFor derives the process exit status from whatever rootCmd.Execute
// returned. A bare error (one a RunE returned without going through the
// helpers above) exits 65 if it wraps os.ErrNotExist, 64 if it wraps a
// manifest error kind, and 2 — the generic "run failed" status — otherwise.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var ce *cliError
	if errors.As(err, &ce) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", ce.err)
		return ce.code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, os.ErrNotExist) {
		return 65
	}
	switch ferrors.Kind(err) {
	case "ManifestSyntax", "ManifestInvalid", "ForbiddenOverride":
		return 64
	}
	return 2
}

func openManifestErr(err error) *cliError {
	if os.IsNotExist(err) {
		return manifestNotFound(err)
	}
	return manifestInvalid(err)
}
