package proxmox

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/types"
)

// fakeHTTPStatusError satisfies httpStatusError without depending on
// go-proxmox's actual internal error type.
type fakeHTTPStatusError struct {
	status int
}

func (e fakeHTTPStatusError) Error() string  { return http.StatusText(e.status) }
func (e fakeHTTPStatusError) StatusCode() int { return e.status }

func TestClassifyMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ferrors.ErrAuthFailed},
		{"forbidden", http.StatusForbidden, ferrors.ErrAuthFailed},
		{"not found", http.StatusNotFound, ferrors.ErrNodeUnknown},
		{"too many requests", http.StatusTooManyRequests, ferrors.ErrTransport},
		{"bad gateway", http.StatusBadGateway, ferrors.ErrTransport},
		{"service unavailable", http.StatusServiceUnavailable, ferrors.ErrTransport},
		{"gateway timeout", http.StatusGatewayTimeout, ferrors.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(fakeHTTPStatusError{status: tt.status}, "op")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClassifyUnrecognizedErrorFallsBackToTransport(t *testing.T) {
	err := classify(errors.New("connection reset"), "op")
	assert.ErrorIs(t, err, ferrors.ErrTransport)
}

func TestClassifyNilIsNil(t *testing.T) {
	assert.NoError(t, classify(nil, "op"))
}

func TestClassifyNotFoundRemapsNodeUnknownToGuestUnknown(t *testing.T) {
	err := classifyNotFound(fakeHTTPStatusError{status: http.StatusNotFound}, "guest_status")
	assert.ErrorIs(t, err, ferrors.ErrGuestUnknown)
}

func TestClassifyNotFoundLeavesOtherKindsAlone(t *testing.T) {
	err := classifyNotFound(fakeHTTPStatusError{status: http.StatusUnauthorized}, "guest_status")
	assert.ErrorIs(t, err, ferrors.ErrAuthFailed)
	assert.NotErrorIs(t, err, ferrors.ErrGuestUnknown)
}

func TestGuestStatusMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want types.GuestStatus
	}{
		{"running", types.GuestStatusRunning},
		{"stopped", types.GuestStatusStopped},
		{"paused", types.GuestStatusPaused},
		{"suspended", types.GuestStatusPaused},
		{"unknown-state", types.GuestStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, guestStatus(tt.raw))
		})
	}
}

func TestMustAtoi(t *testing.T) {
	assert.Equal(t, 100, mustAtoi("100"))
	assert.Equal(t, 0, mustAtoi(""))
	assert.Equal(t, 42, mustAtoi("42abc"))
}
