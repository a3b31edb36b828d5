package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/types"
)

func TestResolveReturnsEnvValue(t *testing.T) {
	t.Setenv("PVEFLEET_TEST_SECRET", "s3cr3t")

	value, err := New().Resolve(types.SecretName("PVEFLEET_TEST_SECRET"))
	assert.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)
}

func TestResolveUnsetNameFails(t *testing.T) {
	_, err := New().Resolve(types.SecretName("PVEFLEET_TEST_SECRET_DOES_NOT_EXIST"))
	assert.ErrorIs(t, err, ferrors.ErrCredentialMissing)
}

func TestResolveEmptyNameFails(t *testing.T) {
	_, err := New().Resolve(types.SecretName(""))
	assert.ErrorIs(t, err, ferrors.ErrCredentialMissing)
}

func TestResolveNeverLeaksValueInErrorMessage(t *testing.T) {
	t.Setenv("PVEFLEET_TEST_SECRET", "s3cr3t-value")

	_, err := New().Resolve(types.SecretName("PVEFLEET_TEST_SECRET_DOES_NOT_EXIST"))
	assert.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cr3t-value")
}
