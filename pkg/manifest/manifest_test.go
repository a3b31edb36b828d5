package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexops/pvefleet/pkg/ferrors"
)

const sampleManifest = `
[defaults]
user = "root"
identity_file = "/root/.ssh/id_fleet"
max_parallel = 2
dry_run = false

[defaults.ssh]
connect_timeout_s = 5

[defaults.guest]
user = "admin"
password_env = "GUEST_DEFAULT_PASSWORD"

[[hosts]]
name = "pve-a"
host = "10.0.0.1"

[hosts.api]
node = "pve-a"
secret_env = "PVE_A_TOKEN_SECRET"
token_id = { env = "PVE_A_TOKEN_ID" }

[[hosts]]
name = "pve-b"
host = "10.0.0.2"
max_parallel = 4

[hosts.api]
node = "pve-b"

[[hosts.guest_inventory]]
identifier = "101"
kind = "vm"
managed = true
`

func TestParseValidManifest(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Hosts, 2)
	assert.Equal(t, "pve-a", m.Hosts[0].Name)
	assert.Equal(t, 2, m.Defaults.MaxParallel)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(strings.NewReader("this is [ not valid toml"))
	require.Error(t, err)
	assert.Equal(t, "ManifestSyntax", ferrors.Kind(err))
}

func TestParseMissingRequiredFields(t *testing.T) {
	_, err := Parse(strings.NewReader(`[[hosts]]
name = "only-name"
`))
	require.Error(t, err)
	assert.Equal(t, "ManifestInvalid", ferrors.Kind(err))
	assert.Contains(t, err.Error(), "host is required")
}

func TestParseForbiddenOverride(t *testing.T) {
	_, err := Parse(strings.NewReader(`[[hosts]]
name = "pve-a"
host = "10.0.0.1"
identity_file = "/tmp/not-allowed"
`))
	require.Error(t, err)
	assert.Equal(t, "ForbiddenOverride", ferrors.Kind(err))
}

func TestParseDuplicateHostName(t *testing.T) {
	_, err := Parse(strings.NewReader(`[[hosts]]
name = "dup"
host = "10.0.0.1"

[[hosts]]
name = "dup"
host = "10.0.0.2"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate host name")
}

func TestEffectiveInheritsDefaults(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	view, err := m.Effective("pve-a")
	require.NoError(t, err)

	assert.Equal(t, "root", view.SSH.User)
	assert.Equal(t, "/root/.ssh/id_fleet", view.SSH.IdentityFile)
	assert.Equal(t, 5, view.SSH.ConnectTimeout)
	assert.Equal(t, 2, view.MaxParallel, "inherited from defaults")
	assert.Equal(t, "admin", view.Guest.SSH.User)
}

func TestEffectiveHostOverridesMaxParallel(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	view, err := m.Effective("pve-b")
	require.NoError(t, err)

	assert.Equal(t, 4, view.MaxParallel, "host-level override wins")
	require.Len(t, view.GuestInventory, 1)
	assert.NotNil(t, view.GuestInventory[0].Credentials, "guest without explicit credentials inherits defaults.guest")
	assert.Equal(t, "admin", view.GuestInventory[0].Credentials.SSH.User)
}

func TestEffectiveUnknownHost(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	_, err = m.Effective("does-not-exist")
	require.Error(t, err)
	assert.Equal(t, "NodeUnknown", ferrors.Kind(err))
}

func TestRenderRoundTripPreservesUnknownKeys(t *testing.T) {
	doc := `[defaults]
user = "root"
max_parallel = 1

[defaults.extension]
custom_field = "kept-verbatim"

[[hosts]]
name = "pve-a"
host = "10.0.0.1"
future_field = "also-kept"

[hosts.api]
node = "pve-a"
`
	m, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	rendered := m.String()
	assert.Contains(t, rendered, "custom_field")
	assert.Contains(t, rendered, "kept-verbatim")
	assert.Contains(t, rendered, "future_field")
	assert.Contains(t, rendered, "also-kept")

	reparsed, err := Parse(strings.NewReader(rendered))
	require.NoError(t, err)
	assert.Equal(t, m.Hosts, reparsed.Hosts)
}

func TestAddAndRemoveHost(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	require.NoError(t, m.AddHost("pve-c", "10.0.0.3"))
	assert.Contains(t, m.HostNames(), "pve-c")

	err = m.AddHost("pve-c", "10.0.0.99")
	assert.Error(t, err, "duplicate add should fail")

	require.NoError(t, m.RemoveHost("pve-c"))
	assert.NotContains(t, m.HostNames(), "pve-c")

	err = m.RemoveHost("pve-c")
	assert.Error(t, err, "removing an already-removed host should fail")
}

func TestSetDefaultAndGuestInventory(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	require.NoError(t, m.SetDefault("max_parallel", int64(8)))
	assert.Equal(t, 8, m.Defaults.MaxParallel)

	require.NoError(t, m.SetGuestInventoryEntry("pve-a", "200", map[string]any{
		"kind":    "container",
		"managed": true,
	}))

	view, err := m.Effective("pve-a")
	require.NoError(t, err)
	require.Len(t, view.GuestInventory, 1)
	assert.Equal(t, "200", view.GuestInventory[0].Identifier)
}
