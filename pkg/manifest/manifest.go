package manifest

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/types"
)

// forbiddenPaths are the dotted raw-map paths a host entry must never set
// directly (spec §4.6).
var forbiddenPaths = []string{"identity_file", "ssh.extra_args", "guest.user", "guest.identity_file"}

// Manifest is the parsed, validated fleet configuration. raw is the
// complete generic document — the single source of truth for Render's
// round-trip guarantee (Testable Property 8); Defaults and Hosts are a
// typed projection of it, refreshed by Validate.
type Manifest struct {
	raw      map[string]any
	Defaults types.Defaults
	Hosts    []types.HostEntry
}

// Parse performs the syntactic pass — decode the TOML document into a
// generic tree, failing with ManifestSyntax on malformed TOML — and then
// runs Validate, returning its error if the schematic pass fails.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ferrors.ErrManifestSyntax, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	m := &Manifest{raw: raw}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate performs the schematic pass: extract and type-check the
// defaults and hosts tables, collecting every error rather than stopping
// at the first (spec §4.6), and refreshes m.Defaults/m.Hosts on success.
func (m *Manifest) Validate() error {
	var errs []error

	defaultsRaw := asMap(m.raw["defaults"])
	defaults := extractDefaults(defaultsRaw)

	hostsRaw := asSlice(m.raw["hosts"])
	hosts := make([]types.HostEntry, 0, len(hostsRaw))
	seen := make(map[string]bool, len(hostsRaw))

	for i, item := range hostsRaw {
		hm := asMap(item)
		entry, hostErrs := extractHost(hm, i)
		errs = append(errs, hostErrs...)

		if entry.Name != "" {
			if seen[entry.Name] {
				errs = append(errs, fmt.Errorf("hosts[%d]: duplicate host name %q: %w", i, entry.Name, ferrors.ErrManifestInvalid))
			}
			seen[entry.Name] = true
		}

		hosts = append(hosts, entry)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ferrors.ErrManifestInvalid, joinErrors(errs))
	}

	m.Defaults = defaults
	m.Hosts = hosts
	return nil
}

func extractDefaults(d map[string]any) types.Defaults {
	return types.Defaults{
		SSH: types.SSHProfile{
			User:           mustStr(getString(d, "user")),
			IdentityFile:   mustStr(getString(d, "identity_file")),
			ExtraArgs:      getStringSlice(d, "ssh.extra_args"),
			ConnectTimeout: getInt(d, "ssh.connect_timeout_s", 10),
			CommandTimeout: getInt(d, "ssh.command_timeout_s", 120),
		},
		Guest: types.GuestCredentials{
			SSH: types.SSHProfile{
				User:           mustStr(getString(d, "guest.user")),
				IdentityFile:   mustStr(getString(d, "guest.identity_file")),
				ExtraArgs:      getStringSlice(d, "guest.ssh.extra_args"),
				ConnectTimeout: getInt(d, "guest.ssh.connect_timeout_s", 10),
				CommandTimeout: getInt(d, "guest.ssh.command_timeout_s", 120),
			},
			PasswordEnv: types.SecretName(mustStr(getString(d, "guest.password_env"))),
		},
		MaxParallel:       getInt(d, "max_parallel", 1),
		DryRun:            getBool(d, "dry_run", false),
		ShutdownDeadlineS: getInt(d, "shutdown_deadline_s", 120),
		RebootDeadlineS:   getInt(d, "reboot_deadline_s", 600),
		GuestParallel:     getInt(d, "guest_parallel", 1),
		Policy: types.GuestPolicy{
			ContinueOnFailure: getBool(d, "policy.continue_on_failure", true),
		},
	}
}

func extractHost(h map[string]any, index int) (types.HostEntry, []error) {
	var errs []error

	name, _ := getString(h, "name")
	host, _ := getString(h, "host")
	if name == "" {
		errs = append(errs, fmt.Errorf("hosts[%d]: name is required: %w", index, ferrors.ErrManifestInvalid))
	}
	if host == "" {
		errs = append(errs, fmt.Errorf("hosts[%d] %q: host is required: %w", index, name, ferrors.ErrManifestInvalid))
	}

	for _, path := range forbiddenPaths {
		if nestedPresent(h, path) {
			errs = append(errs, fmt.Errorf("hosts[%d] %q: forbidden override of %q: %w", index, name, path, ferrors.ErrForbiddenOverride))
		}
	}

	entry := types.HostEntry{
		Name: name,
		Host: host,
		API:  extractAPICredentials(h),

		SetIdentityFile:     nestedPresent(h, "identity_file"),
		SetSSHExtraArgs:     nestedPresent(h, "ssh.extra_args"),
		SetGuestUser:        nestedPresent(h, "guest.user"),
		SetGuestIdentityFile: nestedPresent(h, "guest.identity_file"),
	}

	if v, ok := nested(h, "dry_run"); ok {
		if b, ok := v.(bool); ok {
			entry.DryRun = &b
		}
	}
	if v, ok := nested(h, "max_parallel"); ok {
		n := getInt(h, "max_parallel", 0)
		_ = v
		entry.MaxParallel = &n
	}
	if v, ok := nested(h, "guest_parallel"); ok {
		n := getInt(h, "guest_parallel", 0)
		_ = v
		entry.GuestParallel = &n
	}

	inventoryRaw := asSlice(h["guest_inventory"])
	entry.GuestInventory = make([]types.GuestInventoryEntry, 0, len(inventoryRaw))
	for j, gi := range inventoryRaw {
		gm := asMap(gi)
		guestEntry, guestErrs := extractGuestInventoryEntry(gm, index, j)
		errs = append(errs, guestErrs...)
		entry.GuestInventory = append(entry.GuestInventory, guestEntry)
	}

	return entry, errs
}

func extractAPICredentials(h map[string]any) types.APICredentials {
	creds := types.APICredentials{
		Node:      mustStr(getString(h, "api.node")),
		VerifyTLS: getBool(h, "api.verify_tls", true),
	}

	if tokenID, ok := nested(h, "api.token_id"); ok {
		switch v := tokenID.(type) {
		case string:
			creds.TokenID = v
		case map[string]any:
			if env, ok := v["env"].(string); ok {
				creds.TokenIDEnv = types.SecretName(env)
			}
		}
	}
	if env, ok := getString(h, "api.secret_env"); ok {
		creds.TokenSecretEnv = types.SecretName(env)
	}

	return creds
}

func extractGuestInventoryEntry(g map[string]any, hostIndex, guestIndex int) (types.GuestInventoryEntry, []error) {
	var errs []error

	identifier := ""
	if v, ok := g["identifier"]; ok {
		switch n := v.(type) {
		case string:
			identifier = n
		case int64:
			identifier = fmt.Sprintf("%d", n)
		case int:
			identifier = fmt.Sprintf("%d", n)
		}
	}
	if identifier == "" {
		errs = append(errs, fmt.Errorf("hosts[%d].guest_inventory[%d]: identifier is required: %w", hostIndex, guestIndex, ferrors.ErrManifestInvalid))
	}

	kindStr, _ := getString(g, "kind")
	var kind types.GuestKind
	switch kindStr {
	case "vm":
		kind = types.GuestKindVM
	case "container":
		kind = types.GuestKindContainer
	default:
		errs = append(errs, fmt.Errorf("hosts[%d].guest_inventory[%d]: kind must be \"vm\" or \"container\", got %q: %w", hostIndex, guestIndex, kindStr, ferrors.ErrManifestInvalid))
	}

	entry := types.GuestInventoryEntry{
		Identifier: identifier,
		Kind:       kind,
		Managed:    getBool(g, "managed", true),
		Notes:      mustStr(getString(g, "notes")),
	}

	if passwordEnv, ok := getString(g, "guest.password_env"); ok && passwordEnv != "" {
		entry.Credentials = &types.GuestCredentials{PasswordEnv: types.SecretName(passwordEnv)}
	}

	return entry, errs
}

func mustStr(s string, _ bool) string {
	return s
}

// joinErrors collects every validation error into one, preserving each
// one's wrapped sentinel (errors.Join, unlike a flattened %v message,
// keeps every error reachable via errors.Is/errors.As) so callers can
// still ask "did any of these name ForbiddenOverride" after Validate
// wraps the whole batch in ErrManifestInvalid.
func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
