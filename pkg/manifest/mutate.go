package manifest

import (
	"fmt"

	"github.com/nexops/pvefleet/pkg/ferrors"
)

// hostsSlice returns the raw ""hosts"" array-of-tables, creating it if
// absent, so mutation helpers always have a []any to append to.
func (m *Manifest) hostsSlice() []any {
	existing := asSlice(m.raw["hosts"])
	if existing == nil {
		existing = []any{}
		m.raw["hosts"] = existing
	}
	return existing
}

func (m *Manifest) findHostIndex(name string) int {
	for i, item := range m.hostsSlice() {
		hm := asMap(item)
		if n, _ := getString(hm, "name"); n == name {
			return i
		}
	}
	return -1
}

// AddHost appends a new [[hosts]] table to the manifest and re-validates.
// It fails if a host with the same name already exists.
func (m *Manifest) AddHost(name, host string) error {
	if m.findHostIndex(name) >= 0 {
		return fmt.Errorf("host %q already exists: %w", name, ferrors.ErrManifestInvalid)
	}

	entry := map[string]any{
		"name": name,
		"host": host,
	}
	hosts := m.hostsSlice()
	m.raw["hosts"] = append(hosts, entry)

	return m.Validate()
}

// RemoveHost deletes the named host's table and re-validates.
func (m *Manifest) RemoveHost(name string) error {
	idx := m.findHostIndex(name)
	if idx < 0 {
		return fmt.Errorf("host %q: %w", name, ferrors.ErrNodeUnknown)
	}

	hosts := m.hostsSlice()
	m.raw["hosts"] = append(hosts[:idx], hosts[idx+1:]...)

	return m.Validate()
}

// SetDefault writes a dotted path under [defaults] (e.g.
// "ssh.command_timeout_s") and re-validates.
func (m *Manifest) SetDefault(path string, value any) error {
	defaults := asMap(m.raw["defaults"])
	if m.raw["defaults"] == nil {
		m.raw["defaults"] = defaults
	}
	setNested(defaults, path, value)

	return m.Validate()
}

// SetGuestInventoryEntry upserts a [[hosts.guest_inventory]] entry for the
// named host keyed by guest identifier, and re-validates.
func (m *Manifest) SetGuestInventoryEntry(hostName, identifier string, fields map[string]any) error {
	idx := m.findHostIndex(hostName)
	if idx < 0 {
		return fmt.Errorf("host %q: %w", hostName, ferrors.ErrNodeUnknown)
	}

	hosts := m.hostsSlice()
	hostMap := asMap(hosts[idx])
	if hosts[idx] == nil {
		hostMap = map[string]any{}
		hosts[idx] = hostMap
	}

	inventory := asSlice(hostMap["guest_inventory"])
	entryIdx := -1
	for i, item := range inventory {
		gm := asMap(item)
		if id, ok := gm["identifier"]; ok && fmt.Sprintf("%v", id) == identifier {
			entryIdx = i
			break
		}
	}

	merged := map[string]any{"identifier": identifier}
	for k, v := range fields {
		merged[k] = v
	}

	if entryIdx >= 0 {
		inventory[entryIdx] = merged
	} else {
		inventory = append(inventory, merged)
	}
	hostMap["guest_inventory"] = inventory
	hosts[idx] = hostMap

	return m.Validate()
}
