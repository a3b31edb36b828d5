package manifest

import (
	"fmt"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/types"
)

// Effective resolves inheritance for one named host (spec §4.6): every
// HostEntry field left unset falls back to Defaults, except the
// forbidden-override fields, which a HostEntry is never allowed to carry
// in the first place and which Validate already rejected.
func (m *Manifest) Effective(hostName string) (types.EffectiveHostView, error) {
	var entry *types.HostEntry
	for i := range m.Hosts {
		if m.Hosts[i].Name == hostName {
			entry = &m.Hosts[i]
			break
		}
	}
	if entry == nil {
		return types.EffectiveHostView{}, fmt.Errorf("host %q: %w", hostName, ferrors.ErrNodeUnknown)
	}

	view := types.EffectiveHostView{
		Name:              entry.Name,
		Host:              entry.Host,
		API:               entry.API,
		SSH:               m.Defaults.SSH,
		Guest:             m.Defaults.Guest,
		MaxParallel:       m.Defaults.MaxParallel,
		GuestParallel:     m.Defaults.GuestParallel,
		DryRun:            m.Defaults.DryRun,
		ShutdownDeadlineS: m.Defaults.ShutdownDeadlineS,
		RebootDeadlineS:   m.Defaults.RebootDeadlineS,
		Policy:            m.Defaults.Policy,
		GuestInventory:    append([]types.GuestInventoryEntry(nil), entry.GuestInventory...),
	}

	if entry.DryRun != nil {
		view.DryRun = *entry.DryRun
	}
	if entry.MaxParallel != nil {
		view.MaxParallel = *entry.MaxParallel
	}
	if entry.GuestParallel != nil {
		view.GuestParallel = *entry.GuestParallel
	}
	if view.MaxParallel < 1 {
		view.MaxParallel = 1
	}
	if view.GuestParallel < 1 {
		view.GuestParallel = 1
	}

	for i, guest := range view.GuestInventory {
		if guest.Credentials != nil {
			continue
		}
		inherited := m.Defaults.Guest
		view.GuestInventory[i].Credentials = &inherited
	}

	return view, nil
}

// HostNames returns every host declared in the manifest, in document
// order.
func (m *Manifest) HostNames() []string {
	names := make([]string, 0, len(m.Hosts))
	for _, h := range m.Hosts {
		names = append(names, h.Name)
	}
	return names
}
