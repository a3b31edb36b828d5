package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nexops/pvefleet/pkg/types"
)

// ViaHypervisorSession is a Session for a guest with no directly routable
// address: every command is re-invoked through the hypervisor's own ssh
// client binary, nested inside the hypervisor's already-open session
// (spec §4.2 "via-hypervisor"). Exit codes propagate because ssh(1)
// itself exits with the remote command's status.
type ViaHypervisorSession struct {
	hypervisor Session
	address    string
	creds      types.GuestCredentials
}

// NewViaHypervisor builds a nested session that executes guest commands
// by shelling out from an already-connected hypervisor session.
func NewViaHypervisor(hypervisor Session, address string, creds types.GuestCredentials) *ViaHypervisorSession {
	return &ViaHypervisorSession{hypervisor: hypervisor, address: address, creds: creds}
}

// Run shell-quotes command and forwards it through the hypervisor's ssh
// client to the guest.
func (v *ViaHypervisorSession) Run(ctx context.Context, command string) (Result, error) {
	nested := v.buildCommand(command)
	return v.hypervisor.Run(ctx, nested)
}

func (v *ViaHypervisorSession) buildCommand(command string) string {
	args := []string{"ssh", "-o", "StrictHostKeyChecking=no", "-o", "BatchMode=yes"}

	user := v.creds.SSH.User
	if user == "" {
		user = "root"
	}
	if v.creds.SSH.IdentityFile != "" {
		args = append(args, "-i", shellQuote(v.creds.SSH.IdentityFile))
	}
	if v.creds.SSH.ConnectTimeout > 0 {
		args = append(args, "-o", "ConnectTimeout="+strconv.Itoa(v.creds.SSH.ConnectTimeout))
	}
	args = append(args, v.creds.SSH.ExtraArgs...)
	args = append(args, fmt.Sprintf("%s@%s", user, v.address), "--", shellQuote(command))

	return strings.Join(args, " ")
}

// Target describes the nested guest target, qualified by the hypervisor
// it's reached through.
func (v *ViaHypervisorSession) Target() string {
	return fmt.Sprintf("%s (via %s)", v.address, v.hypervisor.Target())
}

// Close is a no-op: the nested session shares the hypervisor's transport,
// which the hypervisor Session itself owns and closes.
func (v *ViaHypervisorSession) Close() error {
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
