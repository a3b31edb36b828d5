// Package upgrader implements the Guest Upgrader (spec §4.4): OS-family
// detection from /etc/os-release followed by a non-interactive package
// upgrade over a Remote Session, with one retry against alternate
// credentials on a permission-denied failure.
package upgrader

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/metrics"
	"github.com/nexops/pvefleet/pkg/session"
)

// Family is an operating-system package-manager family (spec §4.4).
type Family string

const (
	FamilyDebian   Family = "debian"
	FamilyFedora   Family = "fedora"
	FamilyOpenSUSE Family = "opensuse"
	FamilyArch     Family = "arch"
	FamilyAlpine   Family = "alpine"
	FamilyUnknown  Family = "unknown"
)

// commandTable maps each family to its ordered, non-interactive upgrade
// command sequence.
var commandTable = map[Family][]string{
	FamilyDebian:   {"apt-get update", "apt-get -y upgrade"},
	FamilyFedora:   {"dnf -y upgrade --refresh"},
	FamilyOpenSUSE: {"zypper --non-interactive refresh", "zypper --non-interactive update"},
	FamilyArch:     {"pacman -Syu --noconfirm"},
	FamilyAlpine:   {"apk update", "apk upgrade"},
}

var permissionDeniedPattern = regexp.MustCompile(`(?i)permission denied|not permitted|must be root`)

// Upgrade runs the §4.4 algorithm against a target: detect OS family,
// select commands, run them in order. On a permission-denied failure it
// retries once against altCreds if provided.
func Upgrade(ctx context.Context, sess session.Session, altDial func(context.Context) (session.Session, error)) error {
	timer := metrics.NewTimer()
	family, err := detect(ctx, sess)
	if err != nil {
		return err
	}

	metrics.GuestUpgradeAttemptsTotal.Inc()
	err = run(ctx, sess, family)
	if err != nil && permissionDeniedPattern.MatchString(err.Error()) && altDial != nil {
		altSess, dialErr := altDial(ctx)
		if dialErr == nil {
			defer altSess.Close()
			err = run(ctx, altSess, family)
		}
	}

	timer.ObserveDuration(metrics.GuestUpgradeDuration)
	if err != nil {
		metrics.GuestUpgradeFailuresTotal.WithLabelValues(string(family)).Inc()
	}
	return err
}

// detect reads /etc/os-release over sess and classifies its family.
func detect(ctx context.Context, sess session.Session) (Family, error) {
	result, err := sess.Run(ctx, "cat /etc/os-release")
	if err != nil {
		return FamilyUnknown, fmt.Errorf("read os-release: %w: %w", ferrors.ErrOSDetectionFailed, err)
	}
	if result.ExitCode != 0 {
		return FamilyUnknown, fmt.Errorf("read os-release: exit %d: %w", result.ExitCode, ferrors.ErrOSDetectionFailed)
	}

	fields := parseOSRelease(result.Stdout)
	return classify(fields), nil
}

// parseOSRelease parses a key=value document, unquoting shell-style
// quoted values.
func parseOSRelease(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = unquote(v)
	}
	return out
}

func unquote(v string) string {
	if unquoted, err := strconv.Unquote(v); err == nil {
		return unquoted
	}
	return strings.Trim(v, `"'`)
}

// classify implements the family table of spec §4.4, first match wins.
func classify(fields map[string]string) Family {
	id := fields["ID"]
	idLike := fields["ID_LIKE"]

	switch {
	case id == "debian" || id == "ubuntu" || id == "pika" || strings.Contains(idLike, "debian"):
		return FamilyDebian
	case id == "fedora" || strings.Contains(idLike, "fedora"):
		return FamilyFedora
	case strings.Contains(id, "opensuse") || strings.Contains(idLike, "suse"):
		return FamilyOpenSUSE
	case id == "arch" || strings.Contains(idLike, "arch"):
		return FamilyArch
	case id == "alpine":
		return FamilyAlpine
	default:
		return FamilyUnknown
	}
}

// run executes family's command sequence in order, failing on the first
// non-zero exit.
func run(ctx context.Context, sess session.Session, family Family) error {
	commands, ok := commandTable[family]
	if !ok {
		return fmt.Errorf("family %q: %w", family, ferrors.ErrUpgradeFailed)
	}

	for _, command := range commands {
		result, err := sess.Run(ctx, command)
		if err != nil {
			return fmt.Errorf("step %q: %w", command, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("step %q exited %d, stderr=%q: %w", command, result.ExitCode, truncate(result.Stderr, 2048), ferrors.ErrUpgradeFailed)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// Classify exposes classify for the family table of a host's own upgrade
// as well as a guest's (spec §4.5 HOST_UPGRADE reuses this table).
func Classify(fields map[string]string) Family {
	return classify(fields)
}

// DetectFamily is the exported form of detect, used directly by the host
// workflow's HOST_UPGRADE phase against the hypervisor's own session.
func DetectFamily(ctx context.Context, sess session.Session) (Family, error) {
	return detect(ctx, sess)
}

// Run is the exported form of run, used directly by the host workflow's
// HOST_UPGRADE phase.
func Run(ctx context.Context, sess session.Session, family Family) error {
	return run(ctx, sess, family)
}
