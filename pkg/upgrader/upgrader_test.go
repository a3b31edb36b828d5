package upgrader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		expected Family
	}{
		{"debian", map[string]string{"ID": "debian"}, FamilyDebian},
		{"ubuntu", map[string]string{"ID": "ubuntu"}, FamilyDebian},
		{"debian-like", map[string]string{"ID": "pika"}, FamilyDebian},
		{"id_like debian", map[string]string{"ID": "kali", "ID_LIKE": "debian"}, FamilyDebian},
		{"fedora", map[string]string{"ID": "fedora"}, FamilyFedora},
		{"id_like fedora", map[string]string{"ID": "rocky", "ID_LIKE": "fedora"}, FamilyFedora},
		{"opensuse", map[string]string{"ID": "opensuse-leap"}, FamilyOpenSUSE},
		{"id_like suse", map[string]string{"ID": "sles", "ID_LIKE": "suse"}, FamilyOpenSUSE},
		{"arch", map[string]string{"ID": "arch"}, FamilyArch},
		{"id_like arch", map[string]string{"ID": "manjaro", "ID_LIKE": "arch"}, FamilyArch},
		{"alpine", map[string]string{"ID": "alpine"}, FamilyAlpine},
		{"unknown", map[string]string{"ID": "solaris"}, FamilyUnknown},
		{"empty", map[string]string{}, FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classify(tt.fields))
		})
	}
}

func TestParseOSRelease(t *testing.T) {
	content := "ID=ubuntu\nID_LIKE=\"debian\"\nVERSION_ID=\"22.04\"\n# comment\n\nPRETTY_NAME=\"Ubuntu 22.04\"\n"
	fields := parseOSRelease(content)

	assert.Equal(t, "ubuntu", fields["ID"])
	assert.Equal(t, "debian", fields["ID_LIKE"])
	assert.Equal(t, "22.04", fields["VERSION_ID"])
	assert.Equal(t, "Ubuntu 22.04", fields["PRETTY_NAME"])
}

func TestCommandTableCoversEveryFamily(t *testing.T) {
	for family := range map[Family]bool{
		FamilyDebian: true, FamilyFedora: true, FamilyOpenSUSE: true, FamilyArch: true, FamilyAlpine: true,
	} {
		commands, ok := commandTable[family]
		assert.True(t, ok, "missing command sequence for family %s", family)
		assert.NotEmpty(t, commands)
	}
}
