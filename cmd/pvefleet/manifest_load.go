package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nexops/pvefleet/pkg/manifest"
)

// loadManifest opens and parses the manifest path carried by the root
// command's persistent --manifest flag, translating open/parse failures
// into the distinct exit codes spec §6 assigns them (65 not found, 64
// invalid).
func loadManifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	path, _ := cmd.Flags().GetString("manifest")

	f, err := os.Open(path)
	if err != nil {
		return nil, openManifestErr(err)
	}
	defer f.Close()

	m, err := manifest.Parse(f)
	if err != nil {
		return nil, manifestInvalid(err)
	}
	return m, nil
}
