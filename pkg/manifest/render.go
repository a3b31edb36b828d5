package manifest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
)

// Render re-marshals the manifest's underlying generic tree. Because raw
// is never stripped of unknown keys during Parse or Validate, Render is a
// byte-for-byte round trip up to key ordering and insignificant
// whitespace (Testable Property 8) — nothing written by a human or a
// previous version of this tool is silently dropped.
func (m *Manifest) Render(w io.Writer) error {
	data, err := toml.Marshal(m.raw)
	if err != nil {
		return fmt.Errorf("render manifest: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// String renders the manifest to a string, for logging and diffing.
func (m *Manifest) String() string {
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		return fmt.Sprintf("<unrenderable manifest: %v>", err)
	}
	return buf.String()
}
