// Package manifest parses, validates, and resolves the fleet manifest
// (spec §4.6, schema in spec §6): a TOML document with a [defaults] table,
// an array of [[hosts]] tables, and nested [[hosts.guest_inventory]]
// tables, parsed via github.com/pelletier/go-toml/v2 in two passes —
// syntactic (ManifestSyntax on malformed TOML) then schematic
// (ManifestInvalid, collecting every validation error rather than
// stopping at the first). Unknown keys at any level are preserved
// opaquely and re-emitted verbatim on Render.
package manifest
