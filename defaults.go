package waypaper

import _ "embed"

// DefaultConfig is written by `waypaper --installconfig`.
//
//go:embed waypaper.toml
var DefaultConfig string
