// Package manifest handles lingo.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a lingo.toml project configuration.
type Manifest struct {
	Movie   MovieConfig   `toml:"movie"`
	Runtime RuntimeConfig `toml:"runtime"`
	Server  ServerConfig  `toml:"server"`
	Casts   []CastMount   `toml:"casts"`

	// Dir is the directory containing the lingo.toml file (set at load time).
	Dir string `toml:"-"`
}

// MovieConfig names the project's movie and its entry archive.
type MovieConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// RuntimeConfig carries the player policies.
type RuntimeConfig struct {
	CaseSensitiveNames bool   `toml:"case_sensitive_names"`
	FloatPrecision     int    `toml:"float_precision"`
	ItemDelimiter      string `toml:"item_delimiter"`
	MaxCallDepth       int    `toml:"max_call_depth"`
	ArenaCapacity      uint32 `toml:"arena_capacity"`
}

// ServerConfig configures the debug server.
type ServerConfig struct {
	Port int `toml:"port"`
}

// CastMount mounts an external cast archive. Name and Number override
// the archive's own; zero values keep them.
type CastMount struct {
	Name   string `toml:"name"`
	Number int32  `toml:"number"`
	Path   string `toml:"path"`
}

// Load parses a lingo.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "lingo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults. float_precision distinguishes unset from an explicit 0.
	if !md.IsDefined("runtime", "float_precision") {
		m.Runtime.FloatPrecision = 4
	}
	if m.Runtime.ItemDelimiter == "" {
		m.Runtime.ItemDelimiter = ","
	}
	if m.Runtime.MaxCallDepth == 0 {
		m.Runtime.MaxCallDepth = 50
	}
	if m.Server.Port == 0 {
		m.Server.Port = 7455
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a lingo.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "lingo.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry movie archive, or ""
// when no entry is configured.
func (m *Manifest) EntryPath() string {
	if m.Movie.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Movie.Entry) {
		return m.Movie.Entry
	}
	return filepath.Join(m.Dir, m.Movie.Entry)
}

// ServerAddr returns the listen address for the debug server.
func (m *Manifest) ServerAddr() string {
	return fmt.Sprintf(":%d", m.Server.Port)
}
