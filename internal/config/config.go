// Package config loads provider configuration: the RPC Config shape
// (spec.md §6) plus the ambient project settings a real deployment carries
// (include/exclude globs, worker count) that are not part of the wire
// protocol but shape how the project builder walks the source tree.
package config

import (
	"os"
	"path/filepath"
)

// AnalysisMode selects whether dependency decompilation runs during init.
type AnalysisMode string

const (
	SourceOnly AnalysisMode = "source-only"
	Full       AnalysisMode = "full"
)

// ProviderSpecificConfig carries the tool paths and persistence location
// from the RPC Config payload (spec.md §6).
type ProviderSpecificConfig struct {
	IlspyCmd string // decompiler
	PaketCmd string // package resolver
	DBPath   string // persistence file; default /tmp/c_sharp_provider.db
}

const DefaultDBPath = "/tmp/c_sharp_provider.db"

// Config is the fully resolved configuration for one Init call.
type Config struct {
	AnalysisMode           AnalysisMode
	Location               string // absolute project root
	ProviderSpecificConfig ProviderSpecificConfig

	// Ambient project settings, not part of the wire Config, sourced from
	// an optional .csgraph.kdl file at the project root.
	Include []string
	Exclude []string
	Workers int // 0 = the project builder's default of 4 workers
}

// DefaultExclude mirrors the common non-source directories a .NET
// repository accumulates; the decompiler's own staging directory is always
// excluded separately by the project builder.
func DefaultExclude() []string {
	return []string{
		"**/.git/**",
		"**/bin/**",
		"**/obj/**",
		"**/packages/**",
		"**/node_modules/**",
		"**/*.Designer.cs",
	}
}

// Normalize fills in defaults and resolves Location to an absolute path.
func (c *Config) Normalize() error {
	if c.ProviderSpecificConfig.DBPath == "" {
		c.ProviderSpecificConfig.DBPath = DefaultDBPath
	}
	if c.AnalysisMode == "" {
		c.AnalysisMode = SourceOnly
	}
	abs, err := filepath.Abs(c.Location)
	if err != nil {
		return err
	}
	c.Location = abs
	if len(c.Exclude) == 0 {
		c.Exclude = DefaultExclude()
	}
	return nil
}

// Load resolves a Config for projectRoot, applying wire-supplied overrides
// (wire) on top of any .csgraph.kdl file found at the root, then defaults.
func Load(projectRoot string, wire Config) (*Config, error) {
	cfg := &Config{
		Location: projectRoot,
	}

	if kdlCfg, err := LoadKDL(projectRoot); err != nil {
		return nil, err
	} else if kdlCfg != nil {
		cfg.AnalysisMode = kdlCfg.AnalysisMode
		cfg.ProviderSpecificConfig = kdlCfg.ProviderSpecificConfig
		cfg.Include = kdlCfg.Include
		cfg.Exclude = kdlCfg.Exclude
		cfg.Workers = kdlCfg.Workers
	}

	// Wire config always wins for the RPC-facing fields.
	if wire.AnalysisMode != "" {
		cfg.AnalysisMode = wire.AnalysisMode
	}
	if wire.Location != "" {
		cfg.Location = wire.Location
	}
	if wire.ProviderSpecificConfig.IlspyCmd != "" {
		cfg.ProviderSpecificConfig.IlspyCmd = wire.ProviderSpecificConfig.IlspyCmd
	}
	if wire.ProviderSpecificConfig.PaketCmd != "" {
		cfg.ProviderSpecificConfig.PaketCmd = wire.ProviderSpecificConfig.PaketCmd
	}
	if wire.ProviderSpecificConfig.DBPath != "" {
		cfg.ProviderSpecificConfig.DBPath = wire.ProviderSpecificConfig.DBPath
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToolExists reports whether path names an executable file.
func ToolExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if info.Mode()&0111 == 0 {
		return false
	}
	return true
}
