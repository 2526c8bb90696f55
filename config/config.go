// Package config loads the allocator's JSON configuration file and watches
// it for changes. A file carries a schema version, the memory section that
// maps onto pool.Config, and an optional debug section for the diagnostic
// servers. Missing fields keep their defaults; the decoder runs on top of a
// fully defaulted File, so partial files are valid files.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/tiermem/pool"
)

// SupportedSchema is the constraint a file's version field must satisfy.
const SupportedSchema = ">=1.0.0, <2.0.0"

// DefaultVersion is the schema version assumed when a file omits the field.
const DefaultVersion = "1.0.0"

// File is the on-disk configuration.
type File struct {
	Version string       `json:"version"`
	Memory  pool.Config  `json:"memory"`
	Debug   DebugSection `json:"debug"`
}

// DebugSection configures the optional diagnostic servers. Empty addresses
// leave the corresponding server off.
type DebugSection struct {
	HTTPAddr    string `json:"http_addr"`
	MetricsAddr string `json:"metrics_addr"`
}

// Default returns a File with the stock pool layout and no debug servers.
func Default() *File {
	return &File{
		Version: DefaultVersion,
		Memory:  pool.DefaultConfig(),
	}
}

// Parse decodes data on top of the defaults and validates the result.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return f, nil
}

// Validate checks the schema version against SupportedSchema and the memory
// section against the pool's own rules.
func (f *File) Validate() error {
	v, err := semver.NewVersion(f.Version)
	if err != nil {
		return fmt.Errorf("config: invalid version %q: %w", f.Version, err)
	}
	constraint, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return fmt.Errorf("config: bad schema constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("config: version %s outside supported range %s", v, SupportedSchema)
	}
	if err := f.Memory.Validate(); err != nil {
		return fmt.Errorf("config: memory section: %w", err)
	}
	return nil
}

// PoolConfig returns the memory section as a pool configuration.
func (f *File) PoolConfig() pool.Config {
	return f.Memory
}
