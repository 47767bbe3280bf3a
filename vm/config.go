package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config tunes a VM instance. The zero value is usable after
// applyDefaults; embedders usually start from DefaultConfig or a
// corvid.toml file.
type Config struct {
	// MaxCallDepth bounds frame nesting. Exceeding it raises a
	// RuntimeError in the guest rather than exhausting the host stack.
	MaxCallDepth int `toml:"max-call-depth"`

	// SignalCheckInterval is the number of dispatched instructions
	// between polls of the pending-signal flags.
	SignalCheckInterval int `toml:"signal-check-interval"`

	// Threaded switches cell access from the fail-fast cooperative
	// guard to a real mutex, for embedders running multiple VMs over
	// shared cells.
	Threaded bool `toml:"threaded"`

	// RegistryGCSeconds is the background sweep interval for the handle
	// registries. Non-positive selects DefaultGCInterval. The loop only
	// runs once the embedder calls RegistryGC().Start().
	RegistryGCSeconds int `toml:"registry-gc-seconds"`

	// TraceLevel enables execution tracing: 0 off, 1 frame and
	// coroutine events, 2 adds per-instruction logging.
	TraceLevel int `toml:"trace-level"`
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:        1000,
		SignalCheckInterval: 128,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = 1000
	}
	if c.SignalCheckInterval <= 0 {
		c.SignalCheckInterval = 128
	}
}

// RegistryGCInterval converts the configured sweep interval to a
// duration. Non-positive selects DefaultGCInterval.
func (c Config) RegistryGCInterval() time.Duration {
	if c.RegistryGCSeconds <= 0 {
		return DefaultGCInterval
	}
	return time.Duration(c.RegistryGCSeconds) * time.Second
}

// configFile wraps Config for corvid.toml, which keeps VM settings
// under a [vm] table so the file can grow other sections later.
type configFile struct {
	VM Config `toml:"vm"`
}

// LoadConfig parses a corvid.toml file from the given directory.
func LoadConfig(dir string) (Config, error) {
	path := filepath.Join(dir, "corvid.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var f configFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
	}
	f.VM.applyDefaults()
	return f.VM, nil
}

// FindAndLoadConfig walks up from startDir to find a corvid.toml file.
// Returns DefaultConfig and false if none is found.
func FindAndLoadConfig(startDir string) (Config, bool, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Config{}, false, err
	}

	for {
		path := filepath.Join(dir, "corvid.toml")
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadConfig(dir)
			return cfg, err == nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return DefaultConfig(), false, nil
		}
		dir = parent
	}
}
