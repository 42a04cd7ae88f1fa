// Package app provides the shared entry point of the sgate binary: config
// resolution, runtime wiring and the blocking run loop.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flemzord/sgate/internal/config"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the configured persistent data directory.
	DataDir string
}

// LoadConfig resolves, loads and validates the configuration. An empty
// path is resolved with ResolveConfigPath.
func LoadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Run loads configuration, starts all modules, and blocks until ctx is
// done or a shutdown signal is received.
func Run(ctx context.Context, params RunParams) error {
	cfg, path, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return err
	}

	rt, err := Build(ctx, cfg, BuildParams{
		DataDir:    params.DataDir,
		Version:    params.Version,
		ConfigPath: path,
	})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	rt.Logger.Info("sgate starting", "version", params.Version, "commit", params.Commit, "config", path)
	return rt.App.Run(ctx)
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/sgate/sgate.yaml → ~/.config/sgate/sgate.yaml → ./sgate.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "sgate", "sgate.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "sgate", "sgate.yaml"))
	}

	candidates = append(candidates, "sgate.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/sgate if set, otherwise ~/.local/share/sgate per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "sgate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "sgate")
}
