package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".chaincraft"

// Paths holds resolved filesystem paths for chaincraft data.
type Paths struct {
	Base   string // ~/.chaincraft
	Config string // ~/.chaincraft/config.yaml
	DotEnv string // ~/.chaincraft/.env
	State  string // ~/.chaincraft/state
	Data   string // ~/.chaincraft/data
	Logs   string // ~/.chaincraft/logs
}

// ResolvePaths computes all standard paths. CHAINCRAFT_HOME overrides the
// default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CHAINCRAFT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		DotEnv: filepath.Join(base, ".env"),
		State:  filepath.Join(base, "state"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.State, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// StateDir returns the directory for the file state backend. An empty
// configured dir means the process working directory.
func StateDir(cfg StateConfig) string {
	if cfg.Dir == "" {
		return "."
	}
	return cfg.Dir
}

// StateDBPath returns the sqlite database path for the sqlite backend.
func (p Paths) StateDBPath(cfg StateConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "state.db")
}
