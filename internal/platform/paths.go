// Package platform resolves per-user file locations for the perangkat binary.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories when no override is given.
const DefaultAppName = "perangkat"

// Paths lists every file location the binary reads or writes.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	// ImportDir is the default drop folder for spreadsheet exports awaiting reconciliation.
	ImportDir string
}

// Options selects the directory name; DevMode keeps development data apart from real records.
type Options struct {
	AppName string
	DevMode bool
}

// BaseDirs are the OS-level directories the app directories are placed under.
type BaseDirs struct {
	Config string
	Data   string
}

// Resolve returns the paths for the current OS and user.
func Resolve(opts Options) (Paths, error) {
	base, err := userBaseDirs()
	if err != nil {
		return Paths{}, err
	}
	env := map[string]string{}
	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "APPDATA", "LOCALAPPDATA"} {
		env[key] = os.Getenv(key)
	}
	return For(runtime.GOOS, env, base, appDirName(opts))
}

func appDirName(opts Options) string {
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if opts.DevMode {
		name += "-dev"
	}
	return name
}

func userBaseDirs() (BaseDirs, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return BaseDirs{}, fmt.Errorf("user config dir: %w", err)
	}
	base := BaseDirs{Config: configDir, Data: configDir}
	switch runtime.GOOS {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return BaseDirs{}, fmt.Errorf("user home dir: %w", err)
		}
		base.Data = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			base.Data = v
		}
	}
	return base, nil
}

// For computes paths for goos. Environment overrides follow XDG on linux and
// APPDATA/LOCALAPPDATA on windows; other systems use base as given.
func For(goos string, env map[string]string, base BaseDirs, appName string) (Paths, error) {
	if base.Config == "" || base.Data == "" {
		return Paths{}, errors.New("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("empty app name")
	}

	switch goos {
	case "linux":
		base = overrideBase(base, env["XDG_CONFIG_HOME"], env["XDG_DATA_HOME"])
	case "windows":
		base = overrideBase(base, env["APPDATA"], env["LOCALAPPDATA"])
	}

	dataDir := filepath.Join(base.Data, appName)
	return Paths{
		ConfigPath: filepath.Join(base.Config, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
		ImportDir:  filepath.Join(dataDir, "imports"),
	}, nil
}

func overrideBase(base BaseDirs, config, data string) BaseDirs {
	if config != "" {
		base.Config = config
	}
	if data != "" {
		base.Data = data
	}
	return base
}

// EnsureDataDirs creates the data and import directories.
func (p Paths) EnsureDataDirs() error {
	for _, dir := range []string{p.DataDir, p.ImportDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
