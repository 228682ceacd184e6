package config

import (
	"os"
	"path/filepath"
)

// Environment variables read by authctl.
const (
	EnvConfig       = "AUTHCTL_CONFIG"
	EnvTokenStorage = "AUTHCTL_TOKEN_STORAGE"
	EnvLogLevel     = "AUTHCTL_LOG_LEVEL"
	EnvVerbose      = "AUTHCTL_VERBOSE"
	EnvNoBrowser    = "AUTHCTL_NO_BROWSER"
)

const (
	defaultConfigDirName = "authctl"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "tokens.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultConfigFile)
}

// DefaultTokenPath is the token cache used with file storage.
func DefaultTokenPath() string {
	return filepath.Join(configDir(), defaultTokenFile)
}

func configDir() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName)
}
