// Package config resolves comacode's per-user data directory and loads
// the optional host configuration file.
package config

import (
	"os"
	"path/filepath"
)

const dataDirName = ".comacode"

// DataDir returns the per-user directory comacode persists its identity
// and audit state in, creating it (owner-only) if it does not exist.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, dataDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
