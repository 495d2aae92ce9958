package utils

import (
	"fmt"
	"os"
)

// EnsureDir creates the directory at path (and any missing parents) if it
// does not already exist. Empty and "." resolve to the current directory,
// which is assumed to exist.
//
// Used by facilities that persist state to disk:
// - Vector index exports: {path}/vectors.gob
// - SQLite database files: {dir}/autoresearch.db
//
// Returns the path back and any error.
func EnsureDir(path string) (string, error) {
	if path == "" || path == "." {
		return ".", nil
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory '%s': %w", path, err)
	}

	return path, nil
}
