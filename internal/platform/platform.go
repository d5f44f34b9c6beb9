// Package platform holds the OS-facing primitives the compiler gateway and
// process supervisor depend on: output directory preparation and child
// process interruption. Signal delivery differs per platform, so Interrupt
// is implemented in per-platform files.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir if it does not already exist. An existing directory
// is not an error.
func EnsureDir(dir string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("creating dir %q: %w", dir, err)
	}
	return nil
}

// ClearDir removes every entry inside dir, leaving dir itself in place.
// A missing or empty dir is not an error.
func ClearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading dir %q: %w", dir, err)
	}
	for _, entry := range entries {
		err = os.RemoveAll(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("removing %q: %w", entry.Name(), err)
		}
	}
	return nil
}
