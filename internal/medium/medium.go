// Package medium finds the Windows installation medium among the attached
// drives.
package medium

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultImagePath is where install media keep the image file.
const DefaultImagePath = "sources/install.wim"

var ErrNotFound = errors.New("installation medium not found")

// Locate returns root joined with relPath for the first root in which that
// path is a regular file.
func Locate(roots []string, relPath string) (string, error) {
	relPath = filepath.FromSlash(relPath)
	for _, root := range roots {
		candidate := filepath.Join(root, relPath)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no drive contains %s", ErrNotFound, relPath)
}

// Resolve returns explicit if it is set and names a regular file, and
// otherwise scans the drive roots.
func Resolve(explicit, relPath string) (string, error) {
	if explicit == "" {
		roots, err := DriveRoots()
		if err != nil {
			return "", err
		}
		return Locate(roots, relPath)
	}

	fi, err := os.Stat(explicit)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrNotFound, explicit)
	}
	return explicit, nil
}
