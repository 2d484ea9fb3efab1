//go:build !windows

package forceremove

import (
	"os"
	"path/filepath"
)

// platformUnlock adds owner write and search permission to path and its
// parent directory.
func platformUnlock(path string) error {
	for _, p := range []string{filepath.Dir(path), path} {
		fi, err := os.Lstat(p)
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			continue
		}
		mode := fi.Mode().Perm() | 0200
		if fi.IsDir() {
			mode |= 0100 | 0400
		}
		if err := os.Chmod(p, mode); err != nil {
			return err
		}
	}
	return nil
}
