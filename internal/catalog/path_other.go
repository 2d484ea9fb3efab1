//go:build !windows

package catalog

import "path/filepath"

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
