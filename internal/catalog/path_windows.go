package catalog

import (
	"path/filepath"
	"strings"
)

// samePath reports whether a and b name the same file. NTFS paths are case
// insensitive.
func samePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}
