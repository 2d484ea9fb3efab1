//go:build !windows

package medium

// DriveRoots returns every drive letter root. None of them exist outside of
// Windows, so Locate always fails unless an explicit path is used.
func DriveRoots() ([]string, error) {
	return rootsFromMask(1<<26 - 1), nil
}
