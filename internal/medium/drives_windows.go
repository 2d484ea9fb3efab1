package medium

import (
	"golang.org/x/sys/windows"
)

// DriveRoots returns the roots of all logical drives, in drive letter order.
func DriveRoots() ([]string, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, err
	}
	return rootsFromMask(mask), nil
}
