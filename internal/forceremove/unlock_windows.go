package forceremove

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
)

// var alias for exec.Command() that can be mocked for testing
var execCommand = exec.Command

// platformUnlock makes the current user the owner of path, grants them full
// control and clears the read-only attribute. The parent directory gets the
// same treatment since deleting an entry needs rights on the directory.
func platformUnlock(path string) error {
	u, err := user.Current()
	if err != nil {
		return err
	}

	for _, p := range []string{filepath.Dir(path), path} {
		for _, args := range [][]string{
			{"takeown", "/F", p},
			{"icacls", p, "/grant", u.Username + ":F", "/C", "/Q"},
		} {
			out, err := execCommand(args[0], args[1:]...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s failed: %w: %s", args[0], err, out)
			}
		}
		if err := os.Chmod(p, 0777); err != nil {
			return err
		}
	}
	return nil
}
