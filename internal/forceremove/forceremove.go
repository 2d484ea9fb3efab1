// Package forceremove deletes directory trees that the running user is not
// allowed to delete as they are, such as Windows component store entries
// owned by TrustedInstaller.
package forceremove

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
)

// Remover removes a file or a directory tree. A missing path is not an
// error.
type Remover interface {
	RemoveAll(path string) error
}

// unlocker makes a single path deletable.
type unlocker func(path string) error

// ForceRemover removes with os.RemoveAll and, whenever a path can not be
// removed, takes ownership of it and retries.
type ForceRemover struct {
	logger logrus.FieldLogger
	unlock unlocker
	// upper bound on unlock attempts for one RemoveAll call
	maxUnlocks int
}

func New(logger logrus.FieldLogger) *ForceRemover {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ForceRemover{
		logger:     logger,
		unlock:     platformUnlock,
		maxUnlocks: 10000,
	}
}

func (r *ForceRemover) RemoveAll(path string) error {
	unlocked := map[string]bool{}
	for {
		err := os.RemoveAll(path)
		if err == nil {
			return nil
		}

		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return err
		}
		failed := pathErr.Path
		if _, statErr := os.Lstat(failed); statErr != nil {
			return err
		}
		if unlocked[failed] {
			return fmt.Errorf("cannot remove %s even after taking ownership: %w", failed, err)
		}
		if len(unlocked) >= r.maxUnlocks {
			return fmt.Errorf("giving up on %s after unlocking %d paths: %w", path, len(unlocked), err)
		}

		r.logger.Debugf("Taking ownership of %s", failed)
		if uerr := r.unlock(failed); uerr != nil {
			return fmt.Errorf("cannot take ownership of %s: %w", failed, uerr)
		}
		unlocked[failed] = true
	}
}
