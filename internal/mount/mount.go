// Package mount implements scoped mount sessions: an image is mounted into
// a staging directory, modified and then either committed or discarded.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/prometheus"
)

var ErrLifecycleViolation = errors.New("mount session lifecycle violation")

// Mounter is implemented by *dism.Dism.
type Mounter interface {
	MountImage(ctx context.Context, imageFile string, index int, mountDir string) error
	UnmountImage(ctx context.Context, mountDir string, commit bool) error
}

type State int

const (
	StateUnmounted State = iota
	StateMounted
	StateCommitting
	StateDiscarding
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounted:
		return "mounted"
	case StateCommitting:
		return "committing"
	case StateDiscarding:
		return "discarding"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one mounted image. It is not safe for concurrent use.
type Session struct {
	mounter   Mounter
	imageFile string
	index     int
	dir       string
	state     State
	logger    logrus.FieldLogger
}

// Acquire creates dir, which must not exist yet, and mounts image index of
// imageFile into it. If mounting fails the directory is removed again.
func Acquire(ctx context.Context, m Mounter, imageFile string, index int, dir string, logger logrus.FieldLogger) (*Session, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Session{
		mounter:   m,
		imageFile: imageFile,
		index:     index,
		dir:       dir,
		state:     StateUnmounted,
		logger:    logger.WithField("mount_dir", dir),
	}

	s.logger.Infof("Mounting %s index %d", imageFile, index)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: mount directory %s already exists", ErrLifecycleViolation, dir)
		}
		return nil, fmt.Errorf("cannot create mount directory: %w", err)
	}

	if err := m.MountImage(ctx, imageFile, index, dir); err != nil {
		if rmErr := os.Remove(dir); rmErr != nil {
			return nil, errors.Join(err, fmt.Errorf("cannot remove mount directory after failed mount: %w", rmErr))
		}
		return nil, err
	}

	s.state = StateMounted
	s.logger.Info("Mounted")
	return s, nil
}

// Dir is the root of the mounted filesystem.
func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) State() State {
	return s.state
}

// Release unmounts the image, committing the changes if succeeded is set
// and discarding them otherwise, and removes the mount directory. If
// unmounting fails the directory is left alone and the session can not be
// released again.
func (s *Session) Release(ctx context.Context, succeeded bool) error {
	if s.state != StateMounted {
		return fmt.Errorf("%w: cannot release session in state %s", ErrLifecycleViolation, s.state)
	}

	if succeeded {
		s.state = StateCommitting
		s.logger.Infof("Unmounting %s index %d, committing changes", s.imageFile, s.index)
	} else {
		s.state = StateDiscarding
		s.logger.Warnf("Unmounting %s index %d, discarding changes", s.imageFile, s.index)
	}

	if err := s.mounter.UnmountImage(ctx, s.dir, succeeded); err != nil {
		return fmt.Errorf("cannot unmount %s: %w", s.dir, err)
	}
	// unmounting leaves the directory empty
	if err := os.Remove(s.dir); err != nil {
		return fmt.Errorf("cannot remove mount directory: %w", err)
	}

	s.state = StateReleased
	prometheus.SessionReleased(succeeded)
	if succeeded {
		s.logger.Info("Committed")
	} else {
		s.logger.Info("Discarded")
	}
	return nil
}
