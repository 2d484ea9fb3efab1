package mount

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// FailureObserver is called with the error of a failed work function while
// the image is still mounted, right before the changes are discarded.
type FailureObserver func(err error)

type Options struct {
	ImageFile string
	Index     int
	Dir       string
	Logger    logrus.FieldLogger
	OnFailure FailureObserver
}

// DiscardError is returned by With when the work failed and discarding the
// image failed too.
type DiscardError struct {
	Cause error
	Err   error
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("%v (discarding the image failed as well: %v)", e.Cause, e.Err)
}

func (e *DiscardError) Unwrap() []error {
	return []error{e.Cause, e.Err}
}

// With mounts an image, runs fn on the mount root and releases the session
// on every way out of fn. Changes are committed only if fn returns nil. The
// error returned by fn is passed through unchanged after a successful
// discard. The release does not observe cancellation of ctx.
func With(ctx context.Context, m Mounter, opts Options, fn func(ctx context.Context, root string) error) error {
	s, err := Acquire(ctx, m, opts.ImageFile, opts.Index, opts.Dir, opts.Logger)
	if err != nil {
		return err
	}

	releaseCtx := context.WithoutCancel(ctx)
	returned := false
	defer func() {
		if returned {
			return
		}
		// fn or the failure observer panicked
		if err := s.Release(releaseCtx, false); err != nil {
			s.logger.Errorf("Cannot discard after panic: %v", err)
		}
	}()

	workErr := fn(ctx, s.Dir())
	if workErr != nil && opts.OnFailure != nil {
		opts.OnFailure(workErr)
	}
	returned = true

	if workErr != nil {
		if err := s.Release(releaseCtx, false); err != nil {
			return &DiscardError{Cause: workErr, Err: err}
		}
		return workErr
	}

	return s.Release(releaseCtx, true)
}
