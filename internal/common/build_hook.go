package common

import (
	"github.com/sirupsen/logrus"
)

// BuildHook stamps every log entry with the build it was written by, so
// that logs attached to bug reports can be matched to a binary.
type BuildHook struct {
}

func (h *BuildHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *BuildHook) Fire(e *logrus.Entry) error {
	e.Data["build_commit"] = BuildCommit
	e.Data["build_time"] = BuildTime

	return nil
}
