package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/customizer"
)

var (
	ParseConfig    = parseConfig
	LoadConfig     = loadConfig
	ExitCode       = exitCode
	Run            = run
	PauseOnFailure = pauseOnFailure
	ReadEnv        = readEnv
)

func MockTool(tool customizer.Tool) (restore func()) {
	saved := newTool
	newTool = func(binary string, timeout time.Duration, logger logrus.FieldLogger) customizer.Tool {
		return tool
	}
	return func() {
		newTool = saved
	}
}
