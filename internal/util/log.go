// Package util provides leveled logging backed by pterm.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

// logger is pterm's default logger, shared so EnableDebug affects all output.
// Everything goes to stderr (pterm's default).
var logger = &pterm.DefaultLogger

func init() {
	logger.ShowTime = true
	logger.TimeFormat = "02 Jan 15:04:05"
	logger.MaxWidth = 1000
}

func LogDebug(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks milestones (relay connected, media active). The logger has
// no success level, so it rides on info with a status attribute.
func LogSuccess(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...), logger.Args("status", "ok"))
}

func LogWarning(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug lowers the level so LogDebug output shows up.
func EnableDebug() {
	logger.Level = pterm.LogLevelDebug
}
