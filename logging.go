package gemmbed

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log is the package logger. Harness trace output (initialization
// failures, waived and skipped runs, comparison diagnostics) goes
// through it so sweep output stays structured.
var log = newLogger("info", "console")

// SetupLogging reconfigures the package logger. level is one of DEBUG,
// INFO, WARN, ERROR; format is "json" or "console".
func SetupLogging(level string, format string) {
	log = newLogger(level, format)
}

func newLogger(level string, format string) zerolog.Logger {
	var logLevel zerolog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = zerolog.DebugLevel
	case "WARN":
		logLevel = zerolog.WarnLevel
	case "ERROR":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	if strings.ToLower(format) == "json" {
		return zerolog.New(os.Stderr).Level(logLevel).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(logLevel).With().Timestamp().Logger()
}
