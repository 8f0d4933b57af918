package tools

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a JSON logger writing to stdout and, when filePath is
// set, appending to that file too. Closing the returned closer releases the file.
func NewLogger(level string, filePath string) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()
	// JSON lines, so it can be parsed by datadog
	l.Formatter = &logrus.JSONFormatter{}
	l.SetLevel(ParseLevel(level))

	if filePath == "" {
		l.SetOutput(os.Stdout)
		return l, io.NopCloser(nil), nil
	}
	logFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}
	l.SetOutput(io.MultiWriter(logFile, os.Stdout))
	return l, logFile, nil
}

// ParseLevel maps a config level name onto logrus, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
