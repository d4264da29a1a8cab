package utils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger creates a JSON logger tagged with the service name.
func NewLogger(service, level string) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(parseLevel(level))
	return logger.WithField("service", service)
}

// DiscardLogger returns a logger that drops everything. Used by tests and
// optional components built without a logger.
func DiscardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
