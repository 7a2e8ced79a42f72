// Package logging configures the process-wide logrus logger from CLI flags.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("json" or "text") to the standard logger
// and returns it.
func Setup(level, format string, out io.Writer) (*log.Logger, error) {
	logger := log.StandardLogger()
	if err := Configure(logger, level, format); err != nil {
		return nil, err
	}
	if out != nil {
		logger.SetOutput(out)
	}
	return logger, nil
}

// Configure applies level and format to logger.
func Configure(logger *log.Logger, level, format string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json", "":
		logger.SetFormatter(&log.JSONFormatter{})
	case "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (expected json or text)", format)
	}
	return nil
}
