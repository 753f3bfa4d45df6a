// Package logging builds the shared logrus logger used across every
// component, with rotated file output for the audit/alert streams that
// need to outlive a container restart.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	Level      string // logrus level name; defaults to "info" on parse failure
	JSON       bool
	AuditFile  string // audit log path for the audit writer; New does not use it
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logrus.Logger writing to stdout, as JSON when opts.JSON is
// set and as text otherwise.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stdout)

	return logger
}

// NewAuditWriter returns a rotated file writer for security-relevant events
// (device revocations, identity-change blocks, admin actions) that need
// their own retention policy independent of the main log stream.
func NewAuditWriter(opts Options) io.Writer {
	if opts.AuditFile == "" {
		return io.Discard
	}
	maxSize := opts.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}
	maxBackups := opts.MaxBackups
	if maxBackups == 0 {
		maxBackups = 7
	}
	maxAge := opts.MaxAgeDays
	if maxAge == 0 {
		maxAge = 30
	}
	return &lumberjack.Logger{
		Filename:   opts.AuditFile,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
}

// NewAuditLogger wraps an audit writer in its own logrus instance so audit
// entries never interleave with operational log lines.
func NewAuditLogger(opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(NewAuditWriter(opts))
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
