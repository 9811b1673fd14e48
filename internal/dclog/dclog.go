// Package dclog sets up the process-wide logger used by every dcxfer daemon.
package dclog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a bag of structured fields attached to a single log line.
type Ctx = logrus.Fields

// Logger wraps a *logrus.Logger bound to one daemon's logfile.
type Logger struct {
	*logrus.Logger
	path string
}

// Open creates (or appends to) path and returns a Logger writing to it.
func Open(path string, debug bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}

	return &Logger{Logger: l, path: path}, nil
}

// Path returns the logfile this logger writes to.
func (l *Logger) Path() string {
	return l.path
}
