// Package log provides logger factory for rtmix components.
package log

import (
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var debug bool

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("RTMIX_DEBUG"))
	if err != nil {
		debug = false
	}
}

// Debug reports if debug mode is enabled with RTMIX_DEBUG variable.
func Debug() bool {
	return debug
}

// GetLogger returns a new logger instance. Terminal output is colored
// text, anything else gets JSON.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	if isTerminal(os.Stderr.Fd()) {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000000",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Discard returns a logger that drops every entry.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	l.SetLevel(logrus.PanicLevel)
	return l
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
