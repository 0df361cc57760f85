// Package logger hands out the process-wide logrus logger used by every
// allocator component. The level is read from MEMKIT_LOGLEVEL once at start
// up; SetLevel changes it afterwards.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.New()

func init() {
	log.Formatter = new(prefixed.TextFormatter)
	log.Out = os.Stderr
	log.SetLevel(envLevel())
}

// envLevel maps MEMKIT_LOGLEVEL to a logrus level, defaulting to info.
func envLevel() logrus.Level {
	switch strings.ToLower(os.Getenv("MEMKIT_LOGLEVEL")) {
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Get returns the shared logger. It is safe to call from any goroutine.
func Get() *logrus.Logger { return log }

// For returns an entry tagged with the component prefix, e.g. "heap" or "manager".
func For(prefix string) *logrus.Entry {
	return log.WithField("prefix", prefix)
}

// SetLevel sets the level, taking precedence over MEMKIT_LOGLEVEL. An empty
// level goes back to the one MEMKIT_LOGLEVEL names.
func SetLevel(level string) error {
	if level == "" {
		log.SetLevel(envLevel())
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}
