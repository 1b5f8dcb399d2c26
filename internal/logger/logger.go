package logger

import (
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a configured logrus.Logger writing JSON lines to out. Local and
// dev environments log at debug level.
func New(env string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(parseLevel(env))
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	return log
}

func parseLevel(env string) logrus.Level {
	switch strings.ToLower(env) {
	case "local", "dev":
		return logrus.DebugLevel
	case "test":
		return logrus.WarnLevel
	}
	return logrus.InfoLevel
}
