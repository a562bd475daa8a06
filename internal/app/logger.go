package app

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger builds a logger writing to w at level ("" means warning).
func NewLogger(w io.Writer, level string, json bool) (*logrus.Logger, error) {
	if level == "" {
		level = "warning"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return l, nil
}
