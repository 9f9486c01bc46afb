// Package logging hands out per-component loggers so every package in the
// driver tags its log lines the way a multi-module system should, without
// each package reaching for logrus directly.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the verbosity of every component logger at once.
func SetLevel(level logrus.Level) {
	root.SetLevel(level)
}

// For returns the logger for a named component, e.g. "dbus", "hart".
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}
