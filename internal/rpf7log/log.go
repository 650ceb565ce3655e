// Package rpf7log provides the shared structured logger for the rpf7 core.
package rpf7log

import "github.com/sirupsen/logrus"

var base = logrus.New()

// For returns a FieldLogger tagged with component, matching the
// one-logger-per-package convention used across this module.
func For(component string) logrus.FieldLogger {
	return base.WithField("component", component)
}

// SetLevel adjusts verbosity for all components. Callers embedding this
// module in a larger binary can raise or lower it; the default is Info.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}
