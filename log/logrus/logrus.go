// Package logrus adapts a logrus entry to tabkeep.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/tabkeep"
)

var _ tabkeep.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every record with component.
func New(l *logrus.Logger, component string) Logger {
	return Logger{E: l.WithField("component", component)}
}

func (l Logger) Debug(msg string, f tabkeep.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f tabkeep.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f tabkeep.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f tabkeep.Fields) { l.with(f).Error(msg) }

// with routes an "err" field through WithError so formatters render it.
func (l Logger) with(f tabkeep.Fields) *logrus.Entry {
	e := l.E
	if len(f) == 0 {
		return e
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		out[k] = v
	}
	return e.WithFields(out)
}
