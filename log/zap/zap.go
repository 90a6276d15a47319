// Package zap adapts a zap logger to tabkeep.Logger.
package zap

import (
	"github.com/unkn0wn-root/tabkeep"
	"go.uber.org/zap"
)

var _ tabkeep.Logger = Logger{}

type Logger struct{ L *zap.Logger }

func (z Logger) Debug(msg string, f tabkeep.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f tabkeep.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f tabkeep.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f tabkeep.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f tabkeep.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
