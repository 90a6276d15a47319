package main

import (
	"fmt"
	"io"
	stdslog "log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/tabkeep"
	tlogrus "github.com/unkn0wn-root/tabkeep/log/logrus"
	tslog "github.com/unkn0wn-root/tabkeep/log/slog"
	tzap "github.com/unkn0wn-root/tabkeep/log/zap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logSink returns stderr, or a rotated file when path is set.
func logSink(path string) (io.Writer, func() error) {
	if path == "" {
		return os.Stderr, func() error { return nil }
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	return lj, lj.Close
}

// newLogger builds the tabkeep logger for kind (logrus, zap or slog) and the
// slog logger the hook sink writes to. Both share one sink.
func newLogger(kind, level, path string) (tabkeep.Logger, *stdslog.Logger, func() error, error) {
	w, closeSink := logSink(path)
	level = strings.ToLower(level)

	var slogLevel stdslog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		closeSink()
		return nil, nil, nil, fmt.Errorf("log level: %w", err)
	}
	hookLog := stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: slogLevel}))

	switch kind {
	case "", "logrus":
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: path != ""})
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			closeSink()
			return nil, nil, nil, fmt.Errorf("log level: %w", err)
		}
		l.SetLevel(lvl)
		return tlogrus.New(l, "tabkeep"), hookLog, closeSink, nil

	case "zap":
		var zl zapcore.Level
		if err := zl.UnmarshalText([]byte(level)); err != nil {
			closeSink()
			return nil, nil, nil, fmt.Errorf("log level: %w", err)
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			zl,
		)
		z := zap.New(core).Named("tabkeep")
		return tzap.Logger{L: z}, hookLog, func() error {
			_ = z.Sync()
			return closeSink()
		}, nil

	case "slog":
		return tslog.Logger{L: hookLog.With("component", "tabkeep")}, hookLog, closeSink, nil

	default:
		closeSink()
		return nil, nil, nil, fmt.Errorf("unknown logger %q (logrus, zap, slog)", kind)
	}
}
