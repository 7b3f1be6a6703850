// Package log is a small leveled facade over logrus shared by the shim and
// its tools.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	_defaultLevel = atomic.NewUint32(uint32(WarnLevel))
	_logger       = newLogger(os.Stderr)
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.999999999Z07:00",
	})
	return l
}

func SetLevel(level LogLevel) {
	_defaultLevel.Store(uint32(level))
}

// SetOutput sets the logger output.
func SetOutput(out io.Writer) {
	_logger.SetOutput(out)
}

func Level() LogLevel {
	return LogLevel(_defaultLevel.Load())
}

func Debugf(format string, args ...any) {
	logf(DebugLevel, format, args...)
}

func Infof(format string, args ...any) {
	logf(InfoLevel, format, args...)
}

func Warnf(format string, args ...any) {
	logf(WarnLevel, format, args...)
}

func Errorf(format string, args ...any) {
	logf(ErrorLevel, format, args...)
}

func Fatalf(format string, args ...any) {
	_logger.Fatalf(format, args...)
}

func logf(level LogLevel, format string, args ...any) {
	if level == SilentLevel || uint32(level) > _defaultLevel.Load() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	switch level {
	case DebugLevel:
		_logger.Debug(msg)
	case InfoLevel:
		_logger.Info(msg)
	case WarnLevel:
		_logger.Warn(msg)
	case ErrorLevel:
		_logger.Error(msg)
	}
}
