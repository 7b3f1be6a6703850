package log

import (
	"errors"
	"strings"
)

type LogLevel uint32

const (
	SilentLevel LogLevel = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel accepts the names returned by LogLevel.String, case-insensitive.
// "warn" is accepted as an alias of "warning".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return SilentLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}
	return SilentLevel, ErrInvalidLevel
}

// UnmarshalYAML unserialize LogLevel with yaml
func (l *LogLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	level, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

func (l LogLevel) MarshalYAML() (any, error) {
	return l.String(), nil
}

func (l LogLevel) String() string {
	switch l {
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case DebugLevel:
		return "debug"
	case SilentLevel:
		return "silent"
	default:
		return "unknown"
	}
}
