package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger routes Badger's printf-style logging into slog. Badger is
// chatty at info level, so its info lines are demoted to debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) line(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(l.line(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(l.line(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(l.line(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(l.line(format, args...), "component", "badger")
}
