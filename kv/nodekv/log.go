package nodekv

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"datom.lol/lol"
)

// NewLogger creates a badger logger printing through lol.
func NewLogger(logLevel int, label string) (l *logger) {
	log.T.Ln("getting logger for", label)
	l = &logger{Label: label}
	l.Level.Store(int32(logLevel))
	return
}

type logger struct {
	Level atomic.Int32
	Label string
}

// SetLogLevel atomically adjusts the log level to the given log level code.
func (l *logger) SetLogLevel(level int) {
	l.Level.Store(int32(level))
}

func (l *logger) line(s string, i ...any) string {
	txt := fmt.Sprintf(l.Label+": "+s, i...)
	_, file, line, _ := runtime.Caller(2)
	return fmt.Sprintf("%s\n%s:%d", strings.TrimSpace(txt), file, line)
}

// Errorf is a log printer for this level of message.
func (l *logger) Errorf(s string, i ...any) {
	if l.Level.Load() >= lol.Error {
		log.E.Ln(l.line(s, i...))
	}
}

// Warningf is a log printer for this level of message.
func (l *logger) Warningf(s string, i ...any) {
	if l.Level.Load() >= lol.Warn {
		log.W.Ln(l.line(s, i...))
	}
}

// Infof is a log printer for this level of message.
func (l *logger) Infof(s string, i ...any) {
	if l.Level.Load() >= lol.Info {
		log.D.Ln(l.line(s, i...))
	}
}

// Debugf is a log printer for this level of message.
func (l *logger) Debugf(s string, i ...any) {
	if l.Level.Load() >= lol.Debug {
		log.T.Ln(l.line(s, i...))
	}
}
