// Package lol (log of location) is the logging library used throughout the
// datom store. Every line carries a timestamp, a colourised level tag and the
// source location of the print, and the output level can be changed at runtime
// without reconfiguring the printers.
package lol

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

var LevelNames = []string{"off", "fatal", "error", "warn", "info", "debug", "trace"}

type (
	// Ln prints lists of interfaces with spaces in between.
	Ln func(a ...any)
	// F prints like fmt.Printf surrounded by the log details.
	F func(format string, a ...any)
	// S prints a spew.Sdump of its arguments.
	S func(a ...any)
	// C accepts a closure so the message is only computed when it will be
	// printed.
	C func(closure func() string)
	// Chk prints the error if it is not nil, and returns true when it was not.
	Chk func(e error) bool
	// Err builds an error with fmt.Errorf, prints it and returns it.
	Err func(format string, a ...any) error

	// LevelPrinter is the set of printers for one log level.
	LevelPrinter struct {
		Ln
		F
		S
		C
		Chk
		Err
	}

	// LevelSpec is the name, ID and colorizer for a log level.
	LevelSpec struct {
		ID        int
		Name      string
		Colorizer func(a ...any) string
	}
)

// LevelSpecs specifies the id, tag and colour printing function of each level.
var LevelSpecs = []LevelSpec{
	{Off, "", NoSprint},
	{Fatal, "FTL", color.New(color.BgRed, color.FgHiWhite).Sprint},
	{Error, "ERR", color.New(color.FgHiRed).Sprint},
	{Warn, "WRN", color.New(color.FgHiYellow).Sprint},
	{Info, "INF", color.New(color.FgHiGreen).Sprint},
	{Debug, "DBG", color.New(color.FgHiBlue).Sprint},
	{Trace, "TRC", color.New(color.FgHiMagenta).Sprint},
}

// NoSprint is a noop sprint.
func NoSprint(a ...any) string { return "" }

// Log is a set of printers, one per level.
type Log struct {
	F, E, W, I, D, T LevelPrinter
}

// Check is the set of Chk functions per level.
type Check struct {
	F, E, W, I, D, T Chk
}

// Errorf is the set of Err functions per level.
type Errorf struct {
	F, E, W, I, D, T Err
}

// Logger bundles the printers, checkers and error constructors.
type Logger struct {
	*Log
	*Check
	*Errorf
}

var (
	// Level is the level that the loggers print at.
	Level atomic.Int32
	// NoTimeStamp suppresses the timestamp, mostly useful in tests.
	NoTimeStamp atomic.Bool
	// Main is the process wide logger.
	Main = &Logger{}

	out   io.Writer = os.Stderr
	outMx sync.Mutex
)

func init() {
	Main.Log, Main.Check, Main.Errorf = New()
	SetLoggers(Info)
}

// SetWriter redirects all printers to w. Passing nil restores os.Stderr.
func SetWriter(w io.Writer) {
	outMx.Lock()
	defer outMx.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

func write(s string) {
	outMx.Lock()
	defer outMx.Unlock()
	_, _ = io.WriteString(out, s)
}

// SetLoggers sets the log level by number.
func SetLoggers(level int) {
	if level < Off || level > Trace {
		level = Info
	}
	Level.Store(int32(level))
	Main.Log.T.F("log level %s", LevelSpecs[level].Colorizer(LevelNames[level]))
}

// GetLogLevel returns the level number of a level name, Info if unknown.
func GetLogLevel(level string) (i int) {
	level = strings.ToLower(strings.TrimSpace(level))
	for i = range LevelNames {
		if level == LevelNames[i] {
			return i
		}
	}
	return Info
}

// SetLogLevel sets the log level by name.
func SetLogLevel(level string) { SetLoggers(GetLogLevel(level)) }

// JoinStrings joins anything into a space separated string.
func JoinStrings(a ...any) string {
	var b strings.Builder
	for i := range a {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(fmt.Sprint(a[i]))
	}
	return b.String()
}

var msgCol = color.New(color.FgBlue).Sprint

func line(l int32, text string) string {
	return fmt.Sprintf("%s%s %s %s\n", msgCol(TimeStamper()),
		LevelSpecs[l].Colorizer(LevelSpecs[l].Name), text, msgCol(GetLoc(3)))
}

// GetPrinter returns the printers for one level.
func GetPrinter(l int32) LevelPrinter {
	on := func() bool { return Level.Load() >= l }
	return LevelPrinter{
		Ln: func(a ...any) {
			if on() {
				write(line(l, JoinStrings(a...)))
			}
		},
		F: func(format string, a ...any) {
			if on() {
				write(line(l, fmt.Sprintf(format, a...)))
			}
		},
		S: func(a ...any) {
			if on() {
				write(line(l, spew.Sdump(a...)))
			}
		},
		C: func(closure func() string) {
			if on() {
				write(line(l, closure()))
			}
		},
		Chk: func(e error) bool {
			if e == nil {
				return false
			}
			if on() {
				write(line(l, e.Error()))
			}
			return true
		},
		Err: func(format string, a ...any) error {
			err := fmt.Errorf(format, a...)
			if on() {
				write(line(l, err.Error()))
			}
			return err
		},
	}
}

// GetNullPrinter is a printer that never prints.
func GetNullPrinter() LevelPrinter {
	return LevelPrinter{
		Ln:  func(a ...any) {},
		F:   func(format string, a ...any) {},
		S:   func(a ...any) {},
		C:   func(closure func() string) {},
		Chk: func(e error) bool { return e != nil },
		Err: func(format string, a ...any) error { return fmt.Errorf(format, a...) },
	}
}

// New creates the printers, checkers and error constructors for all levels.
func New() (l *Log, c *Check, errorf *Errorf) {
	l = &Log{
		T: GetPrinter(Trace),
		D: GetPrinter(Debug),
		I: GetPrinter(Info),
		W: GetPrinter(Warn),
		E: GetPrinter(Error),
		F: GetPrinter(Fatal),
	}
	c = &Check{F: l.F.Chk, E: l.E.Chk, W: l.W.Chk, I: l.I.Chk, D: l.D.Chk, T: l.T.Chk}
	errorf = &Errorf{F: l.F.Err, E: l.E.Err, W: l.W.Err, I: l.I.Err, D: l.D.Err, T: l.T.Err}
	return
}

// TimeStamper generates the timestamp for log lines.
func TimeStamper() (s string) {
	if NoTimeStamp.Load() {
		return
	}
	return time.Now().Format("2006-01-02T15:04:05.000Z07:00 ")
}

// GetLoc returns the code location skip frames up the stack.
func GetLoc(skip int) (output string) {
	_, file, ln, _ := runtime.Caller(skip)
	return fmt.Sprintf("%s:%d", file, ln)
}
