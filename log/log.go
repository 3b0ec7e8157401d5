// Package log provides the leveled, colorized logger used across the
// networking core. It follows the same shape as the teacher's log import
// (github.com/probeum/go-probeum/log): a root logger, New() for tagged
// sub-loggers, and a terminal handler that colorizes level prefixes when
// stderr is a TTY.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log severity.
type Level int

const (
	LevelCrit Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelCrit:
		return "CRIT"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

func (l Level) color() *color.Color {
	switch l {
	case LevelCrit:
		return color.New(color.FgRed, color.Bold)
	case LevelError:
		return color.New(color.FgRed)
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelInfo:
		return color.New(color.FgGreen)
	case LevelDebug:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

// Logger is the interface used throughout the core; every subsystem takes
// one tagged with its own name via New.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
	r   *root
}

type root struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	level    Level
}

var defaultRoot = newRoot()

func newRoot() *root {
	var w io.Writer = os.Stderr
	colorize := false
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = colorable.NewColorable(f)
		colorize = true
	}
	return &root{out: w, colorize: colorize, level: LevelInfo}
}

// Root returns the process-wide root logger.
func Root() Logger { return &logger{r: defaultRoot} }

// SetLevel changes the minimum level the root logger will emit.
func SetLevel(l Level) {
	defaultRoot.mu.Lock()
	defaultRoot.level = l
	defaultRoot.mu.Unlock()
}

// New returns a logger tagged with the current process root and extra
// context pairs, mirroring log.New("peer", id[:8]) in the teacher.
func New(ctx ...interface{}) Logger {
	return (&logger{r: defaultRoot}).New(ctx...)
}

func (l *logger) New(ctx ...interface{}) Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &logger{ctx: nctx, r: l.r}
}

func (l *logger) log(lvl Level, msg string, ctx []interface{}) {
	l.r.mu.Lock()
	defer l.r.mu.Unlock()
	if lvl > l.r.level {
		return
	}
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)

	prefix := lvl.String()
	if l.r.colorize {
		prefix = lvl.color().Sprint(prefix)
	}
	line := fmt.Sprintf("%s[%s] %s", prefix, time.Now().Format("01-02|15:04:05.000"), msg)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	if lvl == LevelCrit {
		if cs := stack.Caller(2); cs != nil {
			line += fmt.Sprintf(" caller=%+v", cs)
		}
	}
	fmt.Fprintln(l.r.out, line)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.log(LevelCrit, msg, ctx) }
