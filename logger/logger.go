package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Logger writes prefixed, levelled lines for one scope of the tester (the whole run, or a
// single test file). Debug lines are only emitted when the logger was created in debug mode.
//
// Usage:
//
//	l := logger.New(os.Stderr, isDebug, "[tester] ")
//	caseLogger := l.WithPrefix("[a.test] ")
//	caseLogger.Errorf("return codes did not match")
type Logger struct {
	out     io.Writer
	prefix  string
	isDebug bool
	isQuiet bool

	prefixColor  *color.Color
	debugColor   *color.Color
	infoColor    *color.Color
	successColor *color.Color
	warnColor    *color.Color
	errorColor   *color.Color
}

// NewQuiet returns a logger that only emits Criticalf lines.
func NewQuiet(out io.Writer, prefix string) *Logger {
	l := New(out, false, prefix)
	l.isQuiet = true
	return l
}

// New creates a logger writing to out. Colours are enabled only when out is a terminal.
func New(out io.Writer, isDebug bool, prefix string) *Logger {
	l := &Logger{
		out:          out,
		prefix:       prefix,
		isDebug:      isDebug,
		prefixColor:  color.New(color.FgYellow),
		debugColor:   color.New(color.FgCyan),
		infoColor:    color.New(color.FgHiBlue),
		successColor: color.New(color.FgGreen),
		warnColor:    color.New(color.FgYellow),
		errorColor:   color.New(color.FgRed),
	}

	colored := isTerminal(out)
	for _, c := range l.colors() {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (l *Logger) colors() []*color.Color {
	return []*color.Color{l.prefixColor, l.debugColor, l.infoColor, l.successColor, l.warnColor, l.errorColor}
}

// WithPrefix returns a child logger sharing the writer, mode and colours, with its own prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	child := *l
	child.prefix = prefix
	return &child
}

// IsDebug reports whether Debugf lines are emitted.
func (l *Logger) IsDebug() bool {
	return l.isDebug
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.isDebug {
		return
	}
	l.write(l.debugColor, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.write(l.infoColor, fmt.Sprintf(format, args...))
}

func (l *Logger) Successf(format string, args ...interface{}) {
	l.write(l.successColor, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write(l.warnColor, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write(l.errorColor, fmt.Sprintf(format, args...))
}

// Criticalf is emitted even by quiet loggers.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.writeLine(l.errorColor, fmt.Sprintf(format, args...))
}

// Plainln writes msg without colouring the message itself. Used for relaying tool output.
func (l *Logger) Plainln(msg string) {
	l.write(nil, msg)
}

func (l *Logger) write(c *color.Color, msg string) {
	if l.isQuiet {
		return
	}
	l.writeLine(c, msg)
}

func (l *Logger) writeLine(c *color.Color, msg string) {
	prefix := l.prefix
	if prefix != "" {
		prefix = l.prefixColor.Sprint(prefix)
	}

	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		if c != nil {
			line = c.Sprint(line)
		}
		fmt.Fprintf(l.out, "%s%s\n", prefix, line)
	}
}
