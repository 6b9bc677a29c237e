package cmp

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"
)

// Severity is a syslog style log level. Lower values are more severe.
type Severity int

const (
	SeverityEmergency Severity = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
	SeverityTrace

	// SeverityMax is the highest accepted log verbosity.
	SeverityMax = SeverityTrace
)

var severityNames = [...]string{"EMERG", "ALERT", "CRIT", "ERROR", "WARN", "NOTE", "INFO", "DEBUG", "TRACE"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("LEVEL(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity parses a level name such as "info" or "debug".
func ParseSeverity(s string) (Severity, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch u {
	case "ERR":
		u = "ERROR"
	case "WARNING":
		u = "WARN"
	case "NOTICE":
		u = "NOTE"
	}
	for i, n := range severityNames {
		if n == u {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log level: %q", s)
}

// LogFunc receives diagnostic messages of a context. The return value
// reports whether the message was consumed.
type LogFunc func(fn, file string, line int, level Severity, msg string) bool

// SetLogCallback sets the diagnostic log callback. A nil callback
// silently drops all messages.
func (c *Context) SetLogCallback(cb LogFunc) error {
	if c == nil {
		return nullArg("SetLogCallback")
	}
	c.logCB = cb
	return nil
}

// SetErrorWriter sets where PrintErrors writes when no log callback is
// registered. It defaults to os.Stderr.
func (c *Context) SetErrorWriter(w io.Writer) {
	if c != nil {
		c.errOut = w
	}
}

// PrintLog passes a formatted message to the log callback. Messages above
// the configured verbosity, and all messages when no callback is set, are
// dropped and count as handled. An empty format is rejected.
func (c *Context) PrintLog(level Severity, fn, file string, line int, format string, args ...any) bool {
	if c == nil || c.logCB == nil {
		return true
	}
	if level > c.verbosity {
		return true
	}
	if format == "" {
		return false
	}
	if fn == "" {
		fn = "(unset function name)"
	}
	if file == "" {
		file = "(unset file name)"
	}
	return c.logCB(fn, file, line, level, fmt.Sprintf(format, args...))
}

func (c *Context) logf(level Severity, format string, args ...any) bool {
	if c == nil || c.logCB == nil || level > c.verbosity {
		return true
	}
	fn, file, line := "", "", 0
	if pc, f, l, ok := runtime.Caller(2); ok {
		file, line = filepath.Base(f), l
		if rf := runtime.FuncForPC(pc); rf != nil {
			fn = rf.Name()
			if i := strings.LastIndexByte(fn, '.'); i >= 0 {
				fn = fn[i+1:]
			}
		}
	}
	return c.PrintLog(level, fn, file, line, format, args...)
}

// Debugf logs at debug level, recording the caller.
func (c *Context) Debugf(format string, args ...any) bool {
	return c.logf(SeverityDebug, format, args...)
}

// Infof logs at info level, recording the caller.
func (c *Context) Infof(format string, args ...any) bool {
	return c.logf(SeverityInfo, format, args...)
}

// Warnf logs at warning level, recording the caller.
func (c *Context) Warnf(format string, args ...any) bool {
	return c.logf(SeverityWarning, format, args...)
}

// Errorf logs at error level, recording the caller.
func (c *Context) Errorf(format string, args ...any) bool {
	return c.logf(SeverityError, format, args...)
}

// Errors returns the errors recorded since the last PrintErrors or ClearErrors.
func (c *Context) Errors() []error {
	if c == nil || c.errs == nil {
		return nil
	}
	out := make([]error, len(c.errs.Errors))
	copy(out, c.errs.Errors)
	return out
}

// Err returns the recorded errors combined, or nil.
func (c *Context) Err() error {
	if c == nil {
		return nil
	}
	return c.errs.ErrorOrNil()
}

// ClearErrors discards the recorded errors.
func (c *Context) ClearErrors() {
	if c != nil {
		c.errs = nil
	}
}

// PrintErrors drains the recorded errors through the log callback, or the
// error writer when none is set. Nothing is printed or drained when error
// severity is above the configured verbosity.
func (c *Context) PrintErrors() {
	if c == nil || SeverityError > c.verbosity {
		return
	}
	errs := c.Errors()
	c.errs = nil
	for _, err := range errs {
		if c.logCB != nil {
			op := ""
			if e, ok := err.(*Error); ok {
				op = e.Op
			}
			c.logCB(op, "", 0, SeverityError, err.Error())
			continue
		}
		w := c.errOut
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintf(w, "CMP error: %v\n", err)
	}
}

func appendError(acc *multierror.Error, err error) *multierror.Error {
	return multierror.Append(acc, err)
}

// LeveledLogCallback adapts a leveled logger as a context log callback.
func LeveledLogCallback(l logging.LeveledLogger) LogFunc {
	return func(fn, file string, line int, level Severity, msg string) bool {
		if l == nil {
			return false
		}
		where := fn
		if file != "" {
			where = fmt.Sprintf("%s:%d:%s", file, line, fn)
		}
		switch {
		case level <= SeverityError:
			l.Errorf("%s: %s", where, msg)
		case level == SeverityWarning:
			l.Warnf("%s: %s", where, msg)
		case level <= SeverityInfo:
			l.Infof("%s: %s", where, msg)
		case level == SeverityDebug:
			l.Debugf("%s: %s", where, msg)
		default:
			l.Tracef("%s: %s", where, msg)
		}
		return true
	}
}

// LevelFor maps a verbosity to the matching pion/logging level.
func LevelFor(s Severity) logging.LogLevel {
	switch {
	case s <= SeverityError:
		return logging.LogLevelError
	case s == SeverityWarning:
		return logging.LogLevelWarn
	case s <= SeverityInfo:
		return logging.LogLevelInfo
	case s == SeverityDebug:
		return logging.LogLevelDebug
	default:
		return logging.LogLevelTrace
	}
}
