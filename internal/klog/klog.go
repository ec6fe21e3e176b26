// Package klog is the kernel's structured logger, adapted from
// ingest/log: a leveled logger emitting RFC5424 syslog frames via
// github.com/crewjam/rfc5424, carrying structured key/value data instead
// of formatted strings. kernel.Boot and cmd/proclabd log through this
// instead of fmt.Println or the stdlib log package, the way
// manager/process.go and manager/main.go log process supervision events;
// the scheduler and the fork/exit/wait path do not log.
package klog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INVALID"
	}
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case FATAL:
		return rfc5424.User | rfc5424.Emergency
	default:
		return rfc5424.User | rfc5424.Debug
	}
}

// ErrNotOpen is returned by any log call once Close has been called.
var ErrNotOpen = errors.New("klog: logger is not open")

// DefaultID is the RFC5424 structured-data ID every kernel log record uses.
const DefaultID = `proclab@1`

// Logger is a leveled, structured logger over one or more writers.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hot      bool
	hostname string
	appname  string
}

// New builds a logger at INFO level writing to wtr.
func New(wtr io.WriteCloser) *Logger {
	hostname, _ := os.Hostname()
	return &Logger{
		wtrs:     []io.WriteCloser{wtr},
		lvl:      INFO,
		hot:      true,
		hostname: hostname,
		appname:  "proclabd",
	}
}

// NewFile opens (creating/appending) f and returns a logger over it.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }

// NewDiscard builds a logger that drops everything, for tests.
func NewDiscard() *Logger {
	return New(discardCloser{})
}

// SetLevel changes the minimum level that is actually emitted.
func (l *Logger) SetLevel(lvl Level) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lvl = lvl
}

// Close closes every underlying writer.
func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.hot = false
	for _, w := range l.wtrs {
		if lerr := w.Close(); lerr != nil {
			err = lerr
		}
	}
	return
}

// KV builds one structured-data field.
func KV(name string, value any) rfc5424.SDParam {
	switch v := value.(type) {
	case string:
		return rfc5424.SDParam{Name: name, Value: v}
	default:
		return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", v)}
	}
}

// KVErr is shorthand for KV("error", err).
func KVErr(err error) rfc5424.SDParam { return KV("error", err) }

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) error { return l.output(DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam) error  { return l.output(INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam) error  { return l.output(WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) error { return l.output(ERROR, msg, sds...) }

// Fatal logs at FATAL and terminates the process, matching ingest/log's
// Fatal/os.Exit convention.
func (l *Logger) Fatal(msg string, sds ...rfc5424.SDParam) {
	l.output(FATAL, msg, sds...)
	os.Exit(1)
}

func (l *Logger) output(lvl Level, msg string, sds ...rfc5424.SDParam) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot {
		return ErrNotOpen
	}
	if lvl < l.lvl || l.lvl == OFF {
		return nil
	}
	b, err := genRFCMessage(time.Now(), lvl.priority(), l.hostname, l.appname, msg, sds...)
	if err != nil {
		return err
	}
	ln := strings.TrimRight(string(b), "\n\t\r")
	for _, w := range l.wtrs {
		io.WriteString(w, ln)
		io.WriteString(w, "\n")
	}
	return nil
}

func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  hostname,
		AppName:   appname,
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: DefaultID, Parameters: sds}}
	}
	return m.MarshalBinary()
}
