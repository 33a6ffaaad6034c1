// Package log provides the leveled logger used across xmp3d.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level identifies the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

var (
	mu        sync.Mutex
	minLevel  = InfoLevel
	output    io.Writer = os.Stderr
	baseLog             = log.New(os.Stderr, "", 0)
)

// SetOutput redirects where log entries are written.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	baseLog = log.New(w, "", 0)
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = lvl
}

func logf(lvl Level, format string, args ...interface{}) {
	mu.Lock()
	cur := minLevel
	l := baseLog
	mu.Unlock()

	if lvl < cur {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	l.Printf("%s [%s] %s", ts, lvl, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) { logf(DebugLevel, format, args...) }
func Infof(format string, args ...interface{})  { logf(InfoLevel, format, args...) }
func Warnf(format string, args ...interface{})  { logf(WarnLevel, format, args...) }
func Errorf(format string, args ...interface{}) { logf(ErrorLevel, format, args...) }

// Error logs err at error level if non-nil, a no-op otherwise.
func Error(err error) {
	if err == nil {
		return
	}
	logf(ErrorLevel, "%v", err)
}

// Fatalf logs at fatal level and terminates the process.
func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, format, args...)
	os.Exit(1)
}
