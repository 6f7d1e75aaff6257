// Package log writes to stdout and to daily files: regular log, errors,
// events and an HTTP access log, each in its own directory.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var (
	log       *WriteDaily
	httpLog   *WriteDaily
	errorsLog *WriteDaily
	eventsLog *WriteDaily

	// if true, Verbosef() will log messages
	Verbose bool

	stdoutMu sync.Mutex
	stdout   io.Writer = os.Stdout
)

type Config struct {
	// directory where log files are stored
	// each log type (regular, error, event, http) has its own subdirectory
	// empty Dir means only logging to stdout
	Dir string
	// called for every Logf() call
	OnLog func(s string)
}

var onLog func(s string)

// Init initializes the logging system
// log files are stored in config.Dir
func Init(config *Config) {
	Close()
	onLog = config.OnLog
	dir := config.Dir
	if dir == "" {
		return
	}
	log = NewWriteDaily(filepath.Join(dir, "log"))
	errorsLog = NewWriteDaily(filepath.Join(dir, "errors"))
	// files are created lazily so if the app doesn't
	// log http requests or events, it's a no-op
	httpLog = NewWriteDaily(filepath.Join(dir, "http"))
	eventsLog = NewWriteDaily(filepath.Join(dir, "events"))
}

// SetOutput changes where Logf prints, os.Stdout by default
func SetOutput(w io.Writer) {
	stdoutMu.Lock()
	stdout = w
	stdoutMu.Unlock()
}

func Close() {
	closeWriteDaily(&log)
	closeWriteDaily(&httpLog)
	closeWriteDaily(&errorsLog)
	closeWriteDaily(&eventsLog)
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	stdoutMu.Lock()
	fmt.Fprint(stdout, s)
	stdoutMu.Unlock()
	_ = log.WriteString(s)
	if onLog != nil {
		onLog(s)
	}
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

func GetCallstackFrames(skip int) []string {
	var callers [32]uintptr
	n := runtime.Callers(skip+1, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		s := frame.File + ":" + strconv.Itoa(frame.Line)
		cs = append(cs, s)
	}
	return cs
}

func GetCallstack(skip int) string {
	frames := GetCallstackFrames(skip + 1)
	return strings.Join(frames, "\n")
}

// Errorf logs an error message along with the callstack
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	cs := GetCallstack(2)
	s = fmt.Sprintf("%s\n%s\n", strings.TrimSuffix(s, "\n"), cs)
	Logf("%s", s)
	_ = errorsLog.WriteString(s)
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		// shouldn't happen but just in case
		s = fmt.Sprintf("%s", a[0])
	}
	if len(a) > 1 {
		s = fmt.Sprintf(s, a[1:]...)
	}
	Errorf("%s", s)
	return true
}

func panicIf(cond bool, args ...any) {
	if !cond {
		return
	}
	if len(args) == 0 {
		panic("condition is true")
	}
	s, ok := args[0].(string)
	if !ok {
		s = fmt.Sprintf("%v", args[0])
	}
	panic(fmt.Sprintf(s, args[1:]...))
}
