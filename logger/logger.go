// Package logger provides logging APIs for the whole application.
// Output is discarded by default; callers opt in with SetOutput.
package logger

import (
	"io"
	"log"
)

var defaultLogger = newDefaultLogger()

func newDefaultLogger() *log.Logger {
	return log.New(io.Discard, "grpcbridge: ", 0)
}

func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

func SetPrefix(p string) {
	defaultLogger.SetPrefix(p)
}

// Reset restores the logger to its initial discarding state.
func Reset() {
	defaultLogger = newDefaultLogger()
}

func Println(v ...interface{}) {
	defaultLogger.Println(v...)
}

func Printf(format string, v ...interface{}) {
	defaultLogger.Printf(format, v...)
}

// Scriptln runs f and logs its result only when the logger has a real
// output. Use it when building log arguments is expensive.
func Scriptln(f func() []interface{}) {
	if defaultLogger.Writer() == io.Discard {
		return
	}
	if v := f(); v != nil {
		defaultLogger.Println(v...)
	}
}
