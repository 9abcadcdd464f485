// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package logger

import (
	"sync/atomic"

	"github.com/sassoftware/viya-pdf-ingest/tracer"
)

// LogLevel represents log severity
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	ErrorLevel LogLevel = "error"
)

// LogFunc is a single logger function that handles all levels.
// It is called from loader worker goroutines and must be safe for
// concurrent use.
type LogFunc func(level LogLevel, msg string, keyvals ...interface{})

func nop(LogLevel, string, ...interface{}) {}

var logFunc atomic.Pointer[LogFunc]

func init() {
	Reset()
}

// SetLogger sets the global logger function. A nil f is ignored.
func SetLogger(f LogFunc) {
	if f != nil {
		logFunc.Store(&f)
	}
}

// Reset restores the no-op logger.
func Reset() {
	f := LogFunc(nop)
	logFunc.Store(&f)
}

func current() LogFunc { return *logFunc.Load() }

// Debug logs a message at debug level.
// If the last keyvals element is a bool and true, it is treated as trace flag
func Debug(msg string, keyvals ...interface{}) {
	trace := false
	if len(keyvals) > 0 {
		if b, ok := keyvals[len(keyvals)-1].(bool); ok {
			trace = b
			keyvals = keyvals[:len(keyvals)-1]
		}
	}
	current()(DebugLevel, msg, keyvals...)

	if trace {
		tracer.Log(msg)
	}
}

// Error logs a message at error level
func Error(msg string, keyvals ...interface{}) {
	current()(ErrorLevel, msg, keyvals...)
}
