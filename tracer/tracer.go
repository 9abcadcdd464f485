// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tracer

import (
	"fmt"
	"io"
	"sync"
)

// DefaultLimit is the number of messages kept when SetLimit is not called.
const DefaultLimit = 4096

var (
	mu            sync.Mutex
	traceMessages []string
	limit         = DefaultLimit
)

// SetLimit bounds the trace log to the n most recent messages. n < 1
// restores DefaultLimit.
func SetLimit(n int) {
	if n < 1 {
		n = DefaultLimit
	}
	mu.Lock()
	limit = n
	traceMessages = trim(traceMessages)
	mu.Unlock()
}

// Log just adds a message to the trace log. Safe for concurrent use, since
// load phases log from worker goroutines. The oldest messages are dropped
// once the limit is reached.
func Log(msg string) {
	mu.Lock()
	traceMessages = trim(append(traceMessages, msg))
	mu.Unlock()
}

func trim(msgs []string) []string {
	if len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// Messages returns a copy of the accumulated trace log.
func Messages() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), traceMessages...)
}

// Flush writes the accumulated trace log to w and resets it.
func Flush(w io.Writer) {
	mu.Lock()
	msgs := traceMessages
	// reset so the next run starts fresh
	traceMessages = nil
	mu.Unlock()

	for _, msg := range msgs {
		fmt.Fprintln(w, msg)
	}
}
