// Package commonutils holds small runtime helpers shared by the transaction
// core that don't warrant their own package.
package commonutils

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoID returns the identifier of the calling goroutine, parsed out of the
// first line of a runtime.Stack dump. It has no official Go API behind it;
// runtime.Stack's output format is the only thing being relied on, and it
// has been stable across Go releases so far. Returns -1 if parsing fails.
func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack.
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// The first line looks like: "goroutine 123 [running]:\n"
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
