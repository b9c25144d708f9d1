package logger

import (
	"strings"
	"sync"
	"testing"
)

// testingWriter forwards log lines to t.Log so they show up only for failing tests.
type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
}

func (tw *testingWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

// NewTestLogger returns a debug-level logger that writes through t.Log.
func NewTestLogger(t testing.TB) Logger {
	t.Helper()
	return NewWriterLogger(&testingWriter{t: t}, LogLevelDebug).Module("test")
}
