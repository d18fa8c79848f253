package testutils

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/decred/slog"
)

// TestLogBackend is a slog backend suitable for using with tests.
type TestLogBackend struct {
	mtx     sync.Mutex
	tb      testing.TB
	w       io.Writer
	done    bool
	showLog bool
}

func (tlb *TestLogBackend) Write(b []byte) (int, error) {
	tlb.mtx.Lock()
	if !tlb.done && tlb.showLog {
		tlb.tb.Log(string(b[:len(b)-1]))
	}
	tlb.mtx.Unlock()

	if tlb.w != nil {
		tlb.w.Write(b)
	}
	return len(b), nil
}

type TestLogBackendOption func(t *TestLogBackend)

func WithShowLog(showLog bool) TestLogBackendOption {
	return func(t *TestLogBackend) {
		t.showLog = showLog
	}
}

func WithMiddlewareWriter(w io.Writer) TestLogBackendOption {
	return func(t *TestLogBackend) {
		t.w = w
	}
}

// NewTestLogBackend returns a log backend that can be used as an io.Writer to
// write logs to during a test. Logging after the test finishes (from
// goroutines that outlive it) is silently dropped.
func NewTestLogBackend(t testing.TB, opts ...TestLogBackendOption) *TestLogBackend {
	tlb := &TestLogBackend{tb: t, showLog: true}
	for _, opt := range opts {
		opt(tlb)
	}
	t.Cleanup(func() {
		tlb.mtx.Lock()
		tlb.done = true
		tlb.mtx.Unlock()
	})
	return tlb
}

// subsysLevel is the level used for test loggers of a subsystem. Audio
// subsystems log per-period traces, so they only go down to debug.
func subsysLevel(subsys string) slog.Level {
	switch subsys {
	case "AUDI", "SESS", "PLYR":
		return slog.LevelDebug
	default:
		return slog.LevelTrace
	}
}

// TestLoggerSys returns an slog.Logger that logs by issuing t.Log calls.
func TestLoggerSys(t testing.TB, sys string) slog.Logger {
	bknd := slog.NewBackend(NewTestLogBackend(t))
	logg := bknd.Logger(sys)
	logg.SetLevel(subsysLevel(sys))
	return logg
}

// TestLoggerBackend returns a function that generates loggers for subsystems,
// all of which log by calling t.Log.
func TestLoggerBackend(t testing.TB, name string) func(subsys string) slog.Logger {
	bknd := slog.NewBackend(NewTestLogBackend(t))
	return func(subsys string) slog.Logger {
		logg := bknd.Logger(fmt.Sprintf("%7s - %s", name, subsys))
		logg.SetLevel(subsysLevel(subsys))
		return logg
	}
}
