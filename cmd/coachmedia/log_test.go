package main

import (
	"strings"
	"testing"

	"github.com/companyzero/coachmedia/internal/assert"
	"github.com/decred/slog"
)

// TestLogBackendLevels tests global and per subsystem levels.
func TestLogBackendLevels(t *testing.T) {
	bknd, err := newLogBackend("", "warn,audi=debug", 0, false)
	assert.NilErr(t, err)

	assert.DeepEqual(t, bknd.logger(subsysAudio).Level(), slog.LevelDebug)
	assert.DeepEqual(t, bknd.logger(subsysMain).Level(), slog.LevelWarn)

	// Changing the global level keeps the subsystem override.
	assert.NilErr(t, bknd.setLogLevel("trace"))
	assert.DeepEqual(t, bknd.logger(subsysMain).Level(), slog.LevelTrace)
	assert.DeepEqual(t, bknd.logger(subsysAudio).Level(), slog.LevelDebug)

	assert.NonNilErr(t, bknd.setLogLevel("loud"))
	assert.NonNilErr(t, bknd.setLogLevel("AUDI=loud"))
	assert.NonNilErr(t, bknd.setLogLevel("a=b=c"))
}

// TestLogBackendLines tests the in-memory ring of log lines and the error
// line handler.
func TestLogBackendLines(t *testing.T) {
	bknd, err := newLogBackend("", "info", 0, false)
	assert.NilErr(t, err)
	errLines := make(chan string, 1)
	bknd.setErrorMsgHandler(func(s string) { errLines <- s })

	log := bknd.logger(subsysDevices)
	for i := 0; i < maxLogLines+10; i++ {
		log.Infof("line %d", i)
	}
	lines := bknd.lastLogLines(3)
	assert.DeepEqual(t, len(lines), 3)
	if !strings.HasSuffix(lines[2], "line 209") {
		t.Fatalf("unexpected last line %q", lines[2])
	}
	assert.DeepEqual(t, len(bknd.lastLogLines(1000)), maxLogLines)

	log.Errorf("device vanished")
	got := assert.ChanWritten(t, errLines)
	if !strings.Contains(got, "device vanished") {
		t.Fatalf("unexpected error line %q", got)
	}
}
