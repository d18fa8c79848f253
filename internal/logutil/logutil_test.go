package logutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/decred/slog"
)

// TestPrefixLogger tests lines are prefixed and levels are honored.
func TestPrefixLogger(t *testing.T) {
	var buf bytes.Buffer
	bknd := slog.NewBackend(&buf)
	log := bknd.Logger("PLAY")
	log.SetLevel(slog.LevelInfo)

	plog := SessionLogger(log, "42")
	plog.Infof("loaded %d entries", 3)
	plog.Debugf("not shown")
	plog.Warn("audio ", "unavailable")

	out := buf.String()
	if !strings.Contains(out, "[session 42] loaded 3 entries") {
		t.Fatalf("missing formatted line in %q", out)
	}
	if !strings.Contains(out, "[session 42] audio unavailable") {
		t.Fatalf("missing line in %q", out)
	}
	if strings.Contains(out, "not shown") {
		t.Fatalf("debug line logged at info level: %q", out)
	}
	if plog.Level() != slog.LevelInfo {
		t.Fatalf("unexpected level %v", plog.Level())
	}
}
