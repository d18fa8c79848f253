package instancelock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/companyzero/coachmedia/internal/assert"
)

// TestAcquireRelease tests acquiring and releasing the lock of a fresh root.
func TestAcquireRelease(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := Acquire(ctx, root)
	assert.NilErr(t, err)
	assert.DeepEqual(t, l.Path(), filepath.Join(root, FileName))

	owner, err := os.ReadFile(l.Path())
	assert.NilErr(t, err)
	if !strings.Contains(string(owner), "PID=") {
		t.Fatalf("unexpected owner info %q", owner)
	}

	assert.NilErr(t, l.Release())
	assert.NilErr(t, l.Release())
}

// TestAcquireInUse tests that a second process-level holder waits for the
// first one and fails with ErrInUse once its context is done.
func TestAcquireInUse(t *testing.T) {
	root := t.TempDir()
	testCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l1, err := Acquire(testCtx, root)
	assert.NilErr(t, err)

	ctx2, cancel2 := context.WithTimeout(testCtx, 50*time.Millisecond)
	defer cancel2()
	_, err = Acquire(ctx2, root)
	assert.ErrorIs(t, err, ErrInUse)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A waiting attempt succeeds once the first lock is released.
	c := make(chan *Lock, 1)
	go func() {
		l, err := Acquire(testCtx, root)
		if err == nil {
			c <- l
		}
	}()
	assert.ChanNotWritten(t, c, 100*time.Millisecond)

	assert.NilErr(t, l1.Release())
	l3 := assert.ChanWritten(t, c)
	assert.NilErr(t, l3.Release())
}
