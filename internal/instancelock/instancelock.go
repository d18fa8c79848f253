// Package instancelock keeps a single coachmedia process per data root, so
// that only one process owns the capture devices and the selection store.
package instancelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rogpeppe/go-internal/lockedfile"
)

// FileName is the name of the lock file inside the data root.
const FileName = "coachmedia.lock"

// ErrInUse is returned when the lock could not be acquired before the
// context was done.
var ErrInUse = errors.New("data root in use by another process")

// Lock is a held instance lock.
type Lock struct {
	path string

	mtx sync.Mutex
	f   *lockedfile.File
}

// Path of the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock. It is safe to call multiple times.
func (l *Lock) Release() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func writeOwner(f *lockedfile.File) {
	host, _ := os.Hostname()
	var proc string
	if len(os.Args) > 0 {
		proc = os.Args[0]
	}
	fmt.Fprintf(f, "PID=%d\nHost=%q\nProcess=%q\nStarted=%s\n",
		os.Getpid(), host, proc, time.Now().Format(time.RFC3339))
}

// Acquire acquires the instance lock of the given data root, waiting until
// any other holder releases it or ctx is done.
func Acquire(ctx context.Context, root string) (*Lock, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(root, FileName)

	type result struct {
		f   *lockedfile.File
		err error
	}
	c := make(chan result, 1)
	go func() {
		f, err := lockedfile.Create(path)
		c <- result{f: f, err: err}
	}()

	select {
	case res := <-c:
		if res.err != nil {
			return nil, res.err
		}

		// The owner info only eases debugging, so write errors are
		// ignored.
		writeOwner(res.f)
		return &Lock{path: path, f: res.f}, nil

	case <-ctx.Done():
		// The file may still be locked later on. Release it when that
		// happens.
		go func() {
			if res := <-c; res.f != nil {
				res.f.Close()
			}
		}()
		return nil, fmt.Errorf("%w (%s): %w", ErrInUse, path, ctx.Err())
	}
}
