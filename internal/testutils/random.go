package testutils

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// RandomBytes returns sz pseudo-random bytes. The seed is logged so failures
// can be reproduced.
func RandomBytes(t testing.TB, sz int) []byte {
	t.Helper()
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, sz)
	if _, err := rng.Read(b); err != nil {
		t.Fatal(err)
	}
	t.Logf("Random bytes seed: %d", seed)
	return b
}

// RandomFile creates a file with sz random bytes inside dir and returns its
// path along with the written contents.
func RandomFile(t testing.TB, dir string, sz int) (string, []byte) {
	t.Helper()
	b := RandomBytes(t, sz)
	f, err := os.CreateTemp(dir, "test-random-file")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return filepath.Clean(f.Name()), b
}
