package testutils

import (
	"os"
	"testing"
)

// TempTestDir returns a temp dir for a test that only gets cleaned up if the
// test does not fail, so the data of failed tests can be inspected.
func TempTestDir(t testing.TB, prefix string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("Test data dir: %s", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("Unable to remove temp dir %s: %v", dir, err)
		}
	})

	return dir
}
