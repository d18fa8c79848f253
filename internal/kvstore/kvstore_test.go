package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/companyzero/coachmedia/internal/assert"
	"github.com/companyzero/coachmedia/internal/testutils"
)

// TestStores exercises the common behavior of every backend.
func TestStores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec func(dir string) string
	}{
		{"memory", func(string) string { return "memory" }},
		{"json", func(dir string) string { return "json:" + filepath.Join(dir, "store.json") }},
		{"leveldb", func(dir string) string { return "leveldb:" + filepath.Join(dir, "db") }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := testutils.TempTestDir(t, "kvstore-")
			log := testutils.TestLoggerSys(t, "KVST")
			s, err := Open(tc.spec(dir), log)
			assert.NilErr(t, err)
			defer s.Close()

			_, err = s.Get("selection.microphone")
			assert.ErrorIs(t, err, ErrNotFound)
			v, err := GetOrEmpty(s, "selection.microphone")
			assert.NilErr(t, err)
			assert.DeepEqual(t, v, "")

			assert.NilErr(t, s.Set("selection.microphone", "mic-1"))
			assert.NilErr(t, s.Set("selection.camera", "cam-1"))
			assert.NilErr(t, s.Set("selection.microphone", "mic-2"))

			v, err = s.Get("selection.microphone")
			assert.NilErr(t, err)
			assert.DeepEqual(t, v, "mic-2")
			v, err = s.Get("selection.camera")
			assert.NilErr(t, err)
			assert.DeepEqual(t, v, "cam-1")
		})
	}
}

// TestStoresPersist asserts the durable backends keep values across reopens.
func TestStoresPersist(t *testing.T) {
	t.Parallel()
	dir := testutils.TempTestDir(t, "kvstore-")
	log := testutils.TestLoggerSys(t, "KVST")

	for _, spec := range []string{
		"json:" + filepath.Join(dir, "store.json"),
		"leveldb:" + filepath.Join(dir, "db"),
	} {
		s, err := Open(spec, log)
		assert.NilErr(t, err)
		assert.NilErr(t, s.Set("selection.microphone", "usb-mic"))
		assert.NilErr(t, s.Close())

		s, err = Open(spec, log)
		assert.NilErr(t, err)
		v, err := s.Get("selection.microphone")
		assert.NilErr(t, err)
		assert.DeepEqual(t, v, "usb-mic")
		assert.NilErr(t, s.Close())
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"json", "json:", "leveldb:", "redis:localhost"} {
		_, err := Open(spec, nil)
		assert.NonNilErr(t, err)
	}
}
