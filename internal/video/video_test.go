package video

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/companyzero/coachmedia/internal/assert"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/testutils"
)

func writeFile(t testing.TB, fname, content string) {
	t.Helper()
	assert.NilErr(t, os.MkdirAll(filepath.Dir(fname), 0o700))
	assert.NilErr(t, os.WriteFile(fname, []byte(content), 0o600))
}

func testSystem(t testing.TB) System {
	root := testutils.TempTestDir(t, "video-")
	s := System{
		ClassDir: filepath.Join(root, "class"),
		DevDir:   filepath.Join(root, "dev"),
	}
	writeFile(t, filepath.Join(s.ClassDir, "video0", "name"), "Integrated Camera\n")
	writeFile(t, filepath.Join(s.ClassDir, "video0", "index"), "0\n")
	writeFile(t, filepath.Join(s.ClassDir, "video1", "name"), "Integrated Camera\n")
	writeFile(t, filepath.Join(s.ClassDir, "video1", "index"), "1\n")
	writeFile(t, filepath.Join(s.ClassDir, "video2", "name"), "USB Webcam\n")
	writeFile(t, filepath.Join(s.DevDir, "video0"), "")
	return s
}

func TestCameras(t *testing.T) {
	t.Parallel()
	s := testSystem(t)
	cams, err := s.Cameras()
	assert.NilErr(t, err)
	assert.DeepEqual(t, cams, []Camera{
		{ID: filepath.Join(s.DevDir, "video0"), Name: "Integrated Camera"},
		{ID: filepath.Join(s.DevDir, "video2"), Name: "USB Webcam"},
	})
}

func TestCamerasMissingClass(t *testing.T) {
	t.Parallel()
	s := System{ClassDir: filepath.Join(t.TempDir(), "none")}
	cams, err := s.Cameras()
	assert.NilErr(t, err)
	assert.DeepEqual(t, len(cams), 0)
}

func TestOpen(t *testing.T) {
	t.Parallel()
	s := testSystem(t)

	c, err := s.Open(filepath.Join(s.DevDir, "video0"))
	assert.NilErr(t, err)
	assert.NilErr(t, c.Close())

	// Listed but missing node.
	_, err = s.Open(filepath.Join(s.DevDir, "video2"))
	assert.ErrorIs(t, err, mediaerr.ErrDeviceUnavailable)

	// Not a camera node.
	_, err = s.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrUnknownCamera)
	assert.ErrorIs(t, err, mediaerr.ErrDeviceUnavailable)
}
