// Package video lists and opens the V4L2 camera nodes of the system.
package video

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/companyzero/coachmedia/internal/mediaerr"
)

// Camera is a video capture node.
type Camera struct {
	// ID is the path to the device node (e.g. /dev/video0).
	ID   string
	Name string
}

// ErrUnknownCamera is returned when opening an id that is not a camera node.
var ErrUnknownCamera = errors.New("unknown camera")

// System lists cameras from a sysfs class dir and opens their device nodes.
// The zero value uses the standard linux locations. On platforms without
// V4L2 the class dir is missing and no cameras are listed.
type System struct {
	ClassDir string
	DevDir   string
}

func (s System) classDir() string {
	if s.ClassDir == "" {
		return "/sys/class/video4linux"
	}
	return s.ClassDir
}

func (s System) devDir() string {
	if s.DevDir == "" {
		return "/dev"
	}
	return s.DevDir
}

// readAttr reads a sysfs attribute, returning an empty string on errors.
func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Cameras lists the capture nodes. Drivers create several nodes per physical
// camera (metadata, secondary streams), so only nodes with index 0 are
// returned.
func (s System) Cameras() ([]Camera, error) {
	entries, err := os.ReadDir(s.classDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to list video nodes: %w", err)
	}

	var res []Camera
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "video") {
			continue
		}
		dir := filepath.Join(s.classDir(), e.Name())
		if idx := readAttr(dir, "index"); idx != "" {
			if i, err := strconv.Atoi(idx); err == nil && i != 0 {
				continue
			}
		}
		res = append(res, Camera{
			ID:   filepath.Join(s.devDir(), e.Name()),
			Name: readAttr(dir, "name"),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Open opens the camera node id for exclusive use. The node stays claimed
// (and the platform camera indicator stays on) until the returned handle is
// closed.
func (s System) Open(id string) (io.Closer, error) {
	if filepath.Dir(id) != filepath.Clean(s.devDir()) ||
		!strings.HasPrefix(filepath.Base(id), "video") {
		return nil, mediaerr.New(mediaerr.KindDeviceUnavailable,
			fmt.Errorf("%w %q", ErrUnknownCamera, id))
	}

	f, err := os.OpenFile(id, os.O_RDWR, 0)
	switch {
	case errors.Is(err, os.ErrPermission):
		return nil, mediaerr.New(mediaerr.KindPermissionDenied, err)
	case err != nil:
		return nil, mediaerr.New(mediaerr.KindDeviceUnavailable, err)
	}
	return f, nil
}
