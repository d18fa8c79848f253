package devices

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// DefaultHotplugPaths are the dirs watched for device node changes on linux.
var DefaultHotplugPaths = []string{"/dev/snd", "/dev"}

// isDeviceNode returns true for the nodes of audio and video devices.
func isDeviceNode(name string) bool {
	return filepath.Base(filepath.Dir(name)) == "snd" ||
		strings.HasPrefix(filepath.Base(name), "video")
}

// signal sends a payload-less notification without blocking. Pending
// notifications are coalesced.
func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// WatchHotplug watches the given dirs for device nodes being created or
// removed, sending a notification on the returned chan for each topology
// change. Dirs that do not exist are skipped. The chan is closed once ctx is
// done.
func WatchHotplug(ctx context.Context, paths []string, log slog.Logger) (<-chan struct{}, error) {
	if log == nil {
		log = slog.Disabled
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to start hot-plug watcher: %w", err)
	}
	var watched int
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			log.Debugf("Not watching %s for hot-plug events: %v", p, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return nil, fmt.Errorf("none of the hot-plug paths %v could be watched", paths)
	}

	c := make(chan struct{}, 1)
	go func() {
		defer close(c)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					log.Warnf("Hot-plug watcher events closed")
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				if !isDeviceNode(event.Name) {
					continue
				}
				log.Debugf("Hot-plug event: %s", event)
				signal(c)

			case err, ok := <-watcher.Errors:
				if !ok {
					log.Warnf("Hot-plug watcher errors closed")
					return
				}
				log.Warnf("Hot-plug watcher error: %v", err)
			}
		}
	}()
	return c, nil
}

// fingerprint identifies a device set independently of its order.
func fingerprint(devs []InputDevice) string {
	ids := make([]string, 0, len(devs))
	for _, d := range devs {
		ids = append(ids, string(d.Kind)+":"+d.ID)
	}
	slices.Sort(ids)
	return strings.Join(ids, "\n")
}

// PollHotplug enumerates the devices every interval and sends a notification
// when the set of devices changes. It is the hot-plug source of platforms
// without watchable device nodes. The chan is closed once ctx is done.
func PollHotplug(ctx context.Context, clock clockwork.Clock, interval time.Duration,
	platform Platform, mode Mode, log slog.Logger) <-chan struct{} {

	if log == nil {
		log = slog.Disabled
	}
	c := make(chan struct{}, 1)
	go func() {
		defer close(c)

		var last string
		if devs, err := platform.Enumerate(ctx, mode); err == nil {
			last = fingerprint(devs)
		}

		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}

			devs, err := platform.Enumerate(ctx, mode)
			if err != nil {
				log.Debugf("Hot-plug poll enumeration failed: %v", err)
				continue
			}
			fp := fingerprint(devs)
			if fp == last {
				continue
			}
			last = fp
			log.Debugf("Device set changed (%d devices)", len(devs))
			signal(c)
		}
	}()
	return c
}
