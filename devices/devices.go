// Package devices tracks the audio and video input devices of the system and
// the user's choice among them.
package devices

import (
	"context"
	"errors"
)

// Kind of input device.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// InputDevice is one hardware input.
type InputDevice struct {
	// ID is opaque and unique within its Kind.
	ID    string
	Kind  Kind
	Label string

	// IsDefault is set for the device the platform flags as system default.
	IsDefault bool
}

// Selection is the user's device choice. Empty ids mean no choice.
type Selection struct {
	MicrophoneID string
	CameraID     string
}

// Mode is the capture mode, which determines the kinds of devices that are
// probed and required.
type Mode int

const (
	ModeAudio Mode = iota
	ModeAudioVideo
)

func (m Mode) String() string {
	if m == ModeAudioVideo {
		return "audio+video"
	}
	return "audio"
}

// ParseMode parses the string form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "audio", "":
		return ModeAudio, nil
	case "audio+video", "av":
		return ModeAudioVideo, nil
	default:
		return 0, errors.New("unknown capture mode " + s)
	}
}

// Store keys of the persisted selection.
const (
	KeyMicrophone = "selection.microphone"
	KeyCamera     = "selection.camera"
)

// ErrUnknownDevice is returned when selecting a device that is not in the
// current device list.
var ErrUnknownDevice = errors.New("unknown device")

// Platform is the device layer of the host.
type Platform interface {
	// Probe acquires and immediately releases a stream on the selected (or
	// default) devices required by mode. This triggers the platform
	// permission flow.
	Probe(ctx context.Context, mode Mode, sel Selection) error

	// Enumerate lists the devices of the kinds required by mode.
	Enumerate(ctx context.Context, mode Mode) ([]InputDevice, error)
}

// filterKind returns the devices of the given kind.
func filterKind(devs []InputDevice, kind Kind) []InputDevice {
	var res []InputDevice
	for _, d := range devs {
		if d.Kind == kind {
			res = append(res, d)
		}
	}
	return res
}

// resolve returns want if it is in devs. Otherwise it returns the device
// flagged as default, falling back to the first one.
func resolve(want string, devs []InputDevice) string {
	if want != "" {
		for _, d := range devs {
			if d.ID == want {
				return want
			}
		}
	}
	for _, d := range devs {
		if d.IsDefault {
			return d.ID
		}
	}
	if len(devs) > 0 {
		return devs[0].ID
	}
	return ""
}

func contains(devs []InputDevice, id string) bool {
	for _, d := range devs {
		if d.ID == id {
			return true
		}
	}
	return false
}
