package devices

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/companyzero/coachmedia/internal/audio"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/strescape"
	"github.com/companyzero/coachmedia/internal/video"
	"github.com/decred/slog"
)

// audioDriver is the subset of the audio driver used by SystemPlatform.
type audioDriver interface {
	ListDevices(typ audio.DeviceType) ([]audio.Device, error)
	ProbeCapture(ctx context.Context, id audio.DeviceID) error
}

// cameraSystem is the subset of the video system used by SystemPlatform.
type cameraSystem interface {
	Cameras() ([]video.Camera, error)
	Open(id string) (io.Closer, error)
}

// SystemPlatform is the Platform of the host, backed by the audio driver and
// the V4L2 camera nodes.
type SystemPlatform struct {
	audio   audioDriver
	cameras cameraSystem
	log     slog.Logger
}

// NewSystemPlatform returns the platform that uses the given drivers.
func NewSystemPlatform(driver *audio.Driver, cameras video.System, log slog.Logger) *SystemPlatform {
	return newSystemPlatform(driver, cameras, log)
}

func newSystemPlatform(driver audioDriver, cameras cameraSystem, log slog.Logger) *SystemPlatform {
	if log == nil {
		log = slog.Disabled
	}
	return &SystemPlatform{audio: driver, cameras: cameras, log: log}
}

// Audio device ids are opaque binary strings, so they are hex encoded to be
// printable and storable.
func encodeAudioID(id audio.DeviceID) string {
	return hex.EncodeToString([]byte(id))
}

func decodeAudioID(id string) (audio.DeviceID, error) {
	b, err := hex.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("%w %q", ErrUnknownDevice, id)
	}
	return audio.DeviceID(b), nil
}

// AudioSelection converts sel into the selection used by capture sessions.
func AudioSelection(sel Selection) (audio.Selection, error) {
	mic, err := decodeAudioID(sel.MicrophoneID)
	if err != nil {
		return audio.Selection{}, err
	}
	return audio.Selection{Microphone: mic, Camera: sel.CameraID}, nil
}

func (p *SystemPlatform) Probe(ctx context.Context, mode Mode, sel Selection) error {
	mic, err := decodeAudioID(sel.MicrophoneID)
	if err != nil {
		return mediaerr.New(mediaerr.KindDeviceUnavailable, err)
	}
	if err := p.audio.ProbeCapture(ctx, mic); err != nil {
		return err
	}
	if mode != ModeAudioVideo {
		return nil
	}

	camID := sel.CameraID
	if camID == "" {
		cams, err := p.cameras.Cameras()
		if err != nil {
			return mediaerr.New(mediaerr.KindEnumerationFailed, err)
		}
		if len(cams) == 0 {
			return mediaerr.New(mediaerr.KindNoDeviceFound, fmt.Errorf("no camera found"))
		}
		camID = cams[0].ID
	}
	c, err := p.cameras.Open(camID)
	if err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		p.log.Debugf("Error closing probed camera %s: %v", camID, err)
	}
	return nil
}

func (p *SystemPlatform) Enumerate(ctx context.Context, mode Mode) ([]InputDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mics, err := p.audio.ListDevices(audio.DeviceTypeCapture)
	if err != nil {
		return nil, err
	}
	res := make([]InputDevice, 0, len(mics))
	for _, m := range mics {
		res = append(res, InputDevice{
			ID:        encodeAudioID(m.ID),
			Kind:      KindAudio,
			Label:     strescape.Label(m.Name),
			IsDefault: m.IsDefault,
		})
	}
	if mode != ModeAudioVideo {
		return res, nil
	}

	cams, err := p.cameras.Cameras()
	if err != nil {
		return nil, mediaerr.New(mediaerr.KindEnumerationFailed, err)
	}
	for _, c := range cams {
		res = append(res, InputDevice{
			ID:    c.ID,
			Kind:  KindVideo,
			Label: strescape.Label(c.Name),
		})
	}
	return res, nil
}

// OpenCamera opens the camera with the given id for exclusive use.
func (p *SystemPlatform) OpenCamera(id string) (io.Closer, error) {
	return p.cameras.Open(id)
}
