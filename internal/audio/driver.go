package audio

import (
	"context"
	"fmt"

	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/decred/slog"
)

// Driver gives access to the audio devices of the platform.
type Driver struct {
	audioCtx audioContext
	log      slog.Logger
}

// NewDriver initializes the audio driver selected during compilation.
func NewDriver(log slog.Logger) (*Driver, error) {
	if log == nil {
		log = slog.Disabled
	}
	audioCtx, err := newAudioContext()
	if err != nil {
		return nil, mediaerr.New(mediaerr.KindAudioUnavailable, err)
	}

	if addDebugTrace {
		log.Infof("Initializing audio driver %s WITH DEBUG TRACE",
			audioCtx.name())
	} else {
		log.Infof("Initializing audio driver %s", audioCtx.name())
	}
	return &Driver{audioCtx: audioCtx, log: log}, nil
}

// Name of the underlying driver.
func (d *Driver) Name() string {
	return d.audioCtx.name()
}

// Free releases all resources of the driver. It must not be used afterwards.
func (d *Driver) Free() error {
	return d.audioCtx.free()
}

// ListDevices lists the devices of the given type. Failures are reported as
// enumeration-failed media errors.
func (d *Driver) ListDevices(typ DeviceType) ([]Device, error) {
	devs, err := d.audioCtx.devices(typ)
	if err != nil {
		return nil, mediaerr.New(mediaerr.KindEnumerationFailed,
			fmt.Errorf("unable to list %s devices: %w", typ, err))
	}
	return devs, nil
}

// ProbeCapture opens and immediately closes a capture stream on the given
// device (or the default device when id is empty). This triggers the
// platform's permission flow and verifies the device can be opened.
func (d *Driver) ProbeCapture(ctx context.Context, id DeviceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	device, err := d.audioCtx.initCapture(id, func(_, _ []byte, _ uint32) {})
	if err != nil {
		return deviceErr(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return deviceErr(err)
	}
	if err := device.Stop(); err != nil {
		d.log.Debugf("Error stopping probe capture device: %v", err)
	}
	return nil
}
