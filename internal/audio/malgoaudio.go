//go:build cgo && !noaudio

package audio

import (
	"errors"
	"fmt"

	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/gopus"
	"github.com/gen2brain/malgo"
)

// rawFormat is the sample format of every stream. Its size must match
// rawFormatSampleSize.
var rawFormat = malgo.FormatS16

func init() {
	newAudioContext = newMalgoContext
}

func (typ DeviceType) toMalgo() malgo.DeviceType {
	if typ == DeviceTypePlayback {
		return malgo.Playback
	}
	return malgo.Capture
}

// malgoID converts id into a malgo device id. The second return value is
// false for the empty (system default) id.
func (id DeviceID) malgoID() (malgo.DeviceID, bool) {
	var res malgo.DeviceID
	if id == "" {
		return res, false
	}
	copy(res[:], id)
	return res, true
}

// platformErrKind classifies malgo errors into media error kinds.
func platformErrKind(err error) (mediaerr.Kind, bool) {
	switch {
	case errors.Is(err, malgo.ErrAccessDenied):
		return mediaerr.KindPermissionDenied, true
	case errors.Is(err, malgo.ErrNoDevice),
		errors.Is(err, malgo.ErrDoesNotExist),
		errors.Is(err, malgo.ErrUnavailable),
		errors.Is(err, malgo.ErrAlreadyInUse),
		errors.Is(err, malgo.ErrBusy),
		errors.Is(err, malgo.ErrDeviceNotInitialized),
		errors.Is(err, malgo.ErrFailedToOpenBackendDevice),
		errors.Is(err, malgo.ErrFailedToStartBackendDevice):
		return mediaerr.KindDeviceUnavailable, true
	}
	return "", false
}

// malgoContext is the audioContext backed by miniaudio.
type malgoContext struct {
	malgoCtx *malgo.AllocatedContext
}

func newMalgoContext() (audioContext, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{malgoCtx: malgoCtx}, nil
}

func (mpc *malgoContext) name() string {
	return "malgo"
}

func (mpc *malgoContext) free() error {
	if err := mpc.malgoCtx.Uninit(); err != nil {
		return err
	}
	mpc.malgoCtx.Free()
	return nil
}

// devices lists the devices of the given type. Devices whose info cannot be
// read are skipped, as are duplicated ids reported by some backends.
func (mpc *malgoContext) devices(typ DeviceType) ([]Device, error) {
	mtyp := typ.toMalgo()
	infos, err := mpc.malgoCtx.Devices(mtyp)
	if err != nil {
		return nil, err
	}

	res := make([]Device, 0, len(infos))
	seen := make(map[DeviceID]struct{}, len(infos))
	for _, info := range infos {
		full, err := mpc.malgoCtx.DeviceInfo(mtyp, info.ID, malgo.Shared)
		if err != nil {
			continue
		}
		id := DeviceID(full.ID[:])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

// initDevice initializes a device of the given type in the shared stream
// format.
func (mpc *malgoContext) initDevice(typ DeviceType, id DeviceID, cb dataProc) (*malgo.Device, error) {
	if size := malgo.SampleSizeInBytes(rawFormat); size != rawFormatSampleSize {
		return nil, fmt.Errorf("malgo raw format has wrong sample size "+
			"(got %d, want %d)", size, rawFormatSampleSize)
	}

	mtyp := typ.toMalgo()
	cfg := malgo.DefaultDeviceConfig(mtyp)
	cfg.SampleRate = sampleRate
	cfg.PeriodSizeInMilliseconds = periodSizeMS
	cfg.Alsa.NoMMap = 1

	sub := &cfg.Capture
	if mtyp == malgo.Playback {
		sub = &cfg.Playback
	}
	sub.Format = rawFormat
	sub.Channels = channels
	if mid, ok := id.malgoID(); ok {
		sub.DeviceID = mid.Pointer()
	}

	return malgo.InitDevice(mpc.malgoCtx.Context, cfg, malgo.DeviceCallbacks{
		Data: malgo.DataProc(cb),
	})
}

func (mpc *malgoContext) initPlayback(deviceID DeviceID, cb dataProc) (playbackDevice, error) {
	dev, err := mpc.initDevice(DeviceTypePlayback, deviceID, cb)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (mpc *malgoContext) initCapture(deviceID DeviceID, cb dataProc) (captureDevice, error) {
	dev, err := mpc.initDevice(DeviceTypeCapture, deviceID, cb)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (mpc *malgoContext) newEncoder(sampleRate, channels int) (streamEncoder, error) {
	return gopus.NewEncoder(sampleRate, channels, gopus.Voip)
}

func (mpc *malgoContext) newDecoder(sampleRate, channels int) (streamDecoder, error) {
	return gopus.NewDecoder(sampleRate, channels)
}
