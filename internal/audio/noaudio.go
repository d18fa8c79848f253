//go:build !cgo || noaudio

// This audio context is only used in cgo-less and noaudio builds. It reports
// no devices and refuses to open streams, so callers observe the
// audio-unavailable condition instead of silently recording nothing.

package audio

import (
	"errors"

	"github.com/companyzero/coachmedia/internal/mediaerr"
)

func init() {
	newAudioContext = newNullAudioContext
}

var errAudioDisabledCompilation = mediaerr.New(mediaerr.KindAudioUnavailable,
	errors.New("audio was disabled during compilation"))

type nullAudioContext struct{}

func newNullAudioContext() (audioContext, error) {
	return nullAudioContext{}, nil
}

func (nullAudioContext) name() string { return "nullaudio" }

func (nullAudioContext) free() error { return nil }

func (nullAudioContext) devices(typ DeviceType) ([]Device, error) {
	return nil, nil
}

func (nullAudioContext) initPlayback(deviceID DeviceID, cb dataProc) (playbackDevice, error) {
	return nil, errAudioDisabledCompilation
}

func (nullAudioContext) initCapture(deviceID DeviceID, cb dataProc) (captureDevice, error) {
	return nil, errAudioDisabledCompilation
}

func (nullAudioContext) newEncoder(sampleRate, channels int) (streamEncoder, error) {
	return nil, errAudioDisabledCompilation
}

func (nullAudioContext) newDecoder(sampleRate, channels int) (streamDecoder, error) {
	return nil, errAudioDisabledCompilation
}

// platformErrKind does not know any platform errors in noaudio builds.
func platformErrKind(err error) (mediaerr.Kind, bool) {
	return "", false
}
