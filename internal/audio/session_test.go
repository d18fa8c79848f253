package audio

import (
	"context"
	"errors"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/companyzero/coachmedia/internal/assert"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/testutils"
	"github.com/jonboulle/clockwork"
)

type testCamera struct {
	closed atomic.Int32
}

func (c *testCamera) Close() error {
	c.closed.Add(1)
	return nil
}

func newTestSession(t testing.TB) (*Session, *testAudioContext, *clockwork.FakeClock) {
	drv, tac := newTestDriver(t)
	clock := clockwork.NewFakeClock()
	s := NewSession(SessionConfig{
		Driver: drv,
		Log:    testutils.TestLoggerSys(t, "SESS"),
		Clock:  clock,
	})
	t.Cleanup(s.Stop)
	return s, tac, clock
}

// TestSessionNoDevice tests that starting a session without any capture
// devices errors with no-device-found and leaves the level at zero.
func TestSessionNoDevice(t *testing.T) {
	t.Parallel()

	s, tac, _ := newTestSession(t)
	tac.mtx.Lock()
	tac.capture = nil
	tac.mtx.Unlock()

	err := s.Start(context.Background(), Selection{})
	assert.ErrorIs(t, err, mediaerr.ErrNoDeviceFound)

	state, stateErr := s.State()
	assert.DeepEqual(t, state, SessionError)
	assert.ErrorIs(t, stateErr, mediaerr.ErrNoDeviceFound)
	assert.DeepEqual(t, s.Level(), 0.0)
	assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 0)

	// Recording is rejected while not active.
	assert.BoolIs(t, s.StartRecording(time.Minute), false)
	assert.DeepEqual(t, s.Recording(), RecordingIdle)
}

// TestSessionStartErrors tests the errors returned when the device fails to
// open.
func TestSessionStartErrors(t *testing.T) {
	t.Parallel()

	t.Run("permission denied", func(t *testing.T) {
		s, tac, _ := newTestSession(t)
		tac.initErr = mediaerr.New(mediaerr.KindPermissionDenied, errors.New("denied"))
		err := s.Start(context.Background(), Selection{})
		assert.ErrorIs(t, err, mediaerr.ErrPermissionDenied)
		state, _ := s.State()
		assert.DeepEqual(t, state, SessionError)
		assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 0)
	})

	t.Run("start failure", func(t *testing.T) {
		s, tac, _ := newTestSession(t)
		tac.startErr = errTestDevice
		err := s.Start(context.Background(), Selection{})
		assert.ErrorIs(t, err, mediaerr.ErrDeviceUnavailable)
		assert.ErrorIs(t, err, errTestDevice)
		assert.ChanWritten(t, tac.uninited)
		assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 0)
	})

	t.Run("missing microphone", func(t *testing.T) {
		s, tac, _ := newTestSession(t)
		err := s.Start(context.Background(), Selection{Microphone: "unplugged"})
		assert.ErrorIs(t, err, mediaerr.ErrDeviceUnavailable)
		tac.mtx.Lock()
		opened := len(tac.opened)
		tac.mtx.Unlock()
		assert.DeepEqual(t, opened, 0)
	})

	t.Run("enumeration failure", func(t *testing.T) {
		s, tac, _ := newTestSession(t)
		tac.listErr = errTestDevice
		err := s.Start(context.Background(), Selection{})
		assert.ErrorIs(t, err, mediaerr.ErrEnumerationFailed)
	})
}

// TestSessionStopIdempotent tests that Stop can be called multiple times in
// any state without leaving devices running.
func TestSessionStopIdempotent(t *testing.T) {
	t.Parallel()

	s, tac, _ := newTestSession(t)
	camera := new(testCamera)
	s.cfg.OpenCamera = func(id string) (io.Closer, error) {
		if id != "cam1" {
			return nil, errors.New("unknown camera")
		}
		return camera, nil
	}

	// Stop while idle.
	assert.DoesNotBlock(t, s.Stop)

	assert.NilErr(t, s.Start(context.Background(), Selection{Microphone: "mic1", Camera: "cam1"}))
	state, _ := s.State()
	assert.DeepEqual(t, state, SessionActive)
	assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 1)

	assert.DoesNotBlock(t, s.Stop)
	assert.DoesNotBlock(t, s.Stop)
	state, _ = s.State()
	assert.DeepEqual(t, state, SessionIdle)
	assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 0)
	assert.DeepEqual(t, camera.closed.Load(), int32(1))

	// Stop after the session errored.
	tac.mtx.Lock()
	tac.startErr = errTestDevice
	tac.mtx.Unlock()
	assert.NonNilErr(t, s.Start(context.Background(), Selection{}))
	assert.DoesNotBlock(t, s.Stop)
	assert.DoesNotBlock(t, s.Stop)
	assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 0)
}

// TestSessionStartReleasesPrevious tests that starting a session tears down
// the previous stream.
func TestSessionStartReleasesPrevious(t *testing.T) {
	t.Parallel()

	s, tac, _ := newTestSession(t)
	tac.capture = append(tac.capture, Device{ID: "mic2", Name: "Mic 2"})

	assert.NilErr(t, s.Start(context.Background(), Selection{Microphone: "mic1"}))
	assert.NilErr(t, s.Start(context.Background(), Selection{Microphone: "mic2"}))
	assert.DeepEqual(t, tac.runningDevices(DeviceTypeCapture), 1)

	tac.mtx.Lock()
	opened := append([]DeviceID(nil), tac.opened...)
	tac.mtx.Unlock()
	assert.DeepEqual(t, opened, []DeviceID{"mic1", "mic2"})
}

// TestSessionLevelMeter tests the level is published to subscribers on every
// meter tick and that no level is published after Stop.
func TestSessionLevelMeter(t *testing.T) {
	t.Parallel()

	s, tac, clock := newTestSession(t)
	levels := make(chan float64, 100)
	unsub := s.SubscribeLevel(func(level float64) {
		if level < 0 || level > 1 {
			t.Errorf("level %f out of bounds", level)
		}
		select {
		case levels <- level:
		default:
		}
	})
	defer unsub()

	assert.NilErr(t, s.Start(context.Background(), Selection{}))
	clock.BlockUntil(1)

	// Loud input clamps at 1. The second period ensures the first was
	// metered.
	tac.capturePeriod(math.MaxInt16)
	tac.capturePeriod(math.MaxInt16)
	clock.Advance(DefaultMeterInterval)
	assert.ChanWrittenWithVal(t, levels, 1.0)
	assert.DeepEqual(t, s.Level(), 1.0)

	// Silence is zero.
	tac.capturePeriod(0)
	tac.capturePeriod(0)
	clock.Advance(DefaultMeterInterval)
	assert.ChanWrittenWithVal(t, levels, 0.0)

	s.Stop()
	assert.DeepEqual(t, s.Level(), 0.0)
	for len(levels) > 0 {
		<-levels
	}
	clock.Advance(time.Second)
	assert.ChanNotWritten(t, levels, 50*time.Millisecond)
}

// TestSessionSingleRecording tests that starting a recording while already
// recording does not affect the in-progress recording.
func TestSessionSingleRecording(t *testing.T) {
	t.Parallel()

	s, tac, clock := newTestSession(t)
	assert.NilErr(t, s.Start(context.Background(), Selection{}))

	assert.BoolIs(t, s.StartRecording(0), true)
	start := s.RecordingStart()
	tac.captureFor(time.Second, 1000)

	clock.Advance(500 * time.Millisecond)
	assert.BoolIs(t, s.StartRecording(time.Second), false)
	assert.DeepEqual(t, s.RecordingStart(), start)
	assert.DeepEqual(t, s.Recording(), RecordingActive)
	tac.captureFor(time.Second, 1000)

	clip := s.StopRecording()
	if clip == nil {
		t.Fatal("nil clip")
	}
	assert.DeepEqual(t, clip.Info().PacketCount, 2000/periodSizeMS)
	assert.DeepEqual(t, clip.Duration(), 2*time.Second)
	assert.DeepEqual(t, s.Recording(), RecordingStopped)

	// Stopping again is idempotent and returns the same clip.
	assert.DeepEqual(t, s.StopRecording(), clip)
	assert.DeepEqual(t, s.Clip(), clip)
}

// TestSessionRecordingMaxDuration tests that recording stops automatically
// once the max duration elapses.
func TestSessionRecordingMaxDuration(t *testing.T) {
	t.Parallel()

	s, tac, clock := newTestSession(t)
	assert.NilErr(t, s.Start(context.Background(), Selection{}))
	clock.BlockUntil(1)

	assert.BoolIs(t, s.StartRecording(2*time.Second), true)
	clock.BlockUntil(2)
	tac.captureFor(time.Second, 1000)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return s.Elapsed() == time.Second })
	assert.DeepEqual(t, s.Recording(), RecordingActive)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return s.Recording() == RecordingStopped })
	assert.DeepEqual(t, s.Elapsed(), 2*time.Second)
	if s.Clip() == nil {
		t.Fatal("nil clip after auto stop")
	}

	// The session remains active.
	state, _ := s.State()
	assert.DeepEqual(t, state, SessionActive)
}

// TestSessionRecordAndPlay tests recording a few seconds of audio then
// playing back the resulting clip.
func TestSessionRecordAndPlay(t *testing.T) {
	t.Parallel()

	s, tac, clock := newTestSession(t)
	assert.NilErr(t, s.Start(context.Background(), Selection{}))
	clock.BlockUntil(1)

	assert.BoolIs(t, s.StartRecording(3*time.Minute), true)
	clock.BlockUntil(2)
	for i := 1; i <= 3; i++ {
		tac.captureFor(time.Second, 8000)
		clock.Advance(time.Second)
		want := time.Duration(i) * time.Second
		assert.Eventually(t, func() bool { return s.Elapsed() == want })
	}

	clip := s.StopRecording()
	if clip == nil || len(clip.Bytes()) == 0 {
		t.Fatal("empty clip")
	}
	assert.DeepEqual(t, clip.Duration(), 3*time.Second)

	assert.BoolIs(t, s.Playing(), false)
	cp, err := s.PlayClip(context.Background())
	assert.NilErr(t, err)
	assert.BoolIs(t, s.Playing(), true)

	tac.playUntilDone(cp.Done())
	assert.NilErr(t, cp.Err())
	assert.BoolIs(t, cp.Ended(), true)
	assert.DeepEqual(t, cp.Position(), 3*time.Second)
	assert.Eventually(t, func() bool { return !s.Playing() })
	assert.DeepEqual(t, tac.runningDevices(DeviceTypePlayback), 0)
}

// TestSessionPlaybackReplacesPrevious tests that only one playback exists at
// a time.
func TestSessionPlaybackReplacesPrevious(t *testing.T) {
	t.Parallel()

	s, tac, _ := newTestSession(t)

	_, err := s.PlayClip(context.Background())
	assert.ErrorIs(t, err, ErrEmptyClip)

	assert.NilErr(t, s.Start(context.Background(), Selection{}))
	assert.BoolIs(t, s.StartRecording(0), true)
	tac.captureFor(time.Second, 1000)
	s.StopRecording()

	cp1, err := s.PlayClip(context.Background())
	assert.NilErr(t, err)
	cp2, err := s.PlayClip(context.Background())
	assert.NilErr(t, err)

	assert.Closed(t, cp1.Done())
	assert.BoolIs(t, cp1.Ended(), false)
	assert.BoolIs(t, s.Playing(), true)

	s.StopPlayback()
	assert.Closed(t, cp2.Done())
	assert.BoolIs(t, s.Playing(), false)
	assert.Eventually(t, func() bool { return tac.runningDevices(DeviceTypePlayback) == 0 })
}

// TestSessionConcurrentPlayback tests that concurrent PlayClip calls leave a
// single playback running.
func TestSessionConcurrentPlayback(t *testing.T) {
	t.Parallel()

	s, tac, _ := newTestSession(t)
	assert.NilErr(t, s.Start(context.Background(), Selection{}))
	assert.BoolIs(t, s.StartRecording(0), true)
	tac.captureFor(time.Second, 1000)
	s.StopRecording()

	const n = 8
	res := make(chan *ClipPlayback, n)
	for i := 0; i < n; i++ {
		go func() {
			cp, err := s.PlayClip(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			res <- cp
		}()
	}

	cps := make([]*ClipPlayback, n)
	for i := range cps {
		cps[i] = assert.ChanWritten(t, res)
	}
	var running int
	for _, cp := range cps {
		if cp == nil {
			continue
		}
		select {
		case <-cp.Done():
		default:
			running++
		}
	}
	assert.DeepEqual(t, running, 1)
	assert.BoolIs(t, s.Playing(), true)
	assert.Eventually(t, func() bool { return tac.runningDevices(DeviceTypePlayback) <= 1 })

	s.StopPlayback()
	assert.BoolIs(t, s.Playing(), false)
	assert.Eventually(t, func() bool { return tac.runningDevices(DeviceTypePlayback) == 0 })
}
