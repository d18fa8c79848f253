package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/mediastats"
	"github.com/decred/slog"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultMeterInterval is how often the level meter publishes a new value.
// It matches a 60Hz display refresh.
const DefaultMeterInterval = 16 * time.Millisecond

// SessionState is the state of a capture session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRequesting
	SessionActive
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRequesting:
		return "requesting"
	case SessionActive:
		return "active"
	case SessionError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RecordingState is the state of the recording of a capture session.
type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingActive
	RecordingStopped
)

func (s RecordingState) String() string {
	switch s {
	case RecordingIdle:
		return "idle"
	case RecordingActive:
		return "recording"
	case RecordingStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Selection is the set of devices a session captures from. An empty
// Microphone selects the system default device. An empty Camera means audio
// only.
type Selection struct {
	Microphone DeviceID
	Camera     string
}

// SessionConfig is the configuration of a capture session.
type SessionConfig struct {
	// Driver is the audio driver. Required.
	Driver *Driver

	Log   slog.Logger
	Clock clockwork.Clock
	Stats *mediastats.Stats

	// MeterInterval is how often the level is published to subscribers.
	MeterInterval time.Duration

	// Sensitivity multiplies the normalized RMS of captured samples before
	// clamping it into a level.
	Sensitivity float64

	// CaptureGain and PlaybackGain are expressed in dB.
	CaptureGain  float64
	PlaybackGain float64

	// PlaybackDevice is used to play clips. Empty means the system
	// default device.
	PlaybackDevice DeviceID

	// OpenCamera opens the camera of the selection, holding it until
	// the session stops. Required only for audio+video selections.
	OpenCamera func(id string) (io.Closer, error)

	// OnChange is called (without any locks held) whenever the state,
	// recording or playback status of the session changes, and once per
	// second while recording.
	OnChange func()
}

// recording tracks one in-progress recording.
type recording struct {
	start   time.Time
	max     time.Duration
	elapsed atomic.Int64 // seconds
	cancel  func()
	done    chan struct{}

	mtx     sync.Mutex
	packets [][]byte
	size    int
}

func (rec *recording) onEncoded(data []byte, _ uint32) error {
	rec.mtx.Lock()
	rec.packets = append(rec.packets, slices.Clone(data))
	rec.size += len(data)
	rec.mtx.Unlock()
	return nil
}

// ClipPlayback is one playback of a recorded clip.
type ClipPlayback struct {
	clip *Clip
	ps   *PlaybackStream
}

// Done is closed when the playback ends, either naturally or because it was
// stopped.
func (cp *ClipPlayback) Done() <-chan struct{} { return cp.ps.PlaybackDone() }

// Ended returns true if the clip played through to its end.
func (cp *ClipPlayback) Ended() bool { return cp.ps.Ended() }

// Err returns the playback error, if any. Only set after Done is closed.
func (cp *ClipPlayback) Err() error { return cp.ps.Err() }

// Position of the playback within the clip.
func (cp *ClipPlayback) Position() time.Duration { return cp.ps.Position() }

// Session is a live capture stream bound to a device selection, with level
// metering and bounded recording into a clip.
//
// Starting a session always releases the resources of the previous stream
// first. Stop must be called on every exit path.
type Session struct {
	cfg   SessionConfig
	log   slog.Logger
	clock clockwork.Clock

	// opMtx serializes Start and Stop.
	opMtx sync.Mutex

	mtx         sync.Mutex
	state       SessionState
	err         error
	cs          *CaptureStream
	camera      io.Closer
	meterCancel func()
	meterDone   chan struct{}
	rec         *recording
	recState    RecordingState
	lastElapsed time.Duration
	clip        *Clip
	playback    *ClipPlayback

	level     atomic.Uint64
	subs      *xsync.MapOf[uint64, func(float64)]
	nextSubID atomic.Uint64

	// wg tracks goroutines that may call back into subscribers.
	wg sync.WaitGroup
}

// NewSession creates a new, idle capture session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = DefaultMeterInterval
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = DefaultLevelSensitivity
	}
	return &Session{
		cfg:   cfg,
		log:   cfg.Log,
		clock: cfg.Clock,
		subs:  xsync.NewMapOf[uint64, func(float64)](),
	}
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}

// State returns the state of the session and, in the error state, the media
// error that caused it.
func (s *Session) State() (SessionState, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state, s.err
}

// Level returns the last published input level, in the range [0, 1].
func (s *Session) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// SubscribeLevel registers f to be called with every published level. The
// returned function removes the subscription.
func (s *Session) SubscribeLevel(f func(float64)) (unsubscribe func()) {
	id := s.nextSubID.Add(1)
	s.subs.Store(id, f)
	return func() { s.subs.Delete(id) }
}

func (s *Session) publishLevel(level float64) {
	s.level.Store(math.Float64bits(level))
	s.cfg.Stats.SetInputLevel(level)
	s.subs.Range(func(_ uint64, f func(float64)) bool {
		f(level)
		return true
	})
}

// fail moves the session to the error state.
func (s *Session) fail(err error) error {
	err = mediaerr.Wrap(err, mediaerr.KindDeviceUnavailable)
	s.mtx.Lock()
	s.state = SessionError
	s.err = err
	s.mtx.Unlock()
	s.log.Warnf("Unable to start capture session: %v", err)
	s.notify()
	return err
}

// Start acquires a live stream for the given selection, releasing any
// previous stream first. The context only bounds the acquisition: the stream
// runs until Stop is called.
//
// On failure the session is left in the error state with no device open and
// the returned error is a media error (no-device-found, permission-denied or
// device-unavailable).
func (s *Session) Start(ctx context.Context, sel Selection) error {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()

	s.stop()

	s.mtx.Lock()
	s.state = SessionRequesting
	s.err = nil
	s.mtx.Unlock()
	s.notify()

	devs, err := s.cfg.Driver.ListDevices(DeviceTypeCapture)
	if err != nil {
		return s.fail(err)
	}
	if len(devs) == 0 {
		return s.fail(mediaerr.New(mediaerr.KindNoDeviceFound,
			errors.New("no capture devices found")))
	}
	if sel.Microphone != "" && !slices.ContainsFunc(devs, func(d Device) bool {
		return d.ID == sel.Microphone
	}) {
		return s.fail(mediaerr.New(mediaerr.KindDeviceUnavailable,
			fmt.Errorf("microphone %q is not connected", sel.Microphone)))
	}

	var camera io.Closer
	if sel.Camera != "" && s.cfg.OpenCamera != nil {
		camera, err = s.cfg.OpenCamera(sel.Camera)
		if err != nil {
			return s.fail(err)
		}
	}
	closeCamera := func() {
		if camera == nil {
			return
		}
		if err := camera.Close(); err != nil {
			s.log.Debugf("Error closing camera: %v", err)
		}
	}

	s.log.Infof("Starting capture session on microphone %q", sel.Microphone)
	cs := streamCapture(context.Background(), s.cfg.Driver.audioCtx,
		sel.Microphone, s.cfg.CaptureGain, s.cfg.Sensitivity, s.log)
	select {
	case <-cs.Started():
	case <-cs.CaptureDone():
		closeCamera()
		return s.fail(cs.Err())
	case <-ctx.Done():
		cs.Stop()
		<-cs.CaptureDone()
		closeCamera()
		s.mtx.Lock()
		s.state = SessionIdle
		s.mtx.Unlock()
		s.notify()
		return ctx.Err()
	}

	meterCtx, cancelMeter := context.WithCancel(context.Background())
	meterDone := make(chan struct{})
	s.mtx.Lock()
	s.state = SessionActive
	s.cs = cs
	s.camera = camera
	s.meterCancel = cancelMeter
	s.meterDone = meterDone
	s.mtx.Unlock()

	go s.meterLoop(meterCtx, cs, meterDone)
	s.notify()
	return nil
}

// meterLoop publishes the stream level every meter interval.
func (s *Session) meterLoop(ctx context.Context, cs *CaptureStream, done chan struct{}) {
	defer close(done)
	ticker := s.clock.NewTicker(s.cfg.MeterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cs.CaptureDone():
			s.publishLevel(0)
			s.captureEnded(cs)
			return
		case <-ticker.Chan():
			s.publishLevel(cs.Level())
		}
	}
}

// captureEnded handles a capture stream that ended without being stopped
// (for example, because the device was unplugged).
func (s *Session) captureEnded(cs *CaptureStream) {
	s.mtx.Lock()
	if s.cs != cs {
		s.mtx.Unlock()
		return
	}
	err := cs.Err()
	if err == nil {
		err = errors.New("capture stream ended")
	}
	s.state = SessionError
	s.err = mediaerr.Wrap(err, mediaerr.KindDeviceUnavailable)
	camera := s.camera
	s.camera = nil
	s.mtx.Unlock()

	s.log.Warnf("Capture stream ended unexpectedly: %v", err)
	if camera != nil {
		if err := camera.Close(); err != nil {
			s.log.Debugf("Error closing camera: %v", err)
		}
	}
	s.notify()
}

// Stop tears down the live stream, any recording and playback, the level
// meter and all timers. It is safe to call multiple times and in any state.
// No subscriber or change callback is called after Stop returns.
func (s *Session) Stop() {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	s.stop()
}

func (s *Session) stop() {
	s.StopPlayback()
	s.finishRecording(nil)

	s.mtx.Lock()
	cs, camera := s.cs, s.camera
	cancelMeter, meterDone := s.meterCancel, s.meterDone
	s.cs, s.camera, s.meterCancel, s.meterDone = nil, nil, nil, nil
	changed := s.state != SessionIdle
	s.state = SessionIdle
	s.err = nil
	s.mtx.Unlock()

	if cancelMeter != nil {
		cancelMeter()
		<-meterDone
	}
	if cs != nil {
		cs.Stop()
		<-cs.CaptureDone()
		if err := cs.Err(); err != nil {
			s.log.Debugf("Capture stream ended with error: %v", err)
		}
		s.log.Infof("Stopped capture session")
	}
	if camera != nil {
		if err := camera.Close(); err != nil {
			s.log.Debugf("Error closing camera: %v", err)
		}
	}
	s.wg.Wait()

	if cs != nil {
		s.publishLevel(0)
	}
	if changed {
		s.notify()
	}
}

// StartRecording starts encoding the live stream into memory, discarding any
// previous clip. Recording automatically stops once maxDuration elapses (if
// positive). Calling this while the session is not active or while already
// recording is a logged no-op. Returns whether a new recording started.
func (s *Session) StartRecording(maxDuration time.Duration) bool {
	s.StopPlayback()

	s.mtx.Lock()
	if s.state != SessionActive {
		state := s.state
		s.mtx.Unlock()
		s.log.Warnf("Cannot start recording while session is %s", state)
		return false
	}
	if s.rec != nil {
		s.mtx.Unlock()
		s.log.Warnf("Ignoring request to start recording while already recording")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		start:  s.clock.Now(),
		max:    maxDuration,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := s.cs.StartEncoding(rec.onEncoded); err != nil {
		s.mtx.Unlock()
		cancel()
		s.log.Warnf("Unable to start recording: %v", err)
		return false
	}
	s.rec = rec
	s.recState = RecordingActive
	s.clip = nil
	s.lastElapsed = 0
	s.wg.Add(1)
	s.mtx.Unlock()

	s.log.Infof("Started recording (max duration %s)", maxDuration)
	go s.elapsedLoop(ctx, rec)
	s.notify()
	return true
}

// elapsedLoop counts recording seconds and enforces the maximum duration.
func (s *Session) elapsedLoop(ctx context.Context, rec *recording) {
	defer s.wg.Done()
	defer close(rec.done)

	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		elapsed := time.Duration(rec.elapsed.Add(1)) * time.Second
		if rec.max > 0 && elapsed >= rec.max {
			s.log.Infof("Recording reached maximum duration of %s", rec.max)
			s.finishRecording(rec)
			return
		}
		s.notify()
	}
}

// StopRecording finalizes the in-progress recording into a clip and returns
// it. When not recording, this returns the latest clip (which may be nil).
func (s *Session) StopRecording() *Clip {
	return s.finishRecording(nil)
}

// finishRecording finalizes the in-progress recording. When called from the
// elapsed loop, only is the recording the loop belongs to.
func (s *Session) finishRecording(only *recording) *Clip {
	s.mtx.Lock()
	rec, cs := s.rec, s.cs
	if rec == nil || (only != nil && only != rec) {
		clip := s.clip
		s.mtx.Unlock()
		return clip
	}
	s.rec = nil
	s.mtx.Unlock()

	rec.cancel()
	if only == nil {
		<-rec.done
	}
	if cs != nil {
		cs.StopEncoding()
	}

	rec.mtx.Lock()
	packets := rec.packets
	info := RecordInfo{
		SampleCount: len(packets) * samplesPerPeriod,
		DurationMs:  len(packets) * periodSizeMS,
		EncodedSize: rec.size,
		PacketCount: len(packets),
	}
	rec.mtx.Unlock()

	clip, err := newClip(packets, info)
	if err != nil {
		s.log.Warnf("Unable to finalize recording: %v", err)
		clip = nil
	} else {
		s.log.Infof("Finished recording %s of audio (%d bytes)",
			clip.Duration(), len(clip.Bytes()))
		s.cfg.Stats.RecordingFinished(clip.Duration())
	}

	s.mtx.Lock()
	s.clip = clip
	s.recState = RecordingStopped
	s.lastElapsed = time.Duration(rec.elapsed.Load()) * time.Second
	s.mtx.Unlock()
	s.notify()
	return clip
}

// Recording returns the state of the session recording.
func (s *Session) Recording() RecordingState {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.recState
}

// RecordingStart returns when the current (or latest) recording started.
func (s *Session) RecordingStart() time.Time {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.rec == nil {
		return time.Time{}
	}
	return s.rec.start
}

// Elapsed returns the number of whole seconds recorded in the current (or
// latest) recording.
func (s *Session) Elapsed() time.Duration {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.rec != nil {
		return time.Duration(s.rec.elapsed.Load()) * time.Second
	}
	return s.lastElapsed
}

// Clip returns the latest recorded clip or nil.
func (s *Session) Clip() *Clip {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.clip
}

// Playing returns true while a clip is being played back.
func (s *Session) Playing() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.playback != nil
}

// PlayClip plays the latest recorded clip on the playback device. Any
// previous playback is stopped first.
func (s *Session) PlayClip(ctx context.Context) (*ClipPlayback, error) {
	s.StopPlayback()

	s.mtx.Lock()
	clip, recording := s.clip, s.rec != nil
	s.mtx.Unlock()
	if recording {
		return nil, errors.New("cannot play while recording")
	}
	if clip == nil {
		return nil, ErrEmptyClip
	}

	packets, err := clipPackets(bytes.NewReader(clip.Bytes()))
	if err != nil {
		return nil, err
	}

	s.log.Infof("Starting playback of clip (%d opus frames)", len(packets))
	ps := playbackOpusFrames(ctx, s.cfg.Driver.audioCtx, s.cfg.PlaybackDevice,
		s.cfg.PlaybackGain, packets, 0, s.log)
	cp := &ClipPlayback{clip: clip, ps: ps}

	s.mtx.Lock()
	if s.rec != nil {
		s.mtx.Unlock()
		ps.Stop()
		<-ps.PlaybackDone()
		return nil, errors.New("cannot play while recording")
	}

	// A concurrent PlayClip may have started its own playback after the
	// one stopped above. Only the last one stored keeps playing.
	prev := s.playback
	s.playback = cp
	s.wg.Add(1)
	s.mtx.Unlock()
	if prev != nil {
		prev.ps.Stop()
		<-prev.ps.PlaybackDone()
	}
	s.notify()

	go func() {
		defer s.wg.Done()
		<-ps.PlaybackDone()
		if err := ps.Err(); err != nil {
			s.log.Warnf("Clip playback failed: %v", err)
		}

		s.mtx.Lock()
		current := s.playback == cp
		if current {
			s.playback = nil
		}
		s.mtx.Unlock()
		if current {
			s.log.Infof("Finished playback at %s", ps.Position())
			s.notify()
		}
	}()
	return cp, nil
}

// StopPlayback stops the current clip playback, if any.
func (s *Session) StopPlayback() {
	s.mtx.Lock()
	cp := s.playback
	s.playback = nil
	s.mtx.Unlock()
	if cp == nil {
		return
	}
	cp.ps.Stop()
	<-cp.ps.PlaybackDone()
	s.notify()
}
