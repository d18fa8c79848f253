// Package playback plays the audio of recorded sessions in sync with their
// transcripts.
package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/companyzero/coachmedia/internal/audio"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/mediastats"
	"github.com/companyzero/coachmedia/transcript"
	"github.com/decred/slog"
)

// AudioFetcher fetches the audio resource of a session.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, ref string) ([]byte, error)
}

// Player is a loaded audio resource with transport controls. It reports its
// progress through the events it was created with.
type Player interface {
	Duration() time.Duration
	Position() time.Duration
	Playing() bool
	Play()
	Pause()
	Seek(pos time.Duration) time.Duration
	SetMuted(muted bool)
	Muted() bool

	// Close stops the player. No events are called after it returns.
	Close()
}

// PlayerFactory creates a player for data that reports to events.
type PlayerFactory func(data []byte, events audio.PlayerEvents) (Player, error)

// ClipPlayerFactory returns a factory of players that play ogg/opus
// resources configured as base. The events of base are replaced by the ones
// of each player.
func ClipPlayerFactory(base audio.PlayerConfig) PlayerFactory {
	return func(data []byte, events audio.PlayerEvents) (Player, error) {
		cfg := base
		cfg.Events = events
		return audio.NewClipPlayer(data, cfg)
	}
}

// ErrNotLoaded is returned by operations that need a loaded resource.
var ErrNotLoaded = errors.New("audio not loaded")

// State is a snapshot of a synchronizer.
type State struct {
	Loaded  bool
	Playing bool
	Muted   bool

	Position time.Duration
	Duration time.Duration

	// ActiveIndex is the index of the last transcript entry at or before
	// Position, or -1.
	ActiveIndex int

	// Err is the media error of the last load or playback failure.
	Err error
}

// Config is the configuration of a Synchronizer.
type Config struct {
	Fetcher   AudioFetcher
	NewPlayer PlayerFactory
	Log       slog.Logger
	Stats     *mediastats.Stats

	// OnChange is called with the new state after every change.
	OnChange func(State)

	// OnScroll is called when the transcript view should scroll to the
	// entry with the given index.
	OnScroll func(index int)
}

// ActiveIndex returns the highest index of entries with an offset at or
// before pos, or -1 if there is none.
func ActiveIndex(entries []transcript.Entry, pos time.Duration) int {
	idx := -1
	for i := range entries {
		if entries[i].Offset <= pos {
			idx = i
		}
	}
	return idx
}

// Synchronizer keeps the active transcript entry in sync with the playback
// position of the session audio.
//
// The view auto-scrolls only for position updates that happen while audio is
// playing. Seeks change the active entry but never scroll, so the view does
// not fight the user's own navigation.
type Synchronizer struct {
	cfg Config
	log slog.Logger

	// opMtx serializes operations. Player methods are only called with
	// opMtx held, and never with mtx held, since players call events
	// synchronously.
	opMtx  sync.Mutex
	player Player
	blob   *Blob

	mtx       sync.Mutex
	gen       uint64
	closed    bool
	entries   []transcript.Entry
	loaded    bool
	playing   bool
	muted     bool
	position  time.Duration
	duration  time.Duration
	active    int
	err       error
	viewFirst int
	viewLast  int
}

// New creates a synchronizer. Nothing is loaded until Load is called.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("audio fetcher is required")
	}
	if cfg.NewPlayer == nil {
		return nil, errors.New("player factory is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	return &Synchronizer{
		cfg:      cfg,
		log:      cfg.Log,
		active:   -1,
		viewLast: -1,
	}, nil
}

func (s *Synchronizer) stateLocked() State {
	return State{
		Loaded:      s.loaded,
		Playing:     s.playing,
		Muted:       s.muted,
		Position:    s.position,
		Duration:    s.duration,
		ActiveIndex: s.active,
		Err:         s.err,
	}
}

// State returns a snapshot of the synchronizer.
func (s *Synchronizer) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.stateLocked()
}

// Entries returns the loaded transcript.
func (s *Synchronizer) Entries() []transcript.Entry {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return slices.Clone(s.entries)
}

// Blob returns the loaded audio resource, if any.
func (s *Synchronizer) Blob() *Blob {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	return s.blob
}

func (s *Synchronizer) changed(st State) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(st)
	}
}

// releaseResources closes the player and releases the blob. Must be called
// with opMtx held.
func (s *Synchronizer) releaseResources() {
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	if s.blob != nil {
		s.log.Debugf("Releasing audio blob of %d bytes", s.blob.Size())
		s.blob.Release()
		s.blob = nil
	}
}

// fail records a load failure of generation gen.
func (s *Synchronizer) fail(gen uint64, err error) {
	s.cfg.Stats.PlaybackFailed()
	s.mtx.Lock()
	if gen != s.gen {
		s.mtx.Unlock()
		return
	}
	s.err = err
	s.playing = false
	st := s.stateLocked()
	s.mtx.Unlock()
	s.changed(st)
}

// Load fetches the audio of session ref and attaches it along with its
// transcript, releasing any previously loaded resource first. When the audio
// fails to load, the state records an audio-unavailable error and the
// transcript remains usable.
func (s *Synchronizer) Load(ctx context.Context, ref string, entries []transcript.Entry) error {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()

	s.releaseResources()

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return errors.New("synchronizer closed")
	}
	s.gen++
	gen := s.gen
	s.entries = slices.Clone(entries)
	s.loaded, s.playing, s.muted = false, false, false
	s.position, s.duration = 0, 0
	s.active = -1
	s.err = nil
	st := s.stateLocked()
	s.mtx.Unlock()
	s.changed(st)

	data, err := s.cfg.Fetcher.FetchAudio(ctx, ref)
	if err != nil {
		err = mediaerr.Wrap(fmt.Errorf("unable to fetch audio: %w", err),
			mediaerr.KindAudioUnavailable)
		s.log.Warnf("Audio of session %s unavailable: %v", ref, err)
		s.fail(gen, err)
		return err
	}

	blob := newBlob(data, s.cfg.Stats)
	player, err := s.cfg.NewPlayer(blob.Bytes(), s.playerEvents(gen))
	if err != nil {
		blob.Release()
		err = mediaerr.Wrap(fmt.Errorf("unable to decode audio: %w", err),
			mediaerr.KindAudioUnavailable)
		s.log.Warnf("Audio of session %s unavailable: %v", ref, err)
		s.fail(gen, err)
		return err
	}
	s.blob, s.player = blob, player

	s.mtx.Lock()
	s.loaded = true
	s.duration = player.Duration()
	st = s.stateLocked()
	s.mtx.Unlock()
	s.log.Infof("Loaded audio of session %s (%d bytes, %s, %d entries)", ref,
		blob.Size(), st.Duration, len(entries))
	s.changed(st)
	return nil
}

// playerEvents returns the events of the player of generation gen. Events of
// older generations are ignored.
func (s *Synchronizer) playerEvents(gen uint64) audio.PlayerEvents {
	return audio.PlayerEvents{
		OnMetadata: func(d time.Duration) {
			s.update(gen, func() { s.duration = d })
		},
		OnTimeUpdate: func(pos time.Duration) {
			s.timeUpdate(gen, pos)
		},
		OnPlay: func() {
			s.update(gen, func() { s.playing = true })
		},
		OnPause: func() {
			s.update(gen, func() { s.playing = false })
		},
		OnEnded: func() {
			s.update(gen, func() { s.playing = false })
		},
		OnError: func(err error) {
			s.log.Warnf("Playback error: %v", err)
			s.fail(gen, mediaerr.Wrap(err, mediaerr.KindAudioUnavailable))
		},
	}
}

// update applies f to the state if gen is the current generation.
func (s *Synchronizer) update(gen uint64, f func()) {
	s.mtx.Lock()
	if gen != s.gen || s.closed {
		s.mtx.Unlock()
		return
	}
	f()
	st := s.stateLocked()
	s.mtx.Unlock()
	s.changed(st)
}

// inViewLocked returns true if entry i is within the viewport. Must be called
// with the mutex held.
func (s *Synchronizer) inViewLocked(i int) bool {
	return i >= s.viewFirst && i <= s.viewLast
}

// timeUpdate tracks a position reported by the player.
func (s *Synchronizer) timeUpdate(gen uint64, pos time.Duration) {
	s.mtx.Lock()
	if gen != s.gen || s.closed {
		s.mtx.Unlock()
		return
	}
	prev := s.active
	s.position = pos
	s.active = ActiveIndex(s.entries, pos)
	scroll := s.playing && s.active != prev && s.active >= 0 && !s.inViewLocked(s.active)
	active := s.active
	st := s.stateLocked()
	s.mtx.Unlock()

	s.changed(st)
	if scroll && s.cfg.OnScroll != nil {
		s.log.Tracef("Scrolling transcript to entry %d", active)
		s.cfg.OnScroll(active)
	}
}

// Seek moves playback to pos, clamped to the duration of the resource, and
// recomputes the active entry immediately. It never scrolls the view. It is
// a no-op until the resource is loaded.
func (s *Synchronizer) Seek(pos time.Duration) {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	s.seek(func(time.Duration) time.Duration { return pos })
}

// seek moves playback to the position returned by target for the current
// position. Must be called with opMtx held.
func (s *Synchronizer) seek(target func(cur time.Duration) time.Duration) {
	if s.player == nil {
		return
	}
	s.mtx.Lock()
	pos := max(0, min(target(s.position), s.duration))
	s.mtx.Unlock()

	pos = s.player.Seek(pos)

	s.mtx.Lock()
	s.position = pos
	s.active = ActiveIndex(s.entries, pos)
	st := s.stateLocked()
	s.mtx.Unlock()
	s.changed(st)
}

// SeekToEntry seeks to the offset of entry i.
func (s *Synchronizer) SeekToEntry(i int) error {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()

	s.mtx.Lock()
	if i < 0 || i >= len(s.entries) {
		s.mtx.Unlock()
		return fmt.Errorf("entry %d out of range", i)
	}
	offset := s.entries[i].Offset
	s.mtx.Unlock()

	if s.player == nil {
		return ErrNotLoaded
	}
	s.seek(func(time.Duration) time.Duration { return offset })
	return nil
}

// Skip seeks delta away from the current position.
func (s *Synchronizer) Skip(delta time.Duration) {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	s.seek(func(cur time.Duration) time.Duration { return cur + delta })
}

// TogglePlay pauses the audio if playing, otherwise plays it.
func (s *Synchronizer) TogglePlay() {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	if s.player == nil {
		return
	}
	if s.player.Playing() {
		s.player.Pause()
	} else {
		s.player.Play()
	}
}

// ToggleMute mutes or unmutes the audio.
func (s *Synchronizer) ToggleMute() {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	if s.player == nil {
		return
	}
	muted := !s.player.Muted()
	s.player.SetMuted(muted)
	s.update(s.currentGen(), func() { s.muted = muted })
}

func (s *Synchronizer) currentGen() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.gen
}

// SetViewport sets the range (inclusive) of transcript entries that are
// visible in the view.
func (s *Synchronizer) SetViewport(first, last int) {
	s.mtx.Lock()
	s.viewFirst, s.viewLast = first, last
	s.mtx.Unlock()
}

// Unload releases the loaded resource and its transcript. The synchronizer
// may load another resource afterwards.
func (s *Synchronizer) Unload() {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return
	}
	s.gen++
	s.entries = nil
	s.loaded, s.playing = false, false
	s.position, s.duration = 0, 0
	s.active = -1
	s.err = nil
	st := s.stateLocked()
	s.mtx.Unlock()

	s.releaseResources()
	s.changed(st)
}

// Close releases the loaded resource. No events are emitted after Close
// returns.
func (s *Synchronizer) Close() {
	s.opMtx.Lock()
	defer s.opMtx.Unlock()
	s.mtx.Lock()
	s.closed = true
	s.gen++
	s.loaded, s.playing = false, false
	s.mtx.Unlock()
	s.releaseResources()
}
