package audio

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/decred/slog"
	"github.com/jonboulle/clockwork"
)

// DefaultTimeUpdateInterval is how often a playing ClipPlayer reports its
// position.
const DefaultTimeUpdateInterval = 250 * time.Millisecond

// PlayerEvents are the lifecycle callbacks of a ClipPlayer. Any of them may
// be nil. They are called without the player state locked, but the stream
// events (OnTimeUpdate, OnEnded and OnError) are serialized with Seek and
// Pause, so they must not call those synchronously.
type PlayerEvents struct {
	OnMetadata   func(duration time.Duration)
	OnTimeUpdate func(position time.Duration)
	OnPlay       func()
	OnPause      func()
	OnEnded      func()
	OnError      func(err error)
}

// PlayerConfig is the configuration for a ClipPlayer.
type PlayerConfig struct {
	Driver *Driver
	Log    slog.Logger
	Clock  clockwork.Clock

	// Device to play on. Empty means the system default device.
	Device DeviceID

	// Gain in dB.
	Gain float64

	TimeUpdateInterval time.Duration
	Events             PlayerEvents
}

// ClipPlayer plays an ogg/opus resource with transport controls (play,
// pause, seek and mute), reporting its progress through events.
type ClipPlayer struct {
	cfg      PlayerConfig
	log      slog.Logger
	clock    clockwork.Clock
	packets  [][]byte
	duration time.Duration

	// evMtx serializes stream events with stream changes, so that no event
	// of a replaced stream is emitted after Seek or Pause returns. It is
	// acquired before mtx.
	evMtx sync.Mutex

	mtx      sync.Mutex
	position time.Duration
	muted    bool
	ps       *PlaybackStream
	closed   bool
	wg       sync.WaitGroup
}

// NewClipPlayer parses data as an ogg/opus file and prepares it for
// playback. The OnMetadata event is called before this returns. Data that
// cannot be parsed fails with an audio-unavailable media error.
func NewClipPlayer(data []byte, cfg PlayerConfig) (*ClipPlayer, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TimeUpdateInterval <= 0 {
		cfg.TimeUpdateInterval = DefaultTimeUpdateInterval
	}

	packets, err := clipPackets(bytes.NewReader(data))
	if err != nil {
		return nil, mediaerr.New(mediaerr.KindAudioUnavailable, err)
	}

	p := &ClipPlayer{
		cfg:      cfg,
		log:      cfg.Log,
		clock:    cfg.Clock,
		packets:  packets,
		duration: time.Duration(len(packets)*periodSizeMS) * time.Millisecond,
	}
	p.log.Debugf("Loaded clip with %d packets (%s)", len(packets), p.duration)
	if cfg.Events.OnMetadata != nil {
		cfg.Events.OnMetadata(p.duration)
	}
	return p, nil
}

// Duration of the loaded resource.
func (p *ClipPlayer) Duration() time.Duration {
	return p.duration
}

// Position returns the current playback position.
func (p *ClipPlayer) Position() time.Duration {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.ps != nil {
		return p.ps.Position()
	}
	return p.position
}

// Playing returns true if the player is playing.
func (p *ClipPlayer) Playing() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.ps != nil
}

// startStream starts playing from the current position. Must be called with
// the mutex held.
func (p *ClipPlayer) startStream() {
	startIdx := int(p.position / (periodSizeMS * time.Millisecond))
	ps := playbackOpusFrames(context.Background(), p.cfg.Driver.audioCtx,
		p.cfg.Device, p.cfg.Gain, p.packets, startIdx, p.log)
	ps.SetMuted(p.muted)
	p.ps = ps
	p.wg.Add(1)
	go p.watch(ps)
}

// Play starts or resumes playback. Playing a clip that reached its end
// restarts it from the beginning.
func (p *ClipPlayer) Play() {
	p.mtx.Lock()
	if p.closed || p.ps != nil {
		p.mtx.Unlock()
		return
	}
	if p.position >= p.duration {
		p.position = 0
	}
	p.startStream()
	p.mtx.Unlock()

	if p.cfg.Events.OnPlay != nil {
		p.cfg.Events.OnPlay()
	}
}

// Pause pauses playback, keeping the current position.
func (p *ClipPlayer) Pause() {
	p.evMtx.Lock()
	p.mtx.Lock()
	ps := p.ps
	if ps == nil {
		p.mtx.Unlock()
		p.evMtx.Unlock()
		return
	}
	p.ps = nil
	p.position = ps.Position()
	p.mtx.Unlock()
	p.evMtx.Unlock()

	ps.Stop()
	if p.cfg.Events.OnPause != nil {
		p.cfg.Events.OnPause()
	}
}

// Seek sets the playback position, clamped to the resource duration. When
// playing, playback continues from the new position.
func (p *ClipPlayer) Seek(pos time.Duration) time.Duration {
	pos = max(0, min(pos, p.duration))

	p.evMtx.Lock()
	defer p.evMtx.Unlock()
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.closed {
		return pos
	}
	p.position = pos
	if p.ps != nil {
		old := p.ps
		p.ps = nil
		old.Stop()
		p.startStream()
	}
	return pos
}

// SetMuted mutes or unmutes the output.
func (p *ClipPlayer) SetMuted(muted bool) {
	p.mtx.Lock()
	p.muted = muted
	if p.ps != nil {
		p.ps.SetMuted(muted)
	}
	p.mtx.Unlock()
}

// Muted returns whether the output is muted.
func (p *ClipPlayer) Muted() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.muted
}

// Close stops playback and releases the player. No events are called after
// Close returns.
func (p *ClipPlayer) Close() {
	p.mtx.Lock()
	if p.closed {
		p.mtx.Unlock()
		return
	}
	p.closed = true
	ps := p.ps
	p.ps = nil
	p.mtx.Unlock()

	if ps != nil {
		ps.Stop()
	}
	p.wg.Wait()
	p.packets = nil
}

// watch emits time updates while ps is the active stream and reports its
// ending.
func (p *ClipPlayer) watch(ps *PlaybackStream) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.TimeUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			p.evMtx.Lock()
			p.mtx.Lock()
			current := p.ps == ps
			p.mtx.Unlock()
			if !current {
				p.evMtx.Unlock()
				return
			}
			if p.cfg.Events.OnTimeUpdate != nil {
				p.cfg.Events.OnTimeUpdate(ps.Position())
			}
			p.evMtx.Unlock()

		case <-ps.PlaybackDone():
			p.evMtx.Lock()
			defer p.evMtx.Unlock()
			p.mtx.Lock()
			current := p.ps == ps
			if current {
				p.ps = nil
				p.position = ps.Position()
				if ps.Ended() {
					p.position = p.duration
				}
			}
			position := p.position
			p.mtx.Unlock()
			if !current {
				return
			}

			if err := ps.Err(); err != nil {
				p.log.Warnf("Playback failed: %v", err)
				if p.cfg.Events.OnError != nil {
					p.cfg.Events.OnError(mediaerr.New(mediaerr.KindAudioUnavailable, err))
				}
				return
			}
			if p.cfg.Events.OnTimeUpdate != nil {
				p.cfg.Events.OnTimeUpdate(position)
			}
			if ps.Ended() && p.cfg.Events.OnEnded != nil {
				p.cfg.Events.OnEnded()
			}
			return
		}
	}
}
