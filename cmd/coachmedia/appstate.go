package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/companyzero/coachmedia/backend"
	"github.com/companyzero/coachmedia/devices"
	"github.com/companyzero/coachmedia/internal/audio"
	"github.com/companyzero/coachmedia/internal/kvstore"
	"github.com/companyzero/coachmedia/internal/logutil"
	"github.com/companyzero/coachmedia/internal/mediastats"
	"github.com/companyzero/coachmedia/internal/strescape"
	"github.com/companyzero/coachmedia/internal/video"
	"github.com/companyzero/coachmedia/playback"
	"github.com/companyzero/coachmedia/transcript"
	"github.com/decred/slog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// localClipRef is the playback reference of the last local recording.
const localClipRef = "local"

var (
	errNoBackend = errors.New("no backend configured")
	errNoClip    = errors.New("nothing recorded yet")
)

// captureSession is the capture session driven by the windows.
type captureSession interface {
	Start(ctx context.Context, sel audio.Selection) error
	Stop()
	State() (audio.SessionState, error)
	Level() float64
	StartRecording(maxDuration time.Duration) bool
	StopRecording() *audio.Clip
	Recording() audio.RecordingState
	Elapsed() time.Duration
	Clip() *audio.Clip
	Playing() bool
	PlayClip(ctx context.Context) (*audio.ClipPlayback, error)
	StopPlayback()
}

type appState struct {
	ctx    context.Context
	cancel func()
	g      *errgroup.Group

	cfg     *config
	logBknd *logBackend
	log     slog.Logger
	styles  *theme
	stats   *mediastats.Stats
	sendMsg func(tea.Msg)

	driver   *audio.Driver
	platform *devices.SystemPlatform
	store    kvstore.ClosableStore
	inv      *devices.Inventory
	sess     captureSession
	client   *backend.Client
	sync     *playback.Synchronizer

	mtx     sync.Mutex
	winW    int
	winH    int
	lastErr string

	// sessSel is the selection the capture session was last started on.
	sessSel devices.Selection
}

// clipFetcher serves the audio of sessions: the local recording or the one
// stored in the backend.
type clipFetcher struct {
	as *appState
}

func (f clipFetcher) FetchAudio(ctx context.Context, ref string) ([]byte, error) {
	if ref == localClipRef {
		clip := f.as.sess.Clip()
		if clip == nil {
			return nil, errNoClip
		}
		return clip.Bytes(), nil
	}
	if f.as.client == nil {
		return nil, errNoBackend
	}
	return f.as.client.FetchAudio(ctx, ref)
}

func newAppState(ctx context.Context, cfg *config, logBknd *logBackend,
	driver *audio.Driver, sendMsg func(tea.Msg)) (*appState, error) {

	styles, err := newTheme(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	as := &appState{
		ctx:     gctx,
		cancel:  cancel,
		g:       g,
		cfg:     cfg,
		logBknd: logBknd,
		log:     logBknd.logger(subsysMain),
		styles:  styles,
		stats:   mediastats.New(),
		sendMsg: sendMsg,
		driver:  driver,
	}
	clock := clockwork.NewRealClock()

	as.store, err = kvstore.Open(cfg.Store, logBknd.logger(subsysStore))
	if err != nil {
		cancel()
		return nil, err
	}

	as.platform = devices.NewSystemPlatform(driver, video.System{},
		logBknd.logger(subsysDevices))
	as.inv, err = devices.New(devices.Config{
		Platform: as.platform,
		Store:    as.store,
		Mode:     cfg.Mode,
		Cooldown: cfg.Cooldown,
		Clock:    clock,
		Log:      logBknd.logger(subsysDevices),
		Stats:    as.stats,
	})
	if err != nil {
		as.store.Close()
		cancel()
		return nil, err
	}
	as.inv.Subscribe(func(st devices.InventoryState) {
		as.sendMsg(msgInventory(st))
	})

	sess := audio.NewSession(audio.SessionConfig{
		Driver:        driver,
		Log:           logBknd.logger(subsysAudio),
		Clock:         clock,
		Stats:         as.stats,
		MeterInterval: cfg.MeterInterval,
		Sensitivity:   cfg.Sensitivity,
		CaptureGain:   cfg.CaptureGain,
		PlaybackGain:  cfg.PlaybackGain,
		OpenCamera:    as.platform.OpenCamera,
		OnChange:      func() { as.sendMsg(msgSessionChanged{}) },
	})
	sess.SubscribeLevel(func(level float64) {
		as.sendMsg(msgLevel(level))
	})
	as.sess = sess

	if cfg.BackendURL != "" {
		var nonce backend.NonceSource = backend.StaticNonce(cfg.Nonce)
		if cfg.NonceURL != "" {
			nonce = backend.NewEndpointNonce(cfg.NonceURL, cfg.Nonce)
		}
		as.client, err = backend.New(backend.Config{
			BaseURL: cfg.BackendURL,
			Nonce:   nonce,
			Log:     logBknd.logger(subsysBackend),
		})
		if err != nil {
			as.close()
			return nil, err
		}
	}

	playLog := logBknd.logger(subsysPlayback)
	as.sync, err = playback.New(playback.Config{
		Fetcher: clipFetcher{as: as},
		NewPlayer: playback.ClipPlayerFactory(audio.PlayerConfig{
			Driver: driver,
			Log:    playLog,
			Clock:  clock,
			Gain:   cfg.PlaybackGain,
		}),
		Log:      playLog,
		Stats:    as.stats,
		OnChange: func(st playback.State) { as.sendMsg(msgPlayback(st)) },
		OnScroll: func(i int) { as.sendMsg(msgScrollTo(i)) },
	})
	if err != nil {
		as.close()
		return nil, err
	}

	return as, nil
}

// hotplugEvents returns the hot-plug notification source: the device node
// watcher, or the poller when configured or when no node can be watched.
func (as *appState) hotplugEvents() <-chan struct{} {
	log := as.logBknd.logger(subsysDevices)
	if as.cfg.PollInterval == 0 {
		events, err := devices.WatchHotplug(as.ctx, devices.DefaultHotplugPaths, log)
		if err == nil {
			return events
		}
		log.Warnf("Unable to watch device nodes (%v). Polling devices", err)
	}
	interval := as.cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return devices.PollHotplug(as.ctx, clockwork.NewRealClock(), interval,
		as.platform, as.cfg.Mode, log)
}

// run starts the background goroutines of the app.
func (as *appState) run() {
	as.g.Go(func() error {
		as.inv.Refresh(as.ctx, false)
		return as.inv.Run(as.ctx, as.hotplugEvents())
	})
	if as.cfg.MetricsListen != "" {
		as.g.Go(func() error {
			err := as.stats.RunListener(as.ctx, as.cfg.MetricsListen, as.log)
			if err != nil && !errors.Is(err, context.Canceled) {
				as.log.Errorf("Metrics listener failed: %v", err)
			}
			return nil
		})
	}
}

// startSession (re)starts the capture session on the current selection.
func (as *appState) startSession() tea.Cmd {
	return as.startSessionOn(as.inv.Selection())
}

func (as *appState) startSessionOn(sel devices.Selection) tea.Cmd {
	as.mtx.Lock()
	as.sessSel = sel
	as.mtx.Unlock()
	return func() tea.Msg {
		asel, err := devices.AudioSelection(sel)
		if err == nil {
			err = as.sess.Start(as.ctx, asel)
		}
		return msgSessionStarted{err: err}
	}
}

// followSelection moves a running capture session to sel when it differs
// from the selection the session was started on. Returns nil when there is
// nothing to do.
func (as *appState) followSelection(sel devices.Selection) tea.Cmd {
	state, _ := as.sess.State()
	if state != audio.SessionActive && state != audio.SessionRequesting {
		return nil
	}
	as.mtx.Lock()
	cur := as.sessSel
	as.mtx.Unlock()
	if cur.MicrophoneID == sel.MicrophoneID &&
		(as.cfg.Mode != devices.ModeAudioVideo || cur.CameraID == sel.CameraID) {
		return nil
	}
	as.log.Infof("Selection changed to mic %q cam %q, restarting capture session",
		sel.MicrophoneID, sel.CameraID)
	return as.startSessionOn(sel)
}

// leaveSetup releases the capture resources held for the setup window. A
// running recording is finished first so that it can be reviewed.
func (as *appState) leaveSetup() {
	if as.sess.Recording() == audio.RecordingActive {
		if clip := as.sess.StopRecording(); clip != nil {
			as.log.Infof("Finished recording of %s", clip.Duration().Truncate(time.Second))
		}
	}
	as.sess.Stop()
	as.mtx.Lock()
	as.sessSel = devices.Selection{}
	as.mtx.Unlock()
}

// leaveReview releases the audio loaded for the review window.
func (as *appState) leaveReview() {
	as.sync.Unload()
}

// exportClip writes the clip to the export dir, returning its path.
func (as *appState) exportClip(clip *audio.Clip) (string, error) {
	if err := os.MkdirAll(as.cfg.ExportDir, 0o700); err != nil {
		return "", err
	}
	name := strescape.PathElement(time.Now().Format("2006-01-02-15_04_05") +
		"-recording.opus")
	fname := filepath.Join(as.cfg.ExportDir, name)
	if err := clip.WriteFile(fname); err != nil {
		return "", err
	}
	as.log.Infof("Exported %s recording to %s", clip.Duration().Truncate(time.Second), fname)
	return fname, nil
}

// loadReview loads the audio and transcript of the session with the given
// reference into the synchronizer.
func (as *appState) loadReview(ref string) tea.Cmd {
	return func() tea.Msg {
		log := logutil.SessionLogger(as.logBknd.logger(subsysPlayback), ref)
		var entries []transcript.Entry
		var err error
		switch {
		case ref == localClipRef && as.cfg.TranscriptFile != "":
			var data []byte
			data, err = os.ReadFile(as.cfg.TranscriptFile)
			if err == nil {
				entries, err = transcript.Decode(data, log)
			}
		case ref == localClipRef:
		case as.client == nil:
			err = errNoBackend
		default:
			entries, err = as.client.FetchTranscript(as.ctx, ref)
		}
		if err != nil {
			// The audio may still be reviewed without a transcript.
			log.Warnf("Unable to load transcript: %v", err)
		}
		log.Debugf("Loading audio with %d transcript entries", len(entries))
		loadErr := as.sync.Load(as.ctx, ref, entries)
		return msgReviewLoaded{ref: ref, entries: entries, transcriptErr: err, err: loadErr}
	}
}

func (as *appState) setWinSize(w, h int) {
	as.mtx.Lock()
	as.winW, as.winH = w, h
	as.mtx.Unlock()
}

func (as *appState) winSize() (int, int) {
	as.mtx.Lock()
	defer as.mtx.Unlock()
	return as.winW, as.winH
}

func (as *appState) setLastError(s string) {
	as.mtx.Lock()
	as.lastErr = s
	as.mtx.Unlock()
}

func (as *appState) lastError() string {
	as.mtx.Lock()
	defer as.mtx.Unlock()
	return as.lastErr
}

// close releases every resource of the app and waits for the background
// goroutines.
func (as *appState) close() error {
	as.cancel()
	if as.sync != nil {
		as.sync.Close()
	}
	if as.sess != nil {
		as.sess.Stop()
	}
	if as.inv != nil {
		as.inv.Close()
	}
	err := as.g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if as.store != nil {
		if cerr := as.store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("unable to close store: %w", cerr))
		}
	}
	return err
}
