package devices

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/companyzero/coachmedia/internal/kvstore"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/mediastats"
	"github.com/decred/slog"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultCooldown is the window after a refresh during which hot-plug
// notifications do not trigger an immediate refresh. Some platforms emit
// spurious hot-plug events when a stream is acquired by the permission probe.
const DefaultCooldown = 1500 * time.Millisecond

// InventoryState is a snapshot of the inventory.
type InventoryState struct {
	Microphones []InputDevice
	Cameras     []InputDevice

	// Selection is the resolved selection: it always references listed
	// devices, or is empty when there are none.
	Selection Selection

	Refreshing  bool
	LastRefresh time.Time

	// Err is the media error of the last refresh, if any.
	Err error
}

// Config is the configuration for an Inventory.
type Config struct {
	Platform Platform

	// Store keeps the selection across runs. Defaults to a memory store.
	Store kvstore.Store

	Mode     Mode
	Cooldown time.Duration
	Clock    clockwork.Clock
	Log      slog.Logger
	Stats    *mediastats.Stats
}

// Inventory discovers input devices and tracks the selection among them.
type Inventory struct {
	cfg   Config
	log   slog.Logger
	clock clockwork.Clock

	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	mtx        sync.Mutex
	mics       []InputDevice
	cams       []InputDevice
	wanted     Selection
	sel        Selection
	refreshing bool
	deferred   bool
	probed     bool
	lastDone   time.Time
	err        error

	subs      *xsync.MapOf[uint64, func(InventoryState)]
	nextSubID atomic.Uint64
}

// New creates an inventory, loading the persisted selection from the store.
// The device list is empty until the first Refresh.
func New(cfg Config) (*Inventory, error) {
	if cfg.Platform == nil {
		return nil, errors.New("platform is required")
	}
	if cfg.Store == nil {
		cfg.Store = kvstore.NewMemory()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}

	var wanted Selection
	var err error
	if wanted.MicrophoneID, err = kvstore.GetOrEmpty(cfg.Store, KeyMicrophone); err != nil {
		return nil, fmt.Errorf("unable to load microphone selection: %w", err)
	}
	if wanted.CameraID, err = kvstore.GetOrEmpty(cfg.Store, KeyCamera); err != nil {
		return nil, fmt.Errorf("unable to load camera selection: %w", err)
	}
	cfg.Log.Debugf("Loaded persisted selection mic=%q cam=%q",
		wanted.MicrophoneID, wanted.CameraID)

	ctx, cancel := context.WithCancel(context.Background())
	return &Inventory{
		cfg:    cfg,
		log:    cfg.Log,
		clock:  cfg.Clock,
		ctx:    ctx,
		cancel: cancel,
		wanted: wanted,
		subs:   xsync.NewMapOf[uint64, func(InventoryState)](),
	}, nil
}

// stateLocked returns the current state. Must be called with the mutex held.
func (inv *Inventory) stateLocked() InventoryState {
	return InventoryState{
		Microphones: slices.Clone(inv.mics),
		Cameras:     slices.Clone(inv.cams),
		Selection:   inv.sel,
		Refreshing:  inv.refreshing,
		LastRefresh: inv.lastDone,
		Err:         inv.err,
	}
}

// State returns a snapshot of the inventory.
func (inv *Inventory) State() InventoryState {
	inv.mtx.Lock()
	defer inv.mtx.Unlock()
	return inv.stateLocked()
}

// Selection returns the resolved selection.
func (inv *Inventory) Selection() Selection {
	inv.mtx.Lock()
	defer inv.mtx.Unlock()
	return inv.sel
}

// Subscribe registers f to be called with the new state after every change.
func (inv *Inventory) Subscribe(f func(InventoryState)) (unsubscribe func()) {
	id := inv.nextSubID.Add(1)
	inv.subs.Store(id, f)
	return func() { inv.subs.Delete(id) }
}

func (inv *Inventory) notify(st InventoryState) {
	inv.subs.Range(func(_ uint64, f func(InventoryState)) bool {
		f(st)
		return true
	})
}

// Refresh probes for permission, enumerates the devices and resolves the
// selection against the new list. It returns true if the refresh ran.
//
// A refresh in progress makes concurrent calls no-ops. A hot-plug refresh
// within the cooldown window of the previous refresh does not run: instead a
// single refresh is deferred to the end of the window, absorbing any number
// of notifications received in the meantime. The deferred refresh skips the
// permission probe once permission was granted, so it can't cause further
// spurious notifications.
//
// Failures are reported in the state, never returned.
func (inv *Inventory) Refresh(ctx context.Context, fromHotplug bool) bool {
	return inv.refresh(ctx, fromHotplug, false)
}

func (inv *Inventory) refresh(ctx context.Context, fromHotplug, deferred bool) bool {
	inv.mtx.Lock()
	if inv.refreshing {
		inv.mtx.Unlock()
		inv.log.Debugf("Skipping refresh: refresh already in progress")
		return false
	}
	if fromHotplug && !inv.lastDone.IsZero() {
		if since := inv.clock.Since(inv.lastDone); since < inv.cfg.Cooldown {
			inv.deferLocked(inv.cfg.Cooldown - since)
			inv.mtx.Unlock()
			return false
		}
	}
	inv.refreshing = true
	skipProbe := deferred && inv.probed
	sel := inv.sel
	st := inv.stateLocked()
	inv.mtx.Unlock()
	inv.notify(st)

	inv.log.Debugf("Refreshing devices (hotplug %v, mode %s)", fromHotplug,
		inv.cfg.Mode)
	mics, cams, probed, err := inv.enumerate(ctx, sel, skipProbe)
	inv.finishRefresh(mics, cams, probed, err)
	return true
}

// deferLocked schedules a refresh after wait, unless one is already
// scheduled. Must be called with the mutex held.
func (inv *Inventory) deferLocked(wait time.Duration) {
	if inv.deferred {
		inv.log.Tracef("Ignoring hot-plug notification: refresh already deferred")
		return
	}
	if inv.ctx.Err() != nil {
		return
	}
	inv.log.Debugf("Hot-plug notification within cooldown: deferring "+
		"refresh by %s", wait)
	inv.deferred = true
	timer := inv.clock.NewTimer(wait)
	inv.wg.Add(1)
	go func() {
		defer inv.wg.Done()
		defer timer.Stop()
		select {
		case <-timer.Chan():
		case <-inv.ctx.Done():
			return
		}
		inv.mtx.Lock()
		inv.deferred = false
		inv.mtx.Unlock()
		inv.refresh(inv.ctx, true, true)
	}()
}

// enumerate runs the probe and enumeration steps of a refresh.
func (inv *Inventory) enumerate(ctx context.Context, sel Selection, skipProbe bool) (
	mics, cams []InputDevice, probed bool, err error) {

	if !skipProbe {
		err := inv.cfg.Platform.Probe(ctx, inv.cfg.Mode, sel)
		switch {
		case errors.Is(err, mediaerr.ErrPermissionDenied):
			return nil, nil, false, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, nil, false, mediaerr.New(mediaerr.KindEnumerationFailed, err)
		case err != nil:
			// Missing or busy devices are reported from the
			// enumeration result.
			inv.log.Debugf("Permission probe failed: %v", err)
		default:
			probed = true
		}
	}

	devs, err := inv.cfg.Platform.Enumerate(ctx, inv.cfg.Mode)
	if err != nil {
		return nil, nil, probed, mediaerr.Wrap(err, mediaerr.KindEnumerationFailed)
	}
	mics = filterKind(devs, KindAudio)
	if len(mics) == 0 {
		return nil, nil, probed, mediaerr.New(mediaerr.KindNoDeviceFound,
			errors.New("no microphone found"))
	}
	if inv.cfg.Mode == ModeAudioVideo {
		cams = filterKind(devs, KindVideo)
		if len(cams) == 0 {
			return mics, nil, probed, mediaerr.New(mediaerr.KindNoDeviceFound,
				errors.New("no camera found"))
		}
	}
	return mics, cams, probed, nil
}

// finishRefresh stores the result of a refresh and notifies subscribers.
func (inv *Inventory) finishRefresh(mics, cams []InputDevice, probed bool, err error) {
	inv.mtx.Lock()
	inv.refreshing = false
	inv.lastDone = inv.clock.Now()
	inv.probed = inv.probed || probed
	inv.err = err
	switch {
	case err == nil, errors.Is(err, mediaerr.ErrNoDeviceFound):
		inv.mics, inv.cams = mics, cams
	case errors.Is(err, mediaerr.ErrPermissionDenied):
		inv.probed = false
	}

	// Fallback to the default device is in-memory only: the persisted
	// choice is kept so the device is picked again once it returns.
	oldSel := inv.sel
	inv.sel = Selection{
		MicrophoneID: resolve(inv.wanted.MicrophoneID, inv.mics),
		CameraID:     resolve(inv.wanted.CameraID, inv.cams),
	}
	if inv.sel.MicrophoneID != inv.wanted.MicrophoneID && inv.wanted.MicrophoneID != "" {
		inv.log.Infof("Selected microphone %q not available, using %q",
			inv.wanted.MicrophoneID, inv.sel.MicrophoneID)
	}
	if inv.sel != oldSel {
		inv.log.Debugf("Resolved selection mic=%q cam=%q",
			inv.sel.MicrophoneID, inv.sel.CameraID)
	}
	st := inv.stateLocked()
	inv.mtx.Unlock()

	if err != nil {
		inv.log.Warnf("Device refresh failed: %v", err)
		inv.cfg.Stats.Refreshed(string(mediaerr.KindOf(err, mediaerr.KindEnumerationFailed)))
	} else {
		inv.log.Infof("Found %d microphones and %d cameras", len(st.Microphones),
			len(st.Cameras))
		inv.cfg.Stats.Refreshed("ok")
	}
	inv.cfg.Stats.SetDeviceCount(string(KindAudio), len(st.Microphones))
	inv.cfg.Stats.SetDeviceCount(string(KindVideo), len(st.Cameras))
	inv.notify(st)
}

// selectDevice sets the wanted id of the given kind, persisting it.
func (inv *Inventory) selectDevice(kind Kind, id string) error {
	inv.mtx.Lock()
	devs, key := inv.mics, KeyMicrophone
	if kind == KindVideo {
		devs, key = inv.cams, KeyCamera
	}
	if !contains(devs, id) {
		inv.mtx.Unlock()
		return fmt.Errorf("%w %q", ErrUnknownDevice, id)
	}
	if kind == KindVideo {
		inv.wanted.CameraID, inv.sel.CameraID = id, id
	} else {
		inv.wanted.MicrophoneID, inv.sel.MicrophoneID = id, id
	}
	st := inv.stateLocked()
	inv.mtx.Unlock()

	inv.log.Infof("Selected %s device %q", kind, id)
	inv.notify(st)
	if err := inv.cfg.Store.Set(key, id); err != nil {
		return fmt.Errorf("unable to persist selection: %w", err)
	}
	return nil
}

// Select sets the microphone. Ids that are not in the current list are
// rejected with ErrUnknownDevice.
func (inv *Inventory) Select(id string) error {
	return inv.selectDevice(KindAudio, id)
}

// SelectCamera sets the camera. Ids that are not in the current list are
// rejected with ErrUnknownDevice.
func (inv *Inventory) SelectCamera(id string) error {
	return inv.selectDevice(KindVideo, id)
}

// Run refreshes the inventory for every notification received in events
// until ctx is done or events is closed.
func (inv *Inventory) Run(ctx context.Context, events <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			inv.Refresh(ctx, true)
		}
	}
}

// Close cancels any deferred refresh. No subscriber is called after Close
// returns, unless a Refresh call is still running.
func (inv *Inventory) Close() {
	inv.cancel()
	inv.wg.Wait()
}
