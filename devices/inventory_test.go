package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/companyzero/coachmedia/internal/assert"
	"github.com/companyzero/coachmedia/internal/kvstore"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/internal/testutils"
	"github.com/jonboulle/clockwork"
)

type testPlatform struct {
	mtx      sync.Mutex
	devs     []InputDevice
	probeErr error
	enumErr  error
	probes   []Selection
	enums    int

	// block, when set, is waited on by Probe.
	block chan struct{}
}

func (p *testPlatform) Probe(ctx context.Context, mode Mode, sel Selection) error {
	p.mtx.Lock()
	block := p.block
	p.probes = append(p.probes, sel)
	err := p.probeErr
	p.mtx.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *testPlatform) Enumerate(ctx context.Context, mode Mode) ([]InputDevice, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.enums++
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	var res []InputDevice
	for _, d := range p.devs {
		if d.Kind == KindVideo && mode != ModeAudioVideo {
			continue
		}
		res = append(res, d)
	}
	return res, nil
}

func (p *testPlatform) setDevs(devs ...InputDevice) {
	p.mtx.Lock()
	p.devs = devs
	p.mtx.Unlock()
}

func (p *testPlatform) counts() (probes, enums int) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.probes), p.enums
}

func mic(id string) InputDevice {
	return InputDevice{ID: id, Kind: KindAudio, Label: "Mic " + id}
}

func defaultMic(id string) InputDevice {
	d := mic(id)
	d.IsDefault = true
	return d
}

func cam(id string) InputDevice {
	return InputDevice{ID: id, Kind: KindVideo, Label: "Cam " + id}
}

type testInventory struct {
	*Inventory
	p     *testPlatform
	clock *clockwork.FakeClock
	store kvstore.Store
}

func newTestInventory(t testing.TB, mode Mode, store kvstore.Store, devs ...InputDevice) *testInventory {
	t.Helper()
	p := &testPlatform{devs: devs}
	clock := clockwork.NewFakeClock()
	if store == nil {
		store = kvstore.NewMemory()
	}
	inv, err := New(Config{
		Platform: p,
		Store:    store,
		Mode:     mode,
		Clock:    clock,
		Log:      testutils.TestLoggerSys(t, "DEVS"),
	})
	assert.NilErr(t, err)
	t.Cleanup(inv.Close)
	return &testInventory{Inventory: inv, p: p, clock: clock, store: store}
}

// TestRefreshErrors asserts refresh failures are surfaced as state.
func TestRefreshErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      Mode
		devs      []InputDevice
		probeErr  error
		enumErr   error
		wantErr   error
		wantEnums int
	}{{
		name:      "no device",
		wantErr:   mediaerr.ErrNoDeviceFound,
		probeErr:  mediaerr.New(mediaerr.KindDeviceUnavailable, nil),
		wantEnums: 1,
	}, {
		name:      "no camera",
		mode:      ModeAudioVideo,
		devs:      []InputDevice{mic("a")},
		wantErr:   mediaerr.ErrNoDeviceFound,
		wantEnums: 1,
	}, {
		name:      "permission denied",
		devs:      []InputDevice{mic("a")},
		probeErr:  mediaerr.New(mediaerr.KindPermissionDenied, errors.New("denied")),
		wantErr:   mediaerr.ErrPermissionDenied,
		wantEnums: 0,
	}, {
		name:      "enumeration failed",
		devs:      []InputDevice{mic("a")},
		enumErr:   errors.New("backend crashed"),
		wantErr:   mediaerr.ErrEnumerationFailed,
		wantEnums: 1,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			inv := newTestInventory(t, tc.mode, nil, tc.devs...)
			inv.p.probeErr = tc.probeErr
			inv.p.enumErr = tc.enumErr

			var notified []InventoryState
			inv.Subscribe(func(st InventoryState) { notified = append(notified, st) })

			assert.BoolIs(t, inv.Refresh(context.Background(), false), true)
			st := inv.State()
			assert.ErrorIs(t, st.Err, tc.wantErr)
			assert.BoolIs(t, st.Refreshing, false)
			_, enums := inv.p.counts()
			assert.DeepEqual(t, enums, tc.wantEnums)

			// Refreshing then refreshed.
			assert.DeepEqual(t, len(notified), 2)
			assert.BoolIs(t, notified[0].Refreshing, true)
			assert.ErrorIs(t, notified[1].Err, tc.wantErr)
		})
	}
}

// TestRefreshRecovers asserts a successful refresh clears a previous error.
func TestRefreshRecovers(t *testing.T) {
	t.Parallel()
	inv := newTestInventory(t, ModeAudio, nil)
	inv.Refresh(context.Background(), false)
	assert.ErrorIs(t, inv.State().Err, mediaerr.ErrNoDeviceFound)
	assert.DeepEqual(t, inv.Selection(), Selection{})

	inv.p.setDevs(mic("a"))
	inv.Refresh(context.Background(), false)
	st := inv.State()
	assert.NilErr(t, st.Err)
	assert.DeepEqual(t, st.Microphones, []InputDevice{mic("a")})
	assert.DeepEqual(t, st.Selection.MicrophoneID, "a")
}

// TestRefreshInFlight asserts a refresh in progress makes new calls no-ops.
func TestRefreshInFlight(t *testing.T) {
	t.Parallel()
	inv := newTestInventory(t, ModeAudio, nil, mic("a"))
	block := make(chan struct{})
	inv.p.block = block

	done := make(chan bool, 1)
	go func() { done <- inv.Refresh(context.Background(), false) }()
	assert.Eventually(t, func() bool { return inv.State().Refreshing })

	assert.BoolIs(t, inv.Refresh(context.Background(), false), false)
	assert.BoolIs(t, inv.Refresh(context.Background(), true), false)

	close(block)
	assert.ChanWrittenWithVal(t, done, true)
	probes, enums := inv.p.counts()
	assert.DeepEqual(t, probes, 1)
	assert.DeepEqual(t, enums, 1)
}

// TestHotplugCooldown asserts two hot-plug notifications arriving 200ms apart
// after a refresh completed 300ms ago result in exactly one re-enumeration.
func TestHotplugCooldown(t *testing.T) {
	t.Parallel()
	inv := newTestInventory(t, ModeAudio, nil, mic("a"))
	ctx := context.Background()

	assert.BoolIs(t, inv.Refresh(ctx, false), true)
	start := inv.clock.Now()

	inv.clock.Advance(300 * time.Millisecond)
	assert.BoolIs(t, inv.Refresh(ctx, true), false)
	inv.clock.Advance(200 * time.Millisecond)
	assert.BoolIs(t, inv.Refresh(ctx, true), false)
	_, enums := inv.p.counts()
	assert.DeepEqual(t, enums, 1)

	// A single refresh runs once the cooldown of the first refresh
	// elapses.
	inv.clock.BlockUntil(1)
	inv.clock.Advance(DefaultCooldown - 500*time.Millisecond)
	wantDone := start.Add(DefaultCooldown)
	assert.Eventually(t, func() bool { return inv.State().LastRefresh.Equal(wantDone) })
	probes, enums := inv.p.counts()
	assert.DeepEqual(t, enums, 2)

	// The deferred refresh does not probe again.
	assert.DeepEqual(t, probes, 1)

	// Nothing else is pending.
	inv.clock.Advance(10 * DefaultCooldown)
	time.Sleep(50 * time.Millisecond)
	_, enums = inv.p.counts()
	assert.DeepEqual(t, enums, 2)

	// Notifications past the cooldown refresh immediately.
	assert.BoolIs(t, inv.Refresh(ctx, true), true)
	probes, enums = inv.p.counts()
	assert.DeepEqual(t, enums, 3)
	assert.DeepEqual(t, probes, 2)
}

// TestNonHotplugIgnoresCooldown asserts explicit refreshes always run.
func TestNonHotplugIgnoresCooldown(t *testing.T) {
	t.Parallel()
	inv := newTestInventory(t, ModeAudio, nil, mic("a"))
	ctx := context.Background()
	assert.BoolIs(t, inv.Refresh(ctx, false), true)
	inv.clock.Advance(100 * time.Millisecond)
	assert.BoolIs(t, inv.Refresh(ctx, false), true)
	_, enums := inv.p.counts()
	assert.DeepEqual(t, enums, 2)
}

// TestDefaultFallback asserts a selected device that disappears falls back to
// the system default, or the first device when none is flagged.
func TestDefaultFallback(t *testing.T) {
	t.Parallel()
	store := kvstore.NewMemory()
	assert.NilErr(t, store.Set(KeyMicrophone, "usb"))
	inv := newTestInventory(t, ModeAudio, store, mic("a"), defaultMic("b"))
	ctx := context.Background()

	inv.Refresh(ctx, false)
	assert.DeepEqual(t, inv.Selection().MicrophoneID, "b")

	inv.p.setDevs(mic("c"), mic("a"))
	inv.Refresh(ctx, false)
	assert.DeepEqual(t, inv.Selection().MicrophoneID, "c")

	// The persisted choice is kept and picked again once it returns.
	v, err := store.Get(KeyMicrophone)
	assert.NilErr(t, err)
	assert.DeepEqual(t, v, "usb")
	inv.p.setDevs(mic("c"), mic("usb"), defaultMic("b"))
	inv.Refresh(ctx, false)
	assert.DeepEqual(t, inv.Selection().MicrophoneID, "usb")
}

func TestSelect(t *testing.T) {
	t.Parallel()
	inv := newTestInventory(t, ModeAudioVideo, nil, mic("a"), mic("b"), cam("v0"), cam("v1"))

	// Nothing is listed before the first refresh.
	assert.ErrorIs(t, inv.Select("a"), ErrUnknownDevice)

	inv.Refresh(context.Background(), false)
	assert.DeepEqual(t, inv.Selection(), Selection{MicrophoneID: "a", CameraID: "v0"})

	var got []Selection
	unsub := inv.Subscribe(func(st InventoryState) { got = append(got, st.Selection) })

	assert.ErrorIs(t, inv.Select("zzz"), ErrUnknownDevice)
	assert.ErrorIs(t, inv.Select("v1"), ErrUnknownDevice)
	assert.ErrorIs(t, inv.SelectCamera("b"), ErrUnknownDevice)
	assert.NilErr(t, inv.Select("b"))
	assert.NilErr(t, inv.SelectCamera("v1"))
	unsub()
	assert.NilErr(t, inv.Select("a"))

	want := Selection{MicrophoneID: "b", CameraID: "v1"}
	assert.DeepEqual(t, got, []Selection{{MicrophoneID: "b", CameraID: "v0"}, want})

	micID, err := inv.store.Get(KeyMicrophone)
	assert.NilErr(t, err)
	assert.DeepEqual(t, micID, "a")
	camID, err := inv.store.Get(KeyCamera)
	assert.NilErr(t, err)
	assert.DeepEqual(t, camID, "v1")
}

// TestSelectionLoadedFromStore asserts a new inventory resolves the persisted
// selection.
func TestSelectionLoadedFromStore(t *testing.T) {
	t.Parallel()
	store := kvstore.NewMemory()
	inv := newTestInventory(t, ModeAudio, store, mic("a"), mic("b"))
	inv.Refresh(context.Background(), false)
	assert.NilErr(t, inv.Select("b"))

	inv2 := newTestInventory(t, ModeAudio, store, mic("a"), mic("b"))
	inv2.Refresh(context.Background(), false)
	assert.DeepEqual(t, inv2.Selection().MicrophoneID, "b")
}

func TestRun(t *testing.T) {
	t.Parallel()
	inv := newTestInventory(t, ModeAudio, nil, mic("a"))
	events := make(chan struct{})
	runErr := make(chan error, 1)
	go func() { runErr <- inv.Run(context.Background(), events) }()

	events <- struct{}{}
	assert.Eventually(t, func() bool { _, enums := inv.p.counts(); return enums == 1 })
	close(events)
	assert.NilErrFromChan(t, runErr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, inv.Run(ctx, make(chan struct{})), context.Canceled)
}
