package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/companyzero/coachmedia/devices"
	"github.com/companyzero/coachmedia/internal/audio"
	"github.com/companyzero/coachmedia/internal/instancelock"
	"github.com/companyzero/coachmedia/internal/strescape"
	"github.com/companyzero/coachmedia/internal/video"
	"github.com/mattn/go-runewidth"
)

// printDevices prints the capture devices (with the ids kept in the
// selection store) and the playback devices.
func printDevices(ctx context.Context, driver *audio.Driver, mode devices.Mode) error {
	pf := func(format string, args ...interface{}) {
		fmt.Println(fmt.Sprintf(format, args...))
	}

	platform := devices.NewSystemPlatform(driver, video.System{}, nil)
	inputs, err := platform.Enumerate(ctx, mode)
	if err != nil {
		return err
	}
	playback, err := driver.ListDevices(audio.DeviceTypePlayback)
	if err != nil {
		return err
	}

	labelW := 10
	for _, dev := range inputs {
		labelW = max(labelW, runewidth.StringWidth(dev.Label))
	}
	for _, dev := range playback {
		labelW = max(labelW, runewidth.StringWidth(strescape.Label(dev.Name)))
	}
	labelW = min(labelW, 48)

	printDevice := func(label, id string, isDefault bool) {
		defaultStr := "         "
		if isDefault {
			defaultStr = "(default)"
		}
		pf("  %s %s  %s", runewidth.FillRight(runewidth.Truncate(label, labelW, "…"), labelW),
			defaultStr, id)
	}

	for _, kind := range []devices.Kind{devices.KindAudio, devices.KindVideo} {
		if kind == devices.KindVideo && mode != devices.ModeAudioVideo {
			continue
		}
		title := "Microphones"
		if kind == devices.KindVideo {
			title = "Cameras"
		}
		pf("%s", title)
		n := 0
		for _, dev := range inputs {
			if dev.Kind == kind {
				printDevice(dev.Label, dev.ID, dev.IsDefault)
				n++
			}
		}
		if n == 0 {
			pf("  (none found)")
		}
		pf("")
	}

	pf("Playback devices")
	if len(playback) == 0 {
		pf("  (none found)")
	}
	for _, dev := range playback {
		printDevice(strescape.Label(dev.Name), "", dev.IsDefault)
	}
	return nil
}

func realMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	// Start CPU profiling.
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer f.Close()
		defer pprof.StopCPUProfile()
	}
	if cfg.MemProfile != "" {
		defer func() {
			f, err := os.Create(cfg.MemProfile)
			if err == nil {
				runtime.GC()
				err = pprof.WriteHeapProfile(f)
			}
			if err == nil {
				f.Close()
			}
		}()
	}

	logBknd, err := newLogBackend(cfg.LogFile, cfg.DebugLevel, cfg.MaxLogFiles, false)
	if err != nil {
		return err
	}
	defer logBknd.close()
	log := logBknd.logger(subsysMain)
	log.Infof("Starting %s version %s (mode %s)", appName, appVersion, cfg.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	driver, err := audio.NewDriver(logBknd.logger(subsysAudio))
	if err != nil {
		return err
	}
	defer driver.Free()

	if cfg.ListDevices {
		return printDevices(ctx, driver, devices.ModeAudioVideo)
	}

	lockCtx, lockCancel := context.WithTimeout(ctx, time.Second)
	lock, err := instancelock.Acquire(lockCtx, cfg.Root)
	lockCancel()
	if err != nil {
		return err
	}
	defer lock.Release()

	var p atomic.Pointer[tea.Program]
	sendMsg := func(msg tea.Msg) {
		if prog := p.Load(); prog != nil {
			go prog.Send(msg)
		}
	}
	as, err := newAppState(ctx, cfg, logBknd, driver, sendMsg)
	if err != nil {
		return err
	}
	logBknd.setErrorMsgHandler(func(line string) {
		sendMsg(msgErrorLog(strings.TrimSpace(line)))
	})

	var initial tea.Model = newSetupWin(as)
	if cfg.SessionRef != "" {
		initial = newReviewWin(as, cfg.SessionRef)
	}
	prog := tea.NewProgram(initial,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	p.Store(prog)
	as.run()

	_, runErr := prog.Run()
	p.Store(nil)
	logBknd.setErrorMsgHandler(nil)
	if errors.Is(runErr, tea.ErrProgramKilled) || errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	log.Infof("Shutting down")
	closeErr := as.close()
	return errors.Join(runErr, closeErr)
}

func main() {
	err := realMain()
	if err != nil && !errors.Is(err, errCmdDone) {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
