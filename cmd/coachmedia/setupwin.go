package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/companyzero/coachmedia/devices"
	"github.com/companyzero/coachmedia/internal/audio"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/muesli/reflow/wordwrap"
)

// setupWin is the device setup and practice recording window.
type setupWin struct {
	as *appState

	focusCams bool
	micCursor int
	camCursor int
	meter     progress.Model

	status string
	err    error
}

func newSetupWin(as *appState) setupWin {
	w := setupWin{
		as:    as,
		meter: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
	winW, _ := as.winSize()
	w.resize(winW)
	return w
}

func (w *setupWin) resize(winW int) {
	w.meter.Width = clamp(winW-12, 10, 80)
}

func (w setupWin) Init() tea.Cmd { return nil }

// focusedList returns the device list with focus and its cursor.
func (w *setupWin) focusedList(st devices.InventoryState) ([]devices.InputDevice, *int) {
	if w.focusCams {
		return st.Cameras, &w.camCursor
	}
	return st.Microphones, &w.micCursor
}

func (w *setupWin) selectHighlighted() tea.Cmd {
	st := w.as.inv.State()
	list, cursor := w.focusedList(st)
	if len(list) == 0 {
		return nil
	}
	dev := list[clamp(*cursor, 0, len(list)-1)]

	var err error
	if dev.Kind == devices.KindVideo {
		err = w.as.inv.SelectCamera(dev.ID)
	} else {
		err = w.as.inv.Select(dev.ID)
	}
	if err != nil {
		w.err = err
		return nil
	}
	w.status = "Selected " + dev.Label

	// A running session is moved to the new device.
	return w.as.followSelection(w.as.inv.Selection())
}

func (w *setupWin) toggleRecording() tea.Cmd {
	if w.as.sess.Recording() == audio.RecordingActive {
		clip := w.as.sess.StopRecording()
		if clip != nil {
			w.status = fmt.Sprintf("Recorded %s", clip.Duration().Truncate(time.Second))
		}
		return nil
	}
	if !w.as.sess.StartRecording(w.as.cfg.MaxRecording) {
		w.status = "Start the microphone (s) before recording"
	} else {
		w.status = ""
	}
	return nil
}

func (w *setupWin) togglePlayback() tea.Cmd {
	if w.as.sess.Playing() {
		w.as.sess.StopPlayback()
		return nil
	}
	as := w.as
	return func() tea.Msg {
		cp, err := as.sess.PlayClip(as.ctx)
		if err != nil {
			return msgClipPlayed{err: err}
		}
		<-cp.Done()
		return msgClipPlayed{err: cp.Err()}
	}
}

func (w *setupWin) exportClip() tea.Cmd {
	as := w.as
	return func() tea.Msg {
		clip := as.sess.Clip()
		if clip == nil {
			return msgClipExported{err: errNoClip}
		}
		path, err := as.exportClip(clip)
		return msgClipExported{path: path, err: err}
	}
}

func (w *setupWin) refreshDevices() tea.Cmd {
	as := w.as
	return func() tea.Msg {
		if !as.inv.Refresh(as.ctx, false) {
			as.log.Debugf("Device refresh already in progress")
		}
		return msgDevicesRefreshed{}
	}
}

func (w setupWin) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w.as.setWinSize(msg.Width, msg.Height)
		w.resize(msg.Width)

	case tea.KeyMsg:
		w.err = nil
		switch msg.String() {
		case "ctrl+c", "q":
			return w, tea.Quit

		case "up", "k":
			_, cursor := w.focusedList(w.as.inv.State())
			*cursor = max(*cursor-1, 0)

		case "down", "j":
			list, cursor := w.focusedList(w.as.inv.State())
			*cursor = clamp(*cursor+1, 0, max(len(list)-1, 0))

		case "tab":
			if w.as.cfg.Mode == devices.ModeAudioVideo {
				w.focusCams = !w.focusCams
			}

		case "enter":
			cmd = w.selectHighlighted()

		case "f":
			cmd = w.refreshDevices()

		case "s":
			if state, _ := w.as.sess.State(); state == audio.SessionActive ||
				state == audio.SessionRequesting {
				w.as.sess.Stop()
				w.status = "Microphone stopped"
			} else {
				w.status = "Requesting microphone"
				cmd = w.as.startSession()
			}

		case "r":
			cmd = w.toggleRecording()

		case "p":
			cmd = w.togglePlayback()

		case "e":
			cmd = w.exportClip()

		case "v":
			if w.as.sess.Clip() == nil && w.as.sess.Recording() != audio.RecordingActive {
				w.err = errNoClip
				break
			}
			w.as.leaveSetup()
			if w.as.sess.Clip() == nil {
				w.err = errNoClip
				break
			}
			rw := newReviewWin(w.as, localClipRef)
			return rw, rw.Init()
		}

	case msgInventory:
		if cmd = w.as.followSelection(msg.Selection); cmd != nil {
			w.status = "Switching microphone"
		}

	case msgSessionStarted:
		if msg.err != nil {
			w.err = msg.err
			w.status = ""
		} else {
			w.status = "Microphone active"

			// The selection may have changed while starting.
			cmd = w.as.followSelection(w.as.inv.Selection())
		}

	case msgClipPlayed:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			w.err = msg.err
		}

	case msgClipExported:
		if msg.err != nil {
			w.err = msg.err
		} else {
			w.status = "Exported to " + msg.path
		}

	case msgErrorLog:
		w.as.setLastError(string(msg))
	}

	return w, cmd
}

func (w setupWin) renderDevices(b *strings.Builder, title string, list []devices.InputDevice,
	selected string, cursor int, focused bool, width int) {

	styles := w.as.styles
	titleStyle := styles.dim
	if focused {
		titleStyle = styles.focused
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteRune('\n')
	if len(list) == 0 {
		b.WriteString(styles.dim.Render("  (none found)"))
		b.WriteRune('\n')
		return
	}
	for i, dev := range list {
		marker := "  "
		if focused && i == cursor {
			marker = "> "
		}
		sel := "( )"
		if dev.ID == selected {
			sel = "(*)"
		}
		label := dev.Label
		if dev.IsDefault {
			label += " (default)"
		}
		b.WriteString(fitWidth(marker+sel+" "+label, width))
		b.WriteRune('\n')
	}
}

func (w setupWin) renderError(b *strings.Builder, err error, width int) {
	styles := w.as.styles
	rem := mediaerr.RemediationForErr(err)
	b.WriteString(styles.err.Render(wordwrap.String(rem.Message, width)))
	b.WriteRune('\n')
	b.WriteString(styles.dim.Render(wordwrap.String(err.Error(), width)))
	b.WriteRune('\n')
	for _, step := range rem.Steps {
		b.WriteString(wordwrap.String("  - "+step, width))
		b.WriteRune('\n')
	}
	if rem.Retry {
		b.WriteString(styles.help.Render("Press f to try again."))
		b.WriteRune('\n')
	}
}

func (w setupWin) View() string {
	b := new(strings.Builder)
	styles := w.as.styles
	winW, _ := w.as.winSize()
	width := max(winW, 40)

	header := styles.header.Render(" " + appName + " - microphone setup")
	b.WriteString(header)
	b.WriteString(styles.header.Render(strings.Repeat(" ", max(0, width-lipgloss.Width(header)))))
	b.WriteString("\n\n")

	st := w.as.inv.State()
	w.renderDevices(b, "Microphones", st.Microphones, st.Selection.MicrophoneID,
		w.micCursor, !w.focusCams, width)
	if w.as.cfg.Mode == devices.ModeAudioVideo {
		b.WriteRune('\n')
		w.renderDevices(b, "Cameras", st.Cameras, st.Selection.CameraID,
			w.camCursor, w.focusCams, width)
	}
	if st.Refreshing {
		b.WriteString(styles.dim.Render("Looking for devices..."))
		b.WriteRune('\n')
	}
	b.WriteRune('\n')

	state, sessErr := w.as.sess.State()
	fmt.Fprintf(b, "Microphone: %s\n", state)
	fmt.Fprintf(b, "Level  %s\n", w.meter.ViewAs(w.as.sess.Level()))

	switch w.as.sess.Recording() {
	case audio.RecordingActive:
		fmt.Fprintf(b, "Recording  %s / %s\n",
			w.as.sess.Elapsed().Truncate(time.Second), w.as.cfg.MaxRecording)
	default:
		if clip := w.as.sess.Clip(); clip != nil {
			info := clip.Info()
			fmt.Fprintf(b, "Last recording  %s (%s)\n",
				clip.Duration().Truncate(100*time.Millisecond),
				hbytes(int64(info.EncodedSize)))
		} else {
			b.WriteRune('\n')
		}
	}
	if w.as.sess.Playing() {
		b.WriteString("Playing back recording\n")
	}
	b.WriteRune('\n')

	switch {
	case w.err != nil:
		w.renderError(b, w.err, width)
	case sessErr != nil:
		w.renderError(b, sessErr, width)
	case st.Err != nil:
		w.renderError(b, st.Err, width)
	case w.status != "":
		b.WriteString(w.status)
		b.WriteRune('\n')
	}
	if lastErr := w.as.lastError(); lastErr != "" {
		b.WriteString(styles.dim.Render(fitWidth(lastErr, width)))
		b.WriteRune('\n')
	}

	help := "↑/↓ move  enter select  s mic on/off  r record  p play  e export  v review  f refresh  q quit"
	if w.as.cfg.Mode == devices.ModeAudioVideo {
		help = "tab cameras  " + help
	}
	b.WriteRune('\n')
	b.WriteString(styles.help.Render(wordwrap.String(help, width)))
	return b.String()
}
