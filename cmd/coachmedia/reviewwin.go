package main

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/companyzero/coachmedia/internal/mediaerr"
	"github.com/companyzero/coachmedia/transcript"
	"github.com/muesli/reflow/wordwrap"
)

const skipInterval = 5 * time.Second

// reviewWin plays back a session with its transcript.
type reviewWin struct {
	as  *appState
	ref string

	vp  viewport.Model
	bar progress.Model

	loading       bool
	entries       []transcript.Entry
	rt            renderedTranscript
	cursor        int
	active        int
	err           error
	transcriptErr error
}

func newReviewWin(as *appState, ref string) reviewWin {
	w := reviewWin{
		as:      as,
		ref:     ref,
		bar:     progress.New(progress.WithSolidFill("6"), progress.WithoutPercentage()),
		loading: true,
		active:  -1,
	}
	winW, winH := as.winSize()
	w.vp = viewport.New(winW, 1)
	w.resize(winW, winH)
	return w
}

func (w reviewWin) Init() tea.Cmd {
	return w.as.loadReview(w.ref)
}

func (w *reviewWin) resize(winW, winH int) {
	w.vp.Width = max(winW, 20)
	w.vp.Height = max(winH-7, 3)
	w.bar.Width = clamp(winW-20, 10, 100)
	w.rerender()
}

// rerender wraps the transcript to the window and updates the viewport of
// the synchronizer.
func (w *reviewWin) rerender() {
	styles := w.as.styles
	w.rt = renderTranscript(w.entries, w.vp.Width-2, func(i int, s string) string {
		gutter := "  "
		if i == w.cursor {
			gutter = "> "
		}
		switch {
		case i == w.active:
			s = styles.active.Render(s)
		case w.entries[i].Role == transcript.RoleUser:
			s = styles.user.Render(s)
		default:
			s = styles.agent.Render(s)
		}
		return gutter + s
	})
	w.vp.SetContent(strings.Join(w.rt.lines, "\n"))
	w.viewportChanged()
}

func (w *reviewWin) viewportChanged() {
	w.as.sync.SetViewport(w.rt.visibleEntries(w.vp.YOffset, w.vp.Height))
}

// scrollTo scrolls the view so that entry i is the first visible one.
func (w *reviewWin) scrollTo(i int) {
	if i < 0 || i >= len(w.rt.entryStart) {
		return
	}
	w.vp.SetYOffset(w.rt.entryStart[i])
	w.viewportChanged()
}

// moveCursor moves the cursor by delta entries, keeping it visible.
func (w *reviewWin) moveCursor(delta int) {
	if len(w.entries) == 0 {
		return
	}
	w.cursor = clamp(w.cursor+delta, 0, len(w.entries)-1)
	first, last := w.rt.visibleEntries(w.vp.YOffset, w.vp.Height)
	w.rerender()
	if w.cursor < first || w.cursor > last {
		w.scrollTo(w.cursor)
	}
}

func (w reviewWin) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w.as.setWinSize(msg.Width, msg.Height)
		w.resize(msg.Width, msg.Height)

	case msgReviewLoaded:
		if msg.ref != w.ref {
			break
		}
		w.loading = false
		w.entries = msg.entries
		w.err = msg.err
		w.transcriptErr = msg.transcriptErr
		w.cursor = 0
		w.active = -1
		w.rerender()

	case msgPlayback:
		if msg.ActiveIndex != w.active {
			w.active = msg.ActiveIndex
			w.rerender()
		}

	case msgScrollTo:
		w.scrollTo(int(msg))

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return w, tea.Quit

		case "esc":
			w.as.leaveReview()
			return newSetupWin(w.as), nil

		case " ":
			w.as.sync.TogglePlay()

		case "left":
			w.as.sync.Skip(-skipInterval)

		case "right":
			w.as.sync.Skip(skipInterval)

		case "home":
			w.as.sync.Seek(0)

		case "m":
			w.as.sync.ToggleMute()

		case "up", "k":
			w.moveCursor(-1)

		case "down", "j":
			w.moveCursor(1)

		case "enter":
			if err := w.as.sync.SeekToEntry(w.cursor); err != nil {
				w.err = err
			}

		case "r":
			w.loading = true
			cmd = w.as.loadReview(w.ref)

		default:
			w.vp, cmd = w.vp.Update(msg)
			w.viewportChanged()
		}

	case tea.MouseMsg:
		w.vp, cmd = w.vp.Update(msg)
		w.viewportChanged()

	case msgErrorLog:
		w.as.setLastError(string(msg))
	}

	return w, cmd
}

func (w reviewWin) View() string {
	b := new(strings.Builder)
	styles := w.as.styles
	winW, _ := w.as.winSize()
	width := max(winW, 40)

	title := " Session review"
	if w.ref != localClipRef {
		title += " " + w.ref
	} else {
		title += " (last recording)"
	}
	header := styles.header.Render(title)
	b.WriteString(header)
	b.WriteString(styles.header.Render(strings.Repeat(" ", max(0, width-lipgloss.Width(header)))))
	b.WriteRune('\n')

	switch {
	case w.loading:
		b.WriteString("Loading...\n")
	case len(w.entries) == 0 && w.transcriptErr != nil:
		b.WriteString(styles.err.Render(wordwrap.String("Transcript unavailable: "+
			w.transcriptErr.Error(), width)))
		b.WriteRune('\n')
	case len(w.entries) == 0:
		b.WriteString(styles.dim.Render("No transcript for this recording."))
		b.WriteRune('\n')
	default:
		b.WriteString(w.vp.View())
		b.WriteRune('\n')
	}

	st := w.as.sync.State()
	var err error
	switch {
	case w.err != nil:
		err = w.err
	case st.Err != nil:
		err = st.Err
	}
	if err != nil {
		msg := err.Error()
		if errors.Is(err, mediaerr.ErrAudioUnavailable) {
			msg = mediaerr.RemediationFor(mediaerr.KindAudioUnavailable).Message +
				" (" + msg + ")"
		}
		b.WriteString(styles.err.Render(fitWidth(msg, width)))
		b.WriteRune('\n')
	}

	if st.Loaded {
		state := "paused"
		if st.Playing {
			state = "playing"
		}
		if st.Muted {
			state += ", muted"
		}
		ratio := 0.0
		if st.Duration > 0 {
			ratio = float64(st.Position) / float64(st.Duration)
		}
		b.WriteString(w.bar.ViewAs(ratio))
		b.WriteString("  " + formatPosition(st.Position, st.Duration) + "  " + state)
		b.WriteRune('\n')
	}

	help := "space play/pause  ←/→ skip 5s  m mute  ↑/↓ move  enter jump to entry  r reload  esc back  q quit"
	b.WriteString(styles.footer.Render(fitWidth(help, width)))
	return b.String()
}
