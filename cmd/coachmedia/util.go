package main

import (
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/companyzero/coachmedia/transcript"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
)

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// fitWidth truncates or pads s so that it occupies exactly w cells.
func fitWidth(s string, w int) string {
	if w <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, w, "…")
	return runewidth.FillRight(s, w)
}

// batchCmds maybe batches the list of cmds if needed.
func batchCmds(cmds []tea.Cmd) tea.Cmd {
	switch len(cmds) {
	case 0:
		return nil
	case 1:
		return cmds[0]
	default:
		return tea.Batch(cmds...)
	}
}

func hbytes(i int64) string {
	switch {
	case i < 1e3:
		return strconv.FormatInt(i, 10) + "B"
	case i < 1e6:
		return strconv.FormatFloat(float64(i)/1e3, 'f', 2, 64) + "KB"
	case i < 1e9:
		return strconv.FormatFloat(float64(i)/1e6, 'f', 2, 64) + "MB"
	default:
		return strconv.FormatFloat(float64(i)/1e9, 'f', 2, 64) + "GB"
	}
}

// renderedTranscript is a transcript wrapped for a given width, with the first
// line of each entry.
type renderedTranscript struct {
	lines      []string
	entryStart []int
}

// entryAt returns the index of the entry rendered at the given line, or -1.
func (rt *renderedTranscript) entryAt(line int) int {
	res := -1
	for i, start := range rt.entryStart {
		if start > line {
			break
		}
		res = i
	}
	return res
}

// visibleEntries returns the (inclusive) range of entries with lines within
// [top, top+height).
func (rt *renderedTranscript) visibleEntries(top, height int) (int, int) {
	if len(rt.entryStart) == 0 || height <= 0 {
		return 0, -1
	}
	first := rt.entryAt(top)
	if first < 0 {
		first = 0
	}
	last := rt.entryAt(top + height - 1)
	return first, last
}

// renderTranscript wraps entries to width. style renders the prefix and text
// of an entry given its index.
func renderTranscript(entries []transcript.Entry, width int,
	style func(i int, s string) string) renderedTranscript {

	var rt renderedTranscript
	if width < 20 {
		width = 20
	}
	for i, e := range entries {
		prefix := "[" + e.Label + "] " + roleName(e.Role) + ": "
		indent := runewidth.StringWidth(prefix)
		wrapped := wordwrap.String(e.Text, max(width-indent, 10))
		rt.entryStart = append(rt.entryStart, len(rt.lines))
		for j, l := range strings.Split(wrapped, "\n") {
			if j == 0 {
				l = prefix + l
			} else {
				l = strings.Repeat(" ", indent) + l
			}
			rt.lines = append(rt.lines, style(i, l))
		}
	}
	return rt
}

func roleName(r transcript.Role) string {
	if r == transcript.RoleUser {
		return "You"
	}
	return "Coach"
}

// formatPosition formats a playback position and duration.
func formatPosition(pos, dur time.Duration) string {
	return transcript.FormatOffset(pos) + " / " + transcript.FormatOffset(dur)
}
