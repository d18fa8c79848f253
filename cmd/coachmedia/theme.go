package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type theme struct {
	header  lipgloss.Style
	footer  lipgloss.Style
	help    lipgloss.Style
	err     lipgloss.Style
	focused lipgloss.Style
	dim     lipgloss.Style

	user   lipgloss.Style
	agent  lipgloss.Style
	active lipgloss.Style
}

func textToColor(in string) (lipgloss.Color, error) {
	var c lipgloss.Color
	switch strings.ToLower(in) {
	case "na":
	case "black":
		c = "0"
	case "red":
		c = "1"
	case "green":
		c = "2"
	case "yellow":
		c = "3"
	case "blue":
		c = "4"
	case "magenta":
		c = "5"
	case "cyan":
		c = "6"
	case "white":
		c = "7"
	default:
		return c, fmt.Errorf("invalid color: %v", in)
	}
	return c, nil
}

// colorDefnToLGStyle converts a color definition of the config file
// (attribute:foreground:background) to a lipgloss style.
func colorDefnToLGStyle(color string) (lipgloss.Style, error) {
	s := strings.Split(color, ":")
	style := lipgloss.NewStyle()
	if len(s) != 3 {
		return style, fmt.Errorf("invalid color format %q: "+
			"attribute:foreground:background", color)
	}

	for _, k := range strings.Split(strings.ToLower(s[0]), ",") {
		switch k {
		case "none", "":
		case "bold":
			style = style.Bold(true)
		case "underline":
			style = style.Underline(true)
		case "reverse":
			style = style.Reverse(true)
		default:
			return style, fmt.Errorf("invalid attribute: %v", k)
		}
	}

	fg, err := textToColor(s[1])
	if err != nil {
		return style, err
	}
	if fg != "" {
		style = style.Foreground(fg)
	}

	bg, err := textToColor(s[2])
	if err != nil {
		return style, err
	}
	if bg != "" {
		style = style.Background(bg)
	}

	return style, nil
}

func newTheme(cfg *config) (*theme, error) {
	th := &theme{
		header:  lipgloss.NewStyle().Background(lipgloss.Color("4")).Foreground(lipgloss.Color("7")).Bold(true),
		footer:  lipgloss.NewStyle().Background(lipgloss.Color("4")).Foreground(lipgloss.Color("7")),
		help:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		focused: lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
		dim:     lipgloss.NewStyle().Faint(true),
	}

	defs := []struct {
		name string
		defn string
		dst  *lipgloss.Style
	}{
		{"usercolor", cfg.UserColor, &th.user},
		{"agentcolor", cfg.AgentColor, &th.agent},
		{"activecolor", cfg.ActiveColor, &th.active},
	}
	for _, d := range defs {
		style, err := colorDefnToLGStyle(d.defn)
		if err != nil {
			return nil, fmt.Errorf("invalid theme.%s: %w", d.name, err)
		}
		*d.dst = style
	}
	return th, nil
}
