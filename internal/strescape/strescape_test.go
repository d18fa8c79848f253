package strescape

import (
	"testing"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want string
	}{{
		name: "empty string",
		s:    "",
		want: "",
	}, {
		name: "alsa device name",
		s:    "HDA Intel PCH, ALC3246 Analog",
		want: "HDA Intel PCH, ALC3246 Analog",
	}, {
		name: "surrounding space",
		s:    "  USB Audio  ",
		want: "USB Audio",
	}, {
		name: "new line",
		s:    "Built-in\nMicrophone",
		want: "Built-inMicrophone",
	}, {
		name: "null char",
		s:    "Mic\x00\x00\x00",
		want: "Mic",
	}, {
		name: "ansi escape",
		s:    "ansi\x1b[1D mic",
		want: "ansi[1D mic",
	}, {
		name: "invalid utf8",
		s:    "invalid\xa0\xa1 utf8",
		want: "invalid utf8",
	}, {
		name: "unicode name",
		s:    "Kopfhörer (Bluetooth)",
		want: "Kopfhörer (Bluetooth)",
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Label(tc.s)
			if got != tc.want {
				t.Fatalf("Unexpected result: got %q, want %q",
					got, tc.want)
			}
		})
	}
}

func TestUtterance(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want string
	}{{
		name: "empty string",
		s:    "",
		want: "",
	}, {
		name: "plain text",
		s:    "Hallo, wie geht es Ihnen?",
		want: "Hallo, wie geht es Ihnen?",
	}, {
		name: "windows newlines",
		s:    "first\r\nsecond\r\n\r\n",
		want: "first\nsecond",
	}, {
		name: "surrounding space",
		s:    "  hi there \n",
		want: "hi there",
	}, {
		name: "control chars",
		s:    "bell\x07 and\x1b[31m escape",
		want: "bell and[31m escape",
	}, {
		name: "4 byte utf-8 chars",
		s:    "🀲 🀼 🁏",
		want: "🀲 🀼 🁏",
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Utterance(tc.s)
			if got != tc.want {
				t.Fatalf("Unexpected result: got %q, want %q",
					got, tc.want)
			}
		})
	}
}

func TestPathElement(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want string
	}{{
		name: "empty string",
		s:    "",
		want: "",
	}, {
		name: "session title",
		s:    "Mock interview 3",
		want: "Mock interview 3",
	}, {
		name: "slashes",
		s:    "../../etc/passwd",
		want: "....etcpasswd",
	}, {
		name: "windows reserved",
		s:    `a:b\c*d?e<f>g|h;i`,
		want: "abcdefghi",
	}, {
		name: "new line",
		s:    "new\nline",
		want: "newline",
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PathElement(tc.s)
			if got != tc.want {
				t.Fatalf("Unexpected result: got %q, want %q",
					got, tc.want)
			}
		})
	}
}
