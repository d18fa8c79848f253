// Package transcript decodes the transcripts of recorded coaching sessions.
//
// The backend delivers transcripts in several shapes and with several names
// for the same fields. Decode normalizes all of them into Entry values and
// drops anything that can't be normalized, so that the rest of the code only
// deals with one record type.
package transcript

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/companyzero/coachmedia/internal/strescape"
	"github.com/decred/slog"
)

// Role of the speaker of an utterance.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Entry is one utterance of a conversation.
type Entry struct {
	Role Role
	Text string

	// Offset from the start of the conversation.
	Offset time.Duration

	// Label is the display timestamp of the entry.
	Label string
}

// ErrUnsupportedShape is returned when the transcript is not in any of the
// accepted shapes.
var ErrUnsupportedShape = errors.New("unsupported transcript shape")

// maxNesting is the max number of times a transcript may be wrapped in
// objects or string-encoded.
const maxNesting = 4

// Keys of objects that wrap the transcript array.
var wrapperKeys = []string{"transcript", "conversation", "messages"}

// Field aliases.
var (
	roleKeys   = []string{"role", "speaker"}
	textKeys   = []string{"text", "message", "content"}
	offsetKeys = []string{"elapsedTime", "elapsed_time"}
	labelKeys  = []string{"timeLabel", "time"}
)

// roles maps the speaker names used by the backend to roles.
var roles = map[string]Role{
	"user":      RoleUser,
	"human":     RoleUser,
	"candidate": RoleUser,
	"client":    RoleUser,
	"agent":     RoleAgent,
	"assistant": RoleAgent,
	"ai":        RoleAgent,
	"bot":       RoleAgent,
	"coach":     RoleAgent,
}

// Decode decodes a transcript. It accepts a JSON array of entries, a JSON
// string holding the array, or an object wrapping either of them. Entries
// that fail to normalize are logged and dropped.
func Decode(data []byte, log slog.Logger) ([]Entry, error) {
	if log == nil {
		log = slog.Disabled
	}
	v, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
	}
	return decodeValue(v, typ, log, 0)
}

func decodeValue(v []byte, typ jsonparser.ValueType, log slog.Logger, depth int) ([]Entry, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: nested too deep", ErrUnsupportedShape)
	}

	switch typ {
	case jsonparser.Array:
		return decodeArray(v, log)

	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
		}
		inner, innerTyp, _, err := jsonparser.Get([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: string does not hold json: %v",
				ErrUnsupportedShape, err)
		}
		return decodeValue(inner, innerTyp, log, depth+1)

	case jsonparser.Object:
		for _, k := range wrapperKeys {
			inner, innerTyp, _, err := jsonparser.Get(v, k)
			if err != nil {
				continue
			}
			return decodeValue(inner, innerTyp, log, depth+1)
		}
		return nil, fmt.Errorf("%w: object without transcript key", ErrUnsupportedShape)

	case jsonparser.Null:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %s value", ErrUnsupportedShape, typ)
	}
}

func decodeArray(v []byte, log slog.Logger) ([]Entry, error) {
	var res []Entry
	var i int
	_, err := jsonparser.ArrayEach(v, func(value []byte, typ jsonparser.ValueType, _ int, err error) {
		defer func() { i++ }()
		if err != nil {
			log.Warnf("Dropping transcript entry %d: %v", i, err)
			return
		}
		if typ != jsonparser.Object {
			log.Warnf("Dropping transcript entry %d: %s is not an object", i, typ)
			return
		}
		e, err := decodeEntry(value, i, log)
		if err != nil {
			log.Warnf("Dropping transcript entry %d: %v", i, err)
			return
		}
		res = append(res, e)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
	}
	return res, nil
}

// firstString returns the first of keys in obj that holds a string.
func firstString(obj []byte, keys []string) (string, bool) {
	for _, k := range keys {
		v, typ, _, err := jsonparser.Get(obj, k)
		if err != nil || typ != jsonparser.String {
			continue
		}
		s, err := jsonparser.ParseString(v)
		if err != nil {
			continue
		}
		return s, true
	}
	return "", false
}

// offsetSeconds returns the offset in seconds from the first of keys in obj
// that holds a number or numeric string.
func offsetSeconds(obj []byte) (float64, bool, error) {
	for _, k := range offsetKeys {
		v, typ, _, err := jsonparser.Get(obj, k)
		if err != nil {
			continue
		}
		var f float64
		switch typ {
		case jsonparser.Number:
			f, err = jsonparser.ParseFloat(v)
		case jsonparser.String:
			var s string
			if s, err = jsonparser.ParseString(v); err == nil {
				f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
			}
		default:
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %v", k, err)
		}
		return f, true, nil
	}
	return 0, false, nil
}

// maxOffsetSeconds is the largest offset representable as a time.Duration.
const maxOffsetSeconds = float64(math.MaxInt64) / float64(time.Second)

func decodeEntry(obj []byte, i int, log slog.Logger) (Entry, error) {
	var e Entry

	role, ok := firstString(obj, roleKeys)
	if !ok {
		return e, errors.New("missing role")
	}
	if e.Role, ok = roles[strings.ToLower(strings.TrimSpace(role))]; !ok {
		return e, fmt.Errorf("unknown role %q", role)
	}

	text, _ := firstString(obj, textKeys)
	if e.Text = strescape.Utterance(text); e.Text == "" {
		return e, errors.New("empty text")
	}

	secs, hasOffset, err := offsetSeconds(obj)
	if err != nil {
		return e, err
	}
	label, hasLabel := firstString(obj, labelKeys)
	label = strings.TrimSpace(label)
	var labelOffset time.Duration
	if hasLabel {
		labelOffset, err = ParseLabel(label)
		switch {
		case err != nil && !hasOffset:
			return e, err
		case err != nil:
			// The label is only informative when the offset is
			// present, so it is derived from the offset instead.
			log.Debugf("Ignoring label of transcript entry %d: %v", i, err)
			hasLabel = false
		}
	}

	switch {
	case hasOffset:
		if math.IsNaN(secs) || secs < 0 || secs >= maxOffsetSeconds {
			return e, fmt.Errorf("invalid offset %v", secs)
		}
		e.Offset = time.Duration(secs * float64(time.Second))
	case hasLabel:
		e.Offset = labelOffset
	default:
		return e, errors.New("missing offset")
	}

	if hasLabel {
		e.Label = label
	} else {
		e.Label = FormatOffset(e.Offset)
	}
	return e, nil
}

// FormatOffset formats d as mm:ss, or h:mm:ss past one hour.
func FormatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ParseLabel parses an mm:ss or hh:mm:ss timestamp.
func ParseLabel(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time label %q", s)
	}
	var secs int64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil || (i > 0 && n > 59) {
			return 0, fmt.Errorf("invalid time label %q", s)
		}
		secs = secs*60 + int64(n)
	}
	return time.Duration(secs) * time.Second, nil
}
