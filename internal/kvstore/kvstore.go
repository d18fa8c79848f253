// Package kvstore provides small durable key/value stores used to keep user
// choices (such as the selected devices) across runs.
package kvstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/decred/slog"
)

// ErrNotFound is returned by Get when the key was never set.
var ErrNotFound = errors.New("key not found")

// Store is a string key/value store. Values are overwritten by Set and never
// deleted.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// ClosableStore is a Store that holds resources which must be released.
type ClosableStore interface {
	Store
	Close() error
}

// GetOrEmpty returns the value of key or an empty string if it was never set.
func GetOrEmpty(s Store, key string) (string, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Open opens the store described by spec. Accepted specs are "memory",
// "json:<path to file>" and "leveldb:<path to dir>".
func Open(spec string, log slog.Logger) (ClosableStore, error) {
	if log == nil {
		log = slog.Disabled
	}
	kind, path, _ := strings.Cut(spec, ":")
	switch kind {
	case "memory", "":
		return NewMemory(), nil
	case "json":
		if path == "" {
			return nil, errors.New("json store requires a file path")
		}
		return OpenJSONFile(path, log)
	case "leveldb":
		if path == "" {
			return nil, errors.New("leveldb store requires a dir path")
		}
		return OpenLevelDB(path)
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}
