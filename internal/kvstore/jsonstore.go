package kvstore

import (
	"fmt"
	"sync"

	"github.com/companyzero/coachmedia/internal/jsonfile"
	"github.com/decred/slog"
)

// JSONFile keeps all values in a single json object file. The file is
// rewritten atomically on every Set.
type JSONFile struct {
	fname string
	log   slog.Logger

	mtx    sync.Mutex
	values map[string]string
}

// OpenJSONFile loads the store in fname. A missing file is an empty store.
func OpenJSONFile(fname string, log slog.Logger) (*JSONFile, error) {
	values, err := jsonfile.ReadOrZero[map[string]string](fname)
	if err != nil {
		return nil, fmt.Errorf("unable to read store file: %w", err)
	}
	if values == nil {
		values = make(map[string]string)
	}
	return &JSONFile{fname: fname, log: log, values: values}, nil
}

func (s *JSONFile) Get(key string) (string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *JSONFile) Set(key, value string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	old, had := s.values[key]
	if had && old == value {
		return nil
	}
	s.values[key] = value
	if err := jsonfile.Write(s.fname, s.values, s.log); err != nil {
		if had {
			s.values[key] = old
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *JSONFile) Close() error { return nil }
