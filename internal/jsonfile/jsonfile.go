// Package jsonfile reads and atomically writes json-encoded files.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
)

var ErrNotFound = errors.New("json file not found")

// Write data to a temp file, then renames the temp file to the passed
// filename in json format.
//
// log is used to log warnings that are not fatal to the Write() operation.
func Write(fname string, data interface{}, log slog.Logger) error {
	dir := filepath.Dir(fname)
	tempFname := filepath.Join(dir, "."+filepath.Base(fname)+".new")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create dest dir: %w", err)
	}

	f, err := os.Create(tempFname)
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}

	// Past this point the temp file is removed on errors.
	err = json.NewEncoder(f).Encode(data)
	if err != nil {
		err = fmt.Errorf("unable to encode json contents: %w", err)
	} else if err = f.Sync(); err != nil {
		err = fmt.Errorf("unable to fsync temp file: %w", err)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("unable to close temp file: %w", closeErr)
	}
	if err == nil {
		if err = os.Rename(tempFname, fname); err != nil {
			err = fmt.Errorf("unable to rename temp file to final file: %w", err)
		}
	}
	if err != nil {
		if remErr := os.Remove(tempFname); log != nil && remErr != nil {
			log.Warnf("Unable to remove temp file %s: %v", tempFname, remErr)
		}
	}
	return err
}

// Read the first json message from the given filename and decodes it into
// data. Returns ErrNotFound if the file does not exist.
func Read(fname string, data interface{}) error {
	f, err := os.Open(fname)
	if os.IsNotExist(err) {
		return ErrNotFound
	} else if err != nil {
		return err
	}

	defer f.Close()
	return json.NewDecoder(f).Decode(data)
}

// ReadOrZero is like Read but returns the zero value of T when the file does
// not exist.
func ReadOrZero[T any](fname string) (T, error) {
	var res T
	err := Read(fname, &res)
	if errors.Is(err, ErrNotFound) {
		return res, nil
	}
	return res, err
}

// Exists returns true if the specified file exists.
func Exists(fname string) bool {
	_, err := os.Stat(fname)
	return err == nil
}
