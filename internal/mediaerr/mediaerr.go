// Package mediaerr holds the error taxonomy shared by the device, capture and
// playback components.
//
// Every media error is recoverable and is meant to be turned into local UI
// state. Each kind carries enough information to render a specific
// remediation message.
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of media error.
type Kind string

const (
	KindPermissionDenied  Kind = "permission-denied"
	KindNoDeviceFound     Kind = "no-device-found"
	KindDeviceUnavailable Kind = "device-unavailable"
	KindEnumerationFailed Kind = "enumeration-failed"
	KindAudioUnavailable  Kind = "audio-unavailable"
)

// Error is a media error of a given kind, optionally wrapping the underlying
// platform error.
type Error struct {
	Kind Kind
	Err  error
}

func (err *Error) Error() string {
	if err.Err == nil {
		return string(err.Kind)
	}
	return fmt.Sprintf("%s: %v", err.Kind, err.Err)
}

func (err *Error) Unwrap() error {
	return err.Err
}

// Is returns true if target is a media error of the same kind.
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == err.Kind
}

// Sentinel values usable as errors.Is targets.
var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrNoDeviceFound     = &Error{Kind: KindNoDeviceFound}
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable}
	ErrEnumerationFailed = &Error{Kind: KindEnumerationFailed}
	ErrAudioUnavailable  = &Error{Kind: KindAudioUnavailable}
)

// New returns a new media error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the media error in err's chain. Errors that are
// not media errors are reported as fallback.
func KindOf(err error, fallback Kind) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return fallback
}

// Wrap ensures err is a media error. Media errors are returned unchanged and
// any other error is wrapped with the fallback kind. A nil err returns nil.
func Wrap(err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return New(fallback, err)
}
