package assert

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/exp/slices"
)

// ChanWritten returns the value written to chan c or times out.
func ChanWritten[T any](t testing.TB, c chan T) T {
	t.Helper()
	var v T
	select {
	case v = <-c:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for chan read")
	}
	return v
}

// ChanWrittenWithVal asserts the chan c was written with a value that
// DeepEquals v.
func ChanWrittenWithVal[T any](t testing.TB, c chan T, want T) T {
	t.Helper()
	got := ChanWritten(t, c)
	DeepEqual(t, got, want)
	return got
}

// ChanNotWritten asserts that the chan is not written at least until the passed
// timeout value.
func ChanNotWritten[T any](t testing.TB, c chan T, timeout time.Duration) {
	t.Helper()
	select {
	case v := <-c:
		t.Fatalf("channel was written with value %v", v)
	case <-time.After(timeout):
	}
}

// Closed asserts the receive-only chan c is closed (or written) before the
// timeout.
func Closed[T any](t testing.TB, c <-chan T) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for chan to be closed")
	}
}

// NotClosed asserts c is neither closed nor written.
func NotClosed[T any](t testing.TB, c <-chan T) {
	t.Helper()
	select {
	case <-c:
		t.Fatal("chan unexpectedly closed")
	default:
	}
}

// Eventually asserts f returns true before a timeout. f is polled every
// millisecond.
func Eventually(t testing.TB, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// DeepEqual asserts got is reflect.DeepEqual to want.
func DeepEqual[T any](t testing.TB, got, want T) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Unexpected values: got %s want %s", spew.Sdump(got),
			spew.Sdump(want))
	}
}

// ErrorIs asserts that errors.Is(got, want).
func ErrorIs(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("Unexpected error: got %v, want %v", got, want)
	}
}

// NilErr fails the test if err is non-nil.
func NilErr(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected non-nil error: %v", err)
	}
}

// NilErrFromChan fails the test if a non-nil error is received in the chan or
// if the channel fails to be written to before the timeout.
func NilErrFromChan(t testing.TB, errChan chan error) {
	t.Helper()
	select {
	case err := <-errChan:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(timeout):
		t.Fatal("timeout waiting for errChan read")
	}
}

// NonNilErr asserts that err is not nil. It's preferable to use a specific
// error check instead of this one.
func NonNilErr(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("unexpected nil error")
	}
}

// DoesNotBlock asserts that calling f() does not block for an inordinate amount
// of time.
func DoesNotBlock(t testing.TB, f func()) {
	t.Helper()
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timeout waiting for function to finish")
	}
}

// BoolIs asserts the given bool value.
func BoolIs(t testing.TB, got, want bool) {
	t.Helper()
	if got != want {
		t.Fatalf("unexpected bool. got %v, want %v", got, want)
	}
}

// Contains asserts that s contains e.
func Contains[S ~[]E, E comparable](t testing.TB, s S, e E) {
	t.Helper()
	if !slices.Contains(s, e) {
		t.Fatalf("slice %v does not contain element %v", s, e)
	}
}

// InRange asserts min <= v <= max.
func InRange[T ~int | ~int64 | ~float64](t testing.TB, v, min, max T) {
	t.Helper()
	if v < min || v > max {
		t.Fatalf("value %v out of range [%v, %v]", v, min, max)
	}
}
