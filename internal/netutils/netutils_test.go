package netutils

import (
	"context"
	"testing"

	"github.com/companyzero/coachmedia/internal/assert"
)

// TestListen tests binding addresses of each family.
func TestListen(t *testing.T) {
	ctx := context.Background()
	ls, err := Listen(ctx, "127.0.0.1:0")
	assert.NilErr(t, err)
	assert.DeepEqual(t, len(ls), 1)
	assert.DeepEqual(t, ls[0].Addr().Network(), "tcp")
	ls[0].Close()

	_, err = ls[0].Accept()
	assert.BoolIs(t, IsClosedErr(err), true)
}

// TestListenErrors tests addresses that are rejected before binding.
func TestListenErrors(t *testing.T) {
	ctx := context.Background()
	for _, addr := range []string{"127.0.0.1", "localhost:0", "example.com:80"} {
		_, err := Listen(ctx, addr)
		assert.NonNilErr(t, err)
	}
}
