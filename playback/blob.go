package playback

import (
	"sync"

	"github.com/companyzero/coachmedia/internal/mediastats"
)

// Blob is a fetched audio resource held in memory for the lifetime of a
// loaded synchronizer.
type Blob struct {
	mtx   sync.Mutex
	data  []byte
	stats *mediastats.Stats
}

func newBlob(data []byte, stats *mediastats.Stats) *Blob {
	stats.SetBlobBytes(len(data))
	return &Blob{data: data, stats: stats}
}

// Bytes returns the contents of the blob, or nil after it was released.
func (b *Blob) Bytes() []byte {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.data
}

// Size of the blob in bytes.
func (b *Blob) Size() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.data)
}

// Released returns true if the blob was released.
func (b *Blob) Released() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.data == nil
}

// Release drops the reference to the contents. It is safe to call multiple
// times.
func (b *Blob) Release() {
	b.mtx.Lock()
	released := b.data == nil
	b.data = nil
	b.mtx.Unlock()
	if !released {
		b.stats.SetBlobBytes(0)
	}
}
