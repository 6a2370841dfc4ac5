// Package framecache holds the single most recent frame uploaded by the
// perception source, for live polling by display clients.
//
// There is exactly one slot: every write overwrites the previous frame
// (last-write-wins) and there is no history or replay. Readers never block
// writers and vice versa; the swap is a single atomic pointer store.
package framecache

import (
	"sync/atomic"
	"time"

	"github.com/doggobot/sentry/internal/models"
)

// Frame is a cached frame image plus the detection geometry that came with it.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	Boxes      []models.Box
	CapturedAt time.Time
}

// Cache is a single-slot latest-frame holder. The zero value is ready to use.
type Cache struct {
	slot atomic.Pointer[Frame]
}

// Set replaces the cached frame. Callers must not mutate f after handing it
// over.
func (c *Cache) Set(f *Frame) {
	c.slot.Store(f)
}

// Latest returns the most recent frame, or ok=false if nothing has been
// uploaded yet.
func (c *Cache) Latest() (*Frame, bool) {
	f := c.slot.Load()
	return f, f != nil
}
