// Package overlay maps detection geometry from source-frame space into a
// display viewport while preserving aspect ratio (letterbox fit).
package overlay

import "github.com/doggobot/sentry/internal/models"

// Transform holds the scale and centering offsets for one source/viewport
// pairing. It must be recomputed whenever either resolution changes.
type Transform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Fit computes the transform that scales a srcW x srcH frame into a
// viewW x viewH viewport, centered, without distortion:
//
//	s  = min(viewW/srcW, viewH/srcH)
//	ox = (viewW - srcW*s) / 2
//	oy = (viewH - srcH*s) / 2
//
// Example: a 640x480 source in a 1280x720 viewport gives s=1.5, ox=160, oy=0.
func Fit(srcW, srcH, viewW, viewH float64) Transform {
	s := viewW / srcW
	if vs := viewH / srcH; vs < s {
		s = vs
	}
	return Transform{
		Scale:   s,
		OffsetX: (viewW - srcW*s) / 2,
		OffsetY: (viewH - srcH*s) / 2,
	}
}

// Apply maps a source-frame box into viewport coordinates.
func (t Transform) Apply(b models.Box) models.Box {
	return models.Box{
		X: b.X*t.Scale + t.OffsetX,
		Y: b.Y*t.Scale + t.OffsetY,
		W: b.W * t.Scale,
		H: b.H * t.Scale,
	}
}
