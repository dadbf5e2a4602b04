// Package capture provides frame sources and the QR decoder used by the
// scanner loop.
package capture

import (
	"errors"
	"image"
)

var (
	// ErrDeviceUnavailable means the video device could not be opened
	// (missing, busy, permission denied, or no camera support compiled in).
	ErrDeviceUnavailable = errors.New("camera unavailable")

	// ErrNoFrame means the source has nothing to hand out on this tick.
	ErrNoFrame = errors.New("frame not ready")
)

// Source yields frames one at a time. It is owned by a single scanner loop
// between open and Close.
type Source interface {
	Frame() (image.Image, error)
	Close() error
	Name() string
}
