//go:build !gocv

package capture

import "fmt"

// OpenCamera always fails in builds without the gocv tag.
func OpenCamera(device int) (Source, error) {
	return nil, fmt.Errorf("%w: device %d: built without camera support (rebuild with -tags gocv)", ErrDeviceUnavailable, device)
}
