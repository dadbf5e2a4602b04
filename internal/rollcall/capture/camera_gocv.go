//go:build gocv

package capture

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Camera reads frames from a local video device through OpenCV.
type Camera struct {
	mu     sync.Mutex
	device int
	vc     *gocv.VideoCapture
	mat    gocv.Mat
}

// OpenCamera claims the device until Close.
func OpenCamera(device int) (Source, error) {
	vc, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrDeviceUnavailable, device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrDeviceUnavailable, device)
	}
	return &Camera{device: device, vc: vc, mat: gocv.NewMat()}, nil
}

func (c *Camera) Name() string { return fmt.Sprintf("camera:%d", c.device) }

func (c *Camera) Frame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.mat.Close()
	return c.vc.Close()
}
