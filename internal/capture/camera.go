// Package capture reads frames from the site camera and gates the
// detection pipeline on scene motion, so an empty floor does not burn
// inference time. The agent lowers the frame rate while the scene is
// still and restores the configured rate when something moves.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Frames are captured at the detector's input resolution so nothing
// needs resizing on the way to inference.
const (
	DefaultFPS  = 5
	FrameWidth  = 640
	FrameHeight = 480
)

// ErrCameraNotOpen is returned when reading from a camera before Open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera is a source of video frames. The agent drives it through this
// interface so tests can substitute a replay source.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// webcam captures from a local video device through GoCV.
type webcam struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	open     bool
	fps      int
}

// NewCamera creates a Camera for the given device. The device itself is
// not touched until Open. fps values of zero or below fall back to
// DefaultFPS.
func NewCamera(deviceID, fps int) Camera {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &webcam{
		deviceID: deviceID,
		fps:      fps,
	}
}

// Open acquires the device and applies the capture resolution and rate.
// Opening an already open camera is a no-op.
func (c *webcam) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open video device %d: %w", c.deviceID, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, FrameWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, FrameHeight)
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.open = true
	return nil
}

// Close releases the device. Closing a camera that was never opened
// returns nil.
func (c *webcam) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.capture == nil {
		c.open = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.open = false
	return err
}

// ReadFrame grabs one frame from the device. The caller owns the
// returned Mat and must close it.
func (c *webcam) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("read frame from device %d", c.deviceID)
	}
	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}
	return &mat, nil
}

// SetFPS changes the capture rate, applying it to the device when open.
// Non-positive values are ignored.
func (c *webcam) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current capture rate.
func (c *webcam) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// IsOpen reports whether the device is currently held open.
func (c *webcam) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
