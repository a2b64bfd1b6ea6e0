package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ReplayCamera serves a canned frame sequence through the Camera
// interface. Tests and demos use it in place of a physical device.
type ReplayCamera struct {
	frames []*gocv.Mat
	index  int
	loop   bool
	mu     sync.Mutex
	open   bool
	fps    int
}

// NewReplayCamera creates a ReplayCamera over the given frames. With
// loop set, playback wraps around instead of running out.
func NewReplayCamera(frames []*gocv.Mat, loop bool) *ReplayCamera {
	return &ReplayCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
	}
}

func (c *ReplayCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.index = 0
	return nil
}

func (c *ReplayCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// ReadFrame returns a clone of the next frame, so callers can close it
// without touching the source sequence.
func (c *ReplayCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}
	if len(c.frames) == 0 {
		return nil, errors.New("no frames to replay")
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, errors.New("replay exhausted")
		}
		c.index = 0
	}

	frame := c.frames[c.index].Clone()
	c.index++
	return &frame, nil
}

func (c *ReplayCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *ReplayCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *ReplayCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Rewind restarts playback from the first frame.
func (c *ReplayCamera) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
