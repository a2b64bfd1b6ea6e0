package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestReplayCamera_PlaysThroughOnce(t *testing.T) {
	f1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer f1.Close()
	f2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer f2.Close()

	cam := NewReplayCamera([]*gocv.Mat{&f1, &f2}, false)
	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	for i := 0; i < 2; i++ {
		frame, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() %d error = %v", i, err)
		}
		frame.Close()
	}

	if _, err := cam.ReadFrame(); err == nil {
		t.Error("expected an error once the sequence is exhausted")
	}
}

func TestReplayCamera_Loops(t *testing.T) {
	f := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer f.Close()

	cam := NewReplayCamera([]*gocv.Mat{&f}, true)
	cam.Open()
	defer cam.Close()

	for i := 0; i < 5; i++ {
		frame, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		frame.Close()
	}
}

func TestReplayCamera_ReadBeforeOpen(t *testing.T) {
	f := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer f.Close()

	cam := NewReplayCamera([]*gocv.Mat{&f}, false)
	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestReplayCamera_Rewind(t *testing.T) {
	f := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer f.Close()

	cam := NewReplayCamera([]*gocv.Mat{&f}, false)
	cam.Open()
	defer cam.Close()

	first, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	first.Close()

	cam.Rewind()
	again, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() after Rewind error = %v", err)
	}
	again.Close()
}
