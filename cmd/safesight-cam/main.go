package main

import (
	"fmt"
	"log"
	"os/exec"
	"runtime"

	"github.com/safesight/safesight/internal/agent"
	"github.com/safesight/safesight/internal/capture"
	"github.com/safesight/safesight/internal/config"
	"github.com/safesight/safesight/internal/tray"
)

func main() {
	fmt.Println("SafeSight Camera Agent")

	cfg := config.LoadAgent()

	camera := capture.NewCamera(cfg.CameraDevice, cfg.CaptureFPS)
	motion := capture.NewMotionDetector(cfg.MotionThreshold)

	a := agent.New(cfg, camera, motion)

	t := tray.New()
	a.OnStatus(func(status string, detected int) {
		if detected == 0 {
			t.SetStatus("no workers in view")
			return
		}
		t.SetStatus(fmt.Sprintf("%s (%d in view)", status, detected))
	})

	t.OnToggle(func(streaming bool) {
		a.SetStreaming(streaming)
	})
	t.OnDashboard(func() {
		if err := openBrowser(cfg.DashboardURL); err != nil {
			log.Printf("Failed to open dashboard: %v", err)
		}
	})
	t.OnQuit(func() {
		a.Stop()
	})

	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	// Blocks until Quit is selected from the tray menu.
	t.Run()
}

// openBrowser opens the URL in the default browser.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}
