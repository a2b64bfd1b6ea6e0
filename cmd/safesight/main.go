package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safesight/safesight/internal/alert"
	"github.com/safesight/safesight/internal/compliance"
	"github.com/safesight/safesight/internal/config"
	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/metrics"
	"github.com/safesight/safesight/internal/server"
	"github.com/safesight/safesight/internal/session"
	"github.com/safesight/safesight/internal/store"
	"github.com/safesight/safesight/internal/track"
	"github.com/safesight/safesight/internal/violation"
)

func main() {
	fmt.Println("SafeSight - PPE Compliance Monitoring")

	cfg := config.Load()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.EvidenceDir, 0755); err != nil {
		log.Fatalf("Failed to create evidence directory: %v", err)
	}

	m := metrics.New()

	// Try the YOLO inference service first, fall back to the mock detector
	var det detector.Detector
	if yolo, err := detector.NewYOLODetector(detector.Config{
		ScriptPath:      cfg.DetectorScript,
		ConfidenceFloor: cfg.ConfidenceFloor,
		Timeout:         cfg.InferenceTimeout,
	}); err == nil {
		det = yolo
		log.Println("Using YOLO PPE detection")
	} else {
		log.Printf("YOLO not available (%v), using mock detector", err)
		det = detector.NewMockDetector()
	}
	defer det.Close()

	recorder := violation.NewRecorder(violation.Config{
		EvidenceDir: cfg.EvidenceDir,
		Retries:     cfg.PersistRetries,
		Backoff:     cfg.PersistBackoff,
	}, st.Violations(), m)

	registry := alert.NewChannelRegistry(cfg.ChannelDir)
	registry.Register("webhook", alert.NewWebhookChannel(nil))
	if err := registry.Discover(); err != nil {
		log.Printf("Channel discovery failed: %v", err)
	}
	log.Printf("Alert channels: %v", registry.Names())

	dispatcher := alert.NewDispatcher(alert.Config{
		Cooldown:       cfg.AlertCooldown,
		ChannelTimeout: cfg.ChannelTimeout,
	}, st, registry, m)

	required := make([]detector.PPEType, 0, len(cfg.RequiredPPE))
	for _, t := range cfg.RequiredPPE {
		required = append(required, detector.PPEType(t))
	}

	sessionConfig := session.Config{
		InFlightLimit: cfg.InFlightLimit,
		Track: track.Config{
			IoUThreshold:  cfg.IoUThreshold,
			SilenceExpiry: cfg.SilenceExpiry,
			Compliance: compliance.Config{
				WindowSize:        cfg.WindowSize,
				ConfirmationRatio: cfg.ConfirmationRatio,
				Required:          required,
			},
		},
	}

	manager := session.NewManager(sessionConfig, det, nil, recorder, dispatcher, st.Sessions(), m)

	srv := server.New(server.Config{
		Store:    st,
		Manager:  manager,
		Detector: det,
		Metrics:  m,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: srv,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close live sessions first so open violations get their end timestamps.
	manager.CloseAll(ctx)

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
