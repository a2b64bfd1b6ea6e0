// Package config loads SafeSight configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the SafeSight server.
type Config struct {
	HTTPPort    string
	Environment string

	// Storage
	DBPath      string
	EvidenceDir string

	// Detector
	DetectorScript  string
	ConfidenceFloor float64
	InferenceTimeout time.Duration

	// Track matching
	IoUThreshold  float64
	SilenceExpiry int

	// Compliance
	WindowSize        int
	ConfirmationRatio float64
	RequiredPPE       []string

	// Sessions
	InFlightLimit int

	// Persistence retry
	PersistRetries int
	PersistBackoff time.Duration

	// Alerting
	AlertCooldown  time.Duration
	ChannelDir     string
	ChannelTimeout time.Duration
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "production"),

		DBPath:      getEnv("DB_PATH", "safesight.db"),
		EvidenceDir: getEnv("EVIDENCE_DIR", "evidence"),

		DetectorScript:   getEnv("DETECTOR_SCRIPT", ""),
		ConfidenceFloor:  getEnvFloat("CONFIDENCE_FLOOR", 0.5),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 5*time.Second),

		IoUThreshold:  getEnvFloat("IOU_THRESHOLD", 0.3),
		SilenceExpiry: getEnvInt("SILENCE_EXPIRY_FRAMES", 30),

		WindowSize:        getEnvInt("COMPLIANCE_WINDOW", 5),
		ConfirmationRatio: getEnvFloat("CONFIRMATION_RATIO", 0.6),
		RequiredPPE:       getEnvList("REQUIRED_PPE", []string{"helmet", "vest", "shoes", "gloves"}),

		InFlightLimit: getEnvInt("IN_FLIGHT_LIMIT", 4),

		PersistRetries: getEnvInt("PERSIST_RETRIES", 3),
		PersistBackoff: getEnvDuration("PERSIST_BACKOFF", 100*time.Millisecond),

		AlertCooldown:  getEnvDuration("ALERT_COOLDOWN", 5*time.Minute),
		ChannelDir:     getEnv("CHANNEL_DIR", "channels"),
		ChannelTimeout: getEnvDuration("CHANNEL_TIMEOUT", 5*time.Second),
	}
}

// AgentConfig holds runtime configuration for the camera agent.
type AgentConfig struct {
	ServerURL       string
	CameraID        string
	Location        string
	CameraDevice    int
	CaptureFPS      int
	MotionThreshold float64
	KeepaliveEvery  time.Duration
	DashboardURL    string
}

// LoadAgent reads camera agent configuration from a .env file (if present)
// and the environment.
func LoadAgent() *AgentConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &AgentConfig{
		ServerURL:       getEnv("SERVER_URL", "ws://localhost:8080/ws/detect"),
		CameraID:        getEnv("CAMERA_ID", "cam-0"),
		Location:        getEnv("CAMERA_LOCATION", ""),
		CameraDevice:    getEnvInt("CAMERA_DEVICE", 0),
		CaptureFPS:      getEnvInt("CAPTURE_FPS", 5),
		MotionThreshold: getEnvFloat("MOTION_THRESHOLD", 1.0),
		KeepaliveEvery:  getEnvDuration("KEEPALIVE_EVERY", 10*time.Second),
		DashboardURL:    getEnv("DASHBOARD_URL", "http://localhost:8080/api/violations"),
	}
}

// IsDev reports whether the server runs in a development environment.
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
