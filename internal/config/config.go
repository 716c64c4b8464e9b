package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModelFormatSSD  = "ssd"
	ModelFormatYOLO = "yolo"

	CaptureSourceWebcam = "webcam"
	CaptureSourceUDP    = "udp"

	defaultThreshold     = 0.66
	defaultMinConfidence = 0.3
	defaultFrameRate     = 30
)

type Config struct {
	Port         int
	LogDirectory string
	LogLevel     string

	ModelFormat      string
	ModelPath        string
	ConfigPath       string  // SSD graph description (.pbtxt); unused for YOLO
	MinConfidence    float64 // Model-side floor, applied before the overlay threshold
	YOLONMSThreshold float64
	YOLOInputSize    int

	CaptureSource  string
	CaptureDevice  string
	CaptureWidth   int
	CaptureHeight  int
	CaptureUDPPort int

	OverlayThreshold float64 // Detections must be strictly above this to be drawn
	LabelMargin      float64 // Label sits this far above the box
	LabelInset       float64 // Label is this much narrower than the box
	FrameRate        float64 // Upper bound on cycles per second

	ShutdownTimeout time.Duration
	StopTimeout     time.Duration
}

// Load reads configuration from the environment, seeded from ./.env when present.
func Load() *Config {
	return LoadFrom(".env")
}

// LoadFrom seeds the environment from the given dotenv files and reads the configuration.
// Variables already set in the environment take precedence over the files.
func LoadFrom(envFiles ...string) *Config {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8080),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		ModelFormat:      getEnv("MODEL_FORMAT", ModelFormatSSD),
		ModelPath:        getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:       getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		MinConfidence:    getEnvAsFloat("MODEL_MIN_CONFIDENCE", defaultMinConfidence),
		YOLONMSThreshold: getEnvAsFloat("YOLO_NMS_THRESHOLD", 0.45),
		YOLOInputSize:    getEnvAsInt("YOLO_INPUT_SIZE", 640),

		CaptureSource:  getEnv("CAPTURE_SOURCE", CaptureSourceWebcam),
		CaptureDevice:  getEnv("CAPTURE_DEVICE", "0"),
		CaptureWidth:   getEnvAsInt("CAPTURE_WIDTH", 640),
		CaptureHeight:  getEnvAsInt("CAPTURE_HEIGHT", 480),
		CaptureUDPPort: getEnvAsInt("CAPTURE_UDP_PORT", 5005),

		OverlayThreshold: getEnvAsFloat("OVERLAY_THRESHOLD", defaultThreshold),
		LabelMargin:      getEnvAsFloat("LABEL_MARGIN", 10),
		LabelInset:       getEnvAsFloat("LABEL_INSET", 10),
		FrameRate:        getEnvAsFloat("FRAME_RATE", defaultFrameRate),

		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		StopTimeout:     getEnvAsDuration("STOP_TIMEOUT", 2*time.Second),
	}
	cfg.Validate()
	return cfg
}

// Validate resets out-of-range values to their defaults.
func (c *Config) Validate() {
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 8080
	}
	if c.ModelFormat != ModelFormatSSD && c.ModelFormat != ModelFormatYOLO {
		c.ModelFormat = ModelFormatSSD
	}
	if c.CaptureSource != CaptureSourceWebcam && c.CaptureSource != CaptureSourceUDP {
		c.CaptureSource = CaptureSourceWebcam
	}
	if c.OverlayThreshold < 0 || c.OverlayThreshold > 1 {
		c.OverlayThreshold = defaultThreshold
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		c.MinConfidence = defaultMinConfidence
	}
	if c.YOLONMSThreshold <= 0 || c.YOLONMSThreshold > 1 {
		c.YOLONMSThreshold = 0.45
	}
	if c.YOLOInputSize <= 0 {
		c.YOLOInputSize = 640
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	if c.CaptureWidth <= 0 {
		c.CaptureWidth = 640
	}
	if c.CaptureHeight <= 0 {
		c.CaptureHeight = 480
	}
	if c.CaptureUDPPort <= 0 || c.CaptureUDPPort > 65535 {
		c.CaptureUDPPort = 5005
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
