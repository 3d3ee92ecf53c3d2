// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every externally configurable knob.
type Config struct {
	Threshold     float64
	IoUThreshold  float64
	MaxDetections int
	BufferCount   int

	ModelPath      string
	IntrinsicsPath string
	LabelFile      string
	LabelFilter    string

	DeviceID   int
	ImageDir   string
	DBPath     string
	Addr       string
	Tray       bool
	StatsEvery int
}

// Load reads .env files (when present) into the environment and builds a Config from it.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	model := getEnv("AICAM_MODEL", filepath.Join(".", "models", "network.onnx"))
	return &Config{
		Threshold:      getEnvAsFloat("AICAM_THRESHOLD", 0.55),
		IoUThreshold:   getEnvAsFloat("AICAM_IOU", 0.65),
		MaxDetections:  getEnvAsInt("AICAM_MAX_DETECTIONS", 10),
		BufferCount:    getEnvAsInt("AICAM_BUFFER_COUNT", 12),
		ModelPath:      model,
		IntrinsicsPath: getEnv("AICAM_INTRINSICS", IntrinsicsPathFor(model)),
		LabelFile:      getEnv("AICAM_LABELS", filepath.Join("assets", "coco_labels.txt")),
		LabelFilter:    getEnv("AICAM_LABEL_FILTER", "compact"),
		DeviceID:       getEnvAsInt("AICAM_DEVICE", 0),
		ImageDir:       getEnv("AICAM_IMAGE_DIR", filepath.Join(".", "data", "images")),
		DBPath:         getEnv("AICAM_DB", filepath.Join(".", "data", "aicam.db")),
		Addr:           getEnv("AICAM_ADDR", ":8080"),
		Tray:           getEnvAsBool("AICAM_TRAY", false),
		StatsEvery:     getEnvAsInt("AICAM_STATS_EVERY", 100),
	}, nil
}

// IntrinsicsPathFor returns the intrinsics file that ships next to a model: the model path
// with its extension replaced by .json.
func IntrinsicsPathFor(model string) string {
	return strings.TrimSuffix(model, filepath.Ext(model)) + ".json"
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
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
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
