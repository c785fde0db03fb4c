package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultPreviewsSubDir = "previews"
	DefaultCloudSubDir    = "cloud_storage"
)

const (
	defaultPreviewMaxSize     = 600
	defaultThumbnailMaxSize   = 300
	defaultTopPredictions     = 5
	defaultThumbnailQueueSize = 200
	defaultNumThumbWorkers    = 4
	defaultProximityThreshold = 1.0
)

type Config struct {
	// dedupe backend configuration; an empty base URL selects the embedded
	// reference backend
	BackendBaseURL  string
	EmbeddedBackend bool

	// classifier selection: remote, local or demo. demo must be configured
	// explicitly and is surfaced through the status endpoint
	ClassifierMode string
	ModelType      string

	// local-model variant paths (OpenCV DNN)
	ModelConfigPath  string
	ModelWeightsPath string
	ModelLabelsPath  string

	TopPredictions int

	// media storage configuration
	MediaStoragePath string // primary root for generated assets
	PreviewsSubDir   string
	CloudSubDir      string
	PreviewsPath     string // full-calculated path for previews
	CloudPath        string // full-calculated path for cloud-stored images

	PreviewMaxSize   int
	ThumbnailMaxSize int

	// reference backend settings
	DatabasePath             string
	ProximityThresholdMeters float64
	ThumbnailQueueSize       int
	NumThumbnailWorkers      int

	// outbound HTTP timeout for backend calls; zero means no timeout
	BackendTimeout time.Duration
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %v. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %v. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	previewsSubDir := getEnvOrDefault("PREVIEWS_SUBDIR", DefaultPreviewsSubDir)
	cloudSubDir := getEnvOrDefault("CLOUD_SUBDIR", DefaultCloudSubDir)

	classifierMode := getEnvOrDefault("CLASSIFIER_MODE", "remote")
	switch classifierMode {
	case "remote", "local", "demo":
	default:
		return Config{}, fmt.Errorf("invalid CLASSIFIER_MODE '%s': must be remote, local or demo", classifierMode)
	}

	timeoutSeconds := getEnvIntOrDefault("BACKEND_TIMEOUT_SECONDS", 0)

	cfg := Config{
		BackendBaseURL:  os.Getenv("BACKEND_BASE_URL"),
		EmbeddedBackend: getEnvBoolOrDefault("EMBEDDED_BACKEND", true),

		ClassifierMode: classifierMode,
		ModelType:      getEnvOrDefault("MODEL_TYPE", "mobilenet"),

		ModelConfigPath:  os.Getenv("MODEL_CONFIG_PATH"),
		ModelWeightsPath: os.Getenv("MODEL_WEIGHTS_PATH"),
		ModelLabelsPath:  os.Getenv("MODEL_LABELS_PATH"),

		TopPredictions: getEnvIntOrDefault("TOP_PREDICTIONS", defaultTopPredictions),

		MediaStoragePath: absMediaStorage,
		PreviewsSubDir:   previewsSubDir,
		CloudSubDir:      cloudSubDir,
		PreviewsPath:     filepath.Join(absMediaStorage, previewsSubDir),
		CloudPath:        filepath.Join(absMediaStorage, cloudSubDir),

		PreviewMaxSize:   getEnvIntOrDefault("PREVIEW_MAX_SIZE", defaultPreviewMaxSize),
		ThumbnailMaxSize: getEnvIntOrDefault("THUMBNAIL_MAX_SIZE", defaultThumbnailMaxSize),

		DatabasePath:             getEnvOrDefault("DATABASE_PATH", "geosnap.db"),
		ProximityThresholdMeters: getEnvFloatOrDefault("PROXIMITY_THRESHOLD_METERS", defaultProximityThreshold),
		ThumbnailQueueSize:       getEnvIntOrDefault("THUMBNAIL_QUEUE_SIZE", defaultThumbnailQueueSize),
		NumThumbnailWorkers:      getEnvIntOrDefault("NUM_THUMBNAIL_WORKERS", defaultNumThumbWorkers),

		BackendTimeout: time.Duration(timeoutSeconds) * time.Second,
	}

	return cfg, nil
}
