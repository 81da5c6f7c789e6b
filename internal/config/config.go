package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Zoom bounds applied by the navigator.
	MinZoom     = 0.5
	MaxZoom     = 3.0
	DefaultZoom = 1.0
	ZoomStep    = 0.25

	// FrameInterval bounds how often scroll samples are evaluated.
	FrameInterval = 16 * time.Millisecond

	// Background refresh while the server is still generating summaries.
	RefreshInterval = 3 * time.Second
	RefreshAttempts = 20

	// Ask requests are paced client-side so a held Enter key cannot flood the backend.
	AskRatePerSecond = 1
	AskBurst         = 3

	MaxUploadBytes    = 16 << 20
	APITimeout        = 30 * time.Second
	UploadTimeout     = 2 * time.Minute
	AskTimeout        = 2 * time.Minute
	RenderTimeout     = 20 * time.Second
	DocumentCacheTTL  = 24 * time.Hour
	MaxErrorBodyBytes = 512

	// Keys used in the annotation store. They match the browser client so state
	// exported from one can be read by the other.
	QuestionsKeyPrefix = "studyflow_questions_"
	ModelPreferenceKey = "studyflow_selected_model"
)

// Config holds runtime options resolved from the environment and command line.
type Config struct {
	BaseURL     string
	CacheDir    string
	StateFile   string
	StatePath   string
	RedisAddr   string
	RedisPass   string
	MetricsAddr string
	LogFile     string
	Debug       bool
}

// Load reads the environment, falling back to defaults for anything unset.
func Load() Config {
	cacheDir := getenv("STUDYFLOW_CACHE_DIR", "")
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = filepath.Join(os.TempDir(), "studyflow-cache")
		}
		cacheDir = filepath.Join(base, "studyflow")
	}
	return Config{
		BaseURL:     strings.TrimRight(getenv("STUDYFLOW_BASE_URL", "http://localhost:5000"), "/"),
		CacheDir:    cacheDir,
		StateFile:   getenv("STUDYFLOW_STATE_FILE", ""),
		StatePath:   filepath.Join(cacheDir, "state.db"),
		RedisAddr:   getenv("STUDYFLOW_REDIS_ADDR", ""),
		RedisPass:   getenv("STUDYFLOW_REDIS_PASSWORD", ""),
		MetricsAddr: getenv("STUDYFLOW_METRICS_ADDR", ""),
		LogFile:     getenv("STUDYFLOW_LOG_FILE", filepath.Join(cacheDir, "studyflow.log")),
		Debug:       getenv("STUDYFLOW_DEBUG", "false") == "true",
	}
}

// DocumentCacheDir is where downloaded document files are kept.
func (c Config) DocumentCacheDir() string {
	return filepath.Join(c.CacheDir, "documents")
}

// ClampZoom keeps a zoom factor inside [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
