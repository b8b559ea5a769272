package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid is returned by Validate when the configuration cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Storage backends
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// Publish modes
const (
	PublishCopy = "copy"
	PublishSwap = "swap"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Storage   StorageConfig
	Render    RenderConfig
	Video     VideoConfig
	Fleet     FleetConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	RateLimit RateLimitConfig
	Device    DeviceConfig
	LogLevel  string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// StoreConfig selects the rotation store backend
type StoreConfig struct {
	Driver      string // postgres, sqlite, memory or empty (not configured)
	DatabaseURL string
}

// Configured reports whether a store backend was selected.
func (s StoreConfig) Configured() bool {
	return s.Driver != ""
}

// StorageConfig describes the addressable artifact store
type StorageConfig struct {
	Backend   string
	BaseURL   string // public base devices fetch slides from
	OutputDir string // filesystem backend root
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Configured reports whether slide images can be addressed by devices.
func (s StorageConfig) Configured() bool {
	return s.BaseURL != ""
}

// RenderConfig holds headless browser capture settings
type RenderConfig struct {
	DisplayBaseURL string
	ChromePath     string
	Width          int
	Height         int
	SettleMS       int
	NavTimeout     int // seconds
	Concurrency    int
	PoolWorkers    int
	JPEGQuality    int
	OutputDir      string // screenshot worker output
}

// Settle returns the post-navigation settle delay.
func (r RenderConfig) Settle() time.Duration {
	return time.Duration(r.SettleMS) * time.Millisecond
}

// Timeout returns the navigation ceiling.
func (r RenderConfig) Timeout() time.Duration {
	return time.Duration(r.NavTimeout) * time.Second
}

// VideoConfig holds recording and transcode settings
type VideoConfig struct {
	OutputDir       string
	RecordSeconds   int
	Concurrency     int
	NavTimeout      int // seconds
	SegmentSeconds  int
	PublishMode     string
	FFmpegPath      string
	FFprobePath     string
	MaxScreencast   int // seconds; longer recordings use frame sampling
	SampleFPS       int
	LoopOverlap     int // seconds
	MinCycleSeconds int
	MaxCycleSeconds int
}

// FleetConfig lists worker targets
type FleetConfig struct {
	Slugs     string
	SlugsFile string
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string
}

// Configured reports whether Redis was explicitly requested.
func (r RedisConfig) Configured() bool {
	return r.Addr != ""
}

// AMQPConfig holds AMQP-related configuration
type AMQPConfig struct {
	URL           string
	Exchange      string
	QueueName     string
	RoutingKey    string
	PrefetchCount int
}

// Configured reports whether an AMQP broker was set.
func (a AMQPConfig) Configured() bool {
	return a.URL != ""
}

// RateLimitConfig configures fixed-window request limiting
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// DeviceConfig holds refresh intervals handed to playback devices
type DeviceConfig struct {
	RegisterRefreshSeconds     int
	VersionRefreshSeconds      int
	DeviceLayoutRefreshSeconds int
	LayoutRefreshSeconds       int // public layout endpoint
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 90),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", "")),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(getEnv("STORAGE_BACKEND", StorageFilesystem)),
			BaseURL:   strings.TrimRight(getEnv("SLIDE_IMAGE_BASE_URL", getEnv("CDN_BASE_URL", "")), "/"),
			OutputDir: getEnv("SLIDES_OUTPUT_DIR", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Render: RenderConfig{
			DisplayBaseURL: strings.TrimRight(getEnv("DISPLAY_BASE_URL", "http://localhost:3000"), "/"),
			ChromePath:     getEnv("CHROME_PATH", ""),
			Width:          getEnvAsInt("RENDER_WIDTH", 1920),
			Height:         getEnvAsInt("RENDER_HEIGHT", 1080),
			SettleMS:       getEnvAsInt("RENDER_SETTLE_MS", 2000),
			NavTimeout:     getEnvAsInt("RENDER_NAV_TIMEOUT", 20),
			Concurrency:    getEnvAsInt("CONCURRENCY", 5),
			PoolWorkers:    getEnvAsInt("RENDER_POOL_WORKERS", 2),
			JPEGQuality:    getEnvAsInt("JPEG_QUALITY", 90),
			OutputDir:      getEnv("OUTPUT_DIR", ""),
		},
		Video: VideoConfig{
			OutputDir:       getEnv("STREAM_OUTPUT_DIR", getEnv("OUTPUT_DIR", "")),
			RecordSeconds:   getEnvAsInt("RECORD_SECONDS", 30),
			Concurrency:     getEnvAsInt("VIDEO_CONCURRENCY", 1),
			NavTimeout:      getEnvAsInt("VIDEO_NAV_TIMEOUT", 30),
			SegmentSeconds:  getEnvAsInt("HLS_SEGMENT_SECONDS", 2),
			PublishMode:     strings.ToLower(getEnv("PUBLISH_MODE", PublishCopy)),
			FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
			MaxScreencast:   getEnvAsInt("MAX_SCREENCAST_SECONDS", 180),
			SampleFPS:       getEnvAsInt("SAMPLE_FPS", 2),
			LoopOverlap:     getEnvAsInt("LOOP_OVERLAP_SECONDS", 5),
			MinCycleSeconds: 30,
			MaxCycleSeconds: 600,
		},
		Fleet: FleetConfig{
			Slugs:     getEnv("SCREEN_SLUGS", ""),
			SlugsFile: getEnv("SCREEN_SLUGS_FILE", ""),
		},
		Redis: RedisConfig{
			Addr:          getRedisAddr(),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "signage-workers"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", ""),
		},
		AMQP: AMQPConfig{
			URL:           getEnv("AMQP_URL", ""),
			Exchange:      getEnv("AMQP_EXCHANGE", "signage"),
			QueueName:     getEnv("AMQP_QUEUE", "signage.render_requests"),
			RoutingKey:    getEnv("AMQP_ROUTING_KEY", "render_requests"),
			PrefetchCount: getEnvAsInt("AMQP_PREFETCH_COUNT", 1),
		},
		RateLimit: RateLimitConfig{
			Window:      time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW", 60)) * time.Second,
			MaxRequests: getEnvAsInt("RATE_LIMIT_MAX", 1500),
		},
		Device: DeviceConfig{
			RegisterRefreshSeconds:     getEnvAsInt("REGISTER_REFRESH_SECONDS", 15),
			VersionRefreshSeconds:      getEnvAsInt("VERSION_REFRESH_SECONDS", 60),
			DeviceLayoutRefreshSeconds: getEnvAsInt("DEVICE_LAYOUT_REFRESH_SECONDS", 300),
			LayoutRefreshSeconds:       getEnvAsInt("LAYOUT_REFRESH_SECONDS", 10),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = cfg.Render.OutputDir
	}
	if cfg.Video.RecordSeconds < 5 {
		cfg.Video.RecordSeconds = 5
	}

	return cfg, nil
}

// Validate checks the settings shared by every process. It is called once at
// startup; components trust their sub-struct afterwards.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "", StoreDriverMemory:
	case StoreDriverPostgres, StoreDriverSQLite:
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for STORE_DRIVER="+c.Store.Driver)
		}
	default:
		problems = append(problems, "unknown STORE_DRIVER "+c.Store.Driver)
	}

	switch c.Storage.Backend {
	case StorageFilesystem:
	case StorageS3:
		if c.Storage.Bucket == "" {
			problems = append(problems, "S3_BUCKET is required for STORAGE_BACKEND=s3")
		}
	default:
		problems = append(problems, "unknown STORAGE_BACKEND "+c.Storage.Backend)
	}

	switch c.Video.PublishMode {
	case PublishCopy, PublishSwap:
	default:
		problems = append(problems, "unknown PUBLISH_MODE "+c.Video.PublishMode)
	}

	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		problems = append(problems, "RENDER_WIDTH and RENDER_HEIGHT must be positive")
	}
	if c.Render.Concurrency < 1 {
		problems = append(problems, "CONCURRENCY must be at least 1")
	}
	if c.Video.Concurrency < 1 {
		problems = append(problems, "VIDEO_CONCURRENCY must be at least 1")
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		problems = append(problems, "JPEG_QUALITY must be within 1..100")
	}
	if c.RateLimit.MaxRequests < 1 || c.RateLimit.Window <= 0 {
		problems = append(problems, "RATE_LIMIT_WINDOW and RATE_LIMIT_MAX must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RequireDir checks that path names an existing directory. Worker commands use
// it for their output directories.
func RequireDir(name, path string) error {
	if path == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalid, name, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s %q is not a directory", ErrInvalid, name, path)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getRedisAddr prefers REDIS_URL (with or without the redis:// scheme), then
// REDIS_ADDR. Empty means Redis is not used.
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "")
}
