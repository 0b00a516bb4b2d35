// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Catalog, Source, Render, Cache, Prefetch, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Source   SourceConfig   `yaml:"source"`
	Render   RenderConfig   `yaml:"render"`
	Cache    CacheConfig    `yaml:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RequestTimeout bounds non-streaming API calls. Render streams are exempt.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxSessions    int           `yaml:"maxSessions"`
	AllowOrigins   []string      `yaml:"allowOrigins"`
	// PrefetchRateLimit caps hover prefetch requests per client per minute.
	PrefetchRateLimit int `yaml:"prefetchRateLimit"`
}

// CatalogConfig says where the document listing and the render manifest come
// from.
type CatalogConfig struct {
	// Backend is one of "http", "file" or "postgres".
	Backend      string        `yaml:"backend"`
	ListingURL   string        `yaml:"listingUrl"`
	ListingFile  string        `yaml:"listingFile"`
	ManifestURL  string        `yaml:"manifestUrl"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	MaxAttempts  int           `yaml:"maxAttempts"`
}

// SourceConfig selects the backend serving raw document bytes and the base
// location of pre-rendered page images.
type SourceConfig struct {
	// Backend is one of "http", "s3" or "gcs".
	Backend      string        `yaml:"backend"`
	BaseURL      string        `yaml:"baseUrl"`
	PagesBaseURL string        `yaml:"pagesBaseUrl"`
	MaxBytes     int64         `yaml:"maxBytes"`
	Timeout      time.Duration `yaml:"timeout"`
	S3           S3Config      `yaml:"s3"`
	GCS          GCSConfig     `yaml:"gcs"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// S3Config holds MinIO/S3 connection parameters.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	PathStyle bool   `yaml:"pathStyle"`
}

// GCSConfig holds Google Cloud Storage parameters.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentialsFile"`
	Anonymous       bool   `yaml:"anonymous"`
}

// BreakerConfig controls the circuit breaker in front of the source backend.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// RenderConfig holds the page rendering knobs.
type RenderConfig struct {
	// Rasterizer is "pdfcpu" (scanned page extraction) or "poppler".
	Rasterizer  string        `yaml:"rasterizer"`
	Scale       float64       `yaml:"scale"`
	MaxWidth    int           `yaml:"maxWidth"`
	JPEGQuality int           `yaml:"jpegQuality"`
	PageTimeout time.Duration `yaml:"pageTimeout"`
	// VerifyPrerendered issues a HEAD per manifest page before handing it out.
	VerifyPrerendered bool   `yaml:"verifyPrerendered"`
	PopplerPath       string `yaml:"popplerPath"`
}

// CacheConfig sizes the two in-memory caches.
type CacheConfig struct {
	PageCapacity      int           `yaml:"pageCapacity"`
	ThumbnailCapacity int           `yaml:"thumbnailCapacity"`
	ThumbnailWidth    int           `yaml:"thumbnailWidth"`
	ThumbnailTTL      time.Duration `yaml:"thumbnailTTL"`
}

// PrefetchConfig controls background cache warming.
type PrefetchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Ahead         int           `yaml:"ahead"`
	Behind        int           `yaml:"behind"`
	Stagger       time.Duration `yaml:"stagger"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// OverlayConfig points at the detected-entity dataset.
type OverlayConfig struct {
	Path                string  `yaml:"path"`
	ConfidenceThreshold float64 `yaml:"confidenceThreshold"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ViewEvents string `yaml:"viewEvents"`
}

// RedisConfig holds Redis connection parameters for the thumbnail tier. An
// empty address disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the defaults used for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      0,
			ShutdownTimeout:   15 * time.Second,
			RequestTimeout:    30 * time.Second,
			MaxSessions:       1000,
			AllowOrigins:      []string{"*"},
			PrefetchRateLimit: 120,
		},
		Catalog: CatalogConfig{
			Backend:      "http",
			ListingURL:   "http://localhost:9000/api/files",
			ManifestURL:  "http://localhost:9000/pdfs-as-jpegs/manifest.json",
			FetchTimeout: 30 * time.Second,
			MaxAttempts:  3,
		},
		Source: SourceConfig{
			Backend:      "http",
			BaseURL:      "http://localhost:9000",
			PagesBaseURL: "http://localhost:9000/pdfs-as-jpegs",
			MaxBytes:     256 << 20,
			Timeout:      60 * time.Second,
			S3: S3Config{
				Region:    "us-east-1",
				PathStyle: true,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Render: RenderConfig{
			Rasterizer:        "pdfcpu",
			Scale:             1.5,
			MaxWidth:          1600,
			JPEGQuality:       85,
			PageTimeout:       30 * time.Second,
			VerifyPrerendered: false,
			PopplerPath:       "pdftoppm",
		},
		Cache: CacheConfig{
			PageCapacity:      20,
			ThumbnailCapacity: 500,
			ThumbnailWidth:    240,
			ThumbnailTTL:      24 * time.Hour,
		},
		Prefetch: PrefetchConfig{
			Enabled:       true,
			Ahead:         3,
			Behind:        1,
			Stagger:       150 * time.Millisecond,
			MaxConcurrent: 2,
			Timeout:       2 * time.Minute,
		},
		Overlay: OverlayConfig{
			ConfidenceThreshold: 0.9,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docviewer",
			User:            "docviewer",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topics: KafkaTopics{
				ViewEvents: "viewer-events",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	switch c.Catalog.Backend {
	case "http":
		if c.Catalog.ListingURL == "" {
			return fmt.Errorf("catalog.listingUrl is required for the http backend")
		}
	case "file":
		if c.Catalog.ListingFile == "" {
			return fmt.Errorf("catalog.listingFile is required for the file backend")
		}
	case "postgres":
	default:
		return fmt.Errorf("unknown catalog.backend %q", c.Catalog.Backend)
	}
	switch c.Source.Backend {
	case "http":
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.baseUrl is required for the http backend")
		}
	case "s3":
		if c.Source.S3.Endpoint == "" || c.Source.S3.Bucket == "" {
			return fmt.Errorf("source.s3.endpoint and source.s3.bucket are required")
		}
	case "gcs":
		if c.Source.GCS.Bucket == "" {
			return fmt.Errorf("source.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unknown source.backend %q", c.Source.Backend)
	}
	switch c.Render.Rasterizer {
	case "pdfcpu", "poppler":
	default:
		return fmt.Errorf("unknown render.rasterizer %q", c.Render.Rasterizer)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("render.jpegQuality must be within 1..100, got %d", c.Render.JPEGQuality)
	}
	if c.Render.Scale <= 0 {
		return fmt.Errorf("render.scale must be positive")
	}
	if c.Cache.PageCapacity <= 0 || c.Cache.ThumbnailCapacity <= 0 {
		return fmt.Errorf("cache capacities must be positive")
	}
	if c.Overlay.ConfidenceThreshold < 0 || c.Overlay.ConfidenceThreshold > 1 {
		return fmt.Errorf("overlay.confidenceThreshold must be within 0..1")
	}
	if c.Prefetch.Enabled && c.Prefetch.MaxConcurrent <= 0 {
		return fmt.Errorf("prefetch.maxConcurrent must be positive when prefetch is enabled")
	}
	return nil
}

// applyEnvOverrides reads DV_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DV_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DV_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DV_CATALOG_BACKEND"); v != "" {
		cfg.Catalog.Backend = v
	}
	if v := os.Getenv("DV_CATALOG_LISTING_URL"); v != "" {
		cfg.Catalog.ListingURL = v
	}
	if v := os.Getenv("DV_CATALOG_LISTING_FILE"); v != "" {
		cfg.Catalog.ListingFile = v
	}
	if v := os.Getenv("DV_CATALOG_MANIFEST_URL"); v != "" {
		cfg.Catalog.ManifestURL = v
	}
	if v := os.Getenv("DV_SOURCE_BACKEND"); v != "" {
		cfg.Source.Backend = v
	}
	if v := os.Getenv("DV_SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("DV_SOURCE_PAGES_BASE_URL"); v != "" {
		cfg.Source.PagesBaseURL = v
	}
	if v := os.Getenv("DV_S3_ENDPOINT"); v != "" {
		cfg.Source.S3.Endpoint = v
	}
	if v := os.Getenv("DV_S3_BUCKET"); v != "" {
		cfg.Source.S3.Bucket = v
	}
	if v := os.Getenv("DV_S3_ACCESS_KEY"); v != "" {
		cfg.Source.S3.AccessKey = v
	}
	if v := os.Getenv("DV_S3_SECRET_KEY"); v != "" {
		cfg.Source.S3.SecretKey = v
	}
	if v := os.Getenv("DV_GCS_BUCKET"); v != "" {
		cfg.Source.GCS.Bucket = v
	}
	if v := os.Getenv("DV_RENDER_RASTERIZER"); v != "" {
		cfg.Render.Rasterizer = v
	}
	if v := os.Getenv("DV_RENDER_SCALE"); v != "" {
		if scale, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Render.Scale = scale
		}
	}
	if v := os.Getenv("DV_RENDER_JPEG_QUALITY"); v != "" {
		if q, err := strconv.Atoi(v); err == nil {
			cfg.Render.JPEGQuality = q
		}
	}
	if v := os.Getenv("DV_CACHE_PAGE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.PageCapacity = n
		}
	}
	if v := os.Getenv("DV_CACHE_THUMBNAIL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.ThumbnailCapacity = n
		}
	}
	if v := os.Getenv("DV_OVERLAY_PATH"); v != "" {
		cfg.Overlay.Path = v
	}
	if v := os.Getenv("DV_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DV_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DV_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DV_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DV_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DV_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DV_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
