package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort      string `mapstructure:"service_port"`
	ServiceName      string `mapstructure:"service_name"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	BatchConcurrency int    `mapstructure:"batch_concurrency"`
	MaxUploadMB      int    `mapstructure:"max_upload_mb"`
	MaxPublishItems  int    `mapstructure:"max_publish_items"`

	// Storage roots
	TempRoot    string `mapstructure:"temp_root"`
	TempMount   string `mapstructure:"temp_mount"`
	FormalRoot  string `mapstructure:"formal_root"`
	FormalMount string `mapstructure:"formal_mount"`

	// Compression defaults applied to every compressing scene
	CompressFormat  string `mapstructure:"compress_format"`
	CompressQuality int    `mapstructure:"compress_quality"`

	// MinIO configuration
	MinIOEnabled    bool   `mapstructure:"minio_enabled"`
	MinIOEndpoint   string `mapstructure:"minio_endpoint"`
	MinIOAccessKey  string `mapstructure:"minio_access_key"`
	MinIOSecretKey  string `mapstructure:"minio_secret_key"`
	MinIOBucketName string `mapstructure:"minio_bucket_name"`
	MinIOUseSSL     bool   `mapstructure:"minio_use_ssl"`
	MinIOPublicURL  string `mapstructure:"minio_public_url"`

	// TiDB configuration
	TiDBHost     string `mapstructure:"tidb_host"`
	TiDBPort     string `mapstructure:"tidb_port"`
	TiDBUser     string `mapstructure:"tidb_user"`
	TiDBPassword string `mapstructure:"tidb_password"`
	TiDBDatabase string `mapstructure:"tidb_database"`

	// Redis configuration
	RedisHost       string `mapstructure:"redis_host"`
	RedisPort       string `mapstructure:"redis_port"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`

	// Jaeger configuration
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`

	// Per-scene overrides, config file only
	Scenes map[string]SceneOverride `mapstructure:"scenes"`
}

// SceneOverride changes or adds a scene. Zero fields keep the built-in value.
type SceneOverride struct {
	BaseDir         string             `mapstructure:"base_dir"`
	DatePartitioned *bool              `mapstructure:"date_partitioned"`
	AllowedExt      []string           `mapstructure:"allowed_ext"`
	AllowedMIME     []string           `mapstructure:"allowed_mime"`
	MaxSizeMB       int64              `mapstructure:"max_size_mb"`
	MaxCount        int                `mapstructure:"max_count"`
	Compress        *bool              `mapstructure:"compress"`
	Format          string             `mapstructure:"format"`
	Quality         int                `mapstructure:"quality"`
	Thumbnail       *ThumbnailOverride `mapstructure:"thumbnail"`
}

// ThumbnailOverride configures a scene's thumbnail.
type ThumbnailOverride struct {
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
	Scene   string `mapstructure:"scene"`
}

// LoadConfig reads configuration from defaults, an optional config file and
// the environment, in increasing precedence. An empty path searches for
// blogmedia.yaml in the working directory and /etc/blogmedia.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("blogmedia")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/blogmedia")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service_port", "8080")
	v.SetDefault("service_name", "blogmedia-service")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("batch_concurrency", 5)
	v.SetDefault("max_upload_mb", 64)
	v.SetDefault("max_publish_items", 100)

	v.SetDefault("temp_root", "./data/temp")
	v.SetDefault("temp_mount", "/temp")
	v.SetDefault("formal_root", "./data/uploads")
	v.SetDefault("formal_mount", "/uploads")

	v.SetDefault("compress_format", "jpeg")
	v.SetDefault("compress_quality", 82)

	// MinIO defaults
	v.SetDefault("minio_enabled", true)
	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "minioadmin")
	v.SetDefault("minio_secret_key", "minioadmin")
	v.SetDefault("minio_bucket_name", "blogmedia")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_public_url", "")

	// TiDB defaults
	v.SetDefault("tidb_host", "localhost")
	v.SetDefault("tidb_port", "4000")
	v.SetDefault("tidb_user", "root")
	v.SetDefault("tidb_password", "")
	v.SetDefault("tidb_database", "blogmedia")

	// Redis defaults
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl_seconds", 300)

	// Jaeger defaults
	v.SetDefault("jaeger_endpoint", "localhost:4318")
}

func (c *Config) validate() error {
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1, got %d", c.BatchConcurrency)
	}
	if c.CompressQuality < 1 || c.CompressQuality > 100 {
		return fmt.Errorf("compress_quality must be within 1-100, got %d", c.CompressQuality)
	}
	if c.TempRoot == "" || c.FormalRoot == "" {
		return errors.New("temp_root and formal_root are required")
	}
	if strings.TrimRight(c.TempMount, "/") == strings.TrimRight(c.FormalMount, "/") {
		return fmt.Errorf("temp_mount and formal_mount must differ, both are %q", c.TempMount)
	}
	return nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetMaxUploadBytes returns the request body cap in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}
