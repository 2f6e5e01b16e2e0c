package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Media       MediaConfig       `yaml:"media"`
}

// ServerConfig configures the HTTP API binary.
type ServerConfig struct {
	Port          int   `yaml:"port"`
	MaxUploadSize int64 `yaml:"max_upload_size"`
}

// QueueConfig selects the bus implementation.
type QueueConfig struct {
	Type       string         `yaml:"type"` // "rabbitmq" or "memory"
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
	Workers    int            `yaml:"workers"`
}

// RabbitMQConfig holds the bus connection and channel names.
type RabbitMQConfig struct {
	URL          string `yaml:"url"`
	JobsQueue    string `yaml:"jobs_queue"`
	ResultsQueue string `yaml:"results_queue"`
}

// StorageConfig selects the session/chunk persistence backend.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "redis", "postgres" or "memory"
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// PostgresConfig holds the Postgres connection string.
type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
}

// ObjectStoreConfig selects the blob storage backend.
type ObjectStoreConfig struct {
	Type  string      `yaml:"type"` // "local" or "minio"
	Local LocalConfig `yaml:"local"`
	MinIO MinIOConfig `yaml:"minio"`
}

// LocalConfig configures the filesystem object store.
type LocalConfig struct {
	BaseDir string `yaml:"base_dir"`
	BaseURL string `yaml:"base_url"`
}

// MinIOConfig configures the MinIO/S3 object store.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	BaseURL   string `yaml:"base_url"`
}

// ProvidersConfig selects the speech-to-text providers. Primary handles all
// transcription; WordLevel is the fallback used when word timestamps are
// required and the primary only produces segments.
type ProvidersConfig struct {
	Primary    string           `yaml:"primary"`
	WordLevel  string           `yaml:"word_level"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	AssemblyAI AssemblyAIConfig `yaml:"assemblyai"`
}

// OpenAIConfig holds the Whisper API key.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// DeepgramConfig holds the Deepgram API settings.
type DeepgramConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AssemblyAIConfig holds the AssemblyAI API settings.
type AssemblyAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// MediaConfig configures the ffmpeg toolkit and chunking.
type MediaConfig struct {
	FFmpegPath    string  `yaml:"ffmpeg_path"`
	FFprobePath   string  `yaml:"ffprobe_path"`
	ChunkDuration float64 `yaml:"chunk_duration"` // seconds, clamped to [5,30]
}

// Load reads and validates a YAML config file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 500 * 1024 * 1024
	}

	switch c.Queue.Type {
	case "":
		c.Queue.Type = "memory"
	case "memory", "rabbitmq":
	default:
		return fmt.Errorf("unsupported queue type: %s", c.Queue.Type)
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Type == "rabbitmq" {
		if c.Queue.RabbitMQ.URL == "" {
			return fmt.Errorf("queue.rabbitmq.url is required")
		}
		if c.Queue.RabbitMQ.JobsQueue == "" {
			c.Queue.RabbitMQ.JobsQueue = "video_jobs"
		}
		if c.Queue.RabbitMQ.ResultsQueue == "" {
			c.Queue.RabbitMQ.ResultsQueue = "video_results"
		}
	}

	switch c.Storage.Type {
	case "":
		c.Storage.Type = "memory"
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.Type == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required")
	}
	if c.Storage.Redis.TTLHours <= 0 {
		c.Storage.Redis.TTLHours = 72
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.ConnString == "" {
		return fmt.Errorf("storage.postgres.conn_string is required")
	}

	switch c.ObjectStore.Type {
	case "":
		c.ObjectStore.Type = "local"
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported object store type: %s", c.ObjectStore.Type)
	}
	if c.ObjectStore.Type == "local" && c.ObjectStore.Local.BaseDir == "" {
		c.ObjectStore.Local.BaseDir = "data"
	}
	if c.ObjectStore.Type == "minio" {
		if c.ObjectStore.MinIO.Endpoint == "" {
			return fmt.Errorf("object_store.minio.endpoint is required")
		}
		if c.ObjectStore.MinIO.Bucket == "" {
			c.ObjectStore.MinIO.Bucket = "capflow"
		}
	}

	if c.Providers.Primary == "" {
		c.Providers.Primary = "whisper"
	}
	if c.Providers.WordLevel == "" {
		c.Providers.WordLevel = "deepgram"
	}
	if c.Providers.Deepgram.Model == "" {
		c.Providers.Deepgram.Model = "nova-2"
	}

	if c.Media.FFmpegPath == "" {
		c.Media.FFmpegPath = "ffmpeg"
	}
	if c.Media.FFprobePath == "" {
		c.Media.FFprobePath = "ffprobe"
	}
	if c.Media.ChunkDuration <= 0 {
		c.Media.ChunkDuration = 20
	}
	if c.Media.ChunkDuration < 5 {
		c.Media.ChunkDuration = 5
	}
	if c.Media.ChunkDuration > 30 {
		c.Media.ChunkDuration = 30
	}

	return nil
}
