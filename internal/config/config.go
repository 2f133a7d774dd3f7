package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Matching  MatchingConfig  `yaml:"matching"`
	Queue     QueueConfig     `yaml:"queue"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MatchingConfig holds the scoring and ranking policy constants. These are
// configuration rather than code on purpose: the cutoffs are pending
// calibration against real case data.
type MatchingConfig struct {
	ModelsDir string `yaml:"models_dir"`
	// TopK is the maximum number of candidates kept per image probe.
	TopK int `yaml:"top_k"`
	// MinConfidence is the floor below which no match record is created.
	MinConfidence float64 `yaml:"min_confidence"`
	// DistanceThreshold calibrates raw scorer distance into [0,1] confidence.
	DistanceThreshold float64 `yaml:"distance_threshold"`
	// ReviewBandLow/High delimit the confidence band that forces human review.
	ReviewBandLow  float64 `yaml:"review_band_low"`
	ReviewBandHigh float64 `yaml:"review_band_high"`
	// AttributeThreshold is the minimum weighted attribute score for a
	// profile-based candidate to surface at all.
	AttributeThreshold float64 `yaml:"attribute_threshold"`
	// CandidateLimit bounds the vector prefilter when selecting candidate
	// images for exact scoring.
	CandidateLimit int `yaml:"candidate_limit"`
}

type QueueConfig struct {
	WorkerCount       int           `yaml:"worker_count"`
	MaxRetries        int           `yaml:"max_retries"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
}

type RetentionConfig struct {
	PurgeAfterDays int `yaml:"purge_after_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Matching.TopK == 0 {
		cfg.Matching.TopK = 10
	}
	if cfg.Matching.MinConfidence == 0 {
		cfg.Matching.MinConfidence = 0.5
	}
	if cfg.Matching.DistanceThreshold == 0 {
		cfg.Matching.DistanceThreshold = 1.0
	}
	if cfg.Matching.ReviewBandLow == 0 {
		cfg.Matching.ReviewBandLow = 0.90
	}
	if cfg.Matching.ReviewBandHigh == 0 {
		cfg.Matching.ReviewBandHigh = 0.98
	}
	if cfg.Matching.AttributeThreshold == 0 {
		cfg.Matching.AttributeThreshold = 2.0
	}
	if cfg.Matching.CandidateLimit == 0 {
		cfg.Matching.CandidateLimit = 200
	}
	if cfg.Queue.WorkerCount == 0 {
		cfg.Queue.WorkerCount = 4
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 2 * time.Second
	}
	if cfg.Queue.ProcessingTimeout == 0 {
		cfg.Queue.ProcessingTimeout = 5 * time.Minute
	}
	if cfg.Queue.ReapInterval == 0 {
		cfg.Queue.ReapInterval = time.Minute
	}
	if cfg.Retention.PurgeAfterDays == 0 {
		cfg.Retention.PurgeAfterDays = 90
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SURA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SURA_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SURA_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SURA_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SURA_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SURA_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SURA_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SURA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SURA_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SURA_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SURA_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SURA_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SURA_MODELS_DIR"); v != "" {
		cfg.Matching.ModelsDir = v
	}
	if v := os.Getenv("SURA_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.WorkerCount = n
		}
	}
}
