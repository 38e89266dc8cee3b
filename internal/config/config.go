package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultListen       = ":8080"
	defaultRedisURL     = "redis://localhost:6379/0"
	defaultDescFileName = "bundle.md"
	defaultFFmpegPath   = "ffmpeg"
	defaultWorkers      = 4
)

type IndexerConfig struct {
	ContentDir   string `yaml:"content_dir"`
	Workers      int    `yaml:"workers"`
	DescFileName string `yaml:"desc_filename"`
}

type ExportConfig struct {
	TempDir    string `yaml:"temp_dir"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

type Config struct {
	URL           string        `yaml:"url"`
	Listen        string        `yaml:"listen"`
	RedisURL      string        `yaml:"redis_url"`
	LogLevel      string        `yaml:"log_level"`
	IndexerConfig IndexerConfig `yaml:"indexer"`
	ExportConfig  ExportConfig  `yaml:"export"`
}

func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RedisURL == "" {
		c.RedisURL = defaultRedisURL
	}
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.IndexerConfig.Workers < 1 {
		c.IndexerConfig.Workers = defaultWorkers
	}
	if c.IndexerConfig.DescFileName == "" {
		c.IndexerConfig.DescFileName = defaultDescFileName
	}
	if c.ExportConfig.TempDir == "" {
		c.ExportConfig.TempDir = os.TempDir()
	}
	if c.ExportConfig.FFmpegPath == "" {
		c.ExportConfig.FFmpegPath = defaultFFmpegPath
	}
}

// MustLoad reads the YAML config and overlays environment variables. A .env
// file next to the binary is honored the same way.
func MustLoad(path string) *Config {
	_ = godotenv.Load()

	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			panic(fmt.Errorf("cannot read config file %s: %w", path, err))
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Errorf("cannot parse config file %s: %w", path, err))
	}

	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONTENT_DIR"); v != "" {
		cfg.IndexerConfig.ContentDir = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		cfg.ExportConfig.FFmpegPath = v
	}

	cfg.SetDefaults()

	return &cfg
}
