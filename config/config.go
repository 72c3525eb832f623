package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Model    ModelConfig    `mapstructure:"model"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type ModelConfig struct {
	Dir       string `mapstructure:"dir"`
	URL       string `mapstructure:"url"`
	InputSize int    `mapstructure:"input_size"`
}

type PipelineConfig struct {
	TargetSize       int           `mapstructure:"target_size"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	FeatherRadius    float64       `mapstructure:"feather_radius"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	StaleFileAge    time.Duration `mapstructure:"stale_file_age"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置，失败时回落到默认配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/webp"})

	v.SetDefault("model.dir", "./models")
	v.SetDefault("model.url", "")
	v.SetDefault("model.input_size", 320)

	v.SetDefault("pipeline.target_size", 1024)
	v.SetDefault("pipeline.inference_timeout", 2*time.Minute)
	v.SetDefault("pipeline.feather_radius", 0.0)

	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.cleanup_interval", time.Hour)
	v.SetDefault("cache.stale_file_age", 7*24*time.Hour)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp"},
		},
		Model: ModelConfig{
			Dir:       "./models",
			InputSize: 320,
		},
		Pipeline: PipelineConfig{
			TargetSize:       1024,
			InferenceTimeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:             24 * time.Hour,
			CleanupInterval: time.Hour,
			StaleFileAge:    7 * 24 * time.Hour,
		},
	}
}
