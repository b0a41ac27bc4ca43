package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/veritas/internal/fusion"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Landmarks  LandmarkConfig   `yaml:"landmarks"`
	Worker     WorkerConfig     `yaml:"worker"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
	Vision     VisionConfig     `yaml:"vision"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Database   DatabaseConfig   `yaml:"database"`
}

type AnalysisConfig struct {
	SampleEvery int            `yaml:"sample_every"`
	Threshold   float64        `yaml:"threshold"`
	Neutral     float64        `yaml:"neutral"`
	Timeout     time.Duration  `yaml:"timeout"`
	Weights     fusion.Weights `yaml:"weights"`
	Plot        bool           `yaml:"plot"`
}

type LandmarkConfig struct {
	FrameSkip int `yaml:"frame_skip"`
	MaxFrames int `yaml:"max_frames"`
	Workers   int `yaml:"workers"`
}

type WorkerConfig struct {
	Python      string        `yaml:"python"`
	Script      string        `yaml:"script"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// VisionConfig selects the detector backend: "python" (worker process) or "opencv" (gocv build).
type VisionConfig struct {
	Backend     string `yaml:"backend"`
	CascadePath string `yaml:"cascade_path"`
}

type ClassifierConfig struct {
	ModelPath string `yaml:"model_path"`
	Neighbors int    `yaml:"neighbors"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			SampleEvery: 5,
			Threshold:   0.8,
			Neutral:     0.5,
			Timeout:     10 * time.Minute,
			Weights:     fusion.DefaultWeights,
			Plot:        true,
		},
		Landmarks: LandmarkConfig{
			FrameSkip: 30,
			MaxFrames: 50,
			Workers:   4,
		},
		Worker: WorkerConfig{
			Python:      "python3",
			Script:      "python/worker.py",
			ReadTimeout: 30 * time.Second,
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Vision: VisionConfig{
			Backend: "python",
		},
		Classifier: ClassifierConfig{
			Neighbors: 5,
		},
	}
}

// Validate checks ranges that would otherwise fail deep inside a scan.
func (c *Config) Validate() error {
	if c.Analysis.SampleEvery < 1 {
		return fmt.Errorf("analysis.sample_every must be >= 1, got %d", c.Analysis.SampleEvery)
	}
	if c.Analysis.Threshold < 0 || c.Analysis.Threshold > 1 {
		return fmt.Errorf("analysis.threshold must be in [0,1], got %f", c.Analysis.Threshold)
	}
	if c.Analysis.Neutral < 0 || c.Analysis.Neutral > 1 {
		return fmt.Errorf("analysis.neutral must be in [0,1], got %f", c.Analysis.Neutral)
	}
	if err := c.Analysis.Weights.Validate(); err != nil {
		return err
	}
	if c.Landmarks.FrameSkip < 1 {
		return fmt.Errorf("landmarks.frame_skip must be >= 1, got %d", c.Landmarks.FrameSkip)
	}
	if c.Landmarks.MaxFrames < 1 {
		return fmt.Errorf("landmarks.max_frames must be >= 1, got %d", c.Landmarks.MaxFrames)
	}
	if c.Landmarks.Workers < 1 {
		c.Landmarks.Workers = 1
	}
	switch c.Vision.Backend {
	case "python", "opencv":
	default:
		return fmt.Errorf("vision.backend must be python or opencv, got %q", c.Vision.Backend)
	}
	if c.Classifier.Neighbors < 1 {
		return fmt.Errorf("classifier.neighbors must be >= 1, got %d", c.Classifier.Neighbors)
	}
	return nil
}

// DatabaseURL resolves the connection string: flag, then config file, then
// POSTGRES_* environment variables, then the local default.
func (c *Config) DatabaseURL(flag string) string {
	if flag != "" {
		return flag
	}
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/veritas"
}

func findConfigFile() string {
	candidates := []string{
		"./veritas.yaml",
		"./config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".veritas", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
