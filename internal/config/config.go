package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. GAMELAN_MODEL_PATH.
const Prefix = "GAMELAN"

type Config struct {
	ModelPath   string `envconfig:"MODEL_PATH" default:"models/instrument_classifier.onnx"`
	LibraryPath string `envconfig:"ORT_LIBRARY_PATH"`

	// Labels must be listed in the model's output order.
	Labels     []string `envconfig:"LABELS" default:"Balungan,Bonang,Gambang,Kendang,Rebab,Slentho"`
	LabelsPath string   `envconfig:"LABELS_PATH"`

	ThresholdHigh   float64 `envconfig:"THRESHOLD_HIGH" default:"0.75"`
	ThresholdMedium float64 `envconfig:"THRESHOLD_MEDIUM" default:"0.5"`

	PoolSize       int `envconfig:"POOL_SIZE" default:"1"`
	IntraOpThreads int `envconfig:"INTRA_OP_THREADS" default:"0"`

	Port           string `envconfig:"PORT" default:"8080"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	MaxImagePixels int64  `envconfig:"MAX_IMAGE_PIXELS" default:"50000000"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads .env files (if any) into the environment and then builds the
// configuration from it. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if cfg.LabelsPath != "" {
		labels, err := ReadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		cfg.Labels = labels
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files %v: %w", files, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if err := c.ClassLabels().Validate(); err != nil {
		return fmt.Errorf("invalid labels: %w", err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("max image pixels must be positive, got %d", c.MaxImagePixels)
	}
	return nil
}

func (c *Config) ClassLabels() model.Labels {
	labels := make(model.Labels, len(c.Labels))
	for i, l := range c.Labels {
		labels[i] = strings.TrimSpace(l)
	}
	return labels
}

func (c *Config) Thresholds() model.Thresholds {
	return model.Thresholds{High: c.ThresholdHigh, Medium: c.ThresholdMedium}
}

func (c *Config) ServerConfig() model.ServerConfig {
	return model.ServerConfig{
		ModelPath:      c.ModelPath,
		LibraryPath:    c.LibraryPath,
		Labels:         c.ClassLabels(),
		PoolSize:       c.PoolSize,
		IntraOpThreads: c.IntraOpThreads,
	}
}

// ReadLabels reads one label per line, skipping blank lines and # comments.
func ReadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
