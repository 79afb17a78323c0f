// Package config loads the YAML run configuration of the continual trainer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvLR        = "CONTINUAL_LR"
	EnvEpochs    = "CONTINUAL_EPOCHS"
	EnvOutputDir = "CONTINUAL_OUTPUT_DIR"
)

// Head kinds.
const (
	HeadContinual = "continual"
	HeadCosine    = "cosine"
	HeadLinear    = "linear"
)

// Output formats.
const (
	FormatBorn        = "born"
	FormatSafeTensors = "safetensors"
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("invalid config")

// Config is the full run configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Sessions SessionsConfig `yaml:"sessions"`
	Training TrainingConfig `yaml:"training"`
	Data     DataConfig     `yaml:"data"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModelConfig selects and shapes the classifier head.
type ModelConfig struct {
	Head             string `yaml:"head"` // continual, cosine, linear
	EmbedDim         int    `yaml:"embed_dim"`
	LayerNorm        bool   `yaml:"layer_norm"`
	Proxies          int    `yaml:"proxies"`
	FeatureExpansion bool   `yaml:"feature_expansion"`
}

// SessionsConfig describes the class-incremental schedule.
type SessionsConfig struct {
	InitClasses int `yaml:"init_classes"`
	Increment   int `yaml:"increment"`
	Count       int `yaml:"count"`
}

// TrainingConfig holds the per-session optimization settings.
type TrainingConfig struct {
	Epochs      int     `yaml:"epochs"`
	BatchSize   int     `yaml:"batch_size"`
	Optimizer   string  `yaml:"optimizer"` // sgd, adam
	LR          float64 `yaml:"lr"`
	Momentum    float64 `yaml:"momentum"`
	WeightDecay float64 `yaml:"weight_decay"`
	FreezeOld   bool    `yaml:"freeze_old"`
}

// DataConfig controls the synthetic feature generator.
type DataConfig struct {
	SamplesPerClass int     `yaml:"samples_per_class"`
	TestPerClass    int     `yaml:"test_per_class"`
	Noise           float64 `yaml:"noise"`
	Seed            uint64  `yaml:"seed"`
}

// OutputConfig says where checkpoints go.
type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // born, safetensors
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns a configuration that trains a continual head on ten
// classes split over three sessions.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Head:     HeadContinual,
			EmbedDim: 64,
			Proxies:  1,
		},
		Sessions: SessionsConfig{
			InitClasses: 4,
			Increment:   3,
			Count:       3,
		},
		Training: TrainingConfig{
			Epochs:    10,
			BatchSize: 32,
			Optimizer: "sgd",
			LR:        0.1,
			Momentum:  0.9,
			FreezeOld: true,
		},
		Data: DataConfig{
			SamplesPerClass: 100,
			TestPerClass:    30,
			Noise:           0.5,
			Seed:            42,
		},
		Output: OutputConfig{
			Dir:    "checkpoints",
			Format: FormatBorn,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the user
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: config is not secret
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvLR); v != "" {
		lr, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLR, err)
		}
		c.Training.LR = lr
	}
	if v := os.Getenv(EnvEpochs); v != "" {
		epochs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEpochs, err)
		}
		c.Training.Epochs = epochs
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Output.Dir = v
	}
	return nil
}

// Validate checks the configuration for values the trainer cannot run with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	switch c.Model.Head {
	case HeadContinual, HeadCosine, HeadLinear:
	default:
		problems = append(problems, fmt.Sprintf("model.head %q is not one of continual, cosine, linear", c.Model.Head))
	}
	check(c.Model.EmbedDim > 0, "model.embed_dim must be positive, got %d", c.Model.EmbedDim)
	check(c.Model.Proxies >= 1, "model.proxies must be at least 1, got %d", c.Model.Proxies)
	check(!c.Model.FeatureExpansion || c.Model.Head == HeadContinual,
		"model.feature_expansion requires the continual head")

	check(c.Sessions.InitClasses > 0, "sessions.init_classes must be positive, got %d", c.Sessions.InitClasses)
	check(c.Sessions.Count > 0, "sessions.count must be positive, got %d", c.Sessions.Count)
	check(c.Sessions.Count == 1 || c.Sessions.Increment > 0,
		"sessions.increment must be positive when more than one session runs, got %d", c.Sessions.Increment)

	check(c.Training.Epochs > 0, "training.epochs must be positive, got %d", c.Training.Epochs)
	check(c.Training.BatchSize > 0, "training.batch_size must be positive, got %d", c.Training.BatchSize)
	check(c.Training.LR > 0, "training.lr must be positive, got %v", c.Training.LR)
	check(c.Training.Momentum >= 0 && c.Training.Momentum < 1, "training.momentum must be in [0, 1), got %v", c.Training.Momentum)
	check(c.Training.WeightDecay >= 0, "training.weight_decay must not be negative, got %v", c.Training.WeightDecay)
	switch strings.ToLower(c.Training.Optimizer) {
	case "sgd", "adam":
	default:
		problems = append(problems, fmt.Sprintf("training.optimizer %q is not one of sgd, adam", c.Training.Optimizer))
	}

	check(c.Data.SamplesPerClass > 0, "data.samples_per_class must be positive, got %d", c.Data.SamplesPerClass)
	check(c.Data.TestPerClass > 0, "data.test_per_class must be positive, got %d", c.Data.TestPerClass)
	check(c.Data.Noise >= 0, "data.noise must not be negative, got %v", c.Data.Noise)

	check(c.Output.Dir != "", "output.dir must be set")
	check(c.Output.Format == FormatBorn || c.Output.Format == FormatSafeTensors,
		"output.format %q is not one of born, safetensors", c.Output.Format)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// TotalClasses returns the number of classes after the last session.
func (c *Config) TotalClasses() int {
	return c.Sessions.InitClasses + (c.Sessions.Count-1)*c.Sessions.Increment
}
