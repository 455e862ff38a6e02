// Package config loads the YAML experiment configuration of an overfit check.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoEpochs          = errors.New("experiment.epochs must be positive")
	ErrNoClasses         = errors.New("experiment.num_classes must be positive")
	ErrBadStartEpoch     = errors.New("experiment.start_epoch must be non-negative")
	ErrNoAnnotations     = errors.New("data.annotations is empty")
	ErrNoVideoDir        = errors.New("data.video_dir is empty")
	ErrBadBatchSize      = errors.New("data.batch_size must be positive")
	ErrBadLearningRate   = errors.New("training.learning_rate must be positive")
	ErrUnknownOptimizer  = errors.New("training.optimizer is unknown")
	ErrNoCheckpointDir   = errors.New("output.checkpoint_dir is empty")
	ErrNoHistoryFile     = errors.New("output.history_file is empty")
	ErrBadCheckpointType = errors.New("output.checkpoint_format must be json or proto")
)

type Config struct {
	Experiment ExperimentConfig `yaml:"experiment"`
	Data       DataConfig       `yaml:"data"`
	Training   TrainingConfig   `yaml:"training"`
	Output     OutputConfig     `yaml:"output"`
	Log        LogConfig        `yaml:"log"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`
}

type ExperimentConfig struct {
	Name       string `yaml:"name"`
	BaseModel  string `yaml:"base_model"`
	NumClasses int    `yaml:"num_classes"`
	Epochs     int    `yaml:"epochs"`
	StartEpoch int    `yaml:"start_epoch"`
	Resume     bool   `yaml:"resume"`
	Seed       uint64 `yaml:"seed"`
}

type DataConfig struct {
	Annotations   string `yaml:"annotations"`
	VideoDir      string `yaml:"video_dir"`
	SubsetSize    int    `yaml:"subset_size"`
	ValSubsetSize int    `yaml:"val_subset_size"`
	BatchSize     int    `yaml:"batch_size"`
	NumWorkers    int    `yaml:"num_workers"`
	Shuffle       bool   `yaml:"shuffle"`
}

type TrainingConfig struct {
	Optimizer          string   `yaml:"optimizer"`
	Scheduler          string   `yaml:"lr_scheduler"`
	LearningRate       float64  `yaml:"learning_rate"`
	Momentum           float64  `yaml:"momentum"`
	WeightDecay        float64  `yaml:"weight_decay"`
	HiddenSize         int      `yaml:"hidden_size"`
	Dropout            float64  `yaml:"dropout"`
	TrainableLayers    []string `yaml:"trainable_layers"`
	MaxBatchesPerPhase int      `yaml:"max_batches_per_phase"`
	UseAccelerator     bool     `yaml:"use_accelerator"`
	ShowProgress       bool     `yaml:"show_progress"`
	StepSize           int      `yaml:"lr_step_size"`
	Gamma              float64  `yaml:"lr_gamma"`
}

type OutputConfig struct {
	CheckpointDir    string `yaml:"checkpoint_dir"`
	CheckpointFormat string `yaml:"checkpoint_format"`
	HistoryFile      string `yaml:"history_file"`
	PlotsDir         string `yaml:"plots_dir"`
}

type LogConfig struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// Default returns the configuration of the reference overfit run: 100 train
// clips, 20 epochs, SGD at 1e-3 with momentum 0.9, only layer4 and fc
// trainable.
func Default() *Config {
	return &Config{
		Experiment: ExperimentConfig{
			Name:       "overfit-check",
			NumClasses: 10,
			Epochs:     20,
			Seed:       42,
		},
		Data: DataConfig{
			SubsetSize: 100,
			BatchSize:  8,
			NumWorkers: 2,
			Shuffle:    true,
		},
		Training: TrainingConfig{
			Optimizer:       "sgd",
			Scheduler:       "constant",
			LearningRate:    1e-3,
			Momentum:        0.9,
			HiddenSize:      64,
			TrainableLayers: []string{"layer4", "fc"},
			ShowProgress:    true,
		},
		Output: OutputConfig{
			CheckpointDir:    "checkpoints",
			CheckpointFormat: "json",
			HistoryFile:      "checkpoints/history.txt",
		},
		Log: LogConfig{
			Path:       "logs/overfit.log",
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		MySQL: MySQLConfig{
			Host: "127.0.0.1",
			Port: 3306,
		},
		Redis: RedisConfig{
			Host:   "127.0.0.1",
			Port:   6379,
			Stream: "overfit:history",
		},
	}
}

// Load reads path over Default, so a file only needs the keys it changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Experiment.Epochs <= 0:
		return ErrNoEpochs
	case c.Experiment.NumClasses <= 0:
		return ErrNoClasses
	case c.Experiment.StartEpoch < 0:
		return ErrBadStartEpoch
	case strings.TrimSpace(c.Data.Annotations) == "":
		return ErrNoAnnotations
	case strings.TrimSpace(c.Data.VideoDir) == "":
		return ErrNoVideoDir
	case c.Data.BatchSize <= 0:
		return ErrBadBatchSize
	case c.Training.LearningRate <= 0:
		return ErrBadLearningRate
	case strings.TrimSpace(c.Output.CheckpointDir) == "":
		return ErrNoCheckpointDir
	case strings.TrimSpace(c.Output.HistoryFile) == "":
		return ErrNoHistoryFile
	}

	switch strings.ToLower(c.Training.Optimizer) {
	case "sgd", "adam", "rmsprop":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOptimizer, c.Training.Optimizer)
	}
	switch strings.ToLower(c.Output.CheckpointFormat) {
	case "json", "proto", "pb":
	default:
		return fmt.Errorf("%w: %q", ErrBadCheckpointType, c.Output.CheckpointFormat)
	}

	if c.MySQL.Enabled && strings.TrimSpace(c.MySQL.Host) == "" {
		return errors.New("mysql host is empty")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Host) == "" {
		return errors.New("redis host is empty")
	}
	return nil
}
