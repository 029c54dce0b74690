package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// EnvPrefix is stripped from environment variables before they are mapped to
// config keys. A double underscore separates nesting levels, so
// BEAMSPOT_PIPELINE__SIGNAL_ORDER sets pipeline.signal_order.
const EnvPrefix = "BEAMSPOT_"

type RecorderConfig struct {
	// Enabled turns on writing of frames to disk
	Enabled bool `koanf:"enabled" yaml:"enabled"`

	// RecordAll writes every frame, not only frames of failed shots
	RecordAll bool `koanf:"record_all" yaml:"record_all"`

	// Root is the root folder; dated subfolders are created below it
	Root string `koanf:"root" yaml:"root"`

	// Prefix is the filename prefix
	Prefix string `koanf:"prefix" yaml:"prefix"`
}

type AppConfig struct {
	Port           int            `koanf:"port" yaml:"port"`
	Endpoint       string         `koanf:"endpoint" yaml:"endpoint"`
	CommandAddr    string         `koanf:"command_addr" yaml:"command_addr"`
	Camera         string         `koanf:"camera" yaml:"camera"`
	Debug          bool           `koanf:"debug" yaml:"debug"`
	DebugAcqRate   float64        `koanf:"debug_acq_rate" yaml:"debug_acq_rate"`
	FrameTimeout   time.Duration  `koanf:"frame_timeout" yaml:"frame_timeout"`
	UIRate         time.Duration  `koanf:"ui_rate" yaml:"ui_rate"`
	OutputDir      string         `koanf:"output_dir" yaml:"output_dir"`
	RawLogEnabled  bool           `koanf:"raw_log" yaml:"raw_log"`
	RawLogDir      string         `koanf:"raw_log_dir" yaml:"raw_log_dir"`
	IngestLogEvery int            `koanf:"ingest_log_every" yaml:"ingest_log_every"`
	IngestFallback bool           `koanf:"ingest_fallback" yaml:"ingest_fallback"`
	DatabasePath   string         `koanf:"database_path" yaml:"database_path"`
	Recorder       RecorderConfig `koanf:"recorder" yaml:"recorder"`
	Pipeline       Pipeline       `koanf:"pipeline" yaml:"pipeline"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() AppConfig {
	return AppConfig{
		Port:           8888,
		Endpoint:       "tcp://localhost:31001",
		CommandAddr:    "tcp://*:55555",
		Camera:         "blackfly",
		DebugAcqRate:   10,
		FrameTimeout:   time.Second,
		UIRate:         time.Second,
		OutputDir:      "output",
		RawLogDir:      "rawlog",
		IngestLogEvery: 100,
		IngestFallback: true,
		Recorder: RecorderConfig{
			Root:   "frames",
			Prefix: "shot",
		},
		Pipeline: DefaultPipeline(),
	}
}

// Load layers defaults, the YAML file at path and BEAMSPOT_* environment
// variables, in that order. A missing file is not an error.
func Load(path string) (AppConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the application settings and the pipeline parameters.
func (c AppConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Debug && c.DebugAcqRate <= 0 {
		return fmt.Errorf("%w: debug_acq_rate must be positive", ErrInvalidConfig)
	}
	if c.FrameTimeout <= 0 {
		return fmt.Errorf("%w: frame_timeout must be positive", ErrInvalidConfig)
	}
	return c.Pipeline.Validate()
}
