package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"palm/meta"
	"palm/utils"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	ExecutorLocal  = "local"
	ExecutorRemote = "remote"
)

var executorKinds = []string{ExecutorLocal, ExecutorRemote}

var exporters = []string{"", "none", "stdout", "otlp"}

// Config is the file-level configuration of a generator run. Field names
// follow the keys of the YAML and HCL files.
type Config struct {
	Mission         string    `yaml:"mission_yaml" hcl:"mission_yaml"`
	Budget          int       `yaml:"budget" hcl:"budget,optional"`
	MaxObstacles    int       `yaml:"max_obstacles" hcl:"max_obstacles,optional"`
	ExplorationRate float64   `yaml:"exploration_rate" hcl:"exploration_rate,optional"`
	C               float64   `yaml:"C" hcl:"C,optional"`
	Alpha           float64   `yaml:"alpha" hcl:"alpha,optional"`
	CList           []float64 `yaml:"C_list" hcl:"C_list,optional"`
	TestsFolder     string    `yaml:"tests_folder" hcl:"tests_folder,optional"`
	Seed            uint64    `yaml:"seed" hcl:"seed,optional"`
	Simulation      string    `yaml:"simulation" hcl:"simulation,optional"`
	LogLevel        string    `yaml:"log_level" hcl:"log_level,optional"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" hcl:"metrics_addr,optional"`

	Executor *Executor `yaml:"executor" hcl:"executor,block"`
	Tracing  *Tracing  `yaml:"tracing" hcl:"tracing,block"`
}

type Executor struct {
	Kind string `yaml:"kind" hcl:"kind,optional"`
	// URL of the simulator service for the remote executor.
	URL     string `yaml:"url" hcl:"url,optional"`
	Timeout string `yaml:"timeout" hcl:"timeout,optional"`
	// LogDir keeps the local executor's flight logs.
	LogDir string `yaml:"log_dir" hcl:"log_dir,optional"`
}

type Tracing struct {
	// Exporter is one of none, stdout or otlp.
	Exporter string `yaml:"exporter" hcl:"exporter,optional"`
	Endpoint string `yaml:"endpoint" hcl:"endpoint,optional"`
}

func Default() Config {
	return Config{
		Budget:          meta.BUDGET,
		MaxObstacles:    meta.MAX_OBSTACLES,
		ExplorationRate: meta.EXPLORATION_RATE,
		C:               meta.WIDENING_C,
		Alpha:           meta.WIDENING_ALPHA,
		CList:           meta.WideningCList(),
		TestsFolder:     meta.TESTS_FOLDER,
		Seed:            meta.SEED,
		Simulation:      "terminal",
		LogLevel:        "info",
		Executor:        &Executor{Kind: ExecutorLocal, Timeout: "10m"},
		Tracing:         &Tracing{},
	}
}

// Load reads a configuration file. Files ending in .hcl are decoded as HCL,
// anything else as YAML. Relative paths in the file are resolved against the
// file's directory.
func Load(path string) (Config, error) {
	cfg := Default()

	var err error
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		err = decodeHCL(path, &cfg)
	} else {
		err = decodeYAML(path, &cfg)
	}
	if err != nil {
		return Config{}, err
	}

	defaults := Default()
	if cfg.Executor == nil {
		cfg.Executor = defaults.Executor
	}
	if cfg.Executor.Kind == "" {
		cfg.Executor.Kind = ExecutorLocal
	}
	if cfg.Executor.Timeout == "" {
		cfg.Executor.Timeout = defaults.Executor.Timeout
	}
	if cfg.Tracing == nil {
		cfg.Tracing = defaults.Tracing
	}

	dir := filepath.Dir(path)
	cfg.Mission = resolve(dir, cfg.Mission)
	cfg.TestsFolder = resolve(dir, cfg.TestsFolder)
	cfg.Executor.LogDir = resolve(dir, cfg.Executor.LogDir)

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode YAML config file %s: %w", path, err)
	}
	return nil
}

func decodeHCL(path string, cfg *Config) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL config file %s: %s", path, diags.Error())
	}

	diags = gohcl.DecodeBody(file.Body, nil, cfg)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL config file %s: %s", path, diags.Error())
	}
	return nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Validate checks the fields the file itself is responsible for. Search
// hyperparameters are checked by the engine.
func (c Config) Validate() error {
	if c.Mission == "" {
		return fmt.Errorf("%w: mission_yaml is required", ErrInvalidConfig)
	}
	if c.Executor == nil || utils.FindIndex(executorKinds, c.Executor.Kind) < 0 {
		return fmt.Errorf("%w: executor kind must be one of %v", ErrInvalidConfig, executorKinds)
	}
	if c.Executor.Kind == ExecutorRemote && c.Executor.URL == "" {
		return fmt.Errorf("%w: remote executor needs a url", ErrInvalidConfig)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.Tracing != nil && utils.FindIndex(exporters, c.Tracing.Exporter) < 0 {
		return fmt.Errorf("%w: unknown tracing exporter %q", ErrInvalidConfig, c.Tracing.Exporter)
	}
	return nil
}

// Timeout is the executor's per-simulation timeout.
func (c Config) Timeout() (time.Duration, error) {
	if c.Executor == nil || c.Executor.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Executor.Timeout)
	if err != nil {
		return 0, fmt.Errorf("%w: executor timeout: %w", ErrInvalidConfig, err)
	}
	return d, nil
}
