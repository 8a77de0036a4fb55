// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prior

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/exprprior/pkg/validation"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/validate"
)

// MaxConfigFileSize is the largest configuration file LoadConfig reads (1MB).
const MaxConfigFileSize = 1024 * 1024

// DefaultConfigYAML is the annotated default configuration. It decodes to
// DefaultConfig().
//
//go:embed default_config.yaml
var DefaultConfigYAML []byte

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("token_name", func(fl validator.FieldLevel) bool {
		return validation.ValidateTokenName(fl.Field().String()) == nil
	})
}

// Config is the complete run configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Library selects the token vocabulary.
	Library LibraryConfig `json:"library" yaml:"library"`

	// Constraints is the ordered list of prior constraints.
	Constraints []ConstraintConfig `json:"constraints" yaml:"constraints" validate:"dive"`

	// Validator contains the whole-tree validation bounds.
	Validator ValidatorConfig `json:"validator" yaml:"validator"`

	// Parallel contains row-parallel mask settings.
	Parallel ParallelConfig `json:"parallel" yaml:"parallel"`

	// Sampler contains reference generation settings.
	Sampler SamplerConfig `json:"sampler" yaml:"sampler"`

	// Storage contains population store settings.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Server contains HTTP settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging contains logger settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry contains OpenTelemetry exporter settings.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// LibraryConfig selects either the built-in function table or custom tokens.
// When Tokens is non-empty FunctionSet, NInputVar and Const are ignored.
type LibraryConfig struct {
	FunctionSet  []string              `json:"function_set" yaml:"function_set" validate:"dive,token_name"`
	NInputVar    int                   `json:"n_input_var" yaml:"n_input_var" validate:"gte=0,lte=64"`
	Const        bool                  `json:"const" yaml:"const"`
	Tokens       []library.TokenDef    `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	InversePairs []library.InversePair `json:"inverse_pairs,omitempty" yaml:"inverse_pairs,omitempty"`
}

// ValidatorConfig contains whole-tree validation bounds. Zero disables a bound.
type ValidatorConfig struct {
	MinLength          int  `json:"min_length" yaml:"min_length" validate:"gte=0"`
	MaxLength          int  `json:"max_length" yaml:"max_length" validate:"gte=0"`
	MaxDepth           int  `json:"max_depth" yaml:"max_depth" validate:"gte=0"`
	RejectConstantArgs bool `json:"reject_constant_args" yaml:"reject_constant_args"`
}

// ParallelConfig contains row-parallel evaluation settings.
type ParallelConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxConcurrency caps the worker count. Zero means GOMAXPROCS.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" validate:"gte=0"`

	// MinRowsPerWorker keeps small batches on one goroutine.
	MinRowsPerWorker int `json:"min_rows_per_worker" yaml:"min_rows_per_worker" validate:"gte=1"`
}

// SamplerConfig contains reference generation settings.
type SamplerConfig struct {
	BatchSize       int    `json:"batch_size" yaml:"batch_size" validate:"gte=1,lte=100000"`
	MaxLength       int    `json:"max_length" yaml:"max_length" validate:"gte=1"`
	Seed            uint64 `json:"seed" yaml:"seed"`
	MaxSeedAttempts int    `json:"max_seed_attempts" yaml:"max_seed_attempts" validate:"gte=1"`
}

// StorageConfig contains population store settings.
type StorageConfig struct {
	Path     string `json:"path" yaml:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `json:"in_memory" yaml:"in_memory"`
}

// ServerConfig contains HTTP settings.
type ServerConfig struct {
	Port int `json:"port" yaml:"port" validate:"gte=1,lte=65535"`

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `json:"burst" yaml:"burst" validate:"gte=0"`

	// MaxBatch bounds the rows accepted per request.
	MaxBatch int `json:"max_batch" yaml:"max_batch" validate:"gte=1"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON   bool   `json:"json" yaml:"json"`
	LogDir string `json:"log_dir" yaml:"log_dir"`
}

// TelemetryConfig contains OpenTelemetry exporter settings.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name" validate:"required"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// DefaultParallelConfig returns sequential evaluation with sensible limits
// for when parallelism is switched on.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:          false,
		MaxConcurrency:   0,
		MinRowsPerWorker: 64,
	}
}

// DefaultConfig returns the default configuration.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func DefaultConfig() Config {
	return Config{
		Library: LibraryConfig{
			FunctionSet: []string{"add", "sub", "mul", "div", "sin", "cos", "exp", "log"},
			NInputVar:   1,
			Const:       true,
		},
		Constraints: []ConstraintConfig{
			{Type: "length", Min: 4, Max: 30},
			{Type: "inverse"},
		},
		Validator: ValidatorConfig{
			MinLength: 4,
			MaxLength: 30,
			MaxDepth:  17,
		},
		Parallel: DefaultParallelConfig(),
		Sampler: SamplerConfig{
			BatchSize:       256,
			MaxLength:       30,
			Seed:            0,
			MaxSeedAttempts: 1000,
		},
		Storage: StorageConfig{
			Path: "./data/population",
		},
		Server: ServerConfig{
			Port:      12220,
			RateLimit: 50,
			Burst:     100,
			MaxBatch:  4096,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "exprprior",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to a YAML or JSON config file. May be empty.
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation fails.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// ParseConfig decodes YAML (or JSON) over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := decodeConfig(data, &config); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() > MaxConfigFileSize {
		return fmt.Errorf("config file %s is %d bytes, limit %d", path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return decodeConfig(data, config)
}

// decodeConfig overlays data on config. Lists in data replace the defaults.
func decodeConfig(data []byte, config *Config) error {
	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	// Library
	if v := os.Getenv("EXPRPRIOR_FUNCTION_SET"); v != "" {
		config.Library.FunctionSet = splitList(v)
	}
	if v := os.Getenv("EXPRPRIOR_N_INPUT_VAR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Library.NInputVar = i
		}
	}
	if v := os.Getenv("EXPRPRIOR_CONST"); v != "" {
		config.Library.Const = v == "true" || v == "1"
	}

	// Validator
	if v := os.Getenv("EXPRPRIOR_MIN_LENGTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Validator.MinLength = i
		}
	}
	if v := os.Getenv("EXPRPRIOR_MAX_LENGTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Validator.MaxLength = i
		}
	}
	if v := os.Getenv("EXPRPRIOR_MAX_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Validator.MaxDepth = i
		}
	}

	// Parallel
	if v := os.Getenv("EXPRPRIOR_PARALLEL_ENABLED"); v != "" {
		config.Parallel.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("EXPRPRIOR_MAX_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Parallel.MaxConcurrency = i
		}
	}

	// Sampler
	if v := os.Getenv("EXPRPRIOR_BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Sampler.BatchSize = i
		}
	}
	if v := os.Getenv("EXPRPRIOR_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Sampler.Seed = u
		}
	}

	// Storage
	if v := os.Getenv("EXPRPRIOR_STORAGE_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("EXPRPRIOR_STORAGE_IN_MEMORY"); v != "" {
		config.Storage.InMemory = v == "true" || v == "1"
	}

	// Server
	if v := os.Getenv("EXPRPRIOR_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Server.Port = i
		}
	}
	if v := os.Getenv("EXPRPRIOR_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Server.RateLimit = f
		}
	}

	// Observability
	if v := os.Getenv("EXPRPRIOR_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("EXPRPRIOR_LOG_JSON"); v != "" {
		config.Logging.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("EXPRPRIOR_TRACE_EXPORTER"); v != "" {
		config.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("EXPRPRIOR_METRIC_EXPORTER"); v != "" {
		config.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("EXPRPRIOR_OTLP_ENDPOINT"); v != "" {
		config.Telemetry.OTLPEndpoint = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
//
// Description:
//
//	Runs struct-tag validation, then the cross-field checks the tags cannot
//	express. Token names inside constraints are resolved later, when the
//	library is built.
//
// Outputs:
//   - error: Wraps library.ErrConfiguration if the configuration is invalid.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", library.ErrConfiguration, err)
	}
	if len(c.Library.Tokens) == 0 {
		if c.Library.NInputVar < 1 {
			return fmt.Errorf("%w: library.n_input_var must be >= 1", library.ErrConfiguration)
		}
		for _, name := range c.Library.FunctionSet {
			if !library.KnownFunction(name) {
				return fmt.Errorf("%w: library.function_set: unknown function %q", library.ErrConfiguration, name)
			}
		}
	}
	if v := c.Validator; v.MaxLength > 0 && v.MinLength > v.MaxLength {
		return fmt.Errorf("%w: validator.min_length %d exceeds max_length %d",
			library.ErrConfiguration, v.MinLength, v.MaxLength)
	}
	for i, cc := range c.Constraints {
		if _, ok := constructors[strings.ToLower(strings.TrimSpace(cc.Type))]; !ok {
			return fmt.Errorf("constraints[%d]: %w %q (known: %s)", i, ErrUnknownConstraint, cc.Type,
				strings.Join(ConstraintTypes(), ", "))
		}
	}
	return nil
}

// BuildLibrary builds the configured library.
func (c LibraryConfig) BuildLibrary() (*library.Library, error) {
	if len(c.Tokens) > 0 {
		return library.Build(c.Tokens, c.InversePairs)
	}
	return library.Standard(c.FunctionSet, c.NInputVar, c.Const)
}

// ToValidateConfig converts ValidatorConfig to the validator's settings.
func (c ValidatorConfig) ToValidateConfig() validate.Config {
	return validate.Config{
		MinLength:          c.MinLength,
		MaxLength:          c.MaxLength,
		MaxDepth:           c.MaxDepth,
		RejectConstantArgs: c.RejectConstantArgs,
	}
}

// Build constructs the library and the joint prior described by c.
func (c Config) Build(opts ...Option) (*library.Library, *JointPrior, error) {
	lib, err := c.Library.BuildLibrary()
	if err != nil {
		return nil, nil, fmt.Errorf("build library: %w", err)
	}
	opts = append([]Option{WithParallel(c.Parallel)}, opts...)
	jp, err := MakeJointPrior(lib, c.Constraints, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build prior: %w", err)
	}
	return lib, jp, nil
}
