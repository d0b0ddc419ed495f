// Package config resolves per-stage capability configuration and pipeline
// settings. Precedence, highest first: explicit call-site override, process
// environment, config file, stage default. A stage left without a resolvable
// credential fails validation before any page is processed.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

const (
	DefaultRegion           = "us-central1"
	DefaultExtractionModel  = "gemini-1.5-flash"
	DefaultTranslationModel = "gemini-1.5-pro"
	DefaultOptimizerModel   = "gemini-1.5-pro"
	DefaultTimeout          = 120 * time.Second
	DefaultConcurrency      = 4
	DefaultMaxAttempts      = 3
	DefaultAbortThreshold   = 0.3
	DefaultDPI              = 200
	// DefaultTruncationFloor is the minimum rune count a translated page must
	// reach before it is suspected of gross truncation.
	DefaultTruncationFloor = 16
	// DefaultContextLimit bounds the trailing-context summary carried
	// between pages.
	DefaultContextLimit   = 500
	DefaultTargetLanguage = "English"
)

// ConfigError reports a stage whose configuration is unusable after all
// sources have been resolved.
type ConfigError struct {
	Stage models.Stage
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: stage %q is missing required setting %q", e.Stage, e.Field)
}

// StageConfig describes the capability endpoint one pipeline stage talks to.
type StageConfig struct {
	Project         string
	Region          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int32
}

// Config holds resolved configuration for a whole run.
type Config struct {
	Stages map[models.Stage]*StageConfig

	Concurrency      int
	MaxAttempts      int
	AbortThreshold   float64
	DPI              int
	TruncationFloor  int
	ContextLimit     int
	TargetLanguage   string
	SaveIntermediate bool

	// MirrorBucket, when set, mirrors the output workspace to GCS.
	MirrorBucket string
	// RunCollection, when set, records run status in Firestore.
	RunCollection string
}

// Overrides carries explicit call-site settings (CLI flags). Zero values
// mean "not set".
type Overrides struct {
	Project           string
	Region            string
	ExtractionModel   string
	TranslationModel  string
	OptimizationModel string
	Timeout           time.Duration
	Concurrency       int
	MaxAttempts       int
	AbortThreshold    float64
	DPI               int
	TruncationFloor   int
	TargetLanguage    string
	NoIntermediate    bool
	MirrorBucket      string
	RunCollection     string
}

// fileConfig is the persisted config file shape.
type fileConfig struct {
	Project           string  `json:"project"`
	Region            string  `json:"region"`
	ExtractionModel   string  `json:"extractionModel"`
	TranslationModel  string  `json:"translationModel"`
	OptimizationModel string  `json:"optimizationModel"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
	Concurrency       int     `json:"concurrency"`
	MaxAttempts       int     `json:"maxAttempts"`
	AbortThreshold    float64 `json:"abortThreshold"`
	DPI               int     `json:"dpi"`
	TruncationFloor   int     `json:"truncationFloor"`
	TargetLanguage    string  `json:"targetLanguage"`
	MirrorBucket      string  `json:"mirrorBucket"`
	RunCollection     string  `json:"runCollection"`
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load resolves configuration from defaults, an optional config file at
// path, the environment, and explicit overrides, then validates the result.
func Load(path string, ov Overrides) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	applyOverrides(cfg, ov)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		Stages:           make(map[models.Stage]*StageConfig, len(models.Stages)),
		Concurrency:      DefaultConcurrency,
		MaxAttempts:      DefaultMaxAttempts,
		AbortThreshold:   DefaultAbortThreshold,
		DPI:              DefaultDPI,
		TruncationFloor:  DefaultTruncationFloor,
		ContextLimit:     DefaultContextLimit,
		TargetLanguage:   DefaultTargetLanguage,
		SaveIntermediate: true,
	}
	cfg.Stages[models.StageExtraction] = &StageConfig{
		Region: DefaultRegion, Model: DefaultExtractionModel, Timeout: DefaultTimeout, MaxOutputTokens: 4096,
	}
	cfg.Stages[models.StageTranslation] = &StageConfig{
		Region: DefaultRegion, Model: DefaultTranslationModel, Timeout: DefaultTimeout, MaxOutputTokens: 10000,
	}
	cfg.Stages[models.StageOptimization] = &StageConfig{
		Region: DefaultRegion, Model: DefaultOptimizerModel, Timeout: 4 * DefaultTimeout, MaxOutputTokens: 32000,
	}
	return cfg
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setAllStages(cfg, func(sc *StageConfig) {
		if fc.Project != "" {
			sc.Project = fc.Project
		}
		if fc.Region != "" {
			sc.Region = fc.Region
		}
		if fc.TimeoutSeconds > 0 {
			sc.Timeout = time.Duration(fc.TimeoutSeconds) * time.Second
		}
	})
	setStageModel(cfg, models.StageExtraction, fc.ExtractionModel)
	setStageModel(cfg, models.StageTranslation, fc.TranslationModel)
	setStageModel(cfg, models.StageOptimization, fc.OptimizationModel)

	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.MaxAttempts
	}
	if fc.AbortThreshold > 0 {
		cfg.AbortThreshold = fc.AbortThreshold
	}
	if fc.DPI > 0 {
		cfg.DPI = fc.DPI
	}
	if fc.TruncationFloor > 0 {
		cfg.TruncationFloor = fc.TruncationFloor
	}
	if fc.TargetLanguage != "" {
		cfg.TargetLanguage = fc.TargetLanguage
	}
	if fc.MirrorBucket != "" {
		cfg.MirrorBucket = fc.MirrorBucket
	}
	if fc.RunCollection != "" {
		cfg.RunCollection = fc.RunCollection
	}
	return nil
}

func applyEnv(cfg *Config) {
	setAllStages(cfg, func(sc *StageConfig) {
		if v := GetEnv("PROJECT_ID", ""); v != "" {
			sc.Project = v
		}
		if v := GetEnv("VERTEX_AI_REGION", ""); v != "" {
			sc.Region = v
		}
		if v := GetEnv("CAPABILITY_TIMEOUT_SECONDS", ""); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				sc.Timeout = time.Duration(secs) * time.Second
			}
		}
	})
	setStageModel(cfg, models.StageExtraction, GetEnv("EXTRACTION_MODEL", ""))
	setStageModel(cfg, models.StageTranslation, GetEnv("TRANSLATION_MODEL", ""))
	setStageModel(cfg, models.StageOptimization, GetEnv("OPTIMIZATION_MODEL", ""))

	if v := GetEnv("TARGET_LANGUAGE", ""); v != "" {
		cfg.TargetLanguage = v
	}
	if v := GetEnv("MIRROR_BUCKET", ""); v != "" {
		cfg.MirrorBucket = v
	}
	if v := GetEnv("RUN_COLLECTION", ""); v != "" {
		cfg.RunCollection = v
	}
}

func applyOverrides(cfg *Config, ov Overrides) {
	setAllStages(cfg, func(sc *StageConfig) {
		if ov.Project != "" {
			sc.Project = ov.Project
		}
		if ov.Region != "" {
			sc.Region = ov.Region
		}
		if ov.Timeout > 0 {
			sc.Timeout = ov.Timeout
		}
	})
	setStageModel(cfg, models.StageExtraction, ov.ExtractionModel)
	setStageModel(cfg, models.StageTranslation, ov.TranslationModel)
	setStageModel(cfg, models.StageOptimization, ov.OptimizationModel)

	if ov.Concurrency > 0 {
		cfg.Concurrency = ov.Concurrency
	}
	if ov.MaxAttempts > 0 {
		cfg.MaxAttempts = ov.MaxAttempts
	}
	if ov.AbortThreshold > 0 {
		cfg.AbortThreshold = ov.AbortThreshold
	}
	if ov.DPI > 0 {
		cfg.DPI = ov.DPI
	}
	if ov.TruncationFloor > 0 {
		cfg.TruncationFloor = ov.TruncationFloor
	}
	if ov.TargetLanguage != "" {
		cfg.TargetLanguage = ov.TargetLanguage
	}
	if ov.NoIntermediate {
		cfg.SaveIntermediate = false
	}
	if ov.MirrorBucket != "" {
		cfg.MirrorBucket = ov.MirrorBucket
	}
	if ov.RunCollection != "" {
		cfg.RunCollection = ov.RunCollection
	}
}

func setAllStages(cfg *Config, set func(*StageConfig)) {
	for _, stage := range models.Stages {
		set(cfg.Stages[stage])
	}
}

func setStageModel(cfg *Config, stage models.Stage, model string) {
	if model != "" {
		cfg.Stages[stage].Model = model
	}
}

// Stage returns the resolved configuration for one stage.
func (c *Config) Stage(stage models.Stage) *StageConfig {
	return c.Stages[stage]
}

// Validate checks that every stage ended up with a usable endpoint. It is
// called before any page is processed so partial configuration never
// surfaces as a mid-run failure.
func (c *Config) Validate() error {
	for _, stage := range models.Stages {
		sc, ok := c.Stages[stage]
		if !ok || sc == nil {
			return &ConfigError{Stage: stage, Field: "stage"}
		}
		if sc.Project == "" {
			return &ConfigError{Stage: stage, Field: "project"}
		}
		if sc.Region == "" {
			return &ConfigError{Stage: stage, Field: "region"}
		}
		if sc.Model == "" {
			return &ConfigError{Stage: stage, Field: "model"}
		}
	}
	if c.AbortThreshold <= 0 || c.AbortThreshold > 1 {
		return fmt.Errorf("config: abort threshold must be in (0, 1], got %v", c.AbortThreshold)
	}
	return nil
}
