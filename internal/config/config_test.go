package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// clearEnv removes every variable the loader reads, so tests are hermetic
// regardless of the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROJECT_ID", "VERTEX_AI_REGION", "CAPABILITY_TIMEOUT_SECONDS",
		"EXTRACTION_MODEL", "TRANSLATION_MODEL", "OPTIMIZATION_MODEL",
		"TARGET_LANGUAGE", "MIRROR_BUCKET", "RUN_COLLECTION",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "test-project")

	cfg, err := Load("", Overrides{})
	require.NoError(t, err)

	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultAbortThreshold, cfg.AbortThreshold)
	assert.Equal(t, DefaultDPI, cfg.DPI)
	assert.Equal(t, DefaultTargetLanguage, cfg.TargetLanguage)
	assert.True(t, cfg.SaveIntermediate)

	ext := cfg.Stage(models.StageExtraction)
	assert.Equal(t, "test-project", ext.Project)
	assert.Equal(t, DefaultRegion, ext.Region)
	assert.Equal(t, DefaultExtractionModel, ext.Model)
	assert.Equal(t, DefaultTimeout, ext.Timeout)

	assert.Equal(t, DefaultTranslationModel, cfg.Stage(models.StageTranslation).Model)
	assert.Equal(t, DefaultOptimizerModel, cfg.Stage(models.StageOptimization).Model)
	// The quality pass holds the whole document, so it gets a longer leash.
	assert.Equal(t, 4*DefaultTimeout, cfg.Stage(models.StageOptimization).Timeout)
}

func TestLoadMissingProjectFails(t *testing.T) {
	clearEnv(t)

	_, err := Load("", Overrides{})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "project", cfgErr.Field)
}

func TestLoadEnvOverThanFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"project": "file-project",
		"region": "europe-west1",
		"translationModel": "file-translator",
		"timeoutSeconds": 30,
		"concurrency": 8,
		"targetLanguage": "German"
	}`), 0o644))

	t.Setenv("PROJECT_ID", "env-project")
	t.Setenv("TRANSLATION_MODEL", "env-translator")

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)

	tr := cfg.Stage(models.StageTranslation)
	assert.Equal(t, "env-project", tr.Project)
	assert.Equal(t, "env-translator", tr.Model)
	// File settings survive where the environment is silent.
	assert.Equal(t, "europe-west1", tr.Region)
	assert.Equal(t, 30*time.Second, tr.Timeout)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "German", cfg.TargetLanguage)
}

func TestLoadOverridesWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "env-project")
	t.Setenv("TARGET_LANGUAGE", "French")

	cfg, err := Load("", Overrides{
		Project:        "flag-project",
		TargetLanguage: "Japanese",
		Concurrency:    2,
		MaxAttempts:    5,
		AbortThreshold: 0.5,
		NoIntermediate: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "flag-project", cfg.Stage(models.StageExtraction).Project)
	assert.Equal(t, "Japanese", cfg.TargetLanguage)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 0.5, cfg.AbortThreshold)
	assert.False(t, cfg.SaveIntermediate)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "test-project")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "test-project", cfg.Stage(models.StageExtraction).Project)
}

func TestLoadMalformedFileFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "test-project")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, Overrides{})
	assert.Error(t, err)
}

func TestValidateAbortThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "test-project")

	_, err := Load("", Overrides{AbortThreshold: 1.5})
	assert.Error(t, err)
}
