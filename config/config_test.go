package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/mlflowbox"
	"github.com/everydev1618/mlflowbox/container"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{KeyDataDir, KeyPort, KeyBackendStoreURI, KeyArtifactRoot, KeyTrackingURI, KeyImage} {
		t.Setenv(key, "")
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultEnvFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, `MLFLOW_DATA_DIR=~/mlflow_data
MLFLOW_PORT=5010
MLFLOW_BACKEND_STORE_URI=sqlite:////mlflow_data/mlflow.db
MLFLOW_DEFAULT_ARTIFACT_ROOT=/mlflow_data/artifacts
MLFLOW_TRACKING_URI=http://localhost:5010
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.EnvFile)
	assert.Equal(t, "~/mlflow_data", cfg.DataDir)
	assert.Equal(t, 5010, cfg.Port)
	assert.Equal(t, "sqlite:////mlflow_data/mlflow.db", cfg.BackendStoreURI)
	assert.Equal(t, "/mlflow_data/artifacts", cfg.ArtifactRoot)
	assert.Equal(t, "http://localhost:5010", cfg.TrackingURI)
	assert.Equal(t, container.DefaultImage, cfg.Image)
	assert.Equal(t, filepath.Join(filepath.Dir(path), container.EnvScriptName), cfg.EnvScriptPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "MLFLOW_DATA_DIR=/from/file\nMLFLOW_PORT=5010\n")
	t.Setenv(KeyPort, "6000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.DataDir)
	assert.Equal(t, 6000, cfg.Port)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyDataDir, "/srv/mlflow")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/mlflow", cfg.DataDir)
	assert.Equal(t, container.DefaultHostPort, cfg.Port)
}

func TestLoadInvalidPortFallsBack(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "MLFLOW_DATA_DIR=/srv/mlflow\nMLFLOW_PORT=fivethousand\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, container.DefaultHostPort, cfg.Port)
}

func TestValidateRequiresDataDir(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "MLFLOW_PORT=5000\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.Validate()
	var cfgErr *mlflowbox.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KeyDataDir, cfgErr.Key)
}

func TestContainerSpec(t *testing.T) {
	cfg := &Config{
		DataDir:         "/srv/mlflow",
		Port:            5005,
		BackendStoreURI: "sqlite:////mlflow_data/mlflow.db",
		Image:           container.DefaultImage,
		EnvScriptPath:   "/proj/mlflow_env.sh",
	}

	spec := cfg.ContainerSpec()
	assert.Equal(t, container.ContainerName, spec.Name)
	assert.Equal(t, 5005, spec.HostPort)
	assert.Equal(t, "/srv/mlflow", spec.DataDir)
	assert.Equal(t, "/proj/mlflow_env.sh", spec.EnvScriptPath)
	assert.Equal(t, "sqlite:////mlflow_data/mlflow.db", spec.Env[KeyBackendStoreURI])
	assert.Len(t, spec.Env, 3)
}

func TestTrackerConfig(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "http://env:5500")
	t.Setenv("MLFLOW_EXPERIMENT_NAME", "nightly")

	cfg := &Config{}
	tc := cfg.TrackerConfig()
	assert.Equal(t, "http://env:5500", tc.TrackingURI)
	assert.Equal(t, "nightly", tc.ExperimentName)

	cfg.TrackingURI = "http://localhost:5010"
	assert.Equal(t, "http://localhost:5010", cfg.TrackerConfig().TrackingURI)
}

func TestTrackerConfigPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "MLFLOW_DATA_DIR=/srv/mlflow\nMLFLOW_TRACKING_URI=http://file:5010\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:5010", cfg.TrackerConfig().TrackingURI)

	t.Setenv(KeyTrackingURI, "http://env:5500")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:5500", cfg.TrackerConfig().TrackingURI)
}
