// Package config loads the mlflow.env file that drives the tracking server
// container.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/everydev1618/mlflowbox"
	"github.com/everydev1618/mlflowbox/container"
)

// DefaultEnvFile is the env file read when none is given.
const DefaultEnvFile = "mlflow.env"

// Environment keys.
const (
	KeyDataDir         = "MLFLOW_DATA_DIR"
	KeyPort            = "MLFLOW_PORT"
	KeyBackendStoreURI = "MLFLOW_BACKEND_STORE_URI"
	KeyArtifactRoot    = "MLFLOW_DEFAULT_ARTIFACT_ROOT"
	KeyTrackingURI     = "MLFLOW_TRACKING_URI"
	KeyImage           = "MLFLOW_IMAGE"
)

// Config is the resolved server configuration.
type Config struct {
	EnvFile         string `yaml:"env_file"`
	DataDir         string `yaml:"data_dir"`
	Port            int    `yaml:"port"`
	BackendStoreURI string `yaml:"backend_store_uri"`
	ArtifactRoot    string `yaml:"artifact_root"`
	TrackingURI     string `yaml:"tracking_uri"`
	Image           string `yaml:"image"`
	EnvScriptPath   string `yaml:"env_script_path"`
}

// Load reads the env file at path and overlays the process environment.
// A missing file is not an error; values then come from the environment
// alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultEnvFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetDefault(strings.ToLower(KeyPort), strconv.Itoa(container.DefaultHostPort))
	v.SetDefault(strings.ToLower(KeyImage), container.DefaultImage)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", abs, err)
		}
		slog.Debug("env file not found, using environment only", "path", abs)
	}

	cfg := &Config{
		EnvFile:         abs,
		DataDir:         get(v, KeyDataDir),
		Port:            parsePort(get(v, KeyPort)),
		BackendStoreURI: get(v, KeyBackendStoreURI),
		ArtifactRoot:    get(v, KeyArtifactRoot),
		TrackingURI:     get(v, KeyTrackingURI),
		Image:           get(v, KeyImage),
		EnvScriptPath:   filepath.Join(filepath.Dir(abs), container.EnvScriptName),
	}
	return cfg, nil
}

func get(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(strings.ToLower(key)))
}

// parsePort falls back to the default port for anything that is not a
// number.
func parsePort(s string) int {
	port, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("invalid port, using default", "value", s, "default", container.DefaultHostPort)
		return container.DefaultHostPort
	}
	return port
}

// Validate checks the keys required to start the server.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &mlflowbox.ConfigurationError{Check: "required", Key: KeyDataDir}
	}
	return nil
}

// ContainerEnv is the environment passed to the server container.
func (c *Config) ContainerEnv() map[string]string {
	return map[string]string{
		KeyBackendStoreURI: c.BackendStoreURI,
		KeyArtifactRoot:    c.ArtifactRoot,
		KeyTrackingURI:     c.TrackingURI,
	}
}

// ContainerSpec builds the container spec for EnsureRunning.
func (c *Config) ContainerSpec() container.Spec {
	return container.Spec{
		Name:          container.ContainerName,
		Image:         c.Image,
		HostPort:      c.Port,
		DataDir:       c.DataDir,
		Env:           c.ContainerEnv(),
		EnvScriptPath: c.EnvScriptPath,
	}
}

// TrackerConfig returns the tracker settings. A resolved MLFLOW_TRACKING_URI
// (process environment first, then the env file) replaces the one read by
// TrackerConfigFromEnv, so a URI set only in the env file still applies.
func (c *Config) TrackerConfig() mlflowbox.TrackerConfig {
	tc := mlflowbox.TrackerConfigFromEnv()
	if c.TrackingURI != "" {
		tc.TrackingURI = c.TrackingURI
	}
	return tc
}
