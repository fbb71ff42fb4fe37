// Package config provides configuration management for BioAccess.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all BioAccess configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Auth        AuthConfig        `yaml:"auth"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Mirror bool   `yaml:"mirror"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	// Tolerance is the maximum descriptor distance for two faces to be
	// considered the same person. Applied identically at enrollment
	// duplicate checks and at login matches.
	Tolerance       float64 `yaml:"tolerance"`
	DownscaleFactor int     `yaml:"downscale_factor"`
	ModelPath       string  `yaml:"model_path"`
}

// AuthConfig holds authentication session settings.
type AuthConfig struct {
	// PendingTimeoutSeconds expires sessions stuck waiting for biometric
	// confirmation. Zero disables expiry.
	PendingTimeoutSeconds int `yaml:"pending_timeout_seconds"`
	// MaxProbeFailures caps failed biometric attempts per session.
	// Zero means unlimited.
	MaxProbeFailures int `yaml:"max_probe_failures"`
}

// StorageConfig holds identity store settings.
type StorageConfig struct {
	DBFile            string `yaml:"db_file"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/bioaccess")
	return &Config{
		Camera: CameraConfig{
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
			Mirror: true,
		},
		Recognition: RecognitionConfig{
			Tolerance:       0.5,
			DownscaleFactor: 4,
			ModelPath:       filepath.Join(dataDir, "models"),
		},
		Auth: AuthConfig{
			PendingTimeoutSeconds: 60,
			MaxProbeFailures:      0,
		},
		Storage: StorageConfig{
			DBFile:            filepath.Join(dataDir, "identities.json"),
			EncryptionEnabled: false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "bioaccess.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/bioaccess/bioaccess.yaml"); err == nil {
		return Load("/etc/bioaccess/bioaccess.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/bioaccess/bioaccess.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be between 0 and 1, got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.DownscaleFactor < 1 {
		return fmt.Errorf("downscale_factor must be at least 1, got %d", c.Recognition.DownscaleFactor)
	}

	if c.Auth.PendingTimeoutSeconds < 0 {
		return fmt.Errorf("pending_timeout_seconds must not be negative, got %d", c.Auth.PendingTimeoutSeconds)
	}
	if c.Auth.MaxProbeFailures < 0 {
		return fmt.Errorf("max_probe_failures must not be negative, got %d", c.Auth.MaxProbeFailures)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DBFile = ExpandPath(c.Storage.DBFile)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(filepath.Dir(c.Storage.DBFile), 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	logDir := filepath.Dir(c.Logging.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}
