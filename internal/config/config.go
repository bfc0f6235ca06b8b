// Package config provides configuration management for the Framecut agent.
// Configuration is loaded from an optional YAML file and then from environment
// variables, with sensible defaults for everything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort            = 8790
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".framecut"
	DefaultEngineBinary    = "ffmpeg"
	DefaultProbeBinary     = "ffprobe"
	DefaultExportRateLimit = 10 // export requests per minute per client

	// Environment variable names
	EnvConfigFile      = "FRAMECUT_CONFIG"
	EnvPort            = "FRAMECUT_PORT"
	EnvLogLevel        = "FRAMECUT_LOG_LEVEL"
	EnvDataDir         = "FRAMECUT_DATA_DIR"
	EnvHeadless        = "FRAMECUT_HEADLESS"
	EnvImportDir       = "FRAMECUT_IMPORT_DIR"
	EnvExportRateLimit = "FRAMECUT_EXPORT_RATE_LIMIT"

	// Engine environment variable names
	EnvEngineBinary  = "FRAMECUT_ENGINE_BINARY"
	EnvEngineURL     = "FRAMECUT_ENGINE_URL"
	EnvEngineTimeout = "FRAMECUT_ENGINE_TIMEOUT"
	EnvProbeBinary   = "FRAMECUT_PROBE_BINARY"

	// Publishing environment variable names
	EnvS3Bucket    = "FRAMECUT_S3_BUCKET"
	EnvS3Region    = "FRAMECUT_S3_REGION"
	EnvS3AccessKey = "FRAMECUT_S3_ACCESS_KEY"
	EnvS3SecretKey = "FRAMECUT_S3_SECRET_KEY"
	EnvS3Prefix    = "FRAMECUT_S3_PREFIX"
	EnvS3Endpoint  = "FRAMECUT_S3_ENDPOINT"

	// Database filename
	DBFilename = "framecut.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	WorkDir() string
	Headless() bool
	ImportDir() string
	ExportRateLimit() int
	EngineBinary() string
	EngineURL() string
	EngineTimeout() time.Duration
	ProbeBinary() string
	S3() S3Settings
	PublishEnabled() bool
}

// S3Settings groups the artifact publishing options.
type S3Settings struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
}

// fileConfig mirrors the YAML file layout. Zero values mean "not set".
type fileConfig struct {
	Port            int        `yaml:"port"`
	LogLevel        string     `yaml:"log_level"`
	DataDir         string     `yaml:"data_dir"`
	Headless        *bool      `yaml:"headless"`
	ImportDir       string     `yaml:"import_dir"`
	ExportRateLimit *int       `yaml:"export_rate_limit"`
	Engine          engineFile `yaml:"engine"`
	S3              S3Settings `yaml:"s3"`
}

type engineFile struct {
	Binary  string `yaml:"binary"`
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
	Probe   string `yaml:"probe"`
}

// EnvConfig reads configuration from a YAML file and environment variables
type EnvConfig struct {
	port            int
	logLevel        string
	dataDir         string
	headless        bool
	importDir       string
	exportRateLimit int

	engineBinary  string
	engineURL     string
	engineTimeout time.Duration
	probeBinary   string

	s3 S3Settings
}

// New creates a new EnvConfig with defaults, then applies the file named by
// FRAMECUT_CONFIG (if any) and finally environment variable overrides.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		exportRateLimit: DefaultExportRateLimit,
		engineBinary:    DefaultEngineBinary,
		probeBinary:     DefaultProbeBinary,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		if err := validatePort(fc.Port); err != nil {
			return fmt.Errorf("invalid port in %s: %w", path, err)
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.ImportDir != "" {
		c.importDir = fc.ImportDir
	}
	if fc.ExportRateLimit != nil {
		if *fc.ExportRateLimit < 0 {
			return fmt.Errorf("invalid export_rate_limit in %s: must not be negative", path)
		}
		c.exportRateLimit = *fc.ExportRateLimit
	}
	if fc.Engine.Binary != "" {
		c.engineBinary = fc.Engine.Binary
	}
	if fc.Engine.URL != "" {
		c.engineURL = fc.Engine.URL
	}
	if fc.Engine.Probe != "" {
		c.probeBinary = fc.Engine.Probe
	}
	if fc.Engine.Timeout != "" {
		d, err := time.ParseDuration(fc.Engine.Timeout)
		if err != nil {
			return fmt.Errorf("invalid engine.timeout in %s: %w", path, err)
		}
		c.engineTimeout = d
	}
	c.s3 = fc.S3
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validatePort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = headless
	}

	if dir := os.Getenv(EnvImportDir); dir != "" {
		c.importDir = dir
	}

	if rl := os.Getenv(EnvExportRateLimit); rl != "" {
		limit, err := strconv.Atoi(rl)
		if err != nil || limit < 0 {
			return fmt.Errorf("invalid %s: must be a non-negative integer", EnvExportRateLimit)
		}
		c.exportRateLimit = limit
	}

	if b := os.Getenv(EnvEngineBinary); b != "" {
		c.engineBinary = b
	}
	if u := os.Getenv(EnvEngineURL); u != "" {
		c.engineURL = u
	}
	if p := os.Getenv(EnvProbeBinary); p != "" {
		c.probeBinary = p
	}
	if t := os.Getenv(EnvEngineTimeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvEngineTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", EnvEngineTimeout)
		}
		c.engineTimeout = d
	}

	overrideString(&c.s3.Bucket, EnvS3Bucket)
	overrideString(&c.s3.Region, EnvS3Region)
	overrideString(&c.s3.AccessKey, EnvS3AccessKey)
	overrideString(&c.s3.SecretKey, EnvS3SecretKey)
	overrideString(&c.s3.Prefix, EnvS3Prefix)
	overrideString(&c.s3.Endpoint, EnvS3Endpoint)
	return nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir holds downloaded engine assets.
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// WorkDir is the parent of the engine's working storage.
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// ImportDir returns the folder watched for new media; empty disables watching.
func (c *EnvConfig) ImportDir() string {
	return c.importDir
}

// ExportRateLimit is the number of export requests allowed per minute; 0 disables the limit.
func (c *EnvConfig) ExportRateLimit() int {
	return c.exportRateLimit
}

func (c *EnvConfig) EngineBinary() string {
	return c.engineBinary
}

// EngineURL returns the remote location of the engine executable, if any.
// When set it takes precedence over EngineBinary.
func (c *EnvConfig) EngineURL() string {
	return c.engineURL
}

// EngineTimeout bounds a single engine invocation. Zero means no limit.
func (c *EnvConfig) EngineTimeout() time.Duration {
	return c.engineTimeout
}

func (c *EnvConfig) ProbeBinary() string {
	return c.probeBinary
}

func (c *EnvConfig) S3() S3Settings {
	return c.s3
}

// PublishEnabled reports whether enough S3 settings are present to publish artifacts.
func (c *EnvConfig) PublishEnabled() bool {
	return c.s3.Bucket != "" && c.s3.Region != ""
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
