package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "BOOTLICENSE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	API       APIConfig       `yaml:"api" envconfig:"API"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains the loopback HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`

	// Activation and import attempts allowed per second on the loopback API
	ActivationRPS   float64 `yaml:"activation_rps" split_words:"true"`
	ActivationBurst int     `yaml:"activation_burst" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true"`
	Output   string `yaml:"output" split_words:"true"` // stdout, file, both
	FilePath string `yaml:"file_path" split_words:"true"`
}

// LicenseConfig contains the values consumed by the license engine
type LicenseConfig struct {
	StorePath            string        `yaml:"store_path" split_words:"true"`
	OfflineGrace         time.Duration `yaml:"offline_grace" split_words:"true"`
	RevalidationInterval time.Duration `yaml:"revalidation_interval" split_words:"true"`
	AppSecret            string        `yaml:"app_secret" split_words:"true"`
	AppName              string        `yaml:"app_name" split_words:"true"`
	AppVersion           string        `yaml:"app_version" split_words:"true"`

	// Key material for distributed license codes
	CodePassword string `yaml:"code_password" split_words:"true"`
	CodeSalt     string `yaml:"code_salt" split_words:"true"`
}

// APIConfig contains the license authority client configuration
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
	MaxAttempts int           `yaml:"max_attempts" split_words:"true"`
	BaseDelay   time.Duration `yaml:"base_delay" split_words:"true"`
	Multiplier  float64       `yaml:"multiplier" split_words:"true"`
	MaxDelay    time.Duration `yaml:"max_delay" split_words:"true"`
	Jitter      float64       `yaml:"jitter" split_words:"true"`
	BearerToken string        `yaml:"bearer_token" split_words:"true"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true"`
	Environment    string  `yaml:"environment" split_words:"true"`
}

// Load loads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit YAML path. An empty or missing path
// skips the file layer.
func LoadFile(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" && FileExists(configFile) {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable keep their file or default value
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values on top of cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths anchors relative store and log paths at the executable directory
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	c.License.StorePath = paths.Resolve(c.License.StorePath)
	c.Logging.FilePath = paths.Resolve(c.Logging.FilePath)
	return nil
}

// validate rejects malformed configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ActivationRPS <= 0 || c.Server.ActivationBurst <= 0 {
		return fmt.Errorf("activation rate limit must be positive")
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid api base url: %q", c.API.BaseURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported api base url scheme: %q", u.Scheme)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if c.API.MaxAttempts < 1 {
		return fmt.Errorf("api max attempts must be at least 1, got %d", c.API.MaxAttempts)
	}
	if c.API.BaseDelay < 0 || c.API.MaxDelay < c.API.BaseDelay {
		return fmt.Errorf("api backoff delays are inconsistent: base=%s max=%s", c.API.BaseDelay, c.API.MaxDelay)
	}
	if c.API.Multiplier < 1 {
		return fmt.Errorf("api backoff multiplier must be >= 1, got %v", c.API.Multiplier)
	}
	if c.API.Jitter < 0 || c.API.Jitter > 1 {
		return fmt.Errorf("api backoff jitter must be within [0,1], got %v", c.API.Jitter)
	}

	if c.License.StorePath == "" {
		return fmt.Errorf("license store path is required")
	}
	if c.License.OfflineGrace <= 0 {
		return fmt.Errorf("offline grace window must be positive")
	}
	if c.License.RevalidationInterval <= 0 {
		return fmt.Errorf("revalidation interval must be positive")
	}
	if c.License.RevalidationInterval >= c.License.OfflineGrace {
		return fmt.Errorf("revalidation interval %s must be shorter than the offline grace window %s",
			c.License.RevalidationInterval, c.License.OfflineGrace)
	}
	if len(c.License.AppSecret) < 16 {
		return fmt.Errorf("license app secret must be at least 16 bytes")
	}
	if c.License.AppName == "" || c.License.AppVersion == "" {
		return fmt.Errorf("app name and version are required")
	}
	if c.License.CodePassword == "" || c.License.CodeSalt == "" {
		return fmt.Errorf("license code password and salt are required")
	}

	// Fix invalid output to default
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "file", "both":
		c.Logging.Output = strings.ToLower(c.Logging.Output)
	default:
		c.Logging.Output = "both"
	}

	switch c.Telemetry.TraceExporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("unsupported trace exporter: %q", c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "none":
	default:
		return fmt.Errorf("unsupported metric exporter: %q", c.Telemetry.MetricExporter)
	}

	return nil
}

// Addr returns the listen address of the loopback server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UserAgent returns the User-Agent sent to the license authority
func (l LicenseConfig) UserAgent() string {
	return l.AppName + "/" + l.AppVersion
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if FileExists(location) {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            DefaultServerPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ActivationRPS:   0.5,
			ActivationBurst: 5,
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Output:   "both",
			FilePath: DefaultLogFile,
		},
		License: LicenseConfig{
			StorePath:            DefaultStoreFile,
			OfflineGrace:         DefaultOfflineGrace,
			RevalidationInterval: DefaultRevalidationInterval,
			AppSecret:            defaultAppSecret,
			AppName:              AppName,
			AppVersion:           AppVersion,
			CodePassword:         defaultCodePassword,
			CodeSalt:             defaultCodeSalt,
		},
		API: APIConfig{
			BaseURL:     DefaultLicenseServerURL,
			Timeout:     DefaultAPITimeout,
			MaxAttempts: DefaultAPIAttempts,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
			Jitter:      0.2,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
			Environment:    "production",
		},
	}
}
