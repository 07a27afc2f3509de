package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"glaiprocessor/pkg/scene"
)

// DateLayout is the layout of every date handled by the processor
const DateLayout = "2006-01-02"

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "GLAI_"

// Config holds all configuration options for the trait processor
type Config struct {
	// Monitored directory and time window
	Monitor MonitorConfig `yaml:"monitor" toml:"monitor" json:"monitor"`

	// Inversion settings
	Inversion InversionConfig `yaml:"inversion" toml:"inversion" json:"inversion"`

	// Lookup table generation
	LUT LUTConfig `yaml:"lut" toml:"lut" json:"lut"`

	// Scene catalog access
	Catalog CatalogConfig `yaml:"catalog" toml:"catalog" json:"catalog"`

	// Radiative transfer forward model service
	Forward ForwardConfig `yaml:"forward" toml:"forward" json:"forward"`

	// Retry policy for remote calls
	Retry RetryConfig `yaml:"retry" toml:"retry" json:"retry"`

	// Optional outputs
	Output OutputConfig `yaml:"output" toml:"output" json:"output"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" toml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
}

// MonitorConfig describes the monitored directory and the requested window
type MonitorConfig struct {
	OutputDir         string `yaml:"output_dir" toml:"output_dir" json:"output_dir"`
	Feature           string `yaml:"feature" toml:"feature" json:"feature"`
	TimeStart         string `yaml:"time_start" toml:"time_start" json:"time_start"`
	TimeEnd           string `yaml:"time_end" toml:"time_end" json:"time_end"`
	TemporalIncrement int    `yaml:"temporal_increment" toml:"temporal_increment" json:"temporal_increment"`
	Platform          string `yaml:"platform" toml:"platform" json:"platform"`
}

// InversionConfig holds the nearest-spectrum search settings
type InversionConfig struct {
	Traits       []string `yaml:"traits" toml:"traits" json:"traits"`
	NSolutions   int      `yaml:"n_solutions" toml:"n_solutions" json:"n_solutions"`
	CostFunction string   `yaml:"cost_function" toml:"cost_function" json:"cost_function"`
	Measure      string   `yaml:"measure" toml:"measure" json:"measure"`
	// Band overrides; empty means the platform preset
	LUTBands []string `yaml:"lut_bands" toml:"lut_bands" json:"lut_bands"`
	SRFBands []string `yaml:"srf_bands" toml:"srf_bands" json:"srf_bands"`
}

// LUTConfig holds lookup table generation settings
type LUTConfig struct {
	RTMParams      string `yaml:"rtm_params" toml:"rtm_params" json:"rtm_params"`
	Size           int    `yaml:"size" toml:"size" json:"size"`
	SamplingMethod string `yaml:"sampling_method" toml:"sampling_method" json:"sampling_method"`
	// Revalidate rebuilds cached tables whose build fingerprint no longer
	// matches the current settings. Off by default: an existing table is
	// reused as-is.
	Revalidate bool `yaml:"revalidate" toml:"revalidate" json:"revalidate"`
}

// CatalogConfig holds STAC catalog access settings
type CatalogConfig struct {
	URL               string   `yaml:"url" toml:"url" json:"url"`
	Collection        string   `yaml:"collection" toml:"collection" json:"collection"`
	AssetKey          string   `yaml:"asset_key" toml:"asset_key" json:"asset_key"`
	APIKeyHeader      string   `yaml:"api_key_header" toml:"api_key_header" json:"api_key_header"`
	MaxCloudCover     float64  `yaml:"max_cloud_cover" toml:"max_cloud_cover" json:"max_cloud_cover"`
	RequestsPerMinute int      `yaml:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int      `yaml:"burst_size" toml:"burst_size" json:"burst_size"`
	PageSize          int      `yaml:"page_size" toml:"page_size" json:"page_size"`
	Timeout           Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// ForwardConfig holds the RTM service settings
type ForwardConfig struct {
	URL       string   `yaml:"url" toml:"url" json:"url"`
	BatchSize int      `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	Timeout   Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
}

// RetryConfig holds retry settings for remote calls
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay" toml:"initial_delay" json:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
	Multiplier   float64  `yaml:"multiplier" toml:"multiplier" json:"multiplier"`
}

// OutputConfig holds optional output settings
type OutputConfig struct {
	Quicklook bool `yaml:"quicklook" toml:"quicklook" json:"quicklook"`
	Ledger    bool `yaml:"ledger" toml:"ledger" json:"ledger"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" toml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" toml:"on_error" json:"on_error"`
	NotificationType string `yaml:"notification_type" toml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	File   string `yaml:"file" toml:"file" json:"file"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// Duration is a time.Duration that reads and writes as "30s" in YAML and TOML
type Duration time.Duration

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// ValidTraits lists the trait identifiers the forward model can sample and
// the inversion can retrieve
var ValidTraits = []string{
	"n", "lai", "cab", "car", "cbrown", "cw", "cm", "ant",
	"lidfa", "lidfb", "hspot", "rsoil", "psoil", "tts", "tto", "psi",
}

// ValidSamplingMethods lists the supported LUT sampling methods
var ValidSamplingMethods = []string{"frs", "lhs"}

var (
	validCostFunctions = map[string]bool{"rmse": true, "mae": true, "mse": true}
	validMeasures      = map[string]bool{"median": true, "mean": true, "weighted_mean": true}
	validLogFormats    = map[string]bool{"auto": true, "console": true, "json": true}
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			TemporalIncrement: 7,
			Platform:          "Sentinel2",
		},
		Inversion: InversionConfig{
			Traits:       []string{"lai", "cab"},
			NSolutions:   1000,
			CostFunction: "rmse",
			Measure:      "median",
		},
		LUT: LUTConfig{
			Size:           20000,
			SamplingMethod: "frs",
		},
		Catalog: CatalogConfig{
			URL:               "https://planetarycomputer.microsoft.com/api/stac/v1",
			AssetKey:          "analytic",
			APIKeyHeader:      "Ocp-Apim-Subscription-Key",
			MaxCloudCover:     80,
			RequestsPerMinute: 60,
			BurstSize:         10,
			PageSize:          100,
			Timeout:           Duration(2 * time.Minute),
		},
		Forward: ForwardConfig{
			URL:       "http://localhost:8080",
			BatchSize: 5000,
			Timeout:   Duration(10 * time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(2 * time.Second),
			MaxDelay:     Duration(time.Minute),
			Multiplier:   2.0,
		},
		Output: OutputConfig{
			Quicklook: false,
			Ledger:    true,
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			OnComplete:       true,
			OnError:          true,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadFromEnv loads configuration from GLAI_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = strings.ToLower(v) == "true" || v == "1"
		}
	}

	setString("OUTPUT_DIR", &c.Monitor.OutputDir)
	setString("FEATURE", &c.Monitor.Feature)
	setString("TIME_START", &c.Monitor.TimeStart)
	setString("TIME_END", &c.Monitor.TimeEnd)
	setString("PLATFORM", &c.Monitor.Platform)
	setInt("TEMPORAL_INCREMENT", &c.Monitor.TemporalIncrement)

	if traits := os.Getenv(EnvPrefix + "TRAITS"); traits != "" {
		c.Inversion.Traits = splitList(traits)
	}
	setInt("N_SOLUTIONS", &c.Inversion.NSolutions)
	setString("COST_FUNCTION", &c.Inversion.CostFunction)

	setString("RTM_PARAMS", &c.LUT.RTMParams)
	setInt("LUT_SIZE", &c.LUT.Size)
	setString("SAMPLING_METHOD", &c.LUT.SamplingMethod)

	setString("CATALOG_URL", &c.Catalog.URL)
	setString("CATALOG_COLLECTION", &c.Catalog.Collection)
	setString("CATALOG_ASSET_KEY", &c.Catalog.AssetKey)
	setInt("REQUESTS_PER_MINUTE", &c.Catalog.RequestsPerMinute)

	setString("FORWARD_URL", &c.Forward.URL)

	setBool("QUICKLOOK", &c.Output.Quicklook)
	setBool("LEDGER", &c.Output.Ledger)
	setBool("NOTIFICATIONS_ENABLED", &c.Notifications.Enabled)

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML or TOML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(path) {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		return nil
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".glai.yaml",
		".glai.yml",
		".glai.toml",
		filepath.Join(home, ".config", "glai", "config.yaml"),
		filepath.Join(home, ".config", "glai", "config.yml"),
		filepath.Join(home, ".config", "glai", "config.toml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks that every configured value is in its allowed domain.
// Required-field checks for a monitoring run live in ValidateMonitor.
func (c *Config) Validate() error {
	var errs []error

	if c.Monitor.TemporalIncrement < 1 {
		errs = append(errs, errors.New("temporal increment must be at least one day"))
	}
	if _, ok := scene.LookupPlatform(c.Monitor.Platform); !ok {
		errs = append(errs, fmt.Errorf("unknown platform %q (known: %s)", c.Monitor.Platform, strings.Join(scene.PlatformNames(), ", ")))
	}
	start, startErr := parseOptionalDate("time start", c.Monitor.TimeStart)
	if startErr != nil {
		errs = append(errs, startErr)
	}
	end, endErr := parseOptionalDate("time end", c.Monitor.TimeEnd)
	if endErr != nil {
		errs = append(errs, endErr)
	}
	if startErr == nil && endErr == nil && !start.IsZero() && !end.IsZero() && end.Before(start) {
		errs = append(errs, errors.New("time end must not be before time start"))
	}

	if len(c.Inversion.Traits) == 0 {
		errs = append(errs, errors.New("at least one trait is required"))
	}
	for _, trait := range c.Inversion.Traits {
		if !contains(ValidTraits, trait) {
			errs = append(errs, fmt.Errorf("unknown trait %q", trait))
		}
	}
	if c.Inversion.NSolutions < 1 {
		errs = append(errs, errors.New("n solutions must be positive"))
	}
	if !validCostFunctions[strings.ToLower(c.Inversion.CostFunction)] {
		errs = append(errs, fmt.Errorf("invalid cost function %q", c.Inversion.CostFunction))
	}
	if !validMeasures[strings.ToLower(c.Inversion.Measure)] {
		errs = append(errs, fmt.Errorf("invalid aggregation measure %q", c.Inversion.Measure))
	}
	if len(c.Inversion.LUTBands) != len(c.Inversion.SRFBands) {
		errs = append(errs, errors.New("lut bands and srf bands must have the same length"))
	}

	if c.LUT.Size < 1 {
		errs = append(errs, errors.New("lut size must be positive"))
	}
	if !contains(ValidSamplingMethods, c.LUT.SamplingMethod) {
		errs = append(errs, fmt.Errorf("unsupported sampling method %q", c.LUT.SamplingMethod))
	}

	if c.Catalog.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Catalog.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	if c.Catalog.MaxCloudCover < 0 || c.Catalog.MaxCloudCover > 100 {
		errs = append(errs, errors.New("max cloud cover must be within [0, 100]"))
	}
	if c.Forward.BatchSize <= 0 {
		errs = append(errs, errors.New("forward batch size must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateMonitor checks the fields a monitoring run cannot start without
func (c *Config) ValidateMonitor() error {
	var errs []error
	if c.Monitor.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Monitor.Feature == "" {
		errs = append(errs, errors.New("area of interest feature file is required"))
	}
	if c.Monitor.TimeStart == "" {
		errs = append(errs, errors.New("time start is required"))
	}
	if c.Monitor.TimeEnd == "" {
		errs = append(errs, errors.New("time end is required"))
	}
	if c.LUT.RTMParams == "" {
		errs = append(errs, errors.New("rtm parameter file is required"))
	}
	if c.Forward.URL == "" {
		errs = append(errs, errors.New("forward model url is required"))
	}
	if c.Catalog.URL == "" {
		errs = append(errs, errors.New("catalog url is required"))
	}
	return errors.Join(errs...)
}

// StartDate returns the parsed requested start date
func (c *Config) StartDate() (time.Time, error) {
	return time.Parse(DateLayout, c.Monitor.TimeStart)
}

// EndDate returns the parsed requested end date
func (c *Config) EndDate() (time.Time, error) {
	return time.Parse(DateLayout, c.Monitor.TimeEnd)
}

// Save saves the configuration to a YAML or TOML file
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["output-dir"].(string); ok && v != "" {
		c.Monitor.OutputDir = v
	}
	if v, ok := flags["feature"].(string); ok && v != "" {
		c.Monitor.Feature = v
	}
	if v, ok := flags["time-start"].(string); ok && v != "" {
		c.Monitor.TimeStart = v
	}
	if v, ok := flags["time-end"].(string); ok && v != "" {
		c.Monitor.TimeEnd = v
	}
	if v, ok := flags["platform"].(string); ok && v != "" {
		c.Monitor.Platform = v
	}
	if v, ok := flags["temporal-increment"].(int); ok {
		c.Monitor.TemporalIncrement = v
	}
	if v, ok := flags["rtm-params"].(string); ok && v != "" {
		c.LUT.RTMParams = v
	}
	if v, ok := flags["lut-size"].(int); ok {
		c.LUT.Size = v
	}
	if v, ok := flags["sampling-method"].(string); ok && v != "" {
		c.LUT.SamplingMethod = v
	}
	if v, ok := flags["n-solutions"].(int); ok {
		c.Inversion.NSolutions = v
	}
	if v, ok := flags["traits"].([]string); ok && len(v) > 0 {
		c.Inversion.Traits = v
	}
	if v, ok := flags["cost-function"].(string); ok && v != "" {
		c.Inversion.CostFunction = v
	}
	if v, ok := flags["measure"].(string); ok && v != "" {
		c.Inversion.Measure = v
	}
	if v, ok := flags["catalog-url"].(string); ok && v != "" {
		c.Catalog.URL = v
	}
	if v, ok := flags["forward-url"].(string); ok && v != "" {
		c.Forward.URL = v
	}
	if v, ok := flags["quicklook"].(bool); ok {
		c.Output.Quicklook = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-format"].(string); ok && v != "" {
		c.Logging.Format = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".glai.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func parseOptionalDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q is not a YYYY-MM-DD date", name, value)
	}
	return t, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
