// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	LLM        LLMRouterConfig  `mapstructure:"llm" yaml:"llm"`
	Mapping    MappingConfig    `mapstructure:"mapping" yaml:"mapping"`
	PDF        PDFConfig        `mapstructure:"pdf" yaml:"pdf"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP boundary.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// BrowserConfig holds settings for the automated browser instance. Runs are
// headful by default: the whole point of the automation is a human-observed
// session that stays open for review.
type BrowserConfig struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args         []string `mapstructure:"args" yaml:"args"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
}

// AutomationConfig bounds the step pipeline. Each timeout scopes a different
// failure mode: the global watchdog ends the run, the step timeout bounds a
// navigation, the field timeout bounds a single fill, and the wait timeout
// bounds steps that require a human (CAPTCHA, manual sign-in or navigation).
// PollInterval paces the probes inside those waits.
type AutomationConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	GlobalTimeout     time.Duration `mapstructure:"global_timeout" yaml:"global_timeout"`
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	FieldTimeout      time.Duration `mapstructure:"field_timeout" yaml:"field_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LoginGracePeriod  time.Duration `mapstructure:"login_grace_period" yaml:"login_grace_period"`
	InterFieldDelay   time.Duration `mapstructure:"inter_field_delay" yaml:"inter_field_delay"`
	TypeDelay         time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	ScreenshotQuality int           `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
}

// MappingConfig tunes the matching strategies.
type MappingConfig struct {
	MinConfidence    float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	MaxDOMFields     int     `mapstructure:"max_dom_fields" yaml:"max_dom_fields"`
	MaxPageHTMLBytes int     `mapstructure:"max_page_html_bytes" yaml:"max_page_html_bytes"`
}

// PDFConfig configures the template store and its cache.
type PDFConfig struct {
	TemplateDir   string        `mapstructure:"template_dir" yaml:"template_dir"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity" yaml:"cache_capacity"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic. Models is keyed by tier
// alias ("fast", "powerful"); unset fields in an entry fall back to the
// tier's default model.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "formpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.read_timeout", "30s")
	// The SSE stream lives inside a response; the write timeout must outlast
	// the global automation timeout.
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)

	// -- Automation --
	v.SetDefault("automation.base_url", "https://myaccount.uscis.gov")
	v.SetDefault("automation.global_timeout", "10m")
	v.SetDefault("automation.step_timeout", "2m")
	v.SetDefault("automation.field_timeout", "30s")
	v.SetDefault("automation.wait_timeout", "5m")
	v.SetDefault("automation.poll_interval", "3s")
	v.SetDefault("automation.login_grace_period", "5s")
	v.SetDefault("automation.inter_field_delay", "800ms")
	v.SetDefault("automation.type_delay", "60ms")
	v.SetDefault("automation.screenshot_quality", 40)

	// -- Mapping --
	v.SetDefault("mapping.min_confidence", 0.5)
	v.SetDefault("mapping.max_dom_fields", 100)
	v.SetDefault("mapping.max_page_html_bytes", 300_000)

	// -- PDF --
	v.SetDefault("pdf.template_dir", "templates")
	v.SetDefault("pdf.cache_ttl", "10m")
	v.SetDefault("pdf.cache_capacity", 16)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_minute", 30.0)
}

// New creates a validated configuration from a viper instance.
func New(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment, never the config file.
	v.BindEnv("llm.models.fast.api_key", "FORMPILOT_LLM_API_KEY")
	v.BindEnv("llm.models.powerful.api_key", "FORMPILOT_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefault creates a configuration populated with default values only.
func NewDefault() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := New(v)
	if err != nil {
		// Defaults are always valid; a failure here is a programming error.
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Mapping.MinConfidence < 0.0 || c.Mapping.MinConfidence > 1.0 {
		return fmt.Errorf("mapping.min_confidence must be between 0.0 and 1.0")
	}
	if c.Mapping.MaxDOMFields <= 0 {
		return fmt.Errorf("mapping.max_dom_fields must be a positive integer")
	}
	if c.Automation.GlobalTimeout <= 0 {
		return fmt.Errorf("automation.global_timeout must be a positive duration")
	}
	if c.Automation.StepTimeout <= 0 || c.Automation.StepTimeout > c.Automation.GlobalTimeout {
		return fmt.Errorf("automation.step_timeout must be positive and no longer than the global timeout")
	}
	if c.Automation.ScreenshotQuality < 1 || c.Automation.ScreenshotQuality > 100 {
		return fmt.Errorf("automation.screenshot_quality must be between 1 and 100")
	}
	if c.PDF.CacheCapacity <= 0 {
		return fmt.Errorf("pdf.cache_capacity must be a positive integer")
	}
	return nil
}
