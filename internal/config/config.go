package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Site     SiteConfig     `json:"site"`
	Browser  BrowserConfig  `json:"browser"`
	Oracle   OracleConfig   `json:"oracle"`
	Session  SessionConfig  `json:"session"`
	Retry    RetryConfig    `json:"retry"`
	Storage  StorageConfig  `json:"storage"`
	Log      LogConfig      `json:"log"`
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int    `json:"port"`
	Environment  string `json:"environment"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// SiteConfig describes the legacy valuation site: where the form lives,
// which URLs are expected along the flow and the selectors used on each page.
type SiteConfig struct {
	FormURL            string `json:"form_url"`
	CaptchaPagePattern string `json:"captcha_page_pattern"`
	DocumentURLPattern string `json:"document_url_pattern"`

	RegionSelector        string `json:"region_selector"`
	ComunaSelector        string `json:"comuna_selector"`
	ManzanaSelector       string `json:"manzana_selector"`
	PredioSelector        string `json:"predio_selector"`
	FormSubmitSelector    string `json:"form_submit_selector"`
	CaptchaImageSelector  string `json:"captcha_image_selector"`
	CaptchaInputSelector  string `json:"captcha_input_selector"`
	CaptchaSubmitSelector string `json:"captcha_submit_selector"`
}

// BrowserConfig holds browser automation configuration
type BrowserConfig struct {
	Headless     bool   `json:"headless"`
	UserAgent    string `json:"user_agent"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`

	LaunchTimeout     time.Duration `json:"launch_timeout"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	SelectorTimeout   time.Duration `json:"selector_timeout"`
	CaptchaTimeout    time.Duration `json:"captcha_timeout"`
	ActionTimeout     time.Duration `json:"action_timeout"`
	PopupTimeout      time.Duration `json:"popup_timeout"`
	PopupLoadTimeout  time.Duration `json:"popup_load_timeout"`
	FetchTimeout      time.Duration `json:"fetch_timeout"`

	ClickAttempts int           `json:"click_attempts"`
	ClickGrace    time.Duration `json:"click_grace"`
	ClickBackoff  time.Duration `json:"click_backoff"`

	FrameRounds int           `json:"frame_rounds"`
	FrameDelay  time.Duration `json:"frame_delay"`

	RenderFallback bool `json:"render_fallback"`
}

// OracleConfig holds the vision model used to read CAPTCHA images
type OracleConfig struct {
	APIKey    string        `json:"-"`
	BaseURL   string        `json:"base_url"`
	Model     string        `json:"model"`
	Timeout   time.Duration `json:"timeout"`
	MaxTokens int           `json:"max_tokens"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	TTL           time.Duration `json:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// RetryConfig holds the full-attempt retry policy
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
}

// StorageConfig holds document persistence configuration
type StorageConfig struct {
	OutputDir      string        `json:"output_dir"`
	DiagnosticsDir string        `json:"diagnostics_dir"`
	CacheTTL       time.Duration `json:"cache_ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit"`
	CORS      CORSConfig      `json:"cors"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	BurstSize         int           `json:"burst_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("PORT", 3002),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 180),
			IdleTimeout:  getEnvAsInt("IDLE_TIMEOUT", 60),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", false),
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  time.Duration(getEnvAsInt("REDIS_DIAL_TIMEOUT", 5)) * time.Second,
			ReadTimeout:  time.Duration(getEnvAsInt("REDIS_READ_TIMEOUT", 3)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("REDIS_WRITE_TIMEOUT", 3)) * time.Second,
		},
		Site: DefaultSite(),
		Browser: BrowserConfig{
			Headless:          getEnvAsBool("BROWSER_HEADLESS", true),
			UserAgent:         getEnv("BROWSER_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"),
			WindowWidth:       getEnvAsInt("BROWSER_WINDOW_WIDTH", 1366),
			WindowHeight:      getEnvAsInt("BROWSER_WINDOW_HEIGHT", 768),
			LaunchTimeout:     getEnvAsDuration("BROWSER_LAUNCH_TIMEOUT", 30*time.Second),
			NavigationTimeout: getEnvAsDuration("BROWSER_NAVIGATION_TIMEOUT", 20*time.Second),
			SelectorTimeout:   getEnvAsDuration("BROWSER_SELECTOR_TIMEOUT", 10*time.Second),
			CaptchaTimeout:    getEnvAsDuration("BROWSER_CAPTCHA_TIMEOUT", 5*time.Second),
			ActionTimeout:     getEnvAsDuration("BROWSER_ACTION_TIMEOUT", 5*time.Second),
			PopupTimeout:      getEnvAsDuration("BROWSER_POPUP_TIMEOUT", 15*time.Second),
			PopupLoadTimeout:  getEnvAsDuration("BROWSER_POPUP_LOAD_TIMEOUT", 10*time.Second),
			FetchTimeout:      getEnvAsDuration("BROWSER_FETCH_TIMEOUT", 20*time.Second),
			ClickAttempts:     getEnvAsInt("BROWSER_CLICK_ATTEMPTS", 3),
			ClickGrace:        getEnvAsDuration("BROWSER_CLICK_GRACE", 2*time.Second),
			ClickBackoff:      getEnvAsDuration("BROWSER_CLICK_BACKOFF", 500*time.Millisecond),
			FrameRounds:       getEnvAsInt("BROWSER_FRAME_ROUNDS", 10),
			FrameDelay:        getEnvAsDuration("BROWSER_FRAME_DELAY", 500*time.Millisecond),
			RenderFallback:    getEnvAsBool("BROWSER_RENDER_FALLBACK", false),
		},
		Oracle: OracleConfig{
			APIKey:    getEnv("OPENAI_API_KEY", ""),
			BaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:     getEnv("OPENAI_MODEL", "gpt-4o"),
			Timeout:   getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
			MaxTokens: getEnvAsInt("OPENAI_MAX_TOKENS", 10),
		},
		Session: SessionConfig{
			TTL:           getEnvAsDuration("SESSION_TTL", 5*time.Minute),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			Delay:       getEnvAsDuration("RETRY_DELAY", 2*time.Second),
		},
		Storage: StorageConfig{
			OutputDir:      getEnv("OUTPUT_DIR", "output"),
			DiagnosticsDir: getEnv("DIAGNOSTICS_DIR", ""),
			CacheTTL:       getEnvAsDuration("DOCUMENT_CACHE_TTL", time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 30),
				BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 5),
				CleanupInterval:   time.Duration(getEnvAsInt("RATE_LIMIT_CLEANUP", 60)) * time.Second,
			},
			CORS: CORSConfig{
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: false,
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultSite returns the selectors and URLs of the SII valuation certificate flow.
// Only the URLs can be overridden from the environment.
func DefaultSite() SiteConfig {
	return SiteConfig{
		FormURL:            getEnv("SITE_FORM_URL", "https://zeus.sii.cl/avalu_cgi/br/brc110.sh"),
		CaptchaPagePattern: getEnv("SITE_CAPTCHA_PAGE_PATTERN", `zeus\.sii\.cl/avalu_cgi/`),
		DocumentURLPattern: getEnv("SITE_DOCUMENT_URL_PATTERN", `(?i)(\.pdf([?#]|$)|/pdf[/?]|_pdf\.|certificado)`),

		RegionSelector:        `select[name="region"]`,
		ComunaSelector:        `select[name="comuna"]`,
		ManzanaSelector:       `input[name="manzana"]`,
		PredioSelector:        `input[name="predio"]`,
		FormSubmitSelector:    `input[name="button"][onclick="FormCheck(formrol)"]`,
		CaptchaImageSelector:  `#imgcapt`,
		CaptchaInputSelector:  `input[name="txt_captcha"]`,
		CaptchaSubmitSelector: `input[type="button"][name="button"]`,
	}
}

// Validate checks invariants the flow relies on
func (c *Config) Validate() error {
	b := c.Browser
	timeouts := map[string]time.Duration{
		"BROWSER_LAUNCH_TIMEOUT":     b.LaunchTimeout,
		"BROWSER_NAVIGATION_TIMEOUT": b.NavigationTimeout,
		"BROWSER_SELECTOR_TIMEOUT":   b.SelectorTimeout,
		"BROWSER_CAPTCHA_TIMEOUT":    b.CaptchaTimeout,
		"BROWSER_ACTION_TIMEOUT":     b.ActionTimeout,
		"BROWSER_POPUP_TIMEOUT":      b.PopupTimeout,
		"BROWSER_POPUP_LOAD_TIMEOUT": b.PopupLoadTimeout,
		"BROWSER_FETCH_TIMEOUT":      b.FetchTimeout,
		"BROWSER_CLICK_GRACE":        b.ClickGrace,
		"SESSION_TTL":                c.Session.TTL,
		"SESSION_SWEEP_INTERVAL":     c.Session.SweepInterval,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be between 1 and 10, got %d", c.Retry.MaxAttempts)
	}
	if b.ClickAttempts < 1 {
		return fmt.Errorf("BROWSER_CLICK_ATTEMPTS must be at least 1, got %d", b.ClickAttempts)
	}
	if b.FrameRounds < 1 {
		return fmt.Errorf("BROWSER_FRAME_ROUNDS must be at least 1, got %d", b.FrameRounds)
	}

	for name, pattern := range map[string]string{
		"SITE_CAPTCHA_PAGE_PATTERN": c.Site.CaptchaPagePattern,
		"SITE_DOCUMENT_URL_PATTERN": c.Site.DocumentURLPattern,
	} {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms", "2s"); a bare integer is read as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
