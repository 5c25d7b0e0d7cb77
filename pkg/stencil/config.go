package stencil

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benjaminschreck/textstencil/pkg/stencil/tokenizer"
)

// ExecutionMode selects how deferred and unknown values are treated.
type ExecutionMode string

const (
	// ModeDefault renders normally; expressions that hit a deferred value
	// are kept verbatim in the output.
	ModeDefault ExecutionMode = "default"
	// ModePreserveUnresolved additionally keeps expressions that reference
	// undefined variables verbatim instead of rendering them empty.
	ModePreserveUnresolved ExecutionMode = "preserve-unresolved"
	// ModeEager evaluates everything resolvable and reconstructs template
	// syntax for the rest, so a second pass can finish the render.
	ModeEager ExecutionMode = "eager-deferred"
)

// LegacyOverrides restore older behaviours.
type LegacyOverrides struct {
	// EvaluateMapKeys evaluates bare dict literal keys as expressions
	// instead of treating them as strings.
	EvaluateMapKeys bool `yaml:"evaluate_map_keys"`
	// UseSnakeCasePropertyNaming lets obj.first_name reach FirstName.
	UseSnakeCasePropertyNaming bool `yaml:"use_snake_case_property_naming"`
	// UseNaturalOperatorPrecedence binds unary minus looser than **.
	UseNaturalOperatorPrecedence bool `yaml:"use_natural_operator_precedence"`
	// ParseWhitespaceControlStrictly requires whitespace after an
	// expression trim marker.
	ParseWhitespaceControlStrictly bool `yaml:"parse_whitespace_control_strictly"`
}

// Config contains all configuration options for the Stencil engine
type Config struct {
	// CacheMaxSize is the maximum number of templates to cache. 0 disables caching.
	CacheMaxSize int `yaml:"cache_max_size"`
	// CacheTTL is the time-to-live for cached templates. 0 means no expiration.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// LogLevel controls the verbosity of logging (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// MaxRenderDepth bounds nested renders through include, import,
	// extends and nested interpretation.
	MaxRenderDepth int `yaml:"max_render_depth"`
	// MaxOutputSize caps rendered output in bytes. 0 means unlimited.
	MaxOutputSize int64 `yaml:"max_output_size"`
	// MaxMacroRecursionDepth allows a macro to call itself up to this
	// depth. 0 forbids recursion.
	MaxMacroRecursionDepth int `yaml:"max_macro_recursion_depth"`
	// MaxListSize caps list literals and generated ranges. 0 leaves list
	// literals unlimited and caps range() at 1000 items.
	MaxListSize int `yaml:"max_list_size"`

	ExecutionMode ExecutionMode   `yaml:"execution_mode"`
	Legacy        LegacyOverrides `yaml:"legacy"`

	Locale   string `yaml:"locale"`
	Timezone string `yaml:"timezone"`
	Encoding string `yaml:"encoding"`

	// NestedInterpretation re-renders expression output that itself
	// contains template delimiters.
	NestedInterpretation bool `yaml:"nested_interpretation"`
	TrimBlocks           bool `yaml:"trim_blocks"`
	LStripBlocks         bool `yaml:"lstrip_blocks"`
	// Autoescape HTML-escapes expression output that is not marked safe.
	Autoescape bool `yaml:"autoescape"`
	// ShadowOnWrite makes assignments always create the name in the
	// innermost scope instead of updating an outer binding.
	ShadowOnWrite bool `yaml:"shadow_on_write"`
	// FailOnUnknownTokens records undefined variables as fatal errors.
	FailOnUnknownTokens bool `yaml:"fail_on_unknown_tokens"`

	Symbols tokenizer.Symbols `yaml:"symbols"`
	// TrimMarker is the whitespace control character; "" keeps '-'.
	TrimMarker string `yaml:"trim_marker"`
}

var (
	globalConfig      *Config
	globalConfigMutex sync.RWMutex
	configOnce        sync.Once
)

func init() {
	configOnce.Do(func() {
		globalConfig = ConfigFromEnvironment()
	})
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		CacheMaxSize:   100,
		CacheTTL:       0,
		LogLevel:       "info",
		MaxRenderDepth: 10,
		ExecutionMode:  ModeDefault,
		Legacy: LegacyOverrides{
			UseNaturalOperatorPrecedence: true,
		},
		Locale:   "en-US",
		Timezone: "UTC",
		Encoding: "UTF-8",
		Symbols:  tokenizer.DefaultSymbols(),
	}
}

// ConfigFromEnvironment creates a configuration from environment variables
func ConfigFromEnvironment() *Config {
	config := DefaultConfig()
	config.applyEnvironment()
	return config
}

func (c *Config) applyEnvironment() {
	envInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			*dst = parseBool(val)
		}
	}
	envString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	envInt("STENCIL_CACHE_MAX_SIZE", &c.CacheMaxSize)
	if val := os.Getenv("STENCIL_CACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.CacheTTL = duration
		}
	}
	envString("STENCIL_LOG_LEVEL", &c.LogLevel)
	envInt("STENCIL_MAX_RENDER_DEPTH", &c.MaxRenderDepth)
	if val := os.Getenv("STENCIL_MAX_OUTPUT_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.MaxOutputSize = n
		}
	}
	envInt("STENCIL_MAX_MACRO_RECURSION_DEPTH", &c.MaxMacroRecursionDepth)
	envInt("STENCIL_MAX_LIST_SIZE", &c.MaxListSize)
	if val := os.Getenv("STENCIL_EXECUTION_MODE"); val != "" {
		c.ExecutionMode = ExecutionMode(strings.ToLower(val))
	}
	envString("STENCIL_LOCALE", &c.Locale)
	envString("STENCIL_TIMEZONE", &c.Timezone)
	envString("STENCIL_ENCODING", &c.Encoding)
	envBool("STENCIL_NESTED_INTERPRETATION", &c.NestedInterpretation)
	envBool("STENCIL_TRIM_BLOCKS", &c.TrimBlocks)
	envBool("STENCIL_LSTRIP_BLOCKS", &c.LStripBlocks)
	envBool("STENCIL_AUTOESCAPE", &c.Autoescape)
	envBool("STENCIL_SHADOW_ON_WRITE", &c.ShadowOnWrite)
	envBool("STENCIL_FAIL_ON_UNKNOWN_TOKENS", &c.FailOnUnknownTokens)
	envBool("STENCIL_LEGACY_EVALUATE_MAP_KEYS", &c.Legacy.EvaluateMapKeys)
	envBool("STENCIL_LEGACY_SNAKE_CASE_PROPERTIES", &c.Legacy.UseSnakeCasePropertyNaming)
	envBool("STENCIL_LEGACY_NATURAL_PRECEDENCE", &c.Legacy.UseNaturalOperatorPrecedence)
	envBool("STENCIL_LEGACY_STRICT_WHITESPACE", &c.Legacy.ParseWhitespaceControlStrictly)
}

// LoadConfig parses YAML over the defaults. Keys absent from the document
// keep their default values.
func LoadConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if config.TrimMarker != "" {
		config.Symbols.Trim = config.TrimMarker[0]
	} else if config.Symbols.Trim == 0 {
		config.Symbols.Trim = tokenizer.DefaultSymbols().Trim
	}
	return config, nil
}

// LoadConfigFile reads a YAML config file and then applies STENCIL_*
// environment variables on top of it.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	config, err := LoadConfig(data)
	if err != nil {
		return nil, err
	}
	config.applyEnvironment()
	return config, config.Validate()
}

// NewConfigWithDefaults creates a new configuration with defaults applied to unset fields
func NewConfigWithDefaults(overrides *Config) *Config {
	defaults := DefaultConfig()

	if overrides == nil {
		return defaults
	}

	config := *overrides

	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.MaxRenderDepth == 0 {
		config.MaxRenderDepth = defaults.MaxRenderDepth
	}
	if config.ExecutionMode == "" {
		config.ExecutionMode = defaults.ExecutionMode
	}
	if config.Symbols.ExprStart == "" {
		config.Symbols = defaults.Symbols
	}
	if config.Locale == "" {
		config.Locale = defaults.Locale
	}
	if config.Timezone == "" {
		config.Timezone = defaults.Timezone
	}
	if config.Encoding == "" {
		config.Encoding = defaults.Encoding
	}

	return &config
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.CacheMaxSize < 0 {
		return errors.New("cache max size cannot be negative")
	}

	if c.CacheTTL < 0 {
		return errors.New("cache TTL cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"off":   true,
	}

	if !validLogLevels[c.LogLevel] {
		return errors.New("invalid log level: " + c.LogLevel)
	}

	if c.MaxRenderDepth <= 0 {
		return errors.New("max render depth must be positive")
	}

	if c.MaxOutputSize < 0 || c.MaxListSize < 0 || c.MaxMacroRecursionDepth < 0 {
		return errors.New("size limits cannot be negative")
	}

	switch c.ExecutionMode {
	case ModeDefault, ModePreserveUnresolved, ModeEager:
	default:
		return errors.New("invalid execution mode: " + string(c.ExecutionMode))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return c.Symbols.Validate()
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// GetGlobalConfig returns the global configuration
func GetGlobalConfig() *Config {
	globalConfigMutex.RLock()
	defer globalConfigMutex.RUnlock()

	if globalConfig == nil {
		return DefaultConfig()
	}

	configCopy := *globalConfig
	return &configCopy
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config *Config) {
	globalConfigMutex.Lock()
	globalConfig = config
	globalConfigMutex.Unlock()

	// outside the lock: the logger reads the global config
	UpdateLoggerFromConfig()
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
