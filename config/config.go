// Package config loads flowctl deployment settings from a YAML file and
// FLOWSTATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/dshills/flowstate/graph"
	"github.com/dshills/flowstate/graph/model"
	"github.com/dshills/flowstate/graph/model/vendors"
	"github.com/dshills/flowstate/graph/store"
)

// EnvPrefix prefixes every environment override, e.g.
// FLOWSTATE_STORE_DRIVER or FLOWSTATE_ENGINE_RETRY_MODEL_ERROR_MAX_ATTEMPTS.
const EnvPrefix = "FLOWSTATE"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the full flowctl configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Model   ModelConfig   `mapstructure:"model"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Trace   TraceConfig   `mapstructure:"trace"`
}

// StoreConfig selects the run state backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`

	// Path is the directory for the file driver and the database file for
	// sqlite.
	Path string `mapstructure:"path"`

	// DSN is the MySQL data source name.
	DSN string `mapstructure:"dsn"`
}

// EngineConfig tunes retries and timeouts.
type EngineConfig struct {
	NodeTimeout time.Duration          `mapstructure:"node_timeout"`
	MaxBackoff  time.Duration          `mapstructure:"max_backoff"`
	Retry       map[string]RetryConfig `mapstructure:"retry"`
}

// RetryConfig overrides the retry policy of one error kind.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// ModelConfig selects the model backend.
type ModelConfig struct {
	Vendor  string `mapstructure:"vendor"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Name    string `mapstructure:"name"`

	// Profiles replace the capabilities the backend reports for the named
	// models.
	Profiles []ProfileConfig `mapstructure:"profiles"`
}

// ProfileConfig describes one model's capabilities.
type ProfileConfig struct {
	Model              string `mapstructure:"model"`
	ToolCalling        bool   `mapstructure:"tool_calling"`
	JSONMode           bool   `mapstructure:"json_mode"`
	Vision             bool   `mapstructure:"vision"`
	Streaming          bool   `mapstructure:"streaming"`
	MaxInputTokens     int    `mapstructure:"max_input_tokens"`
	MaxOutputTokens    int    `mapstructure:"max_output_tokens"`
	MaxTools           int    `mapstructure:"max_tools"`
	MaxContextMessages int    `mapstructure:"max_context_messages"`
}

// Descriptor converts p for vendors.Registry.SetProfile.
func (p ProfileConfig) Descriptor() model.CapabilityDescriptor {
	return model.CapabilityDescriptor{
		Model: p.Model,
		Features: model.Features{
			ToolCalling: p.ToolCalling,
			JSONMode:    p.JSONMode,
			Vision:      p.Vision,
			Streaming:   p.Streaming,
		},
		Limits: model.Limits{
			MaxInputTokens:     p.MaxInputTokens,
			MaxOutputTokens:    p.MaxOutputTokens,
			MaxTools:           p.MaxTools,
			MaxContextMessages: p.MaxContextMessages,
		},
	}
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TraceConfig controls span export. Output is "stderr" or a file path; an
// empty Output disables tracing.
type TraceConfig struct {
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.path", ".flowstate/runs")
	v.SetDefault("store.dsn", "")

	v.SetDefault("engine.node_timeout", "0s")
	v.SetDefault("engine.max_backoff", "30s")
	table := graph.DefaultRetryTable()
	for _, kind := range graph.Kinds() {
		p, _ := table.Policy(kind)
		v.SetDefault("engine.retry."+string(kind)+".max_attempts", p.MaxAttempts)
		v.SetDefault("engine.retry."+string(kind)+".backoff", p.Backoff.String())
	}

	v.SetDefault("model.vendor", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("trace.output", "")
}

// Load reads path (optional) and applies environment overrides. Every key
// has a default, so Load with an empty path and no environment returns a
// usable file-backed configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = vendorAPIKey(model.Vendor(cfg.Model.Vendor))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// vendorAPIKey falls back to the vendor SDK's conventional variable.
func vendorAPIKey(vendor model.Vendor) string {
	switch vendor {
	case model.VendorOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case model.VendorAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case model.VendorVertex:
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %s", c.Store.Driver)
		}
	case DriverMySQL:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for driver mysql")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Engine.NodeTimeout < 0 {
		return errors.New("engine.node_timeout must not be negative")
	}
	if c.Engine.MaxBackoff < 0 {
		return errors.New("engine.max_backoff must not be negative")
	}
	if _, err := c.RetryTable(); err != nil {
		return err
	}

	if c.Model.Vendor != "" && !model.IsNativeVendor(model.Vendor(c.Model.Vendor)) {
		return fmt.Errorf("unknown model.vendor %q", c.Model.Vendor)
	}
	for i, p := range c.Model.Profiles {
		if p.Model == "" {
			return fmt.Errorf("model.profiles[%d]: model is required", i)
		}
		if p.MaxInputTokens < 0 || p.MaxOutputTokens < 0 || p.MaxTools < 0 || p.MaxContextMessages < 0 {
			return fmt.Errorf("model.profiles[%d]: limits must not be negative", i)
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// RetryTable applies the configured overrides to graph.DefaultRetryTable.
func (c *Config) RetryTable() (graph.RetryTable, error) {
	table := graph.DefaultRetryTable()
	for kind, rc := range c.Engine.Retry {
		var err error
		table, err = table.With(graph.ErrorKind(kind), graph.RetryPolicy{
			MaxAttempts: rc.MaxAttempts,
			Backoff:     rc.Backoff,
		})
		if err != nil {
			return graph.RetryTable{}, fmt.Errorf("engine.retry: %w", err)
		}
	}
	return table, nil
}

// EngineOptions converts the engine settings to graph options.
func (c *Config) EngineOptions() ([]graph.Option, error) {
	table, err := c.RetryTable()
	if err != nil {
		return nil, err
	}
	return []graph.Option{
		graph.WithRetryTable(table),
		graph.WithDefaultNodeTimeout(c.Engine.NodeTimeout),
		graph.WithMaxBackoff(c.Engine.MaxBackoff),
	}, nil
}

// OpenStore opens the configured backend. The returned closer releases its
// resources and is never nil.
func (c *Config) OpenStore() (store.Store[graph.RunState], io.Closer, error) {
	switch c.Store.Driver {
	case DriverMemory:
		return store.NewMemStore[graph.RunState](), nopCloser{}, nil
	case DriverFile:
		st, err := store.NewFileStore[graph.RunState](c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, nopCloser{}, nil
	case DriverSQLite:
		st, err := store.NewSQLiteStore[graph.RunState](c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case DriverMySQL:
		st, err := store.NewMySQLStore[graph.RunState](c.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
	return nil, nil, fmt.Errorf("unknown store.driver %q", c.Store.Driver)
}

// AdapterConfig converts the model settings for vendors.New.
func (c *Config) AdapterConfig() vendors.Config {
	return vendors.Config{
		Vendor:  model.Vendor(c.Model.Vendor),
		APIKey:  c.Model.APIKey,
		BaseURL: c.Model.BaseURL,
		Model:   c.Model.Name,
	}
}

// Registry returns a model registry holding the configured vendor, when
// there is one, and every configured profile.
func (c *Config) Registry() *vendors.Registry {
	r := vendors.NewRegistry()
	if c.Model.Vendor != "" {
		r.Register(c.AdapterConfig())
	}
	for _, p := range c.Model.Profiles {
		r.SetProfile(p.Descriptor())
	}
	return r
}

// Logger builds a zerolog logger writing to w: JSON lines when Log.JSON is
// set, otherwise human-readable console output.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if !c.Log.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
