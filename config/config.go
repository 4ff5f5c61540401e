// Package config loads agentrelay settings from a YAML file, a .env file and
// AGENTRELAY_* environment variables, and translates them into the option
// structs of the runtime packages.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/dispatch"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/safety"
	"github.com/hupe1980/agentrelay/session"
	"github.com/hupe1980/agentrelay/synth"
)

// EnvPrefix prefixes every environment override, e.g. AGENTRELAY_STORE_DRIVER.
const EnvPrefix = "AGENTRELAY"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the configuration for the application.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Model struct {
		Provider    string  `mapstructure:"provider"`
		Name        string  `mapstructure:"name"`
		APIKey      string  `mapstructure:"api_key"`
		BaseURL     string  `mapstructure:"base_url"`
		Temperature float64 `mapstructure:"temperature"`
		MaxTokens   int64   `mapstructure:"max_tokens"`
	} `mapstructure:"model"`

	Agents []AgentConfig `mapstructure:"agents"`

	Safety struct {
		Enabled            bool           `mapstructure:"enabled"`
		BlockUnsafeInput   bool           `mapstructure:"block_unsafe_input"`
		FilterUnsafeOutput bool           `mapstructure:"filter_unsafe_output"`
		Thresholds         map[string]int `mapstructure:"thresholds"`
		Blocklist          []string       `mapstructure:"blocklist"`
		OutputAction       string         `mapstructure:"output_action"`
		Placeholder        string         `mapstructure:"placeholder"`
		Timeout            time.Duration  `mapstructure:"timeout"`
		Provider           string         `mapstructure:"provider"`
		Azure              struct {
			Endpoint       string   `mapstructure:"endpoint"`
			APIKey         string   `mapstructure:"api_key"`
			BlocklistNames []string `mapstructure:"blocklist_names"`
		} `mapstructure:"azure"`
		OpenAI struct {
			Model  string `mapstructure:"model"`
			APIKey string `mapstructure:"api_key"`
		} `mapstructure:"openai"`
	} `mapstructure:"safety"`

	Router struct {
		DefaultAgent    string        `mapstructure:"default_agent"`
		DelegateAgent   string        `mapstructure:"delegate_agent"`
		Exclude         []string      `mapstructure:"exclude"`
		MaxAgents       int           `mapstructure:"max_agents"`
		DelegateTimeout time.Duration `mapstructure:"delegate_timeout"`
		HistoryTurns    int           `mapstructure:"history_turns"`
	} `mapstructure:"router"`

	Dispatch struct {
		Timeout        time.Duration `mapstructure:"timeout"`
		MaxAttempts    int           `mapstructure:"max_attempts"`
		InitialBackoff time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"dispatch"`

	Synthesis struct {
		Agents  []string      `mapstructure:"agents"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"synthesis"`

	Engine struct {
		MaxConcurrentInvocations int  `mapstructure:"max_concurrent_invocations"`
		MaxHistoryTurns          int  `mapstructure:"max_history_turns"`
		MaxModelCalls            int  `mapstructure:"max_model_calls"`
		EnableMemory             bool `mapstructure:"enable_memory"`
	} `mapstructure:"engine"`

	Store struct {
		Driver          string        `mapstructure:"driver"`
		Path            string        `mapstructure:"path"`
		DSN             string        `mapstructure:"dsn"`
		MaxAge          time.Duration `mapstructure:"max_age"`
		JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	} `mapstructure:"store"`
}

// AgentConfig declares one model-backed agent.
type AgentConfig struct {
	Name        string   `mapstructure:"name"`
	DisplayName string   `mapstructure:"display_name"`
	Description string   `mapstructure:"description"`
	Instruction string   `mapstructure:"instruction"`
	Role        string   `mapstructure:"role"`
	Specialized bool     `mapstructure:"specialized"`
	Disabled    bool     `mapstructure:"disabled"`
	Aliases     []string `mapstructure:"aliases"`
}

// Descriptor converts the entry into a directory descriptor.
func (a AgentConfig) Descriptor() core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:        a.Name,
		DisplayName: a.DisplayName,
		Description: a.Description,
		Role:        a.Role,
		Specialized: a.Specialized,
		Enabled:     !a.Disabled,
	}
}

func setDefaults(v *viper.Viper) {
	sc := safety.DefaultConfig()
	rc := router.DefaultConfig
	dc := dispatch.DefaultConfig
	ec := engine.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.max_tokens", 4096)

	v.SetDefault("safety.enabled", sc.Enabled)
	v.SetDefault("safety.block_unsafe_input", sc.BlockUnsafeInput)
	v.SetDefault("safety.filter_unsafe_output", sc.FilterUnsafeOutput)
	v.SetDefault("safety.blocklist", []string{})
	v.SetDefault("safety.output_action", string(sc.OutputAction))
	v.SetDefault("safety.placeholder", sc.Placeholder)
	v.SetDefault("safety.timeout", sc.Timeout)
	v.SetDefault("safety.provider", "none")
	v.SetDefault("safety.azure.endpoint", "")
	v.SetDefault("safety.azure.api_key", "")
	v.SetDefault("safety.openai.model", "")
	v.SetDefault("safety.openai.api_key", "")

	v.SetDefault("router.default_agent", rc.DefaultAgent)
	v.SetDefault("router.delegate_agent", rc.DelegateAgent)
	v.SetDefault("router.max_agents", rc.MaxAgents)
	v.SetDefault("router.delegate_timeout", rc.DelegateTimeout)
	v.SetDefault("router.history_turns", rc.HistoryTurns)

	v.SetDefault("dispatch.timeout", dc.Timeout)
	v.SetDefault("dispatch.max_attempts", dc.MaxAttempts)
	v.SetDefault("dispatch.initial_backoff", dc.InitialBackoff)
	v.SetDefault("dispatch.max_backoff", dc.MaxBackoff)

	v.SetDefault("synthesis.agents", synth.DefaultConfig.Agents)
	v.SetDefault("synthesis.timeout", synth.DefaultConfig.Timeout)

	v.SetDefault("engine.max_concurrent_invocations", ec.MaxConcurrentInvocations)
	v.SetDefault("engine.max_history_turns", ec.MaxHistoryTurns)
	v.SetDefault("engine.max_model_calls", ec.MaxModelCalls)
	v.SetDefault("engine.enable_memory", ec.EnableMemory)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.path", "agentrelay.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_age", 24*time.Hour)
	v.SetDefault("store.janitor_interval", session.DefaultJanitorInterval)
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present. With an empty path, agentrelay.yaml is searched
// in . and ./config; a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

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
	} else {
		v.SetConfigName("agentrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return decode(v)
}

// Parse reads a YAML document from r, applying defaults and environment
// overrides.
func Parse(r io.Reader) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Safety.Provider = strings.ToLower(strings.TrimSpace(cfg.Safety.Provider))
	cfg.Model.Provider = strings.ToLower(strings.TrimSpace(cfg.Model.Provider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		problems = append(problems, fmt.Sprintf("unknown model provider %q", c.Model.Provider))
	}

	switch c.Safety.Provider {
	case "none", "":
	case "openai":
	case "azure":
		if c.Safety.Azure.Endpoint == "" || c.Safety.Azure.APIKey == "" {
			problems = append(problems, "safety.azure.endpoint and safety.azure.api_key are required for the azure provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown safety provider %q", c.Safety.Provider))
	}

	for cat := range c.Safety.Thresholds {
		if _, ok := core.ParseCategory(cat); !ok {
			problems = append(problems, fmt.Sprintf("unknown safety category %q", cat))
		}
	}

	if c.Dispatch.Timeout <= 0 {
		problems = append(problems, "dispatch.timeout must be positive")
	}
	if c.Dispatch.MaxAttempts < 1 {
		problems = append(problems, "dispatch.max_attempts must be at least 1")
	}
	if c.Engine.MaxHistoryTurns < 0 {
		problems = append(problems, "engine.max_history_turns must not be negative")
	}
	if c.Store.MaxAge < 0 {
		problems = append(problems, "store.max_age must not be negative")
	}

	seen := map[string]struct{}{}
	for i, a := range c.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			problems = append(problems, fmt.Sprintf("agents[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			problems = append(problems, fmt.Sprintf("agents[%d]: duplicate name %q", i, a.Name))
		}
		seen[name] = struct{}{}
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}

	sc, err := c.SafetyConfig()
	if err != nil {
		return err
	}
	return sc.Validate()
}

// SafetyConfig builds the gate policy.
func (c *Config) SafetyConfig() (safety.Config, error) {
	sc := safety.DefaultConfig()
	sc.Enabled = c.Safety.Enabled
	sc.BlockUnsafeInput = c.Safety.BlockUnsafeInput
	sc.FilterUnsafeOutput = c.Safety.FilterUnsafeOutput
	sc.Blocklist = append([]string(nil), c.Safety.Blocklist...)
	sc.OutputAction = core.OutputAction(strings.ToLower(c.Safety.OutputAction))
	sc.Placeholder = c.Safety.Placeholder
	sc.Timeout = c.Safety.Timeout

	for name, th := range c.Safety.Thresholds {
		cat, ok := core.ParseCategory(name)
		if !ok {
			return safety.Config{}, fmt.Errorf("unknown safety category %q", name)
		}
		sc.Thresholds[cat] = th
	}
	return sc, nil
}

// RouterConfig builds the routing configuration.
func (c *Config) RouterConfig() router.Config {
	rc := router.DefaultConfig
	rc.DefaultAgent = c.Router.DefaultAgent
	rc.DelegateAgent = c.Router.DelegateAgent
	rc.Exclude = append([]string(nil), c.Router.Exclude...)
	rc.MaxAgents = c.Router.MaxAgents
	rc.DelegateTimeout = c.Router.DelegateTimeout
	rc.HistoryTurns = c.Router.HistoryTurns
	return rc
}

// DispatchConfig builds the dispatcher configuration.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Timeout:        c.Dispatch.Timeout,
		MaxAttempts:    c.Dispatch.MaxAttempts,
		InitialBackoff: c.Dispatch.InitialBackoff,
		MaxBackoff:     c.Dispatch.MaxBackoff,
	}
}

// SynthConfig builds the synthesizer configuration.
func (c *Config) SynthConfig() synth.Config {
	sc := synth.DefaultConfig
	sc.Agents = append([]string(nil), c.Synthesis.Agents...)
	sc.Timeout = c.Synthesis.Timeout
	return sc
}

// EngineConfig builds the engine configuration including the nested
// router, dispatch and synthesis settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentInvocations: c.Engine.MaxConcurrentInvocations,
		MaxHistoryTurns:          c.Engine.MaxHistoryTurns,
		MaxModelCalls:            c.Engine.MaxModelCalls,
		EnableMemory:             c.Engine.EnableMemory,
		Router:                   c.RouterConfig(),
		Dispatch:                 c.DispatchConfig(),
		Synth:                    c.SynthConfig(),
	}
}

// OpenSessionStore opens the configured session store. The returned close
// function releases its resources.
func (c *Config) OpenSessionStore(ctx context.Context) (core.SessionStore, func() error, error) {
	switch c.Store.Driver {
	case DriverSQLite:
		s, err := session.NewSQLiteStore(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverPostgres:
		s, err := session.OpenPostgres(ctx, c.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return session.NewInMemoryStore(), func() error { return nil }, nil
	}
}
