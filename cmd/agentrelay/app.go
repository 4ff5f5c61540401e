package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/model"
	anthropicmodel "github.com/hupe1980/agentrelay/model/anthropic"
	openaimodel "github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/safety"
)

// defaultAgents is used when the configuration declares no agents.
var defaultAgents = []config.AgentConfig{
	{
		Name:        "general",
		DisplayName: "General Assistant",
		Description: "Answers general questions and combines expert responses",
		Instruction: "You are a helpful general assistant. Answer clearly and concisely.",
	},
	{
		Name:        "router",
		Description: "Selects the agents best suited to answer a message",
		Instruction: "You route user messages to expert agents. Reply only with the requested agent names.",
	},
}

// app bundles what a command needs and how to release it.
type app struct {
	cfg    *config.Config
	relay  *agentrelay.AgentRelay
	store  core.SessionStore
	memory *memory.InMemoryStore
	logger logging.Logger
	close  func() error
}

func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	l := logging.NewSlogLogger(level, cfg.Log.Format, false)
	return l.WithComponent("agentrelay"), nil
}

func newModel(cfg *config.Config) (model.Model, error) {
	m := cfg.Model
	switch m.Provider {
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if m.Name != "" {
				o.Model = anthropic.Model(m.Name)
			}
			o.APIKey = m.APIKey
			o.Temperature = m.Temperature
			o.MaxTokens = m.MaxTokens
		}), nil
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if m.Name != "" {
				o.Model = m.Name
			}
			o.APIKey = m.APIKey
			o.BaseURL = m.BaseURL
			o.Temperature = m.Temperature
			o.MaxCompletionTokens = m.MaxTokens
		}), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", m.Provider)
}

func newClassifier(cfg *config.Config) (core.Classifier, error) {
	s := cfg.Safety
	switch s.Provider {
	case "azure":
		return safety.NewAzureClassifier(s.Azure.Endpoint, s.Azure.APIKey, func(o *safety.AzureOptions) {
			o.BlocklistNames = s.Azure.BlocklistNames
		})
	case "openai":
		return safety.NewOpenAIClassifier(func(o *safety.OpenAIClassifierOptions) {
			if s.OpenAI.Model != "" {
				o.Model = s.OpenAI.Model
			}
			o.APIKey = s.OpenAI.APIKey
		}), nil
	}
	return nil, nil
}

func newGate(cfg *config.Config, logger logging.Logger) (*safety.Gate, error) {
	policy, err := cfg.SafetyConfig()
	if err != nil {
		return nil, err
	}
	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}
	return safety.NewGate(func(o *safety.Options) {
		o.Config = policy
		o.Classifier = classifier
		o.Logger = logger
	}), nil
}

// registerAgents adds every configured agent as a lazily built model agent.
func registerAgents(relay *agentrelay.AgentRelay, llm model.Model, mem core.MemoryStore, agents []config.AgentConfig) error {
	if len(agents) == 0 {
		agents = defaultAgents
	}
	for _, ac := range agents {
		ac := ac
		factory := agent.NewModelAgentFactory(ac.Name, llm, mem, func(o *agent.ModelAgentOptions) {
			o.Description = ac.Description
			if ac.Instruction != "" {
				o.Instruction = agent.NewInstructionFromText(ac.Instruction)
			}
		})
		if err := relay.Register(ac.Descriptor(), factory); err != nil {
			return fmt.Errorf("register agent %s: %w", ac.Name, err)
		}
		for _, alias := range ac.Aliases {
			if err := relay.Alias(alias, ac.Name); err != nil {
				return fmt.Errorf("alias %s: %w", alias, err)
			}
		}
	}
	return nil
}

// newApp wires configuration, providers and stores into an AgentRelay.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := cfg.OpenSessionStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	gate, err := newGate(cfg, logger)
	if err != nil {
		return nil, errors.Join(err, closeStore())
	}
	llm, err := newModel(cfg)
	if err != nil {
		return nil, errors.Join(err, closeStore())
	}

	callbacks := engine.NewCallbackManager()
	if level, _ := logging.ParseLevel(cfg.Log.Level); level == logging.LogLevelDebug {
		callbacks.RegisterLogging(logger)
	}

	mem := memory.NewInMemoryStore()
	relay := agentrelay.New(func(o *agentrelay.Options) {
		o.EngineConfig = cfg.EngineConfig()
		o.SessionStore = store
		o.MemoryStore = mem
		o.Gate = gate
		o.Callbacks = callbacks
		o.Logger = logger
	})
	if err := registerAgents(relay, llm, mem, cfg.Agents); err != nil {
		return nil, errors.Join(err, closeStore())
	}

	logger.Debug("app.ready", "store", cfg.Store.Driver, "model", llm.Info().Name, "agents", len(relay.Agents()))
	return &app{cfg: cfg, relay: relay, store: store, memory: mem, logger: logger, close: closeStore}, nil
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
