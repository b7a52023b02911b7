package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/field"
	"github.com/voximply/intake/internal/flow"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, including
// constructing the objective graph and test-building every capture chain so
// graph mistakes surface here instead of mid-conversation.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Timing knobs must not be negative; zero means default.
	for _, knob := range []struct {
		name  string
		value int
	}{
		{"engine.chain_timeout_ms", cfg.Engine.ChainTimeoutMS},
		{"consensus.buffer_cap_ms", cfg.Consensus.BufferCapMS},
		{"consensus.silence_timeout_ms", cfg.Consensus.SilenceTimeoutMS},
		{"consensus.call_timeout_ms", cfg.Consensus.CallTimeoutMS},
		{"dispatch.call_timeout_ms", cfg.Dispatch.CallTimeoutMS},
		{"dispatch.breaker_threshold", cfg.Dispatch.BreakerThreshold},
		{"dispatch.breaker_recovery_ms", cfg.Dispatch.BreakerRecoveryMS},
		{"journal.queue_size", cfg.Journal.QueueSize},
	} {
		if knob.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", knob.name, knob.value))
		}
	}

	// Consensus recognizers: unique names, known fallback.
	recognizersSeen := make(map[string]int, len(cfg.Consensus.Recognizers))
	for i, r := range cfg.Consensus.Recognizers {
		prefix := fmt.Sprintf("consensus.recognizers[%d]", i)
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := recognizersSeen[r.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of consensus.recognizers[%d]", prefix, r.Name, prev))
		}
		recognizersSeen[r.Name] = i
	}
	if f := cfg.Consensus.Fallback; f != "" {
		if _, ok := recognizersSeen[f]; !ok {
			errs = append(errs, fmt.Errorf("consensus.fallback %q does not name a configured recognizer", f))
		}
	}
	if len(cfg.Consensus.Recognizers) == 1 {
		slog.Warn("only one recognizer configured; consensus degenerates to a single vote")
	}

	// Dispatch capabilities
	validateCapability("dispatch.speech", cfg.Dispatch.Speech, &errs)
	validateCapability("dispatch.language", cfg.Dispatch.Language, &errs)

	// Checkpoint
	if cfg.Checkpoint.Backend != "" && !cfg.Checkpoint.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is invalid; valid values: memory, postgres", cfg.Checkpoint.Backend))
	}
	if cfg.Checkpoint.Backend == BackendPostgres && cfg.Checkpoint.PostgresDSN == "" {
		errs = append(errs, errors.New("checkpoint.postgres_dsn is required when checkpoint.backend is postgres"))
	}

	if cfg.Journal.Path == "" {
		slog.Warn("journal.path is empty; events will not be persisted")
	}

	// Field overrides
	for name, rule := range cfg.Fields {
		if !capture.FieldType(name).IsValid() {
			errs = append(errs, fmt.Errorf("fields.%s is not a known field type", name))
		}
		if rule.MaxRetries != nil && *rule.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("fields.%s.max_retries %d is negative", name, *rule.MaxRetries))
		}
	}

	// Service catalog
	servicesSeen := make(map[string]int, len(cfg.Services))
	for i, s := range cfg.Services {
		prefix := fmt.Sprintf("services[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := servicesSeen[s.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of services[%d]", prefix, s.Name, prev))
		}
		servicesSeen[s.Name] = i
	}

	// Knowledge table
	topicsSeen := make(map[string]int, len(cfg.Knowledge))
	for i, k := range cfg.Knowledge {
		prefix := fmt.Sprintf("knowledge[%d]", i)
		if k.Topic == "" {
			errs = append(errs, fmt.Errorf("%s.topic is required", prefix))
		} else {
			if prev, ok := topicsSeen[k.Topic]; ok {
				errs = append(errs, fmt.Errorf("%s.topic %q is a duplicate of knowledge[%d]", prefix, k.Topic, prev))
			}
			topicsSeen[k.Topic] = i
		}
		if k.Answer == "" {
			errs = append(errs, fmt.Errorf("%s.answer is required", prefix))
		}
	}

	// The graph must construct, and every sequence node must build a runnable
	// capture chain against the configured catalog, knowledge, and overrides.
	if len(cfg.Graph.Nodes) == 0 {
		errs = append(errs, errors.New("graph.nodes is required"))
	} else if g, err := cfg.Graph.Build(); err != nil {
		errs = append(errs, err)
	} else {
		build := flow.NewStepBuilder(field.DefaultRegistry(), cfg.Deps(), cfg.FieldRules())
		for _, n := range cfg.Graph.Nodes {
			if flow.NodeKind(n.Kind) != flow.KindSequence {
				continue
			}
			if _, err := g.BuildSequence(flow.NodeID(n.ID), build); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// validateCapability checks one dispatch provider pair. A nil pair means the
// capability is off, which is fine; a half-configured pair is an error.
func validateCapability(prefix string, pair *CapabilityConfig, errs *[]error) {
	if pair == nil {
		return
	}
	if pair.Primary.Name == "" {
		*errs = append(*errs, fmt.Errorf("%s.primary.name is required", prefix))
	}
	if pair.Secondary.Name == "" {
		*errs = append(*errs, fmt.Errorf("%s.secondary.name is required", prefix))
	}
	if pair.Primary.Name != "" && pair.Primary.Name == pair.Secondary.Name {
		*errs = append(*errs, fmt.Errorf("%s primary and secondary share the name %q", prefix, pair.Primary.Name))
	}
}
