package config

import "slices"

// ConfigDiff describes what changed between two configs, grouped by how the
// change is applied: log level and knowledge take effect immediately for new
// conversations, everything else needs a restart.
type ConfigDiff struct {
	// LogLevelChanged is safe to apply immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// KnowledgeChanged covers the service catalog and the FAQ table.
	// Conversations started after the reload resolve against the new data.
	KnowledgeChanged bool

	// GraphChanged covers the objective graph and field overrides.
	GraphChanged bool

	// TuningChanged covers engine, consensus, and dispatch timing knobs and
	// the provider declarations.
	TuningChanged bool
}

// HotReloadable reports whether every change in the diff can be applied
// without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return !d.GraphChanged && !d.TuningChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !servicesEqual(old.Services, new.Services) || !knowledgeEqual(old.Knowledge, new.Knowledge) {
		d.KnowledgeChanged = true
	}

	if !graphEqual(old.Graph, new.Graph) || !fieldRulesEqual(old.Fields, new.Fields) {
		d.GraphChanged = true
	}

	if old.Engine != new.Engine ||
		!consensusEqual(old.Consensus, new.Consensus) ||
		!dispatchEqual(old.Dispatch, new.Dispatch) ||
		old.Checkpoint != new.Checkpoint ||
		old.Journal != new.Journal {
		d.TuningChanged = true
	}

	return d
}

func servicesEqual(a, b []ServiceConfig) bool {
	return slices.EqualFunc(a, b, func(x, y ServiceConfig) bool {
		return x.Name == y.Name && slices.Equal(x.Keywords, y.Keywords)
	})
}

func knowledgeEqual(a, b []KnowledgeConfig) bool {
	return slices.EqualFunc(a, b, func(x, y KnowledgeConfig) bool {
		return x.Topic == y.Topic && x.Answer == y.Answer && slices.Equal(x.Patterns, y.Patterns)
	})
}

func graphEqual(a, b GraphConfig) bool {
	if a.Start != b.Start {
		return false
	}
	return slices.EqualFunc(a.Nodes, b.Nodes, func(x, y NodeConfig) bool {
		return x.ID == y.ID && x.Kind == y.Kind && x.OnSuccess == y.OnSuccess &&
			x.OnFailure == y.OnFailure && x.Message == y.Message &&
			slices.Equal(x.Fields, y.Fields)
	})
}

func fieldRulesEqual(a, b map[string]FieldRuleConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ra := range a {
		rb, ok := b[name]
		if !ok {
			return false
		}
		if !ptrEqual(ra.Critical, rb.Critical) || !ptrEqual(ra.MaxRetries, rb.MaxRetries) {
			return false
		}
	}
	return true
}

func consensusEqual(a, b ConsensusConfig) bool {
	if a.BufferCapMS != b.BufferCapMS || a.SilenceTimeoutMS != b.SilenceTimeoutMS ||
		a.CallTimeoutMS != b.CallTimeoutMS || a.Fallback != b.Fallback {
		return false
	}
	return slices.EqualFunc(a.Recognizers, b.Recognizers, providerEqual)
}

func dispatchEqual(a, b DispatchConfig) bool {
	if a.CallTimeoutMS != b.CallTimeoutMS || a.BreakerThreshold != b.BreakerThreshold ||
		a.BreakerRecoveryMS != b.BreakerRecoveryMS {
		return false
	}
	return capabilityEqual(a.Speech, b.Speech) && capabilityEqual(a.Language, b.Language)
}

func capabilityEqual(a, b *CapabilityConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return providerEqual(a.Primary, b.Primary) && providerEqual(a.Secondary, b.Secondary)
}

func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if b.Options[k] != v {
			return false
		}
	}
	return true
}

func ptrEqual[T comparable](a, b *T) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
