package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voximply/intake/internal/checkpoint"
	"github.com/voximply/intake/internal/config"
	"github.com/voximply/intake/internal/consensus"
	"github.com/voximply/intake/internal/dispatch"
	"github.com/voximply/intake/internal/events"
	"github.com/voximply/intake/internal/field"
	"github.com/voximply/intake/internal/flow"
	"github.com/voximply/intake/pkg/provider/asr"
	"github.com/voximply/intake/pkg/provider/gen"
)

// ErrEngineClosed is returned by Start and Resume after Close.
var ErrEngineClosed = errors.New("runtime: engine closed")

// providerPair holds one capability's resolved primary/secondary generators.
type providerPair struct {
	capability string
	primary    dispatch.Provider[gen.Generator]
	secondary  dispatch.Provider[gen.Generator]
}

// Engine turns a validated config into running conversations. It owns the
// pieces conversations share: the graph, the step builder, the recognizer
// set, the resolved generator pairs, and the process-wide breaker table.
type Engine struct {
	log   *slog.Logger
	emit  events.Sink
	store checkpoint.Store

	graph        *flow.Graph
	chainTimeout time.Duration

	recognizers []asr.Recognizer
	fallback    asr.Recognizer
	voterCfg    consensus.Config

	table    *dispatch.BreakerTable
	dispCfg  dispatch.Config
	speech   *providerPair
	language *providerPair

	mu     sync.Mutex
	build  flow.StepBuilder // guarded: swapped by Reload
	convs  map[string]*Conversation
	closed bool
}

// Option configures an Engine during construction.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEvents sets the sink every conversation emits through. Defaults to
// discarding events.
func WithEvents(sink events.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.emit = sink
		}
	}
}

// WithCheckpoints sets the checkpoint store conversations save to. Without
// one, crash-resume is off and Resume always fails.
func WithCheckpoints(store checkpoint.Store) Option {
	return func(e *Engine) { e.store = store }
}

// New builds an Engine from a validated config. The registry provides the
// recognizer and generator factories for the providers the config names; it
// may be nil when the config names none.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("runtime: config must not be nil")
	}

	graph, err := cfg.Graph.Build()
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	e := &Engine{
		log:          slog.Default(),
		emit:         events.Discard{},
		graph:        graph,
		build:        flow.NewStepBuilder(field.DefaultRegistry(), cfg.Deps(), cfg.FieldRules()),
		chainTimeout: cfg.Engine.ChainTimeout(),
		voterCfg:     cfg.Consensus.Tuning(),
		dispCfg:      cfg.Dispatch.Tuning(),
		convs:        make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table = dispatch.NewBreakerTable(e.emit)

	if n := len(cfg.Consensus.Recognizers); n > 0 {
		if reg == nil {
			return nil, errors.New("runtime: config names recognizers but no registry was given")
		}
		e.recognizers, err = reg.Recognizers(cfg.Consensus)
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		if cfg.Consensus.Fallback != "" {
			for i, entry := range cfg.Consensus.Recognizers {
				if entry.Name == cfg.Consensus.Fallback {
					e.fallback = e.recognizers[i]
					break
				}
			}
		}
	}

	e.speech, err = e.resolvePair(reg, "speech", cfg.Dispatch.Speech)
	if err != nil {
		return nil, err
	}
	e.language, err = e.resolvePair(reg, "language", cfg.Dispatch.Language)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// resolvePair instantiates one capability's generator pair, or nil when the
// capability is not configured.
func (e *Engine) resolvePair(reg *config.Registry, capability string, pair *config.CapabilityConfig) (*providerPair, error) {
	if pair == nil {
		return nil, nil
	}
	if reg == nil {
		return nil, fmt.Errorf("runtime: config wires dispatch.%s but no registry was given", capability)
	}
	primary, secondary, err := reg.GeneratorPair(*pair)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return &providerPair{
		capability: capability,
		primary:    dispatch.Provider[gen.Generator]{Name: pair.Primary.Name, Value: primary},
		secondary:  dispatch.Provider[gen.Generator]{Name: pair.Secondary.Name, Value: secondary},
	}, nil
}

// dispatcher builds the per-conversation dispatcher for one capability so
// provider-call events carry the conversation id. Breakers stay shared
// through the engine's table.
func (e *Engine) dispatcher(pair *providerPair, conversationID string) (*dispatch.Dispatcher[gen.Generator], error) {
	if pair == nil {
		return nil, nil
	}
	return dispatch.New(pair.capability, pair.primary, pair.secondary, e.table,
		dispatch.WithConfig(e.dispCfg),
		dispatch.WithEvents(e.emit, conversationID),
		dispatch.WithLogger(e.log),
	)
}

// Start begins a fresh conversation at the graph's start node.
func (e *Engine) Start() (*Conversation, error) {
	return e.launch(uuid.NewString(), nil)
}

// Resume reloads a parked conversation from the checkpoint store and
// continues it where the snapshot left off.
func (e *Engine) Resume(ctx context.Context, conversationID string) (*Conversation, error) {
	if e.store == nil {
		return nil, errors.New("runtime: no checkpoint store configured")
	}
	snap, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("runtime: resume %s: %w", conversationID, err)
	}
	return e.launch(conversationID, &snap)
}

func (e *Engine) launch(id string, snap *checkpoint.Snapshot) (*Conversation, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if _, exists := e.convs[id]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("runtime: conversation %s already active", id)
	}
	build := e.build
	e.mu.Unlock()

	speech, err := e.dispatcher(e.speech, id)
	if err != nil {
		return nil, err
	}
	language, err := e.dispatcher(e.language, id)
	if err != nil {
		return nil, err
	}

	cfg := ConversationConfig{
		ID:           id,
		Graph:        e.graph,
		Build:        build,
		Recognizers:  e.recognizers,
		Fallback:     e.fallback,
		Consensus:    e.voterCfg,
		Speech:       speech,
		Language:     language,
		Checkpoints:  e.store,
		Events:       e.emit,
		Logger:       e.log,
		ChainTimeout: e.chainTimeout,
	}

	var conv *Conversation
	if snap == nil {
		conv, err = NewConversation(cfg)
	} else {
		conv, err = ResumeConversation(cfg, *snap)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = conv.Close()
		return nil, ErrEngineClosed
	}
	if _, exists := e.convs[id]; exists {
		e.mu.Unlock()
		_ = conv.Close()
		return nil, fmt.Errorf("runtime: conversation %s already active", id)
	}
	e.convs[id] = conv
	e.mu.Unlock()

	go e.reap(conv)
	return conv, nil
}

// reap drops a conversation from the registry once it finishes.
func (e *Engine) reap(conv *Conversation) {
	<-conv.Done()
	e.mu.Lock()
	delete(e.convs, conv.ID())
	e.mu.Unlock()
}

// Reload swaps in cfg's service catalog, knowledge table, and field rules
// for conversations started from now on. Running conversations keep the
// chains they were built with. Graph and tuning changes are not applied
// here; those need a restart.
func (e *Engine) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("runtime: config must not be nil")
	}
	build := flow.NewStepBuilder(field.DefaultRegistry(), cfg.Deps(), cfg.FieldRules())

	// Every sequence node must still resolve against the new knowledge, or
	// a mid-flight reload could park conversations on broken chains.
	for _, id := range e.graph.NodeIDs() {
		node, _ := e.graph.Node(id)
		if node.Kind != flow.KindSequence {
			continue
		}
		if _, err := e.graph.BuildSequence(id, build); err != nil {
			return fmt.Errorf("runtime: reload: %w", err)
		}
	}

	e.mu.Lock()
	e.build = build
	e.mu.Unlock()
	e.log.Info("knowledge reloaded",
		"services", len(cfg.Services),
		"knowledge", len(cfg.Knowledge),
	)
	return nil
}

// Conversation returns the active conversation with the given id.
func (e *Engine) Conversation(id string) (*Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[id]
	return conv, ok
}

// ActiveConversations returns the number of running conversations.
func (e *Engine) ActiveConversations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.convs)
}

// ReadyCheck reports whether the engine can accept conversations. It is
// wired into the /readyz probe.
func (e *Engine) ReadyCheck(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// Close stops accepting new conversations and closes the running ones.
// Conversations mid-chain keep their checkpoints, so a restart can resume
// them. Close is safe to call multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	convs := make([]*Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		convs = append(convs, c)
	}
	e.mu.Unlock()

	for _, c := range convs {
		_ = c.Close()
	}
	return nil
}
