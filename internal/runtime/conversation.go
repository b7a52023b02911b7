// Package runtime executes conversations. Each conversation pairs an
// objective-graph pointer with the active node's capture sequencer and owns
// one consumer goroutine fed by an ordered inbox, so transcripts are always
// processed strictly in arrival order. Audio goes through the consensus
// voter, whose voted transcripts re-enter the same inbox; prompts leave
// through a channel the transport drains, optionally voiced by the speech
// dispatcher on the way out.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/checkpoint"
	"github.com/voximply/intake/internal/consensus"
	"github.com/voximply/intake/internal/dispatch"
	"github.com/voximply/intake/internal/events"
	"github.com/voximply/intake/internal/flow"
	"github.com/voximply/intake/internal/report"
	"github.com/voximply/intake/internal/sequence"
	"github.com/voximply/intake/pkg/audio"
	"github.com/voximply/intake/pkg/provider/asr"
	"github.com/voximply/intake/pkg/provider/gen"
)

const (
	// DefaultChainTimeout bounds one capture chain from first prompt to
	// completion before the conversation gives up on the node.
	DefaultChainTimeout = 30 * time.Second

	// inboxSize is the buffer depth of the conversation inbox. Producers
	// block once it fills, which backpressures the transport rather than
	// reordering or dropping utterances.
	inboxSize = 32

	// promptBufSize is the buffer depth of the outgoing prompt channel.
	promptBufSize = 16
)

// ErrConversationClosed is returned when input arrives after the
// conversation has finished or been closed.
var ErrConversationClosed = errors.New("runtime: conversation closed")

// Conversation outcomes, as reported in Result and the ended event.
const (
	// OutcomeCompleted means a terminal node was reached without ever
	// taking a failure edge.
	OutcomeCompleted = "completed"

	// OutcomeFailed means a chain failed or timed out along the way.
	OutcomeFailed = "failed"

	// OutcomeClosed means the conversation was closed before reaching a
	// terminal node. Its checkpoint is kept so it can be resumed.
	OutcomeClosed = "closed"
)

// Prompt is one utterance for the caller. Audio is non-nil when a speech
// dispatcher voiced the text.
type Prompt struct {
	Text  string
	Audio []byte
	Node  flow.NodeID
}

// Result is the final state of a finished conversation.
type Result struct {
	Outcome  string
	Node     flow.NodeID
	Message  string
	Captured map[capture.FieldType]string
}

type msgKind int

const (
	msgTranscript msgKind = iota
	msgTimeout
)

// message is one inbox item.
type message struct {
	kind       msgKind
	text       string
	confidence float64
	source     string
	node       flow.NodeID // timeout messages: the node the timer was armed for
}

// ConversationConfig carries everything a conversation needs. ID, Graph, and
// Build are required; the rest degrade gracefully when absent: no
// recognizers means transcript-only input, a nil dispatcher disables that
// capability, a nil store disables checkpointing.
type ConversationConfig struct {
	ID    string
	Graph *flow.Graph
	Build flow.StepBuilder

	Recognizers []asr.Recognizer
	Fallback    asr.Recognizer
	Consensus   consensus.Config

	Speech   *dispatch.Dispatcher[gen.Generator]
	Language *dispatch.Dispatcher[gen.Generator]

	Checkpoints checkpoint.Store
	Events      events.Sink
	Logger      *slog.Logger

	ChainTimeout time.Duration
}

// Conversation drives one caller through the objective graph.
type Conversation struct {
	id    string
	log   *slog.Logger
	emit  events.Sink
	store checkpoint.Store

	graph   *flow.Graph
	pointer *flow.Pointer
	build   flow.StepBuilder
	seq     *sequence.Sequencer

	voter    *consensus.Voter
	speech   *dispatch.Dispatcher[gen.Generator]
	language *dispatch.Dispatcher[gen.Generator]

	chainTimeout time.Duration
	timer        *time.Timer

	inbox   chan message
	prompts chan Prompt

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	captured map[capture.FieldType]string
	failed   bool
	finished bool

	mu        sync.Mutex
	result    *Result
	closeOnce sync.Once
}

// NewConversation builds and starts a conversation at the graph's start
// node. The first prompt is delivered on Prompts once the consumer drains it.
func NewConversation(cfg ConversationConfig) (*Conversation, error) {
	return newConversation(cfg, nil)
}

// ResumeConversation rebuilds a conversation from a checkpoint snapshot and
// re-prompts the field that was active when the snapshot was taken.
func ResumeConversation(cfg ConversationConfig, snap checkpoint.Snapshot) (*Conversation, error) {
	return newConversation(cfg, &snap)
}

func newConversation(cfg ConversationConfig, snap *checkpoint.Snapshot) (*Conversation, error) {
	if cfg.ID == "" {
		return nil, errors.New("runtime: ID must not be empty")
	}
	if cfg.Graph == nil {
		return nil, errors.New("runtime: Graph must not be nil")
	}
	if cfg.Build == nil {
		return nil, errors.New("runtime: Build must not be nil")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = DefaultChainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		id:           cfg.ID,
		log:          cfg.Logger.With("conversation_id", cfg.ID),
		emit:         cfg.Events,
		store:        cfg.Checkpoints,
		graph:        cfg.Graph,
		pointer:      cfg.Graph.Enter(),
		build:        cfg.Build,
		speech:       cfg.Speech,
		language:     cfg.Language,
		chainTimeout: cfg.ChainTimeout,
		inbox:        make(chan message, inboxSize),
		prompts:      make(chan Prompt, promptBufSize),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		captured:     make(map[capture.FieldType]string),
	}

	if len(cfg.Recognizers) > 0 {
		opts := []consensus.Option{
			consensus.WithConfig(cfg.Consensus),
			consensus.WithEvents(cfg.Events, cfg.ID),
			consensus.WithLogger(c.log),
		}
		if cfg.Fallback != nil {
			opts = append(opts, consensus.WithFallback(cfg.Fallback))
		}
		if cfg.Language != nil {
			opts = append(opts, consensus.WithArbiter(&rankArbiter{d: cfg.Language}))
		}
		voter, err := consensus.New(cfg.Recognizers, c.deliverVoted, opts...)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("runtime: build voter: %w", err)
		}
		c.voter = voter
	}

	var reprompt string
	if snap != nil {
		var err error
		reprompt, err = c.restore(*snap)
		if err != nil {
			c.shutdownVoter()
			cancel()
			return nil, err
		}
	}

	go c.run(snap == nil, reprompt)
	return c, nil
}

// restore points the conversation at the snapshot's node and rebuilds the
// sequencer mid-run. It returns the prompt that re-engages the caller.
func (c *Conversation) restore(snap checkpoint.Snapshot) (string, error) {
	if err := c.pointer.MoveTo(flow.NodeID(snap.NodeID)); err != nil {
		return "", fmt.Errorf("runtime: restore %s: %w", c.id, err)
	}
	for k, v := range snap.Captured {
		c.captured[k] = v
	}

	node := c.pointer.Current()
	if node.Kind != flow.KindSequence {
		return "", fmt.Errorf("runtime: restore %s: node %q is not a sequence", c.id, snap.NodeID)
	}
	if len(snap.Fields) != len(node.Fields) {
		return "", fmt.Errorf("runtime: restore %s: node %q now has %d fields, snapshot has %d",
			c.id, snap.NodeID, len(node.Fields), len(snap.Fields))
	}

	steps := make([]sequence.Step, len(snap.Fields))
	chainData := make(map[capture.FieldType]string)
	for i, fs := range snap.Fields {
		if fs.Type != node.Fields[i] {
			return "", fmt.Errorf("runtime: restore %s: node %q field %d is now %s, snapshot has %s",
				c.id, snap.NodeID, i, node.Fields[i], fs.Type)
		}
		st, err := c.build(fs.Type)
		if err != nil {
			return "", fmt.Errorf("runtime: restore %s: %w", c.id, err)
		}
		st.Capture = fs.Restore()
		steps[i] = st
		if fs.State == capture.StateCompleted {
			chainData[fs.Type] = fs.Normalized
		}
	}

	seq, err := sequence.Resume(steps, snap.FieldIndex, chainData)
	if err != nil {
		return "", fmt.Errorf("runtime: restore %s: %w", c.id, err)
	}
	c.seq = seq

	if seq.Done() || seq.Failed() {
		// The snapshot outlived the chain somehow; nothing to re-prompt.
		return "", nil
	}
	active := steps[snap.FieldIndex]
	switch active.Capture.State {
	case capture.StateEliciting:
		return active.Primitive.Elicit(), nil
	case capture.StateConfirming:
		return active.Primitive.Confirm(active.Capture.Raw), nil
	default:
		return "", fmt.Errorf("runtime: restore %s: field %s in state %q cannot resume",
			c.id, active.Capture.Type, active.Capture.State)
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Prompts returns the channel the conversation speaks through. It is closed
// when the conversation finishes.
func (c *Conversation) Prompts() <-chan Prompt { return c.prompts }

// Done is closed once the conversation has finished and Result is available.
func (c *Conversation) Done() <-chan struct{} { return c.done }

// Result returns the final state. ok is false while the conversation is
// still running.
func (c *Conversation) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return Result{}, false
	}
	return *c.result, true
}

// HearTranscript feeds one externally transcribed utterance into the inbox.
func (c *Conversation) HearTranscript(text string, confidence float64) error {
	if c.ctx.Err() != nil {
		return ErrConversationClosed
	}
	c.post(message{kind: msgTranscript, text: text, confidence: confidence, source: "direct"})
	return nil
}

// HearAudio feeds raw audio into the consensus voter. Requires recognizers.
func (c *Conversation) HearAudio(seg audio.Segment) error {
	if c.ctx.Err() != nil {
		return ErrConversationClosed
	}
	if c.voter == nil {
		return errors.New("runtime: no recognizers configured")
	}
	c.voter.Push(seg)
	return nil
}

// Close stops the conversation. A conversation closed before reaching a
// terminal node keeps its checkpoint and can be resumed later. Close blocks
// until the run loop has exited and is safe to call multiple times.
func (c *Conversation) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

// deliverVoted is the voter's callback; it runs on the voter's worker
// goroutine and re-enters the inbox like any other transcript.
func (c *Conversation) deliverVoted(t consensus.Transcript) {
	c.post(message{kind: msgTranscript, text: t.Text, confidence: t.Confidence, source: t.Source})
}

// post enqueues a message, giving up when the conversation shuts down.
func (c *Conversation) post(m message) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

// run is the conversation's single consumer goroutine. All graph, sequencer,
// and checkpoint state is confined to it.
func (c *Conversation) run(fresh bool, reprompt string) {
	defer close(c.done)
	defer c.shutdownVoter()
	defer close(c.prompts)

	c.event(events.TypeConversationStarted, map[string]any{
		"node":    string(c.pointer.Current().ID),
		"resumed": !fresh,
	})

	if fresh {
		c.enterNode("start")
	} else {
		c.reengage(reprompt)
	}

	for !c.finished {
		select {
		case <-c.ctx.Done():
			c.finish(OutcomeClosed)
		case m := <-c.inbox:
			switch m.kind {
			case msgTranscript:
				c.onTranscript(m)
			case msgTimeout:
				c.onTimeout(m)
			}
		}
	}
}

// reengage re-arms a resumed conversation: watchdog, voter mode, and the
// prompt that picks up where the snapshot left off.
func (c *Conversation) reengage(reprompt string) {
	if c.seq == nil {
		c.finish(OutcomeFailed)
		return
	}
	if c.seq.Done() {
		c.chainCompleted(c.seq.CapturedData())
		return
	}
	if c.seq.Failed() {
		c.chainFailed("")
		return
	}
	c.armChainTimer(c.pointer.Current().ID)
	c.setConsensus(c.seq.WantConsensus())
	if reprompt != "" {
		c.say(reprompt)
	}
}

// onTranscript routes one utterance to the active sequencer.
func (c *Conversation) onTranscript(m message) {
	if c.seq == nil {
		c.log.Debug("transcript with no active chain", "source", m.source)
		return
	}
	out, err := c.seq.HandleTranscript(m.text, m.confidence)
	if err != nil {
		if errors.Is(err, sequence.ErrHalted) {
			c.log.Debug("transcript after chain halted", "source", m.source)
			return
		}
		// Driving the state machine outside its table is a bug, not input.
		c.log.Error("transcript processing failed", "error", err, "source", m.source)
		report.Error(err, map[string]string{"conversation_id": c.id})
		return
	}
	c.handleOutcome(out)
	c.saveCheckpoint()
}

// onTimeout handles the chain watchdog firing. Stale timers for nodes the
// conversation already left are ignored.
func (c *Conversation) onTimeout(m message) {
	if c.finished || c.seq == nil || c.pointer.Current().ID != m.node {
		return
	}
	c.event(events.TypeChainTimeout, map[string]any{
		"node":    string(m.node),
		"timeout": c.chainTimeout.String(),
	})
	c.log.Warn("chain timed out", "node", string(m.node), "timeout", c.chainTimeout)
	c.chainFailed("")
}

// handleOutcome applies one sequencer outcome: journal the transitions,
// speak the prompt, retune the voter, and follow the graph on completion
// or failure.
func (c *Conversation) handleOutcome(out sequence.Outcome) {
	for _, tr := range out.Transitions {
		c.event(events.TypeTransition, map[string]any{
			"field":   string(tr.Field),
			"index":   tr.Index,
			"from":    string(tr.Record.From),
			"to":      string(tr.Record.To),
			"trigger": string(tr.Record.Trigger),
		})
		switch tr.Record.To {
		case capture.StateCompleted:
			c.event(events.TypeFieldCompleted, map[string]any{"field": string(tr.Field)})
		case capture.StateFailed:
			c.event(events.TypeFieldFailed, map[string]any{"field": string(tr.Field)})
		}
	}

	// Retune the voter before inviting the answer, so the reply to this
	// prompt is already heard in the right mode.
	c.setConsensus(out.Consensus)
	if out.Prompt != "" {
		c.say(out.Prompt)
	}

	if out.Done {
		c.chainCompleted(out.Captured)
		return
	}
	if out.Failed {
		c.chainFailed(out.Field)
	}
}

// chainCompleted merges the chain's data and follows the success edge.
func (c *Conversation) chainCompleted(data map[capture.FieldType]string) {
	c.stopChainTimer()
	node := c.pointer.Current().ID
	for k, v := range data {
		c.captured[k] = v
	}
	c.event(events.TypeChainCompleted, map[string]any{
		"node":   string(node),
		"fields": len(data),
	})
	c.seq = nil

	if _, moved := c.pointer.OnSuccess(); moved {
		c.enterNode("success")
		return
	}
	c.finish(OutcomeCompleted)
}

// chainFailed marks the conversation degraded and follows the failure edge.
func (c *Conversation) chainFailed(field capture.FieldType) {
	c.stopChainTimer()
	node := c.pointer.Current().ID
	data := map[string]any{"node": string(node)}
	if field != "" {
		data["field"] = string(field)
	}
	c.event(events.TypeChainFailed, data)
	c.seq = nil
	c.failed = true

	if _, moved := c.pointer.OnFailure(); moved {
		c.enterNode("failure")
		return
	}
	c.finish(OutcomeFailed)
}

// enterNode runs the node under the pointer: terminals speak their message
// and finish, sequence nodes build a fresh chain and elicit the first field.
func (c *Conversation) enterNode(via string) {
	node := c.pointer.Current()
	c.event(events.TypeNodeEntered, map[string]any{
		"node": string(node.ID),
		"kind": string(node.Kind),
		"via":  via,
	})

	if node.Kind == flow.KindTerminal {
		if node.Message != "" {
			c.say(node.Message)
		}
		if c.failed {
			c.finish(OutcomeFailed)
		} else {
			c.finish(OutcomeCompleted)
		}
		return
	}

	seq, err := c.graph.BuildSequence(node.ID, c.build)
	if err != nil {
		c.log.Error("chain construction failed", "node", string(node.ID), "error", err)
		report.Error(err, map[string]string{"conversation_id": c.id, "node": string(node.ID)})
		c.failed = true
		c.finish(OutcomeFailed)
		return
	}
	c.seq = seq

	out, err := seq.Start()
	if err != nil {
		c.log.Error("chain start failed", "node", string(node.ID), "error", err)
		report.Error(err, map[string]string{"conversation_id": c.id, "node": string(node.ID)})
		c.failed = true
		c.finish(OutcomeFailed)
		return
	}
	c.armChainTimer(node.ID)
	c.handleOutcome(out)
	c.saveCheckpoint()
}

// say delivers one prompt, voicing it through the speech dispatcher when one
// is wired. Voicing failures degrade to text rather than losing the prompt.
func (c *Conversation) say(text string) {
	var voiced []byte
	if c.speech != nil {
		resp, err := dispatch.Call(c.ctx, c.speech, func(ctx context.Context, g gen.Generator) (gen.Response, error) {
			return g.Generate(ctx, gen.Request{Capability: gen.CapabilitySpeech, Prompt: text})
		})
		if err != nil {
			c.log.Warn("prompt voicing failed, delivering text only", "error", err)
		} else {
			voiced = resp.Audio
		}
	}

	c.event(events.TypePrompt, map[string]any{
		"text":   text,
		"voiced": voiced != nil,
	})
	select {
	case c.prompts <- Prompt{Text: text, Audio: voiced, Node: c.pointer.Current().ID}:
	case <-c.ctx.Done():
	}
}

func (c *Conversation) setConsensus(want bool) {
	if c.voter != nil {
		c.voter.SetEnabled(want)
	}
}

func (c *Conversation) armChainTimer(node flow.NodeID) {
	c.stopChainTimer()
	c.timer = time.AfterFunc(c.chainTimeout, func() {
		c.post(message{kind: msgTimeout, node: node})
	})
}

func (c *Conversation) stopChainTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// saveCheckpoint snapshots the active chain so a crash or park resumes
// mid-field instead of restarting the node.
func (c *Conversation) saveCheckpoint() {
	if c.store == nil || c.seq == nil || c.finished {
		return
	}
	snap := checkpoint.Snapshot{
		ConversationID: c.id,
		NodeID:         string(c.pointer.Current().ID),
		FieldIndex:     c.seq.CurrentIndex(),
		Fields:         checkpoint.SnapFields(c.seq.Fields()),
		Captured:       c.capturedCopy(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := c.store.Save(c.ctx, snap); err != nil {
		c.log.Warn("checkpoint save failed", "error", err)
	}
}

// clearCheckpoint removes the snapshot once the conversation settles. It is
// not called between nodes: the next node's save overwrites instead, so a
// crash at a node boundary still resumes rather than starting over.
func (c *Conversation) clearCheckpoint() {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(c.ctx, c.id); err != nil {
		c.log.Warn("checkpoint delete failed", "error", err)
	}
}

func (c *Conversation) capturedCopy() map[capture.FieldType]string {
	out := make(map[capture.FieldType]string, len(c.captured))
	for k, v := range c.captured {
		out[k] = v
	}
	return out
}

// finish records the result, emits the ended event, and releases the run
// loop. Closed conversations keep their checkpoint for resume; settled ones
// already cleared it.
func (c *Conversation) finish(outcome string) {
	if c.finished {
		return
	}
	c.finished = true
	c.stopChainTimer()

	node := c.pointer.Current()
	res := Result{
		Outcome:  outcome,
		Node:     node.ID,
		Captured: c.capturedCopy(),
	}
	if node.Kind == flow.KindTerminal {
		res.Message = node.Message
	}

	c.mu.Lock()
	c.result = &res
	c.mu.Unlock()

	if outcome != OutcomeClosed {
		c.clearCheckpoint()
	}

	c.event(events.TypeConversationEnded, map[string]any{
		"outcome": outcome,
		"node":    string(node.ID),
		"fields":  len(res.Captured),
	})
	c.log.Info("conversation ended", "outcome", outcome, "node", string(node.ID))
	c.cancel()
}

func (c *Conversation) shutdownVoter() {
	if c.voter != nil {
		_ = c.voter.Close()
	}
}

func (c *Conversation) event(typ events.Type, data map[string]any) {
	c.emit.Emit(c.ctx, events.New(typ, c.id, data))
}

// rankArbiter asks the language dispatcher to pick among disagreeing
// transcription candidates. The voter validates the answer and falls back to
// its own baseline when the reply names none of the candidates.
type rankArbiter struct {
	d *dispatch.Dispatcher[gen.Generator]
}

func (a *rankArbiter) Rank(ctx context.Context, candidates []string) (string, error) {
	resp, err := dispatch.Call(ctx, a.d, func(ctx context.Context, g gen.Generator) (gen.Response, error) {
		return g.Generate(ctx, gen.Request{
			Capability: gen.CapabilityLanguage,
			Prompt:     rankPrompt(candidates),
		})
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func rankPrompt(candidates []string) string {
	var sb strings.Builder
	sb.WriteString("These are candidate transcriptions of the same utterance. Reply with the most plausible candidate, verbatim, and nothing else.\n")
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, cand)
	}
	return sb.String()
}
