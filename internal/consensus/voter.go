// Package consensus reconciles redundant speech recognition. While enabled,
// a [Voter] buffers audio into utterance-sized segments, fans each segment
// out to every configured recognizer concurrently, and reduces the candidate
// transcripts to one: unanimous or majority agreement wins outright,
// disagreement is settled by a single ranking call, and total recognition
// failure degrades to the fallback recognizer rather than dropping audio.
//
// While disabled the voter is a pass-through: each segment goes straight to
// the fallback recognizer with no buffering. The sequencer toggles the mode
// per field, so expensive multi-engine recognition is spent only on critical
// fields.
//
// A Voter belongs to one conversation. Push and SetEnabled may be called from
// the conversation loop; recognition runs on the voter's own worker goroutine
// and results are handed to the deliver callback in flush order.
package consensus

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voximply/intake/internal/events"
	"github.com/voximply/intake/pkg/audio"
	"github.com/voximply/intake/pkg/provider/asr"
)

const (
	// DefaultBufferCap flushes the buffer once this much audio accumulates.
	DefaultBufferCap = 5000 * time.Millisecond

	// DefaultSilenceTimeout flushes the buffer after this long without new
	// audio.
	DefaultSilenceTimeout = 1000 * time.Millisecond

	// DefaultCallTimeout bounds each recognizer call during fan-out.
	DefaultCallTimeout = 10 * time.Second
)

// Transcript is the voter's output: one utterance of recognized text.
type Transcript struct {
	Text       string
	Confidence float64

	// Source names the producer: a recognizer name for pass-through and
	// fallback results, "consensus" for voted ones.
	Source string
}

// Arbiter ranks disagreeing candidates. Rank must return one of the given
// candidates; anything else (or an error) falls back to the longest-candidate
// baseline.
type Arbiter interface {
	Rank(ctx context.Context, candidates []string) (string, error)
}

// Config tunes voter timing. Zero values take the defaults.
type Config struct {
	BufferCap      time.Duration
	SilenceTimeout time.Duration
	CallTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferCap <= 0 {
		c.BufferCap = DefaultBufferCap
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// Option customises a Voter.
type Option func(*Voter)

// WithConfig overrides the timing configuration.
func WithConfig(cfg Config) Option {
	return func(v *Voter) { v.cfg = cfg.withDefaults() }
}

// WithArbiter installs an external ranking call for disagreement resolution.
func WithArbiter(a Arbiter) Option {
	return func(v *Voter) { v.arbiter = a }
}

// WithFallback overrides the fallback recognizer (default: the first one).
func WithFallback(r asr.Recognizer) Option {
	return func(v *Voter) {
		if r != nil {
			v.fallback = r
		}
	}
}

// WithEvents routes vote events to sink under the given conversation id.
func WithEvents(sink events.Sink, conversationID string) Option {
	return func(v *Voter) {
		if sink != nil {
			v.emit = sink
		}
		v.conversationID = conversationID
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(v *Voter) {
		if log != nil {
			v.log = log
		}
	}
}

// flushJob is one unit of recognition work.
type flushJob struct {
	seg audio.Segment

	// passthrough skips the fan-out and uses the fallback recognizer only.
	passthrough bool
}

// Voter buffers audio and reduces redundant recognition to one transcript.
type Voter struct {
	cfg            Config
	recognizers    []asr.Recognizer
	fallback       asr.Recognizer
	arbiter        Arbiter
	deliver        func(Transcript)
	emit           events.Sink
	conversationID string
	log            *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}

	mu        sync.Mutex
	buf       audio.Segment
	lastAudio time.Time
	silence   *time.Timer
	pending   []flushJob
	enabled   bool
	closed    bool
}

// New builds a Voter over at least one recognizer. Results are handed to
// deliver from the voter's worker goroutine. The voter starts disabled.
func New(recognizers []asr.Recognizer, deliver func(Transcript), opts ...Option) (*Voter, error) {
	if len(recognizers) == 0 {
		return nil, errors.New("consensus: at least one recognizer required")
	}
	if deliver == nil {
		return nil, errors.New("consensus: deliver callback required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &Voter{
		cfg:         Config{}.withDefaults(),
		recognizers: recognizers,
		fallback:    recognizers[0],
		deliver:     deliver,
		emit:        events.Discard{},
		log:         slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(v)
	}
	go v.worker()
	return v, nil
}

// SetEnabled switches between consensus buffering and pass-through. Turning
// consensus off flushes any buffered audio through the fan-out first, so
// nothing recorded under the stricter mode is lost.
func (v *Voter) SetEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.enabled == enabled {
		return
	}
	if !enabled && !v.buf.Empty() {
		v.flushLocked()
	}
	v.enabled = enabled
}

// Enabled reports the current mode.
func (v *Voter) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// Push ingests one audio segment. Never blocks: recognition happens on the
// worker goroutine.
func (v *Voter) Push(seg audio.Segment) {
	if seg.Empty() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	if !v.enabled {
		v.enqueueLocked(flushJob{seg: seg, passthrough: true})
		return
	}

	v.buf = v.buf.Append(seg)
	v.lastAudio = time.Now()

	if v.buf.Duration() >= v.cfg.BufferCap {
		v.flushLocked()
		return
	}
	v.armSilenceLocked()
}

// Close cancels the silence watchdog and any in-flight fan-out, then waits
// for the worker to exit. Buffered audio that never flushed is discarded.
func (v *Voter) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		<-v.done
		return nil
	}
	v.closed = true
	if v.silence != nil {
		v.silence.Stop()
	}
	v.mu.Unlock()

	v.cancel()
	<-v.done
	return nil
}

// armSilenceLocked (re)starts the silence watchdog. Caller holds v.mu.
func (v *Voter) armSilenceLocked() {
	if v.silence != nil {
		v.silence.Stop()
	}
	v.silence = time.AfterFunc(v.cfg.SilenceTimeout, v.onSilence)
}

func (v *Voter) onSilence() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.buf.Empty() {
		return
	}
	// A Push racing this fire re-armed a fresh timer; leave the buffer to it.
	if time.Since(v.lastAudio) < v.cfg.SilenceTimeout {
		return
	}
	v.flushLocked()
}

// flushLocked moves the buffer onto the work queue. Caller holds v.mu.
func (v *Voter) flushLocked() {
	if v.silence != nil {
		v.silence.Stop()
		v.silence = nil
	}
	seg := v.buf
	v.buf = audio.Segment{}
	v.enqueueLocked(flushJob{seg: seg})
}

// enqueueLocked appends a job and wakes the worker. Caller holds v.mu.
func (v *Voter) enqueueLocked(job flushJob) {
	v.pending = append(v.pending, job)
	select {
	case v.kick <- struct{}{}:
	default:
	}
}

func (v *Voter) worker() {
	defer close(v.done)
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-v.kick:
		}
		for {
			v.mu.Lock()
			if len(v.pending) == 0 {
				v.mu.Unlock()
				break
			}
			job := v.pending[0]
			v.pending = v.pending[1:]
			v.mu.Unlock()

			if job.passthrough {
				v.passthrough(job.seg)
			} else {
				v.vote(job.seg)
			}
		}
	}
}

// passthrough performs single-engine recognition on the fallback recognizer.
func (v *Voter) passthrough(seg audio.Segment) {
	res, err := v.transcribe(v.fallback, seg)
	if err != nil {
		v.log.Warn("pass-through recognition failed",
			"recognizer", v.fallback.Name(), "error", err)
		return
	}
	v.deliver(Transcript{Text: res.Text, Confidence: res.Confidence, Source: v.fallback.Name()})
}

// candidate is one recognizer's answer for a segment.
type candidate struct {
	name       string
	text       string
	confidence float64
}

// vote runs the consensus pipeline on one buffered segment.
func (v *Voter) vote(seg audio.Segment) {
	start := time.Now()

	candidates := v.fanout(seg)

	var (
		chosen  candidate
		outcome string
	)
	switch {
	case len(candidates) == 0:
		outcome = "fallback"
		res, err := v.transcribe(v.fallback, seg)
		if err != nil {
			v.log.Warn("all recognition failed for segment",
				"duration", seg.Duration(), "error", err)
			v.emitVote(nil, "", 0, outcome, start)
			return
		}
		chosen = candidate{name: v.fallback.Name(), text: res.Text, confidence: res.Confidence}

	case len(candidates) == 1:
		outcome = "single"
		chosen = candidates[0]

	default:
		if agreed, ok := majority(candidates); ok {
			outcome = "agreed"
			chosen = agreed
		} else {
			outcome = "ranked"
			chosen = v.rank(candidates)
		}
	}

	v.emitVote(candidates, chosen.text, len(candidates), outcome, start)
	v.deliver(Transcript{Text: chosen.text, Confidence: chosen.confidence, Source: "consensus"})
}

// fanout sends the segment to every recognizer concurrently and keeps the
// usable answers. Per-candidate failures are tolerated; only context
// cancellation aborts the group.
func (v *Voter) fanout(seg audio.Segment) []candidate {
	results := make([]*candidate, len(v.recognizers))

	g, gctx := errgroup.WithContext(v.ctx)
	for i, r := range v.recognizers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := v.transcribeCtx(gctx, r, seg)
			if err != nil {
				v.log.Debug("recognizer failed", "recognizer", r.Name(), "error", err)
				return nil
			}
			if strings.TrimSpace(res.Text) == "" {
				return nil
			}
			results[i] = &candidate{name: r.Name(), text: res.Text, confidence: res.Confidence}
			return nil
		})
	}
	// Per-recognizer errors are swallowed above; only cancellation lands here.
	if err := g.Wait(); err != nil {
		return nil
	}

	out := make([]candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// majority groups candidates by normalized text and returns the best member
// of the largest group when at least two candidates agree.
func majority(candidates []candidate) (candidate, bool) {
	groups := make(map[string][]candidate)
	for _, c := range candidates {
		key := normalizeText(c.text)
		groups[key] = append(groups[key], c)
	}

	var (
		best    []candidate
		bestKey string
	)
	for key, group := range groups {
		if len(group) > len(best) || (len(group) == len(best) && key < bestKey) {
			best = group
			bestKey = key
		}
	}
	if len(best) < 2 {
		return candidate{}, false
	}

	// The agreeing engines corroborate each other; surface the most confident
	// rendition of the agreed text.
	top := best[0]
	for _, c := range best[1:] {
		if c.confidence > top.confidence {
			top = c
		}
	}
	return top, true
}

// rank resolves full disagreement with exactly one ranking call.
func (v *Voter) rank(candidates []candidate) candidate {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.text
	}

	if v.arbiter != nil {
		ctx, cancel := context.WithTimeout(v.ctx, v.cfg.CallTimeout)
		choice, err := v.arbiter.Rank(ctx, texts)
		cancel()
		if err == nil {
			for _, c := range candidates {
				if c.text == choice {
					return c
				}
			}
			v.log.Warn("arbiter returned unknown candidate", "choice", choice)
		} else {
			v.log.Warn("arbiter failed, using longest candidate", "error", err)
		}
	}
	return longestCandidate(candidates)
}

// longestCandidate is the deterministic ranking baseline: most normalized
// content wins, ties break lexicographically.
func longestCandidate(candidates []candidate) candidate {
	sorted := append([]candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := normalizeText(sorted[i].text), normalizeText(sorted[j].text)
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return sorted[0]
}

// normalizeText lowercases, strips punctuation, and collapses whitespace so
// surface differences between engines do not mask agreement.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func (v *Voter) transcribe(r asr.Recognizer, seg audio.Segment) (asr.Result, error) {
	return v.transcribeCtx(v.ctx, r, seg)
}

func (v *Voter) transcribeCtx(ctx context.Context, r asr.Recognizer, seg audio.Segment) (asr.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.CallTimeout)
	defer cancel()
	return r.Transcribe(ctx, seg)
}

func (v *Voter) emitVote(candidates []candidate, chosen string, votes int, outcome string, start time.Time) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.text
	}
	v.emit.Emit(v.ctx, events.New(events.TypeConsensusVote, v.conversationID, map[string]any{
		"candidates": texts,
		"chosen":     chosen,
		"vote_count": votes,
		"outcome":    outcome,
		"seconds":    time.Since(start).Seconds(),
	}))
}
