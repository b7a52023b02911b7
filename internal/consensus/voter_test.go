package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voximply/intake/internal/events"
	"github.com/voximply/intake/pkg/audio"
	"github.com/voximply/intake/pkg/provider/asr"
	"github.com/voximply/intake/pkg/provider/asr/mock"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// seg returns ms milliseconds of 8 kHz mono PCM.
func seg(ms int) audio.Segment {
	return audio.Segment{Data: make([]byte, ms*16), SampleRate: 8000, Channels: 1}
}

// transcriptChan adapts a channel to the deliver callback.
func transcriptChan() (chan Transcript, func(Transcript)) {
	ch := make(chan Transcript, 8)
	return ch, func(tr Transcript) { ch <- tr }
}

func waitTranscript(t *testing.T, ch chan Transcript) Transcript {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript delivered")
		return Transcript{}
	}
}

func expectNoTranscript(t *testing.T, ch chan Transcript, wait time.Duration) {
	t.Helper()
	select {
	case tr := <-ch:
		t.Fatalf("unexpected transcript %+v", tr)
	case <-time.After(wait):
	}
}

// fastConfig keeps timer paths short for tests.
func fastConfig() Config {
	return Config{
		BufferCap:      10 * time.Second,
		SilenceTimeout: 50 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

type recordArbiter struct {
	mu     sync.Mutex
	calls  int
	choice string
	err    error
}

func (a *recordArbiter) Rank(_ context.Context, candidates []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	if a.choice != "" {
		return a.choice, nil
	}
	return candidates[0], nil
}

func (a *recordArbiter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type recordEvents struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recordEvents) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
}

func (r *recordEvents) byType(typ events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.got {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestAgreementSkipsRanker(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "book a haircut", Confidence: 0.8}}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "Book a haircut.", Confidence: 0.9}}
	c := &mock.Recognizer{NameVal: "c", Result: asr.Result{Text: "look at hair gut", Confidence: 0.7}}
	arb := &recordArbiter{}
	sink := &recordEvents{}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b, c}, deliver,
		WithConfig(fastConfig()),
		WithArbiter(arb),
		WithEvents(sink, "c1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(1200))

	tr := waitTranscript(t, ch)
	if tr.Text != "Book a haircut." {
		t.Errorf("Text = %q, want the agreed candidate", tr.Text)
	}
	if tr.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want the best agreeing score", tr.Confidence)
	}
	if tr.Source != "consensus" {
		t.Errorf("Source = %q", tr.Source)
	}
	if arb.count() != 0 {
		t.Errorf("arbiter called %d times, want 0", arb.count())
	}

	votes := sink.byType(events.TypeConsensusVote)
	if len(votes) != 1 {
		t.Fatalf("vote events = %d, want 1", len(votes))
	}
	if votes[0].Data["outcome"] != "agreed" {
		t.Errorf("outcome = %v", votes[0].Data["outcome"])
	}
	if votes[0].Data["vote_count"] != 3 {
		t.Errorf("vote_count = %v, want 3", votes[0].Data["vote_count"])
	}
}

func TestDisagreementInvokesRankerOnce(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "tuesday at five", Confidence: 0.6}}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "choose day of hive", Confidence: 0.5}}
	c := &mock.Recognizer{NameVal: "c", Result: asr.Result{Text: "to stay alive", Confidence: 0.4}}
	arb := &recordArbiter{choice: "tuesday at five"}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b, c}, deliver,
		WithConfig(fastConfig()),
		WithArbiter(arb),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(800))

	tr := waitTranscript(t, ch)
	if tr.Text != "tuesday at five" {
		t.Errorf("Text = %q, want arbiter's choice", tr.Text)
	}
	if arb.count() != 1 {
		t.Errorf("arbiter called %d times, want exactly 1", arb.count())
	}
}

func TestDisagreementWithoutArbiterPicksLongest(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "yes", Confidence: 0.6}}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "yes please mate", Confidence: 0.5}}
	c := &mock.Recognizer{NameVal: "c", Result: asr.Result{Text: "yep", Confidence: 0.4}}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b, c}, deliver, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(800))

	if tr := waitTranscript(t, ch); tr.Text != "yes please mate" {
		t.Errorf("Text = %q, want longest candidate", tr.Text)
	}
}

func TestFailedArbiterFallsBackToLongest(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "no", Confidence: 0.6}}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "not at all thanks", Confidence: 0.5}}
	arb := &recordArbiter{err: errors.New("arbiter down")}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b}, deliver,
		WithConfig(fastConfig()),
		WithArbiter(arb),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(500))

	if tr := waitTranscript(t, ch); tr.Text != "not at all thanks" {
		t.Errorf("Text = %q, want longest candidate", tr.Text)
	}
	if arb.count() != 1 {
		t.Errorf("arbiter called %d times, want 1", arb.count())
	}
}

func TestAllFailedFallsBackToDefaultRecognizer(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Err: errors.New("down")}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "   "}}
	fb := &mock.Recognizer{NameVal: "reserve", Result: asr.Result{Text: "still heard you", Confidence: 0.4}}
	sink := &recordEvents{}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b}, deliver,
		WithConfig(fastConfig()),
		WithFallback(fb),
		WithEvents(sink, "c1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(500))

	if tr := waitTranscript(t, ch); tr.Text != "still heard you" {
		t.Errorf("Text = %q, want fallback result", tr.Text)
	}
	if fb.Calls() != 1 {
		t.Errorf("fallback called %d times, want 1", fb.Calls())
	}

	votes := sink.byType(events.TypeConsensusVote)
	if len(votes) != 1 || votes[0].Data["outcome"] != "fallback" {
		t.Errorf("vote events = %+v", votes)
	}
}

func TestBufferCapFlushesWithoutSilence(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "long utterance", Confidence: 0.9}}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a}, deliver,
		WithConfig(Config{
			BufferCap:      100 * time.Millisecond,
			SilenceTimeout: time.Minute, // must not be the trigger
			CallTimeout:    time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(60))
	v.Push(seg(60))

	if tr := waitTranscript(t, ch); tr.Text != "long utterance" {
		t.Errorf("Text = %q", tr.Text)
	}
}

func TestDisabledIsPassThrough(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "gday", Confidence: 0.8}}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "unused", Confidence: 0.8}}
	sink := &recordEvents{}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b}, deliver,
		WithConfig(Config{
			BufferCap:      10 * time.Second,
			SilenceTimeout: time.Minute,
			CallTimeout:    time.Second,
		}),
		WithEvents(sink, "c1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	// Never enabled: each segment goes straight to the fallback recognizer.
	v.Push(seg(100))

	tr := waitTranscript(t, ch)
	if tr.Text != "gday" || tr.Source != "a" {
		t.Errorf("transcript = %+v, want pass-through from recognizer a", tr)
	}
	if b.Calls() != 0 {
		t.Errorf("secondary recognizer called %d times in pass-through", b.Calls())
	}
	if votes := sink.byType(events.TypeConsensusVote); len(votes) != 0 {
		t.Errorf("pass-through emitted %d vote events", len(votes))
	}
}

func TestDisableFlushesBufferedAudio(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "buffered words", Confidence: 0.9}}
	b := &mock.Recognizer{NameVal: "b", Result: asr.Result{Text: "buffered words", Confidence: 0.8}}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a, b}, deliver,
		WithConfig(Config{
			BufferCap:      10 * time.Second,
			SilenceTimeout: time.Minute,
			CallTimeout:    time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(200))
	v.SetEnabled(false)

	tr := waitTranscript(t, ch)
	if tr.Text != "buffered words" || tr.Source != "consensus" {
		t.Errorf("transcript = %+v, want consensus flush on disable", tr)
	}
}

func TestSilenceTimeoutTriggersFlush(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "short answer", Confidence: 0.9}}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a}, deliver, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	v.SetEnabled(true)
	v.Push(seg(300)) // well below the 10s cap; only silence can flush

	if tr := waitTranscript(t, ch); tr.Text != "short answer" {
		t.Errorf("Text = %q", tr.Text)
	}
}

func TestCloseCancelsInFlightWork(t *testing.T) {
	slow := &mock.Recognizer{
		NameVal: "slow",
		Result:  asr.Result{Text: "too late", Confidence: 0.9},
		Delay:   5 * time.Second,
	}

	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{slow}, deliver,
		WithConfig(Config{
			BufferCap:      50 * time.Millisecond,
			SilenceTimeout: time.Minute,
			CallTimeout:    10 * time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	v.SetEnabled(true)
	v.Push(seg(60)) // crosses the cap, fan-out starts

	time.Sleep(20 * time.Millisecond) // let the worker pick the job up

	start := time.Now()
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %v, want prompt cancellation", elapsed)
	}
	expectNoTranscript(t, ch, 100*time.Millisecond)
}

func TestPushAfterCloseIsNoop(t *testing.T) {
	a := &mock.Recognizer{NameVal: "a", Result: asr.Result{Text: "x", Confidence: 0.9}}
	ch, deliver := transcriptChan()
	v, err := New([]asr.Recognizer{a}, deliver, WithConfig(fastConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	v.Push(seg(100)) // must not panic
	expectNoTranscript(t, ch, 100*time.Millisecond)
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, func(Transcript) {}); err == nil {
		t.Error("New with no recognizers succeeded")
	}
	a := &mock.Recognizer{}
	if _, err := New([]asr.Recognizer{a}, nil); err == nil {
		t.Error("New with nil deliver succeeded")
	}
}

func TestMajorityGrouping(t *testing.T) {
	tests := []struct {
		name       string
		candidates []candidate
		want       string
		ok         bool
	}{
		{
			"two of three agree",
			[]candidate{
				{text: "book a haircut", confidence: 0.8},
				{text: "Book a haircut.", confidence: 0.9},
				{text: "look at hair gut", confidence: 0.7},
			},
			"Book a haircut.", true,
		},
		{
			"all disagree",
			[]candidate{
				{text: "one", confidence: 0.8},
				{text: "two", confidence: 0.9},
			},
			"", false,
		},
		{
			"unanimous",
			[]candidate{
				{text: "same", confidence: 0.5},
				{text: "same", confidence: 0.6},
				{text: "same", confidence: 0.4},
			},
			"same", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := majority(tt.candidates)
			if ok != tt.ok || (ok && got.text != tt.want) {
				t.Errorf("majority() = %q, %v; want %q, %v", got.text, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLongestCandidateTieBreak(t *testing.T) {
	got := longestCandidate([]candidate{
		{text: "bb"},
		{text: "aa"},
		{text: "c"},
	})
	if got.text != "aa" {
		t.Errorf("longestCandidate = %q, want lexicographic winner among longest", got.text)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Book a Haircut.", "book a haircut"},
		{"  spaced   out  ", "spaced out"},
		{"it's 5:30", "its 530"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
