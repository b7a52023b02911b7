package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voximply/intake/internal/events"
)

// callLog records which providers a call reached.
type callLog struct {
	mu    sync.Mutex
	names []string
}

func (c *callLog) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func newSpeechDispatcher(t *testing.T, table *BreakerTable, opts ...Option) *Dispatcher[string] {
	t.Helper()
	d, err := New("speech",
		Provider[string]{Name: "eleven", Value: "eleven"},
		Provider[string]{Name: "polly", Value: "polly"},
		table, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCallUsesPrimaryFirst(t *testing.T) {
	d := newSpeechDispatcher(t, NewBreakerTable(nil))

	got, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		return "voiced by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "voiced by eleven" {
		t.Fatalf("result = %q, want voiced by eleven", got)
	}
}

func TestCallFallsBackOnPrimaryError(t *testing.T) {
	d := newSpeechDispatcher(t, NewBreakerTable(nil))
	log := &callLog{}

	got, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		log.add(v)
		if v == "eleven" {
			return "", errTest
		}
		return "voiced by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "voiced by polly" {
		t.Fatalf("result = %q, want voiced by polly", got)
	}
	want := []string{"eleven", "polly"}
	if names := log.list(); len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("providers called = %v, want %v", names, want)
	}
}

func TestCallAllProvidersFail(t *testing.T) {
	d := newSpeechDispatcher(t, NewBreakerTable(nil))

	_, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestCallSkipsOpenBreaker(t *testing.T) {
	table := NewBreakerTable(nil)
	d := newSpeechDispatcher(t, table, WithConfig(Config{
		Threshold:       2,
		RecoveryTimeout: time.Hour,
	}))

	failPrimary := func(_ context.Context, v string) (string, error) {
		if v == "eleven" {
			return "", errTest
		}
		return "voiced by " + v, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := Call(context.Background(), d, failPrimary); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := table.Get(BreakerConfig{Name: "eleven"}).State(); got != BreakerOpen {
		t.Fatalf("eleven state = %v, want open", got)
	}

	log := &callLog{}
	got, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		log.add(v)
		return "voiced by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "voiced by polly" {
		t.Fatalf("result = %q, want voiced by polly", got)
	}
	if names := log.list(); len(names) != 1 || names[0] != "polly" {
		t.Fatalf("providers called = %v, want [polly] only", names)
	}
}

func TestCallHalfOpenProbeClosesBreaker(t *testing.T) {
	table := NewBreakerTable(nil)
	d := newSpeechDispatcher(t, table, WithConfig(Config{
		Threshold:       1,
		RecoveryTimeout: 20 * time.Millisecond,
	}))

	_, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		if v == "eleven" {
			return "", errTest
		}
		return "voiced by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eleven := table.Get(BreakerConfig{Name: "eleven"})
	if eleven.State() != BreakerOpen {
		t.Fatal("expected eleven open")
	}

	time.Sleep(30 * time.Millisecond)

	got, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		return "voiced by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "voiced by eleven" {
		t.Fatalf("result = %q, want voiced by eleven (trial call)", got)
	}
	if eleven.State() != BreakerClosed {
		t.Fatalf("eleven state = %v, want closed after successful probe", eleven.State())
	}
	if n := eleven.Failures(); n != 0 {
		t.Fatalf("eleven failures = %d, want 0", n)
	}
}

func TestCallTimeoutCountsAsBreakerFailure(t *testing.T) {
	table := NewBreakerTable(nil)
	d := newSpeechDispatcher(t, table, WithConfig(Config{
		CallTimeout:     20 * time.Millisecond,
		Threshold:       1,
		RecoveryTimeout: time.Hour,
	}))

	got, err := Call(context.Background(), d, func(ctx context.Context, v string) (string, error) {
		if v == "eleven" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "voiced by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "voiced by polly" {
		t.Fatalf("result = %q, want voiced by polly", got)
	}
	if state := table.Get(BreakerConfig{Name: "eleven"}).State(); state != BreakerOpen {
		t.Fatalf("eleven state = %v, want open after timeout", state)
	}
}

func TestCallAbandonedCallStillRecorded(t *testing.T) {
	table := NewBreakerTable(nil)
	sink := &recordSink{}
	d := newSpeechDispatcher(t, table,
		WithConfig(Config{Threshold: 1, RecoveryTimeout: time.Hour}),
		WithEvents(sink, "conv-9"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := Call(ctx, d, func(_ context.Context, v string) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "voiced by " + v, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The in-flight call keeps running and its outcome still lands.
	waitFor(t, 2*time.Second, func() bool {
		return len(sink.byType(events.TypeProviderCall)) == 1
	}, "no provider_call event for abandoned call")

	ev := sink.byType(events.TypeProviderCall)[0]
	if ev.Data["provider"] != "eleven" || ev.Data["status"] != "ok" {
		t.Fatalf("event data = %v, want eleven/ok", ev.Data)
	}
	if got := table.Get(BreakerConfig{Name: "eleven"}).State(); got != BreakerClosed {
		t.Fatalf("eleven state = %v, want closed (late success recorded)", got)
	}
}

func TestCallCancelledContextShortCircuits(t *testing.T) {
	d := newSpeechDispatcher(t, NewBreakerTable(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Call(ctx, d, func(_ context.Context, _ string) (string, error) {
		called = true
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Fatal("fn should not run with a cancelled context")
	}
}

func TestCallBothBreakersOpen(t *testing.T) {
	table := NewBreakerTable(nil)
	d := newSpeechDispatcher(t, table, WithConfig(Config{
		Threshold:       1,
		RecoveryTimeout: time.Hour,
	}))
	table.Get(BreakerConfig{Name: "eleven"}).Record(false)
	table.Get(BreakerConfig{Name: "polly"}).Record(false)

	called := false
	_, err := Call(context.Background(), d, func(_ context.Context, _ string) (string, error) {
		called = true
		return "", nil
	})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if called {
		t.Fatal("fn should not run when every breaker is open")
	}
}

func TestCallEmitsProviderEvents(t *testing.T) {
	sink := &recordSink{}
	d := newSpeechDispatcher(t, NewBreakerTable(nil), WithEvents(sink, "conv-3"))

	if _, err := Call(context.Background(), d, func(_ context.Context, v string) (string, error) {
		return v, nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := sink.byType(events.TypeProviderCall)
	if len(calls) != 1 {
		t.Fatalf("provider_call events = %d, want 1", len(calls))
	}
	ev := calls[0]
	if ev.ConversationID != "conv-3" {
		t.Errorf("conversation id = %q, want conv-3", ev.ConversationID)
	}
	if ev.Data["provider"] != "eleven" || ev.Data["capability"] != "speech" || ev.Data["status"] != "ok" {
		t.Errorf("event data = %v, want eleven/speech/ok", ev.Data)
	}
	if _, ok := ev.Data["seconds"].(float64); !ok {
		t.Errorf("seconds missing or not a float: %v", ev.Data["seconds"])
	}
}

func TestNewValidation(t *testing.T) {
	table := NewBreakerTable(nil)
	p := Provider[string]{Name: "eleven", Value: "eleven"}
	s := Provider[string]{Name: "polly", Value: "polly"}

	cases := []struct {
		name string
		fn   func() error
	}{
		{"empty capability", func() error {
			_, err := New("", p, s, table)
			return err
		}},
		{"nil table", func() error {
			_, err := New("speech", p, s, nil)
			return err
		}},
		{"unnamed provider", func() error {
			_, err := New("speech", Provider[string]{Value: "x"}, s, table)
			return err
		}},
		{"duplicate names", func() error {
			_, err := New("speech", p, Provider[string]{Name: "eleven", Value: "other"}, table)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.fn() == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
