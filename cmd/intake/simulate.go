package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/voximply/intake/internal/capture"
	"github.com/voximply/intake/internal/checkpoint"
	pgcheckpoint "github.com/voximply/intake/internal/checkpoint/postgres"
	"github.com/voximply/intake/internal/config"
	"github.com/voximply/intake/internal/events"
	"github.com/voximply/intake/internal/health"
	"github.com/voximply/intake/internal/observe"
	"github.com/voximply/intake/internal/report"
	"github.com/voximply/intake/internal/runtime"
	"github.com/voximply/intake/pkg/provider/asr"
	asrmock "github.com/voximply/intake/pkg/provider/asr/mock"
	"github.com/voximply/intake/pkg/provider/gen"
	genmock "github.com/voximply/intake/pkg/provider/gen/mock"
)

// turn is one scripted caller utterance.
type turn struct {
	text       string
	confidence float64
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a scripted conversation through the full engine",
		Long: `simulate starts one conversation against the configured objective graph and
feeds it caller utterances from a script file, printing the agent's prompts
as they are emitted.

Script format: one utterance per line. Blank lines and lines starting with
'#' are skipped. A line may carry an ASR confidence before a pipe:

    jane at gmail dot com
    0.30|mumble mumble
    yes

Providers named in the config are replaced with inert mocks; the simulation
exercises the capture logic, the graph, the journal, and the checkpoint
store, not the network. With --listen, the ops endpoints (/healthz /readyz
/metrics and, when server.event_tap is on, /events) are served while the
simulation runs.`,
		RunE: runSimulate,
	}
	cmd.Flags().StringP("script", "s", "", "path to the transcript script file (required)")
	cmd.Flags().String("listen", "", "serve ops endpoints on this address while simulating")
	cmd.Flags().Duration("pace", 200*time.Millisecond, "delay between scripted utterances")
	cmd.Flags().Duration("timeout", 60*time.Second, "overall simulation deadline")
	cmd.Flags().String("resume", "", "resume this conversation id from the checkpoint store instead of starting fresh")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	scriptPath, _ := cmd.Flags().GetString("script")
	listen, _ := cmd.Flags().GetString("listen")
	pace, _ := cmd.Flags().GetDuration("pace")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	resumeID, _ := cmd.Flags().GetString("resume")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	turns, err := loadScript(scriptPath)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return fmt.Errorf("script %q contains no utterances", scriptPath)
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	report.Init(report.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
	})
	defer report.Flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "intake",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// Event sinks: logs and metrics always, journal and tap when configured.
	sinks := events.Multi{events.NewSlogSink(logger), events.NewMetricsSink(nil)}

	var journal *events.Journal
	if cfg.Journal.Path != "" {
		journal, err = events.OpenJournal(cfg.Journal.Path,
			events.WithJournalLogger(logger),
			events.WithQueueSize(cfg.Journal.QueueSize),
		)
		if err != nil {
			return err
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	var tap *events.Tap
	if listen != "" && cfg.Server.EventTap {
		tap = events.NewTap(logger)
		defer tap.Close()
		sinks = append(sinks, tap)
	}

	store, storeClose, err := openCheckpoints(ctx, cfg)
	if err != nil {
		return err
	}
	defer storeClose()

	eng, err := runtime.New(cfg, mockRegistry(cfg),
		runtime.WithLogger(logger),
		runtime.WithEvents(sinks),
		runtime.WithCheckpoints(store),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Knowledge hot-reload: catalog or FAQ edits made while the simulation
	// runs apply to conversations started after the change.
	watcher, err := config.NewWatcher(configPath, func(_, new *config.Config, d config.ConfigDiff) {
		if !d.KnowledgeChanged {
			return
		}
		if err := eng.Reload(new); err != nil {
			logger.Warn("knowledge reload rejected", "error", err)
		}
	}, config.WithWatchLogger(logger))
	if err != nil {
		return err
	}
	defer watcher.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if listen != "" {
		srv := opsServer(listen, eng, journal, store, tap)
		g.Go(func() error {
			logger.Info("ops listener up", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop() // simulation over: release the ops listener too
		return drive(gctx, eng, resumeID, turns, pace, timeout)
	})

	return g.Wait()
}

// drive runs one conversation through the script and prints the exchange.
func drive(ctx context.Context, eng *runtime.Engine, resumeID string, turns []turn, pace, timeout time.Duration) error {
	var (
		conv *runtime.Conversation
		err  error
	)
	if resumeID != "" {
		conv, err = eng.Resume(ctx, resumeID)
	} else {
		conv, err = eng.Start()
	}
	if err != nil {
		return err
	}
	defer conv.Close()

	fmt.Printf("conversation %s\n", conv.ID())

	// Prompts print as they arrive; the inbox keeps processing in order.
	promptsDone := make(chan struct{})
	go func() {
		defer close(promptsDone)
		for p := range conv.Prompts() {
			fmt.Printf("agent>  %s\n", p.Text)
		}
	}()

	deadline := time.After(timeout)
	for _, t := range turns {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conv.Done():
			// Graph reached a terminal before the script ran out.
			return printResult(conv, promptsDone)
		case <-deadline:
			return errors.New("simulation timed out")
		case <-time.After(pace):
		}
		fmt.Printf("caller> %s\n", t.text)
		if err := conv.HearTranscript(t.text, t.confidence); err != nil {
			if errors.Is(err, runtime.ErrConversationClosed) {
				break
			}
			return err
		}
	}

	select {
	case <-conv.Done():
	case <-deadline:
		fmt.Println("script exhausted without reaching a terminal node; conversation parked")
		_ = conv.Close()
	case <-ctx.Done():
		_ = conv.Close()
	}
	return printResult(conv, promptsDone)
}

func printResult(conv *runtime.Conversation, promptsDone <-chan struct{}) error {
	<-promptsDone
	res, ok := conv.Result()
	if !ok {
		return errors.New("conversation finished without a result")
	}
	fmt.Printf("\noutcome: %s (node %s)\n", res.Outcome, res.Node)
	keys := make([]string, 0, len(res.Captured))
	for k := range res.Captured {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-10s %s\n", k, res.Captured[capture.FieldType(k)])
	}
	return nil
}

// loadScript parses the transcript script file.
func loadScript(path string) ([]turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	var turns []turn
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		t := turn{text: text, confidence: 0.92}
		if conf, rest, ok := strings.Cut(text, "|"); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(conf), 64)
			if err != nil || v < 0 || v > 1 {
				return nil, fmt.Errorf("script line %d: confidence %q is not in [0,1]", line, conf)
			}
			t.confidence = v
			t.text = strings.TrimSpace(rest)
		}
		turns = append(turns, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return turns, nil
}

// openCheckpoints builds the configured checkpoint store.
func openCheckpoints(ctx context.Context, cfg *config.Config) (checkpoint.Store, func(), error) {
	switch cfg.Checkpoint.Resolved() {
	case config.BackendPostgres:
		store, err := pgcheckpoint.NewStore(ctx, cfg.Checkpoint.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store := checkpoint.NewMemStore()
		return store, store.Close, nil
	}
}

// mockRegistry registers an inert mock factory for every provider name the
// config mentions, so production configs simulate without network access.
func mockRegistry(cfg *config.Config) *config.Registry {
	reg := config.NewRegistry()
	for _, entry := range cfg.Consensus.Recognizers {
		reg.RegisterRecognizer(entry.Name, func(e config.ProviderEntry) (asr.Recognizer, error) {
			return &asrmock.Recognizer{
				NameVal: e.Name,
				Result:  asr.Result{Text: "", Confidence: 0},
			}, nil
		})
	}
	for _, pair := range []*config.CapabilityConfig{cfg.Dispatch.Speech, cfg.Dispatch.Language} {
		if pair == nil {
			continue
		}
		for _, entry := range []config.ProviderEntry{pair.Primary, pair.Secondary} {
			reg.RegisterGenerator(entry.Name, func(e config.ProviderEntry) (gen.Generator, error) {
				return &genmock.Generator{
					NameVal:  e.Name,
					Response: gen.Response{Text: "ok"},
				}, nil
			})
		}
	}
	return reg
}

// pinger narrows a store to its readiness probe, when it has one.
type pinger interface {
	Ping(ctx context.Context) error
}

// opsServer assembles the /healthz /readyz /metrics (/events) mux.
func opsServer(addr string, eng *runtime.Engine, journal *events.Journal, store checkpoint.Store, tap *events.Tap) *http.Server {
	checkers := []health.Checker{
		{Name: "engine", Check: eng.ReadyCheck},
	}
	if journal != nil {
		checkers = append(checkers, health.PingChecker("journal", journal))
	}
	if p, ok := store.(pinger); ok {
		checkers = append(checkers, health.PingChecker("checkpoints", p))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if tap != nil {
		mux.Handle("GET /events", tap)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
