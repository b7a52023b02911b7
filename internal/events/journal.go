package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// journalSchemaVersion is the latest journal schema. Bump when adding
// migrations.
const journalSchemaVersion = 1

// defaultQueueSize bounds the async write queue.
const defaultQueueSize = 256

// Journal is a Sink that appends events to a local SQLite database, giving
// every conversation an auditable, replayable history that survives restarts.
//
// Writes are asynchronous through a bounded queue: Emit never blocks the
// conversation loop. When the queue is full the oldest queued event is
// dropped to make room for the newest. Close drains the queue before
// returning.
type Journal struct {
	db      *sql.DB
	queue   chan Event
	closed  chan struct{}
	drained chan struct{}
	once    sync.Once
	dropped atomic.Int64
	log     *slog.Logger
}

// JournalOption customises a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger for write failures and drops.
func WithJournalLogger(log *slog.Logger) JournalOption {
	return func(j *Journal) {
		if log != nil {
			j.log = log
		}
	}
}

// WithQueueSize overrides the async queue capacity.
func WithQueueSize(n int) JournalOption {
	return func(j *Journal) {
		if n > 0 {
			j.queue = make(chan Event, n)
		}
	}
}

// OpenJournal opens (creating if needed) the journal database at path and
// starts the background writer.
func OpenJournal(path string, opts ...JournalOption) (*Journal, error) {
	// Pragmas ride the connection string so every pooled connection gets them.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateJournal(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:      db,
		queue:   make(chan Event, defaultQueueSize),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	go j.writer()
	return j, nil
}

// Emit queues the event for writing. Never blocks; when the queue is full the
// oldest queued event is discarded.
func (j *Journal) Emit(_ context.Context, e Event) {
	select {
	case <-j.closed:
		return
	default:
	}

	select {
	case j.queue <- e:
		return
	default:
	}

	// Queue full: evict the oldest entry, then retry once.
	select {
	case <-j.queue:
		j.dropped.Add(1)
	default:
	}
	select {
	case j.queue <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Ping verifies the database is reachable. Used by readiness checks.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close drains queued events, stops the writer, and closes the database.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.closed) })
	<-j.drained
	return j.db.Close()
}

func (j *Journal) writer() {
	for {
		select {
		case e := <-j.queue:
			j.insert(e)
		case <-j.closed:
			for {
				select {
				case e := <-j.queue:
					j.insert(e)
				default:
					close(j.drained)
					return
				}
			}
		}
	}
}

func (j *Journal) insert(e Event) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, err = j.db.Exec(`
		INSERT INTO events (id, conversation_id, event_type, at, data_json)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.ConversationID, string(e.Type), e.Timestamp.UnixMilli(), string(data))
	if err != nil {
		j.log.Error("journal write failed", "event_id", e.ID, "error", err)
	}
}

// History returns a conversation's events in emission order. ULIDs sort
// lexically by creation time, so ordering by id is ordering by time.
func (j *Journal) History(ctx context.Context, conversationID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, conversation_id, event_type, at, data_json
		FROM events
		WHERE conversation_id = ?
		ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			typ  string
			at   int64
			data string
		)
		if err := rows.Scan(&e.ID, &e.ConversationID, &typ, &at, &data); err != nil {
			return nil, fmt.Errorf("journal: history: %w", err)
		}
		e.Type = Type(typ)
		e.Timestamp = time.UnixMilli(at).UTC()
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			e.Data = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// migrateJournal applies schema migrations based on user_version.
func migrateJournal(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("journal: get user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS events (
		  id              TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL,
		  event_type      TEXT NOT NULL,
		  at              INTEGER NOT NULL,
		  data_json       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_conversation
		ON events(conversation_id, id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("journal: migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", journalSchemaVersion)); err != nil {
			return fmt.Errorf("journal: set user_version: %w", err)
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("journal: verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal: expected WAL mode, got %s", mode)
	}
	return nil
}

var _ Sink = (*Journal)(nil)
