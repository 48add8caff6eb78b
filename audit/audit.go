// Package audit records every query answered by the server into a SQLite
// log: who asked, which selector, how many matches, how long it took. The
// log is observability, not engine state; a failing audit store never
// blocks a query.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domquery/idgen"
	"github.com/hazyhaar/domquery/kit"
)

// Entry is one logged query.
type Entry struct {
	EntryID    string
	Action     string // register | resolve | count | wait | apply_batch
	PageID     string
	Selector   string
	State      string // wait state, empty otherwise
	Strategy   string
	Matches    int
	Parameters string // optional JSON
	DurationMs int64
	Transport  string
	RequestID  string
	RemoteAddr string
	Status     string // success | error
	Error      string
	Timestamp  int64 // epoch seconds
}

const schema = `
CREATE TABLE IF NOT EXISTS query_log (
	entry_id      TEXT PRIMARY KEY,
	action        TEXT NOT NULL,
	page_id       TEXT,
	selector      TEXT,
	state         TEXT,
	strategy      TEXT,
	matches       INTEGER,
	parameters    TEXT,
	duration_ms   INTEGER,
	transport     TEXT,
	request_id    TEXT,
	remote_addr   TEXT,
	status        TEXT NOT NULL,
	error_message TEXT,
	timestamp     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_log_page ON query_log(page_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_query_log_action ON query_log(action, timestamp);
`

const (
	flushBatch    = 32
	flushInterval = 100 * time.Millisecond
	bufferSize    = 1024
)

// SQLiteLogger writes entries to a SQLite database, synchronously or through
// a buffered background writer.
type SQLiteLogger struct {
	db    *sql.DB
	newID idgen.Generator

	ch       chan *Entry
	wg       sync.WaitGroup
	closeOne sync.Once

	mu     sync.Mutex // guards closed against LogAsync racing Close
	closed bool
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets a custom ID generator for entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// NewSQLiteLogger creates a logger on the given database and starts the
// background writer.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:    db,
		newID: idgen.Prefixed("qry_", idgen.Default),
		ch:    make(chan *Entry, bufferSize),
	}
	for _, o := range opts {
		o(l)
	}
	l.wg.Add(1)
	go l.writer()
	return l
}

// Init creates the log schema.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Log writes one entry synchronously, filling defaults from the context.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(ctx, e)
	return l.insert(ctx, e)
}

// LogAsync queues an entry for the background writer. When the buffer is
// full, or the logger is already closed, the entry is dropped with a
// warning rather than blocking or panicking the caller.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fillDefaults(context.Background(), e)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		slog.Warn("audit: logger closed, entry dropped", "action", e.Action)
		return
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit: buffer full, entry dropped", "action", e.Action)
	}
}

// Close flushes the buffer and stops the background writer. Entries logged
// after Close are dropped.
func (l *SQLiteLogger) Close() error {
	l.closeOne.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
	})
	l.wg.Wait()
	return nil
}

func (l *SQLiteLogger) fillDefaults(ctx context.Context, e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
	if e.Transport == "" {
		e.Transport = kit.GetTransport(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = kit.GetRequestID(ctx)
	}
	if e.RemoteAddr == "" {
		e.RemoteAddr = kit.GetRemoteAddr(ctx)
	}
}

func (l *SQLiteLogger) insert(ctx context.Context, e *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO query_log (
			entry_id, action, page_id, selector, state, strategy, matches,
			parameters, duration_ms, transport, request_id, remote_addr,
			status, error_message, timestamp
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Action, e.PageID, e.Selector, e.State, e.Strategy, e.Matches,
		e.Parameters, e.DurationMs, e.Transport, e.RequestID, e.RemoteAddr,
		e.Status, e.Error, e.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// writer drains the channel, flushing in batches so a chatty server does not
// pay one transaction per query.
func (l *SQLiteLogger) writer() {
	defer l.wg.Done()

	buf := make([]*Entry, 0, flushBatch)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(buf) == 0 {
			return
		}
		l.flushBatch(buf)
		buf = buf[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			buf = append(buf, e)
			if len(buf) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *SQLiteLogger) flushBatch(entries []*Entry) {
	tx, err := l.db.Begin()
	if err != nil {
		slog.Error("audit: flush begin failed", "error", err)
		return
	}
	for _, e := range entries {
		_, err := tx.Exec(`
			INSERT INTO query_log (
				entry_id, action, page_id, selector, state, strategy, matches,
				parameters, duration_ms, transport, request_id, remote_addr,
				status, error_message, timestamp
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			e.EntryID, e.Action, e.PageID, e.Selector, e.State, e.Strategy, e.Matches,
			e.Parameters, e.DurationMs, e.Transport, e.RequestID, e.RemoteAddr,
			e.Status, e.Error, e.Timestamp)
		if err != nil {
			slog.Error("audit: flush insert failed", "error", err, "entry_id", e.EntryID)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("audit: flush commit failed", "error", err)
	}
}

// Middleware returns a kit.Middleware that logs every call through the
// endpoint under the given action, asynchronously.
func Middleware(l *SQLiteLogger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			e := &Entry{
				Action:     action,
				DurationMs: time.Since(start).Milliseconds(),
				Transport:  kit.GetTransport(ctx),
				RequestID:  kit.GetRequestID(ctx),
				RemoteAddr: kit.GetRemoteAddr(ctx),
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}

// Cleanup deletes entries older than the retention window.
func Cleanup(ctx context.Context, db *sql.DB, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-retention).Unix()
	if _, err := db.ExecContext(ctx, "DELETE FROM query_log WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("audit: cleanup: %w", err)
	}
	return nil
}
