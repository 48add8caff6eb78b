package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domquery/kit"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteLogger_Init(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()

	if err := logger.Init(); err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='query_log'").Scan(&count)
	if count != 1 {
		t.Fatal("query_log table not created")
	}
}

func TestSQLiteLogger_Log_Sync(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()
	logger.Init()

	entry := &Entry{
		Action:   "resolve",
		PageID:   "page-1",
		Selector: "//div[@id='x']",
		Matches:  3,
	}
	if err := logger.Log(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	if entry.EntryID == "" {
		t.Fatal("entry_id not generated")
	}
	if entry.Timestamp == 0 {
		t.Fatal("timestamp not set")
	}
	if entry.Status != "success" {
		t.Fatalf("status: got %q, want 'success'", entry.Status)
	}
	if entry.Transport != "http" {
		t.Fatalf("transport: got %q, want 'http'", entry.Transport)
	}

	var selector string
	db.QueryRow("SELECT selector FROM query_log WHERE entry_id = ?", entry.EntryID).Scan(&selector)
	if selector != "//div[@id='x']" {
		t.Fatalf("DB selector: got %q", selector)
	}
}

func TestSQLiteLogger_LogAsync(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	logger.Init()

	logger.LogAsync(&Entry{Action: "async_test"})

	// Close flushes the buffer.
	logger.Close()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM query_log WHERE action='async_test'").Scan(&count)
	if count != 1 {
		t.Fatalf("async entry count: got %d", count)
	}
}

func TestSQLiteLogger_LogAsyncAfterClose(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	logger.Init()

	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	// A late entry is dropped instead of panicking on the closed channel.
	logger.LogAsync(&Entry{Action: "late"})

	var count int
	db.QueryRow("SELECT COUNT(*) FROM query_log WHERE action='late'").Scan(&count)
	if count != 0 {
		t.Fatalf("late entry count: got %d, want 0", count)
	}
}

func TestSQLiteLogger_FillDefaults_Error(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()
	logger.Init()

	entry := &Entry{Action: "wait", Error: "timeout after 30s"}
	logger.Log(context.Background(), entry)

	if entry.Status != "error" {
		t.Fatalf("status for error entry: got %q", entry.Status)
	}
}

func TestSQLiteLogger_WithIDGenerator(t *testing.T) {
	db := setupTestDB(t)
	gen := func() string { return "custom_id" }

	logger := NewSQLiteLogger(db, WithIDGenerator(gen))
	defer logger.Close()
	logger.Init()

	entry := &Entry{Action: "count"}
	logger.Log(context.Background(), entry)

	if entry.EntryID != "custom_id" {
		t.Fatalf("custom ID: got %q", entry.EntryID)
	}
}

func TestMiddleware_Success(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	logger.Init()

	base := func(ctx context.Context, req any) (any, error) {
		return "result", nil
	}

	mw := Middleware(logger, "resolve")
	endpoint := mw(base)

	ctx := kit.WithTransport(context.Background(), "mcp")
	ctx = kit.WithRequestID(ctx, "req_abc")

	resp, err := endpoint(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "result" {
		t.Fatalf("response: got %v", resp)
	}

	logger.Close()

	var transport, requestID, status string
	db.QueryRow("SELECT transport, request_id, status FROM query_log WHERE action='resolve'").
		Scan(&transport, &requestID, &status)
	if transport != "mcp" {
		t.Fatalf("transport: got %q", transport)
	}
	if requestID != "req_abc" {
		t.Fatalf("request_id: got %q", requestID)
	}
	if status != "success" {
		t.Fatalf("status: got %q", status)
	}
}

func TestMiddleware_Error(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	logger.Init()

	errFail := errors.New("endpoint failed")
	base := func(ctx context.Context, req any) (any, error) {
		return nil, errFail
	}

	endpoint := Middleware(logger, "wait")(base)
	_, err := endpoint(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}

	logger.Close()

	var status, errMsg string
	db.QueryRow("SELECT status, error_message FROM query_log WHERE action='wait'").
		Scan(&status, &errMsg)
	if status != "error" {
		t.Fatalf("status: got %q", status)
	}
	if errMsg != "endpoint failed" {
		t.Fatalf("error_message: got %q", errMsg)
	}
}

func TestSQLiteLogger_BatchFlush(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	logger.Init()

	for i := 0; i < 50; i++ {
		logger.LogAsync(&Entry{Action: "batch_test"})
	}

	time.Sleep(150 * time.Millisecond)
	logger.Close()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM query_log WHERE action='batch_test'").Scan(&count)
	if count != 50 {
		t.Fatalf("batch count: got %d, want 50", count)
	}
}

func TestCleanup(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()
	logger.Init()

	old := &Entry{Action: "old", Timestamp: time.Now().Add(-48 * time.Hour).Unix()}
	recent := &Entry{Action: "recent"}
	logger.Log(context.Background(), old)
	logger.Log(context.Background(), recent)

	if err := Cleanup(context.Background(), db, 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM query_log").Scan(&count)
	if count != 1 {
		t.Fatalf("count after cleanup: got %d, want 1", count)
	}
}
