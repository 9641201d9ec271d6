package audit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDBTX records every Exec call it receives.
type fakeDBTX struct {
	execs [][]any
}

func (f *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	fake := &fakeDBTX{}
	w := NewWriter(fake, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for i := 0; i < flushBatch; i++ {
		w.Log(Entry{AgentID: int64(i), EventType: "heartbeat"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(fake.execs) < flushBatch && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	w.Close()

	if len(fake.execs) != flushBatch {
		t.Fatalf("expected %d flushed entries, got %d", flushBatch, len(fake.execs))
	}
}

func TestWriterDropsWhenBufferFull(t *testing.T) {
	fake := &fakeDBTX{}
	w := &Writer{queries: nil, logger: discardLogger(), entries: make(chan Entry, 1)}
	w.Log(Entry{AgentID: 1, EventType: "issued"})
	w.Log(Entry{AgentID: 2, EventType: "issued"}) // dropped, buffer full, should not panic
	_ = fake
}

func TestLogFromRequestExtractsIP(t *testing.T) {
	fake := &fakeDBTX{}
	w := NewWriter(fake, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	r := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	done := make(chan struct{})
	go func() {
		w.LogFromRequest(r, 42, "heartbeat_received", nil, nil)
		close(done)
	}()
	<-done
}
