// Package audit is the append-only writer for AgentTokenAuditEntry rows
// (§3, §4.A). Entries are buffered and flushed asynchronously so that a
// token authentication or heartbeat on the hot path never waits on a
// database write.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/netreach/controlplane/internal/db"
)

// Entry is one agent-token lifecycle or liveness event.
type Entry struct {
	AgentID     int64
	EventType   string
	ActorUserID *int64
	IPAddress   *string
	Details     json.RawMessage
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine.
type Writer struct {
	queries *db.Queries
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(dbtx db.DBTX, logger *slog.Logger) *Writer {
	return &Writer{
		queries: db.New(dbtx),
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database. It returns when the context is cancelled and all pending
// entries are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the caller;
// if the buffer is full the entry is dropped and a warning is logged.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"agent_id", entry.AgentID, "event_type", entry.EventType)
	}
}

// LogFromRequest is a convenience method that extracts the caller's IP from
// the request before enqueuing the entry.
func (w *Writer) LogFromRequest(r *http.Request, agentID int64, eventType string, actorUserID *int64, details json.RawMessage) {
	ip := clientIP(r)
	entry := Entry{
		AgentID:     agentID,
		EventType:   eventType,
		ActorUserID: actorUserID,
		Details:     details,
	}
	if ip != "" {
		entry.IPAddress = &ip
	}
	w.Log(entry)
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database. One event's write
// failure is logged and skipped; it never blocks the rest of the batch.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		if err := w.queries.CreateAuditEntry(ctx, db.CreateAuditEntryParams{
			AgentID:     e.AgentID,
			EventType:   e.EventType,
			ActorUserID: e.ActorUserID,
			IPAddress:   e.IPAddress,
			Details:     e.Details,
		}); err != nil {
			w.logger.Error("writing audit log entry", "error", err,
				"agent_id", e.AgentID, "event_type", e.EventType)
		}
	}
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
