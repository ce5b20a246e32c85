// Package ledger records writer sessions and per-document outcomes in a SQL
// store. It is a status.Sink: attach it next to the terminal or Kafka sink
// and every indexing session leaves a queryable trail.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Session states.
const (
	StateOpen      = "open"
	StateCommitted = "committed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// OutcomeProcessed marks a document the writer has picked up. Whether it
// became searchable depends on how its session ended.
const OutcomeProcessed = "processed"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS index_sessions (
		session_id  TEXT PRIMARY KEY,
		state       TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS document_events (
		session_id  TEXT NOT NULL,
		document_id TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_events_document ON document_events (document_id)`,
	`CREATE INDEX IF NOT EXISTS idx_document_events_session ON document_events (session_id)`,
}

type Session struct {
	ID         string     `json:"session_id"`
	State      string     `json:"state"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type DocumentEvent struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger writes status messages from a background goroutine. Emit never
// blocks; messages that do not fit in the buffer are dropped with a warning.
type Ledger struct {
	db     *database.Client
	ch     chan status.Message
	logger *slog.Logger
	done   chan struct{}
}

// New creates the ledger tables if needed.
func New(ctx context.Context, db *database.Client, bufferSize int) (*Ledger, error) {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	for _, stmt := range schema {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrating ledger schema: %w", err)
		}
	}
	return &Ledger{
		db:     db,
		ch:     make(chan status.Message, bufferSize),
		logger: logger.WithComponent("ledger"),
		done:   make(chan struct{}),
	}, nil
}

func (l *Ledger) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		for {
			select {
			case m, ok := <-l.ch:
				if !ok {
					return
				}
				l.record(ctx, m)
			case <-ctx.Done():
				l.drain()
				return
			}
		}
	}()
}

func (l *Ledger) Emit(m status.Message) {
	if m.SessionID == "" || m.Op == status.OpSearch {
		return
	}
	select {
	case l.ch <- m:
	default:
		l.logger.Warn("ledger message dropped (buffer full)", "session_id", m.SessionID)
	}
}

// Close stops accepting messages and waits until the buffered ones are
// written.
func (l *Ledger) Close() {
	close(l.ch)
	<-l.done
}

func (l *Ledger) drain() {
	for {
		select {
		case m, ok := <-l.ch:
			if !ok {
				return
			}
			l.record(context.Background(), m)
		default:
			return
		}
	}
}

func (l *Ledger) record(ctx context.Context, m status.Message) {
	if err := l.Record(ctx, m); err != nil {
		l.logger.Error("failed to record status message", "session_id", m.SessionID, "error", err)
	}
}

// Record writes one message synchronously.
func (l *Ledger) Record(ctx context.Context, m status.Message) error {
	at := m.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return l.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, l.db.Rebind(
			`INSERT INTO index_sessions (session_id, state, started_at) VALUES (?, ?, ?)
			 ON CONFLICT (session_id) DO NOTHING`),
			m.SessionID, StateOpen, at); err != nil {
			return fmt.Errorf("opening session row: %w", err)
		}

		if state := sessionState(m); state != "" {
			_, err := tx.ExecContext(ctx, l.db.Rebind(
				`UPDATE index_sessions SET state = ?, message = ?, error = ?, finished_at = ? WHERE session_id = ?`),
				state, m.Text, m.Err, at, m.SessionID)
			if err != nil {
				return fmt.Errorf("closing session row: %w", err)
			}
			return nil
		}

		if outcome := documentOutcome(m); outcome != "" {
			_, err := tx.ExecContext(ctx, l.db.Rebind(
				`INSERT INTO document_events (session_id, document_id, outcome, message, error, recorded_at)
				 VALUES (?, ?, ?, ?, ?, ?)`),
				m.SessionID, m.DocumentID, outcome, m.Text, m.Err, at)
			if err != nil {
				return fmt.Errorf("recording document event: %w", err)
			}
		}
		return nil
	})
}

func sessionState(m status.Message) string {
	switch {
	case m.Op == status.OpCommit && m.Kind == status.KindSuccess:
		return StateCommitted
	case m.Kind == status.KindError && m.DocumentID == "":
		return StateFailed
	case m.Outcome == StateCancelled && m.DocumentID == "":
		return StateCancelled
	}
	return ""
}

func documentOutcome(m status.Message) string {
	if m.DocumentID == "" {
		return ""
	}
	if m.Outcome != "" {
		return m.Outcome
	}
	if m.Kind == status.KindProgress {
		return OutcomeProcessed
	}
	return ""
}

// Sessions lists the most recent sessions first.
func (l *Ledger) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.DB.QueryContext(ctx, l.db.Rebind(
		`SELECT session_id, state, message, error, started_at, finished_at
		 FROM index_sessions ORDER BY started_at DESC, session_id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s        Session
			finished sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.State, &s.Message, &s.Error, &s.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			s.FinishedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Session returns one session or sql.ErrNoRows wrapped.
func (l *Ledger) Session(ctx context.Context, id string) (*Session, error) {
	var (
		s        Session
		finished sql.NullTime
	)
	err := l.db.DB.QueryRowContext(ctx, l.db.Rebind(
		`SELECT session_id, state, message, error, started_at, finished_at
		 FROM index_sessions WHERE session_id = ?`), id).
		Scan(&s.ID, &s.State, &s.Message, &s.Error, &s.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	if finished.Valid {
		t := finished.Time
		s.FinishedAt = &t
	}
	return &s, nil
}

// DocumentHistory returns every recorded event for a document, oldest first.
func (l *Ledger) DocumentHistory(ctx context.Context, documentID string) ([]DocumentEvent, error) {
	rows, err := l.db.DB.QueryContext(ctx, l.db.Rebind(
		`SELECT session_id, document_id, outcome, message, error, recorded_at
		 FROM document_events WHERE document_id = ? ORDER BY recorded_at`), documentID)
	if err != nil {
		return nil, fmt.Errorf("querying document history: %w", err)
	}
	defer rows.Close()

	var out []DocumentEvent
	for rows.Next() {
		var e DocumentEvent
		if err := rows.Scan(&e.SessionID, &e.DocumentID, &e.Outcome, &e.Message, &e.Error, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning document event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Ledger) Health(ctx context.Context) error {
	return l.db.Ping(ctx)
}
