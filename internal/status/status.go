// Package status carries progress and outcome messages from indexing and
// search operations to whatever presents them: a terminal, a log, a Kafka
// topic or a ledger.
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindInfo     Kind = "info"
	KindProgress Kind = "progress"
	KindWarning  Kind = "warning"
	KindError    Kind = "error"
	KindSuccess  Kind = "success"
)

type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
	OpCommit Op = "commit"
	OpSearch Op = "search"
)

// Message is one status update. Current and Total are set on progress
// messages; DocumentID is set when the message concerns one document.
type Message struct {
	Kind       Kind      `json:"kind"`
	Op         Op        `json:"op"`
	SessionID  string    `json:"session_id,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Text       string    `json:"text"`
	Current    int       `json:"current,omitempty"`
	Total      int       `json:"total,omitempty"`
	Err        string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

func (m Message) String() string {
	if m.Err != "" && m.Text == "" {
		return m.Err
	}
	return m.Text
}

// Sink receives status messages. Implementations must be safe for
// concurrent use and must not block for long.
type Sink interface {
	Emit(Message)
}

type SinkFunc func(Message)

func (f SinkFunc) Emit(m Message) { f(m) }

type discard struct{}

func (discard) Emit(Message) {}

// Discard drops every message.
var Discard Sink = discard{}

type multi []Sink

func (ms multi) Emit(m Message) {
	for _, s := range ms {
		s.Emit(m)
	}
}

// Multi fans a message out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return Discard
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Emitter stamps messages with an operation and session before handing them
// to a sink.
type Emitter struct {
	sink      Sink
	op        Op
	sessionID string
}

func NewEmitter(sink Sink, op Op, sessionID string) *Emitter {
	if sink == nil {
		sink = Discard
	}
	return &Emitter{sink: sink, op: op, sessionID: sessionID}
}

func (e *Emitter) emit(m Message) {
	m.Op = e.op
	m.SessionID = e.sessionID
	if m.Time.IsZero() {
		m.Time = time.Now().UTC()
	}
	e.sink.Emit(m)
}

func (e *Emitter) Info(format string, args ...any) {
	e.emit(Message{Kind: KindInfo, Text: fmt.Sprintf(format, args...)})
}

func (e *Emitter) Success(format string, args ...any) {
	e.emit(Message{Kind: KindSuccess, Text: fmt.Sprintf(format, args...)})
}

func (e *Emitter) Progress(current, total int, documentID, format string, args ...any) {
	e.emit(Message{
		Kind:       KindProgress,
		DocumentID: documentID,
		Text:       fmt.Sprintf(format, args...),
		Current:    current,
		Total:      total,
	})
}

// Document reports the outcome of one document.
func (e *Emitter) Document(kind Kind, documentID, outcome string, err error, format string, args ...any) {
	m := Message{
		Kind:       kind,
		DocumentID: documentID,
		Outcome:    outcome,
		Text:       fmt.Sprintf(format, args...),
	}
	if err != nil {
		m.Err = err.Error()
	}
	e.emit(m)
}

func (e *Emitter) Error(err error, format string, args ...any) {
	e.emit(Message{Kind: KindError, Text: fmt.Sprintf(format, args...), Err: err.Error()})
}

// LogSink writes messages to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "status")}
}

func (s *LogSink) Emit(m Message) {
	attrs := []any{"op", m.Op}
	if m.SessionID != "" {
		attrs = append(attrs, "session_id", m.SessionID)
	}
	if m.DocumentID != "" {
		attrs = append(attrs, "document_id", m.DocumentID)
	}
	if m.Total > 0 {
		attrs = append(attrs, "current", m.Current, "total", m.Total)
	}
	if m.Err != "" {
		attrs = append(attrs, "error", m.Err)
	}
	switch m.Kind {
	case KindError:
		s.logger.Error(m.Text, attrs...)
	case KindWarning:
		s.logger.Warn(m.Text, attrs...)
	case KindProgress:
		s.logger.Debug(m.Text, attrs...)
	default:
		s.logger.Info(m.Text, attrs...)
	}
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Emit(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// OfKind returns the recorded messages of kind k.
func (r *Recorder) OfKind(k Kind) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}
