package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/kenneth/djbf-gateway/internal/djbf"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeEncode represents an envelope encode.
	EventTypeEncode EventType = "encode"
	// EventTypeDecode represents an envelope decode.
	EventTypeDecode EventType = "decode"
	// EventTypeProfileReload represents a key profile reload.
	EventTypeProfileReload EventType = "profile_reload"
	// EventTypeAccess represents an access operation.
	EventTypeAccess EventType = "access"
)

// AuditEvent represents a single audit log event. Payload bytes and key
// material are never recorded.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Operation  string                 `json:"operation"`
	Source     string                 `json:"source,omitempty"` // directory or bucket
	Asset      string                 `json:"asset,omitempty"`
	ClientIP   string                 `json:"client_ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Profile    string                 `json:"profile,omitempty"`
	Version    string                 `json:"version,omitempty"`
	Flags      string                 `json:"flags,omitempty"`
	BytesIn    int                    `json:"bytes_in,omitempty"`
	BytesOut   int                    `json:"bytes_out,omitempty"`
	Success    bool                   `json:"success"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMS float64                `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// CodecRecord describes one encode or decode for the audit log.
type CodecRecord struct {
	Source    string
	Asset     string
	RequestID string
	Profile   string
	Version   uint16
	Flags     djbf.Flags
	BytesIn   int
	BytesOut  int
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogEncode logs an envelope encode.
	LogEncode(rec CodecRecord, err error, duration time.Duration)

	// LogDecode logs an envelope decode.
	LogDecode(rec CodecRecord, err error, duration time.Duration)

	// LogProfileReload logs a key profile reload.
	LogProfileReload(path string, profiles int, err error)

	// LogAccess logs a general access operation.
	LogAccess(eventType, bucket, key, clientIP, userAgent, requestID string, success bool, err error, duration time.Duration)

	// Events returns the events held in memory, oldest first.
	Events() []*AuditEvent
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
}

// NewLogger creates a new audit logger keeping at most maxEvents in memory.
// A nil writer prints JSON lines to stdout.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = NewJSONWriter(os.Stdout)
	}
	if maxEvents <= 0 {
		maxEvents = 1
	}

	return &auditLogger{
		events:    make([]*AuditEvent, 0, min(maxEvents, 1024)),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

// Log stores the event and forwards it to the writer. The event is kept in
// memory even when the writer fails.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	if err := l.writer.WriteEvent(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

func (l *auditLogger) logCodec(eventType EventType, rec CodecRecord, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:  time.Now(),
		EventType:  eventType,
		Operation:  string(eventType),
		Source:     rec.Source,
		Asset:      rec.Asset,
		RequestID:  rec.RequestID,
		Profile:    rec.Profile,
		Flags:      rec.Flags.String(),
		BytesIn:    rec.BytesIn,
		BytesOut:   rec.BytesOut,
		Success:    err == nil,
		DurationMS: float64(duration) / float64(time.Millisecond),
	}
	if rec.Version != 0 {
		event.Version = fmt.Sprintf("0x%04X", rec.Version)
	}
	if err != nil {
		event.ErrorKind = djbf.Kind(err)
		event.Error = err.Error()
	}

	l.Log(event)
}

// LogEncode logs an envelope encode.
func (l *auditLogger) LogEncode(rec CodecRecord, err error, duration time.Duration) {
	l.logCodec(EventTypeEncode, rec, err, duration)
}

// LogDecode logs an envelope decode.
func (l *auditLogger) LogDecode(rec CodecRecord, err error, duration time.Duration) {
	l.logCodec(EventTypeDecode, rec, err, duration)
}

// LogProfileReload logs a key profile reload.
func (l *auditLogger) LogProfileReload(path string, profiles int, err error) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeProfileReload,
		Operation: "profile_reload",
		Source:    path,
		Success:   err == nil,
		Metadata:  map[string]interface{}{"profiles": profiles},
	}
	if err != nil {
		event.Error = err.Error()
	}

	l.Log(event)
}

// LogAccess logs a general access operation.
func (l *auditLogger) LogAccess(eventType, bucket, key, clientIP, userAgent, requestID string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:  time.Now(),
		EventType:  EventTypeAccess,
		Operation:  eventType,
		Source:     bucket,
		Asset:      key,
		ClientIP:   clientIP,
		UserAgent:  userAgent,
		RequestID:  requestID,
		Success:    success,
		DurationMS: float64(duration) / float64(time.Millisecond),
	}
	if err != nil {
		event.Error = err.Error()
	}

	l.Log(event)
}

// Events returns a copy of the buffered events.
func (l *auditLogger) Events() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONWriter returns a writer emitting JSON lines to w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// WriteEvent implements EventWriter.
func (w *JSONWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(append(data, '\n'))
	return err
}

// discardWriter drops events; used when only the in-memory buffer is wanted.
type discardWriter struct{}

func (discardWriter) WriteEvent(*AuditEvent) error { return nil }

// Discard is an EventWriter that drops every event.
var Discard EventWriter = discardWriter{}
