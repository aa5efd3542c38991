package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/djbf-gateway/internal/djbf"
)

func TestAuditLogger_LogEncode(t *testing.T) {
	logger := NewLogger(100, Discard)

	logger.LogEncode(CodecRecord{
		Source:   "/assets",
		Asset:    "ui_button.png",
		Profile:  "kakao",
		Version:  djbf.Version0101,
		Flags:    djbf.AESECB | djbf.FastLZ,
		BytesIn:  1000,
		BytesOut: 58,
	}, nil, 100*time.Millisecond)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.EventType != EventTypeEncode {
		t.Fatalf("expected event type %s, got %s", EventTypeEncode, event.EventType)
	}
	if event.Asset != "ui_button.png" {
		t.Fatalf("expected asset ui_button.png, got %s", event.Asset)
	}
	if !event.Success {
		t.Fatal("expected success to be true")
	}
	assert.Equal(t, "0x0101", event.Version)
	assert.Equal(t, "AES_ECB, FastLZ", event.Flags)
	assert.Equal(t, 100.0, event.DurationMS)
}

func TestAuditLogger_LogDecodeError(t *testing.T) {
	logger := NewLogger(100, Discard)

	err := fmt.Errorf("asset.djb: %w", &djbf.ChecksumError{Expected: 1, Actual: 2})
	logger.LogDecode(CodecRecord{Asset: "asset.djb", Profile: "qq"}, err, time.Millisecond)

	events := logger.Events()
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, EventTypeDecode, event.EventType)
	assert.False(t, event.Success)
	assert.Equal(t, djbf.KindChecksumMismatch, event.ErrorKind)
	assert.Contains(t, event.Error, "checksum mismatch")
	assert.Empty(t, event.Version)
}

func TestAuditLogger_LogProfileReload(t *testing.T) {
	logger := NewLogger(100, Discard)

	logger.LogProfileReload("/etc/djbf/profiles.yaml", 3, nil)
	logger.LogProfileReload("/etc/djbf/profiles.yaml", 0, errors.New("bad hex"))

	events := logger.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeProfileReload, events[0].EventType)
	assert.True(t, events[0].Success)
	assert.Equal(t, 3, events[0].Metadata["profiles"])
	assert.False(t, events[1].Success)
	assert.Equal(t, "bad hex", events[1].Error)
}

func TestAuditLogger_LogAccess(t *testing.T) {
	logger := NewLogger(100, Discard)

	logger.LogAccess("get_asset", "cdn", "ui/atlas.djb", "10.0.0.1", "curl/8", "req-1", true, nil, time.Millisecond)

	events := logger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAccess, events[0].EventType)
	assert.Equal(t, "get_asset", events[0].Operation)
	assert.Equal(t, "cdn", events[0].Source)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestAuditLogger_MaxEvents(t *testing.T) {
	logger := NewLogger(5, Discard)

	for i := 0; i < 10; i++ {
		logger.LogEncode(CodecRecord{Asset: fmt.Sprintf("file-%d", i)}, nil, time.Millisecond)
	}

	events := logger.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 events (max), got %d", len(events))
	}
	assert.Equal(t, "file-5", events[0].Asset)
	assert.Equal(t, "file-9", events[4].Asset)
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(10, NewJSONWriter(&buf))

	logger.LogDecode(CodecRecord{Asset: "a.djb", Flags: djbf.FastLZ, BytesIn: 40, BytesOut: 100}, nil, 2*time.Millisecond)
	logger.LogDecode(CodecRecord{Asset: "b.djb"}, errors.New("boom"), time.Millisecond)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a.djb", first.Asset)
	assert.Equal(t, "FastLZ", first.Flags)
	assert.Equal(t, 100, first.BytesOut)
	assert.Equal(t, 2.0, first.DurationMS)

	assert.Contains(t, lines[1], `"error_kind":"internal"`)
}

type failingWriter struct{}

func (failingWriter) WriteEvent(*AuditEvent) error { return errors.New("disk full") }

func TestAuditLogger_WriterFailureKeepsEvent(t *testing.T) {
	logger := NewLogger(10, failingWriter{})

	err := logger.Log(&AuditEvent{EventType: EventTypeAccess, Operation: "health"})
	assert.Error(t, err)
	assert.Len(t, logger.Events(), 1)
}
