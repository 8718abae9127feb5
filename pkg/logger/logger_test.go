package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: &buf})

	ctx := logg.WithSessionID(context.Background(), "sess-1")
	ctx = logg.WithField(ctx, "op", "reserve")
	logg.Info(ctx, "hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["session_id"] != "sess-1" {
		t.Fatalf("expected session_id field, got %v", entry)
	}
	if entry["op"] != "reserve" {
		t.Fatalf("expected op field, got %v", entry)
	}
	if entry["service"] != "test" {
		t.Fatalf("expected service field, got %v", entry)
	}
}

func TestErrorIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	logg.Error(context.Background(), "boom", errors.New("cause"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["stack"] == nil || entry["stack"] == "" {
		t.Fatal("expected stack field on error logs")
	}
	if entry["error"] != "cause" {
		t.Fatalf("expected error field, got %v", entry["error"])
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if lvl := ParseLevel("nonsense"); lvl != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %v", lvl)
	}
	if lvl := ParseLevel("debug"); lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v", lvl)
	}
}
