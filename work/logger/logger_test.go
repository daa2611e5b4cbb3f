package logger

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Warn", WARN},
		{"ERROR", ERROR},
		{"", INFO},
		{"loud", INFO},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("WARN")
	l.SetOutput(&buf)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("filtered messages were printed: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 3") || !strings.Contains(out, "[ERROR] shown 4") {
		t.Errorf("expected messages missing: %q", out)
	}

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Level != "warn" || entries[0].Message != "shown 3" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}

func TestEntriesAreBounded(t *testing.T) {
	var buf bytes.Buffer
	l := New("DEBUG")
	l.SetOutput(&buf)

	for i := 0; i < maxEntries+10; i++ {
		l.Debug("line %d", i)
	}

	entries := l.Entries()
	if len(entries) != maxEntries {
		t.Fatalf("len(entries) = %d, want %d", len(entries), maxEntries)
	}
	if entries[0].Message != fmt.Sprintf("line %d", 10) {
		t.Errorf("oldest entry = %q, want line 10", entries[0].Message)
	}

	l.ClearEntries()
	if len(l.Entries()) != 0 {
		t.Error("ClearEntries should empty the ring")
	}
}

func TestSetLevel(t *testing.T) {
	l := New("INFO")
	l.SetLevel("error")
	if l.GetLevel() != "ERROR" {
		t.Errorf("GetLevel = %q, want ERROR", l.GetLevel())
	}
}
