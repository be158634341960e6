package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// restoreLevel puts the shared level back after a test moves it.
func restoreLevel(t *testing.T) {
	t.Helper()
	prev := level.Level()
	t.Cleanup(func() { level.Set(prev) })
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	restoreLevel(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero config", Config{}, false},
		{"json debug", Config{Level: "debug", Format: "json"}, false},
		{"text", Config{Level: "warn", Format: "text"}, false},
		{"console alias", Config{Level: "ERROR", Format: "Console"}, false},
		{"bad format", Config{Format: "xml"}, true},
		{"bad level", Config{Level: "trace"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestNew_RejectedConfigKeepsLevel(t *testing.T) {
	restoreLevel(t)
	SetLevel("warn")

	if _, err := New(Config{Level: "debug", Format: "xml"}); err == nil {
		t.Fatal("expected error")
	}
	if got := GetLevel(); got != "warn" {
		t.Errorf("level = %q after rejected config, want warn", got)
	}
}

func TestLogger_JSONFields(t *testing.T) {
	restoreLevel(t)
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.With("device", "memdev0").Debug("seek", "position", 5000)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["msg"] != "seek" || e["level"] != "DEBUG" || e["device"] != "memdev0" || e["position"] != float64(5000) {
		t.Errorf("entry = %v", e)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	restoreLevel(t)
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "text", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.Info("opened", "device", "memdev1")

	out := buf.String()
	if !strings.Contains(out, "msg=opened") || !strings.Contains(out, "device=memdev1") {
		t.Errorf("text output = %q", out)
	}
}

func TestSetLevel_AffectsExistingLoggers(t *testing.T) {
	restoreLevel(t)
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	SetLevel("debug")
	l.Debug("shown")
	if got := decodeLines(t, &buf); len(got) != 1 || got[0]["msg"] != "shown" {
		t.Errorf("after SetLevel(debug) entries = %v", got)
	}

	buf.Reset()
	SetLevel("error")
	l.Warn("hidden")
	l.Error("shown")
	if got := decodeLines(t, &buf); len(got) != 1 || got[0]["level"] != "ERROR" {
		t.Errorf("after SetLevel(error) entries = %v", got)
	}

	SetLevel("bogus")
	if GetLevel() != "error" {
		t.Errorf("unknown name changed the level to %q", GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"fatal", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, name := range []string{"debug", "info", "Warn", "warning", "error"} {
		if !ValidLevel(name) {
			t.Errorf("ValidLevel(%q) = false", name)
		}
	}
	for _, name := range []string{"", "trace", "panic"} {
		if ValidLevel(name) {
			t.Errorf("ValidLevel(%q) = true", name)
		}
	}
}

func TestGetLevel(t *testing.T) {
	restoreLevel(t)
	for _, name := range []string{"debug", "info", "warn", "error"} {
		SetLevel(name)
		if got := GetLevel(); got != name {
			t.Errorf("GetLevel() after SetLevel(%q) = %q", name, got)
		}
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	l := slog.New(slog.DiscardHandler)
	SetDefault(l)
	if slog.Default() != l {
		t.Error("slog.Default() not replaced")
	}
	SetDefault(nil)
	if slog.Default() != l {
		t.Error("SetDefault(nil) replaced the default")
	}
}
