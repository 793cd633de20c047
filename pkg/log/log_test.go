package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func captureLogs(t *testing.T, level zerolog.Level) *bytes.Buffer {
	t.Helper()
	previous := Logger()
	var buf bytes.Buffer
	InitLogger(&buf, level, false)
	t.Cleanup(func() {
		mu.Lock()
		logger = previous
		mu.Unlock()
	})
	return &buf
}

func TestEntryFields(t *testing.T) {
	buf := captureLogs(t, zerolog.DebugLevel)

	WithField("stream_id", "abc").
		WithFields(map[string]interface{}{"rooms": 2}).
		WithError(errors.New("boom")).
		Warn("sync failed")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if record["level"] != "warn" {
		t.Errorf("level = %v, want warn", record["level"])
	}
	if record["message"] != "sync failed" {
		t.Errorf("message = %v, want %q", record["message"], "sync failed")
	}
	if record["stream_id"] != "abc" {
		t.Errorf("stream_id = %v, want abc", record["stream_id"])
	}
	if record["rooms"] != float64(2) {
		t.Errorf("rooms = %v, want 2", record["rooms"])
	}
	if record["error"] != "boom" {
		t.Errorf("error = %v, want boom", record["error"])
	}
}

func TestEntryIsImmutable(t *testing.T) {
	buf := captureLogs(t, zerolog.DebugLevel)

	base := WithField("a", 1)
	_ = base.WithField("b", 2)
	base.Info("only a")

	if strings.Contains(buf.String(), `"b"`) {
		t.Errorf("derived entry leaked a field into its parent: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogs(t, zerolog.InfoLevel)

	Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug message written at info level: %s", buf.String())
	}

	SetLevel(zerolog.DebugLevel)
	if GetLevel() != zerolog.DebugLevel {
		t.Fatalf("GetLevel() = %v, want debug", GetLevel())
	}
	Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug message missing after SetLevel: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"loud", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
