package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"err":     zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", FormatJSON, &buf)
	l.Info().Msg("hidden")
	l.Warn().Str("desc", "run").Msg("shown")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["message"] != "shown" || rec["desc"] != "run" || rec["level"] != "warn" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; !ok {
		t.Fatalf("missing timestamp: %v", rec)
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", FormatConsole, &buf)
	l.Info().Int("slots", 4).Msg("ready")
	out := buf.String()
	if !strings.Contains(out, "ready") || !strings.Contains(out, "slots=4") {
		t.Fatalf("console output = %q", out)
	}
}
