package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "engine:\n  slots: 4\n  max_prefill_length: 512\nscheduler:\n  batch_prefill: false\n  decode_steps: 3\nlog:\n  level: debug\nmetrics_addr: :9090\ninput: reqs.jsonl\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Engine.Slots != 4 || cfg.Engine.MaxPrefillLength != 512 || cfg.Scheduler.BatchPrefill || cfg.Scheduler.DecodeSteps != 3 || cfg.Log.Level != "debug" || cfg.MetricsAddr != ":9090" || cfg.Input != "reqs.jsonl" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// Unset fields keep defaults.
	if cfg.Engine.MaxTargetLength != 2048 || cfg.Scheduler.QueueCapacity != 10 || cfg.Log.Format != "console" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"engine":{"slots":2,"eos":7},"scheduler":{"shuffle":true,"seed":9},"output":"out.jsonl"}`)
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Engine.Slots != 2 || cfg.Engine.EOS != 7 || !cfg.Scheduler.Shuffle || cfg.Scheduler.Seed != 9 || cfg.Output != "out.jsonl" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.Scheduler.BatchPrefill {
		t.Fatalf("batch_prefill default lost")
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "metrics_addr=\":8081\"\n[engine]\nslots=16\nmax_target_length=4096\n[scheduler]\nqueue_capacity=4\nwarmup_max_length=256\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.MetricsAddr != ":8081" || cfg.Engine.Slots != 16 || cfg.Engine.MaxTargetLength != 4096 || cfg.Scheduler.QueueCapacity != 4 || cfg.WarmupLength() != 256 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil { t.Fatalf("expected error on empty path") }
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil { t.Fatalf("expected unsupported extension error") }
}

func TestEncodeRoundTrip(t *testing.T) {
	want := Default()
	want.Engine.Slots = 3
	want.Scheduler.Seed = 11
	d := t.TempDir()
	for _, format := range []string{"yaml", "json", "toml"} {
		var buf bytes.Buffer
		if err := Encode(&buf, want, format); err != nil {
			t.Fatalf("encode %s: %v", format, err)
		}
		ext := "." + format
		got, err := Load(writeTempFile(t, d, "cfg"+ext, buf.String()))
		if err != nil {
			t.Fatalf("load %s: %v\n%s", format, err, buf.String())
		}
		if got != want {
			t.Fatalf("%s round trip: got %+v want %+v", format, got, want)
		}
	}
	if err := Encode(&bytes.Buffer{}, want, "ini"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
