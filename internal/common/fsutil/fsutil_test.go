package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	// Set a deterministic HOME for the duration of this test so we never skip.
	origHome, hadHome := os.LookupEnv("HOME")
	origUserProfile, hadUserProfile := os.LookupEnv("USERPROFILE")
	t.Cleanup(func() {
		if hadHome {
			_ = os.Setenv("HOME", origHome)
		} else {
			_ = os.Unsetenv("HOME")
		}
		if hadUserProfile {
			_ = os.Setenv("USERPROFILE", origUserProfile)
		} else {
			_ = os.Unsetenv("USERPROFILE")
		}
	})

	home := t.TempDir()
	// Configure both env vars for cross-platform behavior of os.UserHomeDir.
	_ = os.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		_ = os.Setenv("USERPROFILE", home)
	}
	// raw path unaffected
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// empty path
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	// ~ expansion
	p, err := ExpandHome("~")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if p != home {
		t.Fatalf("expected %q, got %q", home, p)
	}
	// ~/subdir
	sub := "test-sub"
	exp, err := ExpandHome("~/" + sub)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS == "windows" {
		if filepath.Base(exp) != sub {
			t.Fatalf("unexpected expanded path: %q", exp)
		}
	} else {
		expected := filepath.Join(home, sub)
		if exp != expected {
			t.Fatalf("expected %q, got %q", expected, exp)
		}
	}
}

func TestResolve(t *testing.T) {
	if _, err := Resolve(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	got, err := Resolve("rel/file.jsonl")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !filepath.IsAbs(got) || filepath.Base(got) != "file.jsonl" {
		t.Fatalf("unexpected resolved path: %q", got)
	}
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a", "b", "out.jsonl")
	if err := EnsureParentDir(p); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !PathExists(filepath.Dir(p)) {
		t.Fatalf("parent not created")
	}
	if PathExists(p) {
		t.Fatalf("file should not exist yet")
	}
	if err := EnsureParentDir(p); err != nil {
		t.Fatalf("second call: %v", err)
	}
}
