package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"skellyctl"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestRunReturnsUsageCode(t *testing.T) {
	withArgs(t, "no-such-command")
	if got := run(); got != 2 {
		t.Errorf("run() = %d, want 2", got)
	}
}

func TestRunInitWritesConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	withArgs(t, "init")

	if got := run(); got != 0 {
		t.Fatalf("run() = %d, want 0", got)
	}
	if _, err := os.Stat(filepath.Join(home, ".config", "skellyctl", "config.yaml")); err != nil {
		t.Errorf("config not written: %v", err)
	}
	if got := run(); got != 0 {
		t.Errorf("second run() = %d, want 0", got)
	}
}

func TestRunReturnsErrorCodeOnBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	withArgs(t, "-c", path, "status")
	if got := run(); got != 1 {
		t.Errorf("run() = %d, want 1", got)
	}
}

func TestFailReturnsOne(t *testing.T) {
	if got := fail("test", errors.New("boom")); got != 1 {
		t.Errorf("fail() = %d, want 1", got)
	}
}

func TestByteArg(t *testing.T) {
	tests := []struct {
		v       int
		want    byte
		wantErr bool
	}{
		{0, 0, false},
		{255, 255, false},
		{-1, 0, true},
		{256, 0, true},
	}
	for _, tt := range tests {
		got, err := byteArg("level", tt.v)
		if (err != nil) != tt.wantErr {
			t.Errorf("byteArg(%d) error = %v, wantErr %v", tt.v, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("byteArg(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}
