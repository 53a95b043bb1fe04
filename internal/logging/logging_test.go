package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(empty) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) accepted")
	}
}

func TestSetLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "docsyncd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Level = LevelInfo

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Debug("before")
	l.SetLevel(LevelDebug)
	l.Debug("after")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "before") {
		t.Errorf("debug entry written below the configured level: %s", data)
	}
	if !strings.Contains(string(data), "after") {
		t.Errorf("debug entry missing after SetLevel: %s", data)
	}
}

func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "docsyncd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("document tracked", "path", "/notes/a.md")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"component":"docsyncd"`) {
		t.Errorf("log entry missing component attribute: %s", data)
	}
	if !strings.Contains(string(data), "document tracked") {
		t.Errorf("log entry missing message: %s", data)
	}
}

func TestRotationBySize(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "docsyncd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Compress = false
	cfg.MaxSize = 1 // 1 MB

	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	line := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		if _, err := r.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(logPath), "docsyncd-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Error("no rotated files created")
	}
}
