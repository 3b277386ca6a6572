package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept", "k", 1)
	l.Error("kept too")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("sub-threshold entries were written: %q", out)
	}
	if !strings.Contains(out, "[WARN] kept k=1") {
		t.Fatalf("missing warn entry: %q", out)
	}
	if !strings.Contains(out, "[ERROR] kept too") {
		t.Fatalf("missing error entry: %q", out)
	}
}

func TestLoggerNamed(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug).Named("session").Named("primary")

	l.Info("compiled", "files", 3)

	if !strings.Contains(buf.String(), "[session.primary] compiled files=3") {
		t.Fatalf("unexpected entry: %q", buf.String())
	}
}

func TestLoggerOddFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, LevelDebug).Info("msg", "orphan")

	if !strings.Contains(buf.String(), "orphan=<missing>") {
		t.Fatalf("orphan key not flagged: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{"Info", LevelInfo, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"off", LevelOff, false},
		{"loud", LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	if l.Enabled(LevelError) {
		t.Fatal("nop logger reports enabled")
	}
	l.Error("goes nowhere")
}
