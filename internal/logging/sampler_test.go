package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSampler_LimitsBurst(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)
	s := NewSampler(logger, time.Hour, 2)

	written := 0
	for i := 0; i < 5; i++ {
		if s.Warn("send failed", KeyError, "boom") {
			written++
		}
	}

	if written != 2 {
		t.Errorf("written = %d, want 2", written)
	}
	if s.Suppressed() != 3 {
		t.Errorf("Suppressed() = %d, want 3", s.Suppressed())
	}
	if got := strings.Count(buf.String(), "send failed"); got != 2 {
		t.Errorf("log lines = %d, want 2", got)
	}
}

func TestSampler_ReportsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)
	s := NewSampler(logger, 20*time.Millisecond, 1)

	s.Warn("first")
	s.Warn("dropped")
	s.Warn("dropped")

	time.Sleep(50 * time.Millisecond)
	if !s.Warn("second") {
		t.Fatal("expected line after interval to be written")
	}

	if !strings.Contains(buf.String(), "suppressed=2") {
		t.Errorf("expected suppressed count, got: %s", buf.String())
	}
	if s.Suppressed() != 0 {
		t.Errorf("Suppressed() = %d, want 0 after report", s.Suppressed())
	}
}

func TestSampler_Unlimited(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampler(NewLoggerWithWriter("info", "text", &buf), 0, 0)

	for i := 0; i < 100; i++ {
		if !s.Error("x") {
			t.Fatalf("line %d suppressed with sampling disabled", i)
		}
	}
}

func TestSampler_DisabledLevelNotCounted(t *testing.T) {
	var buf bytes.Buffer
	s := NewSampler(NewLoggerWithWriter("error", "text", &buf), time.Hour, 1)

	s.Warn("below level")
	s.Warn("below level")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got: %s", buf.String())
	}
	if s.Suppressed() != 0 {
		t.Errorf("Suppressed() = %d, want 0", s.Suppressed())
	}
}
