package wizard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/carelay/internal/config"
)

func TestNew(t *testing.T) {
	w := New()
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.theme == nil {
		t.Error("New() returned wizard without a theme")
	}
}

func TestDefaultAnswers(t *testing.T) {
	a := DefaultAnswers()

	if a.ListenPort != "5065" {
		t.Errorf("ListenPort = %q, want 5065", a.ListenPort)
	}
	if a.ForwardPort != "5064" {
		t.Errorf("ForwardPort = %q, want 5064", a.ForwardPort)
	}
	if err := ValidateIPv4(a.Forward); err != nil {
		t.Errorf("Forward = %q: %v", a.Forward, err)
	}

	// The defaults alone must produce a valid config.
	if _, err := a.Config(); err != nil {
		t.Errorf("Config() error = %v", err)
	}
}

func TestAnswers_Config(t *testing.T) {
	a := Answers{
		ConfigPath:    "/tmp/x.yaml",
		ListenPort:    "6000",
		Forward:       "192.168.1.255",
		ForwardPort:   "5064",
		IdleTimeout:   "2m",
		LogLevel:      "debug",
		HealthEnabled: true,
	}

	cfg, err := a.Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.Relay.ListenPort != 6000 {
		t.Errorf("ListenPort = %d, want 6000", cfg.Relay.ListenPort)
	}
	if cfg.Relay.ForwardAddress != "192.168.1.255:5064" {
		t.Errorf("ForwardAddress = %s", cfg.Relay.ForwardAddress)
	}
	if cfg.Relay.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %v, want 2m", cfg.Relay.IdleTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if !cfg.Health.Enabled {
		t.Error("Health.Enabled = false, want true")
	}
}

func TestAnswers_ConfigCustomForward(t *testing.T) {
	a := DefaultAnswers()
	a.Forward = customForward
	a.CustomForward = "10.1.2.3"

	cfg, err := a.Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.Relay.ForwardAddress != "10.1.2.3:5064" {
		t.Errorf("ForwardAddress = %s, want 10.1.2.3:5064", cfg.Relay.ForwardAddress)
	}
}

func TestAnswers_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Answers)
	}{
		{"bad port", func(a *Answers) { a.ListenPort = "x" }},
		{"port out of range", func(a *Answers) { a.ListenPort = "0" }},
		{"bad duration", func(a *Answers) { a.IdleTimeout = "soon" }},
		{"empty custom forward", func(a *Answers) { a.Forward = customForward }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAnswers()
			tt.modify(&a)
			if _, err := a.Config(); err == nil {
				t.Error("Config() should fail")
			}
		})
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(string) error
		input string
		ok    bool
	}{
		{"port", ValidatePort, "5065", true},
		{"port zero", ValidatePort, "0", false},
		{"port text", ValidatePort, "abc", false},
		{"port large", ValidatePort, "65536", false},
		{"ipv4", ValidateIPv4, "10.0.0.255", true},
		{"ipv6", ValidateIPv4, "::1", false},
		{"ip empty", ValidateIPv4, "", false},
		{"duration", ValidateDuration, "30s", true},
		{"duration zero", ValidateDuration, "0", true},
		{"duration negative", ValidateDuration, "-1s", false},
		{"duration text", ValidateDuration, "later", false},
		{"not empty", validateNotEmpty, "x", true},
		{"empty", validateNotEmpty, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.input)
			if (err == nil) != tt.ok {
				t.Errorf("validator(%q) error = %v, want ok=%v", tt.input, err, tt.ok)
			}
		})
	}
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	a := DefaultAnswers()
	a.ListenPort = "5099"
	cfg, err := a.Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}

	if err := WriteConfig(cfg, path); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# carelay configuration") {
		t.Error("config file missing header")
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Relay.ListenPort != 5099 {
		t.Errorf("ListenPort = %d, want 5099", loaded.Relay.ListenPort)
	}
	if loaded.Relay.ForwardAddress != cfg.Relay.ForwardAddress {
		t.Errorf("ForwardAddress = %s, want %s", loaded.Relay.ForwardAddress, cfg.Relay.ForwardAddress)
	}
}
