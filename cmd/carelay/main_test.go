package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/carelay/internal/config"
	"github.com/postalsys/carelay/internal/health"
	"github.com/postalsys/carelay/internal/loadtest"
	"github.com/postalsys/carelay/internal/relay"
)

// parseRun parses argv with the run command's flags and resolves the
// configuration.
func parseRun(t *testing.T, argv ...string) (*config.Config, error) {
	t.Helper()
	cmd, opts := newRunCmd()
	if err := cmd.ParseFlags(argv); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return loadRunConfig(cmd, *opts, cmd.Flags().Args())
}

func TestLoadRunConfig_PositionalPort(t *testing.T) {
	cfg, err := parseRun(t, "5065")
	if err != nil {
		t.Fatalf("loadRunConfig() error = %v", err)
	}
	if cfg.Relay.ListenPort != 5065 {
		t.Errorf("ListenPort = %d, want 5065", cfg.Relay.ListenPort)
	}
	if cfg.Relay.ForwardAddress != "127.255.255.255:5064" {
		t.Errorf("ForwardAddress = %s", cfg.Relay.ForwardAddress)
	}
	if cfg.Health.Enabled {
		t.Error("health should stay disabled")
	}
}

func TestLoadRunConfig_Flags(t *testing.T) {
	cfg, err := parseRun(t,
		"--port", "6000",
		"--forward", "10.0.0.255:5064",
		"--idle-timeout", "1m",
		"--log-level", "debug",
		"--log-format", "json",
		"--health-address", "127.0.0.1:9999",
	)
	if err != nil {
		t.Fatalf("loadRunConfig() error = %v", err)
	}
	if cfg.Relay.ListenPort != 6000 {
		t.Errorf("ListenPort = %d, want 6000", cfg.Relay.ListenPort)
	}
	if cfg.Relay.ForwardAddress != "10.0.0.255:5064" {
		t.Errorf("ForwardAddress = %s", cfg.Relay.ForwardAddress)
	}
	if cfg.Relay.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", cfg.Relay.IdleTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Health.Enabled || cfg.Health.Address != "127.0.0.1:9999" {
		t.Errorf("Health = %+v", cfg.Health)
	}
}

func TestLoadRunConfig_FileWithOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "relay:\n  listen_port: 5065\n  idle_timeout: 10s\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseRun(t, "-c", path, "7000")
	if err != nil {
		t.Fatalf("loadRunConfig() error = %v", err)
	}
	// Positional port wins over the file.
	if cfg.Relay.ListenPort != 7000 {
		t.Errorf("ListenPort = %d, want 7000", cfg.Relay.ListenPort)
	}
	if cfg.Relay.IdleTimeout != 10*time.Second {
		t.Errorf("IdleTimeout = %v, want 10s", cfg.Relay.IdleTimeout)
	}
}

func TestLoadRunConfig_UsageErrors(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantErr string
	}{
		{"no port", nil, "listen port is required"},
		{"non-numeric port", []string{"abc"}, "invalid port"},
		{"port out of range", []string{"70000"}, "listen_port"},
		{"bad forward", []string{"5065", "--forward", "nowhere"}, "forward_address"},
		{"bad log level", []string{"5065", "--log-level", "chatty"}, "log.level"},
		{"missing config file", []string{"5065", "-c", "/nonexistent/carelay.yaml"}, "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRun(t, tt.argv...)
			if err == nil {
				t.Fatal("loadRunConfig() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunCmd_TooManyArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "5065", "5066"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	if err := root.Execute(); err == nil {
		t.Error("Execute() should fail with two positional ports")
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs([]string{"version"})
	root.SetOut(&out)

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "carelay ") {
		t.Errorf("output = %q", out.String())
	}
}

func sampleSessions(now time.Time) *health.SessionsResponse {
	return &health.SessionsResponse{
		Listen:  "0.0.0.0:5065",
		Forward: "127.255.255.255:5064",
		Sessions: []relay.SessionInfo{
			{
				ID:            1,
				Origin:        "10.0.0.5:40000",
				ReplyEndpoint: "127.0.0.1:50001",
				CreatedAt:     now.Add(-10 * time.Second),
				LastActivity:  now.Add(-10 * time.Second),
			},
			{
				ID:            2,
				Origin:        "10.0.0.6:40001",
				ReplyEndpoint: "127.0.0.1:50002",
				CreatedAt:     now.Add(-2 * time.Minute),
				LastActivity:  now.Add(-5 * time.Second),
				Replies:       3,
			},
		},
	}
}

func TestRenderSessions_Plain(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer

	if err := renderSessions(&buf, sampleSessions(now), now, false); err != nil {
		t.Fatalf("renderSessions() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "REPLY ENDPOINT") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "10.0.0.5:40000") || !strings.Contains(lines[1], " - ") {
		t.Errorf("row 1 = %q, want origin and no last reply", lines[1])
	}
	if !strings.Contains(lines[2], "2 minutes ago") || !strings.HasSuffix(lines[2], "3") {
		t.Errorf("row 2 = %q", lines[2])
	}
	if lines[3] != "2 sessions, listening on 0.0.0.0:5065, forwarding to 127.255.255.255:5064" {
		t.Errorf("summary = %q", lines[3])
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Error("plain output contains escape sequences")
	}
}

func TestRenderSessions_Styled(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer

	if err := renderSessions(&buf, sampleSessions(now), now, true); err != nil {
		t.Fatalf("renderSessions() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ORIGIN", "10.0.0.5:40000", "127.0.0.1:50002", "2 sessions"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSessions_Empty(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	resp := &health.SessionsResponse{Listen: "0.0.0.0:5065", Forward: "127.255.255.255:5064"}

	if err := renderSessions(&buf, resp, now, false); err != nil {
		t.Fatalf("renderSessions() error = %v", err)
	}
	if !strings.Contains(buf.String(), "0 sessions") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFetchSessions(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"listen":"0.0.0.0:5065","forward":"127.255.255.255:5064","sessions":[` +
			`{"id":7,"origin":"10.0.0.5:40000","reply_endpoint":"127.0.0.1:50001",` +
			`"created_at":"` + now.Format(time.RFC3339) + `","last_activity":"` + now.Format(time.RFC3339) + `","replies":2}]}`))
	}))
	defer srv.Close()

	resp, err := fetchSessions(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("fetchSessions() error = %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != 7 || resp.Sessions[0].Replies != 2 {
		t.Errorf("sessions = %+v", resp.Sessions)
	}
	if !resp.Sessions[0].CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", resp.Sessions[0].CreatedAt, now)
	}
}

func TestFetchSessions_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay not running", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetchSessions(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	if err == nil {
		t.Fatal("fetchSessions() should fail on 503")
	}
	if !strings.Contains(err.Error(), "relay not running") {
		t.Errorf("error = %v", err)
	}
}

func TestRunRelay_StopsOnCancel(t *testing.T) {
	// Reserve a free port, then release it for the relay.
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	cfg := config.Default()
	cfg.Relay.ListenAddress = "127.0.0.1"
	cfg.Relay.ListenPort = port
	cfg.Log.File = filepath.Join(t.TempDir(), "carelay.log")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runRelay(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRelay() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runRelay() did not return after cancel")
	}

	data, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "shutdown complete") {
		t.Errorf("log missing shutdown line:\n%s", data)
	}
}

func TestPrintQueryMetrics(t *testing.T) {
	var buf bytes.Buffer
	printQueryMetrics(&buf, &loadtest.QueryMetrics{
		TotalQueries:     1200,
		AnsweredQueries:  1188,
		TimedOutQueries:  12,
		TotalReplies:     2376,
		TotalBytesSent:   76800,
		TotalBytesRead:   154440,
		MinLatencyMs:     0.12,
		AvgLatencyMs:     0.4,
		MaxLatencyMs:     3.5,
		QueriesPerSecond: 120,
	})

	out := buf.String()
	for _, want := range []string{"1,200 (120.0/s)", "1,188 (99.0%)", "2,376", "75 KiB", "max 3.50ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadtestCmd_InvalidPayload(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"loadtest", "--payload", "100KB", "--duration", "10ms"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid payload size") {
		t.Errorf("Execute() error = %v, want invalid payload size", err)
	}
}

func TestVersionCmd_Verbose(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs([]string{"version", "--verbose"})
	root.SetOut(&out)

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "Broadcasts:") {
		t.Errorf("output = %q", out.String())
	}
}
