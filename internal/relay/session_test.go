package relay

import (
	"net"
	"testing"
	"time"
)

func TestSessionID_String(t *testing.T) {
	if got := SessionID(42).String(); got != "42" {
		t.Errorf("String() = %q, want 42", got)
	}
}

func TestNewSession(t *testing.T) {
	now := time.Unix(1000, 0)
	origin := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 40000}

	s := newSession(7, nil, origin, now)

	if s.ID != 7 {
		t.Errorf("ID = %d, want 7", s.ID)
	}
	if s.Origin != origin {
		t.Error("Origin mismatch")
	}
	if !s.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", s.CreatedAt, now)
	}
	if !s.LastActivity.Equal(now) {
		t.Errorf("LastActivity = %v, want %v", s.LastActivity, now)
	}
	if s.IsClosed() {
		t.Error("new session should not be closed")
	}
	if s.ReplyEndpoint() != nil {
		t.Error("ReplyEndpoint should be nil without a socket")
	}
}

func TestSession_TouchIsMonotonic(t *testing.T) {
	start := time.Unix(1000, 0)
	s := newSession(1, nil, &net.UDPAddr{}, start)

	s.Touch(start.Add(5 * time.Second))
	if want := start.Add(5 * time.Second); !s.LastActivity.Equal(want) {
		t.Errorf("LastActivity = %v, want %v", s.LastActivity, want)
	}

	s.Touch(start.Add(2 * time.Second))
	if want := start.Add(5 * time.Second); !s.LastActivity.Equal(want) {
		t.Errorf("LastActivity moved backwards to %v", s.LastActivity)
	}
}

func TestSession_IsExpired(t *testing.T) {
	start := time.Unix(1000, 0)
	s := newSession(1, nil, &net.UDPAddr{}, start)

	tests := []struct {
		name    string
		elapsed time.Duration
		timeout time.Duration
		want    bool
	}{
		{"fresh", 0, 30 * time.Second, false},
		{"at timeout", 30 * time.Second, 30 * time.Second, false},
		{"past timeout", 31 * time.Second, 30 * time.Second, true},
		{"zero timeout", time.Hour, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsExpired(start.Add(tt.elapsed), tt.timeout); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_CloseOnce(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP error = %v", err)
	}

	s := newSession(1, conn, &net.UDPAddr{}, time.Now())
	if s.ReplyEndpoint() == nil {
		t.Fatal("ReplyEndpoint should be set")
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !s.IsClosed() {
		t.Error("session should be closed")
	}
	if _, err := conn.WriteToUDP([]byte("x"), conn.LocalAddr().(*net.UDPAddr)); err == nil {
		t.Error("write on closed socket should fail")
	}
}

func TestSession_Info(t *testing.T) {
	start := time.Unix(1000, 0)
	origin := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 40000}
	s := newSession(3, nil, origin, start)
	s.LocalAddr = net.IPv4(192, 168, 1, 10)
	s.Replies = 2
	s.Touch(start.Add(time.Second))

	info := s.Info(start.Add(4 * time.Second))

	if info.ID != 3 {
		t.Errorf("ID = %d, want 3", info.ID)
	}
	if info.Origin != "10.0.0.5:40000" {
		t.Errorf("Origin = %q, want 10.0.0.5:40000", info.Origin)
	}
	if info.LocalAddr != "192.168.1.10" {
		t.Errorf("LocalAddr = %q, want 192.168.1.10", info.LocalAddr)
	}
	if info.IdleSeconds != 3 {
		t.Errorf("IdleSeconds = %v, want 3", info.IdleSeconds)
	}
	if info.Replies != 2 {
		t.Errorf("Replies = %d, want 2", info.Replies)
	}
}
