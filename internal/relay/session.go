package relay

import (
	"net"
	"strconv"
	"time"
)

// SessionID identifies a session within a relay. IDs increase monotonically
// and are never reused.
type SessionID uint64

// String returns the decimal form of the ID.
func (id SessionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Session is one forwarded query awaiting replies.
//
// Sessions are owned by the relay loop and carry no lock; only the goroutine
// running the loop (or a test calling loop methods directly) touches them.
type Session struct {
	ID SessionID

	// Origin is the address the query came from. Replies are sent here.
	Origin *net.UDPAddr

	// LocalAddr and IfIndex record where the query arrived, when the
	// platform reports it.
	LocalAddr net.IP
	IfIndex   int

	CreatedAt    time.Time
	LastActivity time.Time

	// Replies counts datagrams relayed back to Origin.
	Replies uint64

	conn   *net.UDPConn
	closed bool
}

func newSession(id SessionID, conn *net.UDPConn, origin *net.UDPAddr, now time.Time) *Session {
	return &Session{
		ID:           id,
		Origin:       origin,
		CreatedAt:    now,
		LastActivity: now,
		conn:         conn,
	}
}

// ReplyEndpoint returns the local address of the session's socket.
func (s *Session) ReplyEndpoint() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Touch records activity at now. LastActivity never moves backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// IsExpired reports whether the session has been idle longer than timeout.
// A zero timeout never expires.
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > timeout
}

// IsClosed reports whether the session's socket has been closed.
func (s *Session) IsClosed() bool {
	return s.closed
}

// Close closes the session's socket. Later calls are no-ops.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SessionInfo is a point-in-time view of a session, safe to hand to other
// goroutines.
type SessionInfo struct {
	ID            SessionID `json:"id"`
	Origin        string    `json:"origin"`
	ReplyEndpoint string    `json:"reply_endpoint"`
	LocalAddr     string    `json:"local_addr,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	IdleSeconds   float64   `json:"idle_seconds"`
	Replies       uint64    `json:"replies"`
}

// Info returns a snapshot of the session as seen at now.
func (s *Session) Info(now time.Time) SessionInfo {
	info := SessionInfo{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		IdleSeconds:  now.Sub(s.LastActivity).Seconds(),
		Replies:      s.Replies,
	}
	if s.Origin != nil {
		info.Origin = s.Origin.String()
	}
	if ep := s.ReplyEndpoint(); ep != nil {
		info.ReplyEndpoint = ep.String()
	}
	if s.LocalAddr != nil {
		info.LocalAddr = s.LocalAddr.String()
	}
	return info
}
