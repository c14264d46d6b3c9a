package relay

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultForwardPort is the Channel Access name search port.
	DefaultForwardPort = 5064

	// DefaultMaxPayloadSize is the receive buffer size for both directions.
	DefaultMaxPayloadSize = 4096
)

// Config holds configuration for the relay.
type Config struct {
	// ListenAddress is the host:port the listen channel binds to.
	// Required.
	ListenAddress string

	// ForwardAddress is where every query is resent.
	// Default is the loopback broadcast address on port 5064.
	ForwardAddress string

	// ReplyBindAddress is the IP per-session sockets bind to, on an
	// ephemeral port.
	ReplyBindAddress string

	// IdleTimeout is how long a session may go without a reply before it
	// is evicted. 0 means sessions are never evicted.
	IdleTimeout time.Duration

	// PollInterval bounds the time between idle sweeps when no traffic
	// arrives.
	PollInterval time.Duration

	// MaxPayloadSize is the largest datagram read in either direction.
	// Longer datagrams are truncated by the transport.
	MaxPayloadSize int
}

// DefaultConfig returns a Config with the reference defaults and no listen
// address.
func DefaultConfig() Config {
	return Config{
		ForwardAddress:   net.JoinHostPort("127.255.255.255", strconv.Itoa(DefaultForwardPort)),
		ReplyBindAddress: "127.0.0.1",
		IdleTimeout:      30 * time.Second,
		PollInterval:     1 * time.Second,
		MaxPayloadSize:   DefaultMaxPayloadSize,
	}
}

// resolved holds the parsed addresses of a Config.
type resolved struct {
	listen    *net.UDPAddr
	forward   *net.UDPAddr
	replyBind *net.UDPAddr
}

func (c *Config) resolve() (*resolved, error) {
	if c.ListenAddress == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if c.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if c.IdleTimeout < 0 {
		return nil, fmt.Errorf("idle timeout must not be negative")
	}
	if c.MaxPayloadSize < 1 || c.MaxPayloadSize > 65535 {
		return nil, fmt.Errorf("max payload size must be between 1 and 65535")
	}

	listen, err := net.ResolveUDPAddr("udp4", c.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}
	forward, err := net.ResolveUDPAddr("udp4", c.ForwardAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve forward address: %w", err)
	}
	if forward.Port == 0 {
		return nil, fmt.Errorf("forward address %s has no port", c.ForwardAddress)
	}
	bindIP := net.ParseIP(c.ReplyBindAddress)
	if bindIP == nil || bindIP.To4() == nil {
		return nil, fmt.Errorf("invalid reply bind address: %q", c.ReplyBindAddress)
	}

	return &resolved{
		listen:    listen,
		forward:   forward,
		replyBind: &net.UDPAddr{IP: bindIP.To4(), Port: 0},
	}, nil
}
