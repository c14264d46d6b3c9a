// Package loadtest drives name-search traffic through a running relay and
// measures how many queries are answered and how fast.
package loadtest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// QueryMetrics contains results of a query load run.
type QueryMetrics struct {
	TotalQueries     int64
	AnsweredQueries  int64
	TimedOutQueries  int64
	FailedQueries    int64
	TotalReplies     int64
	TotalBytesSent   int64
	TotalBytesRead   int64
	AvgLatencyMs     float64
	MaxLatencyMs     float64
	MinLatencyMs     float64
	Duration         time.Duration
	QueriesPerSecond float64
}

// AnswerRate returns the fraction of queries that got at least one reply.
func (m *QueryMetrics) AnswerRate() float64 {
	if m.TotalQueries == 0 {
		return 0
	}
	return float64(m.AnsweredQueries) / float64(m.TotalQueries)
}

// QueryLoadGenerator sends queries to a relay from many client sockets.
// Each query uses a fresh socket, so each one opens a new session in the
// relay, which is the load pattern of many clients searching at once.
type QueryLoadGenerator struct {
	target      *net.UDPAddr
	concurrency int
	payloadSize int
	duration    time.Duration
	timeout     time.Duration
	limiter     *rate.Limiter

	metrics QueryMetrics
	mu      sync.Mutex
}

// NewQueryLoadGenerator creates a generator against target. qps limits the
// aggregate query rate; zero or negative means unlimited.
func NewQueryLoadGenerator(target *net.UDPAddr, concurrency, payloadSize int, qps float64, duration, timeout time.Duration) *QueryLoadGenerator {
	limit := rate.Inf
	burst := 0
	if qps > 0 {
		limit = rate.Limit(qps)
		burst = concurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if payloadSize < 1 {
		payloadSize = 1
	}
	return &QueryLoadGenerator{
		target:      target,
		concurrency: concurrency,
		payloadSize: payloadSize,
		duration:    duration,
		timeout:     timeout,
		limiter:     rate.NewLimiter(limit, burst),
		metrics: QueryMetrics{
			MinLatencyMs: float64(^uint64(0) >> 1),
		},
	}
}

// Run executes the load test until the duration elapses or ctx is done.
func (g *QueryLoadGenerator) Run(ctx context.Context) (*QueryMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, g.duration)
	defer cancel()

	var wg sync.WaitGroup
	startTime := time.Now()

	for i := 0; i < g.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runWorker(ctx)
		}()
	}

	wg.Wait()
	g.metrics.Duration = time.Since(startTime)

	if g.metrics.Duration > 0 {
		g.metrics.QueriesPerSecond = float64(g.metrics.TotalQueries) / g.metrics.Duration.Seconds()
	}
	if g.metrics.AnsweredQueries > 0 {
		g.metrics.AvgLatencyMs = g.metrics.AvgLatencyMs / float64(g.metrics.AnsweredQueries)
	} else {
		g.metrics.MinLatencyMs = 0
	}

	return &g.metrics, nil
}

func (g *QueryLoadGenerator) runWorker(ctx context.Context) {
	payload := make([]byte, g.payloadSize)
	rand.Read(payload)
	buf := make([]byte, 65535)

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		g.query(ctx, payload, buf)
	}
}

// query sends one query from a fresh socket and collects replies until the
// timeout. A query is answered when at least one reply arrives.
func (g *QueryLoadGenerator) query(ctx context.Context, payload, buf []byte) {
	atomic.AddInt64(&g.metrics.TotalQueries, 1)

	conn, err := net.DialUDP("udp4", nil, g.target)
	if err != nil {
		atomic.AddInt64(&g.metrics.FailedQueries, 1)
		return
	}
	defer conn.Close()

	start := time.Now()
	n, err := conn.Write(payload)
	if err != nil {
		atomic.AddInt64(&g.metrics.FailedQueries, 1)
		return
	}
	atomic.AddInt64(&g.metrics.TotalBytesSent, int64(n))

	deadline := start.Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var replies int64
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		if replies == 0 {
			g.recordLatency(float64(time.Since(start).Microseconds()) / 1000)
		}
		replies++
		atomic.AddInt64(&g.metrics.TotalBytesRead, int64(n))
	}

	atomic.AddInt64(&g.metrics.TotalReplies, replies)
	if replies > 0 {
		atomic.AddInt64(&g.metrics.AnsweredQueries, 1)
	} else {
		atomic.AddInt64(&g.metrics.TimedOutQueries, 1)
	}
}

func (g *QueryLoadGenerator) recordLatency(ms float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics.AvgLatencyMs += ms
	if ms > g.metrics.MaxLatencyMs {
		g.metrics.MaxLatencyMs = ms
	}
	if ms < g.metrics.MinLatencyMs {
		g.metrics.MinLatencyMs = ms
	}
}

// Responder stands in for servers on the forward side of a relay. It
// answers every datagram with a fixed number of replies, each carrying the
// query payload prefixed by the reply index.
type Responder struct {
	conn    *net.UDPConn
	replies int

	received atomic.Int64
	sent     atomic.Int64
}

// NewResponder binds a responder on addr.
func NewResponder(addr string, replies int) (*Responder, error) {
	if replies < 1 {
		return nil, fmt.Errorf("replies must be at least 1")
	}
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve responder address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen responder: %w", err)
	}
	return &Responder{
		conn:    conn,
		replies: replies,
	}, nil
}

// Addr returns the responder's local address.
func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Serve answers queries until Close is called.
func (r *Responder) Serve() error {
	buf := make([]byte, 65535)
	out := make([]byte, 0, 65536)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		r.received.Add(1)
		for i := 0; i < r.replies; i++ {
			out = append(out[:0], byte(i))
			out = append(out, buf[:n]...)
			if _, err := r.conn.WriteToUDP(out, from); err == nil {
				r.sent.Add(1)
			}
		}
	}
}

// Close stops Serve.
func (r *Responder) Close() error {
	return r.conn.Close()
}

// Received returns the number of queries seen.
func (r *Responder) Received() int64 {
	return r.received.Load()
}

// Sent returns the number of replies written.
func (r *Responder) Sent() int64 {
	return r.sent.Load()
}
