package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/ipv4"

	"github.com/postalsys/carelay/internal/logging"
	"github.com/postalsys/carelay/internal/metrics"
)

var (
	// ErrClosed is returned by operations on a relay that has been closed.
	ErrClosed = errors.New("relay closed")

	// ErrNotRunning is returned by Sessions when the loop is not running.
	ErrNotRunning = errors.New("relay loop not running")

	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("relay loop already running")

	// ErrUnknownSession is returned by RelayReply for an ID not in the table.
	ErrUnknownSession = errors.New("unknown session")
)

// replyQueueSize is how many received replies may wait for the loop.
const replyQueueSize = 64

// Query is one datagram received on the listen channel.
type Query struct {
	Payload []byte
	Origin  *net.UDPAddr

	// LocalAddr and IfIndex are where the query arrived, when known.
	LocalAddr net.IP
	IfIndex   int
}

// reply is one datagram received on a session's socket.
type reply struct {
	id        SessionID
	payload   []byte
	responder *net.UDPAddr
}

// Stats contains relay counters.
type Stats struct {
	Running         bool   `json:"running"`
	ActiveSessions  int    `json:"active_sessions"`
	QueriesTotal    uint64 `json:"queries_total"`
	RepliesTotal    uint64 `json:"replies_total"`
	SessionsCreated uint64 `json:"sessions_created"`
	SessionsEvicted uint64 `json:"sessions_evicted"`
}

// Relay is the relay loop together with the sockets and session table it owns.
type Relay struct {
	cfg     Config
	addrs   *resolved
	logger  *slog.Logger
	sampler *logging.Sampler
	metrics *metrics.Metrics

	listen   *net.UDPConn
	listenPC *ipv4.PacketConn
	lc       net.ListenConfig

	table  *Table
	nextID SessionID

	queries   chan Query
	replies   chan reply
	snapshots chan chan []SessionInfo

	// now is the loop clock. Tests replace it.
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running      atomic.Bool
	done         chan struct{}
	teardownOnce sync.Once

	active          atomic.Int64
	queriesTotal    atomic.Uint64
	repliesTotal    atomic.Uint64
	sessionsCreated atomic.Uint64
	sessionsEvicted atomic.Uint64
}

// New binds the listen channel and returns a relay ready to Run. Any error
// is a setup failure the relay cannot recover from.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Relay, error) {
	addrs, err := cfg.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	if m == nil {
		m = metrics.Default()
	}
	logger = logger.With(slog.String(logging.KeyComponent, "relay"))

	listen, err := net.ListenUDP("udp4", addrs.listen)
	if err != nil {
		return nil, fmt.Errorf("bind listen channel %s: %w", addrs.listen, err)
	}

	pc := ipv4.NewPacketConn(listen)
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		logger.Debug("receive address reporting unavailable", logging.KeyError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Relay{
		cfg:       cfg,
		addrs:     addrs,
		logger:    logger,
		sampler:   logging.NewSampler(logger, time.Second, 10),
		metrics:   m,
		listen:    listen,
		listenPC:  pc,
		lc:        net.ListenConfig{Control: broadcastControl},
		table:     NewTable(),
		queries:   make(chan Query),
		replies:   make(chan reply, replyQueueSize),
		snapshots: make(chan chan []SessionInfo),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	logger.Info("listen channel bound",
		logging.KeyLocalAddr, r.ListenAddr().String(),
		logging.KeyForwardTo, addrs.forward.String(),
		logging.KeyIdle, cfg.IdleTimeout,
		logging.KeyBytes, humanize.IBytes(uint64(cfg.MaxPayloadSize)))

	return r, nil
}

// ListenAddr returns the local address of the listen channel.
func (r *Relay) ListenAddr() *net.UDPAddr {
	return r.listen.LocalAddr().(*net.UDPAddr)
}

// ForwardAddr returns the address queries are forwarded to.
func (r *Relay) ForwardAddr() *net.UDPAddr {
	return r.addrs.forward
}

// Run runs the relay loop until ctx is cancelled or Close is called. On
// return every session socket and the listen channel are closed.
func (r *Relay) Run(ctx context.Context) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		r.teardown()
		r.running.Store(false)
		close(r.done)
	}()

	r.wg.Add(1)
	go r.readQueries()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.ctx.Done():
			return nil
		case q := <-r.queries:
			r.accept(q)
		case rp := <-r.replies:
			r.handleReply(rp)
		case req := <-r.snapshots:
			req <- r.snapshot()
		case <-ticker.C:
		}

		r.settle()
	}
}

// Close stops the loop, if running, and releases every socket.
func (r *Relay) Close() error {
	r.cancel()
	if r.running.Load() {
		<-r.done
		return nil
	}
	r.teardown()
	return nil
}

// Accept creates a session for q and forwards its payload. A failure to
// create the session socket is returned and no session is created. A failed
// send is logged and the session is still registered.
//
// Accept must not be called while Run is active.
func (r *Relay) Accept(q Query) (*Session, error) {
	if r.ctx.Err() != nil {
		return nil, ErrClosed
	}

	r.queriesTotal.Add(1)
	r.metrics.RecordQuery(len(q.Payload))

	args := []any{
		logging.KeyBytes, len(q.Payload),
		logging.KeyOrigin, q.Origin.String(),
	}
	if q.LocalAddr != nil {
		args = append(args, logging.KeyLocalAddr, q.LocalAddr.String(), logging.KeyInterface, q.IfIndex)
	}
	r.logger.Info("query received", args...)

	conn, err := r.newReplyConn()
	if err != nil {
		r.metrics.RecordError(metrics.OpSessionCreate)
		return nil, fmt.Errorf("create reply endpoint: %w", err)
	}

	r.nextID++
	s := newSession(r.nextID, conn, q.Origin, r.now())
	s.LocalAddr = q.LocalAddr
	s.IfIndex = q.IfIndex

	r.logger.Info("reply endpoint created",
		logging.KeySessionID, s.ID,
		logging.KeyReplyEndpoint, s.ReplyEndpoint().String(),
		logging.KeyForwardTo, r.addrs.forward.String())

	if _, err := conn.WriteToUDP(q.Payload, r.addrs.forward); err != nil {
		r.metrics.RecordError(metrics.OpForwardSend)
		r.sampler.Warn("forward failed",
			logging.KeySessionID, s.ID,
			logging.KeyForwardTo, r.addrs.forward.String(),
			logging.KeyError, err)
	}

	r.table.Insert(s)
	r.sessionsCreated.Add(1)
	r.active.Store(int64(r.table.Len()))
	r.metrics.RecordSessionCreated(r.table.Len())

	r.wg.Add(1)
	go r.readReplies(s.ID, conn)

	return s, nil
}

// RelayReply refreshes the session's activity time and sends payload to its
// origin from the listen channel.
//
// RelayReply must not be called while Run is active.
func (r *Relay) RelayReply(id SessionID, payload []byte) error {
	s := r.table.Get(id)
	if s == nil {
		return ErrUnknownSession
	}

	s.Touch(r.now())

	r.logger.Info("relaying reply",
		logging.KeySessionID, s.ID,
		logging.KeyBytes, len(payload),
		logging.KeyOrigin, s.Origin.String())

	if _, err := r.listen.WriteToUDP(payload, s.Origin); err != nil {
		r.metrics.RecordError(metrics.OpReplySend)
		return fmt.Errorf("send reply to %s: %w", s.Origin, err)
	}

	s.Replies++
	r.repliesTotal.Add(1)
	r.metrics.RecordReply(len(payload))
	return nil
}

// SweepIdle evicts every session idle longer than the idle timeout at now,
// closing its socket. It returns the number of sessions evicted.
//
// SweepIdle must not be called while Run is active.
func (r *Relay) SweepIdle(now time.Time) int {
	start := time.Now()
	expired := r.table.Expired(now, r.cfg.IdleTimeout)
	for _, id := range expired {
		if s := r.table.Remove(id); s != nil {
			r.evict(s, now)
		}
	}
	r.metrics.RecordSweep(time.Since(start))
	return len(expired)
}

// Len returns the number of sessions in the table.
//
// Len must not be called while Run is active; use Stats instead.
func (r *Relay) Len() int {
	return r.table.Len()
}

// Session returns the session with the given ID, or nil.
//
// Session must not be called while Run is active.
func (r *Relay) Session(id SessionID) *Session {
	return r.table.Get(id)
}

// Sessions returns a snapshot of the session table taken by the running loop.
func (r *Relay) Sessions(ctx context.Context) ([]SessionInfo, error) {
	if !r.running.Load() {
		return nil, ErrNotRunning
	}

	req := make(chan []SessionInfo, 1)
	select {
	case r.snapshots <- req:
	case <-r.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case infos := <-req:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsRunning reports whether the loop is running.
func (r *Relay) IsRunning() bool {
	return r.running.Load()
}

// Stats returns the relay counters. It is safe to call at any time.
func (r *Relay) Stats() Stats {
	return Stats{
		Running:         r.running.Load(),
		ActiveSessions:  int(r.active.Load()),
		QueriesTotal:    r.queriesTotal.Load(),
		RepliesTotal:    r.repliesTotal.Load(),
		SessionsCreated: r.sessionsCreated.Load(),
		SessionsEvicted: r.sessionsEvicted.Load(),
	}
}

// accept is Accept as called from the loop: failures are logged, not returned.
func (r *Relay) accept(q Query) {
	if _, err := r.Accept(q); err != nil {
		r.sampler.Error("query dropped",
			logging.KeyOrigin, q.Origin.String(),
			logging.KeyError, err)
	}
}

// handleReply relays one reply picked up by a session reader.
func (r *Relay) handleReply(rp reply) {
	if r.table.Get(rp.id) == nil {
		r.logger.Debug("reply for evicted session dropped",
			logging.KeySessionID, rp.id,
			logging.KeyBytes, len(rp.payload))
		return
	}
	if rp.responder != nil {
		r.logger.Debug("reply received",
			logging.KeySessionID, rp.id,
			logging.KeyResponder, rp.responder.String())
	}
	if err := r.RelayReply(rp.id, rp.payload); err != nil {
		r.sampler.Warn("reply relay failed",
			logging.KeySessionID, rp.id,
			logging.KeyError, err)
	}
}

// serviceReplies relays the replies already queued, without blocking.
func (r *Relay) serviceReplies() {
	for n := len(r.replies); n > 0; n-- {
		select {
		case rp := <-r.replies:
			r.handleReply(rp)
		default:
			return
		}
	}
}

// settle ends one loop iteration. Replies already queued refresh their
// sessions before the idle sweep runs.
func (r *Relay) settle() {
	r.serviceReplies()
	r.SweepIdle(r.now())
}

func (r *Relay) snapshot() []SessionInfo {
	now := r.now()
	sessions := r.table.All()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info(now))
	}
	return infos
}

func (r *Relay) evict(s *Session, now time.Time) {
	lifetime := now.Sub(s.CreatedAt)

	args := []any{
		logging.KeySessionID, s.ID,
		logging.KeyOrigin, s.Origin.String(),
		logging.KeyLifetime, lifetime.Round(time.Millisecond),
		logging.KeyReplies, s.Replies,
	}
	if ep := s.ReplyEndpoint(); ep != nil {
		args = append(args, logging.KeyReplyEndpoint, ep.String())
	}
	r.logger.Info("session cleaned", args...)

	if err := s.Close(); err != nil {
		r.metrics.RecordError(metrics.OpClose)
		r.sampler.Warn("close reply endpoint failed",
			logging.KeySessionID, s.ID,
			logging.KeyError, err)
	}

	r.sessionsEvicted.Add(1)
	r.active.Store(int64(r.table.Len()))
	r.metrics.RecordSessionEvicted(r.table.Len(), lifetime)
}

func (r *Relay) newReplyConn() (*net.UDPConn, error) {
	pc, err := r.lc.ListenPacket(r.ctx, "udp4", r.addrs.replyBind.String())
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	return conn, nil
}

// teardown closes the listen channel and every session, then waits for the
// reader goroutines.
func (r *Relay) teardown() {
	r.teardownOnce.Do(func() {
		r.cancel()

		if err := r.listen.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			r.logger.Warn("close listen channel failed", logging.KeyError, err)
		}

		n := r.table.Len()
		for _, id := range r.table.IDs() {
			if s := r.table.Remove(id); s != nil {
				s.Close()
			}
		}
		r.active.Store(0)
		r.metrics.SetSessionsActive(0)

		r.wg.Wait()
		r.logger.Info("relay stopped", logging.KeyCount, n)
	})
}
