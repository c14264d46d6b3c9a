package relay

import (
	"bytes"
	"errors"
	"net"

	"github.com/postalsys/carelay/internal/logging"
	"github.com/postalsys/carelay/internal/metrics"
	"github.com/postalsys/carelay/internal/recovery"
)

// readQueries reads datagrams from the listen channel and hands them to the
// loop one at a time. Datagrams beyond the one in flight wait in the socket
// receive buffer.
func (r *Relay) readQueries() {
	defer r.wg.Done()
	defer recovery.RecoverWithLog(r.logger, "relay.readQueries")

	buf := make([]byte, r.cfg.MaxPayloadSize)

	for {
		n, cm, src, err := r.listenPC.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.ctx.Err() != nil {
				return
			}
			r.metrics.RecordError(metrics.OpListenRead)
			r.sampler.Warn("listen channel read failed", logging.KeyError, err)
			continue
		}

		origin, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		q := Query{
			Payload: bytes.Clone(buf[:n]),
			Origin:  origin,
		}
		if cm != nil {
			q.LocalAddr = cm.Dst
			q.IfIndex = cm.IfIndex
		}

		select {
		case r.queries <- q:
		case <-r.ctx.Done():
			return
		}
	}
}

// readReplies reads datagrams from one session's socket until it is closed.
func (r *Relay) readReplies(id SessionID, conn *net.UDPConn) {
	defer r.wg.Done()
	defer recovery.RecoverWithLog(r.logger, "relay.readReplies")

	buf := make([]byte, r.cfg.MaxPayloadSize)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.ctx.Err() != nil {
				return
			}
			r.metrics.RecordError(metrics.OpReplyRead)
			r.sampler.Warn("reply endpoint read failed",
				logging.KeySessionID, id,
				logging.KeyError, err)
			continue
		}

		rp := reply{
			id:        id,
			payload:   bytes.Clone(buf[:n]),
			responder: from,
		}

		select {
		case r.replies <- rp:
		case <-r.ctx.Done():
			return
		}
	}
}
