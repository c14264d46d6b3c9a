// Package relay implements a stateful UDP broadcast relay.
//
// Queries arriving as unicast datagrams on the listen channel are resent,
// byte for byte, from a fresh per-query socket to a forward target that is
// usually a broadcast address. Replies arriving on that per-query socket are
// sent back to the original requester from the listen channel, so the
// requester sees the answer come from the address it queried.
//
// # Sessions
//
// Every query creates one Session holding its reply socket, the origin
// address and a last-activity time. Sessions are never coalesced, even for
// duplicate queries from the same origin. A Session stays in the table,
// relaying any number of replies, until it has been idle for longer than
// the idle timeout.
//
// # Event loop
//
// A single loop (Relay.Run) owns the session table. Reader goroutines, one per
// socket, deliver received datagrams to the loop over channels; the loop
// accepts at most one new query per iteration, then services pending replies,
// then sweeps idle sessions. A ticker bounds the time between sweeps when no
// traffic arrives. Accept, RelayReply and SweepIdle can be called directly
// when the loop is not running.
package relay
