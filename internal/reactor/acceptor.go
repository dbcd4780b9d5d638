package reactor

import (
	"context"
	"hash/fnv"
	"net"
	"strings"

	"shardgate/internal/logger"
	"shardgate/internal/ratelimit"
)

// AssignmentMode selects how a freshly accepted client connection is
// handed off to one of the running workers.
type AssignmentMode int

const (
	// RoundRobin cycles through workers in order, independent of the
	// connecting client.
	RoundRobin AssignmentMode = iota
	// ClientAddrHash always sends connections from the same client
	// address to the same worker.
	ClientAddrHash
)

func ParseAssignmentMode(s string) AssignmentMode {
	switch strings.ToLower(s) {
	case "hash", "client_addr_hash":
		return ClientAddrHash
	}
	return RoundRobin
}

// AcceptorOpts configures the listen-and-dispatch supervisor.
type AcceptorOpts struct {
	Addr           string
	Mode           AssignmentMode
	RateLimitQPS   int
	RateLimitBurst int
}

// Acceptor owns the downstream listen socket. It never touches request
// state itself — every accepted connection is handed to a worker's
// ClientHandler, matching the upstream design where the accept path and
// the per-connection reactor are different goroutines (there, different
// processes entirely) so a burst of new connections can never starve
// in-flight traffic.
type Acceptor struct {
	opts    AcceptorOpts
	workers []ClientHandler
	limiter *ratelimit.PerAddressLimiter
	next    int
}

// ClientHandler is what a worker exposes to the acceptor: a way to hand
// over a freshly accepted connection for that worker's loop to own.
type ClientHandler interface {
	AcceptClient(conn net.Conn)
}

// NewAcceptor builds an acceptor that round-robins or hashes across
// workers, depending on opts.Mode.
func NewAcceptor(opts AcceptorOpts, workers []ClientHandler) *Acceptor {
	return &Acceptor{
		opts:    opts,
		workers: workers,
		limiter: ratelimit.New(opts.RateLimitQPS, opts.RateLimitBurst),
	}
}

// Run listens on opts.Addr and accepts connections until ctx is done.
func (a *Acceptor) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", a.opts.Addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("reactor: accepting downstream connections on %s", a.opts.Addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Error("reactor: accept error: %v", err)
				continue
			}
		}
		a.dispatch(conn)
	}
}

func (a *Acceptor) dispatch(conn net.Conn) {
	addr, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if !a.limiter.Allow(addr) {
		logger.Warn("reactor: client %s rejected, connection rate exceeded", addr)
		conn.Close()
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetKeepAlive(true)
	}

	idx := a.pickWorker(addr)
	a.workers[idx].AcceptClient(conn)
}

func (a *Acceptor) pickWorker(clientAddr string) int {
	switch a.opts.Mode {
	case ClientAddrHash:
		h := fnv.New32a()
		h.Write([]byte(clientAddr))
		return int(h.Sum32()) % len(a.workers)
	default:
		idx := a.next
		a.next = (a.next + 1) % len(a.workers)
		return idx
	}
}
