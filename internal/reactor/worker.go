package reactor

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"shardgate/internal/channel"
	"shardgate/internal/cluster"
	"shardgate/internal/codec"
	"shardgate/internal/codec/resp"
	"shardgate/internal/logger"
	"shardgate/internal/pool"
)

// CodecFactory constructs a fresh codec instance for a newly dialed
// channel. Separate instances per channel cost nothing (codecs in this
// module tree are stateless) but keep the contract honest: a codec
// belongs to exactly one channel at a time.
type CodecFactory func() codec.Codec

// WorkerOpts configures one reactor worker.
type WorkerOpts struct {
	Index               int
	Pipeline            bool
	NewCodec            CodecFactory
	DialOpts            channel.DialOpts
	HealthCheckInterval time.Duration
	DeathCheckInterval  time.Duration
}

type readEvent struct {
	ch   *channel.Channel
	data []byte
	err  error
}

// clientResult is one slot in a downstream channel's reply-ordering
// queue. Replies from the cluster router can complete out of order
// relative to the requests a client pipelined; the queue enforces that
// replies still reach the client in request order, same as real Redis.
type clientResult struct {
	ready bool
	reply codec.Reply
	err   error
}

// clientSession tracks a downstream (client-facing) channel's in-flight
// request queue.
type clientSession struct {
	ch      *channel.Channel
	pending []*clientResult
}

// Worker is a single-threaded cooperative reactor. Everything it
// touches — the channel pool, the cluster router, every Channel it
// owns — is mutated only from Run's loop goroutine; reader goroutines
// communicate exclusively through the events channel.
type Worker struct {
	opts   WorkerOpts
	pool   *pool.Pool
	router *cluster.Router

	clients map[*channel.Channel]*clientSession

	events chan readEvent
	wake   chan func()
}

// NewWorker constructs a worker. router must have been constructed
// with this worker as its Transport (see Worker.SendTo).
func NewWorker(opts WorkerOpts, router *cluster.Router) *Worker {
	return &Worker{
		opts:    opts,
		pool:    pool.New(),
		router:  router,
		clients: make(map[*channel.Channel]*clientSession),
		events:  make(chan readEvent, 256),
		wake:    make(chan func(), 64),
	}
}

// SetRouter binds the router this worker drives. Worker and Router
// each need the other at construction time (the worker is the
// router's Transport; the router is the worker's dispatch target), so
// main.go builds the worker first with a nil router and closes the
// cycle here once cluster.New has returned.
func (w *Worker) SetRouter(router *cluster.Router) { w.router = router }

// RouterTopology exposes the bound router's slot-map snapshot for the
// admin surface.
func (w *Worker) RouterTopology() cluster.TopologySnapshot { return w.router.Topology() }

// Pool exposes the worker's named channel pool for admin/diagnostics.
func (w *Worker) Pool() *pool.Pool { return w.pool }

// ClientCount reports how many downstream client channels this worker
// currently owns, for admin/diagnostics surfaces. Racy in the same way
// Router.FailedNodeCount is: a diagnostic approximation, not a value
// the loop itself depends on.
func (w *Worker) ClientCount() int { return len(w.clients) }

// SendTo implements cluster.Transport: it finds or dials a channel to
// endpoint, encodes msg, writes it, and enqueues corr against the
// channel so the reply can be matched back up when it arrives.
func (w *Worker) SendTo(endpoint string, msg codec.Message, corr channel.Correlation) error {
	ch, ok := w.pool.Lookup(endpoint)
	if !ok {
		conn, err := channel.Dial(context.Background(), endpoint, w.opts.DialOpts)
		if err != nil {
			return err
		}
		ch = channel.New(endpoint, conn, true, w.opts.Pipeline, w.opts.NewCodec())
		ch.MarkEstablished()
		w.pool.Insert(ch)
		w.startReader(ch)
	}

	wire, err := ch.Codec.Encode(msg)
	if err != nil {
		return err
	}
	corr.KeyIndex = msg.KeyIndex
	ch.Enqueue(corr)
	if _, err := ch.Conn.Write(wire); err != nil {
		w.failChannel(ch, err)
		return err
	}
	ch.PenultimateActive = time.Now()
	return nil
}

// AcceptClient registers a freshly accepted downstream connection. It
// is called from the Acceptor's goroutine, so the actual bookkeeping
// is deferred onto this worker's own loop via Wake.
func (w *Worker) AcceptClient(conn net.Conn) {
	w.Wake(func() {
		ch := channel.New(conn.RemoteAddr().String(), conn, false, true, resp.New())
		ch.MarkEstablished()
		w.clients[ch] = &clientSession{ch: ch}
		w.startReader(ch)
	})
}

func (w *Worker) startReader(ch *channel.Channel) {
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := ch.Conn.Read(buf)
			if err != nil {
				w.events <- readEvent{ch: ch, err: err}
				return
			}
			data := append([]byte(nil), buf[:n]...)
			select {
			case w.events <- readEvent{ch: ch, data: data}:
			case <-ch.Done:
				return
			}
		}
	}()
}

// Run drives the reactor loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	healthTicker := time.NewTicker(max(w.opts.HealthCheckInterval, time.Second))
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			w.handleReadEvent(ev)
		case fn := <-w.wake:
			fn()
		case now := <-healthTicker.C:
			w.router.Tick(now)
			w.sweepDeadConnections(now)
		}
	}
}

// Wake lets another goroutine (the acceptor, another worker relaying
// through Shared) schedule fn to run on this worker's loop.
func (w *Worker) Wake(fn func()) {
	w.wake <- fn
}

func (w *Worker) handleReadEvent(ev readEvent) {
	if ev.err != nil {
		w.failChannel(ev.ch, ev.err)
		return
	}
	ev.ch.LastRecv = time.Now()
	ev.ch.PenultimateActive = ev.ch.LastRecv

	replies, err := ev.ch.Feed(ev.data)
	if err != nil {
		w.failChannel(ev.ch, err)
		return
	}

	if !ev.ch.IsClient {
		w.handleClientRequests(ev.ch, replies)
		return
	}
	for _, reply := range replies {
		corr, ok := w.popCorrelation(ev.ch)
		if !ok {
			logger.Error("reactor: reply on %s with no outstanding correlation, dropped", ev.ch.ID)
			continue
		}
		w.router.HandleReply(reply, corr)
	}
}

// handleClientRequests decodes each RESP array the client just sent as
// a command, routes it through the cluster router, and queues its
// eventual reply so responses are written back in request order even
// when the router resolves them out of order (multi-key fan-out, node
// redirects).
func (w *Worker) handleClientRequests(ch *channel.Channel, commands []codec.Reply) {
	sess, ok := w.clients[ch]
	if !ok {
		logger.Error("reactor: request on %s with no client session, dropped", ch.ID)
		return
	}
	for _, command := range commands {
		args, convErr := resp.ToStringSlice(command)
		result := &clientResult{}
		sess.pending = append(sess.pending, result)
		if convErr != nil {
			result.ready = true
			result.err = convErr
			continue
		}
		w.router.Dispatch(args, func(reply codec.Reply, err error) {
			result.ready = true
			result.reply = reply
			result.err = err
			w.flushClient(sess)
		})
	}
	w.flushClient(sess)
}

// flushClient writes every consecutive ready reply at the front of
// sess's queue, stopping at the first not-yet-ready entry.
func (w *Worker) flushClient(sess *clientSession) {
	for len(sess.pending) > 0 && sess.pending[0].ready {
		result := sess.pending[0]
		sess.pending = sess.pending[1:]

		reply := result.reply
		if result.err != nil {
			reply = codec.Reply{Kind: codec.KindError, Err: errMessage(result.err)}
		}
		if _, err := sess.ch.Conn.Write(resp.EncodeReply(reply)); err != nil {
			w.failChannel(sess.ch, err)
			return
		}
	}
}

func errMessage(err error) string {
	if ce, ok := err.(*cluster.Error); ok {
		return ce.Message
	}
	return err.Error()
}

func (w *Worker) popCorrelation(ch *channel.Channel) (channel.Correlation, bool) {
	if ch.Pipeline {
		return ch.PopOldest()
	}
	corr, ok := ch.PopSingle()
	if ok {
		w.pool.Checkin(ch)
	}
	return corr, ok
}

// failChannel tears down ch and delivers a DeathConnection error to
// every user step still waiting on a reply from it, per spec 4.4.8. For
// a downstream client channel there is no router-side pending state to
// resolve; its own session is simply dropped.
func (w *Worker) failChannel(ch *channel.Channel, cause error) {
	if ch.Status == channel.Closed {
		return
	}
	logger.Warn("reactor: channel %s failed: %v", ch.ID, cause)
	_ = ch.Close()

	if !ch.IsClient {
		delete(w.clients, ch)
		return
	}
	outstanding := ch.Outstanding()
	w.pool.Discard(ch)
	w.router.ChannelClosed(ch.ID)
	for _, corr := range outstanding {
		w.router.FailPending(corr.Seq, cluster.DeathConnection, cause.Error())
	}
}

// sweepDeadConnections implements spec 4.4.8's connection-death check:
// a channel whose activity went stale after once being live is torn
// down so the next request re-establishes a fresh connection. Only
// backend channels are swept this way; idle downstream clients are a
// normal, expected condition.
func (w *Worker) sweepDeadConnections(now time.Time) {
	checkTime := now.Add(-max(w.opts.DeathCheckInterval, time.Second))
	for _, ch := range w.pool.AllChannels() {
		if ch.IsDeadConnection(checkTime) {
			w.failChannel(ch, errDeathConnection)
		}
	}
}

var errDeathConnection = deathConnectionError("reactor: connection stalled")

type deathConnectionError string

func (e deathConnectionError) Error() string { return string(e) }
