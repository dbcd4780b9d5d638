// Package cluster implements the Redis-cluster router: the stateful,
// pipelined client that maps user commands to shards, follows MOVED/ASK
// redirections, splits and reassembles multi-key commands, and keeps
// its slot map current via periodic CLUSTER SLOTS refreshes.
package cluster

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"shardgate/internal/channel"
	"shardgate/internal/codec"
	"shardgate/internal/logger"
	"shardgate/internal/registry"
)

// ReplyFunc is how the router delivers a finished reply (or error) back
// to the user step that issued the original request.
type ReplyFunc func(reply codec.Reply, err error)

// Transport is the reactor-backed send path the router depends on. A
// router never opens a socket itself; it asks the transport to deliver
// a message to a named endpoint and tags the send with a correlation
// the transport must hand back unchanged when the reply arrives.
type Transport interface {
	SendTo(endpoint string, msg codec.Message, corr channel.Correlation) error
}

// Config mirrors the router-level settings from internal/config.
type Config struct {
	SeedAddresses  []string
	WithSSL        bool
	Pipeline       bool
	EnableReadonly bool
	Timeout        time.Duration
	AuthPassword   string
	MaxRedirects   int
	Identify       string // registry label for this cluster, used for AUTH credential lookups
}

type pendingKind int

const (
	pendingHousekeeping pendingKind = iota
	pendingUserSingle
	pendingUserMultiSub
)

type pending struct {
	kind     pendingKind
	housekeeping string // "CLUSTER_SLOTS", "ASKING", "PING", "READONLY", "AUTH"
	endpoint string
	args     []string // original args, retained for redirection replay
	userSeq  uint64
	keyIndex []int // for pendingUserMultiSub: original positions this sub-request covers
	redirects int
}

type aggregation struct {
	userSeq   uint64
	remaining int
	replies   []codec.Reply
	errs      []*Error
	deliver   ReplyFunc
}

type waitingRequest struct {
	args    []string
	deliver ReplyFunc
}

type timeoutBucket struct {
	at   time.Time
	seqs []uint64
}

// Router is the Redis-cluster router. All of its state is owned by the
// single reactor goroutine that drives it; the mutex exists only so
// admin/diagnostics code on another goroutine can take a snapshot.
type Router struct {
	mu sync.Mutex

	cfg       Config
	transport Transport
	registry  *registry.Registry

	slotMap     map[int]*node
	allNodes    map[string]struct{}
	failedNodes map[string]struct{}

	addressIndex int
	lastCheck    time.Time

	pendingBySeq map[uint64]*pending
	deliverBySeq map[uint64]ReplyFunc
	aggBySeq     map[uint64]*aggregation

	// pendingSeqsByUser tracks, for each outstanding user step, every
	// internal send sequence (pendingBySeq key) issued on its behalf,
	// so a timeout sweep can purge those correlation entries too
	// instead of only the aggregation/deliver bookkeeping (spec 4.4.7).
	pendingSeqsByUser map[uint64][]uint64

	waiting []waitingRequest

	timeoutBuckets []*timeoutBucket

	readyEndpoints map[string]bool // endpoints that have had READONLY sent on their current channel
}

// New constructs a router with an empty slot map; callers must call
// RefreshTopology (or wait for the first Dispatch to trigger it) before
// any request can be routed.
func New(cfg Config, transport Transport, reg *registry.Registry) *Router {
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.Identify == "" {
		cfg.Identify = strings.Join(cfg.SeedAddresses, ",")
	}
	reg.SetCredential(cfg.Identify, cfg.AuthPassword)
	return &Router{
		cfg:               cfg,
		transport:         transport,
		registry:          reg,
		slotMap:           make(map[int]*node),
		allNodes:          make(map[string]struct{}),
		failedNodes:       make(map[string]struct{}),
		pendingBySeq:      make(map[uint64]*pending),
		deliverBySeq:      make(map[uint64]ReplyFunc),
		aggBySeq:          make(map[uint64]*aggregation),
		pendingSeqsByUser: make(map[uint64][]uint64),
		readyEndpoints:    make(map[string]bool),
	}
}

// Dispatch routes a parsed user command. deliver is invoked exactly
// once with the final reply or error: synchronously, before Dispatch
// returns, when the command is rejected or cannot be routed or sent;
// otherwise from a later HandleReply, FailPending or Tick call.
func (r *Router) Dispatch(args []string, deliver ReplyFunc) {
	if len(r.slotMap) == 0 {
		r.waiting = append(r.waiting, waitingRequest{args: args, deliver: deliver})
		r.RefreshTopology()
		return
	}

	ex, cmdErr := extractCmd(args)
	if cmdErr != nil {
		deliver(codec.Reply{}, cmdErr)
		return
	}

	userSeq := channel.NextSeq()
	r.registerTimeout(userSeq)

	switch {
	case len(ex.keySlots) == 0:
		r.sendSingle(userSeq, ex, 0, args, deliver, nil)
	case len(ex.keySlots) == 1:
		r.sendSingle(userSeq, ex, ex.keySlots[0], args, deliver, nil)
	default:
		subs := splitBySlot(ex, args)
		agg := &aggregation{
			userSeq:   userSeq,
			remaining: len(subs),
			replies:   make([]codec.Reply, len(ex.keySlots)),
			errs:      make([]*Error, len(ex.keySlots)),
			deliver:   deliver,
		}
		r.aggBySeq[userSeq] = agg
		for _, sub := range subs {
			r.sendSingle(userSeq, ex, sub.slot, sub.args, nil, sub.keyIndex)
		}
	}
}

// sendSingle routes one already-sliced request (single-key or one
// shard's share of a multi-key command) to its node.
func (r *Router) sendSingle(userSeq uint64, ex extracted, slot int, args []string, deliver ReplyFunc, keyIndex []int) {
	endpoint, isMaster, ok := r.pickNode(slot, ex.write)
	if !ok {
		err := newError(NoRoute, "no known node for slot %d", slot)
		r.completeUser(userSeq, keyIndex, codec.Reply{}, err, deliver)
		return
	}

	if !isMaster && !r.readyEndpoints[endpoint] {
		r.sendHousekeeping(endpoint, "READONLY", []string{"READONLY"})
		r.readyEndpoints[endpoint] = true
	}

	kind := pendingUserSingle
	if keyIndex != nil {
		kind = pendingUserMultiSub
	}
	seq := channel.NextSeq()
	r.pendingBySeq[seq] = &pending{kind: kind, endpoint: endpoint, args: args, userSeq: userSeq, keyIndex: keyIndex}
	r.pendingSeqsByUser[userSeq] = append(r.pendingSeqsByUser[userSeq], seq)
	if deliver != nil {
		r.deliverBySeq[userSeq] = deliver
	}

	if err := r.transport.SendTo(endpoint, codec.Message{Args: args}, channel.Correlation{Seq: seq}); err != nil {
		r.onSendFailure(endpoint, err)
		if _, still := r.pendingBySeq[seq]; !still {
			return // the transport already resolved this send via FailPending
		}
		delete(r.pendingBySeq, seq)
		r.completeUser(userSeq, keyIndex, codec.Reply{}, newError(TransportError, "%v", err), deliver)
	}
}

// pickNode resolves a slot to an endpoint. When keySlots is empty
// (commands like PING) it dispatches to any known node.
func (r *Router) pickNode(slot int, write bool) (endpoint string, isMaster bool, ok bool) {
	n, found := r.slotMap[slot]
	if !found {
		for _, candidate := range r.slotMap {
			endpoint, isMaster = candidate.pick(write, r.cfg.EnableReadonly, r.failedNodes)
			return endpoint, isMaster, true
		}
		return "", false, false
	}
	endpoint, isMaster = n.pick(write, r.cfg.EnableReadonly, r.failedNodes)
	return endpoint, isMaster, true
}

func (r *Router) sendHousekeeping(endpoint, label string, args []string) {
	seq := channel.NextSeq()
	r.pendingBySeq[seq] = &pending{kind: pendingHousekeeping, housekeeping: label, endpoint: endpoint}
	if err := r.transport.SendTo(endpoint, codec.Message{Args: args}, channel.Correlation{Seq: seq}); err != nil {
		r.onSendFailure(endpoint, err)
		delete(r.pendingBySeq, seq)
	}
}

// RefreshTopology issues CLUSTER SLOTS against the next seed in
// rotation. Mirrors the upstream implementation's address-index
// bookkeeping verbatim, including the fact that each call advances the
// index twice (once to pick the address, once more after sending) —
// skipping one seed per refresh is intentional-as-observed, not a bug
// to fix, since every seed still gets visited on a long enough run.
func (r *Router) RefreshTopology() {
	if len(r.cfg.SeedAddresses) == 0 {
		logger.Error("cluster: no seed addresses configured")
		return
	}
	if r.addressIndex >= len(r.cfg.SeedAddresses) {
		r.addressIndex = 0
	}
	addr := r.cfg.SeedAddresses[r.addressIndex]
	r.addressIndex++
	r.addressIndex++
	r.sendHousekeeping(addr, "CLUSTER_SLOTS", []string{"CLUSTER", "SLOTS"})
}

// HandleReply is invoked by the transport when a reply arrives for a
// request the router previously sent, identified by corr.Seq.
func (r *Router) HandleReply(reply codec.Reply, corr channel.Correlation) {
	p, ok := r.pendingBySeq[corr.Seq]
	if !ok {
		logger.Error("cluster: reply for unknown sequence %d dropped", corr.Seq)
		return
	}
	delete(r.pendingBySeq, corr.Seq)

	switch p.kind {
	case pendingHousekeeping:
		r.handleHousekeepingReply(p, reply)
	case pendingUserSingle:
		r.handleUserReply(p, corr.Seq, reply, nil)
	case pendingUserMultiSub:
		r.handleUserReply(p, corr.Seq, reply, p.keyIndex)
	}
}

func (r *Router) handleHousekeepingReply(p *pending, reply codec.Reply) {
	switch p.housekeeping {
	case "CLUSTER_SLOTS":
		if err := r.applyClusterSlots(reply); err != nil {
			logger.Error("cluster: CLUSTER SLOTS refresh failed: %v", err)
			return
		}
		waiting := r.waiting
		r.waiting = nil
		for _, w := range waiting {
			r.Dispatch(w.args, w.deliver)
		}
	case "PING":
		if reply.Kind == codec.KindSimple || reply.Kind == codec.KindBulk {
			delete(r.failedNodes, p.endpoint)
		}
	case "ASKING", "READONLY":
		if reply.Kind == codec.KindError {
			logger.Error("cluster: %s on %s failed: %s", p.housekeeping, p.endpoint, reply.Err)
		}
	case "AUTH":
		if reply.Kind == codec.KindError {
			logger.Error("cluster: AUTH on %s failed: %s", p.endpoint, reply.Err)
		}
	}
}

func (r *Router) handleUserReply(p *pending, seq uint64, reply codec.Reply, keyIndex []int) {
	if reply.Kind == codec.KindError {
		if redirected := r.handleRedirectOrAuth(p, reply); redirected {
			return
		}
	}

	var userErr *Error
	if reply.Kind == codec.KindError {
		userErr = newError(ServerError, "%s", reply.Err)
	}

	if keyIndex == nil {
		r.completeUser(p.userSeq, nil, reply, userErr, r.takeDeliver(p.userSeq))
		return
	}

	agg, ok := r.aggBySeq[p.userSeq]
	if !ok {
		logger.Error("cluster: multi-key reply for unknown aggregation seq %d dropped", p.userSeq)
		return
	}
	if userErr != nil {
		for _, idx := range keyIndex {
			agg.errs[idx] = userErr
		}
	} else if reply.Kind == codec.KindArray {
		// multi-key sub-reply (MGET-style): one array element per key
		// this sub-request carried, in the same order as keyIndex.
		for i, idx := range keyIndex {
			if i < len(reply.Array) {
				agg.replies[idx] = reply.Array[i]
			}
		}
	} else {
		// multi-key-value sub-reply (MSET-style): a single scalar
		// (+OK) answers for every key this sub-request carried.
		for _, idx := range keyIndex {
			agg.replies[idx] = reply
		}
	}
	agg.remaining--
	if agg.remaining == 0 {
		delete(r.aggBySeq, p.userSeq)
		r.deliverAggregation(agg)
	}
}

func (r *Router) deliverAggregation(agg *aggregation) {
	for i, e := range agg.errs {
		if e != nil {
			agg.replies[i] = codec.Reply{Kind: codec.KindError, Err: e.Message}
		}
	}
	r.clearPendingSeqs(agg.userSeq)
	agg.deliver(codec.Reply{Kind: codec.KindArray, Array: agg.replies}, nil)
}

// handleRedirectOrAuth inspects an error reply for MOVED/ASK/NOAUTH and
// re-sends the original request per spec 4.4.4/4.4.5/4.4.6. Returns
// true if it took over delivery (the caller must not also treat the
// reply as final).
func (r *Router) handleRedirectOrAuth(p *pending, reply codec.Reply) bool {
	switch {
	case strings.HasPrefix(reply.Err, "MOVED "):
		endpoint, ok := parseRedirect(reply.Err)
		if !ok {
			return false
		}
		r.RefreshTopology()
		r.resendRedirected(p, endpoint)
		return true

	case strings.HasPrefix(reply.Err, "ASK "):
		endpoint, ok := parseRedirect(reply.Err)
		if !ok {
			return false
		}
		r.sendHousekeeping(endpoint, "ASKING", []string{"ASKING"})
		r.resendRedirected(p, endpoint)
		return true

	case strings.HasPrefix(reply.Err, "NOAUTH"):
		password, err := r.registry.Credential(r.cfg.Identify)
		if err != nil {
			r.completeUser(p.userSeq, p.keyIndex, codec.Reply{}, newError(AuthFailed, "no credential registered"), r.takeDeliver(p.userSeq))
			return true
		}
		r.sendHousekeeping(p.endpoint, "AUTH", []string{"AUTH", password})
		r.resendRedirected(p, p.endpoint)
		return true

	case strings.HasPrefix(reply.Err, "CROSSSLOT"):
		r.RefreshTopology()
		if p.keyIndex == nil {
			r.completeUser(p.userSeq, nil, codec.Reply{}, newError(CrossSlot, "%s", reply.Err), r.takeDeliver(p.userSeq))
		} else if agg, ok := r.aggBySeq[p.userSeq]; ok {
			for _, idx := range p.keyIndex {
				agg.errs[idx] = newError(CrossSlot, "%s", reply.Err)
			}
			agg.remaining--
			if agg.remaining == 0 {
				delete(r.aggBySeq, p.userSeq)
				r.deliverAggregation(agg)
			}
		}
		return true
	}
	return false
}

func (r *Router) resendRedirected(p *pending, endpoint string) {
	if p.redirects >= r.cfg.MaxRedirects {
		r.completeUser(p.userSeq, p.keyIndex, codec.Reply{}, newError(ServerError, "too many redirects"), r.takeDeliver(p.userSeq))
		return
	}
	seq := channel.NextSeq()
	r.pendingBySeq[seq] = &pending{
		kind: p.kind, endpoint: endpoint, args: p.args, userSeq: p.userSeq,
		keyIndex: p.keyIndex, redirects: p.redirects + 1,
	}
	r.pendingSeqsByUser[p.userSeq] = append(r.pendingSeqsByUser[p.userSeq], seq)
	if err := r.transport.SendTo(endpoint, codec.Message{Args: p.args}, channel.Correlation{Seq: seq}); err != nil {
		r.onSendFailure(endpoint, err)
		if _, still := r.pendingBySeq[seq]; !still {
			return // the transport already resolved this send via FailPending
		}
		delete(r.pendingBySeq, seq)
		r.completeUser(p.userSeq, p.keyIndex, codec.Reply{}, newError(TransportError, "%v", err), r.takeDeliver(p.userSeq))
	}
}

func (r *Router) takeDeliver(userSeq uint64) ReplyFunc {
	d := r.deliverBySeq[userSeq]
	delete(r.deliverBySeq, userSeq)
	return d
}

func (r *Router) completeUser(userSeq uint64, keyIndex []int, reply codec.Reply, err *Error, deliver ReplyFunc) {
	if keyIndex != nil {
		if agg, ok := r.aggBySeq[userSeq]; ok {
			for _, idx := range keyIndex {
				agg.errs[idx] = err
			}
			agg.remaining--
			if agg.remaining == 0 {
				delete(r.aggBySeq, userSeq)
				r.deliverAggregation(agg)
			}
			return
		}
	}
	if deliver == nil {
		return
	}
	r.clearPendingSeqs(userSeq)
	if err != nil {
		var wrapped error = err
		deliver(codec.Reply{}, wrapped)
		return
	}
	deliver(reply, nil)
}

// clearPendingSeqs drops every internal send correlation still tracked
// for userSeq from pendingBySeq, so a late reply against one of them is
// dropped as unknown (spec 4.4.8) instead of resolving a step that has
// already been delivered or timed out.
func (r *Router) clearPendingSeqs(userSeq uint64) {
	for _, seq := range r.pendingSeqsByUser[userSeq] {
		delete(r.pendingBySeq, seq)
	}
	delete(r.pendingSeqsByUser, userSeq)
}

func parseRedirect(errMsg string) (endpoint string, ok bool) {
	fields := strings.Fields(errMsg)
	if len(fields) != 3 {
		return "", false
	}
	return fields[2], true
}

// applyClusterSlots parses a CLUSTER SLOTS array reply into the slot
// map, grouping [from,to] ranges by the (master, followers) node they
// describe.
func (r *Router) applyClusterSlots(reply codec.Reply) error {
	if reply.Kind != codec.KindArray {
		return newError(ServerError, "CLUSTER SLOTS did not return an array")
	}
	r.allNodes = make(map[string]struct{})
	for _, rangeReply := range reply.Array {
		if rangeReply.Kind != codec.KindArray || len(rangeReply.Array) < 3 {
			continue
		}
		from := rangeReply.Array[0]
		to := rangeReply.Array[1]
		if from.Kind != codec.KindInteger || to.Kind != codec.KindInteger {
			continue
		}
		n := &node{}
		for j := 2; j < len(rangeReply.Array); j++ {
			hostPort := rangeReply.Array[j]
			if hostPort.Kind != codec.KindArray || len(hostPort.Array) < 2 {
				break
			}
			host := hostPort.Array[0]
			port := hostPort.Array[1]
			if host.Kind != codec.KindBulk && host.Kind != codec.KindSimple {
				break
			}
			if port.Kind != codec.KindInteger {
				break
			}
			endpoint := host.Str + ":" + strconv.FormatInt(port.Int, 10)
			if j == 2 {
				n.master = endpoint
			} else {
				n.followers = append(n.followers, endpoint)
			}
			r.allNodes[endpoint] = struct{}{}
		}
		for slot := int(from.Int); slot <= int(to.Int); slot++ {
			r.slotMap[slot] = n
		}
	}
	return nil
}

// onSendFailure records endpoint as failed and forgets its READONLY
// handshake. It does not resolve the other requests in flight on that
// endpoint; the transport does that through FailPending when it tears
// the channel down.
func (r *Router) onSendFailure(endpoint string, cause error) {
	r.failedNodes[endpoint] = struct{}{}
	delete(r.readyEndpoints, endpoint)
	logger.Warn("cluster: send to %s failed: %v", endpoint, cause)
}

// ChannelClosed clears any per-channel handshake state tracked against
// endpoint. It must be called whenever the reactor tears down the
// channel backing endpoint (death-connection sweep, explicit discard),
// not just on a send error: READONLY is "sent on its current channel"
// per spec 4.4.3, and a freshly dialed replacement channel has not
// seen it, regardless of why the old one went away.
func (r *Router) ChannelClosed(endpoint string) {
	delete(r.readyEndpoints, endpoint)
}

func (r *Router) registerTimeout(seq uint64) {
	now := time.Now()
	if len(r.timeoutBuckets) > 0 {
		last := r.timeoutBuckets[len(r.timeoutBuckets)-1]
		if last.at.Equal(now) {
			last.seqs = append(last.seqs, seq)
			return
		}
	}
	r.timeoutBuckets = append(r.timeoutBuckets, &timeoutBucket{at: now, seqs: []uint64{seq}})
}

// Tick runs periodic housekeeping: CLUSTER SLOTS refresh and PING when
// there are failed nodes, and sweeping timed-out steps. Calls closer
// together than 2s are no-ops, mirroring the source system's own
// minimum tick spacing.
func (r *Router) Tick(now time.Time) {
	if !r.lastCheck.IsZero() && now.Sub(r.lastCheck) < 2*time.Second {
		return
	}
	r.lastCheck = now

	if len(r.failedNodes) > 0 {
		r.RefreshTopology()
	}

	stillFailed := make([]string, 0, len(r.failedNodes))
	for endpoint := range r.failedNodes {
		if _, known := r.allNodes[endpoint]; !known {
			continue
		}
		stillFailed = append(stillFailed, endpoint)
	}
	sort.Strings(stillFailed)
	for endpoint := range r.failedNodes {
		if _, known := r.allNodes[endpoint]; !known {
			delete(r.failedNodes, endpoint)
		}
	}
	for _, endpoint := range stillFailed {
		r.sendHousekeeping(endpoint, "PING", []string{"PING"})
	}

	r.sweepTimeouts(now)
}

func (r *Router) sweepTimeouts(now time.Time) {
	i := 0
	for ; i < len(r.timeoutBuckets); i++ {
		bucket := r.timeoutBuckets[i]
		if now.Sub(bucket.at) < r.cfg.Timeout {
			break
		}
		for _, seq := range bucket.seqs {
			if agg, ok := r.aggBySeq[seq]; ok {
				delete(r.aggBySeq, seq)
				if deliver := agg.deliver; deliver != nil {
					deliver(codec.Reply{}, newError(Timeout, "step %d timed out", seq))
				}
			}
			if deliver, ok := r.deliverBySeq[seq]; ok {
				delete(r.deliverBySeq, seq)
				deliver(codec.Reply{}, newError(Timeout, "step %d timed out", seq))
			}
			r.clearPendingSeqs(seq)
		}
	}
	r.timeoutBuckets = r.timeoutBuckets[i:]
}

// FailPending resolves a single outstanding send (user request or
// housekeeping) with a synthetic error, used when the reactor tears
// down a channel before its reply arrived — a dead connection, a write
// failure, or a timeout sweep on the transport side. Safe to call with
// a seq that has already been resolved; it is then a no-op.
func (r *Router) FailPending(seq uint64, kind ErrKind, message string) {
	p, ok := r.pendingBySeq[seq]
	if !ok {
		return
	}
	delete(r.pendingBySeq, seq)

	if p.kind == pendingHousekeeping {
		r.failedNodes[p.endpoint] = struct{}{}
		return
	}
	r.completeUser(p.userSeq, p.keyIndex, codec.Reply{}, newError(kind, "%s", message), r.takeDeliver(p.userSeq))
}

// FailedNodeCount reports how many endpoints are currently marked
// failed, for admin/diagnostics surfaces.
func (r *Router) FailedNodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failedNodes)
}

// NodeSummary is one node's topology view, for admin/diagnostics.
type NodeSummary struct {
	Master    string   `json:"master"`
	Followers []string `json:"followers,omitempty"`
	SlotCount int      `json:"slotCount"`
}

// TopologySnapshot is a point-in-time view of the router's slot map.
type TopologySnapshot struct {
	SlotsKnown  int           `json:"slotsKnown"`
	Nodes       []NodeSummary `json:"nodes"`
	FailedNodes []string      `json:"failedNodes,omitempty"`
}

// Topology returns a snapshot of the current slot map, grouped by node,
// for the admin surface's /topology endpoint.
func (r *Router) Topology() TopologySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNode := make(map[*node]int, len(r.slotMap))
	for _, n := range r.slotMap {
		byNode[n]++
	}
	snap := TopologySnapshot{SlotsKnown: len(r.slotMap)}
	for n, count := range byNode {
		snap.Nodes = append(snap.Nodes, NodeSummary{
			Master:    n.master,
			Followers: append([]string(nil), n.followers...),
			SlotCount: count,
		})
	}
	for endpoint := range r.failedNodes {
		snap.FailedNodes = append(snap.FailedNodes, endpoint)
	}
	return snap
}
