package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/metrics"
)

const (
	inboxBuffer   = 256
	updatesBuffer = 64
)

// HubOptions configures a Hub.
type HubOptions struct {
	// InstanceID identifies this process on the relay.
	InstanceID string
	// Relayed enables peer updates, heartbeats and peer views.
	Relayed bool
	// Heartbeat is how often the local snapshot is re-published and peers are checked for expiry.
	Heartbeat time.Duration
	// PeerTTL drops peers that have not been heard from for this long. Zero disables expiry.
	PeerTTL time.Duration
	Logger  *zerolog.Logger
}

// Hub owns the connection registry of one process and fans out the visitor
// list to every registered client. All state is touched only by Run.
type Hub struct {
	opts HubOptions
	log  zerolog.Logger

	inbox   chan *Command
	updates chan PeerUpdate
	done    chan struct{}
	// sendMu is held for reading while a command is queued, and for writing
	// once by Run after done is closed, so nothing lands in inbox after the drain.
	sendMu sync.RWMutex

	registry *Registry
	clients  map[*Client]struct{}
	peers    map[string]*peerView
	seq      uint64
}

// NewHub creates a new hub instance.
func NewHub(opts HubOptions) *Hub {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Hub{
		opts:     opts,
		log:      logger.With().Str("component", "hub").Str("instance", opts.InstanceID).Logger(),
		inbox:    make(chan *Command, inboxBuffer),
		updates:  make(chan PeerUpdate, updatesBuffer),
		done:     make(chan struct{}),
		registry: NewRegistry(),
		clients:  make(map[*Client]struct{}),
		peers:    make(map[string]*peerView),
	}
}

// InstanceID returns the relay identity of this hub.
func (h *Hub) InstanceID() string {
	return h.opts.InstanceID
}

// Relayed reports whether the hub exchanges updates with peers.
func (h *Hub) Relayed() bool {
	return h.opts.Relayed
}

// Updates streams peer updates to publish on the relay. The channel is
// closed when Run returns, after the final bye has been queued.
func (h *Hub) Updates() <-chan PeerUpdate {
	return h.updates
}

// RegisterClient attaches a session. It immediately receives the current list.
func (h *Hub) RegisterClient(c *Client) {
	h.submit(&Command{Kind: CommandRegister, Client: c})
}

// UnregisterClient detaches a session and removes its registry entry.
func (h *Hub) UnregisterClient(c *Client) {
	h.submit(&Command{Kind: CommandUnregister, Client: c})
}

// Join records the identity announced by a registered session.
func (h *Hub) Join(c *Client, identity Identity) {
	h.submit(&Command{Kind: CommandJoin, Client: c, Identity: identity})
}

// ApplyRemote feeds an update received from the relay into the loop.
func (h *Hub) ApplyRemote(update PeerUpdate) {
	h.submit(&Command{Kind: CommandRemote, Update: &update})
}

// Snapshot returns the visitor list as currently broadcast.
func (h *Hub) Snapshot(ctx context.Context) ([]Identity, error) {
	reply := make(chan []Identity, 1)
	select {
	case h.inbox <- &Command{Kind: CommandSnapshot, Reply: reply}:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case list := <-reply:
		return list, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) submit(cmd *Command) {
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()

	select {
	case <-h.done:
		h.rejectStopped(cmd)
		return
	default:
	}
	select {
	case h.inbox <- cmd:
	case <-h.done:
		h.rejectStopped(cmd)
	}
}

// rejectStopped settles a command that reached a stopped hub. A client
// registering now is closed so its writer does not wait forever.
func (h *Hub) rejectStopped(cmd *Command) {
	if cmd.Kind == CommandRegister && cmd.Client != nil {
		close(cmd.Client.Events)
	}
}

// Run processes commands until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.updates)

	var tick <-chan time.Time
	if h.opts.Relayed {
		h.emit(PeerHello)
		if h.opts.Heartbeat > 0 {
			ticker := time.NewTicker(h.opts.Heartbeat)
			defer ticker.Stop()
			tick = ticker.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.inbox:
			h.handle(cmd)
		case <-tick:
			h.heartbeat(time.Now())
		}
	}
}

func (h *Hub) handle(cmd *Command) {
	switch cmd.Kind {
	case CommandRegister:
		h.clients[cmd.Client] = struct{}{}
		metrics.ConnectionsActive.Set(float64(len(h.clients)))
		h.deliver(cmd.Client, &Event{Kind: EventVisitors, Visitors: h.visible()})
	case CommandUnregister:
		if _, ok := h.clients[cmd.Client]; !ok {
			return
		}
		delete(h.clients, cmd.Client)
		close(cmd.Client.Events)
		metrics.ConnectionsActive.Set(float64(len(h.clients)))
		if h.registry.Leave(cmd.Client.ID) {
			h.log.Debug().Str("client_id", cmd.Client.ID).Msg("visitor left")
			h.localChanged()
		}
	case CommandJoin:
		if _, ok := h.clients[cmd.Client]; !ok {
			metrics.JoinsIgnored.WithLabelValues("unregistered").Inc()
			return
		}
		if !h.registry.Join(cmd.Client.ID, cmd.Identity) {
			metrics.JoinsIgnored.WithLabelValues("missing_ip").Inc()
			h.log.Debug().Str("client_id", cmd.Client.ID).Msg("join without ip ignored")
			return
		}
		h.log.Debug().Str("client_id", cmd.Client.ID).Str("ip", cmd.Identity.IP).Msg("visitor joined")
		h.localChanged()
	case CommandSnapshot:
		cmd.Reply <- h.visible()
	case CommandRemote:
		if cmd.Update != nil {
			h.applyRemote(*cmd.Update, time.Now())
		}
	}
}

func (h *Hub) localChanged() {
	h.seq++
	metrics.VisitorsLocal.Set(float64(h.registry.Len()))
	h.emit(PeerSnapshot)
	h.broadcast()
}

// broadcast pushes the visible list to every registered client.
func (h *Hub) broadcast() {
	list := h.visible()
	metrics.Broadcasts.Inc()
	metrics.VisitorsVisible.Set(float64(len(list)))
	for c := range h.clients {
		h.deliver(c, &Event{Kind: EventVisitors, Visitors: list})
	}
}

// deliver never blocks. A full buffer loses its oldest event, since every
// event carries the complete list and only the newest one matters.
func (h *Hub) deliver(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
		return
	default:
	}
	select {
	case <-c.Events:
		metrics.EventsDropped.Inc()
	default:
	}
	select {
	case c.Events <- ev:
	default:
		metrics.EventsDropped.Inc()
	}
}

// visible is the local snapshot followed by every peer's list, peers in instance order.
func (h *Hub) visible() []Identity {
	list := h.registry.Snapshot()
	if len(h.peers) == 0 {
		return list
	}
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, identity := range h.peers[id].visitors {
			list = append(list, identity.clone())
		}
	}
	return list
}

func (h *Hub) emit(kind PeerUpdateKind) {
	if !h.opts.Relayed {
		return
	}
	update := PeerUpdate{
		Instance: h.opts.InstanceID,
		Seq:      h.seq,
		Kind:     kind,
		SentAt:   time.Now().UTC(),
	}
	if kind == PeerSnapshot {
		update.Visitors = h.registry.Snapshot()
	}

	select {
	case h.updates <- update:
		return
	default:
	}
	// Publisher is behind; an older update is superseded by this one.
	select {
	case <-h.updates:
	default:
	}
	select {
	case h.updates <- update:
	default:
		h.log.Warn().Str("kind", string(kind)).Msg("relay queue full, dropping update")
	}
}

func (h *Hub) applyRemote(u PeerUpdate, now time.Time) {
	if u.Instance == "" || u.Instance == h.opts.InstanceID || !h.opts.Relayed {
		return
	}
	metrics.RelayReceived.WithLabelValues(string(u.Kind)).Inc()

	changed := false
	switch u.Kind {
	case PeerHello:
		// A restarted instance begins a new sequence.
		if view, ok := h.peers[u.Instance]; ok {
			changed = len(view.visitors) > 0
		}
		h.peers[u.Instance] = &peerView{seq: u.Seq, seenAt: now}
		h.emit(PeerSnapshot)
	case PeerBye:
		if _, ok := h.peers[u.Instance]; ok {
			delete(h.peers, u.Instance)
			changed = true
		}
	case PeerSnapshot:
		view, ok := h.peers[u.Instance]
		switch {
		case !ok:
			h.peers[u.Instance] = &peerView{seq: u.Seq, visitors: u.Visitors, seenAt: now}
			changed = len(u.Visitors) > 0
		case u.Seq < view.seq:
			h.log.Debug().Str("peer", u.Instance).Uint64("seq", u.Seq).Uint64("seen", view.seq).Msg("stale peer update ignored")
		case u.Seq == view.seq:
			view.seenAt = now
		default:
			view.seq = u.Seq
			view.visitors = u.Visitors
			view.seenAt = now
			changed = true
		}
	default:
		h.log.Debug().Str("peer", u.Instance).Str("kind", string(u.Kind)).Msg("unknown peer update kind")
	}

	metrics.RelayPeers.Set(float64(len(h.peers)))
	if changed {
		h.broadcast()
	}
}

func (h *Hub) heartbeat(now time.Time) {
	h.emit(PeerSnapshot)

	if h.opts.PeerTTL <= 0 {
		return
	}
	expired := false
	for id, view := range h.peers {
		if now.Sub(view.seenAt) > h.opts.PeerTTL {
			h.log.Info().Str("peer", id).Msg("peer expired")
			delete(h.peers, id)
			expired = true
		}
	}
	if expired {
		metrics.RelayPeers.Set(float64(len(h.peers)))
		h.broadcast()
	}
}

func (h *Hub) shutdown() {
	h.seq++
	h.emit(PeerBye)

	for c := range h.clients {
		close(c.Events)
		delete(h.clients, c)
	}
	metrics.ConnectionsActive.Set(0)

	close(h.done)
	h.sendMu.Lock()
	//nolint:staticcheck // empty critical section waits out in-flight submits
	h.sendMu.Unlock()
	h.drain()

	h.log.Info().Int("visitors", h.registry.Len()).Msg("hub stopped")
}

// drain settles commands queued before the hub stopped.
func (h *Hub) drain() {
	for {
		select {
		case cmd := <-h.inbox:
			h.rejectStopped(cmd)
		default:
			return
		}
	}
}
