// internal/websocket/hub.go
package websocket

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/metrics"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"
)

var (
	ErrHubStopped    = errors.New("hub stopped")
	ErrNotRegistered = errors.New("connection is not registered")
)

// Disconnect reasons reported in user_disconnected.
const (
	ReasonClosed      = "closed"
	ReasonIdle        = "idle_timeout"
	ReasonSlowClient  = "send_buffer_full"
	ReasonShutdown    = "server_shutdown"
	ReasonAdmitFailed = "admission_failed"
)

type registration struct {
	client   *Client
	rooms    []string
	greeting []byte
	done     chan error
}

type unregistration struct {
	client *Client
	reason string
	done   chan struct{}
}

type roomRequest struct {
	client *Client
	room   string
	reply  chan roomReply
}

type roomReply struct {
	members int
	err     error
}

// roomMessage fans payload out to the union of rooms. exclude may be nil.
type roomMessage struct {
	rooms   []string
	payload []byte
	exclude *Client
	reply   chan int
}

type directMessage struct {
	userID  string
	payload []byte
	reply   chan int
}

type delivery struct {
	client  *Client
	payload []byte
	reply   chan bool
}

type sweepRequest struct {
	threshold time.Duration
	reply     chan int
}

// Hub is the single owner of the connection and room registries. Every
// mutation runs on the Run goroutine, one event at a time, so a connection is
// listed in a room exactly when the room lists the connection.
type Hub struct {
	// Registered clients by connection id.
	clients map[string]*Client

	// Room name to member set. Empty rooms are deleted immediately.
	rooms map[string]map[string]*Client

	register   chan *registration
	unregister chan *unregistration
	join       chan *roomRequest
	leave      chan *roomRequest
	broadcast  chan *roomMessage
	direct     chan *directMessage
	deliver    chan *delivery
	sweep      chan *sweepRequest
	query      chan func()

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *registration),
		unregister: make(chan *unregistration),
		join:       make(chan *roomRequest),
		leave:      make(chan *roomRequest),
		broadcast:  make(chan *roomMessage),
		direct:     make(chan *directMessage),
		deliver:    make(chan *delivery),
		sweep:      make(chan *sweepRequest),
		query:      make(chan func()),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
		metrics:    m,
		now:        time.Now,
	}
}

// Run is the hub's event loop. It returns after Stop, once every remaining
// connection has gone through the disconnection path.
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)
	for {
		select {
		case r := <-h.register:
			r.done <- h.addClient(r.client, r.rooms, r.greeting)
		case u := <-h.unregister:
			h.removeClient(u.client, u.reason)
			close(u.done)
		case req := <-h.join:
			req.reply <- h.joinRoom(req.client, req.room)
		case req := <-h.leave:
			req.reply <- h.leaveRoom(req.client, req.room)
		case m := <-h.broadcast:
			m.reply <- h.broadcastFrom(m)
		case m := <-h.direct:
			m.reply <- h.sendToUser(m.userID, m.payload)
		case d := <-h.deliver:
			d.reply <- h.deliverTo(d.client, d.payload)
		case s := <-h.sweep:
			s.reply <- h.evictIdle(s.threshold)
		case fn := <-h.query:
			fn()
		case <-h.stop:
			h.shutdown()
			return
		}
	}
}

// Stop closes every connection and ends Run. Safe to call once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// --- Public API; each call is processed on the Run goroutine ---

// Register admits c and joins it to rooms in order.
func (h *Hub) Register(c *Client, rooms []string) error {
	return h.RegisterWithGreeting(c, rooms, nil)
}

// RegisterWithGreeting admits c like Register and queues greeting as its first
// frame, before any broadcast can reach it.
func (h *Hub) RegisterWithGreeting(c *Client, rooms []string, greeting []byte) error {
	r := &registration{client: c, rooms: rooms, greeting: greeting, done: make(chan error, 1)}
	select {
	case h.register <- r:
		return <-r.done
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister runs the disconnection path for c. Unregistering a connection
// that is already gone is a no-op.
func (h *Hub) Unregister(c *Client, reason string) {
	u := &unregistration{client: c, reason: reason, done: make(chan struct{})}
	select {
	case h.unregister <- u:
		<-u.done
	case <-h.done:
	}
}

// Join adds c to room and returns the member count after the join.
func (h *Hub) Join(c *Client, room string) (int, error) {
	return h.roomOp(h.join, c, room)
}

// Leave removes c from room and returns the members left in it.
func (h *Hub) Leave(c *Client, room string) (int, error) {
	return h.roomOp(h.leave, c, room)
}

func (h *Hub) roomOp(ch chan *roomRequest, c *Client, room string) (int, error) {
	req := &roomRequest{client: c, room: room, reply: make(chan roomReply, 1)}
	select {
	case ch <- req:
		r := <-req.reply
		return r.members, r.err
	case <-h.done:
		return 0, ErrHubStopped
	}
}

// BroadcastToRoom queues payload for every member of room except exclude and
// returns how many connections it was queued for.
func (h *Hub) BroadcastToRoom(room string, payload []byte, exclude *Client) int {
	return h.BroadcastToRooms([]string{room}, payload, exclude)
}

// BroadcastToRooms is BroadcastToRoom over several rooms. A connection that
// belongs to more than one of them receives payload once.
func (h *Hub) BroadcastToRooms(rooms []string, payload []byte, exclude *Client) int {
	m := &roomMessage{rooms: rooms, payload: payload, exclude: exclude, reply: make(chan int, 1)}
	select {
	case h.broadcast <- m:
		return <-m.reply
	case <-h.done:
		return 0
	}
}

// SendToUser queues payload for every connection of userID and returns the count.
func (h *Hub) SendToUser(userID string, payload []byte) int {
	m := &directMessage{userID: userID, payload: payload, reply: make(chan int, 1)}
	select {
	case h.direct <- m:
		return <-m.reply
	case <-h.done:
		return 0
	}
}

// Deliver queues payload for c. It reports false when c is no longer registered.
func (h *Hub) Deliver(c *Client, payload []byte) bool {
	d := &delivery{client: c, payload: payload, reply: make(chan bool, 1)}
	select {
	case h.deliver <- d:
		return <-d.reply
	case <-h.done:
		return false
	}
}

// Sweep evicts connections idle for longer than threshold and returns how many.
func (h *Hub) Sweep(threshold time.Duration) int {
	s := &sweepRequest{threshold: threshold, reply: make(chan int, 1)}
	select {
	case h.sweep <- s:
		return <-s.reply
	case <-h.done:
		return 0
	}
}

// run executes fn on the hub goroutine. fn must not call back into the hub.
func (h *Hub) run(fn func()) bool {
	done := make(chan struct{})
	select {
	case h.query <- func() { fn(); close(done) }:
		<-done
		return true
	case <-h.done:
		return false
	}
}

// IsRegistered reports whether c is still a live connection of the hub.
func (h *Hub) IsRegistered(c *Client) bool {
	var ok bool
	h.run(func() { ok = h.registered(c) })
	return ok
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	var n int
	h.run(func() { n = len(h.clients) })
	return n
}

// RoomSizes returns member counts per room.
func (h *Hub) RoomSizes() map[string]int {
	sizes := make(map[string]int)
	h.run(func() {
		for name, members := range h.rooms {
			sizes[name] = len(members)
		}
	})
	return sizes
}

// RoomMembers returns the sorted connection ids in room.
func (h *Hub) RoomMembers(room string) []string {
	var ids []string
	h.run(func() {
		for id := range h.rooms[room] {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

// Snapshot lists every connection, oldest first.
func (h *Hub) Snapshot() []models.ConnectionInfo {
	var out []models.ConnectionInfo
	h.run(func() {
		out = make([]models.ConnectionInfo, 0, len(h.clients))
		for _, c := range h.clients {
			out = append(out, c.info())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// --- Run goroutine only ---

func (h *Hub) addClient(c *Client, rooms []string, greeting []byte) error {
	if _, exists := h.clients[c.id]; exists {
		return nil
	}
	h.clients[c.id] = c
	if greeting != nil {
		h.enqueue(c, greeting)
	}
	for _, room := range rooms {
		h.joinRoom(c, room)
	}
	h.updateGauges()
	h.logger.Info("Client registered",
		zap.String("connID", c.id),
		zap.String("userID", c.user.ID),
		zap.String("role", string(c.user.Role)),
		zap.Int("total", len(h.clients)))
	return nil
}

// registered reports whether c is the live connection under its id.
func (h *Hub) registered(c *Client) bool {
	current, ok := h.clients[c.id]
	return ok && current == c
}

func (h *Hub) removeClient(c *Client, reason string) {
	if !h.registered(c) {
		return
	}
	for room := range c.rooms {
		h.dropMembership(c, room)
	}
	delete(h.clients, c.id)
	close(c.send)
	h.updateGauges()

	duration := h.now().Sub(c.meta.ConnectedAt)
	h.logger.Info("Client unregistered",
		zap.String("connID", c.id),
		zap.String("userID", c.user.ID),
		zap.String("reason", reason),
		zap.Duration("session", duration),
		zap.Int("total", len(h.clients)))

	payload, err := models.EncodeEnvelope(models.TypeUserDisconnected, models.UserDisconnectedPayload{
		ConnectionID:    c.id,
		Role:            c.user.Role,
		Name:            c.user.Name,
		SessionDuration: duration.Seconds(),
		Reason:          reason,
	})
	if err != nil {
		h.logger.Error("Failed to encode user_disconnected", zap.Error(err))
		return
	}
	h.fanOut([]string{auth.RoomAdmin}, payload, nil)
}

func (h *Hub) joinRoom(c *Client, room string) roomReply {
	if !h.registered(c) {
		return roomReply{err: ErrNotRegistered}
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
	h.updateGauges()
	return roomReply{members: len(members)}
}

func (h *Hub) leaveRoom(c *Client, room string) roomReply {
	if !h.registered(c) {
		return roomReply{err: ErrNotRegistered}
	}
	h.dropMembership(c, room)
	h.updateGauges()
	return roomReply{members: len(h.rooms[room])}
}

// dropMembership removes both sides of a membership and deletes the room once empty.
func (h *Hub) dropMembership(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// broadcastFrom drops fan-outs sent on behalf of a connection that is already gone.
func (h *Hub) broadcastFrom(m *roomMessage) int {
	if m.exclude != nil && !h.registered(m.exclude) {
		h.logger.Debug("Dropping broadcast from unregistered connection", zap.String("connID", m.exclude.id))
		return 0
	}
	return h.fanOut(m.rooms, m.payload, m.exclude)
}

func (h *Hub) fanOut(rooms []string, payload []byte, exclude *Client) int {
	seen := make(map[string]struct{})
	sent := 0
	var slow []*Client
	for _, room := range rooms {
		members := h.rooms[room]
		if len(members) == 0 {
			continue
		}
		h.metrics.Broadcast(room)
		for id, c := range members {
			if _, dup := seen[id]; dup || c == exclude {
				continue
			}
			seen[id] = struct{}{}
			if h.enqueue(c, payload) {
				sent++
			} else {
				slow = append(slow, c)
			}
		}
	}
	h.dropSlow(slow)
	return sent
}

func (h *Hub) sendToUser(userID string, payload []byte) int {
	sent := 0
	var slow []*Client
	for _, c := range h.clients {
		if c.user.ID != userID {
			continue
		}
		if h.enqueue(c, payload) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.dropSlow(slow)
	return sent
}

func (h *Hub) deliverTo(c *Client, payload []byte) bool {
	if !h.registered(c) {
		return false
	}
	if !h.enqueue(c, payload) {
		h.dropSlow([]*Client{c})
		return false
	}
	return true
}

// enqueue never blocks the hub; a full send buffer means the client cannot keep up.
func (h *Hub) enqueue(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) dropSlow(slow []*Client) {
	for _, c := range slow {
		h.logger.Warn("Client send buffer full, closing connection", zap.String("connID", c.id))
		h.removeClient(c, ReasonSlowClient)
	}
}

func (h *Hub) evictIdle(threshold time.Duration) int {
	cutoff := h.now().Add(-threshold)
	var idle []*Client
	for _, c := range h.clients {
		if c.LastActivity().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	for _, c := range idle {
		h.removeClient(c, ReasonIdle)
	}
	if len(idle) > 0 {
		h.logger.Info("Idle connections evicted", zap.Int("count", len(idle)))
	}
	h.metrics.Evicted(len(idle))
	return len(idle)
}

func (h *Hub) shutdown() {
	h.logger.Info("WebSocket Hub stopping", zap.Int("connections", len(h.clients)))
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	for _, c := range all {
		h.removeClient(c, ReasonShutdown)
	}
}

func (h *Hub) updateGauges() {
	h.metrics.SetConnections(len(h.clients))
	h.metrics.SetRooms(len(h.rooms))
}
