package ws

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"outer/domain"
	"outer/room"
)

// outboundQueueSize is the high-water mark beyond which a slow consumer is
// dropped rather than blocking room broadcasts.
const outboundQueueSize = 256

// Conn owns exactly one client channel end to end: a read loop decoding
// envelopes and a write loop draining the bounded outbound queue. The
// write side never blocks the read side.
type Conn struct {
	id     string
	ws     *websocket.Conn
	server *Server

	outbound  chan domain.Event
	closeOnce sync.Once
	closed    chan struct{}

	mu            sync.Mutex
	subscribed    map[string]string // journal id -> presence id
	participantId string            // registered participant, if any
}

var _ room.Subscriber = (*Conn)(nil)

func newConn(ws *websocket.Conn, server *Server) *Conn {
	return &Conn{
		id:         uuid.New().String(),
		ws:         ws,
		server:     server,
		outbound:   make(chan domain.Event, outboundQueueSize),
		closed:     make(chan struct{}),
		subscribed: make(map[string]string),
	}
}

func (c *Conn) Id() string {
	return c.id
}

// Enqueue implements room.Subscriber. It never blocks; false marks this
// connection for eviction.
func (c *Conn) Enqueue(event domain.Event) bool {
	select {
	case <-c.closed:
		return true // already closing; nothing to evict
	default:
	}

	select {
	case c.outbound <- event:
		return true
	default:
		return false
	}
}

// Drop implements room.Subscriber: the room evicted this connection for
// falling behind.
func (c *Conn) Drop() {
	zlog.Warn().Str("conn_id", c.id).Msg("Closing connection dropped by room")
	c.close()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// Send enqueues an event for this connection alone, outside any room
// broadcast. Commands are acknowledged through it.
func (c *Conn) Send(event domain.Event) {
	if !c.Enqueue(event) {
		c.Drop()
	}
}

// run services the connection until the client goes away. The write loop
// gets its own goroutine; reads happen here.
func (c *Conn) run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
	c.teardown()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case event := <-c.outbound:
			if err := c.ws.WriteJSON(event); err != nil {
				zlog.Debug().Err(err).Str("conn_id", c.id).Msg("Write failed, closing connection")
				c.close()
				return
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			zlog.Debug().Err(err).Str("conn_id", c.id).Msg("Client disconnected")
			return
		}

		message, err := UnmarshalMessage(data)
		if err != nil {
			// malformed envelopes produce an error event; the connection
			// survives
			c.Send(domain.ErrorEvent{
				EventType: domain.ErrorEventType,
				Message:   "malformed envelope",
				Details:   err.Error(),
			})
			continue
		}

		c.server.handleMessage(ctx, c, message)
	}
}

// teardown detaches from every subscribed room, marking this connection's
// presence away first. In-flight streams are unaffected.
func (c *Conn) teardown() {
	c.close()

	c.mu.Lock()
	subscribed := make(map[string]string, len(c.subscribed))
	for journalId, presenceId := range c.subscribed {
		subscribed[journalId] = presenceId
	}
	c.subscribed = make(map[string]string)
	participantId := c.participantId
	c.mu.Unlock()

	for journalId := range subscribed {
		if r, ok := c.server.rooms.Lookup(journalId); ok {
			r.UpdateStatus(c.id, domain.PresenceStatusAway)
			r.Detach(c.id)
		}
	}

	if participantId != "" {
		c.server.unregisterConn(participantId, c)
	}
}

func (c *Conn) trackSubscription(journalId, presenceId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[journalId] = presenceId
}

func (c *Conn) forgetSubscription(journalId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribed[journalId]; !ok {
		return false
	}
	delete(c.subscribed, journalId)
	return true
}

func (c *Conn) isSubscribed(journalId string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[journalId]
	return ok
}

func (c *Conn) setParticipantId(participantId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantId = participantId
}

func (c *Conn) getParticipantId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantId
}
