package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"outer/domain"
	"outer/ws"
)

// Client is a Go client for the outer wire protocol, for headless agents
// and tests. Events arrive on a single channel in server order.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	events chan domain.Event
	closed bool
}

// Dial connects to an outer server's websocket endpoint, e.g.
// "ws://localhost:3000/ws".
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan domain.Event, 256),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		event, err := domain.UnmarshalEvent(data)
		if err != nil {
			// tolerate unknown event types from newer servers
			continue
		}
		c.events <- event
	}
}

// Events returns the stream of server events. The channel closes when the
// connection does.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// Send writes one client envelope.
func (c *Client) Send(message ws.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendRaw writes an arbitrary frame, for exercising protocol error
// handling.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WaitFor reads events until one matches the predicate or the timeout
// elapses, returning the matching event. Non-matching events are
// discarded.
func (c *Client) WaitFor(timeout time.Duration, match func(domain.Event) bool) (domain.Event, error) {
	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				return nil, fmt.Errorf("connection closed while waiting for event")
			}
			if match(event) {
				return event, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for event")
		}
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// CreateJournal is a convenience wrapper: send create_journal and wait for
// journal_created.
func (c *Client) CreateJournal(title string, timeout time.Duration) (domain.Journal, error) {
	err := c.Send(ws.CreateJournalMessage{MessageType: ws.CreateJournalMessageType, Title: title})
	if err != nil {
		return domain.Journal{}, err
	}

	event, err := c.WaitFor(timeout, func(e domain.Event) bool {
		return e.GetEventType() == domain.JournalCreatedEventType
	})
	if err != nil {
		return domain.Journal{}, err
	}
	return event.(domain.JournalCreatedEvent).Journal, nil
}

// Subscribe is a convenience wrapper: send subscribe and wait for the
// subscribed snapshot.
func (c *Client) Subscribe(journalId, name string, timeout time.Duration) (domain.SubscribedEvent, error) {
	err := c.Send(ws.SubscribeMessage{MessageType: ws.SubscribeMessageType, JournalId: journalId, Name: name})
	if err != nil {
		return domain.SubscribedEvent{}, err
	}

	event, err := c.WaitFor(timeout, func(e domain.Event) bool {
		return e.GetEventType() == domain.SubscribedEventType
	})
	if err != nil {
		return domain.SubscribedEvent{}, err
	}
	return event.(domain.SubscribedEvent), nil
}
