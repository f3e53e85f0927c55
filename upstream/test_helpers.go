package upstream

import (
	"context"
	"fmt"
	"sync"
)

// StubClient is a scripted upstream for tests: every Send plays back the
// configured fragments. When HoldAfter is non-negative, the stream emits
// that many fragments and then parks until the consumer cancels.
type StubClient struct {
	Fragments []Fragment
	// HoldAfter < 0 plays the whole script; otherwise the stream blocks
	// after emitting HoldAfter fragments until cancellation.
	HoldAfter int

	mu       sync.Mutex
	sessions map[string]Session
	nextId   int
	sends    []string
}

func NewStubClient(fragments ...Fragment) *StubClient {
	return &StubClient{
		Fragments: fragments,
		HoldAfter: -1,
		sessions:  make(map[string]Session),
	}
}

var _ Client = (*StubClient)(nil)

func (c *StubClient) EnsureSession(ctx context.Context, journalId string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.sessions[journalId]; ok {
		return session, nil
	}
	c.nextId++
	session := Session{Id: fmt.Sprintf("stub-session-%d", c.nextId)}
	c.sessions[journalId] = session
	return session, nil
}

func (c *StubClient) ForkSession(ctx context.Context, parent Session, forkPointMarker string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextId++
	return Session{Id: fmt.Sprintf("stub-fork-%d", c.nextId)}, nil
}

func (c *StubClient) BindSession(journalId string, session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[journalId] = session
}

func (c *StubClient) Send(ctx context.Context, session Session, prompt string) (<-chan Fragment, error) {
	c.mu.Lock()
	c.sends = append(c.sends, prompt)
	fragments := make([]Fragment, len(c.Fragments))
	copy(fragments, c.Fragments)
	holdAfter := c.HoldAfter
	c.mu.Unlock()

	out := make(chan Fragment)
	go func() {
		defer close(out)
		for i, fragment := range fragments {
			if holdAfter >= 0 && i == holdAfter {
				<-ctx.Done()
				return
			}
			select {
			case out <- fragment:
			case <-ctx.Done():
				return
			}
		}
		if holdAfter >= 0 && holdAfter >= len(fragments) {
			<-ctx.Done()
		}
	}()
	return out, nil
}

// Sends returns the prompts submitted so far, in order.
func (c *StubClient) Sends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	sends := make([]string, len(c.sends))
	copy(sends, c.sends)
	return sends
}
