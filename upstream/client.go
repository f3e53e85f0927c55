package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Session is a handle to an upstream OpenCode session.
type Session struct {
	Id string `json:"id"`
}

// Client is the outbound adapter to the OpenCode backend. Within a single
// session the fragment order is authoritative; no ordering is assumed
// across sessions.
type Client interface {
	// EnsureSession returns the cached session for the journal or allocates
	// one. The journal -> session mapping survives for the journal's
	// lifetime.
	EnsureSession(ctx context.Context, journalId string) (Session, error)
	// ForkSession creates an independent session seeded from the parent's
	// state up to the fork point marker.
	ForkSession(ctx context.Context, parent Session, forkPointMarker string) (Session, error)
	// Send submits a prompt and returns the fragment stream. The stream
	// terminates after an End or Error fragment. Cancelling ctx abandons
	// the stream and releases upstream resources.
	Send(ctx context.Context, session Session, prompt string) (<-chan Fragment, error)
	// BindSession rebinds a journal to a session, so that a fork branch's
	// session becomes the journal's session for subsequent submits.
	BindSession(journalId string, session Session)
}

const sessionCreateTimeout = 10 * time.Second

// HTTPClient talks to OpenCode over its HTTP API, consuming streamed
// responses as SSE.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]Session // journalId -> session
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		sessions:   make(map[string]Session),
	}
}

func (c *HTTPClient) EnsureSession(ctx context.Context, journalId string) (Session, error) {
	c.mu.Lock()
	if session, ok := c.sessions[journalId]; ok {
		c.mu.Unlock()
		return session, nil
	}
	c.mu.Unlock()

	session, err := c.createSession(ctx)
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// another caller may have won the race; the cached mapping is
	// authoritative for the journal's lifetime
	if existing, ok := c.sessions[journalId]; ok {
		return existing, nil
	}
	c.sessions[journalId] = session
	return session, nil
}

func (c *HTTPClient) createSession(ctx context.Context) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionCreateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", nil)
	if err != nil {
		return Session{}, fmt.Errorf("failed to build session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create upstream session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, fmt.Errorf("upstream session creation returned status %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("failed to decode upstream session: %w", err)
	}

	return session, nil
}

func (c *HTTPClient) ForkSession(ctx context.Context, parent Session, forkPointMarker string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionCreateTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"fromMessageId": forkPointMarker})
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal fork request: %w", err)
	}

	url := fmt.Sprintf("%s/session/%s/fork", c.baseURL, parent.Id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("failed to build fork request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("failed to fork upstream session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, fmt.Errorf("upstream session fork returned status %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("failed to decode forked session: %w", err)
	}

	return session, nil
}

// BindSession binds a forked session to its journal so subsequent
// EnsureSession calls resolve to it.
func (c *HTTPClient) BindSession(journalId string, session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[journalId] = session
}

func (c *HTTPClient) Send(ctx context.Context, session Session, prompt string) (<-chan Fragment, error) {
	body, err := json.Marshal(map[string]string{"content": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/session/%s/message", c.baseURL, session.Id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message upstream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream message returned status %d", resp.StatusCode)
	}

	fragments := make(chan Fragment, 100)
	go c.consumeEventStream(ctx, resp.Body, fragments)
	return fragments, nil
}

// consumeEventStream reads SSE data lines off the response body and decodes
// each into a fragment. A transport-level failure surfaces as an Error
// fragment followed by channel close.
func (c *HTTPClient) consumeEventStream(ctx context.Context, body io.ReadCloser, fragments chan<- Fragment) {
	defer close(fragments)
	defer body.Close()

	// closing the body unblocks the scanner when the consumer abandons the
	// stream
	go func() {
		<-ctx.Done()
		body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		fragment, err := UnmarshalFragment([]byte(data))
		if err != nil {
			zlog.Warn().Err(err).Str("data", data).Msg("Skipping unparseable upstream fragment")
			continue
		}

		select {
		case fragments <- fragment:
		case <-ctx.Done():
			return
		}

		switch fragment.GetFragmentType() {
		case EndFragmentType, ErrorFragmentType:
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case fragments <- ErrorFragment{FragmentType: ErrorFragmentType, Message: err.Error()}:
		case <-ctx.Done():
		}
	}
}
