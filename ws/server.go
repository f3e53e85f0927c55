package ws

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"outer/common"
	"outer/delegation"
	"outer/domain"
	"outer/engine"
	"outer/room"
	"outer/srv"
	"outer/upstream"
)

// Server is the process-scoped context threaded into every connection
// handler: store, upstream client, rooms registry and delegation manager.
// Never ambient globals.
type Server struct {
	storage    srv.Storage
	upstream   upstream.Client
	rooms      *room.Registry
	engine     *engine.Engine
	delegation *delegation.Manager

	mu         sync.Mutex
	registered map[string]*Conn // participant id -> connection
}

func NewServer(storage srv.Storage, upstreamClient upstream.Client) *Server {
	rooms := room.NewRegistry()
	s := &Server{
		storage:    storage,
		upstream:   upstreamClient,
		rooms:      rooms,
		engine:     engine.NewEngine(storage, upstreamClient, rooms),
		registered: make(map[string]*Conn),
	}
	s.delegation = delegation.NewManager(storage, s)
	return s
}

// RunServer starts the HTTP server on the configured port and returns it;
// callers own shutdown.
func RunServer(storage srv.Storage, upstreamClient upstream.Client) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	server := NewServer(storage, upstreamClient)
	router := DefineRoutes(server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", common.GetServerPort()),
		Handler: router.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	return httpServer
}

func DefineRoutes(server *Server) *gin.Engine {
	r := gin.Default()
	r.ForwardedByClientIP = true
	r.SetTrustedProxies(nil)

	r.GET("/ws", server.WebsocketHandler)
	r.GET("/health", server.HealthHandler)

	return r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections by default
		return true
	},
}

func (s *Server) WebsocketHandler(c *gin.Context) {
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	conn := newConn(wsConn, s)
	conn.run(c.Request.Context())
}

func (s *Server) HealthHandler(c *gin.Context) {
	if err := s.storage.CheckConnection(c.Request.Context()); err != nil {
		c.String(http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.String(http.StatusOK, "ok")
}

// Rooms exposes the registry for tests.
func (s *Server) Rooms() *room.Registry {
	return s.rooms
}

func (s *Server) registerConn(participantId string, conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[participantId] = conn
}

func (s *Server) unregisterConn(participantId string, conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.registered[participantId]; ok && current == conn {
		delete(s.registered, participantId)
	}
}

// NotifyParticipant implements delegation.Notifier: the event goes to the
// participant's live connection, when one exists.
func (s *Server) NotifyParticipant(participantId string, event domain.Event) {
	s.mu.Lock()
	conn, ok := s.registered[participantId]
	s.mu.Unlock()

	if ok {
		conn.Send(event)
	}
}

// NotifyJournal implements delegation.Notifier via the journal's room.
func (s *Server) NotifyJournal(journalId string, event domain.Event) {
	if r, ok := s.rooms.Lookup(journalId); ok {
		r.Broadcast(event)
	}
}
