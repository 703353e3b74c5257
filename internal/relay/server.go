// Package relay is the signaling relay: a room registry that pairs at most
// two peers per room and forwards envelopes between them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origins are checked by originFilter.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server exposes the hub over HTTP.
type Server struct {
	cfg    config.RelayConfig
	hub    *Hub
	engine *gin.Engine
}

// NewServer builds the routes. presence may be nil.
func NewServer(cfg config.RelayConfig, presence Presence) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		hub:    NewHub(presence),
		engine: gin.New(),
	}

	s.engine.Use(gin.Recovery(), requestLogger(), originFilter(cfg.AllowedOrigins))

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/rooms/:roomId", s.handleRoom)
	s.engine.POST("/rooms/:roomId/token", adminKey(cfg.AdminKey), s.handleToken)
	s.engine.GET("/ws", s.handleWS)

	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the room registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("[relay] listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown relay: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": s.hub.Rooms()})
}

// RoomInfo is the body of GET /rooms/:roomId.
type RoomInfo struct {
	RoomID   string   `json:"roomId"`
	Peers    []string `json:"peers"`
	Capacity int      `json:"capacity"`
	Full     bool     `json:"full"`
	Presence []string `json:"presence,omitempty"`
}

func (s *Server) handleRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	peers := s.hub.Occupants(roomID)
	if peers == nil {
		peers = []string{}
	}

	info := RoomInfo{
		RoomID:   roomID,
		Peers:    peers,
		Capacity: RoomCapacity,
		Full:     len(peers) >= RoomCapacity,
	}

	members, err := s.hub.presence.Members(c.Request.Context(), roomID)
	if err != nil {
		util.LogWarning("[relay] presence lookup for %s: %v", roomID, err)
	}
	info.Presence = members

	c.JSON(http.StatusOK, info)
}

type tokenRequest struct {
	Name string `json:"name"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	RoomID    string    `json:"roomId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleToken(c *gin.Context) {
	if s.cfg.JWTSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "join tokens are not enabled"})
		return
	}

	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	roomID := c.Param("roomId")
	token, err := IssueToken(s.cfg.JWTSecret, roomID, req.Name, s.cfg.TokenTTL)
	if err != nil {
		util.LogError("[relay] %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		RoomID:    roomID,
		ExpiresAt: time.Now().Add(s.cfg.TokenTTL),
	})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("[relay] upgrade failed: %v", err)
		return
	}

	p := newPeer(uuid.NewString(), conn)
	util.LogDebug("[relay] peer %s connected from %s", p.id, c.ClientIP())

	go p.writePump()
	go func() {
		defer func() {
			s.hub.leave(p)
			p.kick()
		}()
		p.readPump(func(env signaling.Envelope) { s.handleEnvelope(p, env) })
	}()
}

// handleEnvelope admits a peer with its first "join" and routes everything
// after that.
func (s *Server) handleEnvelope(p *peer, env signaling.Envelope) {
	if env.Type != signaling.TypeJoin {
		if !s.joined(p) {
			p.enqueue(signaling.Envelope{Type: signaling.TypeError, Error: "join a room first"})
			return
		}
		s.hub.route(p, env)
		return
	}

	if s.joined(p) {
		util.LogDebug("[relay] peer %s sent a second join", p.id)
		return
	}
	if env.RoomID == "" {
		p.enqueue(signaling.Envelope{Type: signaling.TypeError, Error: "roomId is required"})
		return
	}
	if s.cfg.JWTSecret != "" {
		if _, err := VerifyToken(s.cfg.JWTSecret, env.Token, env.RoomID); err != nil {
			util.LogWarning("[relay] peer %s: %v", p.id, err)
			p.enqueue(signaling.Envelope{Type: signaling.TypeError, Error: ErrInvalidToken.Error()})
			p.kick()
			return
		}
	}

	if err := s.hub.join(p, env.RoomID, env.ID); err != nil {
		util.LogWarning("[relay] peer %s rejected from %s: %v", p.id, env.RoomID, err)
		p.enqueue(signaling.Envelope{Type: signaling.TypeError, RoomID: env.RoomID, Error: err.Error()})
		p.kick()
	}
}

func (s *Server) joined(p *peer) bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return p.roomID != ""
}
