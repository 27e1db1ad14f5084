// Package httpapi provides the HTTP/SSE coordinator surface (spec §6.2): a
// thin REST+event-stream adapter in front of the unified Memory Service, so
// a federated-backend client or a browser can reach the same operations the
// MCP transport exposes over stdio.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/memento-engine/memengine/internal/config"
	"github.com/memento-engine/memengine/internal/service"
)

// Default sustained rate and burst for the coordinator surface. Not part of
// spec §6.4's configuration list, so these are fixed rather than reading
// from config — a caller that fronts this with its own reverse proxy rate
// limit can simply ignore it.
const (
	defaultRateLimitPerSec = 50
	defaultRateLimitBurst  = 100
)

// Server assembles the routed, middleware-wrapped http.Handler for the
// coordinator surface and owns the EventHub's lifecycle.
type Server struct {
	cfg     *config.Config
	hub     *EventHub
	handler http.Handler
}

// NewServer builds a Server bound to svc. The returned Server does not
// listen on anything yet — call Start to bind a listener, or use Handler
// directly (e.g. with httptest.NewServer).
func NewServer(svc *service.Service, cfg *config.Config) *Server {
	hub := NewEventHub()
	h := NewHandlers(svc, hub)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/health/detailed", h.HealthDetailed)
	apiMux.HandleFunc("POST /api/memories", h.StoreMemory)
	apiMux.HandleFunc("GET /api/memories", h.ListMemories)
	apiMux.HandleFunc("DELETE /api/memories/by-tag/{tag}", h.DeleteByTag)
	apiMux.HandleFunc("DELETE /api/memories/{content_hash}", h.DeleteMemory)
	apiMux.HandleFunc("PATCH /api/memories/{content_hash}", h.UpdateMemoryMetadata)
	apiMux.HandleFunc("POST /api/search", h.Search)
	apiMux.HandleFunc("POST /api/search/by-tag", h.SearchByTag)
	apiMux.HandleFunc("POST /api/search/by-time", h.SearchByTime)
	apiMux.HandleFunc("POST /api/search/similar", h.SearchSimilar)
	apiMux.HandleFunc("POST /api/maintenance/cleanup-duplicates", h.CleanupDuplicates)

	heartbeat := time.Duration(cfg.Server.SSEHeartbeatSec) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	apiMux.HandleFunc("GET /api/events", hub.ServeSSE(heartbeat))
	apiMux.HandleFunc("GET /api/events/ws", hub.ServeWS(cfg.Server.CORSOrigins))

	mux := http.NewServeMux()
	// Liveness stays outside the auth wrapper: monitoring and the
	// federated Initialize probe must be able to reach it unauthenticated.
	mux.HandleFunc("GET /api/health", h.Health)
	mux.Handle("/api/", RequireAuth(apiMux, cfg))

	rl := NewRateLimiter(defaultRateLimitPerSec, defaultRateLimitBurst)

	var handler http.Handler = mux
	handler = RateLimitMiddleware(handler, rl)
	handler = corsMiddleware(handler, cfg.Server.CORSOrigins)
	handler = securityHeaders(handler)

	return &Server{cfg: cfg, hub: hub, handler: handler}
}

// Handler returns the fully wrapped http.Handler, for use with httptest or
// a caller-owned http.Server.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the event hub so callers outside the HTTP layer (e.g. a
// maintenance job) can publish change events too.
func (s *Server) Hub() *EventHub { return s.hub }

// Serve runs the EventHub and serves on listener until ctx is cancelled or
// the listener itself fails. It blocks, so callers that already own a
// listener (e.g. the one internal/coordinator.SelectMode bound while
// deciding this process should become the coordinator) invoke it in their
// own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go s.hub.Run()

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections must not be write-timed-out
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Start binds a net.Listener on cfg.Server.Host:Port and serves in a
// background goroutine, returning the actual bound address (useful for
// tests that bind port 0). Use Serve instead when a listener already
// exists, e.g. one handed over by internal/coordinator.SelectMode.
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.Serve(ctx, listener); err != nil {
			log.Printf("memengine-http: serve error: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}
