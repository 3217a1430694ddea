package signaling

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

const (
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// Registry holds the live connections. Required.
	Registry *registry.Registry

	// Router delivers decoded messages. If nil, one is built over Registry.
	Router *Router

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Origin is applied to the WebSocket upgrade. The zero Policy allows
	// same-host origins only.
	Origin origin.Policy

	// Keepalive. The connection is closed when nothing (including pongs) has
	// been received for SignalingWSIdleTimeout. Zero values use the defaults;
	// negative values disable the feature.
	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	// Inbound hardening. Zero values use the defaults; a negative rate limit
	// disables rate limiting.
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
}

// Server implements the relay's WebSocket signaling surface.
//
// Endpoints:
//   - GET /ws/{clientID} : register under the client-chosen id
//   - GET /ws            : register under a server-generated id
type Server struct {
	reg     *registry.Registry
	router  *Router
	log     *slog.Logger
	metrics *metrics.Metrics

	idleTimeout     time.Duration
	pingInterval    time.Duration
	maxMessageBytes int64
	maxMessageRate  int

	upgrader websocket.Upgrader
	closed   atomic.Bool
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := cfg.Router
	if router == nil {
		router = NewRouter(RouterConfig{Registry: cfg.Registry, Logger: logger, Metrics: cfg.Metrics})
	}

	s := &Server{
		reg:     cfg.Registry,
		router:  router,
		log:     logger,
		metrics: cfg.Metrics,

		idleTimeout:     durationOrDefault(cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout),
		pingInterval:    durationOrDefault(cfg.SignalingWSPingInterval, DefaultSignalingWSPingInterval),
		maxMessageBytes: cfg.MaxSignalingMessageBytes,
		maxMessageRate:  cfg.MaxSignalingMessagesPerSecond,
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = DefaultMaxSignalingMessageBytes
	}
	if s.maxMessageRate == 0 {
		s.maxMessageRate = DefaultMaxSignalingMessagesPerSecond
	}

	policy := cfg.Origin
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if policy.Allow(r.Header.Get("Origin"), r.Host) {
				return true
			}
			s.metrics.Inc(metrics.OriginRejected)
			s.log.Warn("rejected signaling upgrade from disallowed origin", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
			return false
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{clientID}", s.handleClientWebSocket)
	mux.HandleFunc("GET /ws", s.handleAnonymousWebSocket)
}

// Handler returns a standalone handler with the signaling routes, for tests
// and simple deployments.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Registry returns the registry connections are tracked in.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Close rejects further connections, closes every registered connection with
// 1001 going away and clears the registry.
func (s *Server) Close() {
	s.closed.Store(true)
	for _, e := range s.reg.Snapshot() {
		if wc, ok := e.Conn.(*wsConn); ok {
			wc.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
	}
	s.reg.CloseAll()
}

func (s *Server) handleClientWebSocket(w http.ResponseWriter, r *http.Request) {
	s.serveWebSocket(w, r, r.PathValue("clientID"))
}

func (s *Server) handleAnonymousWebSocket(w http.ResponseWriter, r *http.Request) {
	s.serveWebSocket(w, r, uuid.NewString())
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, clientID string) {
	if s.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	sess := &session{
		srv:        s,
		id:         clientID,
		conn:       newWSConn(ws),
		remoteAddr: r.RemoteAddr,
		log:        s.log.With("client_id", clientID),
	}
	if s.maxMessageRate > 0 {
		sess.limiter = ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(s.maxMessageRate), int64(s.maxMessageRate))
	}
	sess.run()
}

// register adds conn under id and closes any connection it displaced.
func (s *Server) register(id string, conn *wsConn) {
	prev := s.reg.Register(id, conn)
	if prev == nil || prev == registry.Conn(conn) {
		return
	}
	s.metrics.Inc(metrics.ClientReplaced)
	s.log.Info("client id re-registered; closing previous connection", "client_id", id)
	if old, ok := prev.(*wsConn); ok {
		old.closeWith(websocket.CloseNormalClosure, "replaced")
		return
	}
	_ = prev.Close()
}

func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}
