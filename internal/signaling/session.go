package signaling

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
)

// recvStatus is the result of one receive on a connection.
type recvStatus int

const (
	recvOK recvStatus = iota
	// recvClosed: the peer closed the connection (close frame or EOF).
	recvClosed
	// recvError: the read failed (timeout, oversized frame, broken socket).
	recvError
)

// session is the server side of one registered client connection. Its run
// loop is the only reader of the socket.
type session struct {
	srv        *Server
	id         string
	conn       *wsConn
	remoteAddr string
	log        *slog.Logger

	limiter *ratelimit.TokenBucket
}

func (s *session) run() {
	ws := s.conn.ws
	ws.SetReadLimit(s.srv.maxMessageBytes)

	s.srv.register(s.id, s.conn)
	defer s.cleanup()
	if s.srv.closed.Load() {
		// Lost the race with Server.Close.
		return
	}

	s.srv.metrics.Inc(metrics.ClientConnected)
	s.log.Info("client connected", "remote_addr", s.remoteAddr)

	stopPing := s.startKeepalive()
	defer stopPing()

	for {
		status, msgType, data, err := s.receive()
		switch status {
		case recvClosed:
			s.log.Debug("client closed connection")
			return
		case recvError:
			s.handleReceiveError(err)
			return
		}
		s.extendReadDeadline()

		// Rate limit after reading so the frame is consumed and the client can
		// reliably observe the close code.
		if s.limiter != nil && !s.limiter.Allow(1) {
			s.srv.metrics.Inc(metrics.DropReasonRateLimited)
			s.log.Warn("signaling rate limit exceeded; closing connection")
			s.conn.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			s.srv.metrics.Inc(metrics.DecodeError)
			s.log.Debug("discarding non-text frame", "frame_type", msgType)
			continue
		}

		msg, err := ParseMessage(data)
		if err != nil {
			s.srv.metrics.Inc(metrics.DecodeError)
			s.log.Debug("discarding undecodable message", "err", err)
			continue
		}

		res := s.srv.router.Dispatch(msg, s.id)
		s.log.Debug("dispatched signaling message", "type", msg.Type(), "outcome", res.Outcome.String(), "target", res.Target)
	}
}

func (s *session) receive() (recvStatus, int, []byte, error) {
	msgType, data, err := s.conn.ws.ReadMessage()
	if err == nil {
		return recvOK, msgType, data, nil
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure, // EOF without a close frame
	) {
		return recvClosed, 0, nil, err
	}
	return recvError, 0, nil, err
}

func (s *session) handleReceiveError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		// gorilla has already sent 1009.
		s.srv.metrics.Inc(metrics.MessageTooLarge)
		s.log.Warn("signaling message too large; closing connection", "max_bytes", s.srv.maxMessageBytes)
	case isTimeout(err):
		s.log.Info("signaling connection idle; closing")
		s.conn.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case s.conn.closed.Load():
		// Closed locally: eviction, replacement or shutdown.
	default:
		s.log.Debug("signaling connection read failed", "err", err)
	}
}

func (s *session) cleanup() {
	removed := s.srv.reg.UnregisterConn(s.id, s.conn)
	_ = s.conn.Close()
	if removed {
		s.srv.metrics.Inc(metrics.ClientDisconnected)
	}
	s.log.Info("client disconnected", "remote_addr", s.remoteAddr, "unregistered", removed)
}

// startKeepalive arms the idle read deadline and starts the ping loop. The
// returned func stops the loop.
func (s *session) startKeepalive() func() {
	if s.srv.idleTimeout <= 0 {
		return func() {}
	}
	s.extendReadDeadline()
	s.conn.ws.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	if s.srv.pingInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.srv.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.conn.ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (s *session) extendReadDeadline() {
	if s.srv.idleTimeout > 0 {
		_ = s.conn.ws.SetReadDeadline(time.Now().Add(s.srv.idleTimeout))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
