// Package transport is the websocket front door. It upgrades HTTP requests,
// enforces the auth-first handshake, rate-limits inbound frames, and routes
// decoded messages into the session manager.
package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lazysuperheroes/hedera-multisig-sub001/metrics"
	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionmanager"
)

const (
	// inboundRate caps sustained client message throughput.
	inboundRate = rate.Limit(20)
	// inboundBurst is the short-term allowance above the sustained rate.
	inboundBurst = 40
)

// Server accepts websocket connections and speaks the session protocol.
type Server struct {
	manager  *sessionmanager.Manager
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server over the given session manager.
func NewServer(manager *sessionmanager.Manager, logger zerolog.Logger) *Server {
	return &Server{
		manager: manager,
		logger:  logger.With().Str("component", "ws_transport").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are CLIs and desktop wallets, not browsers; origin
			// checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws, s.logger.With().Str("remote", r.RemoteAddr).Logger())
	metrics.ConnectedSubscribers.Inc()
	defer metrics.ConnectedSubscribers.Dec()

	go c.writeLoop()
	s.readLoop(c)

	if c.authenticated {
		s.manager.OnDisconnect(c.sessionID, c.participantID, c.role)
	}
	// A violation shutdown lets the write loop flush the final ERROR frame
	// before the socket goes away.
	select {
	case <-c.closing:
		<-c.writeDone
	default:
	}
	c.Close()
}

// readLoop owns all reads. It enforces the frame size limit, the keepalive
// read deadline, and the per-connection rate limit, then dispatches frames.
func (s *Server) readLoop(c *conn) {
	c.ws.SetReadLimit(wsMessageSizeLimit)
	c.ws.SetReadDeadline(time.Now().Add(wsPongWindow))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWindow))
	})

	limiter := rate.NewLimiter(inboundRate, inboundBurst)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection dropped")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(wsPongWindow))

		if !limiter.Allow() {
			c.closeWithError(protocol.ReasonRateExceeded, "message rate limit exceeded")
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.closeWithError(protocol.ReasonMalformedFrame, "frame is not a valid protocol message")
			return
		}

		s.dispatch(c, env)
		select {
		case <-c.closing:
			return
		case <-c.closed:
			return
		default:
		}
	}
}

// dispatch routes one decoded frame. Until AUTH succeeds, CREATE_SESSION is
// the only other message accepted: a coordinator has no pin before the server
// has minted one. Protocol violations get one ERROR frame and then the
// connection is closed.
func (s *Server) dispatch(c *conn, env *protocol.Envelope) {
	switch env.Type {
	case protocol.MsgPing:
		c.send(protocol.MustEncode(protocol.MsgPong, nil))
		return
	case protocol.MsgCreateSession:
		s.handleCreateSession(c, env)
		return
	case protocol.MsgAuth:
		s.handleAuth(c, env)
		return
	}

	if !c.authenticated {
		c.closeWithError(protocol.ReasonUnauthenticated, "authenticate first")
		return
	}

	switch env.Type {
	case protocol.MsgInjectTransaction:
		s.handleInject(c, env)
	case protocol.MsgCancelSession:
		s.handleCancel(c, env)
	case protocol.MsgParticipantReady:
		s.handleReady(c, env)
	case protocol.MsgSignatureSubmit:
		s.handleSignatureSubmit(c, env)
	case protocol.MsgTransactionRejected:
		s.handleReject(c, env)
	default:
		c.closeWithError(protocol.ReasonUnknownMessage, "unknown message type "+string(env.Type))
	}
}

func (s *Server) handleCreateSession(c *conn, env *protocol.Envelope) {
	var req protocol.CreateSessionPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed CREATE_SESSION payload")
		return
	}
	created, err := s.manager.CreateSession(c.ctx, req)
	if err != nil {
		c.sendError(sessionmanager.CodeOf(err), err.Error())
		return
	}
	c.send(protocol.MustEncode(protocol.MsgSessionCreated, created))
}

func (s *Server) handleAuth(c *conn, env *protocol.Envelope) {
	if c.authenticated {
		c.sendError(protocol.ReasonUnknownMessage, "already authenticated")
		return
	}

	var req protocol.AuthPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed AUTH payload")
		return
	}
	if req.Role != protocol.RoleCoordinator && req.Role != protocol.RoleParticipant {
		s.authFailed(c, protocol.ReasonRoleMismatch, "role must be coordinator or participant")
		return
	}

	store := s.manager.Store()
	if err := store.Authenticate(req.SessionID, req.Pin); err != nil {
		s.authFailed(c, sessionmanager.CodeOf(sessionmanager.WrapStoreError(err)), "authentication refused")
		return
	}

	info, err := s.manager.SessionInfo(req.SessionID)
	if err != nil {
		s.authFailed(c, sessionmanager.CodeOf(err), "session unavailable")
		return
	}

	// A participant that already announces its key is checked against the
	// eligible set now, before it joins, so a wrong wallet fails fast.
	if req.Role == protocol.RoleParticipant && req.PublicKey != "" && len(info.EligiblePublicKeys) > 0 {
		if !containsKey(info.EligiblePublicKeys, req.PublicKey) {
			s.authFailed(c, protocol.ReasonIneligibleKey, "public key is not in the eligible set")
			return
		}
	}

	var participantID string
	if req.Role == protocol.RoleParticipant {
		participantID, err = store.AddParticipant(req.SessionID, req.Label, c)
		if err != nil {
			s.authFailed(c, sessionmanager.CodeOf(sessionmanager.WrapStoreError(err)), "could not join session")
			return
		}
	} else {
		if err := store.SetCoordinatorSubscription(req.SessionID, c); err != nil {
			s.authFailed(c, sessionmanager.CodeOf(sessionmanager.WrapStoreError(err)), "could not attach coordinator")
			return
		}
	}

	c.authenticated = true
	c.sessionID = req.SessionID
	c.participantID = participantID
	c.role = req.Role

	c.send(protocol.MustEncode(protocol.MsgAuthSuccess, protocol.AuthSuccessPayload{
		ParticipantID: participantID,
		SessionInfo:   *info,
	}))

	s.logger.Info().
		Str("session_id", req.SessionID).
		Str("role", string(req.Role)).
		Str("participant_id", participantID).
		Msg("client authenticated")

	if req.Role == protocol.RoleParticipant {
		s.manager.OnParticipantConnected(req.SessionID, participantID, req.Label)
	}
}

func (s *Server) authFailed(c *conn, code protocol.ReasonCode, message string) {
	c.send(protocol.MustEncode(protocol.MsgAuthFailed, protocol.AuthFailedPayload{
		Message: message,
		Code:    code,
	}))
}

func (s *Server) handleInject(c *conn, env *protocol.Envelope) {
	if !s.requireRole(c, protocol.RoleCoordinator) {
		return
	}
	var req protocol.InjectTransactionPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed INJECT_TRANSACTION payload")
		return
	}
	if req.SessionID == "" {
		req.SessionID = c.sessionID
	}
	if req.SessionID != c.sessionID {
		c.sendError(protocol.ReasonRoleMismatch, "cannot inject into another session")
		return
	}
	injected, err := s.manager.InjectTransaction(c.ctx, req)
	if err != nil {
		c.sendError(sessionmanager.CodeOf(err), err.Error())
		return
	}
	c.send(protocol.MustEncode(protocol.MsgTransactionInjected, injected))
}

func (s *Server) handleCancel(c *conn, env *protocol.Envelope) {
	if !s.requireRole(c, protocol.RoleCoordinator) {
		return
	}
	var req protocol.CancelSessionPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed CANCEL_SESSION payload")
		return
	}
	if req.SessionID != "" && req.SessionID != c.sessionID {
		c.sendError(protocol.ReasonRoleMismatch, "cannot cancel another session")
		return
	}
	if err := s.manager.Cancel(c.ctx, c.sessionID, req.Reason); err != nil {
		c.sendError(sessionmanager.CodeOf(err), err.Error())
	}
	// The SESSION_CANCELLED broadcast reaches the coordinator as a
	// subscriber; no direct ack.
}

func (s *Server) handleReady(c *conn, env *protocol.Envelope) {
	if !s.requireRole(c, protocol.RoleParticipant) {
		return
	}
	var req protocol.ParticipantReadyPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed PARTICIPANT_READY payload")
		return
	}
	if err := s.manager.OnParticipantReady(c.ctx, c.sessionID, c.participantID, req.PublicKey); err != nil {
		c.sendError(sessionmanager.CodeOf(err), err.Error())
	}
}

func (s *Server) handleSignatureSubmit(c *conn, env *protocol.Envelope) {
	if !s.requireRole(c, protocol.RoleParticipant) {
		return
	}
	var req protocol.SignatureSubmitPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed SIGNATURE_SUBMIT payload")
		return
	}

	accepted, duplicate, err := s.manager.OnSignatureSubmit(
		c.ctx, c.sessionID, c.participantID, req.PublicKey, req.SignatureList())
	if err != nil {
		c.send(protocol.MustEncode(protocol.MsgSignatureRejected, protocol.SignatureRejectedPayload{
			Message: err.Error(),
			Code:    sessionmanager.CodeOf(err),
		}))
		return
	}
	if duplicate {
		// Fresh acceptances are answered by the broadcast the submitter
		// receives as a subscriber; duplicates are acked directly.
		c.send(protocol.MustEncode(protocol.MsgSignatureAccepted, accepted))
	}
}

func (s *Server) handleReject(c *conn, env *protocol.Envelope) {
	if !s.requireRole(c, protocol.RoleParticipant) {
		return
	}
	var req protocol.TransactionRejectedPayload
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(protocol.ReasonMalformedFrame, "malformed TRANSACTION_REJECTED payload")
		return
	}
	if err := s.manager.OnParticipantReject(c.sessionID, c.participantID, req.Reason); err != nil {
		c.sendError(sessionmanager.CodeOf(err), err.Error())
	}
}

func (s *Server) requireRole(c *conn, want protocol.Role) bool {
	if c.role != want {
		c.sendError(protocol.ReasonRoleMismatch, "message not allowed for role "+string(c.role))
		return false
	}
	return true
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
