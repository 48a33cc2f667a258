package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lazysuperheroes/hedera-multisig-sub001/metrics"
	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
)

const (
	// wsPingInterval is how often the server pings an idle connection.
	wsPingInterval = 30 * time.Second
	// wsPongWindow is the read deadline extension granted per pong. Two
	// consecutive missed pongs close the connection.
	wsPongWindow = 2*wsPingInterval + 15*time.Second
	// wsWriteTimeout bounds a single frame write.
	wsWriteTimeout = 10 * time.Second
	// wsMessageSizeLimit is the largest inbound frame accepted.
	wsMessageSizeLimit = 256 * 1024
	// outboundQueueSize is the per-connection broadcast buffer. A subscriber
	// that falls this far behind is disconnected rather than blocking the
	// session.
	outboundQueueSize = 64
)

var errSlowSubscriber = errors.New("subscriber outbound queue full")

// conn is one websocket client. It implements sessionstore.Subscription: the
// session manager broadcasts through Send without knowing about websockets.
type conn struct {
	ws     *websocket.Conn
	logger zerolog.Logger

	out         chan []byte
	closed      chan struct{}
	closing     chan struct{}
	writeDone   chan struct{}
	once        sync.Once
	closingOnce sync.Once
	ctx         context.Context
	cancel      context.CancelFunc

	// Auth state, owned by the read loop.
	authenticated bool
	sessionID     string
	participantID string
	role          protocol.Role
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		ws:        ws,
		logger:    logger,
		out:       make(chan []byte, outboundQueueSize),
		closed:    make(chan struct{}),
		closing:   make(chan struct{}),
		writeDone: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Send queues a frame for delivery. It never blocks: a full queue means the
// client is not keeping up, and the error tells the caller to drop it.
func (c *conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		metrics.BroadcastsDropped.Inc()
		return errSlowSubscriber
	}
}

// Close tears the connection down. Safe to call multiple times and from any
// goroutine.
func (c *conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		c.ws.Close()
	})
}

// send is Send plus a warning log; used for direct replies from the read loop.
func (c *conn) send(frame []byte) {
	if err := c.Send(frame); err != nil {
		c.logger.Warn().Err(err).Msg("failed to queue reply")
		c.Close()
	}
}

func (c *conn) sendError(code protocol.ReasonCode, message string) {
	c.send(protocol.MustEncode(protocol.MsgError, protocol.ErrorPayload{
		Message: message,
		Code:    code,
	}))
}

// closeWithError queues a final ERROR frame, then disconnects once the write
// loop has flushed the queue. Protocol and resource violations end here.
func (c *conn) closeWithError(code protocol.ReasonCode, message string) {
	c.sendError(code, message)
	c.closingOnce.Do(func() { close(c.closing) })
}

// writeLoop owns all writes to the websocket: queued frames and keepalive
// pings. gorilla/websocket allows only one concurrent writer.
func (c *conn) writeLoop() {
	defer close(c.writeDone)
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			c.flush()
			return
		case <-c.closed:
			return
		}
	}
}

// flush drains whatever is already queued so a final ERROR frame reaches the
// client before the socket closes.
func (c *conn) flush() {
	for {
		select {
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
