package ipc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/panehost/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// conn is one renderer connection. It implements window.Sink. A single
// writer goroutine owns the socket; everything else queues frames.
type conn struct {
	ws       *websocket.Conn
	windowID string
	send     chan any
	quit     chan struct{} // close requested
	done     chan struct{} // writer finished and socket closed
	once     sync.Once
	logger   *logging.Logger
}

func newConn(ws *websocket.Conn, windowID string, buffer int, logger *logging.Logger) *conn {
	if buffer < 1 {
		buffer = 1
	}
	return &conn{
		ws:       ws,
		windowID: windowID,
		send:     make(chan any, buffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Push queues an event without blocking. A full queue drops it.
func (c *conn) Push(channel string, payload any) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- Push{Channel: channel, Payload: payload}:
		return true
	default:
		return false
	}
}

// respond queues a response, waiting for room. Responses are never dropped
// while the connection is open.
func (c *conn) respond(resp Response) {
	select {
	case c.send <- resp:
	case <-c.quit:
	}
}

// Close asks the writer to flush queued frames and close the socket. It
// does not wait and is safe to call more than once.
func (c *conn) Close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.quit:
			c.flush()
			return
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still queued.
func (c *conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(frame) {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(frame any) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(frame); err != nil {
		c.logger.Debug("write to renderer failed", "error", err)
		return false
	}
	return true
}
