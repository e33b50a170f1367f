package ws

import (
	"sync"
	"time"

	"HDProject/logger"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is the subset of *websocket.Conn the gateway touches. 单测用假连接。
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client represents one live connection filed under one or more channels.
// A single user may hold multiple clients (multi-device), each with its own
// send queue consumed by a single writer goroutine.
type Client struct {
	ConnID string // 连接ID（雪花）
	UserID string // 鉴权后确定
	WS     Conn
	Send   chan []byte // 每连接独立发送队列

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(connID, userID string, ws Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Stop closes the underlying transport. Closing the transport is the sole
// cancellation signal: the read loop errors out and runs its cleanup path.
func (c *Client) Stop() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.WS.Close()
	})
}

// WritePump drains the send queue onto the wire with a per-write deadline,
// so one hung peer never blocks deliveries to others. First write error
// tears the connection down.
func (c *Client) WritePump() {
	for {
		select {
		case payload := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[WS] write err conn=%s user=%s err=%v", c.ConnID, c.UserID, err)
				c.Stop()
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue offers a payload without blocking. A full queue counts as a slow
// client and the payload is skipped for this connection only.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}
