package ws

import (
	"fmt"
	"io"
	"time"
)

// nopConn 单测用假连接，不走真网络
type nopConn struct{}

func (nopConn) ReadMessage() (int, []byte, error)      { return 0, nil, io.EOF }
func (nopConn) WriteMessage(mt int, data []byte) error { return nil }
func (nopConn) SetWriteDeadline(t time.Time) error     { return nil }
func (nopConn) Close() error                           { return nil }

var connSeq int

func newTestClient(userID string) *Client {
	connSeq++
	return NewClient(fmt.Sprintf("conn-%d", connSeq), userID, nopConn{}, 8)
}

// recvOne 非阻塞取一条已入队的载荷
func recvOne(c *Client) (string, bool) {
	select {
	case b := <-c.Send:
		return string(b), true
	default:
		return "", false
	}
}

func drain(c *Client) []string {
	var out []string
	for {
		s, ok := recvOne(c)
		if !ok {
			return out
		}
		out = append(out, s)
	}
}
