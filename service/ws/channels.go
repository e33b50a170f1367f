package ws

import (
	"context"
	"net"
	"net/http"
	"time"

	"HDProject/logger"
	ids "HDProject/tools/ids"
	safe "HDProject/tools/safe"
	sec "HDProject/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

const persistTimeout = 5 * time.Second

// accept upgrades the request and authenticates the bearer token supplied
// as a connection parameter. An invalid or missing token closes the socket
// with a policy-violation code before any registry mutation happens.
func (s *Server) accept(c *gin.Context, channel string) (*Client, *websocket.Conn, bool) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[WS] upgrade err channel=%s err=%v", channel, err)
		return nil, nil, false
	}

	userID, aerr := sec.ValidateToken(s.deps.JWT, c.Query("token"))
	if aerr != nil {
		logger.Infof("[WS] auth reject channel=%s err=%v", channel, aerr)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return nil, nil, false
	}

	client := NewClient(ids.GenerateString(), userID, ws, 64)
	safe.SafeGo(client.WritePump)

	if s.deps.Sessions != nil {
		s.deps.Sessions.SessionOpened(context.Background(), SessionRecord{
			SessionID: client.ConnID,
			UserID:    userID,
			Channel:   channel,
			RemoteIP:  c.ClientIP(),
			OpenedAt:  time.Now(),
		})
	}
	logger.Infof("[WS] connected channel=%s user=%s conn=%s", channel, userID, client.ConnID)
	return client, ws, true
}

func (s *Server) finish(client *Client, channel, reason string) {
	client.Stop()
	if s.deps.Sessions != nil {
		s.deps.Sessions.SessionClosed(context.Background(), client.ConnID, reason, time.Now())
	}
	logger.Infof("[WS] closed channel=%s user=%s conn=%s reason=%s", channel, client.UserID, client.ConnID, reason)
}

// readFrame blocks for the next frame and classifies the exit reason.
func readFrame(ws *websocket.Conn, client *Client) (int, []byte, string, bool) {
	mt, data, rerr := ws.ReadMessage()
	if rerr == nil {
		return mt, data, "", true
	}
	if websocket.IsCloseError(rerr,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		logger.Infof("[WS] peer closed conn=%s err=%v", client.ConnID, rerr)
		return 0, nil, "closed", false
	}
	if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
		logger.Infof("[WS] read timeout conn=%s err=%v", client.ConnID, rerr)
		return 0, nil, "timeout", false
	}
	logger.Infof("[WS] read err conn=%s err=%v", client.ConnID, rerr)
	return 0, nil, "error", false
}

// HandleDirectWS GET /ws/chat/:user_id?token=
// 私聊：帧落库后只投递给对端个人频道，不回显给发送者。
func (s *Server) HandleDirectWS(c *gin.Context) {
	otherID := c.Param("user_id")
	client, conn, ok := s.accept(c, "user/"+otherID)
	if !ok {
		return
	}
	s.reg.Register(UserChannel(client.UserID), client)

	reason := "closed"
	defer func() {
		s.reg.Unregister(UserChannel(client.UserID), client)
		// 通话状态只在该用户最后一条私聊连接断开时清理，
		// 多端在线时其他连接还能继续信令
		if !s.reg.Exists(UserChannel(client.UserID)) {
			s.calls.ClearUser(client.UserID)
		}
		s.finish(client, "user/"+otherID, reason)
	}()

	for {
		mt, data, why, alive := readFrame(conn, client)
		if !alive {
			reason = why
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if env, isCtl := ParseControl(data); isCtl {
			s.disp.Dispatch(&Context{S: s, PeerID: otherID}, env, client)
			continue
		}

		content := string(data)
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		_, err := s.deps.Store.SaveDirect(ctx, client.UserID, otherID, content)
		cancel()
		if err != nil {
			// 落库失败不投递：先持久化再分发，和接收方丢这一条相比，顺序不能乱
			logger.Errorf("[WS] persist direct err sender=%s receiver=%s err=%v", client.UserID, otherID, err)
			continue
		}
		s.fan.Deliver(UserChannel(otherID), FormatDirect(client.UserID, content))
	}
}

// HandleTicketWS GET /ws/ticket/:ticket_id?token=
// 工单群聊：广播给频道内所有连接（含发送者的其他端），
// 不在频道里的 creator/assignee 走个人频道补一条 NOTIFY。
func (s *Server) HandleTicketWS(c *gin.Context) {
	ticketID := c.Param("ticket_id")
	client, conn, ok := s.accept(c, "ticket/"+ticketID)
	if !ok {
		return
	}
	key := TicketChannel(ticketID)
	s.reg.Register(key, client)
	s.calls.JoinTicket(ticketID, client.UserID)

	reason := "closed"
	defer func() {
		s.reg.Unregister(key, client)
		s.calls.LeaveTicket(ticketID, client.UserID)
		s.finish(client, "ticket/"+ticketID, reason)
	}()

	for {
		mt, data, why, alive := readFrame(conn, client)
		if !alive {
			reason = why
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if env, isCtl := ParseControl(data); isCtl {
			s.disp.Dispatch(&Context{S: s, TicketID: ticketID}, env, client)
			continue
		}

		content := string(data)
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		msg, err := s.deps.Store.SaveTicket(ctx, client.UserID, ticketID, content)
		if err != nil {
			cancel()
			logger.Errorf("[WS] persist ticket err sender=%s ticket=%s err=%v", client.UserID, ticketID, err)
			continue
		}

		name, derr := s.deps.Tickets.DisplayName(ctx, client.UserID)
		if derr != nil {
			name = ""
		}
		s.fan.Deliver(key, FormatTicket(client.UserID, content, msg.Timestamp, name))

		ticket, terr := s.deps.Tickets.LookupTicket(ctx, ticketID)
		cancel()
		if terr != nil {
			logger.Infof("[WS] ticket lookup err ticket=%s err=%v", ticketID, terr)
			continue
		}
		for _, notifyID := range dedup(ticket.CreatorID, ticket.AssigneeID) {
			if notifyID == "" || notifyID == client.UserID {
				continue
			}
			if s.reg.UserOnChannel(key, notifyID) {
				continue // 人在频道里，广播已经送达
			}
			s.NotifyUser(notifyID, string(FormatTicketNotify(ticketID, ticket.Title, content)))
		}
	}
}

// HandleSignalWS GET /ws/signal/:peer_id?token=
// 纯转发：不解析、不落库；对端没有信令连接就静默丢弃。
func (s *Server) HandleSignalWS(c *gin.Context) {
	peerID := c.Param("peer_id")
	client, conn, ok := s.accept(c, "signal/"+peerID)
	if !ok {
		return
	}
	s.reg.Register(SignalChannel(client.UserID), client)

	reason := "closed"
	defer func() {
		s.reg.Unregister(SignalChannel(client.UserID), client)
		s.calls.ClearUser(client.UserID)
		s.finish(client, "signal/"+peerID, reason)
	}()

	for {
		mt, data, why, alive := readFrame(conn, client)
		if !alive {
			reason = why
			return
		}
		// 发送队列统一按文本帧写出，二进制帧不接
		if mt != websocket.TextMessage {
			continue
		}
		s.fan.Deliver(SignalChannel(peerID), data)
	}
}

// HandleStatusWS GET /ws/status?token=
// 状态频道：入场推全量在线快照，首连/末连广播上线下线，
// 其余载荷原样加 user_id 转发给其他人。
func (s *Server) HandleStatusWS(c *gin.Context) {
	client, conn, ok := s.accept(c, "status")
	if !ok {
		return
	}
	s.pres.Join(client)

	reason := "closed"
	defer func() {
		s.pres.Leave(client)
		s.finish(client, "status", reason)
	}()

	for {
		mt, data, why, alive := readFrame(conn, client)
		if !alive {
			reason = why
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		fields, okJSON := ParseStatus(data)
		if !okJSON {
			continue
		}
		s.pres.Relay(client.UserID, fields)
	}
}

func dedup(vals ...string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := vals[:0:0]
	for _, id := range vals {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
