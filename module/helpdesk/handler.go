package helpdesk

import (
	"net/http"
	"strconv"

	"HDProject/logger"
	midsec "HDProject/middleware/security"
	"HDProject/module/notify"
	"HDProject/service/storage"
	"HDProject/service/ws"
	"HDProject/tools/errs"

	"github.com/gin-gonic/gin"
)

// API 工单消息与在线状态的 REST 查询入口
type API struct {
	Store    *storage.MessageStore
	Presence *storage.PresenceStore // may be nil
	Srv      *ws.Server
	Bus      *notify.Bus // may be nil
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// HandlerTicketHistory GET /api/messages/ticket/:ticket_id
func (a *API) HandlerTicketHistory(c *gin.Context) {
	ticketID := c.Param("ticket_id")
	msgs, err := a.Store.ListTicket(c.Request.Context(), ticketID, queryLimit(c))
	if err != nil {
		logger.Errorf("[api] list ticket history ticket=%s err=%v", ticketID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": errs.CodeStorageFailure, "msg": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": ticketID, "messages": msgs})
}

// HandlerDirectHistory GET /api/messages/direct/:peer_id
func (a *API) HandlerDirectHistory(c *gin.Context) {
	selfID := midsec.UserID(c)
	peerID := c.Param("peer_id")
	msgs, err := a.Store.ListDirect(c.Request.Context(), selfID, peerID, queryLimit(c))
	if err != nil {
		logger.Errorf("[api] list direct history self=%s peer=%s err=%v", selfID, peerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": errs.CodeStorageFailure, "msg": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_id": peerID, "messages": msgs})
}

type markReadReq struct {
	TicketID string `json:"ticket_id"`
	PeerID   string `json:"peer_id"`
}

// HandlerMarkRead POST /api/messages/read；ticket_id 与 peer_id 二选一
func (a *API) HandlerMarkRead(c *gin.Context) {
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil || (req.TicketID == "" && req.PeerID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeMalformedFrame, "msg": "ticket_id or peer_id required"})
		return
	}
	readerID := midsec.UserID(c)
	var err error
	if req.TicketID != "" {
		err = a.Store.MarkTicketRead(c.Request.Context(), readerID, req.TicketID)
	} else {
		err = a.Store.MarkDirectRead(c.Request.Context(), readerID, req.PeerID)
	}
	if err != nil {
		logger.Errorf("[api] mark read reader=%s err=%v", readerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": errs.CodeStorageFailure, "msg": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandlerPresence GET /api/presence/:user_id
// 本节点内存优先，未命中再查 redis 镜像（多网关部署时由镜像兜底）。
func (a *API) HandlerPresence(c *gin.Context) {
	userID := c.Param("user_id")
	online := a.Srv.Presence().IsOnline(userID)
	if !online && a.Presence != nil {
		mirrored, err := a.Presence.Lookup(c.Request.Context(), userID)
		if err != nil {
			logger.Infof("[api] presence mirror lookup user=%s err=%v", userID, err)
		} else {
			online = mirrored
		}
	}
	status := "offline"
	if online {
		status = "online"
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "status": status})
}

type notifyReq struct {
	UserID  string `json:"user_id"`
	Payload string `json:"payload"`
}

// HandlerNotify POST /api/notify；总线可用走 NATS，否则仅投本节点
func (a *API) HandlerNotify(c *gin.Context) {
	var req notifyReq
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeMalformedFrame, "msg": "user_id required"})
		return
	}
	if a.Bus != nil {
		if err := a.Bus.Publish(req.UserID, req.Payload); err != nil {
			logger.Errorf("[api] notify publish user=%s err=%v", req.UserID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": errs.ServerInternalError, "msg": "publish failed"})
			return
		}
	} else {
		a.Srv.NotifyUser(req.UserID, req.Payload)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
