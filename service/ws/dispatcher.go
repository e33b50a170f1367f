package ws

import (
	"github.com/golang/glog"
)

// Context carries the channel a control frame arrived on.
type Context struct {
	S        *Server
	TicketID string // 工单频道时非空
	PeerID   string // 私聊频道时非空（对端用户）
}

// ControlHandler handles one control envelope kind.
type ControlHandler interface {
	Kind() string
	Handle(ctx *Context, env *ControlEnvelope, from *Client) error
}

// Dispatcher routes control envelopes by kind. Unknown kinds are dropped
// silently, matching the chat channels' malformed-frame policy.
type Dispatcher struct {
	handlers map[string]ControlHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]ControlHandler)}
}

func (d *Dispatcher) Register(h ControlHandler) { d.handlers[h.Kind()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, env *ControlEnvelope, from *Client) {
	h, ok := d.handlers[env.Kind]
	if !ok {
		glog.Infof("no handler for kind=%s", env.Kind)
		return
	}
	if err := h.Handle(ctx, env, from); err != nil {
		glog.Infof("handler kind=%s err=%v", env.Kind, err)
	}
}
