package handlers

import (
	"encoding/json"

	"HDProject/service/ws"
)

// callHandler drives the call state machine from control envelopes and
// relays the envelope to the channel so the peers see the event. Control
// frames are never persisted.
type callHandler struct {
	kind string
}

func NewCallInviteHandler() ws.ControlHandler { return &callHandler{kind: ws.KindCallInvite} }
func NewCallAcceptHandler() ws.ControlHandler { return &callHandler{kind: ws.KindCallAccept} }
func NewCallEndHandler() ws.ControlHandler    { return &callHandler{kind: ws.KindCallEnd} }

// RegisterAll wires every control handler into the server's dispatcher.
func RegisterAll(s *ws.Server) {
	s.Disp().Register(NewCallInviteHandler())
	s.Disp().Register(NewCallAcceptHandler())
	s.Disp().Register(NewCallEndHandler())
}

func (h *callHandler) Kind() string { return h.kind }

func (h *callHandler) Handle(ctx *ws.Context, env *ws.ControlEnvelope, from *ws.Client) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	switch {
	case ctx.TicketID != "":
		if err := ctx.S.Calls().ApplyTicketEvent(ctx.TicketID, h.kind); err != nil {
			return err
		}
		ctx.S.Fanout().Deliver(ws.TicketChannel(ctx.TicketID), b)
	case ctx.PeerID != "":
		if err := ctx.S.Calls().ApplyUserEvent(from.UserID, ctx.PeerID, h.kind); err != nil {
			return err
		}
		ctx.S.Fanout().Deliver(ws.UserChannel(ctx.PeerID), b)
	}
	return nil
}
