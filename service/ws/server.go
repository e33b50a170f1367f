package ws

import (
	"context"
	"time"

	sec "HDProject/tools/security"
)

// StoredMessage is what the gateway needs back from a persisted message.
type StoredMessage struct {
	ID        int64
	Timestamp time.Time
}

// MessageStore is the durable append-only persistence collaborator.
// Exactly one of receiver/ticket is set per message.
type MessageStore interface {
	SaveDirect(ctx context.Context, senderID, receiverID, content string) (StoredMessage, error)
	SaveTicket(ctx context.Context, senderID, ticketID, content string) (StoredMessage, error)
}

// TicketInfo is the slice of a ticket the gateway cares about.
type TicketInfo struct {
	ID         string
	Title      string
	CreatorID  string
	AssigneeID string
}

// TicketDirectory resolves tickets and user display names.
type TicketDirectory interface {
	LookupTicket(ctx context.Context, ticketID string) (TicketInfo, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// SessionRecord is the audit-trail entry for one websocket session.
type SessionRecord struct {
	SessionID string
	UserID    string
	Channel   string // user/<id> ticket/<id> signal/<id> status
	RemoteIP  string
	OpenedAt  time.Time
}

// SessionSink receives best-effort session audit events (mongo-backed in
// production, nil to disable).
type SessionSink interface {
	SessionOpened(ctx context.Context, rec SessionRecord)
	SessionClosed(ctx context.Context, sessionID, reason string, closedAt time.Time)
}

// Deps are the external collaborators injected into the gateway.
type Deps struct {
	Store    MessageStore
	Tickets  TicketDirectory
	Sessions SessionSink    // may be nil
	Mirror   PresenceMirror // may be nil
	JWT      sec.Options
}

// Server owns every piece of in-memory real-time state: the connection
// registry, presence tracker, call-state maps and the fan-out dispatcher.
// Constructed once in main and injected into the gin handlers; there is no
// package-global registry.
type Server struct {
	reg   *Registry
	fan   *Fanout
	pres  *Presence
	calls *CallManager
	disp  *Dispatcher
	deps  Deps
}

func NewServer(deps Deps) *Server {
	reg := NewRegistry()
	fan := NewFanout(reg)
	s := &Server{
		reg:   reg,
		fan:   fan,
		pres:  NewPresence(reg, fan, deps.Mirror),
		calls: NewCallManager(),
		disp:  NewDispatcher(),
		deps:  deps,
	}
	return s
}

func (s *Server) Registry() *Registry { return s.reg }
func (s *Server) Fanout() *Fanout     { return s.fan }
func (s *Server) Presence() *Presence { return s.pres }
func (s *Server) Calls() *CallManager { return s.calls }
func (s *Server) Disp() *Dispatcher   { return s.disp }

// NotifyUser pushes an out-of-band payload to every connection on the
// user's personal channel. This is the surface HTTP-side flows (ticket
// creation and friends) call instead of reaching into registry internals.
// A user with no live connection is a silent no-op.
func (s *Server) NotifyUser(userID string, payload string) {
	s.fan.Deliver(UserChannel(userID), []byte(payload))
}

// Close tears down every live connection; their read loops run the normal
// cleanup path exactly once.
func (s *Server) Close() {
	for _, kind := range []ChannelKind{KindUser, KindTicket, KindSignal, KindStatus} {
		for _, c := range s.reg.SnapshotKind(kind) {
			c.Stop()
		}
	}
}
