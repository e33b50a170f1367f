package ws

import (
	"sync"

	errs "HDProject/tools/errs"
)

// CallPhase 呼叫状态机
type CallPhase string

const (
	CallIdle    CallPhase = "idle"
	CallRinging CallPhase = "ringing"
	CallInCall  CallPhase = "in_call"
)

// UserCall is the signaling state of one user in a peer-to-peer call.
type UserCall struct {
	Phase CallPhase
	Peer  string
}

// TicketCall is the signaling state of one ticket's conference.
// Participants always track the users currently connected to the ticket
// channel; the set is maintained by the channel lifecycle, not by events.
type TicketCall struct {
	Phase        CallPhase
	Participants map[string]struct{}
}

// CallManager owns the per-user and per-ticket call state. Ephemeral,
// in-memory, behind this one type so a durable backing store could be
// substituted without touching dispatch logic.
type CallManager struct {
	mu      sync.Mutex
	users   map[string]*UserCall
	tickets map[string]*TicketCall
}

func NewCallManager() *CallManager {
	return &CallManager{
		users:   make(map[string]*UserCall),
		tickets: make(map[string]*TicketCall),
	}
}

// JoinTicket adds a participant, creating the ticket's state as idle when
// this is the first one.
func (m *CallManager) JoinTicket(ticketID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.tickets[ticketID]
	if tc == nil {
		tc = &TicketCall{Phase: CallIdle, Participants: make(map[string]struct{})}
		m.tickets[ticketID] = tc
	}
	tc.Participants[userID] = struct{}{}
}

// LeaveTicket removes a participant. The last one out discards the state
// entirely; otherwise the phase resets to idle, so an in-progress call does
// not survive any single participant's disconnect.
func (m *CallManager) LeaveTicket(ticketID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.tickets[ticketID]
	if tc == nil {
		return
	}
	delete(tc.Participants, userID)
	if len(tc.Participants) == 0 {
		delete(m.tickets, ticketID)
		return
	}
	tc.Phase = CallIdle
}

// TicketSnapshot returns a copy of the ticket's call state.
func (m *CallManager) TicketSnapshot(ticketID string) (TicketCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.tickets[ticketID]
	if tc == nil {
		return TicketCall{}, false
	}
	out := TicketCall{Phase: tc.Phase, Participants: make(map[string]struct{}, len(tc.Participants))}
	for u := range tc.Participants {
		out.Participants[u] = struct{}{}
	}
	return out, true
}

// ApplyTicketEvent drives the ticket call state machine:
// invite: idle -> ringing; accept: ringing -> in_call; end: any -> idle.
func (m *CallManager) ApplyTicketEvent(ticketID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc := m.tickets[ticketID]
	if tc == nil {
		return errs.ErrRecordNotFound.WithDetail("no call state for ticket " + ticketID)
	}
	next, err := nextPhase(tc.Phase, kind)
	if err != nil {
		return err
	}
	tc.Phase = next
	return nil
}

// ApplyUserEvent drives both ends of a peer-to-peer call in one step, so
// the pair can never disagree on the phase.
func (m *CallManager) ApplyUserEvent(userID, peerID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	uc := m.users[userID]
	phase := CallIdle
	if uc != nil {
		phase = uc.Phase
	}
	next, err := nextPhase(phase, kind)
	if err != nil {
		return err
	}
	if next == CallIdle {
		delete(m.users, userID)
		delete(m.users, peerID)
		return nil
	}
	m.users[userID] = &UserCall{Phase: next, Peer: peerID}
	m.users[peerID] = &UserCall{Phase: next, Peer: userID}
	return nil
}

// UserSnapshot returns a copy of one user's call state.
func (m *CallManager) UserSnapshot(userID string) (UserCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uc := m.users[userID]
	if uc == nil {
		return UserCall{}, false
	}
	return *uc, true
}

// ClearUser drops a user's call state on disconnect and resets the peer's
// end to idle as well.
func (m *CallManager) ClearUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uc := m.users[userID]
	if uc == nil {
		return
	}
	if peer := m.users[uc.Peer]; peer != nil && peer.Peer == userID {
		delete(m.users, uc.Peer)
	}
	delete(m.users, userID)
}

func nextPhase(cur CallPhase, kind string) (CallPhase, error) {
	switch kind {
	case KindCallInvite:
		if cur != CallIdle {
			return cur, errs.ErrMalformedFrame.WithDetail("invite while " + string(cur))
		}
		return CallRinging, nil
	case KindCallAccept:
		if cur != CallRinging {
			return cur, errs.ErrMalformedFrame.WithDetail("accept while " + string(cur))
		}
		return CallInCall, nil
	case KindCallEnd:
		return CallIdle, nil
	default:
		return cur, errs.ErrMalformedFrame.WithDetail("unknown call event " + kind)
	}
}
