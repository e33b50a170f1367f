package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Control envelope kinds understood by the dispatcher. Every other kind is
// dropped: not persisted, not relayed, no error reply.
const (
	KindCallInvite = "call.invite"
	KindCallAccept = "call.accept"
	KindCallEnd    = "call.end"
)

// ControlEnvelope is the type-tagged control frame carried on chat
// channels. A frame counts as control iff it decodes as a JSON object with
// a non-empty "kind"; everything else is plain chat text, including chat
// text that merely happens to be valid JSON.
type ControlEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseControl reports whether raw is a control envelope.
func ParseControl(raw []byte) (*ControlEnvelope, bool) {
	var env ControlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Kind == "" {
		return nil, false
	}
	return &env, true
}

// ParseStatus decodes a status-channel frame into its key/value fields.
func ParseStatus(raw []byte) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// ---- 投递帧格式 ----

// FormatDirect is the direct-chat delivery frame: "sender: content".
func FormatDirect(senderID, content string) []byte {
	return []byte(fmt.Sprintf("%s: %s", senderID, content))
}

// FormatTicket is the ticket-chat broadcast frame:
// "sender_id:content|03:04 PM|sender_name".
func FormatTicket(senderID, content string, ts time.Time, senderName string) []byte {
	stamp := ""
	if !ts.IsZero() {
		stamp = ts.Format("03:04 PM")
	}
	return []byte(fmt.Sprintf("%s:%s|%s|%s", senderID, content, stamp, senderName))
}

// FormatTicketNotify is the cross-channel ping for a ticket's creator or
// assignee who is not watching the ticket channel.
func FormatTicketNotify(ticketID, title, content string) []byte {
	return []byte(fmt.Sprintf("NOTIFY:ticket:%s:%s:%s", ticketID, title, firstRunes(content, 30)))
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
