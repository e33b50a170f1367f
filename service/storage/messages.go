package storage

import (
	"context"
	"time"

	"HDProject/service/storage/pg"
	"HDProject/service/ws"
	errs "HDProject/tools/errs"
)

// Message 持久化消息：receiver_id 与 ticket_id 二选一
type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	TicketID   string    `json:"ticket_id,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
}

// MessageStore is the durable append-only store behind the gateway.
// One row per call; no cross-message transactions.
type MessageStore struct{}

func NewMessageStore() *MessageStore { return &MessageStore{} }

var _ ws.MessageStore = (*MessageStore)(nil)

func (s *MessageStore) SaveDirect(ctx context.Context, senderID, receiverID, content string) (ws.StoredMessage, error) {
	var (
		id int64
		ts time.Time
	)
	err := pg.GetPool().QueryRow(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, timestamp, is_read)
		 VALUES ($1, $2, $3, now(), false)
		 RETURNING id, timestamp`,
		senderID, receiverID, content,
	).Scan(&id, &ts)
	if err != nil {
		return ws.StoredMessage{}, errs.ErrStorageFailure.WrapMsg("save direct", "sender", senderID)
	}
	return ws.StoredMessage{ID: id, Timestamp: ts}, nil
}

func (s *MessageStore) SaveTicket(ctx context.Context, senderID, ticketID, content string) (ws.StoredMessage, error) {
	var (
		id int64
		ts time.Time
	)
	err := pg.GetPool().QueryRow(ctx,
		`INSERT INTO messages (sender_id, ticket_id, content, timestamp, is_read)
		 VALUES ($1, $2, $3, now(), false)
		 RETURNING id, timestamp`,
		senderID, ticketID, content,
	).Scan(&id, &ts)
	if err != nil {
		return ws.StoredMessage{}, errs.ErrStorageFailure.WrapMsg("save ticket", "ticket", ticketID)
	}
	return ws.StoredMessage{ID: id, Timestamp: ts}, nil
}

// ListTicket returns a ticket's history, oldest first.
func (s *MessageStore) ListTicket(ctx context.Context, ticketID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := pg.GetPool().Query(ctx,
		`SELECT id, sender_id, coalesce(ticket_id, ''), content, timestamp, is_read
		 FROM messages WHERE ticket_id = $1
		 ORDER BY timestamp ASC LIMIT $2`,
		ticketID, limit,
	)
	if err != nil {
		return nil, errs.ErrStorageFailure.WrapMsg("list ticket", "ticket", ticketID)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.TicketID, &m.Content, &m.Timestamp, &m.IsRead); err != nil {
			return nil, errs.ErrStorageFailure.WrapMsg(err.Error())
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDirect returns the two-way history between a pair of users,
// oldest first.
func (s *MessageStore) ListDirect(ctx context.Context, userA, userB string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := pg.GetPool().Query(ctx,
		`SELECT id, sender_id, coalesce(receiver_id, ''), content, timestamp, is_read
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY timestamp ASC LIMIT $3`,
		userA, userB, limit,
	)
	if err != nil {
		return nil, errs.ErrStorageFailure.WrapMsg("list direct")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.IsRead); err != nil {
			return nil, errs.ErrStorageFailure.WrapMsg(err.Error())
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDirectRead flips the read flag on everything peer sent to reader.
// 读标记是消息唯一可变字段。
func (s *MessageStore) MarkDirectRead(ctx context.Context, readerID, peerID string) error {
	_, err := pg.GetPool().Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE receiver_id = $1 AND sender_id = $2 AND is_read = false`,
		readerID, peerID,
	)
	if err != nil {
		return errs.ErrStorageFailure.WrapMsg("mark direct read")
	}
	return nil
}

// MarkTicketRead flips the read flag on a ticket's messages not sent by
// the reader.
func (s *MessageStore) MarkTicketRead(ctx context.Context, readerID, ticketID string) error {
	_, err := pg.GetPool().Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE ticket_id = $1 AND sender_id <> $2 AND is_read = false`,
		ticketID, readerID,
	)
	if err != nil {
		return errs.ErrStorageFailure.WrapMsg("mark ticket read")
	}
	return nil
}
