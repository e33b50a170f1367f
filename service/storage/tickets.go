package storage

import (
	"context"

	"HDProject/service/storage/pg"
	"HDProject/service/ws"
	errs "HDProject/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// TicketDirectory resolves tickets and user display names for the gateway.
type TicketDirectory struct{}

func NewTicketDirectory() *TicketDirectory { return &TicketDirectory{} }

var _ ws.TicketDirectory = (*TicketDirectory)(nil)

func (d *TicketDirectory) LookupTicket(ctx context.Context, ticketID string) (ws.TicketInfo, error) {
	var info ws.TicketInfo
	err := pg.GetPool().QueryRow(ctx,
		`SELECT id, title, creator_id, coalesce(assignee_id, '')
		 FROM tickets WHERE id = $1`,
		ticketID,
	).Scan(&info.ID, &info.Title, &info.CreatorID, &info.AssigneeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ws.TicketInfo{}, errs.ErrRecordNotFound.WrapMsg("ticket", "id", ticketID)
	}
	if err != nil {
		return ws.TicketInfo{}, errs.ErrStorageFailure.WrapMsg("lookup ticket", "id", ticketID)
	}
	return info, nil
}

func (d *TicketDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := pg.GetPool().QueryRow(ctx,
		`SELECT name FROM users WHERE id = $1`, userID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrRecordNotFound.WrapMsg("user", "id", userID)
	}
	if err != nil {
		return "", errs.ErrStorageFailure.WrapMsg("display name", "id", userID)
	}
	return name, nil
}
