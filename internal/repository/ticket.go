package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for ticket operations.
var (
	ErrTicketNotFound = errors.New("ticket not found")
)

// TicketRepository handles VIP ticket persistence. A partial unique index
// permits at most one issued ticket per (user, room type); state transitions
// are guarded in SQL so an illegal transition updates zero rows.
type TicketRepository struct{}

// NewTicketRepository creates a new TicketRepository instance.
func NewTicketRepository() *TicketRepository {
	return &TicketRepository{}
}

const ticketColumns = `id, user_id, ticket_code, room_type, entry_fee,
		room_instance_id, status, expires_at, consumed_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*model.VipTicket, error) {
	var t model.VipTicket
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TicketCode,
		&t.RoomType,
		&t.EntryFee,
		&t.RoomInstanceID,
		&t.Status,
		&t.ExpiresAt,
		&t.ConsumedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new issued ticket. The partial unique index surfaces as
// ErrDuplicateReference when the user already holds an issued ticket for the
// room type.
func (r *TicketRepository) Create(ctx context.Context, q Querier, t *model.VipTicket) (*model.VipTicket, error) {
	const query = `
		INSERT INTO vip_tickets (id, user_id, ticket_code, room_type, entry_fee,
			status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING ` + ticketColumns

	created, err := scanTicket(q.QueryRow(ctx, query,
		t.ID, t.UserID, t.TicketCode, t.RoomType, t.EntryFee, t.Status, t.ExpiresAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return created, nil
}

// GetByID retrieves a ticket by ID.
func (r *TicketRepository) GetByID(ctx context.Context, q Querier, id string) (*model.VipTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM vip_tickets WHERE id = $1`

	t, err := scanTicket(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// LockByID retrieves a ticket with a row lock held for the remainder of the
// enclosing transaction. Concurrent consume/cancel on the same ticket
// serialize here.
func (r *TicketRepository) LockByID(ctx context.Context, tx pgx.Tx, id string) (*model.VipTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM vip_tickets WHERE id = $1 FOR UPDATE`

	t, err := scanTicket(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to lock ticket: %w", err)
	}
	return t, nil
}

// FindIssuedByUserAndRoom returns the user's unconsumed ticket for a room
// type, if one exists.
func (r *TicketRepository) FindIssuedByUserAndRoom(ctx context.Context, q Querier, userID, roomType string) (*model.VipTicket, error) {
	const query = `
		SELECT ` + ticketColumns + `
		FROM vip_tickets
		WHERE user_id = $1 AND room_type = $2 AND status = 'issued'
	`

	t, err := scanTicket(q.QueryRow(ctx, query, userID, roomType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to find issued ticket: %w", err)
	}
	return t, nil
}

// Consume transitions a ticket from issued to consumed, stamping the room
// instance and consumption time. The status guard in the WHERE clause makes
// the transition atomic: zero rows updated means the ticket was not issued.
func (r *TicketRepository) Consume(ctx context.Context, tx pgx.Tx, id, roomInstanceID string) (*model.VipTicket, error) {
	const query = `
		UPDATE vip_tickets
		SET status = 'consumed', room_instance_id = $2, consumed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'issued'
		RETURNING ` + ticketColumns

	t, err := scanTicket(tx.QueryRow(ctx, query, id, roomInstanceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to consume ticket: %w", err)
	}
	return t, nil
}

// Terminate transitions an issued ticket to a terminal non-consumed state
// (cancelled or expired).
func (r *TicketRepository) Terminate(ctx context.Context, tx pgx.Tx, id string, status model.TicketStatus) (*model.VipTicket, error) {
	const query = `
		UPDATE vip_tickets
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'issued'
		RETURNING ` + ticketColumns

	t, err := scanTicket(tx.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to terminate ticket: %w", err)
	}
	return t, nil
}

// ListOverdue returns issued tickets whose expiry has passed, oldest first.
// The sweeper settles each one individually so a large backlog cannot hold a
// long transaction open.
func (r *TicketRepository) ListOverdue(ctx context.Context, q Querier, now time.Time, limit int) ([]*model.VipTicket, error) {
	const query = `
		SELECT ` + ticketColumns + `
		FROM vip_tickets
		WHERE status = 'issued' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.VipTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	return tickets, nil
}
