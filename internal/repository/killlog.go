package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for kill log operations.
var (
	ErrKillLogNotFound = errors.New("kill log not found")
)

// KillLogRepository handles settled-kill records. The unique constraint on
// kill_reference is the idempotency anchor for kill settlement: a row exists
// if and only if the kill was settled.
type KillLogRepository struct{}

// NewKillLogRepository creates a new KillLogRepository instance.
func NewKillLogRepository() *KillLogRepository {
	return &KillLogRepository{}
}

const killLogColumns = `id, kill_reference, killer_ticket_id, victim_ticket_id,
		reward_amount, fee_amount, occurred_at, created_at`

func scanKillLog(row pgx.Row) (*model.KillLog, error) {
	var k model.KillLog
	err := row.Scan(
		&k.ID,
		&k.KillReference,
		&k.KillerTicketID,
		&k.VictimTicketID,
		&k.RewardAmount,
		&k.FeeAmount,
		&k.OccurredAt,
		&k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Create inserts a kill log row. It must run in the same transaction as the
// killer's balance credit so either both persist or neither does. A unique
// violation on kill_reference surfaces as ErrDuplicateReference.
func (r *KillLogRepository) Create(ctx context.Context, tx pgx.Tx, k *model.KillLog) (*model.KillLog, error) {
	const query = `
		INSERT INTO kill_logs (id, kill_reference, killer_ticket_id, victim_ticket_id,
			reward_amount, fee_amount, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + killLogColumns

	created, err := scanKillLog(tx.QueryRow(ctx, query,
		k.ID, k.KillReference, k.KillerTicketID, k.VictimTicketID,
		k.RewardAmount, k.FeeAmount, k.OccurredAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create kill log: %w", err)
	}
	return created, nil
}

// GetByReference retrieves a kill log by its game-server-supplied reference.
func (r *KillLogRepository) GetByReference(ctx context.Context, q Querier, killReference string) (*model.KillLog, error) {
	const query = `SELECT ` + killLogColumns + ` FROM kill_logs WHERE kill_reference = $1`

	k, err := scanKillLog(q.QueryRow(ctx, query, killReference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKillLogNotFound
		}
		return nil, fmt.Errorf("failed to get kill log: %w", err)
	}
	return k, nil
}
