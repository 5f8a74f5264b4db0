package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for referral reward operations.
var (
	ErrReferralRewardNotFound = errors.New("referral reward not found")
)

// ReferralRewardRepository handles commission accrual rows. The unique pair
// (transaction_id, referee_id) makes re-processing the same originating
// transaction a no-op.
type ReferralRewardRepository struct{}

// NewReferralRewardRepository creates a new ReferralRewardRepository instance.
func NewReferralRewardRepository() *ReferralRewardRepository {
	return &ReferralRewardRepository{}
}

const referralColumns = `id, referrer_id, referee_id, reward_type, amount, status,
		transaction_id, created_at`

func scanReferralReward(row pgx.Row) (*model.ReferralReward, error) {
	var rr model.ReferralReward
	err := row.Scan(
		&rr.ID,
		&rr.ReferrerID,
		&rr.RefereeID,
		&rr.RewardType,
		&rr.Amount,
		&rr.Status,
		&rr.TransactionID,
		&rr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rr, nil
}

// Create inserts a commission accrual row. A unique violation on
// (transaction_id, referee_id) surfaces as ErrDuplicateReference, meaning
// commission for this originating transaction was already accrued.
func (r *ReferralRewardRepository) Create(ctx context.Context, tx pgx.Tx, rr *model.ReferralReward) (*model.ReferralReward, error) {
	const query = `
		INSERT INTO referral_rewards (id, referrer_id, referee_id, reward_type,
			amount, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + referralColumns

	created, err := scanReferralReward(tx.QueryRow(ctx, query,
		rr.ID, rr.ReferrerID, rr.RefereeID, rr.RewardType, rr.Amount, rr.Status, rr.TransactionID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create referral reward: %w", err)
	}
	return created, nil
}

// UpdateStatus moves an accrual row to a new status.
func (r *ReferralRewardRepository) UpdateStatus(ctx context.Context, q Querier, id, status string) (*model.ReferralReward, error) {
	const query = `
		UPDATE referral_rewards
		SET status = $2
		WHERE id = $1
		RETURNING ` + referralColumns

	rr, err := scanReferralReward(q.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralRewardNotFound
		}
		return nil, fmt.Errorf("failed to update referral reward status: %w", err)
	}
	return rr, nil
}

// SumConfirmedByReferrer returns a referrer's cumulative confirmed
// commission. Callers hold the referrer's wallet row lock while reading this
// so the cap check and the accrual insert are one serialized unit.
func (r *ReferralRewardRepository) SumConfirmedByReferrer(ctx context.Context, q Querier, referrerID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM referral_rewards
		WHERE referrer_id = $1 AND status = 'confirmed'
	`

	var sum int64
	if err := q.QueryRow(ctx, query, referrerID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum referral rewards: %w", err)
	}
	return sum, nil
}

// ListByReferrer retrieves a referrer's accruals, newest first.
func (r *ReferralRewardRepository) ListByReferrer(ctx context.Context, q Querier, referrerID string, limit int) ([]*model.ReferralReward, error) {
	const query = `
		SELECT ` + referralColumns + `
		FROM referral_rewards
		WHERE referrer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, referrerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list referral rewards: %w", err)
	}
	defer rows.Close()

	var rewards []*model.ReferralReward
	for rows.Next() {
		rr, err := scanReferralReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral reward: %w", err)
		}
		rewards = append(rewards, rr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral rewards: %w", err)
	}

	return rewards, nil
}
