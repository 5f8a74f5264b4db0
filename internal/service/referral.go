package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-economy/internal/config"
	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/repository"
)

// CommissionKind distinguishes the two referral triggers: the referee scoring
// a kill versus the referee dying (funding someone else's reward).
type CommissionKind string

// Commission kinds.
const (
	CommissionKill  CommissionKind = "kill"
	CommissionDeath CommissionKind = "death"
)

// ReferralService accrues commission to a referee's referrer when the
// referee's play generates value. Accrual is best effort from the caller's
// point of view, exactly once per (originating transaction, referee), and
// stops at the per-referrer lifetime cap.
type ReferralService struct {
	pool      *db.Pool
	users     *repository.UserRepository
	wallets   *repository.WalletRepository
	referrals *repository.ReferralRewardRepository
	ledger    *LedgerService
	cfg       config.ReferralConfig
}

// NewReferralService creates a new ReferralService instance.
func NewReferralService(
	pool *db.Pool,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	referrals *repository.ReferralRewardRepository,
	ledger *LedgerService,
	cfg config.ReferralConfig,
) *ReferralService {
	return &ReferralService{
		pool:      pool,
		users:     users,
		wallets:   wallets,
		referrals: referrals,
		ledger:    ledger,
		cfg:       cfg,
	}
}

// Accrue credits commission for one originating transaction to the referee's
// referrer. It returns (nil, nil) when nothing is owed: the referee has no
// referrer, the rate is zero, the cap is exhausted, or this transaction was
// already accrued for this referee.
//
// The referrer's wallet row lock serializes the cap check against concurrent
// accruals for the same referrer, so the confirmed total can never overshoot
// the cap.
func (s *ReferralService) Accrue(ctx context.Context, originTxID, refereeID string, kind CommissionKind, baseAmount int64) (*model.ReferralReward, error) {
	rate := s.rateFor(kind)
	if rate <= 0 || baseAmount <= 0 {
		return nil, nil
	}

	referee, err := s.users.GetByID(ctx, s.pool, refereeID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, refereeID)
		}
		return nil, err
	}
	if referee.ReferrerID == nil {
		return nil, nil
	}
	referrerID := *referee.ReferrerID

	commission := commissionAmount(baseAmount, rate)
	if commission <= 0 {
		return nil, nil
	}

	var accrued *model.ReferralReward
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.wallets.GetOrCreate(ctx, tx, referrerID); err != nil {
			return err
		}
		if _, err := s.wallets.LockForUpdate(ctx, tx, referrerID); err != nil {
			return err
		}

		total, err := s.referrals.SumConfirmedByReferrer(ctx, tx, referrerID)
		if err != nil {
			return err
		}
		grant := cappedCommission(commission, s.cfg.CommissionCap, total)
		if grant <= 0 {
			return nil
		}

		row, err := s.referrals.Create(ctx, tx, &model.ReferralReward{
			ID:            uuid.NewString(),
			ReferrerID:    referrerID,
			RefereeID:     refereeID,
			RewardType:    model.ReferralTypeGameCommission,
			Amount:        grant,
			Status:        model.ReferralStatusPending,
			TransactionID: &originTxID,
		})
		if err != nil {
			return err
		}

		refCode := fmt.Sprintf("refcom:%s:%s", originTxID, refereeID)
		now := time.Now()
		if _, _, err := s.ledger.Apply(ctx, tx, &model.Transaction{
			ID:            uuid.NewString(),
			UserID:        referrerID,
			Type:          model.TxTypeReward,
			Status:        model.TxStatusConfirmed,
			Amount:        grant,
			ReferenceCode: &refCode,
			ReferenceID:   &row.ID,
			OccurredAt:    now,
			ProcessedAt:   &now,
		}); err != nil {
			return err
		}

		accrued, err = s.referrals.UpdateStatus(ctx, tx, row.ID, model.ReferralStatusConfirmed)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			// Already accrued for this transaction and referee.
			return nil, nil
		}
		return nil, err
	}
	if accrued == nil {
		return nil, nil
	}

	log.Info().
		Str("referrer_id", referrerID).
		Str("referee_id", refereeID).
		Str("kind", string(kind)).
		Int64("amount", accrued.Amount).
		Msg("Referral commission accrued")

	return accrued, nil
}

// ListForReferrer returns a referrer's accrual history, newest first.
func (s *ReferralService) ListForReferrer(ctx context.Context, referrerID string, limit int) ([]*model.ReferralReward, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ctx, cancel := s.pool.QueryContext(ctx)
	defer cancel()
	return s.referrals.ListByReferrer(ctx, s.pool, referrerID, limit)
}

func (s *ReferralService) rateFor(kind CommissionKind) float64 {
	switch kind {
	case CommissionKill:
		return s.cfg.KillCommissionRate
	case CommissionDeath:
		return s.cfg.DeathCommissionRate
	default:
		return 0
	}
}

// commissionAmount computes the raw commission for a base amount at the
// given rate, rounded to the nearest micro-unit.
func commissionAmount(baseAmount int64, rate float64) int64 {
	return int64(math.Round(float64(baseAmount) * rate))
}

// cappedCommission trims a commission so the referrer's lifetime total never
// exceeds cap. A cap of zero or below means no cap.
func cappedCommission(commission, cap, accrued int64) int64 {
	if cap <= 0 {
		return commission
	}
	remaining := cap - accrued
	if remaining <= 0 {
		return 0
	}
	if commission > remaining {
		return remaining
	}
	return commission
}
