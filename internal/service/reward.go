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

	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/pkg/lock"
	"arena-economy/internal/repository"
)

// KillEvent is one kill reported by the game server. KillReference is stable
// across retries of the same kill and is the settlement idempotency key.
type KillEvent struct {
	KillReference  string    `json:"kill_reference"`
	KillerTicketID string    `json:"killer_ticket_id"`
	VictimTicketID string    `json:"victim_ticket_id"`
	RoomInstanceID string    `json:"room_instance_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// KillResult is the outcome of settling one kill.
type KillResult struct {
	AlreadyProcessed bool
	KillLogID        string
	RewardAmount     int64
	FeeAmount        int64
	KillerBalance    int64
}

// RespawnResult is the outcome of charging a respawn.
type RespawnResult struct {
	Cost             int64
	AvailableBalance int64
}

// RewardService settles kills and respawns against consumed tickets. Kill
// settlement credits the killer with the player's share of the victim's entry
// fee and records the treasury remainder; each kill reference settles at most
// once no matter how many times the game server retries.
type RewardService struct {
	pool         *db.Pool
	tickets      *repository.TicketRepository
	rooms        *repository.RoomConfigRepository
	transactions *repository.TransactionRepository
	killLogs     *repository.KillLogRepository
	ledger       *LedgerService
	referrals    *ReferralService
	locks        *lock.UserLock
}

// NewRewardService creates a new RewardService instance.
func NewRewardService(
	pool *db.Pool,
	tickets *repository.TicketRepository,
	rooms *repository.RoomConfigRepository,
	transactions *repository.TransactionRepository,
	killLogs *repository.KillLogRepository,
	ledger *LedgerService,
	referrals *ReferralService,
	locks *lock.UserLock,
) *RewardService {
	return &RewardService{
		pool:         pool,
		tickets:      tickets,
		rooms:        rooms,
		transactions: transactions,
		killLogs:     killLogs,
		ledger:       ledger,
		referrals:    referrals,
		locks:        locks,
	}
}

// ProcessKill settles one kill event. A replayed kill reference returns the
// original settlement with AlreadyProcessed set; nothing is credited twice.
// Referral commission accrues best effort after the settlement commits; a
// commission failure never unwinds the kill reward.
func (s *RewardService) ProcessKill(ctx context.Context, event *KillEvent) (*KillResult, error) {
	if event.KillReference == "" {
		return nil, fmt.Errorf("%w: missing kill reference", ErrInvalidEvent)
	}
	if event.KillerTicketID == event.VictimTicketID {
		return nil, fmt.Errorf("%w: killer and victim tickets are the same", ErrInvalidEvent)
	}

	if existing, err := s.killLogs.GetByReference(ctx, s.pool, event.KillReference); err == nil {
		return &KillResult{
			AlreadyProcessed: true,
			KillLogID:        existing.ID,
			RewardAmount:     existing.RewardAmount,
			FeeAmount:        existing.FeeAmount,
		}, nil
	} else if !errors.Is(err, repository.ErrKillLogNotFound) {
		return nil, err
	}

	killer, victim, cfg, err := s.validateKill(ctx, event)
	if err != nil {
		return nil, err
	}

	reward, fee := computeKillSplit(cfg.EntryFee, cfg.RewardRatePlayer)
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	if !s.locks.LockWithTimeout(ctx, killer.UserID, lockWaitTimeout) {
		return nil, lock.ErrLockTimeout
	}
	defer s.locks.Unlock(killer.UserID)

	var (
		result   KillResult
		rewardTx *model.Transaction
	)
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		killLog, err := s.killLogs.Create(ctx, tx, &model.KillLog{
			ID:             uuid.NewString(),
			KillReference:  event.KillReference,
			KillerTicketID: killer.ID,
			VictimTicketID: victim.ID,
			RewardAmount:   reward,
			FeeAmount:      fee,
			OccurredAt:     occurredAt,
		})
		if err != nil {
			return err
		}

		refCode := "kill:" + event.KillReference
		now := time.Now()
		txn, wallet, err := s.ledger.Apply(ctx, tx, &model.Transaction{
			ID:            uuid.NewString(),
			UserID:        killer.UserID,
			Type:          model.TxTypeReward,
			Status:        model.TxStatusConfirmed,
			Amount:        reward,
			FeeAmount:     fee,
			ReferenceCode: &refCode,
			ReferenceID:   &killLog.ID,
			OccurredAt:    occurredAt,
			ProcessedAt:   &now,
		})
		if err != nil {
			return err
		}

		rewardTx = txn
		result = KillResult{
			KillLogID:     killLog.ID,
			RewardAmount:  reward,
			FeeAmount:     fee,
			KillerBalance: wallet.AvailableAmount,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			// Lost the race against a concurrent delivery of the same kill.
			existing, gerr := s.killLogs.GetByReference(ctx, s.pool, event.KillReference)
			if gerr != nil {
				return nil, gerr
			}
			return &KillResult{
				AlreadyProcessed: true,
				KillLogID:        existing.ID,
				RewardAmount:     existing.RewardAmount,
				FeeAmount:        existing.FeeAmount,
			}, nil
		}
		return nil, err
	}

	log.Info().
		Str("kill_reference", event.KillReference).
		Str("killer_user_id", killer.UserID).
		Str("victim_user_id", victim.UserID).
		Int64("reward", reward).
		Int64("fee", fee).
		Msg("Kill settled")

	s.accrueCommissions(ctx, rewardTx.ID, killer.UserID, victim.UserID, reward, cfg.EntryFee)

	return &result, nil
}

// validateKill checks both tickets and the room config before money moves.
func (s *RewardService) validateKill(ctx context.Context, event *KillEvent) (killer, victim *model.VipTicket, cfg *model.VipRoomConfig, err error) {
	killer, err = s.getTicket(ctx, event.KillerTicketID)
	if err != nil {
		return nil, nil, nil, err
	}
	victim, err = s.getTicket(ctx, event.VictimTicketID)
	if err != nil {
		return nil, nil, nil, err
	}

	if killer.Status != model.TicketConsumed || victim.Status != model.TicketConsumed {
		return nil, nil, nil, fmt.Errorf("%w: both tickets must be consumed", ErrInvalidState)
	}
	if killer.RoomType != victim.RoomType {
		return nil, nil, nil, fmt.Errorf("%w: tickets belong to different room types", ErrInvalidEvent)
	}
	if event.RoomInstanceID != "" {
		if killer.RoomInstanceID == nil || *killer.RoomInstanceID != event.RoomInstanceID ||
			victim.RoomInstanceID == nil || *victim.RoomInstanceID != event.RoomInstanceID {
			return nil, nil, nil, fmt.Errorf("%w: tickets were not consumed in room instance %s", ErrInvalidEvent, event.RoomInstanceID)
		}
	}

	cfg, err = s.rooms.Get(ctx, s.pool, killer.RoomType)
	if err != nil {
		if errors.Is(err, repository.ErrRoomConfigNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: room config %s", ErrNotFound, killer.RoomType)
		}
		return nil, nil, nil, err
	}
	return killer, victim, cfg, nil
}

// ProcessRespawn charges the room's respawn cost against the ticket owner's
// balance. An owner who cannot cover the cost is denied with
// ErrInsufficientFunds and nothing changes.
func (s *RewardService) ProcessRespawn(ctx context.Context, ticketID string) (*RespawnResult, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != model.TicketConsumed {
		return nil, fmt.Errorf("%w: respawn requires a consumed ticket", ErrInvalidState)
	}

	cfg, err := s.rooms.Get(ctx, s.pool, ticket.RoomType)
	if err != nil {
		if errors.Is(err, repository.ErrRoomConfigNotFound) {
			return nil, fmt.Errorf("%w: room config %s", ErrNotFound, ticket.RoomType)
		}
		return nil, err
	}
	if cfg.RespawnCost <= 0 {
		wallet, err := s.ledger.GetOrCreateBalance(ctx, ticket.UserID)
		if err != nil {
			return nil, err
		}
		return &RespawnResult{Cost: 0, AvailableBalance: wallet.AvailableAmount}, nil
	}

	if !s.locks.LockWithTimeout(ctx, ticket.UserID, lockWaitTimeout) {
		return nil, lock.ErrLockTimeout
	}
	defer s.locks.Unlock(ticket.UserID)

	var result RespawnResult
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		refCode := "respawn:" + uuid.NewString()
		now := time.Now()
		_, wallet, err := s.ledger.Apply(ctx, tx, &model.Transaction{
			ID:            uuid.NewString(),
			UserID:        ticket.UserID,
			Type:          model.TxTypePenalty,
			Status:        model.TxStatusConfirmed,
			Amount:        -cfg.RespawnCost,
			ReferenceCode: &refCode,
			ReferenceID:   &ticket.ID,
			OccurredAt:    now,
			ProcessedAt:   &now,
		})
		if err != nil {
			return err
		}
		result = RespawnResult{Cost: cfg.RespawnCost, AvailableBalance: wallet.AvailableAmount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("ticket_id", ticket.ID).
		Str("user_id", ticket.UserID).
		Int64("cost", cfg.RespawnCost).
		Msg("Respawn charged")

	return &result, nil
}

// accrueCommissions triggers both referral sides of a settled kill: the
// killer's referrer earns on the reward, the victim's referrer earns on the
// entry fee that funded it. Failures are logged, never propagated.
func (s *RewardService) accrueCommissions(ctx context.Context, rewardTxID, killerUserID, victimUserID string, reward, entryFee int64) {
	if s.referrals == nil {
		return
	}
	if _, err := s.referrals.Accrue(ctx, rewardTxID, killerUserID, CommissionKill, reward); err != nil {
		log.Error().Err(err).
			Str("transaction_id", rewardTxID).
			Str("referee_id", killerUserID).
			Msg("Kill commission accrual failed")
	}
	if _, err := s.referrals.Accrue(ctx, rewardTxID, victimUserID, CommissionDeath, entryFee); err != nil {
		log.Error().Err(err).
			Str("transaction_id", rewardTxID).
			Str("referee_id", victimUserID).
			Msg("Death commission accrual failed")
	}
}

func (s *RewardService) getTicket(ctx context.Context, id string) (*model.VipTicket, error) {
	ticket, err := s.tickets.GetByID(ctx, s.pool, id)
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, fmt.Errorf("%w: ticket %s", ErrNotFound, id)
		}
		return nil, err
	}
	return ticket, nil
}

// computeKillSplit divides the victim's entry fee: the killer receives the
// player share rounded to the nearest micro-unit, the treasury keeps the
// remainder. reward + fee always equals entryFee exactly.
func computeKillSplit(entryFee int64, ratePlayer float64) (reward, fee int64) {
	reward = int64(math.Round(float64(entryFee) * ratePlayer))
	if reward < 0 {
		reward = 0
	}
	if reward > entryFee {
		reward = entryFee
	}
	return reward, entryFee - reward
}
