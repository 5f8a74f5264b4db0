package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/repository"
)

// LedgerService owns wallet balances and the transaction ledger. Every
// balance mutation in the system funnels through Apply: one locked wallet
// row, one immutable transaction row, both in the caller's transaction or
// neither.
type LedgerService struct {
	pool         *db.Pool
	users        *repository.UserRepository
	wallets      *repository.WalletRepository
	transactions *repository.TransactionRepository
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(
	pool *db.Pool,
	users *repository.UserRepository,
	wallets *repository.WalletRepository,
	transactions *repository.TransactionRepository,
) *LedgerService {
	return &LedgerService{
		pool:         pool,
		users:        users,
		wallets:      wallets,
		transactions: transactions,
	}
}

// GetOrCreateBalance returns the user's wallet balance, creating a zero row
// on first touch.
func (s *LedgerService) GetOrCreateBalance(ctx context.Context, userID string) (*model.WalletBalance, error) {
	ctx, cancel := s.pool.QueryContext(ctx)
	defer cancel()

	if _, err := s.users.GetByID(ctx, s.pool, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, err
	}
	return s.wallets.GetOrCreate(ctx, s.pool, userID)
}

// Apply records txn and applies its signed amount to the owner's wallet
// balance inside the given transaction. The wallet row is locked first, so
// concurrent deltas on the same user serialize; a debit that would drive the
// available balance negative fails with ErrInsufficientFunds and the whole
// unit rolls back. A duplicate signature or reference code bubbles up as
// repository.ErrDuplicateReference for the caller to treat as already
// processed.
func (s *LedgerService) Apply(ctx context.Context, tx pgx.Tx, txn *model.Transaction) (*model.Transaction, *model.WalletBalance, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.OccurredAt.IsZero() {
		txn.OccurredAt = time.Now()
	}

	if _, err := s.wallets.GetOrCreate(ctx, tx, txn.UserID); err != nil {
		return nil, nil, err
	}
	if _, err := s.wallets.LockForUpdate(ctx, tx, txn.UserID); err != nil {
		return nil, nil, err
	}

	created, err := s.transactions.Create(ctx, tx, txn)
	if err != nil {
		return nil, nil, err
	}

	wallet, err := s.wallets.ApplyDelta(ctx, tx, txn.UserID, txn.Amount, created.ID)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, nil, ErrInsufficientFunds
		}
		return nil, nil, err
	}

	return created, wallet, nil
}

// WithdrawResult is the outcome of a withdrawal request.
type WithdrawResult struct {
	Transaction      *model.Transaction
	Balance          *model.WalletBalance
	AlreadyProcessed bool
}

// RequestWithdrawal moves amount from available into locked funds and
// records a pending withdraw transaction. The caller-supplied reference code
// is the idempotency key: a replay returns the original transaction with
// AlreadyProcessed set instead of debiting twice. The actual on-chain payout
// happens elsewhere; ConfirmWithdrawal / FailWithdrawal settle the outcome.
func (s *LedgerService) RequestWithdrawal(ctx context.Context, userID string, amount int64, referenceCode string) (*WithdrawResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidEvent)
	}
	if referenceCode == "" {
		referenceCode = uuid.NewString()
	}

	if existing, err := s.transactions.GetByReferenceCode(ctx, s.pool, referenceCode); err == nil {
		return s.replayedWithdrawal(ctx, userID, existing)
	} else if !errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, err
	}

	var result WithdrawResult
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.wallets.GetOrCreate(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := s.wallets.LockForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		txn, err := s.transactions.Create(ctx, tx, &model.Transaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          model.TxTypeWithdraw,
			Status:        model.TxStatusPending,
			Amount:        -amount,
			ReferenceCode: &referenceCode,
			OccurredAt:    time.Now(),
		})
		if err != nil {
			return err
		}

		wallet, err := s.wallets.MoveToLocked(ctx, tx, userID, amount, txn.ID)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientFunds) {
				return ErrInsufficientFunds
			}
			return err
		}

		result.Transaction = txn
		result.Balance = wallet
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			// Lost the race against a concurrent replay; surface its result.
			existing, gerr := s.transactions.GetByReferenceCode(ctx, s.pool, referenceCode)
			if gerr != nil {
				return nil, gerr
			}
			return s.replayedWithdrawal(ctx, userID, existing)
		}
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Int64("amount", amount).
		Str("reference_code", referenceCode).
		Msg("Withdrawal requested")

	return &result, nil
}

// replayedWithdrawal resolves a reference code that already has a
// transaction. Reference codes are scoped to the requesting user: another
// user's code is rejected, never surfaced.
func (s *LedgerService) replayedWithdrawal(ctx context.Context, userID string, existing *model.Transaction) (*WithdrawResult, error) {
	if existing.UserID != userID {
		return nil, fmt.Errorf("%w: reference code belongs to another user", ErrInvalidEvent)
	}
	wallet, err := s.wallets.Get(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	return &WithdrawResult{Transaction: existing, Balance: wallet, AlreadyProcessed: true}, nil
}

// ConfirmWithdrawal settles a pending withdrawal after the external transfer
// completed: locked funds are burned and the transaction is confirmed.
func (s *LedgerService) ConfirmWithdrawal(ctx context.Context, transactionID string) (*model.Transaction, error) {
	return s.settleWithdrawal(ctx, transactionID, model.TxStatusConfirmed, false)
}

// FailWithdrawal settles a pending withdrawal whose external transfer failed:
// locked funds return to available and the transaction is marked failed.
func (s *LedgerService) FailWithdrawal(ctx context.Context, transactionID string) (*model.Transaction, error) {
	return s.settleWithdrawal(ctx, transactionID, model.TxStatusFailed, true)
}

func (s *LedgerService) settleWithdrawal(ctx context.Context, transactionID, status string, backToAvailable bool) (*model.Transaction, error) {
	var settled *model.Transaction
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		txn, err := s.transactions.GetByID(ctx, tx, transactionID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return fmt.Errorf("%w: transaction %s", ErrNotFound, transactionID)
			}
			return err
		}
		if txn.Type != model.TxTypeWithdraw {
			return fmt.Errorf("%w: transaction %s is not a withdrawal", ErrInvalidEvent, transactionID)
		}
		if txn.Status != model.TxStatusPending {
			// Already settled; idempotent for repeated settlement calls.
			settled = txn
			return nil
		}

		if _, err := s.wallets.LockForUpdate(ctx, tx, txn.UserID); err != nil {
			return err
		}
		if _, err := s.wallets.ReleaseLocked(ctx, tx, txn.UserID, -txn.Amount, backToAvailable, txn.ID); err != nil {
			return err
		}

		settled, err = s.transactions.UpdateStatus(ctx, tx, txn.ID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// History returns the user's most recent transactions, newest first.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ctx, cancel := s.pool.QueryContext(ctx)
	defer cancel()
	return s.transactions.ListByUser(ctx, s.pool, userID, limit)
}
