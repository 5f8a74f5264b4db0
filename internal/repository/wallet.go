package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for wallet balance operations.
var (
	ErrWalletNotFound    = errors.New("wallet balance not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// WalletRepository handles wallet balance persistence. The wallet row is the
// per-user serialization boundary: every mutation goes through LockForUpdate
// + ApplyDelta inside one transaction.
type WalletRepository struct{}

// NewWalletRepository creates a new WalletRepository instance.
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{}
}

const walletColumns = `user_id, available_amount, locked_amount, last_transaction_id, updated_at`

func scanWallet(row pgx.Row) (*model.WalletBalance, error) {
	var w model.WalletBalance
	err := row.Scan(
		&w.UserID,
		&w.AvailableAmount,
		&w.LockedAmount,
		&w.LastTransactionID,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Get retrieves a user's wallet balance without locking.
func (r *WalletRepository) Get(ctx context.Context, q Querier, userID string) (*model.WalletBalance, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallet_balances WHERE user_id = $1`

	wallet, err := scanWallet(q.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// GetOrCreate retrieves a user's wallet balance, creating a zero row if none
// exists. ON CONFLICT DO NOTHING absorbs the concurrent-create race.
func (r *WalletRepository) GetOrCreate(ctx context.Context, q Querier, userID string) (*model.WalletBalance, error) {
	const insert = `
		INSERT INTO wallet_balances (user_id, available_amount, locked_amount, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := q.Exec(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return r.Get(ctx, q, userID)
}

// LockForUpdate reads a user's wallet balance with a row lock held for the
// remainder of the enclosing transaction. Concurrent mutations on the same
// user serialize here.
func (r *WalletRepository) LockForUpdate(ctx context.Context, tx pgx.Tx, userID string) (*model.WalletBalance, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallet_balances WHERE user_id = $1 FOR UPDATE`

	wallet, err := scanWallet(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return wallet, nil
}

// ApplyDelta applies a signed delta to the locked wallet row and stamps the
// transaction that caused it. The guard in the WHERE clause (mirrored by a
// CHECK constraint) rejects any debit that would drive available_amount
// negative; ErrInsufficientFunds is returned and the row is unchanged.
func (r *WalletRepository) ApplyDelta(ctx context.Context, tx pgx.Tx, userID string, delta int64, transactionID string) (*model.WalletBalance, error) {
	const query = `
		UPDATE wallet_balances
		SET available_amount = available_amount + $2,
		    last_transaction_id = $3,
		    updated_at = NOW()
		WHERE user_id = $1 AND available_amount + $2 >= 0
		RETURNING ` + walletColumns

	wallet, err := scanWallet(tx.QueryRow(ctx, query, userID, delta, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The caller locked the row, so absence here means the guard
			// rejected the debit, not that the wallet is missing.
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to apply delta: %w", err)
	}
	return wallet, nil
}

// MoveToLocked shifts amount from available to locked funds on the locked
// wallet row. Used by withdrawal requests awaiting on-chain settlement.
func (r *WalletRepository) MoveToLocked(ctx context.Context, tx pgx.Tx, userID string, amount int64, transactionID string) (*model.WalletBalance, error) {
	const query = `
		UPDATE wallet_balances
		SET available_amount = available_amount - $2,
		    locked_amount = locked_amount + $2,
		    last_transaction_id = $3,
		    updated_at = NOW()
		WHERE user_id = $1 AND available_amount - $2 >= 0
		RETURNING ` + walletColumns

	wallet, err := scanWallet(tx.QueryRow(ctx, query, userID, amount, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to lock funds: %w", err)
	}
	return wallet, nil
}

// ReleaseLocked removes amount from locked funds after the external transfer
// settles, or returns it to available when the withdrawal fails.
func (r *WalletRepository) ReleaseLocked(ctx context.Context, tx pgx.Tx, userID string, amount int64, backToAvailable bool, transactionID string) (*model.WalletBalance, error) {
	const query = `
		UPDATE wallet_balances
		SET locked_amount = locked_amount - $2,
		    available_amount = available_amount + CASE WHEN $3 THEN $2 ELSE 0 END,
		    last_transaction_id = $4,
		    updated_at = NOW()
		WHERE user_id = $1 AND locked_amount - $2 >= 0
		RETURNING ` + walletColumns

	wallet, err := scanWallet(tx.QueryRow(ctx, query, userID, amount, backToAvailable, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to release locked funds: %w", err)
	}
	return wallet, nil
}
