package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for transaction operations.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
)

// TransactionRepository handles the immutable transaction ledger. Rows are
// never updated except for their status; the unique constraints on signature
// and reference_code make Create the exactly-once gate for external events.
type TransactionRepository struct{}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{}
}

const txColumns = `id, user_id, type, status, amount, fee_amount, signature,
		reference_code, reference_id, metadata, occurred_at, processed_at, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Type,
		&t.Status,
		&t.Amount,
		&t.FeeAmount,
		&t.Signature,
		&t.ReferenceCode,
		&t.ReferenceID,
		&t.Metadata,
		&t.OccurredAt,
		&t.ProcessedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create persists an immutable transaction row. A unique violation on
// signature or reference_code surfaces as ErrDuplicateReference, which
// callers treat as "already processed".
func (r *TransactionRepository) Create(ctx context.Context, q Querier, t *model.Transaction) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions (id, user_id, type, status, amount, fee_amount,
			signature, reference_code, reference_id, metadata, occurred_at, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING ` + txColumns

	created, err := scanTransaction(q.QueryRow(ctx, query,
		t.ID, t.UserID, t.Type, t.Status, t.Amount, t.FeeAmount,
		t.Signature, t.ReferenceCode, t.ReferenceID, t.Metadata, t.OccurredAt, t.ProcessedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return created, nil
}

// GetByID retrieves a transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, q Querier, id string) (*model.Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// GetBySignature retrieves a transaction by its on-chain signature.
func (r *TransactionRepository) GetBySignature(ctx context.Context, q Querier, signature string) (*model.Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM transactions WHERE signature = $1`

	t, err := scanTransaction(q.QueryRow(ctx, query, signature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by signature: %w", err)
	}
	return t, nil
}

// LockBySignature retrieves a transaction by signature with a row lock, so a
// concurrent repair of the same partially-applied deposit serializes.
func (r *TransactionRepository) LockBySignature(ctx context.Context, tx pgx.Tx, signature string) (*model.Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM transactions WHERE signature = $1 FOR UPDATE`

	t, err := scanTransaction(tx.QueryRow(ctx, query, signature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to lock transaction by signature: %w", err)
	}
	return t, nil
}

// GetByReferenceCode retrieves a transaction by its off-chain reference code.
func (r *TransactionRepository) GetByReferenceCode(ctx context.Context, q Querier, referenceCode string) (*model.Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM transactions WHERE reference_code = $1`

	t, err := scanTransaction(q.QueryRow(ctx, query, referenceCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by reference code: %w", err)
	}
	return t, nil
}

// UpdateStatus moves a transaction to a new status and stamps processed_at.
// Ledger rows are never deleted; a committed transaction is compensated by
// a 'reversed' status, never removed.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, q Querier, id, status string) (*model.Transaction, error) {
	const query = `
		UPDATE transactions
		SET status = $2, processed_at = NOW()
		WHERE id = $1
		RETURNING ` + txColumns

	t, err := scanTransaction(q.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return t, nil
}

// ListByUser retrieves a user's most recent transactions, newest first.
func (r *TransactionRepository) ListByUser(ctx context.Context, q Querier, userID string, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// SumConfirmedByUser returns the sum of confirmed transaction amounts for a
// user. Used by reconciliation checks against the wallet row.
func (r *TransactionRepository) SumConfirmedByUser(ctx context.Context, q Querier, userID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'confirmed'
	`

	var sum int64
	if err := q.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
