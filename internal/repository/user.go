package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for user operations.
var (
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository handles user account persistence.
type UserRepository struct{}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

const userColumns = `id, wallet_address, referrer_id, created_at, updated_at, deleted_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.WalletAddress,
		&u.ReferrerID,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a new user for the given wallet address. The referrer, if
// any, is fixed at creation and never updated afterwards.
func (r *UserRepository) Create(ctx context.Context, q Querier, walletAddress string, referrerID *string) (*model.User, error) {
	const query = `
		INSERT INTO users (id, wallet_address, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRow(ctx, query, uuid.NewString(), walletAddress, referrerID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID. Returns ErrUserNotFound if absent or
// soft-deleted.
func (r *UserRepository) GetByID(ctx context.Context, q Querier, id string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	user, err := scanUser(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByWalletAddress retrieves a user by on-chain wallet address.
func (r *UserRepository) GetByWalletAddress(ctx context.Context, q Querier, walletAddress string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE wallet_address = $1 AND deleted_at IS NULL`

	user, err := scanUser(q.QueryRow(ctx, query, walletAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by wallet: %w", err)
	}
	return user, nil
}

// GetOrCreateByWallet retrieves a user by wallet address, creating one if it
// doesn't exist. The unique constraint on wallet_address resolves the
// concurrent-create race: the loser of the insert re-reads the winner's row.
func (r *UserRepository) GetOrCreateByWallet(ctx context.Context, q Querier, walletAddress string) (*model.User, bool, error) {
	user, err := r.GetByWalletAddress(ctx, q, walletAddress)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, q, walletAddress, nil)
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			user, err = r.GetByWalletAddress(ctx, q, walletAddress)
			if err != nil {
				return nil, false, err
			}
			return user, false, nil
		}
		return nil, false, err
	}

	return user, true, nil
}
