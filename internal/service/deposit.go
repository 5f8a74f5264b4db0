package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-economy/internal/config"
	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/repository"
)

// DepositEvent is one on-chain deposit as reported by the indexer. The
// indexer delivers at least once, so Signature is the dedupe key.
type DepositEvent struct {
	Signature     string    `json:"signature"`
	EventType     string    `json:"event_type"`
	Success       bool      `json:"success"`
	WalletAddress string    `json:"wallet_address"`
	RawAmount     int64     `json:"raw_amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DepositResult is the outcome of processing one deposit event.
type DepositResult struct {
	Processed        bool
	AlreadyProcessed bool
	Amount           int64
	TransactionID    string
	UserID           string
}

// EventTypeDeposit is the only event type the reconciler credits.
const EventTypeDeposit = "DepositEvent"

// DepositService ingests on-chain deposit events. Replays and concurrent
// duplicates of the same signature credit the wallet exactly once.
type DepositService struct {
	pool         *db.Pool
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
	ledger       *LedgerService
	cfg          config.ChainConfig
}

// NewDepositService creates a new DepositService instance.
func NewDepositService(
	pool *db.Pool,
	users *repository.UserRepository,
	transactions *repository.TransactionRepository,
	ledger *LedgerService,
	cfg config.ChainConfig,
) *DepositService {
	return &DepositService{
		pool:         pool,
		users:        users,
		transactions: transactions,
		ledger:       ledger,
		cfg:          cfg,
	}
}

// Process validates and settles one deposit event.
//
// A signature seen before returns AlreadyProcessed without touching any
// balance. A signature whose transaction exists but is still pending (a crash
// between recording and crediting on some earlier delivery) is repaired:
// the credit is applied and the transaction confirmed, still exactly once.
func (s *DepositService) Process(ctx context.Context, event *DepositEvent, providedSecret string) (*DepositResult, error) {
	if s.cfg.WebhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(providedSecret), []byte(s.cfg.WebhookSecret)) != 1 {
		return nil, ErrUnauthorized
	}
	if event.Signature == "" || event.WalletAddress == "" {
		return nil, fmt.Errorf("%w: missing signature or wallet address", ErrInvalidEvent)
	}
	if event.EventType != EventTypeDeposit {
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrInvalidEvent, event.EventType)
	}
	if !event.Success {
		return nil, fmt.Errorf("%w: failed on-chain transaction", ErrInvalidEvent)
	}
	if event.RawAmount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrInvalidEvent)
	}

	existing, err := s.transactions.GetBySignature(ctx, s.pool, event.Signature)
	switch {
	case err == nil:
		if existing.Status == model.TxStatusConfirmed {
			return &DepositResult{
				AlreadyProcessed: true,
				Amount:           existing.Amount,
				TransactionID:    existing.ID,
				UserID:           existing.UserID,
			}, nil
		}
		return s.repair(ctx, event.Signature)
	case errors.Is(err, repository.ErrTransactionNotFound):
		// First sighting, fall through to settle.
	default:
		return nil, err
	}

	amount := rawToMicros(event.RawAmount, s.cfg.TokenDecimals)
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	var result DepositResult
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		user, created, err := s.users.GetOrCreateByWallet(ctx, tx, event.WalletAddress)
		if err != nil {
			return err
		}
		if created {
			log.Info().
				Str("wallet_address", event.WalletAddress).
				Str("user_id", user.ID).
				Msg("User created from first deposit")
		}

		sig := event.Signature
		now := time.Now()
		txn, _, err := s.ledger.Apply(ctx, tx, &model.Transaction{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			Type:        model.TxTypeDeposit,
			Status:      model.TxStatusConfirmed,
			Amount:      amount,
			Signature:   &sig,
			OccurredAt:  occurredAt,
			ProcessedAt: &now,
		})
		if err != nil {
			return err
		}

		result = DepositResult{
			Processed:     true,
			Amount:        amount,
			TransactionID: txn.ID,
			UserID:        user.ID,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			// A concurrent delivery of the same signature committed first.
			return s.resolveExisting(ctx, event.Signature)
		}
		return nil, err
	}

	log.Info().
		Str("signature", event.Signature).
		Str("user_id", result.UserID).
		Int64("amount", amount).
		Msg("Deposit credited")

	return &result, nil
}

// repair finishes a deposit whose transaction row was recorded but whose
// credit never landed. The row lock re-checks status so two repair attempts
// cannot both credit.
func (s *DepositService) repair(ctx context.Context, signature string) (*DepositResult, error) {
	var result DepositResult
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		txn, err := s.transactions.LockBySignature(ctx, tx, signature)
		if err != nil {
			return err
		}
		if txn.Status == model.TxStatusConfirmed {
			result = DepositResult{
				AlreadyProcessed: true,
				Amount:           txn.Amount,
				TransactionID:    txn.ID,
				UserID:           txn.UserID,
			}
			return nil
		}

		if _, err := s.ledger.wallets.GetOrCreate(ctx, tx, txn.UserID); err != nil {
			return err
		}
		if _, err := s.ledger.wallets.LockForUpdate(ctx, tx, txn.UserID); err != nil {
			return err
		}
		if _, err := s.ledger.wallets.ApplyDelta(ctx, tx, txn.UserID, txn.Amount, txn.ID); err != nil {
			return err
		}
		if _, err := s.transactions.UpdateStatus(ctx, tx, txn.ID, model.TxStatusConfirmed); err != nil {
			return err
		}

		result = DepositResult{
			Processed:     true,
			Amount:        txn.Amount,
			TransactionID: txn.ID,
			UserID:        txn.UserID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Processed {
		log.Warn().
			Str("signature", signature).
			Str("transaction_id", result.TransactionID).
			Msg("Repaired half-finished deposit")
	}

	return &result, nil
}

func (s *DepositService) resolveExisting(ctx context.Context, signature string) (*DepositResult, error) {
	txn, err := s.transactions.GetBySignature(ctx, s.pool, signature)
	if err != nil {
		return nil, err
	}
	return &DepositResult{
		AlreadyProcessed: true,
		Amount:           txn.Amount,
		TransactionID:    txn.ID,
		UserID:           txn.UserID,
	}, nil
}

// rawToMicros converts a raw on-chain amount with the given token precision
// into 6-decimal micro-units. Extra precision beyond 6 decimals is truncated
// toward zero, so dust is never credited.
func rawToMicros(raw int64, tokenDecimals int) int64 {
	switch {
	case tokenDecimals == 6:
		return raw
	case tokenDecimals < 6:
		return raw * pow10(6-tokenDecimals)
	default:
		return raw / pow10(tokenDecimals-6)
	}
}

func pow10(n int) int64 {
	result := int64(1)
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}
