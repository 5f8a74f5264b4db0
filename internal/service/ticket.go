package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-economy/internal/config"
	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/pkg/lock"
	"arena-economy/internal/repository"
)

// AccessResult answers "can this user join this room right now".
type AccessResult struct {
	CanJoin bool
	Reason  string
	Credit  int64
	Ticket  *model.VipTicket
	Config  *model.VipRoomConfig
}

// PurchaseResult is the outcome of a ticket purchase.
type PurchaseResult struct {
	Ticket        *model.VipTicket
	Balance       *model.WalletBalance
	AlreadyIssued bool
}

// ValidationResult is the game server's view of a ticket it is about to admit.
type ValidationResult struct {
	Ticket *model.VipTicket
	Config *model.VipRoomConfig
	Credit int64
}

// TicketService owns the VIP ticket lifecycle: purchase debits the entry fee
// and issues, consume binds the ticket to a room instance exactly once,
// cancel and expiry refund the entry fee. At most one issued ticket per
// (user, room type) exists at any time.
type TicketService struct {
	pool    *db.Pool
	wallets *repository.WalletRepository
	tickets *repository.TicketRepository
	rooms   *repository.RoomConfigRepository
	ledger  *LedgerService
	locks   *lock.UserLock
	ttl     time.Duration
}

// NewTicketService creates a new TicketService instance.
func NewTicketService(
	pool *db.Pool,
	wallets *repository.WalletRepository,
	tickets *repository.TicketRepository,
	rooms *repository.RoomConfigRepository,
	ledger *LedgerService,
	locks *lock.UserLock,
	cfg config.TicketConfig,
) *TicketService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TicketService{
		pool:    pool,
		wallets: wallets,
		tickets: tickets,
		rooms:   rooms,
		ledger:  ledger,
		locks:   locks,
		ttl:     ttl,
	}
}

// CheckAccess reports whether the user can join the room: either they
// already hold an issued ticket, or their balance covers the entry fee.
// It never mutates anything.
func (s *TicketService) CheckAccess(ctx context.Context, userID, roomType string) (*AccessResult, error) {
	ctx, cancel := s.pool.QueryContext(ctx)
	defer cancel()

	cfg, err := s.rooms.GetActive(ctx, s.pool, roomType)
	if err != nil {
		if errors.Is(err, repository.ErrRoomConfigNotFound) {
			return &AccessResult{CanJoin: false, Reason: "room is unknown or inactive"}, nil
		}
		return nil, err
	}

	wallet, err := s.wallets.GetOrCreate(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	result := &AccessResult{Credit: wallet.AvailableAmount, Config: cfg}

	ticket, err := s.tickets.FindIssuedByUserAndRoom(ctx, s.pool, userID, roomType)
	switch {
	case err == nil:
		if time.Now().Before(ticket.ExpiresAt) {
			result.CanJoin = true
			result.Ticket = ticket
			return result, nil
		}
		// Overdue but not yet swept; treat as absent.
	case errors.Is(err, repository.ErrTicketNotFound):
	default:
		return nil, err
	}

	if wallet.AvailableAmount >= cfg.EntryFee {
		result.CanJoin = true
	} else {
		result.Reason = "insufficient credit for entry fee"
	}
	return result, nil
}

// Purchase debits the entry fee and issues a ticket in one transaction. A
// user who already holds an issued ticket for the room gets it back with
// AlreadyIssued set and is not charged again.
func (s *TicketService) Purchase(ctx context.Context, userID, roomType string) (*PurchaseResult, error) {
	cfg, err := s.rooms.GetActive(ctx, s.pool, roomType)
	if err != nil {
		if errors.Is(err, repository.ErrRoomConfigNotFound) {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomType)
		}
		return nil, err
	}

	if !s.locks.LockWithTimeout(ctx, userID, lockWaitTimeout) {
		return nil, lock.ErrLockTimeout
	}
	defer s.locks.Unlock(userID)

	var result PurchaseResult
	err = s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := s.tickets.FindIssuedByUserAndRoom(ctx, tx, userID, roomType)
		if err == nil && time.Now().Before(existing.ExpiresAt) {
			wallet, werr := s.wallets.GetOrCreate(ctx, tx, userID)
			if werr != nil {
				return werr
			}
			result = PurchaseResult{Ticket: existing, Balance: wallet, AlreadyIssued: true}
			return nil
		}
		if err != nil && !errors.Is(err, repository.ErrTicketNotFound) {
			return err
		}

		ticketID := uuid.NewString()
		refCode := "ticket:" + ticketID
		now := time.Now()
		_, wallet, err := s.ledger.Apply(ctx, tx, &model.Transaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          model.TxTypePenalty,
			Status:        model.TxStatusConfirmed,
			Amount:        -cfg.EntryFee,
			ReferenceCode: &refCode,
			ReferenceID:   &ticketID,
			OccurredAt:    now,
			ProcessedAt:   &now,
		})
		if err != nil {
			return err
		}

		ticket, err := s.tickets.Create(ctx, tx, &model.VipTicket{
			ID:         ticketID,
			UserID:     userID,
			TicketCode: newTicketCode(),
			RoomType:   roomType,
			EntryFee:   cfg.EntryFee,
			Status:     model.TicketIssued,
			ExpiresAt:  now.Add(s.ttl),
		})
		if err != nil {
			return err
		}

		result = PurchaseResult{Ticket: ticket, Balance: wallet}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) || errors.Is(err, ErrInsufficientFunds) {
			return nil, ErrInsufficientFunds
		}
		if errors.Is(err, repository.ErrDuplicateReference) {
			// Concurrent purchase won; the whole debit rolled back with us.
			existing, gerr := s.tickets.FindIssuedByUserAndRoom(ctx, s.pool, userID, roomType)
			if gerr != nil {
				return nil, gerr
			}
			wallet, werr := s.wallets.GetOrCreate(ctx, s.pool, userID)
			if werr != nil {
				return nil, werr
			}
			return &PurchaseResult{Ticket: existing, Balance: wallet, AlreadyIssued: true}, nil
		}
		return nil, err
	}

	if !result.AlreadyIssued {
		log.Info().
			Str("user_id", userID).
			Str("room_type", roomType).
			Str("ticket_id", result.Ticket.ID).
			Int64("entry_fee", cfg.EntryFee).
			Msg("Ticket issued")
	}

	return &result, nil
}

// Validate checks a ticket the game server is about to admit. Only an
// issued, unexpired ticket passes; anything else returns the state-specific
// rejection so the server can tell the player why.
func (s *TicketService) Validate(ctx context.Context, ticketID string) (*ValidationResult, error) {
	ctx, cancel := s.pool.QueryContext(ctx)
	defer cancel()

	ticket, err := s.tickets.GetByID(ctx, s.pool, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, fmt.Errorf("%w: ticket %s", ErrNotFound, ticketID)
		}
		return nil, err
	}
	if err := rejectForState(ticket); err != nil {
		return nil, err
	}

	cfg, err := s.rooms.GetActive(ctx, s.pool, ticket.RoomType)
	if err != nil {
		if errors.Is(err, repository.ErrRoomConfigNotFound) {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, ticket.RoomType)
		}
		return nil, err
	}

	wallet, err := s.wallets.GetOrCreate(ctx, s.pool, ticket.UserID)
	if err != nil {
		return nil, err
	}

	return &ValidationResult{Ticket: ticket, Config: cfg, Credit: wallet.AvailableAmount}, nil
}

// Consume marks a ticket consumed in the given room instance. Replaying the
// consume for the same room instance returns the ticket unchanged; consuming
// for a different instance, or consuming a cancelled or expired ticket, is
// rejected.
func (s *TicketService) Consume(ctx context.Context, ticketID, roomInstanceID string) (*model.VipTicket, error) {
	if roomInstanceID == "" {
		return nil, fmt.Errorf("%w: missing room instance", ErrInvalidEvent)
	}

	var consumed *model.VipTicket
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ticket, err := s.tickets.LockByID(ctx, tx, ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				return fmt.Errorf("%w: ticket %s", ErrNotFound, ticketID)
			}
			return err
		}

		if ticket.Status == model.TicketConsumed {
			if ticket.RoomInstanceID != nil && *ticket.RoomInstanceID == roomInstanceID {
				consumed = ticket
				return nil
			}
			return ErrTicketConsumed
		}
		if err := rejectForState(ticket); err != nil {
			return err
		}

		consumed, err = s.tickets.Consume(ctx, tx, ticket.ID, roomInstanceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("ticket_id", consumed.ID).
		Str("user_id", consumed.UserID).
		Str("room_instance_id", roomInstanceID).
		Msg("Ticket consumed")

	return consumed, nil
}

// Cancel voids the caller's own issued ticket and refunds the entry fee. A
// ticket that was already consumed, cancelled or expired is rejected.
func (s *TicketService) Cancel(ctx context.Context, userID, ticketID string) (*model.VipTicket, error) {
	if !s.locks.LockWithTimeout(ctx, userID, lockWaitTimeout) {
		return nil, lock.ErrLockTimeout
	}
	defer s.locks.Unlock(userID)

	var cancelled *model.VipTicket
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ticket, err := s.tickets.LockByID(ctx, tx, ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrTicketNotFound) {
				return fmt.Errorf("%w: ticket %s", ErrNotFound, ticketID)
			}
			return err
		}
		if ticket.UserID != userID {
			// Do not reveal other users' tickets.
			return fmt.Errorf("%w: ticket %s", ErrNotFound, ticketID)
		}
		if err := rejectForState(ticket); err != nil {
			return err
		}

		cancelled, err = s.tickets.Terminate(ctx, tx, ticket.ID, model.TicketCancelled)
		if err != nil {
			return err
		}
		return s.refund(ctx, tx, cancelled, "cancel")
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("ticket_id", cancelled.ID).
		Str("user_id", userID).
		Int64("refund", cancelled.EntryFee).
		Msg("Ticket cancelled")

	return cancelled, nil
}

// ExpireOverdue sweeps issued tickets past their expiry: each one moves to
// expired and its entry fee is refunded, one short transaction per ticket so
// a backlog cannot hold locks for long. Returns the number expired.
func (s *TicketService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	listCtx, cancel := s.pool.QueryContext(ctx)
	overdue, err := s.tickets.ListOverdue(listCtx, s.pool, now, limit)
	cancel()
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range overdue {
		err := s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			ticket, err := s.tickets.LockByID(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if ticket.Status != model.TicketIssued || now.Before(ticket.ExpiresAt) {
				// Consumed or already swept since listing.
				return nil
			}
			t, err := s.tickets.Terminate(ctx, tx, ticket.ID, model.TicketExpired)
			if err != nil {
				return err
			}
			if err := s.refund(ctx, tx, t, "expire"); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			log.Error().Err(err).
				Str("ticket_id", candidate.ID).
				Msg("Ticket expiry failed")
		}
	}

	if expired > 0 {
		log.Info().Int("count", expired).Msg("Expired overdue tickets")
	}
	return expired, nil
}

// refund returns a terminated ticket's entry fee to its owner inside the
// caller's transaction.
func (s *TicketService) refund(ctx context.Context, tx pgx.Tx, ticket *model.VipTicket, cause string) error {
	refCode := fmt.Sprintf("refund:%s:%s", cause, ticket.ID)
	now := time.Now()
	_, _, err := s.ledger.Apply(ctx, tx, &model.Transaction{
		ID:            uuid.NewString(),
		UserID:        ticket.UserID,
		Type:          model.TxTypeSystemAdjust,
		Status:        model.TxStatusConfirmed,
		Amount:        ticket.EntryFee,
		ReferenceCode: &refCode,
		ReferenceID:   &ticket.ID,
		OccurredAt:    now,
		ProcessedAt:   &now,
	})
	return err
}

// rejectForState maps a non-issued or overdue ticket to its rejection error.
// Issued, unexpired tickets pass.
func rejectForState(ticket *model.VipTicket) error {
	switch ticket.Status {
	case model.TicketConsumed:
		return ErrTicketConsumed
	case model.TicketCancelled:
		return ErrTicketCancelled
	case model.TicketExpired:
		return ErrTicketExpired
	}
	if !time.Now().Before(ticket.ExpiresAt) {
		return ErrTicketExpired
	}
	return nil
}

// newTicketCode generates a human-readable ticket code.
func newTicketCode() string {
	return "VIP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
