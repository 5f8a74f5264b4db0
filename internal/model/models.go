// Package model defines the data models for the arena economy service.
//
// All monetary amounts are int64 micro-units: a fixed-point representation
// with 6 decimal places, so 1_000_000 micros == 1.000000 tokens.
package model

import (
	"fmt"
	"time"
)

// User is a player account. The wallet address is the on-chain identity the
// deposit indexer reports; the referrer is recorded at signup and never
// changes afterwards.
type User struct {
	ID            string     `db:"id"`
	WalletAddress string     `db:"wallet_address"`
	ReferrerID    *string    `db:"referrer_id"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at"`
}

// WalletBalance is the per-user balance row, one per user. AvailableAmount
// never goes negative after a committed mutation; the row itself is the
// serialization boundary for concurrent balance changes.
type WalletBalance struct {
	UserID            string    `db:"user_id"`
	AvailableAmount   int64     `db:"available_amount"`
	LockedAmount      int64     `db:"locked_amount"`
	LastTransactionID *string   `db:"last_transaction_id"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Transaction is an immutable record of a balance-affecting event.
// Signature (on-chain events) and ReferenceCode (off-chain requests) carry
// unique constraints and are the exactly-once mechanism for ingestion.
type Transaction struct {
	ID            string     `db:"id"`
	UserID        string     `db:"user_id"`
	Type          string     `db:"type"`
	Status        string     `db:"status"`
	Amount        int64      `db:"amount"`
	FeeAmount     int64      `db:"fee_amount"`
	Signature     *string    `db:"signature"`
	ReferenceCode *string    `db:"reference_code"`
	ReferenceID   *string    `db:"reference_id"`
	Metadata      []byte     `db:"metadata"`
	OccurredAt    time.Time  `db:"occurred_at"`
	ProcessedAt   *time.Time `db:"processed_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

// Transaction types.
const (
	TxTypeDeposit      = "deposit"       // On-chain deposit credited by the reconciler
	TxTypeWithdraw     = "withdraw"      // User withdrawal request
	TxTypeReward       = "reward"        // Kill reward or referral commission credit
	TxTypePenalty      = "penalty"       // Entry fee or respawn cost debit
	TxTypeSystemAdjust = "system_adjust" // Refunds and administrative corrections
)

// Transaction statuses.
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusReversed  = "reversed"
)

// TicketStatus is the lifecycle state of a VIP ticket.
type TicketStatus string

// Ticket lifecycle states. Consumed, cancelled and expired are terminal.
const (
	TicketIssued    TicketStatus = "issued"
	TicketConsumed  TicketStatus = "consumed"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// ticketTransitions is the full transition table. A status not present as a
// key is terminal.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketIssued: {TicketConsumed, TicketCancelled, TicketExpired},
}

// CanTransitionTo reports whether the transition from s to next is legal.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition out of s exists.
func (s TicketStatus) Terminal() bool {
	return len(ticketTransitions[s]) == 0
}

// VipTicket is a paid admission right for one VIP room entry. It is created
// issued and consumed exactly once when the game server confirms the player
// joined a room instance.
type VipTicket struct {
	ID             string       `db:"id"`
	UserID         string       `db:"user_id"`
	TicketCode     string       `db:"ticket_code"`
	RoomType       string       `db:"room_type"`
	EntryFee       int64        `db:"entry_fee"`
	RoomInstanceID *string      `db:"room_instance_id"`
	Status         TicketStatus `db:"status"`
	ExpiresAt      time.Time    `db:"expires_at"`
	ConsumedAt     *time.Time   `db:"consumed_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

// VipRoomConfig is the per-room-type economy configuration. It is mutated
// only by administration; settlement reads a snapshot and config changes do
// not retroactively affect in-flight settlements.
type VipRoomConfig struct {
	RoomType           string  `db:"room_type"`
	EntryFee           int64   `db:"entry_fee"`
	RewardRatePlayer   float64 `db:"reward_rate_player"`
	RewardRateTreasury float64 `db:"reward_rate_treasury"`
	RespawnCost        int64   `db:"respawn_cost"`
	MaxClients         int     `db:"max_clients"`
	TickRate           int     `db:"tick_rate"`
	IsActive           bool    `db:"is_active"`
}

// ValidateRates checks that the room's economy cannot mint or burn value:
// the entry fee and respawn cost are non-negative, both reward rates are
// non-negative, and their sum does not exceed 1. A player-plus-treasury sum
// below 1 is allowed; the shortfall stays with the treasury.
func (c *VipRoomConfig) ValidateRates() error {
	if c.EntryFee < 0 {
		return fmt.Errorf("room %s: negative entry fee %d", c.RoomType, c.EntryFee)
	}
	if c.RespawnCost < 0 {
		return fmt.Errorf("room %s: negative respawn cost %d", c.RoomType, c.RespawnCost)
	}
	if c.RewardRatePlayer < 0 || c.RewardRateTreasury < 0 {
		return fmt.Errorf("room %s: negative reward rate (player %v, treasury %v)",
			c.RoomType, c.RewardRatePlayer, c.RewardRateTreasury)
	}
	if sum := c.RewardRatePlayer + c.RewardRateTreasury; sum > 1 {
		return fmt.Errorf("room %s: reward rates sum to %v, must not exceed 1", c.RoomType, sum)
	}
	return nil
}

// KillLog records one settled kill. The unique kill reference is supplied by
// the game server and stable across retries; existence of a row is proof the
// kill was already settled.
type KillLog struct {
	ID             string    `db:"id"`
	KillReference  string    `db:"kill_reference"`
	KillerTicketID string    `db:"killer_ticket_id"`
	VictimTicketID string    `db:"victim_ticket_id"`
	RewardAmount   int64     `db:"reward_amount"`
	FeeAmount      int64     `db:"fee_amount"`
	OccurredAt     time.Time `db:"occurred_at"`
	CreatedAt      time.Time `db:"created_at"`
}

// ReferralReward is one commission accrual: one row per (referrer, referee,
// triggering transaction). TransactionID links to the originating ledger
// transaction and, together with the referee, is the dedupe key.
type ReferralReward struct {
	ID            string    `db:"id"`
	ReferrerID    string    `db:"referrer_id"`
	RefereeID     string    `db:"referee_id"`
	RewardType    string    `db:"reward_type"`
	Amount        int64     `db:"amount"`
	Status        string    `db:"status"`
	TransactionID *string   `db:"transaction_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// Referral reward types and statuses.
const (
	ReferralTypeGameCommission = "game_commission"

	ReferralStatusPending   = "pending"
	ReferralStatusConfirmed = "confirmed"
	ReferralStatusFailed    = "failed"
)
