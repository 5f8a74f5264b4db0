package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicketStatusTransitions(t *testing.T) {
	// Issued can move to every terminal state.
	assert.True(t, TicketIssued.CanTransitionTo(TicketConsumed))
	assert.True(t, TicketIssued.CanTransitionTo(TicketCancelled))
	assert.True(t, TicketIssued.CanTransitionTo(TicketExpired))

	// Terminal states allow nothing, including moves between each other.
	for _, terminal := range []TicketStatus{TicketConsumed, TicketCancelled, TicketExpired} {
		for _, next := range []TicketStatus{TicketIssued, TicketConsumed, TicketCancelled, TicketExpired} {
			assert.False(t, terminal.CanTransitionTo(next),
				"terminal state %s must not transition to %s", terminal, next)
		}
	}

	// No state transitions to itself.
	assert.False(t, TicketIssued.CanTransitionTo(TicketIssued))
}

func TestTicketStatusTerminal(t *testing.T) {
	assert.False(t, TicketIssued.Terminal())
	assert.True(t, TicketConsumed.Terminal())
	assert.True(t, TicketCancelled.Terminal())
	assert.True(t, TicketExpired.Terminal())
}

func TestVipRoomConfigValidateRates(t *testing.T) {
	valid := func() VipRoomConfig {
		return VipRoomConfig{
			RoomType:           "vip_bronze",
			EntryFee:           1_000_000,
			RewardRatePlayer:   0.9,
			RewardRateTreasury: 0.1,
			RespawnCost:        200_000,
		}
	}

	cfg := valid()
	assert.NoError(t, cfg.ValidateRates())

	// Rates summing below 1 leave the shortfall with the treasury.
	cfg = valid()
	cfg.RewardRateTreasury = 0.05
	assert.NoError(t, cfg.ValidateRates())

	cfg = valid()
	cfg.RewardRateTreasury = 0.2
	assert.Error(t, cfg.ValidateRates(), "rates summing above 1 would mint value")

	cfg = valid()
	cfg.RewardRatePlayer = -0.1
	assert.Error(t, cfg.ValidateRates())

	cfg = valid()
	cfg.RewardRateTreasury = -0.1
	assert.Error(t, cfg.ValidateRates())

	cfg = valid()
	cfg.EntryFee = -1
	assert.Error(t, cfg.ValidateRates())

	cfg = valid()
	cfg.RespawnCost = -1
	assert.Error(t, cfg.ValidateRates())
}
