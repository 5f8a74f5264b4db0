// Integration tests for the settlement flows, using testcontainers-go to
// spin up a PostgreSQL container per test.
package service

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"arena-economy/internal/config"
	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/pkg/lock"
	"arena-economy/internal/repository"
)

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// testEnv bundles the fully wired service stack against a disposable
// database.
type testEnv struct {
	pool      *db.Pool
	users     *repository.UserRepository
	wallets   *repository.WalletRepository
	tickets   *repository.TicketRepository
	rooms     *repository.RoomConfigRepository
	ledger    *LedgerService
	deposits  *DepositService
	ticketSvc *TicketService
	rewards   *RewardService
	referrals *ReferralService
}

type envOptions struct {
	chain     config.ChainConfig
	referral  config.ReferralConfig
	ticketTTL time.Duration
}

func defaultEnvOptions() envOptions {
	return envOptions{
		chain: config.ChainConfig{TokenDecimals: 6, WebhookSecret: "hook-secret"},
		referral: config.ReferralConfig{
			KillCommissionRate:  0.05,
			DeathCommissionRate: 0.02,
			CommissionCap:       100_000_000,
		},
		ticketTTL: 24 * time.Hour,
	}
}

func setupEnv(t *testing.T, opts envOptions) (*testEnv, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewPoolFromDSN(ctx, connStr, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, pool))

	users := repository.NewUserRepository()
	wallets := repository.NewWalletRepository()
	transactions := repository.NewTransactionRepository()
	tickets := repository.NewTicketRepository()
	rooms := repository.NewRoomConfigRepository()
	killLogs := repository.NewKillLogRepository()
	referralRows := repository.NewReferralRewardRepository()

	require.NoError(t, rooms.Upsert(ctx, pool, &model.VipRoomConfig{
		RoomType:           "vip_bronze",
		EntryFee:           1_000_000,
		RewardRatePlayer:   0.9,
		RewardRateTreasury: 0.1,
		RespawnCost:        200_000,
		MaxClients:         8,
		TickRate:           30,
		IsActive:           true,
	}))

	locks := lock.NewUserLock()
	ledger := NewLedgerService(pool, users, wallets, transactions)
	deposits := NewDepositService(pool, users, transactions, ledger, opts.chain)
	referrals := NewReferralService(pool, users, wallets, referralRows, ledger, opts.referral)
	ticketSvc := NewTicketService(pool, wallets, tickets, rooms, ledger, locks, config.TicketConfig{TTL: opts.ticketTTL})
	rewards := NewRewardService(pool, tickets, rooms, transactions, killLogs, ledger, referrals, locks)

	env := &testEnv{
		pool:      pool,
		users:     users,
		wallets:   wallets,
		tickets:   tickets,
		rooms:     rooms,
		ledger:    ledger,
		deposits:  deposits,
		ticketSvc: ticketSvc,
		rewards:   rewards,
		referrals: referrals,
	}
	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return env, cleanup
}

// depositFor credits a wallet address and returns the resulting user ID.
func (e *testEnv) depositFor(t *testing.T, walletAddress, signature string, rawAmount int64) string {
	t.Helper()
	result, err := e.deposits.Process(context.Background(), &DepositEvent{
		Signature:     signature,
		EventType:     EventTypeDeposit,
		Success:       true,
		WalletAddress: walletAddress,
		RawAmount:     rawAmount,
		OccurredAt:    time.Now(),
	}, "hook-secret")
	require.NoError(t, err)
	require.True(t, result.Processed)
	return result.UserID
}

func (e *testEnv) available(t *testing.T, userID string) int64 {
	t.Helper()
	wallet, err := e.wallets.Get(context.Background(), e.pool, userID)
	require.NoError(t, err)
	return wallet.AvailableAmount
}

// consumedTicketFor funds a user, purchases a ticket and consumes it in the
// given room instance.
func (e *testEnv) consumedTicketFor(t *testing.T, walletAddress, signature, roomInstanceID string) (userID, ticketID string) {
	t.Helper()
	ctx := context.Background()
	userID = e.depositFor(t, walletAddress, signature, 2_000_000)

	purchase, err := e.ticketSvc.Purchase(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	ticket, err := e.ticketSvc.Consume(ctx, purchase.Ticket.ID, roomInstanceID)
	require.NoError(t, err)
	return userID, ticket.ID
}

// ============================================================================
// Deposit reconciliation
// ============================================================================

func TestDepositService_ExactlyOnce(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	event := &DepositEvent{
		Signature:     "SIG1",
		EventType:     EventTypeDeposit,
		Success:       true,
		WalletAddress: "wallet-abc",
		RawAmount:     5_000_000,
		OccurredAt:    time.Now(),
	}

	first, err := env.deposits.Process(ctx, event, "hook-secret")
	require.NoError(t, err)
	assert.True(t, first.Processed)
	assert.Equal(t, int64(5_000_000), first.Amount)
	assert.Equal(t, int64(5_000_000), env.available(t, first.UserID))

	// Replay: same signature, nothing changes.
	replay, err := env.deposits.Process(ctx, event, "hook-secret")
	require.NoError(t, err)
	assert.False(t, replay.Processed)
	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, first.TransactionID, replay.TransactionID)
	assert.Equal(t, int64(5_000_000), env.available(t, first.UserID))
}

func TestDepositService_TokenDecimalConversion(t *testing.T) {
	opts := defaultEnvOptions()
	opts.chain.TokenDecimals = 9
	env, cleanup := setupEnv(t, opts)
	defer cleanup()

	// 5.000000999 tokens in raw nano-units: dust below micro precision is
	// truncated, never credited.
	result, err := env.deposits.Process(context.Background(), &DepositEvent{
		Signature:     "SIG1",
		EventType:     EventTypeDeposit,
		Success:       true,
		WalletAddress: "wallet-abc",
		RawAmount:     5_000_000_999,
		OccurredAt:    time.Now(),
	}, "hook-secret")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), result.Amount)
	assert.Equal(t, int64(5_000_000), env.available(t, result.UserID))
}

func TestDepositService_RejectsBadEvents(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	valid := func() *DepositEvent {
		return &DepositEvent{
			Signature:     "SIG1",
			EventType:     EventTypeDeposit,
			Success:       true,
			WalletAddress: "wallet-abc",
			RawAmount:     1_000_000,
		}
	}

	_, err := env.deposits.Process(ctx, valid(), "wrong-secret")
	assert.ErrorIs(t, err, ErrUnauthorized)

	event := valid()
	event.Success = false
	_, err = env.deposits.Process(ctx, event, "hook-secret")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	event = valid()
	event.EventType = "WithdrawEvent"
	_, err = env.deposits.Process(ctx, event, "hook-secret")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	event = valid()
	event.Signature = ""
	_, err = env.deposits.Process(ctx, event, "hook-secret")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	event = valid()
	event.RawAmount = 0
	_, err = env.deposits.Process(ctx, event, "hook-secret")
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

// ============================================================================
// Ticket lifecycle
// ============================================================================

func TestTicketService_PurchaseAndConsume(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 5_000_000)

	access, err := env.ticketSvc.CheckAccess(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	assert.True(t, access.CanJoin)
	assert.Nil(t, access.Ticket)

	purchase, err := env.ticketSvc.Purchase(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	assert.False(t, purchase.AlreadyIssued)
	assert.Equal(t, model.TicketIssued, purchase.Ticket.Status)
	assert.Equal(t, int64(4_000_000), purchase.Balance.AvailableAmount)

	// Second purchase returns the held ticket without charging again.
	again, err := env.ticketSvc.Purchase(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	assert.True(t, again.AlreadyIssued)
	assert.Equal(t, purchase.Ticket.ID, again.Ticket.ID)
	assert.Equal(t, int64(4_000_000), again.Balance.AvailableAmount)

	validation, err := env.ticketSvc.Validate(ctx, purchase.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000), validation.Credit)
	assert.Equal(t, int64(1_000_000), validation.Config.EntryFee)

	consumed, err := env.ticketSvc.Consume(ctx, purchase.Ticket.ID, "room-1")
	require.NoError(t, err)
	assert.Equal(t, model.TicketConsumed, consumed.Status)

	// Replay for the same room instance is idempotent.
	replay, err := env.ticketSvc.Consume(ctx, purchase.Ticket.ID, "room-1")
	require.NoError(t, err)
	assert.Equal(t, consumed.ID, replay.ID)

	// A different room instance is rejected.
	_, err = env.ticketSvc.Consume(ctx, purchase.Ticket.ID, "room-2")
	assert.ErrorIs(t, err, ErrTicketConsumed)

	// Validation of a consumed ticket fails.
	_, err = env.ticketSvc.Validate(ctx, purchase.Ticket.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTicketService_InsufficientFunds(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 500_000)

	access, err := env.ticketSvc.CheckAccess(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	assert.False(t, access.CanJoin)
	assert.NotEmpty(t, access.Reason)

	_, err = env.ticketSvc.Purchase(ctx, userID, "vip_bronze")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(500_000), env.available(t, userID))
}

func TestTicketService_CancelRefunds(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 2_000_000)

	purchase, err := env.ticketSvc.Purchase(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), env.available(t, userID))

	cancelled, err := env.ticketSvc.Cancel(ctx, userID, purchase.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketCancelled, cancelled.Status)
	assert.Equal(t, int64(2_000_000), env.available(t, userID))

	// Cancelling again is rejected, and the refund is not repeated.
	_, err = env.ticketSvc.Cancel(ctx, userID, purchase.Ticket.ID)
	assert.ErrorIs(t, err, ErrTicketCancelled)
	assert.Equal(t, int64(2_000_000), env.available(t, userID))

	// Other users cannot cancel someone else's ticket.
	otherID := env.depositFor(t, "wallet-other", "SIG2", 2_000_000)
	other, err := env.ticketSvc.Purchase(ctx, otherID, "vip_bronze")
	require.NoError(t, err)
	_, err = env.ticketSvc.Cancel(ctx, userID, other.Ticket.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTicketService_ExpireOverdue(t *testing.T) {
	opts := defaultEnvOptions()
	opts.ticketTTL = time.Millisecond
	env, cleanup := setupEnv(t, opts)
	defer cleanup()
	ctx := context.Background()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 2_000_000)

	purchase, err := env.ticketSvc.Purchase(ctx, userID, "vip_bronze")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), env.available(t, userID))

	time.Sleep(10 * time.Millisecond)

	expired, err := env.ticketSvc.ExpireOverdue(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	ticket, err := env.tickets.GetByID(ctx, env.pool, purchase.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketExpired, ticket.Status)
	assert.Equal(t, int64(2_000_000), env.available(t, userID))

	// Sweeping again finds nothing.
	expired, err = env.ticketSvc.ExpireOverdue(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

// ============================================================================
// Kill settlement
// ============================================================================

func TestRewardService_KillExactlyOnce(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	killerID, killerTicket := env.consumedTicketFor(t, "wallet-killer", "SIG1", "room-1")
	victimID, victimTicket := env.consumedTicketFor(t, "wallet-victim", "SIG2", "room-1")

	killerBefore := env.available(t, killerID)
	victimBefore := env.available(t, victimID)

	event := &KillEvent{
		KillReference:  "k-42",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket,
		RoomInstanceID: "room-1",
		OccurredAt:     time.Now(),
	}

	result, err := env.rewards.ProcessKill(ctx, event)
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	// Entry fee 1.000000 at 90% player share.
	assert.Equal(t, int64(900_000), result.RewardAmount)
	assert.Equal(t, int64(100_000), result.FeeAmount)
	assert.Equal(t, killerBefore+900_000, env.available(t, killerID))

	// The victim's balance is untouched; the entry fee already left at
	// purchase time.
	assert.Equal(t, victimBefore, env.available(t, victimID))

	// Replay settles nothing further.
	replay, err := env.rewards.ProcessKill(ctx, event)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, result.KillLogID, replay.KillLogID)
	assert.Equal(t, killerBefore+900_000, env.available(t, killerID))
}

func TestRewardService_KillValidation(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	_, killerTicket := env.consumedTicketFor(t, "wallet-killer", "SIG1", "room-1")
	victimID := env.depositFor(t, "wallet-victim", "SIG2", 2_000_000)

	// Victim's ticket still issued, not consumed.
	purchase, err := env.ticketSvc.Purchase(ctx, victimID, "vip_bronze")
	require.NoError(t, err)

	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-1",
		KillerTicketID: killerTicket,
		VictimTicketID: purchase.Ticket.ID,
		RoomInstanceID: "room-1",
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	// Mismatched room instance.
	_, victimTicket := env.consumedTicketFor(t, "wallet-third", "SIG3", "room-2")
	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-2",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket,
		RoomInstanceID: "room-1",
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	// Unknown ticket.
	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-3",
		KillerTicketID: killerTicket,
		VictimTicketID: "00000000-0000-0000-0000-000000000000",
		RoomInstanceID: "room-1",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	// Self-kill.
	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-4",
		KillerTicketID: killerTicket,
		VictimTicketID: killerTicket,
		RoomInstanceID: "room-1",
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRewardService_Respawn(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userID, ticketID := env.consumedTicketFor(t, "wallet-abc", "SIG1", "room-1")
	before := env.available(t, userID)

	result, err := env.rewards.ProcessRespawn(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000), result.Cost)
	assert.Equal(t, before-200_000, env.available(t, userID))

	// Drain the balance, then respawn is denied.
	for env.available(t, userID) >= 200_000 {
		_, err = env.rewards.ProcessRespawn(ctx, ticketID)
		require.NoError(t, err)
	}
	_, err = env.rewards.ProcessRespawn(ctx, ticketID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

// ============================================================================
// Referral commission
// ============================================================================

func TestReferralService_CommissionOnKill(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	// Referrer signs up first; killer and victim are both their referees.
	referrer, err := env.users.Create(ctx, env.pool, "wallet-referrer", nil)
	require.NoError(t, err)
	_, err = env.users.Create(ctx, env.pool, "wallet-killer", &referrer.ID)
	require.NoError(t, err)
	_, err = env.users.Create(ctx, env.pool, "wallet-victim", &referrer.ID)
	require.NoError(t, err)

	_, killerTicket := env.consumedTicketFor(t, "wallet-killer", "SIG1", "room-1")
	_, victimTicket := env.consumedTicketFor(t, "wallet-victim", "SIG2", "room-1")

	event := &KillEvent{
		KillReference:  "k-42",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket,
		RoomInstanceID: "room-1",
	}
	_, err = env.rewards.ProcessKill(ctx, event)
	require.NoError(t, err)

	// Killer side: 5% of the 900000 reward. Victim side: 2% of the
	// 1000000 entry fee.
	assert.Equal(t, int64(45_000+20_000), env.available(t, referrer.ID))

	rewards, err := env.referrals.ListForReferrer(ctx, referrer.ID, 10)
	require.NoError(t, err)
	assert.Len(t, rewards, 2)

	// A replayed kill accrues nothing more.
	_, err = env.rewards.ProcessKill(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, int64(65_000), env.available(t, referrer.ID))
}

func TestReferralService_CapTrimsCommission(t *testing.T) {
	opts := defaultEnvOptions()
	opts.referral.CommissionCap = 50_000
	env, cleanup := setupEnv(t, opts)
	defer cleanup()
	ctx := context.Background()

	referrer, err := env.users.Create(ctx, env.pool, "wallet-referrer", nil)
	require.NoError(t, err)
	_, err = env.users.Create(ctx, env.pool, "wallet-killer", &referrer.ID)
	require.NoError(t, err)

	_, killerTicket := env.consumedTicketFor(t, "wallet-killer", "SIG1", "room-1")
	_, victimTicket := env.consumedTicketFor(t, "wallet-victim", "SIG2", "room-1")

	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-1",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket,
		RoomInstanceID: "room-1",
	})
	require.NoError(t, err)
	// Raw commission 45000, within the 50000 cap.
	assert.Equal(t, int64(45_000), env.available(t, referrer.ID))

	// A second kill would accrue 45000 more but only 5000 remains under
	// the cap.
	_, victimTicket2 := env.consumedTicketFor(t, "wallet-victim2", "SIG3", "room-1")
	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-2",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket2,
		RoomInstanceID: "room-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), env.available(t, referrer.ID))

	// Cap exhausted: a third kill accrues nothing.
	_, victimTicket3 := env.consumedTicketFor(t, "wallet-victim3", "SIG4", "room-1")
	_, err = env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-3",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket3,
		RoomInstanceID: "room-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), env.available(t, referrer.ID))
}

// ============================================================================
// Withdrawals
// ============================================================================

func TestLedgerService_WithdrawalLifecycle(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 5_000_000)

	result, err := env.ledger.RequestWithdrawal(ctx, userID, 2_000_000, "wd-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, int64(3_000_000), result.Balance.AvailableAmount)
	assert.Equal(t, int64(2_000_000), result.Balance.LockedAmount)

	// Replay with the same reference code does not debit again.
	replay, err := env.ledger.RequestWithdrawal(ctx, userID, 2_000_000, "wd-1")
	require.NoError(t, err)
	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, result.Transaction.ID, replay.Transaction.ID)
	assert.Equal(t, int64(3_000_000), replay.Balance.AvailableAmount)

	// Confirm burns the locked funds.
	confirmed, err := env.ledger.ConfirmWithdrawal(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, confirmed.Status)

	wallet, err := env.wallets.Get(ctx, env.pool, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000), wallet.AvailableAmount)
	assert.Equal(t, int64(0), wallet.LockedAmount)

	// Settling twice is a no-op.
	again, err := env.ledger.ConfirmWithdrawal(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusConfirmed, again.Status)
}

func TestLedgerService_FailedWithdrawalReturnsFunds(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 5_000_000)

	result, err := env.ledger.RequestWithdrawal(ctx, userID, 2_000_000, "wd-1")
	require.NoError(t, err)

	failed, err := env.ledger.FailWithdrawal(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusFailed, failed.Status)

	wallet, err := env.wallets.Get(ctx, env.pool, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), wallet.AvailableAmount)
	assert.Equal(t, int64(0), wallet.LockedAmount)
}

func TestLedgerService_WithdrawalReferenceScopedToUser(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	userA := env.depositFor(t, "wallet-a", "SIG1", 5_000_000)
	userB := env.depositFor(t, "wallet-b", "SIG2", 5_000_000)

	result, err := env.ledger.RequestWithdrawal(ctx, userA, 2_000_000, "wd-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)

	// Another user submitting the same reference code must not see user A's
	// transaction or a false already-processed signal.
	_, err = env.ledger.RequestWithdrawal(ctx, userB, 2_000_000, "wd-1")
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Equal(t, int64(5_000_000), env.available(t, userB))

	// The owner's replay still resolves.
	replay, err := env.ledger.RequestWithdrawal(ctx, userA, 2_000_000, "wd-1")
	require.NoError(t, err)
	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, result.Transaction.ID, replay.Transaction.ID)
}

// TestLedgerReconciliation: after an arbitrary mix of settled flows, each
// user's available balance equals the sum of their confirmed transaction
// amounts.
func TestLedgerReconciliation(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()
	ctx := context.Background()

	killerID, killerTicket := env.consumedTicketFor(t, "wallet-killer", "SIG1", "room-1")
	victimID, victimTicket := env.consumedTicketFor(t, "wallet-victim", "SIG2", "room-1")

	_, err := env.rewards.ProcessKill(ctx, &KillEvent{
		KillReference:  "k-1",
		KillerTicketID: killerTicket,
		VictimTicketID: victimTicket,
		RoomInstanceID: "room-1",
	})
	require.NoError(t, err)
	_, err = env.rewards.ProcessRespawn(ctx, victimTicket)
	require.NoError(t, err)

	// A purchased-then-cancelled ticket: debit and refund must both appear.
	purchase, err := env.ticketSvc.Purchase(ctx, victimID, "vip_bronze")
	require.NoError(t, err)
	_, err = env.ticketSvc.Cancel(ctx, victimID, purchase.Ticket.ID)
	require.NoError(t, err)

	txRepo := repository.NewTransactionRepository()
	for _, userID := range []string{killerID, victimID} {
		sum, err := txRepo.SumConfirmedByUser(ctx, env.pool, userID)
		require.NoError(t, err)
		assert.Equal(t, sum, env.available(t, userID),
			"available balance must equal sum of confirmed transactions for %s", userID)
	}
}

func TestLedgerService_WithdrawalInsufficientFunds(t *testing.T) {
	env, cleanup := setupEnv(t, defaultEnvOptions())
	defer cleanup()

	userID := env.depositFor(t, "wallet-abc", "SIG1", 1_000_000)

	_, err := env.ledger.RequestWithdrawal(context.Background(), userID, 2_000_000, "wd-1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(1_000_000), env.available(t, userID))
}
