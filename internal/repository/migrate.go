package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrations is the ordered schema definition. Unique constraints on
// signature, reference_code, ticket_code and kill_reference are the
// idempotency backbone for externally-reported events; the CHECK on
// available_amount is the last line of defense for the non-negative
// balance invariant.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "users",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				wallet_address VARCHAR(64) NOT NULL UNIQUE,
				referrer_id UUID REFERENCES users(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMPTZ
			);
		`,
	},
	{
		name: "wallet_balances",
		sql: `
			CREATE TABLE IF NOT EXISTS wallet_balances (
				user_id UUID PRIMARY KEY REFERENCES users(id),
				available_amount BIGINT NOT NULL DEFAULT 0 CHECK (available_amount >= 0),
				locked_amount BIGINT NOT NULL DEFAULT 0 CHECK (locked_amount >= 0),
				last_transaction_id UUID,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "transactions",
		sql: `
			CREATE TABLE IF NOT EXISTS transactions (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id),
				type VARCHAR(20) NOT NULL,
				status VARCHAR(20) NOT NULL,
				amount BIGINT NOT NULL,
				fee_amount BIGINT NOT NULL DEFAULT 0,
				signature VARCHAR(128) UNIQUE,
				reference_code VARCHAR(128) UNIQUE,
				reference_id UUID,
				metadata JSONB,
				occurred_at TIMESTAMPTZ NOT NULL,
				processed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_transactions_type_status ON transactions(type, status);
		`,
	},
	{
		name: "vip_room_configs",
		sql: `
			CREATE TABLE IF NOT EXISTS vip_room_configs (
				room_type VARCHAR(50) PRIMARY KEY,
				entry_fee BIGINT NOT NULL,
				reward_rate_player DOUBLE PRECISION NOT NULL,
				reward_rate_treasury DOUBLE PRECISION NOT NULL,
				respawn_cost BIGINT NOT NULL DEFAULT 0,
				max_clients INT NOT NULL DEFAULT 8,
				tick_rate INT NOT NULL DEFAULT 30,
				is_active BOOLEAN NOT NULL DEFAULT TRUE
			);
		`,
	},
	{
		name: "vip_tickets",
		sql: `
			CREATE TABLE IF NOT EXISTS vip_tickets (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id),
				ticket_code VARCHAR(64) NOT NULL UNIQUE,
				room_type VARCHAR(50) NOT NULL REFERENCES vip_room_configs(room_type),
				entry_fee BIGINT NOT NULL,
				room_instance_id VARCHAR(64),
				status VARCHAR(20) NOT NULL DEFAULT 'issued',
				expires_at TIMESTAMPTZ NOT NULL,
				consumed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_vip_tickets_one_issued
				ON vip_tickets(user_id, room_type) WHERE status = 'issued';
			CREATE INDEX IF NOT EXISTS idx_vip_tickets_expiry
				ON vip_tickets(expires_at) WHERE status = 'issued';
		`,
	},
	{
		name: "kill_logs",
		sql: `
			CREATE TABLE IF NOT EXISTS kill_logs (
				id UUID PRIMARY KEY,
				kill_reference VARCHAR(128) NOT NULL UNIQUE,
				killer_ticket_id UUID NOT NULL REFERENCES vip_tickets(id),
				victim_ticket_id UUID NOT NULL REFERENCES vip_tickets(id),
				reward_amount BIGINT NOT NULL,
				fee_amount BIGINT NOT NULL,
				occurred_at TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "referral_rewards",
		sql: `
			CREATE TABLE IF NOT EXISTS referral_rewards (
				id UUID PRIMARY KEY,
				referrer_id UUID NOT NULL REFERENCES users(id),
				referee_id UUID NOT NULL REFERENCES users(id),
				reward_type VARCHAR(30) NOT NULL,
				amount BIGINT NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				transaction_id UUID REFERENCES transactions(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (transaction_id, referee_id)
			);
			CREATE INDEX IF NOT EXISTS idx_referral_rewards_referrer
				ON referral_rewards(referrer_id, status);
		`,
	},
}

// Migrate applies the database schema. It is idempotent and runs at startup
// and in tests.
func Migrate(ctx context.Context, q Querier) error {
	for _, m := range migrations {
		if _, err := q.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Debug().Str("migration", m.name).Msg("Migration applied")
	}
	return nil
}
