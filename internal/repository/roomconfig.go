package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"arena-economy/internal/model"
)

// Common errors for room configuration operations.
var (
	ErrRoomConfigNotFound = errors.New("room config not found")
)

// RoomConfigRepository handles VIP room configuration. Configs are read-only
// to the settlement path; Upsert exists for startup seeding and admin tools.
type RoomConfigRepository struct{}

// NewRoomConfigRepository creates a new RoomConfigRepository instance.
func NewRoomConfigRepository() *RoomConfigRepository {
	return &RoomConfigRepository{}
}

const roomColumns = `room_type, entry_fee, reward_rate_player, reward_rate_treasury,
		respawn_cost, max_clients, tick_rate, is_active`

func scanRoomConfig(row pgx.Row) (*model.VipRoomConfig, error) {
	var c model.VipRoomConfig
	err := row.Scan(
		&c.RoomType,
		&c.EntryFee,
		&c.RewardRatePlayer,
		&c.RewardRateTreasury,
		&c.RespawnCost,
		&c.MaxClients,
		&c.TickRate,
		&c.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get retrieves a room configuration by room type regardless of active flag.
func (r *RoomConfigRepository) Get(ctx context.Context, q Querier, roomType string) (*model.VipRoomConfig, error) {
	const query = `SELECT ` + roomColumns + ` FROM vip_room_configs WHERE room_type = $1`

	c, err := scanRoomConfig(q.QueryRow(ctx, query, roomType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomConfigNotFound
		}
		return nil, fmt.Errorf("failed to get room config: %w", err)
	}
	return c, nil
}

// GetActive retrieves an active room configuration by room type.
func (r *RoomConfigRepository) GetActive(ctx context.Context, q Querier, roomType string) (*model.VipRoomConfig, error) {
	const query = `SELECT ` + roomColumns + ` FROM vip_room_configs WHERE room_type = $1 AND is_active`

	c, err := scanRoomConfig(q.QueryRow(ctx, query, roomType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomConfigNotFound
		}
		return nil, fmt.Errorf("failed to get active room config: %w", err)
	}
	return c, nil
}

// Upsert creates or replaces a room configuration.
func (r *RoomConfigRepository) Upsert(ctx context.Context, q Querier, c *model.VipRoomConfig) error {
	const query = `
		INSERT INTO vip_room_configs (room_type, entry_fee, reward_rate_player,
			reward_rate_treasury, respawn_cost, max_clients, tick_rate, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room_type) DO UPDATE SET
			entry_fee = EXCLUDED.entry_fee,
			reward_rate_player = EXCLUDED.reward_rate_player,
			reward_rate_treasury = EXCLUDED.reward_rate_treasury,
			respawn_cost = EXCLUDED.respawn_cost,
			max_clients = EXCLUDED.max_clients,
			tick_rate = EXCLUDED.tick_rate,
			is_active = EXCLUDED.is_active
	`

	_, err := q.Exec(ctx, query,
		c.RoomType, c.EntryFee, c.RewardRatePlayer, c.RewardRateTreasury,
		c.RespawnCost, c.MaxClients, c.TickRate, c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert room config: %w", err)
	}
	return nil
}

// List retrieves all room configurations.
func (r *RoomConfigRepository) List(ctx context.Context, q Querier) ([]*model.VipRoomConfig, error) {
	const query = `SELECT ` + roomColumns + ` FROM vip_room_configs ORDER BY room_type`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list room configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.VipRoomConfig
	for rows.Next() {
		c, err := scanRoomConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room config: %w", err)
		}
		configs = append(configs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room configs: %w", err)
	}

	return configs, nil
}
