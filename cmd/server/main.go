// Arena economy server: wallet ledger, VIP ticket lifecycle, kill-reward
// settlement and referral commission for the arena game.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arena-economy/internal/config"
	"arena-economy/internal/handler"
	"arena-economy/internal/model"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/pkg/lock"
	"arena-economy/internal/repository"
	"arena-economy/internal/service"
)

func main() {
	configPath := flag.String("config", "./config", "path to config directory")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	users := repository.NewUserRepository()
	wallets := repository.NewWalletRepository()
	transactions := repository.NewTransactionRepository()
	tickets := repository.NewTicketRepository()
	rooms := repository.NewRoomConfigRepository()
	killLogs := repository.NewKillLogRepository()
	referralRows := repository.NewReferralRewardRepository()

	if err := seedRooms(ctx, pool, rooms, cfg.Rooms); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed room configs")
	}

	locks := lock.NewUserLock()
	ledger := service.NewLedgerService(pool, users, wallets, transactions)
	deposits := service.NewDepositService(pool, users, transactions, ledger, cfg.Chain)
	referrals := service.NewReferralService(pool, users, wallets, referralRows, ledger, cfg.Referral)
	ticketSvc := service.NewTicketService(pool, wallets, tickets, rooms, ledger, locks, cfg.Tickets)
	rewards := service.NewRewardService(pool, tickets, rooms, transactions, killLogs, ledger, referrals, locks)

	router := handler.NewRouter(&handler.Dependencies{
		Config:    cfg,
		DB:        pool,
		Ledger:    ledger,
		Deposits:  deposits,
		Tickets:   ticketSvc,
		Rewards:   rewards,
		Referrals: referrals,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go runTicketSweeper(ctx, ticketSvc, cfg.Tickets.SweepInterval)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// seedRooms upserts the configured room economies at startup so a fresh
// database is playable without manual setup.
func seedRooms(ctx context.Context, pool *db.Pool, rooms *repository.RoomConfigRepository, entries []config.RoomConfig) error {
	for _, e := range entries {
		cfg := &model.VipRoomConfig{
			RoomType:           e.RoomType,
			EntryFee:           e.EntryFee,
			RewardRatePlayer:   e.RewardRatePlayer,
			RewardRateTreasury: e.RewardRateTreasury,
			RespawnCost:        e.RespawnCost,
			MaxClients:         e.MaxClients,
			TickRate:           e.TickRate,
			IsActive:           e.IsActive,
		}
		if err := cfg.ValidateRates(); err != nil {
			return err
		}
		if err := rooms.Upsert(ctx, pool, cfg); err != nil {
			return err
		}
		log.Info().Str("room_type", e.RoomType).Int64("entry_fee", e.EntryFee).Msg("Room config seeded")
	}
	return nil
}

// runTicketSweeper periodically expires overdue issued tickets and refunds
// their entry fees.
func runTicketSweeper(ctx context.Context, tickets *service.TicketService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := tickets.ExpireOverdue(ctx, now, 100); err != nil {
				log.Error().Err(err).Msg("Ticket sweep failed")
			}
		}
	}
}
