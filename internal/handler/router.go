package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"arena-economy/internal/config"
	"arena-economy/internal/pkg/db"
	"arena-economy/internal/service"
)

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	Config    *config.Config
	DB        *db.Pool
	Ledger    *service.LedgerService
	Deposits  *service.DepositService
	Tickets   *service.TicketService
	Rewards   *service.RewardService
	Referrals *service.ReferralService
}

// NewRouter builds the HTTP routing tree.
func NewRouter(deps *Dependencies) http.Handler {
	depositH := NewDepositHandler(deps.Deposits)
	gameH := NewGameHandler(deps.Tickets, deps.Rewards, deps.Ledger)
	walletH := NewWalletHandler(deps.Ledger, deps.Tickets, deps.Referrals)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := deps.DB.HealthCheck(req.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unreachable"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// The deposit webhook authenticates inside the service via the webhook
	// secret header, so replayed deliveries still get a JSON verdict.
	r.Post("/webhook/deposits", depositH.Webhook)

	// Game-server channel.
	r.Route("/internal", func(r chi.Router) {
		r.Use(requireSharedSecret(headerGameSecret, deps.Config.Game.SharedSecret))
		r.Post("/tickets/{ticketID}/validate", gameH.ValidateTicket)
		r.Post("/tickets/{ticketID}/consume", gameH.ConsumeTicket)
		r.Post("/tickets/{ticketID}/respawn", gameH.Respawn)
		r.Post("/kills", gameH.SettleKill)
		r.Post("/withdrawals/{transactionID}/confirm", gameH.ConfirmWithdrawal)
		r.Post("/withdrawals/{transactionID}/fail", gameH.FailWithdrawal)
	})

	// Player-facing API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/wallet", walletH.GetBalance)
		r.Get("/wallet/transactions", walletH.GetHistory)
		r.Post("/wallet/withdrawals", walletH.RequestWithdrawal)
		r.Get("/rooms/{roomType}/access", walletH.CheckAccess)
		r.Post("/rooms/{roomType}/tickets", walletH.PurchaseTicket)
		r.Post("/tickets/{ticketID}/cancel", walletH.CancelTicket)
		r.Get("/referrals/rewards", walletH.GetReferralRewards)
	})

	return r
}
