package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"arena-economy/internal/model"
	"arena-economy/internal/service"
)

// GameHandler serves the internal API the game server calls: ticket
// validation and consumption, kill settlement, respawn charges, and
// withdrawal settlement callbacks.
type GameHandler struct {
	tickets *service.TicketService
	rewards *service.RewardService
	ledger  *service.LedgerService
}

// NewGameHandler creates a new GameHandler instance.
func NewGameHandler(tickets *service.TicketService, rewards *service.RewardService, ledger *service.LedgerService) *GameHandler {
	return &GameHandler{tickets: tickets, rewards: rewards, ledger: ledger}
}

type ticketResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TicketCode     string    `json:"ticket_code"`
	RoomType       string    `json:"room_type"`
	EntryFee       int64     `json:"entry_fee"`
	RoomInstanceID *string   `json:"room_instance_id,omitempty"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func toTicketResponse(t *model.VipTicket) ticketResponse {
	return ticketResponse{
		ID:             t.ID,
		UserID:         t.UserID,
		TicketCode:     t.TicketCode,
		RoomType:       t.RoomType,
		EntryFee:       t.EntryFee,
		RoomInstanceID: t.RoomInstanceID,
		Status:         string(t.Status),
		ExpiresAt:      t.ExpiresAt,
	}
}

type validateResponse struct {
	Ticket ticketResponse `json:"ticket"`
	Credit int64          `json:"credit"`
	Room   roomResponse   `json:"room"`
}

type roomResponse struct {
	RoomType    string `json:"room_type"`
	EntryFee    int64  `json:"entry_fee"`
	RespawnCost int64  `json:"respawn_cost"`
	MaxClients  int    `json:"max_clients"`
	TickRate    int    `json:"tick_rate"`
}

// ValidateTicket handles POST /internal/tickets/{ticketID}/validate.
func (h *GameHandler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	result, err := h.tickets.Validate(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, validateResponse{
		Ticket: toTicketResponse(result.Ticket),
		Credit: result.Credit,
		Room: roomResponse{
			RoomType:    result.Config.RoomType,
			EntryFee:    result.Config.EntryFee,
			RespawnCost: result.Config.RespawnCost,
			MaxClients:  result.Config.MaxClients,
			TickRate:    result.Config.TickRate,
		},
	})
}

type consumeRequest struct {
	RoomInstanceID string `json:"room_instance_id"`
}

// ConsumeTicket handles POST /internal/tickets/{ticketID}/consume.
func (h *GameHandler) ConsumeTicket(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ticket, err := h.tickets.Consume(r.Context(), chi.URLParam(r, "ticketID"), req.RoomInstanceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toTicketResponse(ticket))
}

type killResponse struct {
	AlreadyProcessed bool   `json:"already_processed"`
	KillLogID        string `json:"kill_log_id"`
	RewardAmount     int64  `json:"reward_amount"`
	FeeAmount        int64  `json:"fee_amount"`
}

// SettleKill handles POST /internal/kills.
func (h *GameHandler) SettleKill(w http.ResponseWriter, r *http.Request) {
	var event service.KillEvent
	if !decodeBody(w, r, &event) {
		return
	}

	result, err := h.rewards.ProcessKill(r.Context(), &event)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, killResponse{
		AlreadyProcessed: result.AlreadyProcessed,
		KillLogID:        result.KillLogID,
		RewardAmount:     result.RewardAmount,
		FeeAmount:        result.FeeAmount,
	})
}

type respawnResponse struct {
	Cost             int64 `json:"cost"`
	AvailableBalance int64 `json:"available_balance"`
}

// Respawn handles POST /internal/tickets/{ticketID}/respawn.
func (h *GameHandler) Respawn(w http.ResponseWriter, r *http.Request) {
	result, err := h.rewards.ProcessRespawn(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, respawnResponse{
		Cost:             result.Cost,
		AvailableBalance: result.AvailableBalance,
	})
}

// ConfirmWithdrawal handles POST /internal/withdrawals/{transactionID}/confirm.
func (h *GameHandler) ConfirmWithdrawal(w http.ResponseWriter, r *http.Request) {
	txn, err := h.ledger.ConfirmWithdrawal(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// FailWithdrawal handles POST /internal/withdrawals/{transactionID}/fail.
func (h *GameHandler) FailWithdrawal(w http.ResponseWriter, r *http.Request) {
	txn, err := h.ledger.FailWithdrawal(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(txn))
}
