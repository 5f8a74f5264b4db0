package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"arena-economy/internal/model"
	"arena-economy/internal/service"
)

// WalletHandler serves the player-facing API: balance, transaction history,
// withdrawals, room access checks, and ticket purchase and cancellation.
type WalletHandler struct {
	ledger    *service.LedgerService
	tickets   *service.TicketService
	referrals *service.ReferralService
}

// NewWalletHandler creates a new WalletHandler instance.
func NewWalletHandler(ledger *service.LedgerService, tickets *service.TicketService, referrals *service.ReferralService) *WalletHandler {
	return &WalletHandler{ledger: ledger, tickets: tickets, referrals: referrals}
}

type balanceResponse struct {
	UserID          string `json:"user_id"`
	AvailableAmount int64  `json:"available_amount"`
	LockedAmount    int64  `json:"locked_amount"`
}

// GetBalance handles GET /api/v1/wallet.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.ledger.GetOrCreateBalance(r.Context(), userFrom(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, balanceResponse{
		UserID:          wallet.UserID,
		AvailableAmount: wallet.AvailableAmount,
		LockedAmount:    wallet.LockedAmount,
	})
}

type transactionResponse struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	FeeAmount     int64     `json:"fee_amount,omitempty"`
	ReferenceCode *string   `json:"reference_code,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount,
		FeeAmount:     t.FeeAmount,
		ReferenceCode: t.ReferenceCode,
		OccurredAt:    t.OccurredAt,
	}
}

// GetHistory handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txns, err := h.ledger.History(r.Context(), userFrom(r), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionResponse(t))
	}
	respondJSON(w, http.StatusOK, out)
}

type withdrawRequest struct {
	Amount        int64  `json:"amount"`
	ReferenceCode string `json:"reference_code"`
}

type withdrawResponse struct {
	Transaction      transactionResponse `json:"transaction"`
	AvailableAmount  int64               `json:"available_amount"`
	LockedAmount     int64               `json:"locked_amount"`
	AlreadyProcessed bool                `json:"already_processed"`
}

// RequestWithdrawal handles POST /api/v1/wallet/withdrawals.
func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.ledger.RequestWithdrawal(r.Context(), userFrom(r), req.Amount, req.ReferenceCode)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, withdrawResponse{
		Transaction:      toTransactionResponse(result.Transaction),
		AvailableAmount:  result.Balance.AvailableAmount,
		LockedAmount:     result.Balance.LockedAmount,
		AlreadyProcessed: result.AlreadyProcessed,
	})
}

type accessResponse struct {
	CanJoin bool            `json:"can_join"`
	Reason  string          `json:"reason,omitempty"`
	Credit  int64           `json:"credit"`
	Ticket  *ticketResponse `json:"ticket,omitempty"`
}

// CheckAccess handles GET /api/v1/rooms/{roomType}/access.
func (h *WalletHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	result, err := h.tickets.CheckAccess(r.Context(), userFrom(r), chi.URLParam(r, "roomType"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := accessResponse{CanJoin: result.CanJoin, Reason: result.Reason, Credit: result.Credit}
	if result.Ticket != nil {
		t := toTicketResponse(result.Ticket)
		resp.Ticket = &t
	}
	respondJSON(w, http.StatusOK, resp)
}

type purchaseResponse struct {
	Ticket          ticketResponse `json:"ticket"`
	AvailableAmount int64          `json:"available_amount"`
	AlreadyIssued   bool           `json:"already_issued"`
}

// PurchaseTicket handles POST /api/v1/rooms/{roomType}/tickets.
func (h *WalletHandler) PurchaseTicket(w http.ResponseWriter, r *http.Request) {
	result, err := h.tickets.Purchase(r.Context(), userFrom(r), chi.URLParam(r, "roomType"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, purchaseResponse{
		Ticket:          toTicketResponse(result.Ticket),
		AvailableAmount: result.Balance.AvailableAmount,
		AlreadyIssued:   result.AlreadyIssued,
	})
}

// CancelTicket handles POST /api/v1/tickets/{ticketID}/cancel.
func (h *WalletHandler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.Cancel(r.Context(), userFrom(r), chi.URLParam(r, "ticketID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTicketResponse(ticket))
}

type referralRewardResponse struct {
	ID         string    `json:"id"`
	RefereeID  string    `json:"referee_id"`
	RewardType string    `json:"reward_type"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetReferralRewards handles GET /api/v1/referrals/rewards.
func (h *WalletHandler) GetReferralRewards(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rewards, err := h.referrals.ListForReferrer(r.Context(), userFrom(r), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := make([]referralRewardResponse, 0, len(rewards))
	for _, rr := range rewards {
		out = append(out, referralRewardResponse{
			ID:         rr.ID,
			RefereeID:  rr.RefereeID,
			RewardType: rr.RewardType,
			Amount:     rr.Amount,
			Status:     rr.Status,
			CreatedAt:  rr.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
