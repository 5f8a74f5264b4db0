package handler

import (
	"net/http"

	"arena-economy/internal/service"
)

// DepositHandler receives on-chain deposit events from the indexer.
type DepositHandler struct {
	deposits *service.DepositService
}

// NewDepositHandler creates a new DepositHandler instance.
func NewDepositHandler(deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

type depositResponse struct {
	Processed        bool   `json:"processed"`
	AlreadyProcessed bool   `json:"already_processed"`
	Amount           int64  `json:"amount"`
	TransactionID    string `json:"transaction_id"`
}

// Webhook handles POST /webhook/deposits. The indexer retries until it gets
// a 2xx, so replays of a settled signature answer 200 with
// already_processed instead of an error.
func (h *DepositHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var event service.DepositEvent
	if !decodeBody(w, r, &event) {
		return
	}

	result, err := h.deposits.Process(r.Context(), &event, r.Header.Get(headerWebhookSecret))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, depositResponse{
		Processed:        result.Processed,
		AlreadyProcessed: result.AlreadyProcessed,
		Amount:           result.Amount,
		TransactionID:    result.TransactionID,
	})
}
