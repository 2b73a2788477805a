package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidepoint/marketplace/internal/domain"
	"github.com/tidepoint/marketplace/internal/loyalty"
	"github.com/tidepoint/marketplace/internal/worker"
)

// purchaseWaitTimeout bounds POST /purchases?wait=true.
const purchaseWaitTimeout = 10 * time.Second

// ListLoyaltyRules handles GET /businesses/{businessID}/loyalty-rules.
// ?active=true restricts the result to active rules.
func (h *Handler) ListLoyaltyRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	rules, err := h.loyalty.ListRules(r.Context(), chi.URLParam(r, "businessID"), activeOnly)
	if err != nil {
		writeError(w, "failed to list loyalty rules", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetLoyaltyRule handles GET /businesses/{businessID}/loyalty-rules/{ruleID}.
func (h *Handler) GetLoyaltyRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.loyalty.GetRule(r.Context(), chi.URLParam(r, "businessID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, "failed to get loyalty rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateLoyaltyRule handles POST /businesses/{businessID}/loyalty-rules.
func (h *Handler) CreateLoyaltyRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.LoyaltyRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	created, err := h.loyalty.CreateRule(r.Context(), chi.URLParam(r, "businessID"), &rule)
	if err != nil {
		writeError(w, "failed to create loyalty rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateLoyaltyRule handles PUT /businesses/{businessID}/loyalty-rules/{ruleID}.
func (h *Handler) UpdateLoyaltyRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.LoyaltyRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	updated, err := h.loyalty.UpdateRule(r.Context(), chi.URLParam(r, "businessID"), chi.URLParam(r, "ruleID"), &rule)
	if err != nil {
		writeError(w, "failed to update loyalty rule", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteLoyaltyRule handles DELETE /businesses/{businessID}/loyalty-rules/{ruleID}.
func (h *Handler) DeleteLoyaltyRule(w http.ResponseWriter, r *http.Request) {
	if err := h.loyalty.DeleteRule(r.Context(), chi.URLParam(r, "businessID"), chi.URLParam(r, "ruleID")); err != nil {
		writeError(w, "failed to delete loyalty rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout handles POST /businesses/{businessID}/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var p loyalty.Purchase
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	p.BusinessID = chi.URLParam(r, "businessID")

	receipt, err := h.loyalty.Checkout(r.Context(), p)
	if err != nil {
		writeError(w, "checkout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// CheckInRequest is the request body for POST /businesses/{businessID}/checkin.
type CheckInRequest struct {
	TouristID string `json:"tourist_id"`
	Reference string `json:"reference,omitempty"`
}

// CheckIn handles POST /businesses/{businessID}/checkin.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	receipt, err := h.loyalty.CheckIn(r.Context(), chi.URLParam(r, "businessID"), req.TouristID, req.Reference)
	if err != nil {
		writeError(w, "check-in failed", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Redeem handles POST /businesses/{businessID}/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req loyalty.Redemption
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.BusinessID = chi.URLParam(r, "businessID")

	receipt, err := h.loyalty.Redeem(r.Context(), req)
	if err != nil {
		writeError(w, "redemption failed", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// IngestPurchase handles POST /businesses/{businessID}/purchases. The purchase
// is queued for the worker; with ?wait=true the call blocks for its result.
func (h *Handler) IngestPurchase(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var msg worker.PurchaseMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	msg.BusinessID = chi.URLParam(r, "businessID")
	msg.TraceID = GetTraceID(r.Context())

	if msg.TouristID == "" || msg.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tourist_id and a positive amount are required",
		})
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		writeError(w, "failed to encode purchase", err)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		if err := h.bus.Publish(r.Context(), domain.TopicPurchaseIngested, payload); err != nil {
			writeError(w, "failed to queue purchase", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":   "queued",
			"trace_id": msg.TraceID,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), purchaseWaitTimeout)
	defer cancel()

	raw, err := h.bus.Request(ctx, domain.TopicPurchaseIngested, payload)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error": "purchase was not processed in time",
		})
		return
	}

	var result worker.PurchaseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		writeError(w, "invalid worker reply", err)
		return
	}
	if result.Error != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": result.Error})
		return
	}
	writeJSON(w, http.StatusOK, result.Receipt)
}

// RegisterTouristRequest is the request body for POST /tourists.
type RegisterTouristRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// RegisterTourist handles POST /tourists.
func (h *Handler) RegisterTourist(w http.ResponseWriter, r *http.Request) {
	var req RegisterTouristRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tourist, err := h.loyalty.RegisterTourist(r.Context(), req.Email, req.FullName)
	if err != nil {
		writeError(w, "failed to register tourist", err)
		return
	}
	writeJSON(w, http.StatusCreated, tourist)
}

// GetTourist handles GET /tourists/{id}.
func (h *Handler) GetTourist(w http.ResponseWriter, r *http.Request) {
	tourist, err := h.loyalty.GetTourist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "failed to get tourist", err)
		return
	}
	writeJSON(w, http.StatusOK, tourist)
}

// ListTouristTransactions handles GET /tourists/{id}/transactions.
func (h *Handler) ListTouristTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txs, err := h.loyalty.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, "failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}
