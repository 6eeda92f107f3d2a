package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"creditledger/internal/api/v1/dto"
	"creditledger/internal/middleware"
	"creditledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxConsumeBody = 4 << 10

// CreditsHandler serves balance reads and metered consumption.
type CreditsHandler struct {
	ledger   service.LedgerService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewCreditsHandler(ledger service.LedgerService, validate *validator.Validate, logger zerolog.Logger) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, validate: validate, logger: logger}
}

func (h *CreditsHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Get("/me/credits", h.GetCredits)
	r.With(
		authMiddleware,
		middleware.RequireCredits(h.ledger, h.consumeCost, h.logger),
	).Post("/credits/consume", h.Consume)
}

// GetCredits godoc
// @Summary Get the caller's credit balance
// @Description Returns the current plan and balance, creating a free account on first use.
// @Tags credits
// @Produce json
// @Success 200 {object} dto.CreditsResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 503 {string} string "ledger busy, retry"
// @Failure 500 {string} string "internal server error"
// @Router /me/credits [get]
func (h *CreditsHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.ledger.EnsureExists(r.Context(), id.UID, id.Email); err != nil {
		h.logger.Error().Err(err).Str("uid", id.UID).Msg("failed to ensure account")
		writeServiceError(w, err)
		return
	}
	snap, err := h.ledger.Get(r.Context(), id.UID)
	if err != nil {
		h.logger.Error().Err(err).Str("uid", id.UID).Msg("failed to get credits")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.NewCreditsResponse(snap))
}

// Consume godoc
// @Summary Consume credits
// @Description Debits amount credits (default 1) from the caller. Fails without debiting when the balance is short.
// @Tags credits
// @Accept json
// @Produce json
// @Param consume body dto.ConsumeRequest false "Amount to consume"
// @Success 200 {object} dto.CreditsResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 402 {string} string "insufficient credits"
// @Failure 503 {string} string "ledger busy, retry"
// @Router /credits/consume [post]
func (h *CreditsHandler) Consume(w http.ResponseWriter, r *http.Request) {
	snap, ok := middleware.CreditsFromContext(r.Context())
	if !ok {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.NewCreditsResponse(snap))
}

// consumeCost reads the amount from the body and puts the body back for
// anything downstream.
func (h *CreditsHandler) consumeCost(r *http.Request) (int, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return 1, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxConsumeBody+1))
	if err != nil {
		return 0, errors.New("invalid request payload")
	}
	if len(raw) > maxConsumeBody {
		return 0, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return 1, nil
	}

	var req dto.ConsumeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return 0, errors.New("invalid request payload")
	}
	if err := h.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("invalid amount: %w", err)
	}
	if req.Amount == nil {
		return 1, nil
	}
	if *req.Amount < 1 {
		return 0, errors.New("amount must be at least 1")
	}
	return *req.Amount, nil
}
