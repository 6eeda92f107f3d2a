package handler

import (
	"net/http"

	"creditledger/internal/api/v1/dto"
	"creditledger/internal/plan"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type PlansHandler struct {
	catalog          *plan.Catalog
	stripeConfigured bool
	logger           zerolog.Logger
}

func NewPlansHandler(catalog *plan.Catalog, stripeConfigured bool, logger zerolog.Logger) *PlansHandler {
	return &PlansHandler{catalog: catalog, stripeConfigured: stripeConfigured, logger: logger}
}

func (h *PlansHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.ListPlans)
}

// ListPlans godoc
// @Summary List plans
// @Description Returns the plan catalog and whether paid checkout is enabled.
// @Tags plans
// @Produce json
// @Success 200 {object} dto.PlansResponseDTO
// @Router /plans [get]
func (h *PlansHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, dto.NewPlansResponse(h.catalog.List(), h.stripeConfigured))
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}
