package handlers

import (
	"net/http"

	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/api/middleware"
	"taxdesk/internal/engine/workflow"
	"taxdesk/internal/platform/models"
)

type FilingHandler struct {
	engine *workflow.Engine
}

func NewFilingHandler(engine *workflow.Engine) *FilingHandler {
	return &FilingHandler{engine: engine}
}

type filingView struct {
	*models.Filing
	AllowedTransitions []workflow.Move `json:"allowed_transitions"`
}

func newFilingView(f *models.Filing) filingView {
	moves := workflow.AllowedTransitions(f.WorkflowStatus)
	if moves == nil {
		moves = []workflow.Move{}
	}
	return filingView{Filing: f, AllowedTransitions: moves}
}

func (h *FilingHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req struct {
		ClientID      string `json:"client_id"`
		ReturnType    string `json:"return_type"`
		FinancialYear string `json:"financial_year"`
		Period        string `json:"period"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	filing := &models.Filing{
		TenantID:      tenant.TenantID,
		ClientID:      req.ClientID,
		ReturnType:    req.ReturnType,
		FinancialYear: req.FinancialYear,
		Period:        req.Period,
	}
	if err := h.engine.CreateFiling(r.Context(), filing); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFilingView(filing))
}

func (h *FilingHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	filing, err := h.engine.Filing(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "filing_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFilingView(filing))
}

// Transition applies the workflow action named in the route, e.g. "lock".
func (h *FilingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req struct {
		Comment string `json:"comment"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	filing, step, err := h.engine.Apply(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "filing_id"),
		apiContext.Param(r.Context(), "action"), tenant.UserID, req.Comment)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Filing filingView             `json:"filing"`
		Step   *models.TransitionStep `json:"step"`
	}{newFilingView(filing), step})
}

func (h *FilingHandler) History(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	steps, err := h.engine.History(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "filing_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if steps == nil {
		steps = []*models.TransitionStep{}
	}
	writeJSON(w, http.StatusOK, steps)
}
