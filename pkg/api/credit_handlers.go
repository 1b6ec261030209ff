package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/catalog"
	"github.com/platinummonkey/creditgate/pkg/httputil"
	"github.com/platinummonkey/creditgate/pkg/ledger"
)

// DeductRequest is the body of POST /orgs/{org_id}/credits/deduct
type DeductRequest struct {
	FeatureID string `json:"feature_id"`
}

// FinalizeRequest is the body of POST /consumptions/{consumption_id}/finalize
type FinalizeRequest struct {
	Status       ledger.ConsumptionStatus `json:"status"`
	InputTokens  int64                    `json:"input_tokens,omitempty"`
	OutputTokens int64                    `json:"output_tokens,omitempty"`
	CostUSD      decimal.Decimal          `json:"cost_usd"`
	Model        string                   `json:"model,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	DurationMS   int64                    `json:"duration_ms,omitempty"`
}

// BonusRequest is the body of POST /orgs/{org_id}/credits/bonus
type BonusRequest struct {
	Credits int64  `json:"credits"`
	Reason  string `json:"reason"`
}

// CreditHandlers serves the credit ledger and the feature cost table
type CreditHandlers struct {
	credits *ledger.Service
	catalog catalog.Source
	errs    *errorWriter
}

// newCreditHandlers creates credit handlers
func newCreditHandlers(credits *ledger.Service, source catalog.Source, errs *errorWriter) *CreditHandlers {
	return &CreditHandlers{credits: credits, catalog: source, errs: errs}
}

// RegisterRoutes registers credit routes
func (h *CreditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/features", h.ListFeatures).Methods(http.MethodGet)

	router.HandleFunc("/orgs/{org_id}/credits", h.GetLedger).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{org_id}/credits/check", h.CheckCredits).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{org_id}/credits/deduct", h.Deduct).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{org_id}/credits/bonus", h.GrantBonus).Methods(http.MethodPost)

	router.HandleFunc("/consumptions/{consumption_id}", h.GetConsumption).Methods(http.MethodGet)
	router.HandleFunc("/consumptions/{consumption_id}/finalize", h.Finalize).Methods(http.MethodPost)
}

// ListFeatures handles GET /features
func (h *CreditHandlers) ListFeatures(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"features": h.catalog.Current().Features.Features(),
	})
}

// GetLedger handles GET /orgs/{org_id}/credits
func (h *CreditHandlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	l, err := h.credits.GetLedger(r.Context(), orgID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, l)
}

// CheckCredits handles GET /orgs/{org_id}/credits/check?credits=N
func (h *CreditHandlers) CheckCredits(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	credits, err := httputil.ParseQueryInt64(r, "credits", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	check, err := h.credits.CheckCredits(r.Context(), orgID, auth.ActorFromContext(r.Context()).UserID, credits)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, check)
}

// Deduct handles POST /orgs/{org_id}/credits/deduct. The consuming user is
// the request actor.
func (h *CreditHandlers) Deduct(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if actor.IsAnonymous() {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, auth.HeaderUserID+" header is required")
		return
	}

	var req DeductRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.credits.Deduct(r.Context(), orgID, actor.UserID, req.FeatureID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteCreated(w, res)
}

// GetConsumption handles GET /consumptions/{consumption_id}
func (h *CreditHandlers) GetConsumption(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "consumption_id")
	if !ok {
		return
	}
	c, err := h.credits.GetConsumption(r.Context(), id)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

// Finalize handles POST /consumptions/{consumption_id}/finalize. Only the
// user who made the deduction, or a platform admin, may finalize it.
func (h *CreditHandlers) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "consumption_id")
	if !ok {
		return
	}
	actor := auth.ActorFromContext(r.Context())
	if actor.IsAnonymous() {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, auth.HeaderUserID+" header is required")
		return
	}
	var req FinalizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	existing, err := h.credits.GetConsumption(r.Context(), id)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	if existing.UserID != actor.UserID && !actor.IsPlatformAdmin() {
		h.errs.write(w, r, apperr.New(apperr.CodeConsumptionNotOwned).
			With("consumptionId", id).
			With("userId", actor.UserID))
		return
	}

	c, err := h.credits.FinalizeConsumption(r.Context(), id, req.Status, ledger.Telemetry{
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		CostUSD:      req.CostUSD,
		Model:        req.Model,
		ErrorMessage: req.ErrorMessage,
		DurationMS:   req.DurationMS,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

// GrantBonus handles POST /orgs/{org_id}/credits/bonus
func (h *CreditHandlers) GrantBonus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req BonusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.credits.GrantBonus(r.Context(), orgID, req.Credits, req.Reason)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
