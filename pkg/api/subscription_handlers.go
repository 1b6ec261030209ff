package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/httputil"
	"github.com/platinummonkey/creditgate/pkg/orgs"
	"github.com/platinummonkey/creditgate/pkg/subscription"
)

// SuspendRequest is the body of POST /orgs/{org_id}/subscription/suspend
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// TrialRequest is the body of POST /orgs/{org_id}/subscription/trial
type TrialRequest struct {
	Plan orgs.PlanTier `json:"plan"`
	Days int           `json:"days"`
}

// PaymentNoteRequest is the optional body of a payment transition
type PaymentNoteRequest struct {
	Note string `json:"note,omitempty"`
}

// AccessResponse is returned by GET /orgs/{org_id}/access. Warning is set
// during the grace period, when access is read-only.
type AccessResponse struct {
	*subscription.AccessResult
	Warning *apperr.Error `json:"warning,omitempty"`
}

// SubscriptionHandlers serves the subscription lifecycle and payments
type SubscriptionHandlers struct {
	subs *subscription.Service
	errs *errorWriter
}

// newSubscriptionHandlers creates subscription handlers
func newSubscriptionHandlers(subs *subscription.Service, errs *errorWriter) *SubscriptionHandlers {
	return &SubscriptionHandlers{subs: subs, errs: errs}
}

// RegisterRoutes registers subscription and payment routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{org_id}/access", h.CheckAccess).Methods(http.MethodGet)

	router.HandleFunc("/orgs/{org_id}/subscription/periods", h.ListPeriods).Methods(http.MethodGet)
	router.HandleFunc("/orgs/{org_id}/subscription/activate", h.Activate).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{org_id}/subscription/extend", h.Extend).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{org_id}/subscription/suspend", h.Suspend).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{org_id}/subscription/reactivate", h.Reactivate).Methods(http.MethodPost)
	router.HandleFunc("/orgs/{org_id}/subscription/trial", h.StartTrial).Methods(http.MethodPost)

	router.HandleFunc("/orgs/{org_id}/payments", h.RecordPayment).Methods(http.MethodPost)
	router.HandleFunc("/payments/{payment_id}", h.GetPayment).Methods(http.MethodGet)
	router.HandleFunc("/payments/{payment_id}/{action:confirm|reject|refund}", h.TransitionPayment).Methods(http.MethodPost)
}

// CheckAccess handles GET /orgs/{org_id}/access
func (h *SubscriptionHandlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}

	res, err := h.subs.CheckAccess(r.Context(), orgID)
	if err != nil && !(res != nil && subscription.AllowReadOnly(err)) {
		h.errs.write(w, r, err)
		return
	}

	resp := AccessResponse{AccessResult: res}
	if err != nil {
		resp.Warning, _ = apperr.As(err)
		if prefersArabic(r) {
			resp.Warning = localize(resp.Warning)
		}
	}
	httputil.WriteSuccess(w, resp)
}

// ListPeriods handles GET /orgs/{org_id}/subscription/periods
func (h *SubscriptionHandlers) ListPeriods(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	periods, err := h.subs.ListPeriods(r.Context(), orgID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	if periods == nil {
		periods = []*subscription.Period{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"periods": periods})
}

// Activate handles POST /orgs/{org_id}/subscription/activate
func (h *SubscriptionHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req subscription.ActivateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.OrgID = orgID

	period, err := h.subs.Activate(r.Context(), req)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteCreated(w, period)
}

// Extend handles POST /orgs/{org_id}/subscription/extend
func (h *SubscriptionHandlers) Extend(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req subscription.ExtendRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.OrgID = orgID

	period, err := h.subs.Extend(r.Context(), req)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteCreated(w, period)
}

// Suspend handles POST /orgs/{org_id}/subscription/suspend
func (h *SubscriptionHandlers) Suspend(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req SuspendRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Reason, "reason") {
		return
	}

	org, err := h.subs.Suspend(r.Context(), orgID, req.Reason)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// Reactivate handles POST /orgs/{org_id}/subscription/reactivate
func (h *SubscriptionHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	org, err := h.subs.Reactivate(r.Context(), orgID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// StartTrial handles POST /orgs/{org_id}/subscription/trial
func (h *SubscriptionHandlers) StartTrial(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req TrialRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.subs.StartTrial(r.Context(), orgID, req.Plan, req.Days)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// RecordPayment handles POST /orgs/{org_id}/payments
func (h *SubscriptionHandlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req subscription.RecordPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.OrgID = orgID

	payment, err := h.subs.RecordPayment(r.Context(), req)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteCreated(w, payment)
}

// GetPayment handles GET /payments/{payment_id}
func (h *SubscriptionHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "payment_id")
	if !ok {
		return
	}
	payment, err := h.subs.GetPayment(r.Context(), id)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, payment)
}

// TransitionPayment handles POST /payments/{payment_id}/{confirm,reject,refund}
func (h *SubscriptionHandlers) TransitionPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "payment_id")
	if !ok {
		return
	}
	var req PaymentNoteRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var (
		payment *subscription.Payment
		err     error
	)
	switch mux.Vars(r)["action"] {
	case "confirm":
		payment, err = h.subs.ConfirmPayment(r.Context(), id, req.Note)
	case "reject":
		payment, err = h.subs.RejectPayment(r.Context(), id, req.Note)
	case "refund":
		payment, err = h.subs.RefundPayment(r.Context(), id, req.Note)
	}
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, payment)
}
