package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/service"
)

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SiteID == "" {
		req.SiteID = siteParam(r)
	}
	resp, err := a.service.Quote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCommitRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SiteID == "" {
		req.SiteID = siteParam(r)
	}
	resp, err := a.service.CommitSale(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	sales, err := a.service.ListSales(r.Context(), siteParam(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := a.service.ProcessReturn(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleOpenShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	if req.CashierID != "" && req.CashierID != actor.EmployeeID && !can(actor.Role, capAuditRead) {
		writeError(w, domain.Errorf(domain.ErrForbidden, "cashiers may only open their own shift"))
		return
	}
	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleActiveShift(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	cashierID := r.URL.Query().Get("cashier_id")
	if cashierID == "" {
		cashierID = actor.EmployeeID
	}
	shift, err := a.service.GetActiveShift(r.Context(), cashierID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleCloseShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	shift, err := a.service.CloseShift(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleListDiscountCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := a.service.ListDiscountCodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discount_codes": codes})
}

func (a *API) handleCreateDiscountCode(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountCodeCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	code, err := a.service.CreateDiscountCode(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"discount_code": code})
}

func (a *API) handleValidateDiscountCode(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountValidateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SiteID == "" {
		req.SiteID = siteParam(r)
	}
	resp, err := a.service.ValidateDiscountCode(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
