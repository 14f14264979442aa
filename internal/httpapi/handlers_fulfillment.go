package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/service"
	"siifmart/backend/internal/store"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), siteParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ReplenishmentSuggestions(r.Context(), siteParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCycleCountFlags(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500)
	flags, err := a.service.ListCycleCountFlags(r.Context(), siteParam(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

func (a *API) handleWriteOffs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500)
	writeOffs, err := a.service.ListWriteOffs(r.Context(), siteParam(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"write_offs": writeOffs})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), siteParam(r), strings.TrimSpace(r.URL.Query().Get("date")), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ListPurchaseOrders(r.Context(), siteParam(r), strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := a.service.CreatePurchaseOrder(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.SourceSiteID) == "" {
		req.SourceSiteID = siteParam(r)
	}
	resp, err := a.service.CreateTransfer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := a.service.GetPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderReceiveRequest
	if r.ContentLength != 0 {
		if err := a.decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	resp, err := a.service.ReceivePurchaseOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := a.service.CancelPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := a.service.ListJobs(r.Context(), domain.JobFilter{
		SiteID:     siteParam(r),
		Status:     strings.TrimSpace(q.Get("status")),
		Type:       strings.ToUpper(strings.TrimSpace(q.Get("type"))),
		AssignedTo: strings.TrimSpace(q.Get("assigned_to")),
		OrderRef:   strings.TrimSpace(q.Get("order_ref")),
		Limit:      parsePositiveLimit(q.Get("limit"), 200, 500),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleNextJob(w http.ResponseWriter, r *http.Request) {
	jobType := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type")))
	job, err := a.service.NextJob(r.Context(), siteParam(r), jobType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// handleAssignJob lets job:assign holders hand a job to anyone; workers may
// only take jobs for themselves.
func (a *API) handleAssignJob(w http.ResponseWriter, r *http.Request) {
	var req domain.JobAssignRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	if !can(actor.Role, capJobAssign) && req.EmployeeID != actor.EmployeeID {
		writeError(w, domain.Errorf(domain.ErrForbidden, "role %s may only take jobs for itself", actor.Role))
		return
	}
	resp, err := a.service.AssignJob(r.Context(), chi.URLParam(r, "id"), req.EmployeeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleResolveLine(w http.ResponseWriter, r *http.Request) {
	var req domain.JobLineResolveRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := a.service.ResolveLineItem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (a *API) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.CompleteJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleResetJob(w http.ResponseWriter, r *http.Request) {
	if !a.pinLimiter.Allow(clientKey(r)) {
		tooManyRequests(w, r)
		return
	}
	if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
		writeError(w, domain.Errorf(domain.ErrForbidden, "invalid manager PIN"))
		return
	}
	job, err := a.service.ResetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			err = domain.Errorf(domain.ErrInvalidInput, "username already exists")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
