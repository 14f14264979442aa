package httpapi

import (
	"net/http"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/service"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
	RolePicker  = "picker"
)

type capability string

const (
	capPOWrite       capability = "po:write"
	capJobAssign     capability = "job:assign"
	capJobWork       capability = "job:work"
	capSaleCommit    capability = "sale:commit"
	capReturnProcess capability = "return:process"
	capShiftManage   capability = "shift:manage"
	capCatalogWrite  capability = "catalog:write"
	capDiscountWrite capability = "discount:write"
	capAuditRead     capability = "audit:read"
	capUserAdmin     capability = "user:admin"
)

var roleCapabilities = map[string]map[capability]bool{
	RoleAdmin: capSet(
		capPOWrite, capJobAssign, capJobWork, capSaleCommit, capReturnProcess,
		capShiftManage, capCatalogWrite, capDiscountWrite, capAuditRead, capUserAdmin,
	),
	RoleManager: capSet(
		capPOWrite, capJobAssign, capJobWork, capSaleCommit, capReturnProcess,
		capShiftManage, capCatalogWrite, capDiscountWrite, capAuditRead,
	),
	RoleCashier: capSet(capSaleCommit, capShiftManage),
	RolePicker:  capSet(capJobWork),
}

func capSet(caps ...capability) map[capability]bool {
	set := make(map[capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

func can(role string, c capability) bool {
	return roleCapabilities[role][c]
}

// require rejects the request unless the authenticated actor holds every
// listed capability.
func require(caps ...capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok {
				writeError(w, domain.Errorf(domain.ErrForbidden, "not authenticated"))
				return
			}
			for _, c := range caps {
				if !can(actor.Role, c) {
					writeError(w, domain.Errorf(domain.ErrForbidden, "role %s lacks %s", actor.Role, c))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
