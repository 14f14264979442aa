package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/metrics"
	"siifmart/backend/internal/service"
	"siifmart/backend/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	svc := service.New(repo, service.Options{
		DefaultSiteID: memory.SiteMain,
		TaxRules:      []domain.TaxRule{{Name: "VAT", Rate: decimal.NewFromInt(15)}},
		CashRounding:  true,
		Metrics:       m,
	})
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo)

	return New(svc, auth, Options{
		AllowedOrigin:  "*",
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, handler http.Handler, username, password string) *client {
	t.Helper()
	c := &client{t: t, handler: handler}
	c.csrf = fetchCSRFToken(t, handler)
	if username != "" {
		c.token = login(t, handler, username, password).AccessToken
	}
	return c
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	res := httptest.NewRecorder()
	c.handler.ServeHTTP(res, req)
	return res
}

func decodeInto(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectError(t *testing.T, res *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if res.Code != status {
		t.Fatalf("expected %d, got %d (body: %s)", status, res.Code, res.Body.String())
	}
	var body map[string]string
	decodeInto(t, res, &body)
	if body["code"] != code {
		t.Fatalf("expected code %s, got %v", code, body)
	}
	if body["kind"] == "" || body["error"] == "" {
		t.Fatalf("expected kind and error in body, got %v", body)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginCarriesEmployeeAndSite(t *testing.T) {
	handler := newTestAPI(t).Handler()

	resp := login(t, handler, "cashier", "cashier123")
	if resp.Role != RoleCashier || resp.EmployeeID != "emp-cashier-1" || resp.SiteID != memory.SiteMain {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestHandleLoginWrongPassword(t *testing.T) {
	handler := newTestAPI(t).Handler()
	c := newClient(t, handler, "", "")

	res := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "cashier", Password: "nope"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestSaleToPackOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := newClient(t, handler, "cashier", "cashier123")
	picker := newClient(t, handler, "picker", "picker123")

	res := cashier.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:          []domain.CartItem{{ProductID: "prod-milk", Quantity: 2}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: decimal.NewFromInt(20),
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("commit sale expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var sale domain.SaleCommitResponse
	decodeInto(t, res, &sale)
	if sale.Sale.CashierID != "emp-cashier-1" {
		t.Fatalf("expected sale attributed to emp-cashier-1, got %q", sale.Sale.CashierID)
	}
	if sale.PickJob.Type != domain.JobTypePick || sale.PickJob.Priority != domain.JobPriorityCritical {
		t.Fatalf("unexpected pick job: %+v", sale.PickJob)
	}
	jobPath := "/api/v1/jobs/" + sale.PickJob.ID

	res = picker.do(http.MethodPost, jobPath+"/assign", domain.JobAssignRequest{EmployeeID: "emp-picker-1"})
	if res.Code != http.StatusOK {
		t.Fatalf("assign expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var assigned domain.JobAssignResponse
	decodeInto(t, res, &assigned)
	if assigned.Job.Status != domain.JobStatusInProgress || assigned.EstimatedMinutes != 15 {
		t.Fatalf("unexpected assignment: %+v", assigned)
	}

	res = picker.do(http.MethodPost, jobPath+"/lines", domain.JobLineResolveRequest{
		ProductID: "prod-milk",
		ActualQty: 2,
		Outcome:   domain.OutcomeNormal,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("resolve expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = picker.do(http.MethodPost, jobPath+"/complete", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("complete expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var completed domain.JobCompleteResponse
	decodeInto(t, res, &completed)
	if completed.Successor == nil || completed.Successor.Type != domain.JobTypePack {
		t.Fatalf("expected PACK successor, got %+v", completed.Successor)
	}
	if completed.Successor.Location != domain.LocationPackingStation {
		t.Fatalf("expected pack at %s, got %s", domain.LocationPackingStation, completed.Successor.Location)
	}

	res = picker.do(http.MethodPost, jobPath+"/complete", nil)
	expectError(t, res, http.StatusConflict, "InvalidState")

	res = cashier.do(http.MethodGet, "/api/v1/sales/"+sale.Sale.ID, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("get sale expected 200, got %d", res.Code)
	}
}

func TestCommitSaleErrorsCarryKindAndCode(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := newClient(t, handler, "cashier", "cashier123")

	res := cashier.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:          []domain.CartItem{{ProductID: "prod-tea", Quantity: 100}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: decimal.NewFromInt(1000),
	})
	expectError(t, res, http.StatusConflict, "InsufficientStock")

	res = cashier.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:          []domain.CartItem{{ProductID: "prod-missing", Quantity: 1}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: decimal.NewFromInt(10),
	})
	expectError(t, res, http.StatusNotFound, "NotFound")

	res = cashier.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:          []domain.CartItem{{ProductID: "prod-rice", Quantity: 1}},
		PaymentMethod:  domain.PaymentCash,
		AmountTendered: decimal.NewFromInt(1),
	})
	expectError(t, res, http.StatusBadRequest, "InvalidPaymentAmount")

	res = cashier.do(http.MethodPost, "/api/v1/sales", map[string]any{
		"items":          []any{},
		"payment_method": "Cash",
	})
	expectError(t, res, http.StatusBadRequest, "InvalidInput")

	res = cashier.do(http.MethodPost, "/api/v1/sales", map[string]any{
		"items":          []map[string]any{{"product_id": "prod-rice", "quantity": 1}},
		"payment_method": "Barter",
	})
	expectError(t, res, http.StatusBadRequest, "InvalidInput")
}

func TestCapabilitiesGuardRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := newClient(t, handler, "cashier", "cashier123")
	picker := newClient(t, handler, "picker", "picker123")
	anonymous := newClient(t, handler, "", "")

	res := anonymous.do(http.MethodGet, "/api/v1/products", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	res = cashier.do(http.MethodGet, "/api/v1/jobs", nil)
	expectError(t, res, http.StatusForbidden, "Forbidden")

	res = picker.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:         []domain.CartItem{{ProductID: "prod-rice", Quantity: 1}},
		PaymentMethod: domain.PaymentCard,
	})
	expectError(t, res, http.StatusForbidden, "Forbidden")

	res = picker.do(http.MethodPost, "/api/v1/purchase-orders", domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-1",
		Items:      []domain.PurchaseOrderItemInput{{ProductID: "prod-rice", Quantity: 5}},
	})
	expectError(t, res, http.StatusForbidden, "Forbidden")

	res = cashier.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:         []domain.CartItem{{ProductID: "prod-rice", Quantity: 1}},
		PaymentMethod: domain.PaymentCard,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("card sale expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var sale domain.SaleCommitResponse
	decodeInto(t, res, &sale)

	res = picker.do(http.MethodPost, "/api/v1/jobs/"+sale.PickJob.ID+"/assign", domain.JobAssignRequest{EmployeeID: "emp-picker-2"})
	expectError(t, res, http.StatusForbidden, "Forbidden")

	res = cashier.do(http.MethodPost, "/api/v1/sales/"+sale.Sale.ID+"/returns", domain.ReturnRequest{
		Items: []domain.ReturnItemInput{{ProductID: "prod-rice", Quantity: 1, Condition: domain.ConditionResalable}},
	})
	expectError(t, res, http.StatusForbidden, "Forbidden")
}

func TestPurchaseOrderReceiveCreatesPutaway(t *testing.T) {
	handler := newTestAPI(t).Handler()
	manager := newClient(t, handler, "manager", "admin123")

	res := manager.do(http.MethodPost, "/api/v1/purchase-orders", domain.PurchaseOrderCreateRequest{
		SupplierID: "sup-fresh",
		Submit:     true,
		Items:      []domain.PurchaseOrderItemInput{{ProductID: "prod-soap", Quantity: 10, UnitCost: decimal.NewFromInt(1)}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create po expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var created domain.PurchaseOrderResponse
	decodeInto(t, res, &created)

	res = manager.do(http.MethodPost, "/api/v1/purchase-orders/"+created.PurchaseOrder.ID+"/receive", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("receive expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var received domain.PurchaseOrderResponse
	decodeInto(t, res, &received)
	if received.PurchaseOrder.Status != domain.POStatusReceived {
		t.Fatalf("expected Received, got %s", received.PurchaseOrder.Status)
	}
	if received.PutawayJob == nil || received.PutawayJob.Type != domain.JobTypePutaway {
		t.Fatalf("expected putaway job, got %+v", received.PutawayJob)
	}

	res = manager.do(http.MethodPost, "/api/v1/purchase-orders/"+created.PurchaseOrder.ID+"/cancel", nil)
	expectError(t, res, http.StatusConflict, "InvalidState")

	res = manager.do(http.MethodGet, "/api/v1/jobs?type=putaway", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list jobs expected 200, got %d", res.Code)
	}
	var jobs domain.JobListResponse
	decodeInto(t, res, &jobs)
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].ID != received.PutawayJob.ID {
		t.Fatalf("expected the putaway job in the queue, got %+v", jobs.Jobs)
	}
}

func TestResetJobRequiresManagerPIN(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := newClient(t, handler, "cashier", "cashier123")
	manager := newClient(t, handler, "manager", "admin123")

	res := cashier.do(http.MethodPost, "/api/v1/sales", domain.SaleCommitRequest{
		Items:         []domain.CartItem{{ProductID: "prod-bread", Quantity: 1}},
		PaymentMethod: domain.PaymentMobileMoney,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("commit sale expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var sale domain.SaleCommitResponse
	decodeInto(t, res, &sale)
	jobPath := "/api/v1/jobs/" + sale.PickJob.ID

	res = manager.do(http.MethodPost, jobPath+"/assign", domain.JobAssignRequest{EmployeeID: "emp-picker-2"})
	if res.Code != http.StatusOK {
		t.Fatalf("assign expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = manager.do(http.MethodPost, jobPath+"/reset", nil)
	expectError(t, res, http.StatusForbidden, "Forbidden")

	req := httptest.NewRequest(http.MethodPost, jobPath+"/reset", nil)
	req.Header.Set("Authorization", "Bearer "+manager.token)
	req.Header.Set("X-CSRF-Token", manager.csrf)
	req.Header.Set("X-Manager-PIN", testManagerPIN)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Job domain.WarehouseJob `json:"job"`
	}
	decodeInto(t, rec, &body)
	if body.Job.Status != domain.JobStatusPending || body.Job.AssignedTo != "" {
		t.Fatalf("expected job back in Pending and unassigned, got %+v", body.Job)
	}
}

func TestShiftOpenAndCloseOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := newClient(t, handler, "cashier", "cashier123")

	res := cashier.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{OpeningFloat: decimal.NewFromInt(100)})
	if res.Code != http.StatusCreated {
		t.Fatalf("open shift expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var opened domain.ShiftResponse
	decodeInto(t, res, &opened)
	if opened.Shift.CashierName != "Kofi Cashier" {
		t.Fatalf("expected cashier name from employee record, got %q", opened.Shift.CashierName)
	}

	res = cashier.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{OpeningFloat: decimal.NewFromInt(50)})
	expectError(t, res, http.StatusConflict, "ShiftAlreadyOpen")

	res = cashier.do(http.MethodGet, "/api/v1/shifts/active", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("active shift expected 200, got %d", res.Code)
	}

	closePath := "/api/v1/shifts/" + opened.Shift.ID + "/close"
	res = cashier.do(http.MethodPost, closePath, domain.ShiftCloseRequest{
		DenominationCounts: []domain.DenominationCount{{Denomination: decimal.NewFromInt(50), Count: 1}},
	})
	expectError(t, res, http.StatusBadRequest, "VarianceUnexplained")

	res = cashier.do(http.MethodPost, closePath, domain.ShiftCloseRequest{
		DenominationCounts: []domain.DenominationCount{{Denomination: decimal.NewFromInt(50), Count: 2}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("close shift expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var closed domain.ShiftResponse
	decodeInto(t, res, &closed)
	if closed.Shift.Status != domain.ShiftStatusClosed || !closed.Shift.Variance.IsZero() {
		t.Fatalf("unexpected closed shift: %+v", closed.Shift)
	}

	res = cashier.do(http.MethodPost, closePath, domain.ShiftCloseRequest{})
	expectError(t, res, http.StatusConflict, "ShiftAlreadyClosed")
}

func TestDiscountCodeValidateAndCreate(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := newClient(t, handler, "cashier", "cashier123")
	manager := newClient(t, handler, "manager", "admin123")

	res := cashier.do(http.MethodPost, "/api/v1/discount-codes/validate", domain.DiscountValidateRequest{
		Code:     " welcome10 ",
		Subtotal: decimal.NewFromInt(50),
	})
	if res.Code != http.StatusOK {
		t.Fatalf("validate expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var validated domain.DiscountValidateResponse
	decodeInto(t, res, &validated)
	if validated.Code != "WELCOME10" || !validated.Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected WELCOME10 worth 5, got %+v", validated)
	}

	res = cashier.do(http.MethodPost, "/api/v1/discount-codes/validate", domain.DiscountValidateRequest{
		Code:     "NOPE",
		Subtotal: decimal.NewFromInt(50),
	})
	expectError(t, res, http.StatusBadRequest, "InvalidCode")

	res = cashier.do(http.MethodPost, "/api/v1/discount-codes", domain.DiscountCodeCreateRequest{
		Code: "STAFF15", Type: domain.DiscountPercentage, Value: decimal.NewFromInt(15),
	})
	expectError(t, res, http.StatusForbidden, "Forbidden")

	res = manager.do(http.MethodPost, "/api/v1/discount-codes", domain.DiscountCodeCreateRequest{
		Code: "staff15", Type: domain.DiscountPercentage, Value: decimal.NewFromInt(15),
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create code expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = cashier.do(http.MethodGet, "/api/v1/discount-codes", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "STAFF15") {
		t.Fatalf("expected STAFF15 in listing, got %d %s", res.Code, res.Body.String())
	}
}

func TestMetricsEndpointExposesHTTPLatency(t *testing.T) {
	handler := newTestAPI(t).Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "siifmart_http_request_duration_seconds") {
		t.Fatalf("expected http latency histogram in metrics output")
	}
}

func TestCreateTransferOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	manager := newClient(t, handler, "manager", "admin123")
	picker := newClient(t, handler, "picker", "picker123")

	req := domain.TransferCreateRequest{
		DestSiteID: memory.SiteDC,
		Items:      []domain.CartItem{{ProductID: "prod-rice", Quantity: 4}},
	}
	res := picker.do(http.MethodPost, "/api/v1/transfers", req)
	expectError(t, res, http.StatusForbidden, "Forbidden")

	res = manager.do(http.MethodPost, "/api/v1/transfers", domain.TransferCreateRequest{
		Items: []domain.CartItem{{ProductID: "prod-rice", Quantity: 4}},
	})
	expectError(t, res, http.StatusBadRequest, "InvalidInput")

	res = manager.do(http.MethodPost, "/api/v1/transfers", req)
	if res.Code != http.StatusCreated {
		t.Fatalf("transfer expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var created domain.TransferResponse
	decodeInto(t, res, &created)
	if created.PickJob.SiteID != memory.SiteMain || created.PickJob.DestSiteID != memory.SiteDC {
		t.Fatalf("transfer should pick at the manager's site for %s, got %+v", memory.SiteDC, created.PickJob)
	}
	if created.TransferRef == "" || created.PickJob.OrderRef != created.TransferRef {
		t.Fatalf("pick job should reference the transfer, got %+v", created)
	}
}
