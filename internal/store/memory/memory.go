package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/ledger"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

const (
	SiteMain = "site-main"
	SiteDC   = "site-dc"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	employees       map[string]domain.Employee
	purchaseOrders  map[string]domain.PurchaseOrder
	jobs            map[string]domain.WarehouseJob
	cycleCounts     []domain.CycleCountFlag
	sales           map[string]domain.SaleRecord
	returns         map[string]domain.ReturnRecord
	writeOffs       []domain.WriteOff
	discountCodes   map[string]domain.DiscountCode
	shifts          map[string]domain.ShiftRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the dev/demo accounts. Passwords come from SEED_*_PASSWORD
// and fall back to fixed dev values with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	pickerPwd := envOr("SEED_PICKER_PASSWORD", "picker123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username   string
		password   string
		role       string
		employeeID string
	}{
		{"admin", adminPwd, "admin", ""},
		{"manager", adminPwd, "manager", "emp-manager-1"},
		{"cashier", cashierPwd, "cashier", "emp-cashier-1"},
		{"picker", pickerPwd, "picker", "emp-picker-1"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			EmployeeID: u.employeeID,
			SiteID:     SiteMain,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		employees:       make(map[string]domain.Employee),
		purchaseOrders:  make(map[string]domain.PurchaseOrder),
		jobs:            make(map[string]domain.WarehouseJob),
		sales:           make(map[string]domain.SaleRecord),
		returns:         make(map[string]domain.ReturnRecord),
		discountCodes:   make(map[string]domain.DiscountCode),
		shifts:          make(map[string]domain.ShiftRecord),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-rice", SKU: "SKU-RICE-5KG", Name: "Rice 5kg", SiteID: SiteMain, Price: money("45.00"), Stock: 40, Location: "A-01-01", MinStock: 10},
		{ID: "prod-oil", SKU: "SKU-OIL-1L", Name: "Cooking Oil 1L", SiteID: SiteMain, Price: money("12.50"), Stock: 25, Location: "A-01-02", MinStock: 10},
		{ID: "prod-milk", SKU: "SKU-MILK-1L", Name: "UHT Milk 1L", SiteID: SiteMain, Price: money("3.80"), SalePrice: money("3.50"), IsOnSale: true, Stock: 60, Location: "B-02-01", MinStock: 20},
		{ID: "prod-bread", SKU: "SKU-BREAD", Name: "Sandwich Bread", SiteID: SiteMain, Price: money("2.40"), Stock: 12, Location: "B-02-03", MinStock: 10},
		{ID: "prod-tea", SKU: "SKU-TEA-50", Name: "Tea Bags 50", SiteID: SiteMain, Price: money("4.20"), Stock: 8, Location: "C-01-04", MinStock: 10},
		{ID: "prod-soap", SKU: "SKU-SOAP", Name: "Bath Soap", SiteID: SiteMain, Price: money("1.75"), Stock: 0, MinStock: 10},
		{ID: "prod-water", SKU: "SKU-WATER-600", Name: "Mineral Water 600ml", SiteID: SiteMain, Price: money("0.90"), Stock: 30, Location: domain.LocationReceivingDock, MinStock: 10},
		{ID: "prod-dc-rice", SKU: "SKU-RICE-5KG", Name: "Rice 5kg", SiteID: SiteDC, Price: money("44.00"), Stock: 200, Location: "D-03-01", MinStock: 50},
	}
	for _, p := range products {
		p.Status = statusFor(p)
		p.Version = 1
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	for _, e := range []domain.Employee{
		{ID: "emp-manager-1", Name: "Amina Manager", SiteID: SiteMain, Role: "manager", Active: true},
		{ID: "emp-cashier-1", Name: "Kofi Cashier", SiteID: SiteMain, Role: "cashier", Active: true},
		{ID: "emp-picker-1", Name: "Lina Picker", SiteID: SiteMain, Role: "picker", Active: true},
		{ID: "emp-picker-2", Name: "Omar Picker", SiteID: SiteMain, Role: "picker", Active: true},
		{ID: "emp-dc-1", Name: "Tariq Loader", SiteID: SiteDC, Role: "picker", Active: true},
	} {
		s.employees[e.ID] = e
	}

	for _, c := range []domain.DiscountCode{
		{Code: "WELCOME10", Type: domain.DiscountPercentage, Value: money("10"), MaxDiscountAmount: money("20")},
		{Code: "FIXED5", Type: domain.DiscountFixed, Value: money("5"), MinPurchaseAmount: money("20"), UsageLimit: 100},
	} {
		c.Status = domain.DiscountStatusActive
		c.CreatedAt = now
		s.discountCodes[c.Code] = c
	}

	s.usersByUsername = seedUsers()
	return s
}

func statusFor(p domain.Product) string {
	return ledger.StatusFor(p.Stock, p.MinStock, p.Status)
}

func (s *Store) ListProducts(_ context.Context, siteID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if siteID != "" && p.SiteID != siteID {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	for _, p := range s.products {
		if p.SiteID == product.SiteID && strings.EqualFold(p.SKU, product.SKU) {
			return nil, store.ErrDuplicate
		}
	}
	if product.Status == "" {
		product.Status = statusFor(product)
	}
	product.Version = 1
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) ApplyStockChanges(_ context.Context, changes []domain.StockChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStockChangesLocked(changes); err != nil {
		return err
	}
	s.applyStockChangesLocked(changes, time.Now().UTC())
	return nil
}

func (s *Store) checkStockChangesLocked(changes []domain.StockChange) error {
	seen := make(map[string]struct{}, len(changes))
	for _, change := range changes {
		if _, dup := seen[change.ProductID]; dup {
			return fmt.Errorf("%w: product %s changed twice in one write", store.ErrConflict, change.ProductID)
		}
		seen[change.ProductID] = struct{}{}

		current, ok := s.products[change.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, change.ProductID)
		}
		if current.Version != change.ExpectedVersion {
			return fmt.Errorf("%w: product %s at version %d, expected %d", store.ErrConflict, change.ProductID, current.Version, change.ExpectedVersion)
		}
		if change.Stock < 0 {
			return fmt.Errorf("%w: product %s", store.ErrInsufficientStock, change.ProductID)
		}
	}
	return nil
}

func (s *Store) applyStockChangesLocked(changes []domain.StockChange, at time.Time) {
	for _, change := range changes {
		p := s.products[change.ProductID]
		p.Stock = change.Stock
		p.Location = change.Location
		p.Status = change.Status
		p.Version++
		p.UpdatedAt = at
		s.products[change.ProductID] = p
	}
}

func (s *Store) GetEmployee(_ context.Context, id string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	if _, exists := s.employees[employee.ID]; exists {
		return store.ErrDuplicate
	}
	s.employees[employee.ID] = employee
	return nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if _, exists := s.purchaseOrders[po.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	for i := range po.Items {
		if po.Items[i].ID == "" {
			po.Items[i].ID = xid.New("poi")
		}
	}
	stored := clonePurchaseOrder(po)
	s.purchaseOrders[po.ID] = stored
	out := clonePurchaseOrder(stored)
	return &out, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, siteID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrders))
	for _, po := range s.purchaseOrders {
		if siteID != "" && po.SiteID != siteID {
			continue
		}
		if status != "" && !strings.EqualFold(po.Status, status) {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, id string, receivedBy string, receivedAt time.Time, job domain.WarehouseJob) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if po.Status != domain.POStatusDraft && po.Status != domain.POStatusPending {
		return nil, fmt.Errorf("%w: purchase order %s is %s", store.ErrInvalidState, id, po.Status)
	}
	if _, exists := s.jobs[job.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	job.Version = 1
	s.jobs[job.ID] = cloneJob(job)

	po.Status = domain.POStatusReceived
	po.ReceivedBy = strings.TrimSpace(receivedBy)
	if po.ReceivedBy == "" {
		po.ReceivedBy = "system"
	}
	po.ReceivedAt = &receivedAt
	po.PutawayJobID = job.ID
	s.purchaseOrders[id] = po
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) CancelPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if po.Status != domain.POStatusDraft && po.Status != domain.POStatusPending {
		return nil, fmt.Errorf("%w: purchase order %s is %s", store.ErrInvalidState, id, po.Status)
	}
	po.Status = domain.POStatusCancelled
	s.purchaseOrders[id] = po
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) CreateJob(_ context.Context, job domain.WarehouseJob) (*domain.WarehouseJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = xid.New("job")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return nil, store.ErrDuplicate
	}
	job.Version = 1
	s.jobs[job.ID] = cloneJob(job)
	out := cloneJob(job)
	return &out, nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.WarehouseJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

func (s *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.WarehouseJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.WarehouseJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.SiteID != "" && job.SiteID != filter.SiteID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.AssignedTo != "" && job.AssignedTo != filter.AssignedTo {
			continue
		}
		if filter.OrderRef != "" && job.OrderRef != filter.OrderRef {
			continue
		}
		result = append(result, cloneJob(job))
	}
	slices.SortFunc(result, compareJobs)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateJob(_ context.Context, job domain.WarehouseJob, expectedVersion int64) (*domain.WarehouseJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: job %s at version %d, expected %d", store.ErrConflict, job.ID, current.Version, expectedVersion)
	}
	if current.Status == domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is completed", store.ErrInvalidState, job.ID)
	}
	job.Version = current.Version + 1
	s.jobs[job.ID] = cloneJob(job)
	out := cloneJob(job)
	return &out, nil
}

func (s *Store) CompleteJob(_ context.Context, completion store.JobCompletion) (*domain.WarehouseJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[completion.Job.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status == domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is already completed", store.ErrInvalidState, current.ID)
	}
	if current.Version != completion.ExpectedVersion {
		return nil, fmt.Errorf("%w: job %s at version %d, expected %d", store.ErrConflict, current.ID, current.Version, completion.ExpectedVersion)
	}
	if err := s.checkStockChangesLocked(completion.StockChanges); err != nil {
		return nil, err
	}
	if completion.Successor != nil {
		if _, exists := s.jobs[completion.Successor.ID]; exists {
			return nil, store.ErrDuplicate
		}
	}

	now := time.Now().UTC()
	s.applyStockChangesLocked(completion.StockChanges, now)

	job := cloneJob(completion.Job)
	job.Version = current.Version + 1
	s.jobs[job.ID] = job
	if completion.Successor != nil {
		successor := cloneJob(*completion.Successor)
		successor.Version = 1
		s.jobs[successor.ID] = successor
	}
	for _, flag := range completion.Flags {
		s.appendFlagLocked(flag, now)
	}
	if completion.SaleFulfillment != "" {
		if sale, ok := s.sales[job.OrderRef]; ok {
			sale.FulfillmentStatus = completion.SaleFulfillment
			s.sales[sale.ID] = sale
		}
	}
	out := cloneJob(job)
	return &out, nil
}

func (s *Store) CountActiveJobs(_ context.Context, employeeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobs {
		if job.AssignedTo == employeeID && job.Status == domain.JobStatusInProgress {
			count++
		}
	}
	return count, nil
}

func (s *Store) FlagForCycleCount(_ context.Context, flag domain.CycleCountFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendFlagLocked(flag, time.Now().UTC())
	return nil
}

func (s *Store) appendFlagLocked(flag domain.CycleCountFlag, now time.Time) {
	if flag.ID == "" {
		flag.ID = xid.New("ccf")
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = now
	}
	s.cycleCounts = append(s.cycleCounts, flag)
}

func (s *Store) ListCycleCountFlags(_ context.Context, siteID string, limit int) ([]domain.CycleCountFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CycleCountFlag, 0, len(s.cycleCounts))
	for i := len(s.cycleCounts) - 1; i >= 0; i-- {
		flag := s.cycleCounts[i]
		if siteID != "" && flag.SiteID != siteID {
			continue
		}
		result = append(result, flag)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, commit store.SaleCommit) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := commit.Sale
	if len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrInvalidState)
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.jobs[commit.PickJob.ID]; exists {
		return nil, store.ErrDuplicate
	}

	needed := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		needed[item.ProductID] += item.Quantity
	}
	for productID, qty := range needed {
		p, ok := s.products[productID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if p.Stock < qty {
			return nil, fmt.Errorf("%w: product %s has %d, sale needs %d", store.ErrInsufficientStock, productID, p.Stock, qty)
		}
	}

	var code domain.DiscountCode
	if commit.DiscountCode != "" {
		var ok bool
		code, ok = s.discountCodes[commit.DiscountCode]
		if !ok {
			return nil, fmt.Errorf("%w: discount code %s", store.ErrNotFound, commit.DiscountCode)
		}
		if code.UsageLimit > 0 && code.UsageCount >= code.UsageLimit {
			return nil, fmt.Errorf("%w: %s", store.ErrUsageExhausted, code.Code)
		}
	}

	if commit.DiscountCode != "" {
		code.UsageCount++
		s.discountCodes[code.Code] = code
	}
	s.sales[sale.ID] = cloneSale(sale)
	pick := cloneJob(commit.PickJob)
	pick.Version = 1
	s.jobs[pick.ID] = pick

	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, siteID string, limit int) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, len(s.sales))
	for _, sale := range s.sales {
		if siteID != "" && sale.SiteID != siteID {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.SaleRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SalesTotalsByMethod(_ context.Context, cashierID string, siteID string, since time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]decimal.Decimal)
	for _, sale := range s.sales {
		if sale.CashierID != cashierID || sale.SiteID != siteID {
			continue
		}
		if sale.CreatedAt.Before(since) {
			continue
		}
		totals[sale.PaymentMethod] = totals[sale.PaymentMethod].Add(sale.Total)
	}
	return totals, nil
}

func (s *Store) GetReturnedQuantities(_ context.Context, saleID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedLocked(saleID), nil
}

func (s *Store) returnedLocked(saleID string) map[string]int {
	result := make(map[string]int)
	for _, ret := range s.returns {
		if ret.SaleID != saleID {
			continue
		}
		for _, item := range ret.Items {
			result[item.ProductID] += item.Quantity
		}
	}
	return result
}

func (s *Store) CreateReturn(_ context.Context, commit store.ReturnCommit) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := commit.Record
	sale, ok := s.sales[record.SaleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := s.returns[record.ID]; exists {
		return nil, store.ErrDuplicate
	}

	sold := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		sold[item.ProductID] += item.Quantity
	}
	returned := s.returnedLocked(record.SaleID)
	for _, item := range record.Items {
		returned[item.ProductID] += item.Quantity
		if returned[item.ProductID] > sold[item.ProductID] {
			return nil, fmt.Errorf("%w: product %s sold %d, returning %d", store.ErrQuantityExceeded, item.ProductID, sold[item.ProductID], returned[item.ProductID])
		}
	}
	if err := s.checkStockChangesLocked(commit.StockChanges); err != nil {
		return nil, err
	}

	s.applyStockChangesLocked(commit.StockChanges, time.Now().UTC())
	s.returns[record.ID] = cloneReturn(record)
	s.writeOffs = append(s.writeOffs, commit.WriteOffs...)

	sale.Status = domain.SaleStatusRefunded
	for productID, qty := range sold {
		if returned[productID] < qty {
			sale.Status = domain.SaleStatusPartiallyRefunded
			break
		}
	}
	s.sales[sale.ID] = sale

	out := cloneReturn(record)
	return &out, nil
}

func (s *Store) ListWriteOffs(_ context.Context, siteID string, limit int) ([]domain.WriteOff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.WriteOff, 0, len(s.writeOffs))
	for i := len(s.writeOffs) - 1; i >= 0; i-- {
		w := s.writeOffs[i]
		if siteID != "" && w.SiteID != siteID {
			continue
		}
		result = append(result, w)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateDiscountCode(_ context.Context, code domain.DiscountCode) (*domain.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.discountCodes[code.Code]; exists {
		return nil, store.ErrDuplicate
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	code.ApplicableSites = slices.Clone(code.ApplicableSites)
	s.discountCodes[code.Code] = code
	return &code, nil
}

func (s *Store) GetDiscountCode(_ context.Context, code string) (*domain.DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.discountCodes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.ApplicableSites = slices.Clone(c.ApplicableSites)
	return &c, nil
}

func (s *Store) ListDiscountCodes(_ context.Context) ([]domain.DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DiscountCode, 0, len(s.discountCodes))
	for _, c := range s.discountCodes {
		c.ApplicableSites = slices.Clone(c.ApplicableSites)
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.DiscountCode) int {
		return strings.Compare(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.ShiftRecord) (*domain.ShiftRecord, error) {
	if strings.TrimSpace(shift.CashierID) == "" || strings.TrimSpace(shift.SiteID) == "" {
		return nil, fmt.Errorf("%w: shift needs cashier and site", store.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shifts {
		if existing.CashierID == shift.CashierID && existing.Status == domain.ShiftStatusOpen {
			return nil, fmt.Errorf("%w: cashier %s has open shift %s", store.ErrDuplicate, shift.CashierID, existing.ID)
		}
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.EndTime = nil

	s.shifts[shift.ID] = cloneShift(shift)
	out := cloneShift(shift)
	return &out, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.ShiftRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneShift(shift)
	return &out, nil
}

func (s *Store) GetOpenShift(_ context.Context, cashierID string) (*domain.ShiftRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shift := range s.shifts {
		if shift.CashierID == cashierID && shift.Status == domain.ShiftStatusOpen {
			out := cloneShift(shift)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CloseShift(_ context.Context, shift domain.ShiftRecord) (*domain.ShiftRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.shifts[shift.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status == domain.ShiftStatusClosed {
		return nil, fmt.Errorf("%w: shift %s is closed", store.ErrInvalidState, shift.ID)
	}
	shift.Status = domain.ShiftStatusClosed
	if shift.EndTime == nil {
		now := time.Now().UTC()
		shift.EndTime = &now
	}
	s.shifts[shift.ID] = cloneShift(shift)
	out := cloneShift(shift)
	return &out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if siteID != "" && entry.SiteID != siteID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("%w: empty username", store.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func compareJobs(a, b domain.WarehouseJob) int {
	if ra, rb := domain.PriorityRank(a.Priority), domain.PriorityRank(b.Priority); ra != rb {
		return rb - ra
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneJob(src domain.WarehouseJob) domain.WarehouseJob {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	return dst
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneSale(src domain.SaleRecord) domain.SaleRecord {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.TaxBreakdown = slices.Clone(src.TaxBreakdown)
	return dst
}

func cloneReturn(src domain.ReturnRecord) domain.ReturnRecord {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneShift(src domain.ShiftRecord) domain.ShiftRecord {
	dst := src
	dst.DenominationCounts = slices.Clone(src.DenominationCounts)
	if src.PaymentTotals != nil {
		dst.PaymentTotals = make(map[string]decimal.Decimal, len(src.PaymentTotals))
		for k, v := range src.PaymentTotals {
			dst.PaymentTotals[k] = v
		}
	}
	return dst
}
