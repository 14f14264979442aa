package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("version conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUsageExhausted    = errors.New("discount code usage exhausted")
	ErrDuplicate         = errors.New("duplicate")
	ErrQuantityExceeded  = errors.New("quantity exceeds remaining")
)

// JobCompletion is applied all-or-nothing: the job row moves from
// ExpectedVersion to Job, every StockChange passes its version check, the
// successor job (if any) is inserted and every Flag is recorded. When
// SaleFulfillment is set and Job.OrderRef names a sale, that sale's
// fulfillment status is updated too; any other OrderRef is left alone.
type JobCompletion struct {
	Job             domain.WarehouseJob
	ExpectedVersion int64
	StockChanges    []domain.StockChange
	Successor       *domain.WarehouseJob
	Flags           []domain.CycleCountFlag
	SaleFulfillment string
}

// SaleCommit inserts a sale with its pick job. Stock is rechecked against the
// sale lines and the discount code usage is claimed inside the same write.
type SaleCommit struct {
	Sale         domain.SaleRecord
	PickJob      domain.WarehouseJob
	DiscountCode string
}

// ReturnCommit inserts a return. The store rejects it with ErrQuantityExceeded
// when any product would be returned beyond what the sale sold, and moves the
// sale to Refunded or Partially Refunded.
type ReturnCommit struct {
	Record       domain.ReturnRecord
	StockChanges []domain.StockChange
	WriteOffs    []domain.WriteOff
}

type Repository interface {
	ListProducts(ctx context.Context, siteID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ApplyStockChanges(ctx context.Context, changes []domain.StockChange) error

	GetEmployee(ctx context.Context, id string) (*domain.Employee, error)
	CreateEmployee(ctx context.Context, employee domain.Employee) error

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, siteID string, status string, limit int) ([]domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, id string, receivedBy string, receivedAt time.Time, job domain.WarehouseJob) (*domain.PurchaseOrder, error)
	CancelPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)

	CreateJob(ctx context.Context, job domain.WarehouseJob) (*domain.WarehouseJob, error)
	GetJob(ctx context.Context, id string) (*domain.WarehouseJob, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.WarehouseJob, error)
	UpdateJob(ctx context.Context, job domain.WarehouseJob, expectedVersion int64) (*domain.WarehouseJob, error)
	CompleteJob(ctx context.Context, completion JobCompletion) (*domain.WarehouseJob, error)
	CountActiveJobs(ctx context.Context, employeeID string) (int, error)
	FlagForCycleCount(ctx context.Context, flag domain.CycleCountFlag) error
	ListCycleCountFlags(ctx context.Context, siteID string, limit int) ([]domain.CycleCountFlag, error)

	CreateSale(ctx context.Context, commit SaleCommit) (*domain.SaleRecord, error)
	GetSale(ctx context.Context, id string) (*domain.SaleRecord, error)
	ListSales(ctx context.Context, siteID string, limit int) ([]domain.SaleRecord, error)
	SalesTotalsByMethod(ctx context.Context, cashierID string, siteID string, since time.Time) (map[string]decimal.Decimal, error)

	GetReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error)
	CreateReturn(ctx context.Context, commit ReturnCommit) (*domain.ReturnRecord, error)
	ListWriteOffs(ctx context.Context, siteID string, limit int) ([]domain.WriteOff, error)

	CreateDiscountCode(ctx context.Context, code domain.DiscountCode) (*domain.DiscountCode, error)
	GetDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error)
	ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error)

	CreateShift(ctx context.Context, shift domain.ShiftRecord) (*domain.ShiftRecord, error)
	GetShift(ctx context.Context, id string) (*domain.ShiftRecord, error)
	GetOpenShift(ctx context.Context, cashierID string) (*domain.ShiftRecord, error)
	CloseShift(ctx context.Context, shift domain.ShiftRecord) (*domain.ShiftRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, siteID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
