package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProductStatusActive     = "active"
	ProductStatusLowStock   = "low_stock"
	ProductStatusOutOfStock = "out_of_stock"
	ProductStatusArchived   = "archived"

	// LocationReceivingDock marks goods that arrived but were never put away.
	LocationReceivingDock = "Receiving Dock"
	DefaultMinStock       = 10
)

const (
	POStatusDraft     = "Draft"
	POStatusPending   = "Pending"
	POStatusReceived  = "Received"
	POStatusCancelled = "Cancelled"
)

const (
	JobTypePutaway  = "PUTAWAY"
	JobTypePick     = "PICK"
	JobTypePack     = "PACK"
	JobTypeDispatch = "DISPATCH"

	JobStatusPending    = "Pending"
	JobStatusInProgress = "In-Progress"
	JobStatusCompleted  = "Completed"

	JobPriorityCritical = "Critical"
	JobPriorityHigh     = "High"
	JobPriorityNormal   = "Normal"

	LineStatusPending = "Pending"
	LineStatusPicked  = "Picked"
	LineStatusShort   = "Short"
	LineStatusSkipped = "Skipped"

	OutcomeNormal  = "Normal"
	OutcomeShort   = "Short"
	OutcomeSkipped = "Skipped"

	LocationPackingStation = "Packing Station 1"
	LocationDispatchBay    = "Dispatch Bay"
	LocationPickZone       = "Zone A"

	CycleCountShort   = "short"
	CycleCountSkipped = "skipped"
)

const (
	SaleStatusCompleted         = "Completed"
	SaleStatusPartiallyRefunded = "Partially Refunded"
	SaleStatusRefunded          = "Refunded"

	FulfillmentInStore  = "In-Store"
	FulfillmentDelivery = "Delivery"
	FulfillmentPickup   = "Pickup"

	// Fulfillment progress of a sale as its warehouse jobs complete.
	FulfillmentStatusPending     = "Pending"
	FulfillmentStatusPacking     = "Packing"
	FulfillmentStatusShipped     = "Shipped"
	FulfillmentStatusDelivered   = "Delivered"
	FulfillmentStatusUnfulfilled = "Unfulfilled"

	PaymentCash        = "Cash"
	PaymentCard        = "Card"
	PaymentMobileMoney = "Mobile Money"
)

const (
	DiscountPercentage = "PERCENTAGE"
	DiscountFixed      = "FIXED"

	DiscountStatusActive   = "Active"
	DiscountStatusInactive = "Inactive"
)

const (
	ConditionResalable = "Resalable"
	ConditionDamaged   = "Damaged"

	ReturnReasonDefective   = "Defective"
	ReturnReasonExpired     = "Expired"
	ReturnReasonChangedMind = "Customer Changed Mind"
	ReturnReasonWrongItem   = "Wrong Item"
)

const (
	ShiftStatusOpen   = "Open"
	ShiftStatusClosed = "Closed"
)

type Actor struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	EmployeeID string `json:"employee_id,omitempty"`
	SiteID     string `json:"site_id,omitempty"`
}

type UserAccount struct {
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	Role       string    `json:"role"`
	EmployeeID string    `json:"employee_id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type Employee struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SiteID string `json:"site_id"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	SiteID    string          `json:"site_id"`
	Price     decimal.Decimal `json:"price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	IsOnSale  bool            `json:"is_on_sale"`
	Stock     int             `json:"stock"`
	Location  string          `json:"location,omitempty"`
	MinStock  int             `json:"min_stock"`
	Status    string          `json:"status"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UnitPrice is the price a register charges right now.
func (p Product) UnitPrice() decimal.Decimal {
	if p.IsOnSale && p.SalePrice.IsPositive() {
		return p.SalePrice
	}
	return p.Price
}

// StockChange is a conditional write against one product row. It applies only
// while the stored version still equals ExpectedVersion.
type StockChange struct {
	ProductID       string `json:"product_id"`
	ExpectedVersion int64  `json:"expected_version"`
	Stock           int    `json:"stock"`
	Location        string `json:"location"`
	Status          string `json:"status"`
}

type PurchaseOrderItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type PurchaseOrder struct {
	ID           string              `json:"id"`
	PONumber     string              `json:"po_number"`
	SiteID       string              `json:"site_id"`
	SupplierID   string              `json:"supplier_id"`
	Status       string              `json:"status"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	ReceivedAt   *time.Time          `json:"received_at,omitempty"`
	ReceivedBy   string              `json:"received_by,omitempty"`
	PutawayJobID string              `json:"putaway_job_id,omitempty"`
	Items        []PurchaseOrderItem `json:"items"`
}

type JobLine struct {
	ProductID   string `json:"product_id"`
	SKU         string `json:"sku"`
	Name        string `json:"name,omitempty"`
	ExpectedQty int    `json:"expected_qty"`
	ActualQty   int    `json:"actual_qty"`
	Status      string `json:"status"`
	BinCode     string `json:"bin_code,omitempty"`
}

type WarehouseJob struct {
	ID          string     `json:"id"`
	JobNumber   string     `json:"job_number"`
	SiteID      string     `json:"site_id"`
	DestSiteID  string     `json:"dest_site_id,omitempty"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	OrderRef    string     `json:"order_ref"`
	Location    string     `json:"location"`
	Lines       []JobLine  `json:"lines"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int64      `json:"version"`
}

// PriorityRank orders priorities for job queues; higher runs first.
func PriorityRank(priority string) int {
	switch priority {
	case JobPriorityCritical:
		return 3
	case JobPriorityHigh:
		return 2
	case JobPriorityNormal:
		return 1
	default:
		return 0
	}
}

// Resolved reports whether the line has a recorded outcome.
func (l JobLine) Resolved() bool {
	return l.Status != "" && l.Status != LineStatusPending
}

type JobFilter struct {
	SiteID     string
	Status     string
	Type       string
	AssignedTo string
	OrderRef   string
	Limit      int
}

type CycleCountFlag struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	SiteID      string    `json:"site_id"`
	JobID       string    `json:"job_id"`
	ExpectedQty int       `json:"expected_qty"`
	ActualQty   int       `json:"actual_qty"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

type TaxRule struct {
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
	Compound bool            `json:"compound"`
}

type TaxLine struct {
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"amount"`
	Compound bool            `json:"compound"`
}

type AppliedDiscount struct {
	Code   string          `json:"code,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

type CartItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

// PricedLine is a cart line with its unit price already resolved.
type PricedLine struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Totals struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxBreakdown       []TaxLine       `json:"tax_breakdown"`
	TaxTotal           decimal.Decimal `json:"tax_total"`
	Discount           decimal.Decimal `json:"discount"`
	RoundingAdjustment decimal.Decimal `json:"rounding_adjustment"`
	Total              decimal.Decimal `json:"total"`
}

type SaleRecord struct {
	ID                 string          `json:"id"`
	ReceiptNumber      string          `json:"receipt_number"`
	SiteID             string          `json:"site_id"`
	Items              []PricedLine    `json:"items"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxBreakdown       []TaxLine       `json:"tax_breakdown"`
	TaxTotal           decimal.Decimal `json:"tax_total"`
	Discount           AppliedDiscount `json:"discount"`
	RoundingAdjustment decimal.Decimal `json:"rounding_adjustment"`
	Total              decimal.Decimal `json:"total"`
	PaymentMethod      string          `json:"payment_method"`
	AmountTendered     decimal.Decimal `json:"amount_tendered"`
	Change             decimal.Decimal `json:"change"`
	CustomerID         string          `json:"customer_id,omitempty"`
	CashierID          string          `json:"cashier_id"`
	CashierName        string          `json:"cashier_name"`
	FulfillmentType    string          `json:"fulfillment_type"`
	FulfillmentStatus  string          `json:"fulfillment_status"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
}

type DiscountCode struct {
	Code              string          `json:"code"`
	Type              string          `json:"type"`
	Value             decimal.Decimal `json:"value"`
	MinPurchaseAmount decimal.Decimal `json:"min_purchase_amount"`
	MaxDiscountAmount decimal.Decimal `json:"max_discount_amount"`
	ValidFrom         *time.Time      `json:"valid_from,omitempty"`
	ValidUntil        *time.Time      `json:"valid_until,omitempty"`
	UsageLimit        int             `json:"usage_limit"`
	UsageCount        int             `json:"usage_count"`
	ApplicableSites   []string        `json:"applicable_sites,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

type ReturnLine struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Condition string          `json:"condition"`
	Reason    string          `json:"reason"`
}

type ReturnRecord struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	SiteID      string          `json:"site_id"`
	Items       []ReturnLine    `json:"items"`
	RefundTotal decimal.Decimal `json:"refund_total"`
	ProcessedBy string          `json:"processed_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type WriteOff struct {
	ID        string    `json:"id"`
	ReturnID  string    `json:"return_id"`
	ProductID string    `json:"product_id"`
	SiteID    string    `json:"site_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type DenominationCount struct {
	Denomination decimal.Decimal `json:"denomination"`
	Count        int             `json:"count" validate:"gte=0"`
}

type ShiftRecord struct {
	ID                 string                     `json:"id"`
	CashierID          string                     `json:"cashier_id"`
	CashierName        string                     `json:"cashier_name"`
	SiteID             string                     `json:"site_id"`
	StartTime          time.Time                  `json:"start_time"`
	EndTime            *time.Time                 `json:"end_time,omitempty"`
	OpeningFloat       decimal.Decimal            `json:"opening_float"`
	PaymentTotals      map[string]decimal.Decimal `json:"payment_totals,omitempty"`
	CashSales          decimal.Decimal            `json:"cash_sales"`
	ExpectedCash       decimal.Decimal            `json:"expected_cash"`
	CountedCash        decimal.Decimal            `json:"counted_cash"`
	DenominationCounts []DenominationCount        `json:"denomination_counts,omitempty"`
	Variance           decimal.Decimal            `json:"variance"`
	DiscrepancyReason  string                     `json:"discrepancy_reason,omitempty"`
	Status             string                     `json:"status"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReplenishmentSuggestion struct {
	ProductID    string  `json:"product_id"`
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Stock        int     `json:"stock"`
	MinStock     int     `json:"min_stock"`
	SuggestedQty int     `json:"suggested_qty"`
	Urgency      float64 `json:"urgency"`
	Reason       string  `json:"reason"`
}

type ReplenishmentResponse struct {
	SiteID      string                    `json:"site_id"`
	Suggestions []ReplenishmentSuggestion `json:"suggestions"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Cached      bool                      `json:"cached"`
}
