package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	EmployeeID  string `json:"employee_id,omitempty"`
	SiteID      string `json:"site_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username   string `json:"username" validate:"required,min=4,max=64"`
	Password   string `json:"password" validate:"required,min=6"`
	Role       string `json:"role" validate:"required,oneof=manager cashier picker"`
	EmployeeID string `json:"employee_id"`
	SiteID     string `json:"site_id"`
}

type UserSummary struct {
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	EmployeeID string    `json:"employee_id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU       string          `json:"sku" validate:"required,max=64"`
	Name      string          `json:"name" validate:"required"`
	SiteID    string          `json:"site_id"`
	Price     decimal.Decimal `json:"price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	IsOnSale  bool            `json:"is_on_sale"`
	MinStock  int             `json:"min_stock" validate:"gte=0"`
}

type PurchaseOrderItemInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type PurchaseOrderCreateRequest struct {
	SiteID     string                   `json:"site_id"`
	SupplierID string                   `json:"supplier_id" validate:"required"`
	Submit     bool                     `json:"submit"`
	Items      []PurchaseOrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// ReceivedItem narrows a receipt to one PO line. LineID wins over ProductID.
type ReceivedItem struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

type PurchaseOrderReceiveRequest struct {
	Items []ReceivedItem `json:"items" validate:"dive"`
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
	PutawayJob    *WarehouseJob `json:"putaway_job,omitempty"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type JobAssignRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
}

type JobAssignResponse struct {
	Job              WarehouseJob `json:"job"`
	EstimatedMinutes int          `json:"estimated_minutes"`
}

type JobLineResolveRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	ActualQty int    `json:"actual_qty" validate:"gte=0"`
	Outcome   string `json:"outcome" validate:"required,oneof=Normal Short Skipped"`
	BinCode   string `json:"bin_code"`
}

type JobCompleteResponse struct {
	Job               WarehouseJob     `json:"job"`
	Successor         *WarehouseJob    `json:"successor,omitempty"`
	Flags             []CycleCountFlag `json:"flags,omitempty"`
	FulfillmentStatus string           `json:"fulfillment_status,omitempty"`
}

type JobListResponse struct {
	Jobs []WarehouseJob `json:"jobs"`
}

type QuoteRequest struct {
	SiteID       string     `json:"site_id"`
	Items        []CartItem `json:"items" validate:"required,min=1,dive"`
	DiscountCode string     `json:"discount_code"`
}

type QuoteResponse struct {
	Items  []PricedLine `json:"items"`
	Totals Totals       `json:"totals"`
}

type SaleCommitRequest struct {
	SiteID          string          `json:"site_id"`
	Items           []CartItem      `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string          `json:"payment_method" validate:"required,oneof=Cash Card 'Mobile Money'"`
	AmountTendered  decimal.Decimal `json:"amount_tendered"`
	CustomerID      string          `json:"customer_id"`
	DiscountCode    string          `json:"discount_code"`
	FulfillmentType string          `json:"fulfillment_type" validate:"omitempty,oneof=In-Store Delivery Pickup"`
}

type SaleCommitResponse struct {
	Sale    SaleRecord   `json:"sale"`
	PickJob WarehouseJob `json:"pick_job"`
}

type ReturnItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
	Condition string `json:"condition" validate:"required,oneof=Resalable Damaged"`
	Reason    string `json:"reason"`
}

type ReturnRequest struct {
	Items       []ReturnItemInput `json:"items" validate:"required,min=1,dive"`
	CashierName string            `json:"cashier_name"`
}

type ReturnResponse struct {
	Return      ReturnRecord    `json:"return"`
	RefundTotal decimal.Decimal `json:"refund_total"`
	WriteOffs   []WriteOff      `json:"write_offs,omitempty"`
}

type ShiftOpenRequest struct {
	CashierID    string          `json:"cashier_id"`
	CashierName  string          `json:"cashier_name"`
	SiteID       string          `json:"site_id"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
}

type ShiftCloseRequest struct {
	DenominationCounts []DenominationCount `json:"denomination_counts" validate:"dive"`
	DiscrepancyReason  string              `json:"discrepancy_reason"`
}

type ShiftResponse struct {
	Shift ShiftRecord `json:"shift"`
}

type DiscountCodeCreateRequest struct {
	Code              string          `json:"code" validate:"required,max=32"`
	Type              string          `json:"type" validate:"required,oneof=PERCENTAGE FIXED"`
	Value             decimal.Decimal `json:"value"`
	MinPurchaseAmount decimal.Decimal `json:"min_purchase_amount"`
	MaxDiscountAmount decimal.Decimal `json:"max_discount_amount"`
	ValidFrom         *time.Time      `json:"valid_from"`
	ValidUntil        *time.Time      `json:"valid_until"`
	UsageLimit        int             `json:"usage_limit" validate:"gte=0"`
	ApplicableSites   []string        `json:"applicable_sites"`
}

type DiscountValidateRequest struct {
	Code     string          `json:"code" validate:"required"`
	SiteID   string          `json:"site_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type DiscountValidateResponse struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferCreateRequest moves stock from SourceSiteID to DestSiteID through
// the pick, pack and dispatch queue of the source site.
type TransferCreateRequest struct {
	SourceSiteID string     `json:"source_site_id"`
	DestSiteID   string     `json:"dest_site_id" validate:"required"`
	Priority     string     `json:"priority" validate:"omitempty,oneof=Critical High Normal"`
	Items        []CartItem `json:"items" validate:"required,min=1,dive"`
}

type TransferResponse struct {
	TransferRef string       `json:"transfer_ref"`
	PickJob     WarehouseJob `json:"pick_job"`
}
