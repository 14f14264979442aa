package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/ledger"
	"siifmart/backend/internal/pricing"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

type pricedCart struct {
	lines    []domain.PricedLine
	products map[string]domain.Product
}

// priceCart merges repeated products and resolves unit prices. Every product
// must be sellable at siteID with enough stock for the merged quantity.
func (s *Service) priceCart(ctx context.Context, siteID string, items []domain.CartItem) (pricedCart, error) {
	if len(items) == 0 {
		return pricedCart{}, domain.Errorf(domain.ErrInvalidInput, "cart is empty")
	}

	qty := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return pricedCart{}, domain.Errorf(domain.ErrInvalidInput, "cart item is missing a product")
		}
		if item.Quantity < 1 {
			return pricedCart{}, domain.Errorf(domain.ErrInvalidInput, "quantity for product %s must be at least 1", productID)
		}
		if _, seen := qty[productID]; !seen {
			order = append(order, productID)
		}
		qty[productID] += item.Quantity
	}

	products, err := s.repo.GetProducts(ctx, order)
	if err != nil {
		return pricedCart{}, err
	}

	lines := make([]domain.PricedLine, 0, len(order))
	for _, productID := range order {
		p, ok := products[productID]
		if !ok || p.SiteID != siteID {
			return pricedCart{}, domain.Errorf(domain.ErrNotFound, "product %s is not sold at site %s", productID, siteID)
		}
		if !ledger.Sellable(p) {
			return pricedCart{}, domain.Errorf(domain.ErrInsufficientStock, "product %s is not available for sale", p.SKU)
		}
		if p.Stock < qty[productID] {
			return pricedCart{}, domain.Errorf(domain.ErrInsufficientStock, "product %s has %d in stock, cart needs %d", p.SKU, p.Stock, qty[productID])
		}
		lines = append(lines, domain.PricedLine{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Quantity:  qty[productID],
			UnitPrice: p.UnitPrice(),
		})
	}
	return pricedCart{lines: lines, products: products}, nil
}

func (s *Service) discountFor(ctx context.Context, raw string, siteID string, subtotal decimal.Decimal) (domain.AppliedDiscount, error) {
	code := normalizeCode(raw)
	if code == "" {
		return domain.AppliedDiscount{Amount: decimal.Zero}, nil
	}
	found, err := s.repo.GetDiscountCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AppliedDiscount{}, domain.Errorf(domain.ErrInvalidCode, "discount code %s not found", code)
		}
		return domain.AppliedDiscount{}, err
	}
	amount, err := pricing.ResolveDiscount(found, siteID, subtotal, s.now())
	if err != nil {
		return domain.AppliedDiscount{}, err
	}
	return domain.AppliedDiscount{Code: found.Code, Amount: amount}, nil
}

// Quote prices a cart without writing anything.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.QuoteResponse, error) {
	siteID := s.siteOrDefault(req.SiteID)
	cart, err := s.priceCart(ctx, siteID, req.Items)
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	discount, err := s.discountFor(ctx, req.DiscountCode, siteID, pricing.Subtotal(cart.lines))
	if err != nil {
		return domain.QuoteResponse{}, err
	}
	return domain.QuoteResponse{
		Items:  cart.lines,
		Totals: pricing.ComputeTotals(cart.lines, discount.Amount, s.taxRules, s.cashRounding),
	}, nil
}

func (s *Service) CommitSale(ctx context.Context, req domain.SaleCommitRequest) (domain.SaleCommitResponse, error) {
	tracker := s.metrics.Track("commit_sale")
	resp, err := s.commitSale(ctx, req)
	return resp, tracker.End(err)
}

func (s *Service) commitSale(ctx context.Context, req domain.SaleCommitRequest) (domain.SaleCommitResponse, error) {
	siteID := s.siteOrDefault(req.SiteID)
	fulfillment := req.FulfillmentType
	if fulfillment == "" {
		fulfillment = domain.FulfillmentInStore
	}
	switch fulfillment {
	case domain.FulfillmentInStore, domain.FulfillmentDelivery, domain.FulfillmentPickup:
	default:
		return domain.SaleCommitResponse{}, domain.Errorf(domain.ErrInvalidInput, "unknown fulfillment type %q", req.FulfillmentType)
	}

	cart, err := s.priceCart(ctx, siteID, req.Items)
	if err != nil {
		return domain.SaleCommitResponse{}, err
	}
	discount, err := s.discountFor(ctx, req.DiscountCode, siteID, pricing.Subtotal(cart.lines))
	if err != nil {
		return domain.SaleCommitResponse{}, err
	}
	totals := pricing.ComputeTotals(cart.lines, discount.Amount, s.taxRules, s.cashRounding)
	tendered, change, err := pricing.Settle(req.PaymentMethod, req.AmountTendered, totals.Total)
	if err != nil {
		return domain.SaleCommitResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	now := s.now()
	saleID := xid.New("sale")
	sale := domain.SaleRecord{
		ID:                 saleID,
		ReceiptNumber:      xid.Number("RCPT", saleID),
		SiteID:             siteID,
		Items:              cart.lines,
		Subtotal:           totals.Subtotal,
		TaxBreakdown:       totals.TaxBreakdown,
		TaxTotal:           totals.TaxTotal,
		Discount:           discount,
		RoundingAdjustment: totals.RoundingAdjustment,
		Total:              totals.Total,
		PaymentMethod:      req.PaymentMethod,
		AmountTendered:     tendered,
		Change:             change,
		CustomerID:         strings.TrimSpace(req.CustomerID),
		CashierID:          actor.EmployeeID,
		CashierName:        actorName(ctx),
		FulfillmentType:    fulfillment,
		FulfillmentStatus:  domain.FulfillmentStatusPending,
		Status:             domain.SaleStatusCompleted,
		CreatedAt:          now,
	}

	pick := s.pickJobFor(sale, cart)
	saved, err := s.repo.CreateSale(ctx, store.SaleCommit{
		Sale:         sale,
		PickJob:      pick,
		DiscountCode: discount.Code,
	})
	if err != nil {
		return domain.SaleCommitResponse{}, storeError(err)
	}

	s.publishJobCreated(ctx, pick)
	for _, line := range cart.lines {
		p := cart.products[line.ProductID]
		remaining := p.Stock - line.Quantity
		if remaining <= minStockOf(p) {
			s.publishLowStock(ctx, p, remaining)
		}
	}
	s.logAudit(ctx, siteID, "sale_commit", "sale", saved.ID, fmt.Sprintf("receipt=%s,total=%s,method=%s,%s", saved.ReceiptNumber, saved.Total.StringFixed(2), saved.PaymentMethod, describeItems(len(saved.Items))))
	return domain.SaleCommitResponse{Sale: *saved, PickJob: pick}, nil
}

// pickJobFor builds the PICK job for a sale. In-store customers are waiting
// at the counter so their picks jump the queue.
func (s *Service) pickJobFor(sale domain.SaleRecord, cart pricedCart) domain.WarehouseJob {
	priority := domain.JobPriorityHigh
	if sale.FulfillmentType == domain.FulfillmentInStore {
		priority = domain.JobPriorityCritical
	}

	lines := make([]domain.JobLine, 0, len(cart.lines))
	for _, line := range cart.lines {
		lines = append(lines, domain.JobLine{
			ProductID:   line.ProductID,
			SKU:         line.SKU,
			Name:        line.Name,
			ExpectedQty: line.Quantity,
			Status:      domain.LineStatusPending,
			BinCode:     cart.products[line.ProductID].Location,
		})
	}
	return domain.WarehouseJob{
		ID:        xid.New("job"),
		JobNumber: xid.Number("PICK", sale.ID),
		SiteID:    sale.SiteID,
		Type:      domain.JobTypePick,
		Status:    domain.JobStatusPending,
		Priority:  priority,
		OrderRef:  sale.ID,
		Location:  domain.LocationPickZone,
		Lines:     lines,
		CreatedAt: sale.CreatedAt,
		Version:   1,
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleRecord, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleRecord{}, storeError(err)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, siteID string, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListSales(ctx, s.siteOrDefault(siteID), limit)
}
