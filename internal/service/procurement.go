package service

import (
	"context"
	"fmt"
	"strings"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/xid"
)

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	tracker := s.metrics.Track("create_po")
	resp, err := s.createPurchaseOrder(ctx, req)
	return resp, tracker.End(err)
}

func (s *Service) createPurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	siteID := s.siteOrDefault(req.SiteID)
	supplierID := strings.TrimSpace(req.SupplierID)
	if supplierID == "" {
		return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "supplier is required")
	}
	if len(req.Items) == 0 {
		return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "purchase order needs at least one item")
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "quantity for product %s must be at least 1", item.ProductID)
		}
		if item.UnitCost.IsNegative() {
			return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "unit cost for product %s cannot be negative", item.ProductID)
		}
		product, ok := products[item.ProductID]
		if !ok {
			return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "unknown product %s", item.ProductID)
		}
		if product.SiteID != siteID {
			return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "product %s belongs to site %s", item.ProductID, product.SiteID)
		}
		items = append(items, domain.PurchaseOrderItem{
			ID:        xid.New("poi"),
			ProductID: product.ID,
			SKU:       product.SKU,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}

	status := domain.POStatusDraft
	if req.Submit {
		status = domain.POStatusPending
	}
	id := xid.New("po")
	po := domain.PurchaseOrder{
		ID:         id,
		PONumber:   xid.Number("PO", id),
		SiteID:     siteID,
		SupplierID: supplierID,
		Status:     status,
		CreatedBy:  actorName(ctx),
		CreatedAt:  s.now(),
		Items:      items,
	}

	saved, err := s.repo.CreatePurchaseOrder(ctx, po)
	if err != nil {
		return domain.PurchaseOrderResponse{}, storeError(err)
	}
	s.logAudit(ctx, siteID, "purchase_order_create", "purchase_order", saved.ID, describeItems(len(saved.Items)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *saved}, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, storeError(err)
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, siteID string, status string) (domain.PurchaseOrderListResponse, error) {
	pos, err := s.repo.ListPurchaseOrders(ctx, s.siteOrDefault(siteID), strings.TrimSpace(status), 200)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: pos}, nil
}

// ReceivePurchaseOrder marks the order Received and creates its PUTAWAY job in
// one store write. An empty request receives every line in full; otherwise
// only the named lines land on the job, at the received quantity. Stock does
// not move until the putaway completes.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrderResponse, error) {
	tracker := s.metrics.Track("receive_po")
	resp, err := s.receivePurchaseOrder(ctx, id, req)
	return resp, tracker.End(err)
}

func (s *Service) receivePurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrderResponse, error) {
	id, err := requiredID("purchase order", id)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrderResponse{}, storeError(err)
	}
	if po.Status == domain.POStatusReceived || po.Status == domain.POStatusCancelled {
		return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidState, "purchase order %s is already %s", po.PONumber, po.Status)
	}
	if len(po.Items) == 0 {
		return domain.PurchaseOrderResponse{}, domain.Errorf(domain.ErrInvalidInput, "purchase order %s has no line items", po.PONumber)
	}

	received, err := receivedQuantities(*po, req.Items)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	ids := make([]string, 0, len(po.Items))
	for _, item := range po.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	lines := make([]domain.JobLine, 0, len(po.Items))
	for _, item := range po.Items {
		qty, ok := received[item.ID]
		if !ok || qty == 0 {
			continue
		}
		lines = append(lines, domain.JobLine{
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			Name:        products[item.ProductID].Name,
			ExpectedQty: qty,
			Status:      domain.LineStatusPending,
		})
	}

	now := s.now()
	jobID := xid.New("job")
	job := domain.WarehouseJob{
		ID:        jobID,
		JobNumber: xid.Number("PUT", jobID),
		SiteID:    po.SiteID,
		Type:      domain.JobTypePutaway,
		Status:    domain.JobStatusPending,
		Priority:  domain.JobPriorityNormal,
		OrderRef:  po.ID,
		Location:  domain.LocationReceivingDock,
		Lines:     lines,
		CreatedAt: now,
		Version:   1,
	}

	updated, err := s.repo.ReceivePurchaseOrder(ctx, po.ID, actorName(ctx), now, job)
	if err != nil {
		return domain.PurchaseOrderResponse{}, storeError(err)
	}

	s.publishJobCreated(ctx, job)
	s.logAudit(ctx, updated.SiteID, "purchase_order_receive", "purchase_order", updated.ID, fmt.Sprintf("putaway_job=%s,lines=%d", job.JobNumber, len(lines)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *updated, PutawayJob: &job}, nil
}

// receivedQuantities resolves a receipt to quantities keyed by PO line id.
func receivedQuantities(po domain.PurchaseOrder, items []domain.ReceivedItem) (map[string]int, error) {
	result := make(map[string]int, len(po.Items))
	if len(items) == 0 {
		for _, item := range po.Items {
			result[item.ID] = item.Quantity
		}
		return result, nil
	}

	total := 0
	for _, in := range items {
		line, ok := findPOLine(po, in)
		if !ok {
			return nil, domain.Errorf(domain.ErrInvalidInput, "received item %s%s is not on purchase order %s", in.LineID, in.ProductID, po.PONumber)
		}
		if in.Quantity < 0 {
			return nil, domain.Errorf(domain.ErrInvalidInput, "received quantity cannot be negative")
		}
		if result[line.ID]+in.Quantity > line.Quantity {
			return nil, domain.Errorf(domain.ErrInvalidInput, "received %d of %s exceeds ordered %d", result[line.ID]+in.Quantity, line.SKU, line.Quantity)
		}
		result[line.ID] += in.Quantity
		total += in.Quantity
	}
	if total == 0 {
		return nil, domain.Errorf(domain.ErrInvalidInput, "receipt for %s has no received quantity", po.PONumber)
	}
	return result, nil
}

func findPOLine(po domain.PurchaseOrder, in domain.ReceivedItem) (domain.PurchaseOrderItem, bool) {
	for _, item := range po.Items {
		if in.LineID != "" && item.ID == in.LineID {
			return item, true
		}
	}
	if in.LineID != "" {
		return domain.PurchaseOrderItem{}, false
	}
	for _, item := range po.Items {
		if item.ProductID == in.ProductID {
			return item, true
		}
	}
	return domain.PurchaseOrderItem{}, false
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	id, err := requiredID("purchase order", id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.CancelPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, storeError(err)
	}
	s.logAudit(ctx, po.SiteID, "purchase_order_cancel", "purchase_order", po.ID, po.PONumber)
	return *po, nil
}
