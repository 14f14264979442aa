package service

import (
	"context"
	"fmt"
	"strings"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/xid"
)

// CreateTransfer queues a stock transfer to another site. The source site
// picks and packs the goods like an order; because the job carries a
// destination site, the PACK is followed by a DISPATCH. Stock leaves the
// source ledger when the PACK completes.
func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (domain.TransferResponse, error) {
	tracker := s.metrics.Track("create_transfer")
	resp, err := s.createTransfer(ctx, req)
	return resp, tracker.End(err)
}

func (s *Service) createTransfer(ctx context.Context, req domain.TransferCreateRequest) (domain.TransferResponse, error) {
	sourceID := s.siteOrDefault(req.SourceSiteID)
	destID := strings.TrimSpace(req.DestSiteID)
	if destID == "" {
		return domain.TransferResponse{}, domain.Errorf(domain.ErrInvalidInput, "destination site is required")
	}
	if destID == sourceID {
		return domain.TransferResponse{}, domain.Errorf(domain.ErrInvalidInput, "transfer source and destination are both %s", sourceID)
	}
	if len(req.Items) == 0 {
		return domain.TransferResponse{}, domain.Errorf(domain.ErrInvalidInput, "transfer needs at least one item")
	}
	priority := strings.TrimSpace(req.Priority)
	if priority == "" {
		priority = domain.JobPriorityNormal
	}

	quantities := make(map[string]int, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return domain.TransferResponse{}, domain.Errorf(domain.ErrInvalidInput, "quantity for product %s must be at least 1", item.ProductID)
		}
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	products, err := s.repo.GetProducts(ctx, order)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	lines := make([]domain.JobLine, 0, len(order))
	for _, productID := range order {
		p, ok := products[productID]
		if !ok {
			return domain.TransferResponse{}, domain.Errorf(domain.ErrInvalidInput, "unknown product %s", productID)
		}
		if p.SiteID != sourceID {
			return domain.TransferResponse{}, domain.Errorf(domain.ErrInvalidInput, "product %s belongs to site %s", productID, p.SiteID)
		}
		if p.Stock < quantities[productID] {
			return domain.TransferResponse{}, domain.Errorf(domain.ErrInsufficientStock, "%s has %d in stock, transfer needs %d", p.SKU, p.Stock, quantities[productID])
		}
		lines = append(lines, domain.JobLine{
			ProductID:   p.ID,
			SKU:         p.SKU,
			Name:        p.Name,
			ExpectedQty: quantities[productID],
			Status:      domain.LineStatusPending,
			BinCode:     p.Location,
		})
	}

	ref := xid.New("trf")
	id := xid.New("job")
	job := domain.WarehouseJob{
		ID:         id,
		JobNumber:  xid.Number("PICK", ref),
		SiteID:     sourceID,
		DestSiteID: destID,
		Type:       domain.JobTypePick,
		Status:     domain.JobStatusPending,
		Priority:   priority,
		OrderRef:   ref,
		Location:   domain.LocationPickZone,
		Lines:      lines,
		CreatedAt:  s.now(),
		Version:    1,
	}
	created, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return domain.TransferResponse{}, storeError(err)
	}

	s.publishJobCreated(ctx, *created)
	s.logAudit(ctx, sourceID, "transfer_create", "warehouse_job", created.ID, fmt.Sprintf("ref=%s,dest=%s,%s", ref, destID, describeItems(len(lines))))
	return domain.TransferResponse{TransferRef: ref, PickJob: *created}, nil
}
