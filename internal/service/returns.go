package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/ledger"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

// ProcessReturn takes goods back against a sale. Resalable units go back on
// the shelf; damaged units are written off without touching stock.
func (s *Service) ProcessReturn(ctx context.Context, saleID string, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	tracker := s.metrics.Track("process_return")
	resp, err := s.processReturn(ctx, saleID, req)
	return resp, tracker.End(err)
}

func (s *Service) processReturn(ctx context.Context, saleID string, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	saleID, err := requiredID("sale", saleID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.ReturnResponse{}, domain.Errorf(domain.ErrInvalidInput, "return needs at least one item")
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReturnResponse{}, storeError(err)
	}

	sold := make(map[string]domain.PricedLine, len(sale.Items))
	for _, item := range sale.Items {
		if existing, ok := sold[item.ProductID]; ok {
			existing.Quantity += item.Quantity
			sold[item.ProductID] = existing
			continue
		}
		sold[item.ProductID] = item
	}
	returned, err := s.repo.GetReturnedQuantities(ctx, saleID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	now := s.now()
	returnID := xid.New("ret")
	lines := make([]domain.ReturnLine, 0, len(req.Items))
	resalable := make(map[string]int)
	var writeOffs []domain.WriteOff
	refund := decimal.Zero
	requested := make(map[string]int, len(req.Items))

	for _, item := range req.Items {
		line, ok := sold[item.ProductID]
		if !ok {
			return domain.ReturnResponse{}, domain.Errorf(domain.ErrInvalidInput, "product %s was not sold on %s", item.ProductID, sale.ReceiptNumber)
		}
		if item.Quantity < 1 {
			return domain.ReturnResponse{}, domain.Errorf(domain.ErrInvalidInput, "return quantity for %s must be at least 1", line.SKU)
		}
		requested[item.ProductID] += item.Quantity
		if remaining := line.Quantity - returned[item.ProductID]; requested[item.ProductID] > remaining {
			return domain.ReturnResponse{}, domain.Errorf(domain.ErrInvalidInput, "only %d of %s can still be returned", remaining, line.SKU)
		}

		reason := strings.TrimSpace(item.Reason)
		if reason == "" {
			reason = domain.ReturnReasonChangedMind
		}
		switch item.Condition {
		case domain.ConditionResalable:
			resalable[item.ProductID] += item.Quantity
		case domain.ConditionDamaged:
			writeOffs = append(writeOffs, domain.WriteOff{
				ID:        xid.New("wo"),
				ReturnID:  returnID,
				ProductID: item.ProductID,
				SiteID:    sale.SiteID,
				Quantity:  item.Quantity,
				Reason:    reason,
				CreatedAt: now,
			})
		default:
			return domain.ReturnResponse{}, domain.Errorf(domain.ErrInvalidInput, "unknown condition %q", item.Condition)
		}

		refund = refund.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, domain.ReturnLine{
			ProductID: item.ProductID,
			SKU:       line.SKU,
			Quantity:  item.Quantity,
			UnitPrice: line.UnitPrice,
			Condition: item.Condition,
			Reason:    reason,
		})
	}

	processedBy := strings.TrimSpace(req.CashierName)
	if processedBy == "" {
		processedBy = actorName(ctx)
	}
	record := domain.ReturnRecord{
		ID:          returnID,
		SaleID:      sale.ID,
		SiteID:      sale.SiteID,
		Items:       lines,
		RefundTotal: refund,
		ProcessedBy: processedBy,
		CreatedAt:   now,
	}

	var saved *domain.ReturnRecord
	err = s.withStockRetry(ctx, "process_return", func() error {
		changes, err := s.restockChanges(ctx, resalable)
		if err != nil {
			return err
		}
		saved, err = s.repo.CreateReturn(ctx, store.ReturnCommit{
			Record:       record,
			StockChanges: changes,
			WriteOffs:    writeOffs,
		})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return storeError(err)
		}
		return err
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	if len(resalable) > 0 {
		s.invalidateSuggestions(ctx, sale.SiteID)
	}
	s.logAudit(ctx, sale.SiteID, "sale_return", "sale", sale.ID, fmt.Sprintf("return=%s,refund=%s,write_offs=%d", saved.ID, refund.StringFixed(2), len(writeOffs)))
	return domain.ReturnResponse{Return: *saved, RefundTotal: refund, WriteOffs: writeOffs}, nil
}

func (s *Service) restockChanges(ctx context.Context, qty map[string]int) ([]domain.StockChange, error) {
	if len(qty) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	changes := make([]domain.StockChange, 0, len(ids))
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, domain.Errorf(domain.ErrNotFound, "product %s no longer exists", id)
		}
		change, err := ledger.Credit(p, qty[id], "")
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}
