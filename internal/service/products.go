package service

import (
	"context"
	"fmt"
	"strings"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/ledger"
	"siifmart/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, siteID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, s.siteOrDefault(siteID))
}

// CreateProduct registers a catalog entry with no stock and no location. Stock
// only arrives through a putaway.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	siteID := s.siteOrDefault(req.SiteID)
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	name := strings.TrimSpace(req.Name)
	if sku == "" || name == "" {
		return domain.Product{}, domain.Errorf(domain.ErrInvalidInput, "sku and name are required")
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, domain.Errorf(domain.ErrInvalidInput, "price must be positive")
	}
	if req.SalePrice.IsNegative() || (req.IsOnSale && !req.SalePrice.IsPositive()) {
		return domain.Product{}, domain.Errorf(domain.ErrInvalidInput, "sale price must be positive when on sale")
	}
	if req.MinStock < 0 {
		return domain.Product{}, domain.Errorf(domain.ErrInvalidInput, "min stock cannot be negative")
	}
	minStock := req.MinStock
	if minStock == 0 {
		minStock = domain.DefaultMinStock
	}

	product := domain.Product{
		ID:        xid.New("prod"),
		SKU:       sku,
		Name:      name,
		SiteID:    siteID,
		Price:     req.Price,
		SalePrice: req.SalePrice,
		IsOnSale:  req.IsOnSale,
		MinStock:  minStock,
		Status:    ledger.StatusFor(0, minStock, ""),
		UpdatedAt: s.now(),
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, storeError(err)
	}
	s.logAudit(ctx, siteID, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%s", created.SKU, created.Price.StringFixed(2)))
	return *created, nil
}

func (s *Service) ReplenishmentSuggestions(ctx context.Context, siteID string) (domain.ReplenishmentResponse, error) {
	return s.suggestions.Suggest(ctx, s.siteOrDefault(siteID))
}

func (s *Service) ListCycleCountFlags(ctx context.Context, siteID string, limit int) ([]domain.CycleCountFlag, error) {
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListCycleCountFlags(ctx, s.siteOrDefault(siteID), limit)
}

func (s *Service) ListWriteOffs(ctx context.Context, siteID string, limit int) ([]domain.WriteOff, error) {
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListWriteOffs(ctx, s.siteOrDefault(siteID), limit)
}
