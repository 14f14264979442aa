package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/pricing"
	"siifmart/backend/internal/store"
)

var hundredPercent = decimal.NewFromInt(100)

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) CreateDiscountCode(ctx context.Context, req domain.DiscountCodeCreateRequest) (domain.DiscountCode, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "code is required")
	}
	if !req.Value.IsPositive() {
		return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "discount value must be positive")
	}
	switch req.Type {
	case domain.DiscountPercentage:
		if req.Value.GreaterThan(hundredPercent) {
			return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "percentage cannot exceed 100")
		}
	case domain.DiscountFixed:
	default:
		return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "unknown discount type %q", req.Type)
	}
	if req.MinPurchaseAmount.IsNegative() || req.MaxDiscountAmount.IsNegative() {
		return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "purchase and discount limits cannot be negative")
	}
	if req.UsageLimit < 0 {
		return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "usage limit cannot be negative")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "valid_until is before valid_from")
	}

	created, err := s.repo.CreateDiscountCode(ctx, domain.DiscountCode{
		Code:              code,
		Type:              req.Type,
		Value:             req.Value,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
		UsageLimit:        req.UsageLimit,
		ApplicableSites:   req.ApplicableSites,
		Status:            domain.DiscountStatusActive,
		CreatedAt:         s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.DiscountCode{}, domain.Errorf(domain.ErrInvalidInput, "discount code %s already exists", code)
		}
		return domain.DiscountCode{}, storeError(err)
	}
	s.logAudit(ctx, "", "discount_create", "discount_code", created.Code, fmt.Sprintf("type=%s,value=%s", created.Type, created.Value.String()))
	return *created, nil
}

func (s *Service) ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	return s.repo.ListDiscountCodes(ctx)
}

// ValidateDiscountCode resolves what code would take off subtotal right now.
// It does not claim a use.
func (s *Service) ValidateDiscountCode(ctx context.Context, req domain.DiscountValidateRequest) (domain.DiscountValidateResponse, error) {
	if req.Subtotal.IsNegative() {
		return domain.DiscountValidateResponse{}, domain.Errorf(domain.ErrInvalidInput, "subtotal cannot be negative")
	}
	siteID := s.siteOrDefault(req.SiteID)
	code := normalizeCode(req.Code)
	found, err := s.repo.GetDiscountCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			found = nil
		} else {
			return domain.DiscountValidateResponse{}, err
		}
	}
	amount, err := pricing.ResolveDiscount(found, siteID, req.Subtotal, s.now())
	if err != nil {
		return domain.DiscountValidateResponse{}, err
	}
	return domain.DiscountValidateResponse{Code: found.Code, Amount: amount}, nil
}
