package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftRecord, error) {
	actor, _ := ActorFromContext(ctx)
	cashierID := strings.TrimSpace(req.CashierID)
	if cashierID == "" {
		cashierID = actor.EmployeeID
	}
	cashierID, err := requiredID("cashier", cashierID)
	if err != nil {
		return domain.ShiftRecord{}, err
	}
	if req.OpeningFloat.IsNegative() {
		return domain.ShiftRecord{}, domain.Errorf(domain.ErrInvalidInput, "opening float cannot be negative")
	}
	siteID := strings.TrimSpace(req.SiteID)
	if siteID == "" {
		siteID = actor.SiteID
	}
	siteID = s.siteOrDefault(siteID)

	name := strings.TrimSpace(req.CashierName)
	if name == "" {
		if employee, err := s.repo.GetEmployee(ctx, cashierID); err == nil {
			name = employee.Name
		}
	}

	shift, err := s.repo.CreateShift(ctx, domain.ShiftRecord{
		ID:           xid.New("shift"),
		CashierID:    cashierID,
		CashierName:  name,
		SiteID:       siteID,
		StartTime:    s.now(),
		OpeningFloat: req.OpeningFloat,
		Status:       domain.ShiftStatusOpen,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.ShiftRecord{}, domain.Wrap(domain.ErrShiftAlreadyOpen, err)
		}
		return domain.ShiftRecord{}, storeError(err)
	}
	s.logAudit(ctx, siteID, "shift_open", "shift", shift.ID, fmt.Sprintf("cashier=%s,float=%s", cashierID, req.OpeningFloat.StringFixed(2)))
	return *shift, nil
}

// CloseShift counts the drawer and compares it with the opening float plus
// the cashier's cash takings since the shift started.
func (s *Service) CloseShift(ctx context.Context, shiftID string, req domain.ShiftCloseRequest) (domain.ShiftRecord, error) {
	tracker := s.metrics.Track("close_shift")
	shift, err := s.closeShift(ctx, shiftID, req)
	return shift, tracker.End(err)
}

func (s *Service) closeShift(ctx context.Context, shiftID string, req domain.ShiftCloseRequest) (domain.ShiftRecord, error) {
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftRecord{}, storeError(err)
	}
	if shift.Status == domain.ShiftStatusClosed {
		return domain.ShiftRecord{}, domain.Errorf(domain.ErrShiftAlreadyClosed, "shift %s is already closed", shift.ID)
	}

	counted, err := CountDrawer(req.DenominationCounts)
	if err != nil {
		return domain.ShiftRecord{}, err
	}
	totals, err := s.repo.SalesTotalsByMethod(ctx, shift.CashierID, shift.SiteID, shift.StartTime)
	if err != nil {
		return domain.ShiftRecord{}, err
	}
	cashSales := totals[domain.PaymentCash]
	expected := shift.OpeningFloat.Add(cashSales)
	variance := counted.Sub(expected)
	reason := strings.TrimSpace(req.DiscrepancyReason)
	if !variance.IsZero() && reason == "" {
		return domain.ShiftRecord{}, domain.Errorf(domain.ErrVarianceUnexplained, "drawer is off by %s, a discrepancy reason is required", variance.StringFixed(2))
	}

	now := s.now()
	closed := *shift
	closed.EndTime = &now
	closed.PaymentTotals = totals
	closed.CashSales = cashSales
	closed.ExpectedCash = expected
	closed.CountedCash = counted
	closed.DenominationCounts = req.DenominationCounts
	closed.Variance = variance
	closed.DiscrepancyReason = reason

	saved, err := s.repo.CloseShift(ctx, closed)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return domain.ShiftRecord{}, domain.Wrap(domain.ErrShiftAlreadyClosed, err)
		}
		return domain.ShiftRecord{}, storeError(err)
	}
	if !variance.IsZero() {
		s.logger.WarnContext(ctx, "shift closed with variance", "shift_id", saved.ID, "cashier_id", saved.CashierID, "variance", variance.StringFixed(2))
	}
	s.logAudit(ctx, saved.SiteID, "shift_close", "shift", saved.ID, fmt.Sprintf("expected=%s,counted=%s,variance=%s", expected.StringFixed(2), counted.StringFixed(2), variance.StringFixed(2)))
	return *saved, nil
}

// CountDrawer sums denomination × count.
func CountDrawer(counts []domain.DenominationCount) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, c := range counts {
		if !c.Denomination.IsPositive() {
			return decimal.Zero, domain.Errorf(domain.ErrInvalidInput, "denomination must be positive")
		}
		if c.Count < 0 {
			return decimal.Zero, domain.Errorf(domain.ErrInvalidInput, "count for %s cannot be negative", c.Denomination.String())
		}
		total = total.Add(c.Denomination.Mul(decimal.NewFromInt(int64(c.Count))))
	}
	return total, nil
}

func (s *Service) GetActiveShift(ctx context.Context, cashierID string) (domain.ShiftRecord, error) {
	cashierID, err := requiredID("cashier", cashierID)
	if err != nil {
		return domain.ShiftRecord{}, err
	}
	shift, err := s.repo.GetOpenShift(ctx, cashierID)
	if err != nil {
		return domain.ShiftRecord{}, storeError(err)
	}
	return *shift, nil
}
