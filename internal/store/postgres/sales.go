package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

func (s *Store) CreateSale(ctx context.Context, commit store.SaleCommit) (*domain.SaleRecord, error) {
	sale := commit.Sale
	if len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrInvalidState)
	}
	taxes, err := json.Marshal(sale.TaxBreakdown)
	if err != nil {
		return nil, err
	}

	needed := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		needed[item.ProductID] += item.Quantity
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for productID, qty := range needed {
			var stock int
			err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
				}
				return err
			}
			if stock < qty {
				return fmt.Errorf("%w: product %s has %d, sale needs %d", store.ErrInsufficientStock, productID, stock, qty)
			}
		}

		if commit.DiscountCode != "" {
			var limit, used int
			err := tx.QueryRowContext(ctx, `
				SELECT usage_limit, usage_count FROM discount_codes WHERE code = $1 FOR UPDATE
			`, commit.DiscountCode).Scan(&limit, &used)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: discount code %s", store.ErrNotFound, commit.DiscountCode)
				}
				return err
			}
			if limit > 0 && used >= limit {
				return fmt.Errorf("%w: %s", store.ErrUsageExhausted, commit.DiscountCode)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE discount_codes SET usage_count = usage_count + 1 WHERE code = $1
			`, commit.DiscountCode); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, receipt_number, site_id, subtotal, tax_breakdown, tax_total, discount_code, discount_amount,
				rounding_adjustment, total, payment_method, amount_tendered, change_due, customer_id,
				cashier_id, cashier_name, fulfillment_type, fulfillment_status, status, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		`, sale.ID, sale.ReceiptNumber, sale.SiteID, sale.Subtotal, taxes, sale.TaxTotal,
			sale.Discount.Code, sale.Discount.Amount, sale.RoundingAdjustment, sale.Total,
			sale.PaymentMethod, sale.AmountTendered, sale.Change, sale.CustomerID,
			sale.CashierID, sale.CashierName, sale.FulfillmentType, sale.FulfillmentStatus, sale.Status, sale.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		for i, item := range sale.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (sale_id, line_no, product_id, sku, name, quantity, unit_price)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, sale.ID, i, item.ProductID, item.SKU, item.Name, item.Quantity, item.UnitPrice); err != nil {
				return err
			}
		}
		return insertJob(ctx, tx, commit.PickJob)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

const saleColumns = `id, receipt_number, site_id, subtotal, tax_breakdown, tax_total, discount_code, discount_amount,
	rounding_adjustment, total, payment_method, amount_tendered, change_due, customer_id,
	cashier_id, cashier_name, fulfillment_type, fulfillment_status, status, created_at`

func scanSale(row rowScanner) (domain.SaleRecord, error) {
	var sale domain.SaleRecord
	var taxes []byte
	err := row.Scan(
		&sale.ID, &sale.ReceiptNumber, &sale.SiteID, &sale.Subtotal, &taxes, &sale.TaxTotal,
		&sale.Discount.Code, &sale.Discount.Amount, &sale.RoundingAdjustment, &sale.Total,
		&sale.PaymentMethod, &sale.AmountTendered, &sale.Change, &sale.CustomerID,
		&sale.CashierID, &sale.CashierName, &sale.FulfillmentType, &sale.FulfillmentStatus, &sale.Status, &sale.CreatedAt,
	)
	if err != nil {
		return sale, err
	}
	if len(taxes) > 0 {
		if err := json.Unmarshal(taxes, &sale.TaxBreakdown); err != nil {
			return sale, fmt.Errorf("decode tax breakdown of sale %s: %w", sale.ID, err)
		}
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.saleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, siteID string, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR site_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.saleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleItems(ctx context.Context, saleIDs []string) (map[string][]domain.PricedLine, error) {
	result := make(map[string][]domain.PricedLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, sku, name, quantity, unit_price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.PricedLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.SKU, &line.Name, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	return result, rows.Err()
}

func (s *Store) SalesTotalsByMethod(ctx context.Context, cashierID string, siteID string, since time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COALESCE(SUM(total), 0)
		FROM sales
		WHERE cashier_id = $1 AND site_id = $2 AND created_at >= $3
		GROUP BY payment_method
	`, cashierID, siteID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var method string
		var total decimal.Decimal
		if err := rows.Scan(&method, &total); err != nil {
			return nil, err
		}
		totals[method] = total
	}
	return totals, rows.Err()
}

func returnedQuantities(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, saleID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ri.product_id, SUM(ri.quantity)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.sale_id = $1
		GROUP BY ri.product_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returned := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		returned[productID] = qty
	}
	return returned, rows.Err()
}

func (s *Store) GetReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error) {
	return returnedQuantities(ctx, s.db, saleID)
}

func (s *Store) CreateReturn(ctx context.Context, commit store.ReturnCommit) (*domain.ReturnRecord, error) {
	record := commit.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var saleSite string
		err := tx.QueryRowContext(ctx, `SELECT site_id FROM sales WHERE id = $1 FOR UPDATE`, record.SaleID).Scan(&saleSite)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		sold := make(map[string]int)
		rows, err := tx.QueryContext(ctx, `
			SELECT product_id, SUM(quantity) FROM sale_items WHERE sale_id = $1 GROUP BY product_id
		`, record.SaleID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var productID string
			var qty int
			if err := rows.Scan(&productID, &qty); err != nil {
				rows.Close()
				return err
			}
			sold[productID] = qty
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		returned, err := returnedQuantities(ctx, tx, record.SaleID)
		if err != nil {
			return err
		}
		for _, item := range record.Items {
			returned[item.ProductID] += item.Quantity
			if returned[item.ProductID] > sold[item.ProductID] {
				return fmt.Errorf("%w: product %s sold %d, returning %d", store.ErrQuantityExceeded, item.ProductID, sold[item.ProductID], returned[item.ProductID])
			}
		}

		if err := applyStockChanges(ctx, tx, commit.StockChanges); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO returns (id, sale_id, site_id, refund_total, processed_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, record.ID, record.SaleID, record.SiteID, record.RefundTotal, record.ProcessedBy, record.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		for i, item := range record.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO return_items (return_id, line_no, product_id, sku, quantity, unit_price, condition, reason)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, record.ID, i, item.ProductID, item.SKU, item.Quantity, item.UnitPrice, item.Condition, item.Reason); err != nil {
				return err
			}
		}
		for _, w := range commit.WriteOffs {
			if w.ID == "" {
				w.ID = xid.New("wo")
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO write_offs (id, return_id, product_id, site_id, quantity, reason, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, w.ID, w.ReturnID, w.ProductID, w.SiteID, w.Quantity, w.Reason, w.CreatedAt); err != nil {
				return err
			}
		}

		status := domain.SaleStatusRefunded
		for productID, qty := range sold {
			if returned[productID] < qty {
				status = domain.SaleStatusPartiallyRefunded
				break
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE sales SET status = $2 WHERE id = $1`, record.SaleID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) ListWriteOffs(ctx context.Context, siteID string, limit int) ([]domain.WriteOff, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, return_id, product_id, site_id, quantity, reason, created_at
		FROM write_offs
		WHERE ($1 = '' OR site_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.WriteOff, 0, 16)
	for rows.Next() {
		var w domain.WriteOff
		if err := rows.Scan(&w.ID, &w.ReturnID, &w.ProductID, &w.SiteID, &w.Quantity, &w.Reason, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.CreatedAt = w.CreatedAt.UTC()
		result = append(result, w)
	}
	return result, rows.Err()
}

const discountColumns = `code, type, value, min_purchase_amount, max_discount_amount, valid_from, valid_until,
	usage_limit, usage_count, applicable_sites, status, created_at`

func scanDiscountCode(row rowScanner) (domain.DiscountCode, error) {
	var c domain.DiscountCode
	var from, until sql.NullTime
	var sites []byte
	err := row.Scan(&c.Code, &c.Type, &c.Value, &c.MinPurchaseAmount, &c.MaxDiscountAmount, &from, &until,
		&c.UsageLimit, &c.UsageCount, &sites, &c.Status, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	if len(sites) > 0 {
		if err := json.Unmarshal(sites, &c.ApplicableSites); err != nil {
			return c, fmt.Errorf("decode sites of code %s: %w", c.Code, err)
		}
	}
	c.ValidFrom = timePtr(from)
	c.ValidUntil = timePtr(until)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) CreateDiscountCode(ctx context.Context, code domain.DiscountCode) (*domain.DiscountCode, error) {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	sites := code.ApplicableSites
	if sites == nil {
		sites = []string{}
	}
	rawSites, err := json.Marshal(sites)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO discount_codes (`+discountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, code.Code, code.Type, code.Value, code.MinPurchaseAmount, code.MaxDiscountAmount,
		nullTime(code.ValidFrom), nullTime(code.ValidUntil), code.UsageLimit, code.UsageCount,
		rawSites, code.Status, code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &code, nil
}

func (s *Store) GetDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	c, err := scanDiscountCode(s.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+discountColumns+` FROM discount_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.DiscountCode, 0, 8)
	for rows.Next() {
		c, err := scanDiscountCode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

const shiftColumns = `id, cashier_id, cashier_name, site_id, start_time, end_time, opening_float, payment_totals,
	cash_sales, expected_cash, counted_cash, denomination_counts, variance, discrepancy_reason, status`

func scanShift(row rowScanner) (domain.ShiftRecord, error) {
	var sh domain.ShiftRecord
	var end sql.NullTime
	var totals, counts []byte
	err := row.Scan(&sh.ID, &sh.CashierID, &sh.CashierName, &sh.SiteID, &sh.StartTime, &end, &sh.OpeningFloat, &totals,
		&sh.CashSales, &sh.ExpectedCash, &sh.CountedCash, &counts, &sh.Variance, &sh.DiscrepancyReason, &sh.Status)
	if err != nil {
		return sh, err
	}
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &sh.PaymentTotals); err != nil {
			return sh, fmt.Errorf("decode payment totals of shift %s: %w", sh.ID, err)
		}
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &sh.DenominationCounts); err != nil {
			return sh, fmt.Errorf("decode denominations of shift %s: %w", sh.ID, err)
		}
	}
	sh.StartTime = sh.StartTime.UTC()
	sh.EndTime = timePtr(end)
	return sh, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.ShiftRecord) (*domain.ShiftRecord, error) {
	if strings.TrimSpace(shift.CashierID) == "" || strings.TrimSpace(shift.SiteID) == "" {
		return nil, fmt.Errorf("%w: shift needs cashier and site", store.ErrInvalidState)
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.EndTime = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, cashier_id, cashier_name, site_id, start_time, opening_float, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, shift.ID, shift.CashierID, shift.CashierName, shift.SiteID, shift.StartTime, shift.OpeningFloat, shift.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cashier %s has an open shift", store.ErrDuplicate, shift.CashierID)
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.ShiftRecord, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sh, nil
}

func (s *Store) GetOpenShift(ctx context.Context, cashierID string) (*domain.ShiftRecord, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE cashier_id = $1 AND status = $2
	`, cashierID, domain.ShiftStatusOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sh, nil
}

func (s *Store) CloseShift(ctx context.Context, shift domain.ShiftRecord) (*domain.ShiftRecord, error) {
	shift.Status = domain.ShiftStatusClosed
	if shift.EndTime == nil {
		now := time.Now().UTC()
		shift.EndTime = &now
	}
	totals, err := json.Marshal(shift.PaymentTotals)
	if err != nil {
		return nil, err
	}
	counts := shift.DenominationCounts
	if counts == nil {
		counts = []domain.DenominationCount{}
	}
	rawCounts, err := json.Marshal(counts)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM shifts WHERE id = $1 FOR UPDATE`, shift.ID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if status == domain.ShiftStatusClosed {
			return fmt.Errorf("%w: shift %s is closed", store.ErrInvalidState, shift.ID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE shifts
			SET end_time = $2, payment_totals = $3, cash_sales = $4, expected_cash = $5, counted_cash = $6,
			    denomination_counts = $7, variance = $8, discrepancy_reason = $9, status = $10
			WHERE id = $1
		`, shift.ID, *shift.EndTime, totals, shift.CashSales, shift.ExpectedCash, shift.CountedCash,
			rawCounts, shift.Variance, shift.DiscrepancyReason, shift.Status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &shift, nil
}
