package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	for i := range po.Items {
		if po.Items[i].ID == "" {
			po.Items[i].ID = xid.New("poi")
		}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_orders (id, po_number, site_id, supplier_id, status, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, po.ID, po.PONumber, po.SiteID, po.SupplierID, po.Status, po.CreatedBy, po.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		for i, item := range po.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO purchase_order_items (id, purchase_order_id, line_no, product_id, sku, quantity, unit_cost)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, po.ID, i, item.ProductID, item.SKU, item.Quantity, item.UnitCost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &po, nil
}

const poColumns = `id, po_number, site_id, supplier_id, status, created_by, created_at, received_at, received_by, putaway_job_id`

func scanPurchaseOrder(row rowScanner) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var receivedAt sql.NullTime
	err := row.Scan(&po.ID, &po.PONumber, &po.SiteID, &po.SupplierID, &po.Status, &po.CreatedBy, &po.CreatedAt, &receivedAt, &po.ReceivedBy, &po.PutawayJobID)
	po.CreatedAt = po.CreatedAt.UTC()
	po.ReceivedAt = timePtr(receivedAt)
	return po, err
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanPurchaseOrder(s.db.QueryRowContext(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.purchaseOrderItems(ctx, []string{po.ID})
	if err != nil {
		return nil, err
	}
	po.Items = items[po.ID]
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, siteID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR site_id = $1) AND ($2 = '' OR lower(status) = lower($2))
		ORDER BY created_at DESC
		LIMIT $3
	`, siteID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
		ids = append(ids, po.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.purchaseOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) purchaseOrderItems(ctx context.Context, poIDs []string) (map[string][]domain.PurchaseOrderItem, error) {
	result := make(map[string][]domain.PurchaseOrderItem, len(poIDs))
	if len(poIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT purchase_order_id, id, product_id, sku, quantity, unit_cost
		FROM purchase_order_items
		WHERE purchase_order_id = ANY($1)
		ORDER BY purchase_order_id, line_no
	`, poIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var poID string
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&poID, &item.ID, &item.ProductID, &item.SKU, &item.Quantity, &item.UnitCost); err != nil {
			return nil, err
		}
		result[poID] = append(result[poID], item)
	}
	return result, rows.Err()
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, id string, receivedBy string, receivedAt time.Time, job domain.WarehouseJob) (*domain.PurchaseOrder, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = "system"
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM purchase_orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if status != domain.POStatusDraft && status != domain.POStatusPending {
			return fmt.Errorf("%w: purchase order %s is %s", store.ErrInvalidState, id, status)
		}

		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE purchase_orders
			SET status = $2, received_at = $3, received_by = $4, putaway_job_id = $5
			WHERE id = $1
		`, id, domain.POStatusReceived, receivedAt, receivedBy, job.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetPurchaseOrder(ctx, id)
}

func (s *Store) CancelPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders SET status = $2
		WHERE id = $1 AND status IN ($3, $4)
	`, id, domain.POStatusCancelled, domain.POStatusDraft, domain.POStatusPending)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := s.GetPurchaseOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: purchase order %s is %s", store.ErrInvalidState, id, current.Status)
	}
	return s.GetPurchaseOrder(ctx, id)
}

const jobColumns = `id, job_number, site_id, dest_site_id, type, status, priority, assigned_to, order_ref, location, lines, created_at, started_at, completed_at, version`

func scanJob(row rowScanner) (domain.WarehouseJob, error) {
	var job domain.WarehouseJob
	var linesRaw []byte
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.JobNumber, &job.SiteID, &job.DestSiteID, &job.Type, &job.Status, &job.Priority,
		&job.AssignedTo, &job.OrderRef, &job.Location, &linesRaw,
		&job.CreatedAt, &startedAt, &completedAt, &job.Version,
	)
	if err != nil {
		return job, err
	}
	if len(linesRaw) > 0 {
		if err := json.Unmarshal(linesRaw, &job.Lines); err != nil {
			return job, fmt.Errorf("decode lines of job %s: %w", job.ID, err)
		}
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return job, nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job domain.WarehouseJob) error {
	if job.ID == "" {
		job.ID = xid.New("job")
	}
	lines, err := json.Marshal(job.Lines)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wms_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
	`, job.ID, job.JobNumber, job.SiteID, job.DestSiteID, job.Type, job.Status, job.Priority,
		job.AssignedTo, job.OrderRef, job.Location, lines,
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt))
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) CreateJob(ctx context.Context, job domain.WarehouseJob) (*domain.WarehouseJob, error) {
	if job.ID == "" {
		job.ID = xid.New("job")
	}
	if err := s.inTx(ctx, func(tx *sql.Tx) error { return insertJob(ctx, tx, job) }); err != nil {
		return nil, err
	}
	job.Version = 1
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.WarehouseJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM wms_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.WarehouseJob, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM wms_jobs
		WHERE ($1 = '' OR site_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR type = $3)
		  AND ($4 = '' OR assigned_to = $4)
		  AND ($5 = '' OR order_ref = $5)
		ORDER BY CASE priority WHEN 'Critical' THEN 3 WHEN 'High' THEN 2 WHEN 'Normal' THEN 1 ELSE 0 END DESC,
		         created_at ASC, id ASC
		LIMIT $6
	`, filter.SiteID, filter.Status, filter.Type, filter.AssignedTo, filter.OrderRef, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.WarehouseJob, 0, 32)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func updateJob(ctx context.Context, tx *sql.Tx, job domain.WarehouseJob, expectedVersion int64) error {
	lines, err := json.Marshal(job.Lines)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE wms_jobs
		SET status = $3, assigned_to = $4, lines = $5, started_at = $6, completed_at = $7,
		    priority = $8, location = $9, version = version + 1
		WHERE id = $1 AND version = $2
	`, job.ID, expectedVersion, job.Status, job.AssignedTo, lines,
		nullTime(job.StartedAt), nullTime(job.CompletedAt), job.Priority, job.Location)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s moved past version %d", store.ErrConflict, job.ID, expectedVersion)
	}
	return nil
}

// lockJob reads the job's status and version under a row lock.
func lockJob(ctx context.Context, tx *sql.Tx, id string) (string, int64, error) {
	var status string
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT status, version FROM wms_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, store.ErrNotFound
	}
	return status, version, err
}

func (s *Store) UpdateJob(ctx context.Context, job domain.WarehouseJob, expectedVersion int64) (*domain.WarehouseJob, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		status, version, err := lockJob(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return fmt.Errorf("%w: job %s at version %d, expected %d", store.ErrConflict, job.ID, version, expectedVersion)
		}
		if status == domain.JobStatusCompleted {
			return fmt.Errorf("%w: job %s is completed", store.ErrInvalidState, job.ID)
		}
		return updateJob(ctx, tx, job, expectedVersion)
	})
	if err != nil {
		return nil, err
	}
	job.Version = expectedVersion + 1
	return &job, nil
}

func (s *Store) CompleteJob(ctx context.Context, completion store.JobCompletion) (*domain.WarehouseJob, error) {
	job := completion.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		status, version, err := lockJob(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		if status == domain.JobStatusCompleted {
			return fmt.Errorf("%w: job %s is already completed", store.ErrInvalidState, job.ID)
		}
		if version != completion.ExpectedVersion {
			return fmt.Errorf("%w: job %s at version %d, expected %d", store.ErrConflict, job.ID, version, completion.ExpectedVersion)
		}
		if err := applyStockChanges(ctx, tx, completion.StockChanges); err != nil {
			return err
		}
		if err := updateJob(ctx, tx, job, completion.ExpectedVersion); err != nil {
			return err
		}
		if completion.Successor != nil {
			if err := insertJob(ctx, tx, *completion.Successor); err != nil {
				return err
			}
		}
		for _, flag := range completion.Flags {
			if err := insertCycleCountFlag(ctx, tx, flag); err != nil {
				return err
			}
		}
		if completion.SaleFulfillment != "" && job.OrderRef != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE sales SET fulfillment_status = $2 WHERE id = $1
			`, job.OrderRef, completion.SaleFulfillment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	job.Version = completion.ExpectedVersion + 1
	return &job, nil
}

func (s *Store) CountActiveJobs(ctx context.Context, employeeID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM wms_jobs WHERE assigned_to = $1 AND status = $2
	`, employeeID, domain.JobStatusInProgress).Scan(&count)
	return count, err
}

func (s *Store) FlagForCycleCount(ctx context.Context, flag domain.CycleCountFlag) error {
	return insertCycleCountFlag(ctx, s.db, flag)
}

func insertCycleCountFlag(ctx context.Context, exec execer, flag domain.CycleCountFlag) error {
	if flag.ID == "" {
		flag.ID = xid.New("ccf")
	}
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = time.Now().UTC()
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO cycle_count_flags (id, product_id, site_id, job_id, expected_qty, actual_qty, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, flag.ID, flag.ProductID, flag.SiteID, flag.JobID, flag.ExpectedQty, flag.ActualQty, flag.Reason, flag.CreatedAt)
	return err
}

func (s *Store) ListCycleCountFlags(ctx context.Context, siteID string, limit int) ([]domain.CycleCountFlag, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, site_id, job_id, expected_qty, actual_qty, reason, created_at
		FROM cycle_count_flags
		WHERE ($1 = '' OR site_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := make([]domain.CycleCountFlag, 0, 16)
	for rows.Next() {
		var f domain.CycleCountFlag
		if err := rows.Scan(&f.ID, &f.ProductID, &f.SiteID, &f.JobID, &f.ExpectedQty, &f.ActualQty, &f.Reason, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
