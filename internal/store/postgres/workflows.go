package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/ledger"
	"kitchenops/backend/internal/store"
	"kitchenops/backend/internal/xid"
)

// Stock workflows run at READ COMMITTED and serialise on the stock rows they
// touch with SELECT ... FOR UPDATE. Rows are always locked in product id
// order so two workflows over the same products cannot deadlock.

func (s *Store) beginWorkflow(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// lockStock returns the locked stock row for the pair. When create is true
// a missing row is inserted empty first so that concurrent creators queue
// on the same row; otherwise a missing row yields nil.
func lockStock(ctx context.Context, tx *sql.Tx, productID string, unitID string, create bool) (*domain.Stock, error) {
	if create {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stocks (product_id, unit_id, quantity, min_stock, avg_cost, updated_at)
			VALUES ($1, $2, 0, 0, 0, now())
			ON CONFLICT (product_id, unit_id) DO NOTHING
		`, productID, unitID); err != nil {
			return nil, mapWriteError(err)
		}
	}

	st, err := scanStock(tx.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stocks
		WHERE product_id = $1 AND unit_id = $2
		FOR UPDATE
	`, productID, unitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// applyMovement locks the stock row, applies the movement through the
// ledger and writes both the new stock row and its log row.
func applyMovement(ctx context.Context, tx *sql.Tx, mv domain.Movement) (domain.Stock, domain.InventoryTransaction, error) {
	current, err := lockStock(ctx, tx, mv.ProductID, mv.UnitID, mv.Type != domain.MovementOut)
	if err != nil {
		return domain.Stock{}, domain.InventoryTransaction{}, err
	}
	next, err := ledger.Apply(current, mv.ProductID, mv.UnitID, mv.Type, mv.Quantity, mv.Cost, mv.CreatedAt)
	if err != nil {
		return domain.Stock{}, domain.InventoryTransaction{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stocks
		SET quantity = $3, avg_cost = $4, updated_at = $5
		WHERE product_id = $1 AND unit_id = $2
	`, mv.ProductID, mv.UnitID, next.Quantity, next.AvgCost, next.UpdatedAt); err != nil {
		return domain.Stock{}, domain.InventoryTransaction{}, err
	}

	id := mv.ID
	if id == "" {
		id = xid.New("itx")
	}
	logRow := domain.InventoryTransaction{
		ID:          id,
		ProductID:   mv.ProductID,
		UnitID:      mv.UnitID,
		Type:        mv.Type,
		Quantity:    ledger.Round(mv.Quantity),
		Cost:        ledger.Round(mv.Cost),
		Reason:      mv.Reason,
		ReferenceID: mv.ReferenceID,
		CreatedBy:   mv.CreatedBy,
		CreatedAt:   mv.CreatedAt,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions (id, product_id, unit_id, type, quantity, cost, reason, reference_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, logRow.ID, logRow.ProductID, logRow.UnitID, string(logRow.Type), logRow.Quantity, logRow.Cost,
		logRow.Reason, logRow.ReferenceID, logRow.CreatedBy, logRow.CreatedAt); err != nil {
		return domain.Stock{}, domain.InventoryTransaction{}, mapWriteError(err)
	}
	return next, logRow, nil
}

func requireRow(ctx context.Context, tx *sql.Tx, table string, id string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, strings.TrimSuffix(table, "s"), id)
	}
	return nil
}

func (s *Store) RecordMovement(ctx context.Context, movement domain.Movement) (*domain.MovementResult, error) {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireRow(ctx, tx, "products", movement.ProductID); err != nil {
		return nil, err
	}
	if err := requireRow(ctx, tx, "units", movement.UnitID); err != nil {
		return nil, err
	}

	st, logRow, err := applyMovement(ctx, tx, movement)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.MovementResult{Stock: st, Transaction: logRow}, nil
}

func (s *Store) ApplyStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCountResult, error) {
	if count.CountedAt.IsZero() {
		count.CountedAt = time.Now().UTC()
	}
	if count.ID == "" {
		count.ID = xid.New("cnt")
	}

	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireRow(ctx, tx, "units", count.UnitID); err != nil {
		return nil, err
	}

	items := append([]domain.StockCountItem(nil), count.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	reason := ledger.ReasonStockCount
	if notes := strings.TrimSpace(count.Notes); notes != "" {
		reason += ": " + notes
	}

	result := &domain.StockCountResult{CountID: count.ID, UnitID: count.UnitID, CountedAt: count.CountedAt}
	for _, item := range items {
		if err := requireRow(ctx, tx, "products", item.ProductID); err != nil {
			return nil, err
		}
		current, err := lockStock(ctx, tx, item.ProductID, count.UnitID, false)
		if err != nil {
			return nil, err
		}
		system := decimal.Zero
		if current != nil {
			system = current.Quantity
		}
		counted := ledger.Round(item.CountedQty)
		result.Lines = append(result.Lines, domain.StockCountLine{
			ProductID:  item.ProductID,
			SystemQty:  system,
			CountedQty: counted,
			Delta:      counted.Sub(system),
		})

		kind, delta, ok := ledger.CountDelta(system, counted)
		if !ok {
			continue
		}
		_, logRow, err := applyMovement(ctx, tx, domain.Movement{
			ProductID:   item.ProductID,
			UnitID:      count.UnitID,
			Type:        kind,
			Quantity:    delta,
			Reason:      reason,
			ReferenceID: count.ID,
			CreatedBy:   count.CountedBy,
			CreatedAt:   count.CountedAt,
		})
		if err != nil {
			return nil, err
		}
		result.Transactions = append(result.Transactions, logRow)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

const planColumns = `id, unit_id, recipe_id, plan_date, quantity, status, created_by, created_at, COALESCE(completed_by, ''), completed_at`

func scanPlan(row interface{ Scan(...any) error }) (domain.ProductionPlan, error) {
	var p domain.ProductionPlan
	var date time.Time
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.UnitID, &p.RecipeID, &date, &p.Quantity, &status, &p.CreatedBy, &p.CreatedAt, &p.CompletedBy, &completedAt); err != nil {
		return domain.ProductionPlan{}, err
	}
	p.Date = date.Format("2006-01-02")
	p.Status = domain.PlanStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		p.CompletedAt = &at
	}
	return p, nil
}

func (s *Store) CreateProductionPlan(ctx context.Context, plan domain.ProductionPlan) (*domain.ProductionPlan, error) {
	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	plan.Status = domain.PlanPlanned

	created, err := scanPlan(s.db.QueryRowContext(ctx, `
		INSERT INTO production_plans (id, unit_id, recipe_id, plan_date, quantity, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+planColumns,
		plan.ID, plan.UnitID, plan.RecipeID, plan.Date, plan.Quantity, string(plan.Status), plan.CreatedBy, plan.CreatedAt))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &created, nil
}

func (s *Store) GetProductionPlan(ctx context.Context, id string) (*domain.ProductionPlan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM production_plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProductionPlans(ctx context.Context, filter domain.ProductionPlanFilter) ([]domain.ProductionPlan, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM production_plans
		WHERE ($1 = '' OR unit_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND (NULLIF($3, '')::date IS NULL OR plan_date = NULLIF($3, '')::date)
		ORDER BY plan_date DESC, created_at DESC
		LIMIT $4
	`, filter.UnitID, string(filter.Status), filter.Date, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]domain.ProductionPlan, 0, 32)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func lockPlan(ctx context.Context, tx *sql.Tx, id string) (*domain.ProductionPlan, error) {
	p, err := scanPlan(tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM production_plans WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) StartProductionPlan(ctx context.Context, id string) (*domain.ProductionPlan, error) {
	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	plan, err := lockPlan(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch plan.Status {
	case domain.PlanCompleted:
		return nil, store.ErrAlreadyCompleted
	case domain.PlanInProgress:
		return nil, fmt.Errorf("%w: plan %s is already in progress", store.ErrInvalidStatus, id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE production_plans SET status = $2 WHERE id = $1`, id, string(domain.PlanInProgress)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	plan.Status = domain.PlanInProgress
	return plan, nil
}

func (s *Store) DeleteProductionPlan(ctx context.Context, id string) error {
	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	plan, err := lockPlan(ctx, tx, id)
	if err != nil {
		return err
	}
	if plan.Status == domain.PlanCompleted {
		return fmt.Errorf("%w: completed plans cannot be deleted", store.ErrInvalidStatus)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM production_plans WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CompleteProductionPlan(ctx context.Context, id string, completedBy string, completedAt time.Time) (*domain.ProductionCompletion, error) {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	plan, err := lockPlan(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == domain.PlanCompleted {
		return nil, store.ErrAlreadyCompleted
	}

	ingredients, err := loadIngredients(ctx, tx, plan.RecipeID)
	if err != nil {
		return nil, err
	}

	logRows := make([]domain.InventoryTransaction, 0, len(ingredients))
	for _, req := range ledger.Requirements(ingredients, plan.Quantity) {
		current, err := lockStock(ctx, tx, req.ProductID, plan.UnitID, false)
		if err != nil {
			return nil, err
		}
		cost := decimal.Zero
		if current != nil {
			cost = current.AvgCost
		}
		_, logRow, err := applyMovement(ctx, tx, domain.Movement{
			ProductID:   req.ProductID,
			UnitID:      plan.UnitID,
			Type:        domain.MovementOut,
			Quantity:    req.Quantity,
			Cost:        cost,
			Reason:      ledger.ReasonProduction,
			ReferenceID: plan.ID,
			CreatedBy:   completedBy,
			CreatedAt:   completedAt,
		})
		if err != nil {
			return nil, err
		}
		logRows = append(logRows, logRow)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE production_plans
		SET status = $2, completed_by = $3, completed_at = $4
		WHERE id = $1
	`, id, string(domain.PlanCompleted), completedBy, completedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	plan.Status = domain.PlanCompleted
	plan.CompletedBy = completedBy
	plan.CompletedAt = &completedAt
	return &domain.ProductionCompletion{Plan: *plan, Transactions: logRows}, nil
}

const orderColumns = `id, unit_id, supplier, status, created_by, created_at, ordered_at, COALESCE(received_by, ''), received_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var status string
	var orderedAt, receivedAt sql.NullTime
	if err := row.Scan(&po.ID, &po.UnitID, &po.Supplier, &status, &po.CreatedBy, &po.CreatedAt, &orderedAt, &po.ReceivedBy, &receivedAt); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po.Status = domain.PurchaseStatus(status)
	po.CreatedAt = po.CreatedAt.UTC()
	if orderedAt.Valid {
		at := orderedAt.Time.UTC()
		po.OrderedAt = &at
	}
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		po.ReceivedAt = &at
	}
	return po, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.PurchaseItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, cost
		FROM purchase_items
		WHERE purchase_order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Cost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if len(po.Items) == 0 {
		return nil, fmt.Errorf("%w: purchase order needs at least one item", store.ErrInvalidInput)
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.Status = domain.PurchaseDraft

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, unit_id, supplier, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, po.ID, po.UnitID, po.Supplier, string(po.Status), po.CreatedBy, po.CreatedAt); err != nil {
		return nil, mapWriteError(err)
	}
	for idx, item := range po.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_order_id, position, product_id, quantity, cost)
			VALUES ($1, $2, $3, $4, $5)
		`, po.ID, idx, item.ProductID, item.Quantity, item.Cost); err != nil {
			return nil, mapWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	po, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := loadItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, unitID string, status domain.PurchaseStatus, limit int) ([]domain.PurchaseOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR unit_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, unitID, string(status), limit)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.PurchaseOrder, 0, 32)
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range orders {
		items, err := loadItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, id string) (*domain.PurchaseOrder, error) {
	po, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &po, nil
}

func (s *Store) PlacePurchaseOrder(ctx context.Context, id string, orderedAt time.Time) (*domain.PurchaseOrder, error) {
	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := lockOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch po.Status {
	case domain.PurchaseReceived:
		return nil, store.ErrAlreadyReceived
	case domain.PurchaseOrdered:
		return nil, fmt.Errorf("%w: purchase order %s is already ordered", store.ErrInvalidStatus, id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE purchase_orders SET status = $2, ordered_at = $3 WHERE id = $1`, id, string(domain.PurchaseOrdered), orderedAt); err != nil {
		return nil, err
	}
	items, err := loadItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	po.Status = domain.PurchaseOrdered
	po.OrderedAt = &orderedAt
	po.Items = items
	return po, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, id string, receivedBy string, receivedAt time.Time) (*domain.PurchaseReceipt, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = "system"
	}

	tx, err := s.beginWorkflow(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	po, err := lockOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if po.Status == domain.PurchaseReceived {
		return nil, store.ErrAlreadyReceived
	}
	items, err := loadItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: purchase order %s has no items", store.ErrInvalidInput, id)
	}
	po.Items = items

	ordered := append([]domain.PurchaseItem(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	logRows := make([]domain.InventoryTransaction, 0, len(ordered))
	for _, item := range ordered {
		_, logRow, err := applyMovement(ctx, tx, domain.Movement{
			ProductID:   item.ProductID,
			UnitID:      po.UnitID,
			Type:        domain.MovementIn,
			Quantity:    item.Quantity,
			Cost:        item.Cost,
			Reason:      ledger.ReasonPurchase,
			ReferenceID: po.ID,
			CreatedBy:   receivedBy,
			CreatedAt:   receivedAt,
		})
		if err != nil {
			return nil, err
		}
		logRows = append(logRows, logRow)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, received_by = $3, received_at = $4
		WHERE id = $1
	`, id, string(domain.PurchaseReceived), receivedBy, receivedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	po.Status = domain.PurchaseReceived
	po.ReceivedBy = receivedBy
	po.ReceivedAt = &receivedAt
	return &domain.PurchaseReceipt{Order: *po, Transactions: logRows}, nil
}
