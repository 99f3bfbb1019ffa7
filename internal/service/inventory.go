package service

import (
	"context"
	"fmt"
	"strings"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/ledger"
	"kitchenops/backend/internal/metrics"
	"kitchenops/backend/internal/report"
	"kitchenops/backend/internal/xid"
)

// RecordMovement applies one IN, OUT or ADJUST movement. ADJUST adds to the
// stock like IN; absolute corrections go through CountStock.
func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (result domain.MovementResult, err error) {
	defer func() { s.observe(WorkflowMovement, err) }()

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.UnitID = strings.TrimSpace(req.UnitID)
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	req.Reason = strings.TrimSpace(req.Reason)
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if err := s.validate(req); err != nil {
		return domain.MovementResult{}, err
	}
	if !ledger.Round(req.Quantity).IsPositive() {
		return domain.MovementResult{}, invalidField("quantity", "gt")
	}
	if err := authorizeUnit(ctx, req.UnitID); err != nil {
		return domain.MovementResult{}, err
	}

	username, _ := actor(ctx)
	movement := domain.Movement{
		ID:          xid.New("itx"),
		ProductID:   req.ProductID,
		UnitID:      req.UnitID,
		Type:        domain.MovementType(req.Type),
		Quantity:    req.Quantity,
		Cost:        req.Cost,
		Reason:      req.Reason,
		ReferenceID: req.ReferenceID,
		CreatedBy:   username,
		CreatedAt:   s.now(),
	}

	var recorded *domain.MovementResult
	err = s.withUnitLock(ctx, req.UnitID, func() error {
		var err error
		recorded, err = s.repo.RecordMovement(ctx, movement)
		return err
	})
	if err != nil {
		return domain.MovementResult{}, err
	}

	s.afterCommit(ctx, WorkflowMovement, req.UnitID, []domain.InventoryTransaction{recorded.Transaction})
	s.logAudit(ctx, req.UnitID, "stock_movement", "inventory_transaction", recorded.Transaction.ID,
		fmt.Sprintf("product=%s,type=%s,quantity=%s", req.ProductID, req.Type, recorded.Transaction.Quantity))
	return *recorded, nil
}

// ListStocks returns the stock rows of a unit, served from the stock cache
// between mutations.
func (s *Service) ListStocks(ctx context.Context, unitID string) ([]domain.Stock, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return nil, invalidField("unit_id", "required")
	}
	if err := authorizeUnit(ctx, unitID); err != nil {
		return nil, err
	}

	if cached, ok, err := s.stockCache.Get(ctx, unitID); err == nil && ok {
		metrics.ObserveCache(true)
		return cached, nil
	} else if err != nil {
		s.logger.WithField("unit_id", unitID).WithError(err).Warn("stock cache read failed")
	}
	metrics.ObserveCache(false)

	if _, err := s.requireUnit(ctx, unitID); err != nil {
		return nil, err
	}
	// Taken before the read so a write committing meanwhile voids the fill.
	gen, genErr := s.stockCache.Generation(ctx, unitID)
	stocks, err := s.repo.ListStocks(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		s.logger.WithField("unit_id", unitID).WithError(genErr).Warn("stock cache generation read failed")
		return stocks, nil
	}
	if err := s.stockCache.Set(ctx, unitID, gen, stocks, s.stockCacheTTL); err != nil {
		s.logger.WithField("unit_id", unitID).WithError(err).Warn("stock cache write failed")
	}
	return stocks, nil
}

// ExportStocks renders the unit's stock as an xlsx workbook and returns it
// with a suggested file name.
func (s *Service) ExportStocks(ctx context.Context, unitID string) ([]byte, string, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return nil, "", invalidField("unit_id", "required")
	}
	unit, err := s.requireUnit(ctx, unitID)
	if err != nil {
		return nil, "", err
	}
	stocks, err := s.repo.ListStocks(ctx, unitID)
	if err != nil {
		return nil, "", err
	}
	products, err := s.productIndex(ctx)
	if err != nil {
		return nil, "", err
	}

	data, err := report.StockWorkbook(*unit, stocks, products)
	if err != nil {
		return nil, "", err
	}
	s.logAudit(ctx, unitID, "stock_export", "unit", unitID, fmt.Sprintf("rows=%d", len(stocks)))
	return data, report.StockFileName(unitID, s.now()), nil
}

func (s *Service) LowStock(ctx context.Context, unitID string) ([]domain.LowStockItem, error) {
	stocks, err := s.ListStocks(ctx, unitID)
	if err != nil {
		return nil, err
	}
	products, err := s.productIndex(ctx)
	if err != nil {
		return nil, err
	}
	return s.reorder.LowStock(stocks, products), nil
}

func (s *Service) SetMinStock(ctx context.Context, req domain.MinStockRequest) (domain.Stock, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.UnitID = strings.TrimSpace(req.UnitID)
	if err := s.validate(req); err != nil {
		return domain.Stock{}, err
	}
	if err := authorizeUnit(ctx, req.UnitID); err != nil {
		return domain.Stock{}, err
	}

	var updated *domain.Stock
	err := s.withUnitLock(ctx, req.UnitID, func() error {
		var err error
		updated, err = s.repo.SetMinStock(ctx, req.ProductID, req.UnitID, ledger.Round(req.MinStock), s.now())
		return err
	})
	if err != nil {
		return domain.Stock{}, err
	}

	s.afterCommit(ctx, "min_stock", req.UnitID, nil)
	s.logAudit(ctx, req.UnitID, "min_stock_update", "stock", req.ProductID, fmt.Sprintf("min_stock=%s", updated.MinStock))
	return *updated, nil
}

// CountStock reconciles counted quantities with the system stock, writing
// the differences as IN and OUT rows in one transaction.
func (s *Service) CountStock(ctx context.Context, req domain.StockCountRequest) (result domain.StockCountResult, err error) {
	defer func() { s.observe(WorkflowStockCount, err) }()

	req.UnitID = strings.TrimSpace(req.UnitID)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.validate(req); err != nil {
		return domain.StockCountResult{}, err
	}
	seen := make(map[string]struct{}, len(req.Items))
	for idx := range req.Items {
		req.Items[idx].ProductID = strings.TrimSpace(req.Items[idx].ProductID)
		if _, dup := seen[req.Items[idx].ProductID]; dup {
			return domain.StockCountResult{}, invalidField(fmt.Sprintf("items[%d].product_id", idx), "unique")
		}
		seen[req.Items[idx].ProductID] = struct{}{}
	}
	if err := authorizeUnit(ctx, req.UnitID); err != nil {
		return domain.StockCountResult{}, err
	}

	username, _ := actor(ctx)
	count := domain.StockCount{
		ID:        xid.New("cnt"),
		UnitID:    req.UnitID,
		Notes:     req.Notes,
		Items:     req.Items,
		CountedBy: username,
		CountedAt: s.now(),
	}

	var applied *domain.StockCountResult
	err = s.withUnitLock(ctx, req.UnitID, func() error {
		var err error
		applied, err = s.repo.ApplyStockCount(ctx, count)
		return err
	})
	if err != nil {
		return domain.StockCountResult{}, err
	}

	s.afterCommit(ctx, WorkflowStockCount, req.UnitID, applied.Transactions)
	s.logAudit(ctx, req.UnitID, "stock_count", "stock_count", applied.CountID,
		fmt.Sprintf("items=%d,adjusted=%d,notes=%s", len(applied.Lines), len(applied.Transactions), req.Notes))
	return *applied, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error) {
	filter.UnitID = strings.TrimSpace(filter.UnitID)
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	filter.Type = domain.MovementType(strings.ToUpper(strings.TrimSpace(string(filter.Type))))
	if filter.UnitID == "" {
		return nil, invalidField("unit_id", "required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalidField("type", "oneof")
	}
	if err := authorizeUnit(ctx, filter.UnitID); err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListTransactions(ctx, filter)
}
