package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/ledger"
)

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	req.UnitID = strings.TrimSpace(req.UnitID)
	req.Supplier = strings.TrimSpace(req.Supplier)
	if err := s.validate(req); err != nil {
		return domain.PurchaseOrder{}, err
	}
	items, err := mergePurchaseItems(req.Items)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := authorizeUnit(ctx, req.UnitID); err != nil {
		return domain.PurchaseOrder{}, err
	}

	username, _ := actor(ctx)
	saved, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		UnitID:    req.UnitID,
		Supplier:  req.Supplier,
		Items:     items,
		CreatedBy: username,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, saved.UnitID, "purchase_order_create", "purchase_order", saved.ID,
		fmt.Sprintf("supplier=%s,items=%d", saved.Supplier, len(saved.Items)))
	return *saved, nil
}

// mergePurchaseItems folds repeated products into one line. The merged unit
// cost is the quantity-weighted average of the repeated lines.
func mergePurchaseItems(items []domain.PurchaseItem) ([]domain.PurchaseItem, error) {
	type acc struct {
		qty   decimal.Decimal
		value decimal.Decimal
	}
	order := make([]string, 0, len(items))
	merged := make(map[string]*acc, len(items))
	for idx, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		qty := ledger.Round(item.Quantity)
		if !qty.IsPositive() {
			return nil, invalidField(fmt.Sprintf("items[%d].quantity", idx), "gt")
		}
		cost := ledger.Round(item.Cost)
		a, ok := merged[productID]
		if !ok {
			a = &acc{}
			merged[productID] = a
			order = append(order, productID)
		}
		a.qty = a.qty.Add(qty)
		a.value = a.value.Add(qty.Mul(cost))
	}

	out := make([]domain.PurchaseItem, 0, len(order))
	for _, productID := range order {
		a := merged[productID]
		out = append(out, domain.PurchaseItem{
			ProductID: productID,
			Quantity:  a.qty,
			Cost:      a.value.DivRound(a.qty, ledger.Scale),
		})
	}
	return out, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, unitID string, status domain.PurchaseStatus, limit int) ([]domain.PurchaseOrder, error) {
	unitID = strings.TrimSpace(unitID)
	switch status {
	case "", domain.PurchaseDraft, domain.PurchaseOrdered, domain.PurchaseReceived:
	default:
		return nil, invalidField("status", "oneof")
	}
	if unitID != "" {
		if err := authorizeUnit(ctx, unitID); err != nil {
			return nil, err
		}
	}

	orders, err := s.repo.ListPurchaseOrders(ctx, unitID, status, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if unitID != "" {
		return orders, nil
	}
	out := orders[:0]
	for _, po := range orders {
		if visibleUnit(ctx, po.UnitID) {
			out = append(out, po)
		}
	}
	return out, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := authorizeUnit(ctx, po.UnitID); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) PlacePurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	var placed *domain.PurchaseOrder
	err = s.withUnitLock(ctx, po.UnitID, func() error {
		var err error
		placed, err = s.repo.PlacePurchaseOrder(ctx, po.ID, s.now())
		return err
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, placed.UnitID, "purchase_order_place", "purchase_order", placed.ID, fmt.Sprintf("supplier=%s", placed.Supplier))
	return *placed, nil
}

// ReceivePurchaseOrder books every item of the order into the unit's stock
// with the item's unit cost and marks the order received, all or nothing.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id string) (receipt domain.PurchaseReceipt, err error) {
	defer func() { s.observe(WorkflowPurchase, err) }()

	po, err := s.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseReceipt{}, err
	}

	username, _ := actor(ctx)
	var received *domain.PurchaseReceipt
	err = s.withUnitLock(ctx, po.UnitID, func() error {
		var err error
		received, err = s.repo.ReceivePurchaseOrder(ctx, po.ID, username, s.now())
		return err
	})
	if err != nil {
		return domain.PurchaseReceipt{}, err
	}

	s.afterCommit(ctx, WorkflowPurchase, po.UnitID, received.Transactions)
	s.logAudit(ctx, po.UnitID, "purchase_order_receive", "purchase_order", po.ID,
		fmt.Sprintf("received_by=%s,items=%d", username, len(received.Transactions)))
	return *received, nil
}
