package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/store"
)

func TestRecordMovementRequiresKnownProductAndUnit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.RecordMovement(ctx, domain.Movement{ProductID: "prd-missing", UnitID: SeedHubID, Type: domain.MovementIn, Quantity: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for product, got %v", err)
	}
	_, err = s.RecordMovement(ctx, domain.Movement{ProductID: SeedFlourID, UnitID: "unit-missing", Type: domain.MovementIn, Quantity: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unit, got %v", err)
	}
}

func TestRecordMovementCreatesStockRowOnFirstIn(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.GetStock(ctx, SeedFlourID, SeedSpokeID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no stock at spoke yet, got %v", err)
	}
	res, err := s.RecordMovement(ctx, domain.Movement{ProductID: SeedFlourID, UnitID: SeedSpokeID, Type: domain.MovementIn, Quantity: decimal.NewFromInt(7), Cost: decimal.NewFromInt(3)})
	if err != nil {
		t.Fatalf("record IN: %v", err)
	}
	if !res.Stock.Quantity.Equal(decimal.NewFromInt(7)) || !res.Stock.AvgCost.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected stock: %+v", res.Stock)
	}
	if res.Transaction.ID == "" || res.Transaction.Type != domain.MovementIn {
		t.Fatalf("unexpected log row: %+v", res.Transaction)
	}
}

func TestConcurrentOutMovementsNeverOverdraw(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// 12kg of cheese at the hub, 20 workers each taking 1kg.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordMovement(ctx, domain.Movement{ProductID: SeedCheeseID, UnitID: SeedHubID, Type: domain.MovementOut, Quantity: decimal.NewFromInt(1)})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 12 {
		t.Fatalf("expected exactly 12 successful withdrawals, got %d", succeeded)
	}
	st, err := s.GetStock(ctx, SeedCheeseID, SeedHubID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if !st.Quantity.IsZero() {
		t.Fatalf("expected empty stock, got %s", st.Quantity)
	}
}

func TestApplyStockCountWritesDeltaRows(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	result, err := s.ApplyStockCount(ctx, domain.StockCount{
		UnitID: SeedHubID,
		Notes:  "weekly",
		Items: []domain.StockCountItem{
			{ProductID: SeedTomatoID, CountedQty: decimal.NewFromInt(28)},
			{ProductID: SeedFlourID, CountedQty: decimal.NewFromInt(52)},
			{ProductID: SeedOilID, CountedQty: decimal.NewFromInt(8)},
		},
		CountedBy: "operator",
		CountedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("apply count: %v", err)
	}
	if len(result.Lines) != 3 || len(result.Transactions) != 2 {
		t.Fatalf("expected 3 lines and 2 movements, got %d and %d", len(result.Lines), len(result.Transactions))
	}
	for _, tx := range result.Transactions {
		if tx.Reason != "stock count: weekly" || tx.ReferenceID != result.CountID {
			t.Fatalf("unexpected count movement: %+v", tx)
		}
	}

	flour, _ := s.GetStock(ctx, SeedFlourID, SeedHubID)
	tomato, _ := s.GetStock(ctx, SeedTomatoID, SeedHubID)
	if !flour.Quantity.Equal(decimal.NewFromInt(52)) || !tomato.Quantity.Equal(decimal.NewFromInt(28)) {
		t.Fatalf("unexpected stock after count: flour=%s tomato=%s", flour.Quantity, tomato.Quantity)
	}
}

func TestDeleteProductionPlanKeepsCompletedHistory(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	plan, err := s.CreateProductionPlan(ctx, domain.ProductionPlan{UnitID: SeedHubID, RecipeID: SeedPizzaID, Date: "2026-10-16", Quantity: decimal.NewFromInt(2)})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := s.CompleteProductionPlan(ctx, plan.ID, "chef", time.Now().UTC()); err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	if err := s.DeleteProductionPlan(ctx, plan.ID); !errors.Is(err, store.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if err := s.DeleteProductionPlan(ctx, "plan-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateUser(ctx, domain.UserAccount{Username: "Chef.Ana", Password: "hash", Role: "chef", Units: []string{"u1"}}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "chef.ana", Password: "hash", Role: "chef"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	user, err := s.GetUser(ctx, "CHEF.ANA")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Username != "chef.ana" || len(user.Units) != 1 {
		t.Fatalf("unexpected user: %+v", user)
	}
}
