package recommendation

import (
	"testing"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLowStockOrdersByCoverage(t *testing.T) {
	engine := NewEngine(decimal.NewFromInt(2))
	stocks := []domain.Stock{
		{ProductID: "prd-flour", UnitID: "u1", Quantity: dec("50"), MinStock: dec("10"), AvgCost: dec("4.2")},
		{ProductID: "prd-basil", UnitID: "u1", Quantity: dec("0.5"), MinStock: dec("1"), AvgCost: dec("80")},
		{ProductID: "prd-oil", UnitID: "u1", Quantity: dec("0"), MinStock: dec("2"), AvgCost: dec("38")},
		{ProductID: "prd-salt", UnitID: "u1", Quantity: dec("0"), MinStock: dec("0"), AvgCost: dec("1")},
		{ProductID: "prd-cheese", UnitID: "u1", Quantity: dec("5"), MinStock: dec("5"), AvgCost: dec("32")},
	}
	products := map[string]domain.Product{
		"prd-flour":  {ID: "prd-flour", Name: "Flour", Active: true},
		"prd-basil":  {ID: "prd-basil", Name: "Basil", Active: true},
		"prd-oil":    {ID: "prd-oil", Name: "Olive oil", Active: true},
		"prd-cheese": {ID: "prd-cheese", Name: "Mozzarella", Active: true},
	}

	items := engine.LowStock(stocks, products)
	if len(items) != 3 {
		t.Fatalf("expected 3 low stock items, got %d", len(items))
	}
	want := []struct {
		id, reason, suggested string
	}{
		{"prd-oil", ReasonOutOfStock, "4"},
		{"prd-basil", ReasonBelowMin, "1.5"},
		{"prd-cheese", ReasonAtMin, "5"},
	}
	for i, w := range want {
		if items[i].ProductID != w.id || items[i].ReasonCode != w.reason || !items[i].SuggestedQty.Equal(dec(w.suggested)) {
			t.Fatalf("item %d: got %+v, want %+v", i, items[i], w)
		}
	}
	if !items[1].EstimatedCost.Equal(dec("120")) {
		t.Fatalf("expected basil estimate 120, got %s", items[1].EstimatedCost)
	}
}

func TestLowStockSkipsInactiveProducts(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	stocks := []domain.Stock{{ProductID: "prd-x", Quantity: dec("1"), MinStock: dec("3")}}
	products := map[string]domain.Product{"prd-x": {ID: "prd-x", Active: false}}
	if items := engine.LowStock(stocks, products); len(items) != 0 {
		t.Fatalf("expected inactive product to be skipped, got %+v", items)
	}
}
