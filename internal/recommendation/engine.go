package recommendation

import (
	"sort"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
)

const (
	ReasonOutOfStock = "out_of_stock"
	ReasonBelowMin   = "below_minimum"
	ReasonAtMin      = "at_minimum"
)

// Engine turns stock rows into reorder suggestions. A row qualifies when it
// has a positive minimum and its quantity is at or below it.
type Engine struct {
	targetFactor decimal.Decimal
}

// NewEngine builds an engine that refills up to targetFactor times the
// minimum stock. Factors below one fall back to two.
func NewEngine(targetFactor decimal.Decimal) *Engine {
	if targetFactor.LessThan(decimal.NewFromInt(1)) {
		targetFactor = decimal.NewFromInt(2)
	}
	return &Engine{targetFactor: targetFactor}
}

func (e *Engine) LowStock(stocks []domain.Stock, products map[string]domain.Product) []domain.LowStockItem {
	items := make([]domain.LowStockItem, 0, 8)
	for _, st := range stocks {
		if !st.MinStock.IsPositive() || st.Quantity.GreaterThan(st.MinStock) {
			continue
		}
		product, ok := products[st.ProductID]
		if ok && !product.Active {
			continue
		}

		target := st.MinStock.Mul(e.targetFactor)
		suggested := target.Sub(st.Quantity)
		if suggested.IsNegative() {
			suggested = decimal.Zero
		}
		items = append(items, domain.LowStockItem{
			ProductID:     st.ProductID,
			Name:          product.Name,
			Measure:       product.Measure,
			UnitID:        st.UnitID,
			Quantity:      st.Quantity,
			MinStock:      st.MinStock,
			AvgCost:       st.AvgCost,
			SuggestedQty:  suggested.Round(4),
			EstimatedCost: suggested.Mul(st.AvgCost).Round(2),
			ReasonCode:    deriveReason(st),
		})
	}

	// Emptiest rows first, relative to their own minimum.
	sort.SliceStable(items, func(i, j int) bool {
		ci := coverage(items[i])
		cj := coverage(items[j])
		if !ci.Equal(cj) {
			return ci.LessThan(cj)
		}
		if !items[i].EstimatedCost.Equal(items[j].EstimatedCost) {
			return items[i].EstimatedCost.GreaterThan(items[j].EstimatedCost)
		}
		return items[i].ProductID < items[j].ProductID
	})
	return items
}

func deriveReason(st domain.Stock) string {
	switch {
	case !st.Quantity.IsPositive():
		return ReasonOutOfStock
	case st.Quantity.LessThan(st.MinStock):
		return ReasonBelowMin
	default:
		return ReasonAtMin
	}
}

func coverage(item domain.LowStockItem) decimal.Decimal {
	return item.Quantity.DivRound(item.MinStock, 6)
}
