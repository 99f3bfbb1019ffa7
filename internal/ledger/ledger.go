// Package ledger holds the stock arithmetic shared by every store
// implementation: applying movements, weighted average cost, recipe
// requirements and stock-count deltas.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/store"
)

// Scale is the number of decimal places kept for quantities and costs.
const Scale = 4

const (
	ReasonProduction = "production"
	ReasonPurchase   = "purchase receipt"
	ReasonStockCount = "stock count"
)

func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(Scale)
}

// Apply returns the stock row that results from applying one movement to
// current. current is nil when the (product, unit) pair has no row yet.
// IN and ADJUST both add the quantity; OUT subtracts and refuses to go below
// zero. A positive unitCost on an incoming movement updates the weighted
// average cost.
func Apply(current *domain.Stock, productID string, unitID string, kind domain.MovementType, qty decimal.Decimal, unitCost decimal.Decimal, at time.Time) (domain.Stock, error) {
	if !kind.Valid() {
		return domain.Stock{}, fmt.Errorf("%w: unknown movement type %q", store.ErrInvalidInput, kind)
	}
	qty = Round(qty)
	if !qty.IsPositive() {
		return domain.Stock{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrInvalidInput)
	}
	if unitCost.IsNegative() {
		return domain.Stock{}, fmt.Errorf("%w: cost must not be negative", store.ErrInvalidInput)
	}

	next := domain.Stock{ProductID: productID, UnitID: unitID}
	if current != nil {
		next = *current
	}
	next.UpdatedAt = at

	switch kind {
	case domain.MovementOut:
		if current == nil || qty.GreaterThan(current.Quantity) {
			available := decimal.Zero
			if current != nil {
				available = current.Quantity
			}
			return domain.Stock{}, InsufficientStock(productID, unitID, qty, available)
		}
		next.Quantity = current.Quantity.Sub(qty)
	default:
		next.AvgCost = WeightedAverage(next.Quantity, next.AvgCost, qty, unitCost)
		next.Quantity = next.Quantity.Add(qty)
	}
	return next, nil
}

// WeightedAverage blends the cost of incoming goods into the current
// average. Non-positive incoming cost leaves the average unchanged.
func WeightedAverage(onHand decimal.Decimal, avgCost decimal.Decimal, incomingQty decimal.Decimal, incomingCost decimal.Decimal) decimal.Decimal {
	if !incomingQty.IsPositive() || !incomingCost.IsPositive() {
		return avgCost
	}
	if !onHand.IsPositive() || !avgCost.IsPositive() {
		return Round(incomingCost)
	}
	total := onHand.Add(incomingQty)
	value := onHand.Mul(avgCost).Add(incomingQty.Mul(incomingCost))
	return value.DivRound(total, Scale)
}

func InsufficientStock(productID string, unitID string, required decimal.Decimal, available decimal.Decimal) error {
	return fmt.Errorf("%w: product %s at unit %s requires %s, available %s",
		store.ErrInsufficientStock, productID, unitID, required.String(), available.String())
}

// Requirement is the total quantity of one product a production plan consumes.
type Requirement struct {
	ProductID string
	Quantity  decimal.Decimal
}

// Requirements multiplies each ingredient's gross quantity by the planned
// quantity and merges lines for the same product. The result is sorted by
// product id so callers lock stock rows in a stable order. Lines that round
// to zero are dropped.
func Requirements(ingredients []domain.RecipeIngredient, planQty decimal.Decimal) []Requirement {
	totals := make(map[string]decimal.Decimal, len(ingredients))
	for _, ing := range ingredients {
		totals[ing.ProductID] = totals[ing.ProductID].Add(ing.GrossQty.Mul(planQty))
	}
	out := make([]Requirement, 0, len(totals))
	for productID, qty := range totals {
		qty = Round(qty)
		if !qty.IsPositive() {
			continue
		}
		out = append(out, Requirement{ProductID: productID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// CountDelta converts a physical count into the movement that reconciles
// the system quantity with it. ok is false when nothing needs to move.
func CountDelta(system decimal.Decimal, counted decimal.Decimal) (kind domain.MovementType, qty decimal.Decimal, ok bool) {
	diff := Round(counted).Sub(system)
	switch {
	case diff.IsPositive():
		return domain.MovementIn, diff, true
	case diff.IsNegative():
		return domain.MovementOut, diff.Neg(), true
	default:
		return "", decimal.Zero, false
	}
}

// factorTolerance is one step at ledger scale, the rounding slack allowed
// between a supplied correction factor and gross / net.
var factorTolerance = decimal.New(1, -Scale)

// NormalizeIngredient fills in whichever of net quantity and correction
// factor was omitted. Gross = net x factor; when all three are supplied they
// must agree.
func NormalizeIngredient(in domain.RecipeIngredientInput) (domain.RecipeIngredient, error) {
	out := domain.RecipeIngredient{
		ProductID:        in.ProductID,
		GrossQty:         Round(in.GrossQty),
		NetQty:           Round(in.NetQty),
		CorrectionFactor: Round(in.CorrectionFactor),
	}
	if !out.GrossQty.IsPositive() {
		return domain.RecipeIngredient{}, fmt.Errorf("%w: gross_qty must be greater than zero", store.ErrInvalidInput)
	}
	switch {
	case out.NetQty.IsPositive() && out.CorrectionFactor.IsPositive():
		implied := out.GrossQty.DivRound(out.NetQty, Scale)
		if implied.Sub(out.CorrectionFactor).Abs().GreaterThan(factorTolerance) {
			return domain.RecipeIngredient{}, fmt.Errorf("%w: gross_qty %s does not match net_qty %s x correction_factor %s",
				store.ErrInvalidInput, out.GrossQty, out.NetQty, out.CorrectionFactor)
		}
		out.CorrectionFactor = implied
	case out.NetQty.IsPositive() && out.CorrectionFactor.IsZero():
		out.CorrectionFactor = out.GrossQty.DivRound(out.NetQty, Scale)
	case out.NetQty.IsZero() && out.CorrectionFactor.IsPositive():
		out.NetQty = out.GrossQty.DivRound(out.CorrectionFactor, Scale)
	case out.NetQty.IsZero() && out.CorrectionFactor.IsZero():
		out.NetQty = out.GrossQty
		out.CorrectionFactor = decimal.NewFromInt(1)
	}
	if !out.NetQty.IsPositive() || !out.CorrectionFactor.IsPositive() {
		return domain.RecipeIngredient{}, fmt.Errorf("%w: net_qty and correction_factor must be greater than zero", store.ErrInvalidInput)
	}
	return out, nil
}

// SortStockKeys orders product ids so multi-row workflows lock stock rows in
// the same order.
func SortStockKeys(productIDs []string) []string {
	out := append([]string(nil), productIDs...)
	sort.Strings(out)
	return out
}
