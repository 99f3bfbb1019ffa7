package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UnitKind string

const (
	UnitKindHub   UnitKind = "hub"
	UnitKindSpoke UnitKind = "spoke"
)

type Unit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      UnitKind  `json:"kind"`
	HubID     string    `json:"hub_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UnitCreateRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Kind  string `json:"kind" validate:"required,oneof=hub spoke"`
	HubID string `json:"hub_id" validate:"omitempty,max=64"`
}

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Measure   string    `json:"measure"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name     string `json:"name" validate:"required,max=160"`
	Category string `json:"category" validate:"max=80"`
	Measure  string `json:"measure" validate:"required,oneof=kg g l ml un"`
}

type ProductUpdateRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=160"`
	Category *string `json:"category,omitempty" validate:"omitempty,max=80"`
	Active   *bool   `json:"active,omitempty"`
}

// RecipeIngredient is one line of a technical sheet. GrossQty is what leaves
// the stock per produced batch; NetQty is what ends up in the dish.
type RecipeIngredient struct {
	ProductID        string          `json:"product_id"`
	GrossQty         decimal.Decimal `json:"gross_qty"`
	NetQty           decimal.Decimal `json:"net_qty"`
	CorrectionFactor decimal.Decimal `json:"correction_factor"`
}

type Recipe struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	YieldQty     decimal.Decimal    `json:"yield_qty"`
	YieldMeasure string             `json:"yield_measure"`
	Ingredients  []RecipeIngredient `json:"ingredients"`
	CreatedAt    time.Time          `json:"created_at"`
}

type RecipeIngredientInput struct {
	ProductID        string          `json:"product_id" validate:"required"`
	GrossQty         decimal.Decimal `json:"gross_qty" validate:"gt=0"`
	NetQty           decimal.Decimal `json:"net_qty" validate:"gte=0"`
	CorrectionFactor decimal.Decimal `json:"correction_factor" validate:"gte=0"`
}

type RecipeCreateRequest struct {
	Name         string                  `json:"name" validate:"required,max=160"`
	YieldQty     decimal.Decimal         `json:"yield_qty" validate:"gt=0"`
	YieldMeasure string                  `json:"yield_measure" validate:"required,oneof=kg g l ml un"`
	Ingredients  []RecipeIngredientInput `json:"ingredients" validate:"required,min=1,dive"`
}

type RecipeCostLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	GrossQty  decimal.Decimal `json:"gross_qty"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	Cost      decimal.Decimal `json:"cost"`
}

type RecipeCost struct {
	RecipeID string           `json:"recipe_id"`
	UnitID   string           `json:"unit_id"`
	Lines    []RecipeCostLine `json:"lines"`
	Total    decimal.Decimal  `json:"total"`
}

type MovementType string

const (
	MovementIn     MovementType = "IN"
	MovementOut    MovementType = "OUT"
	MovementAdjust MovementType = "ADJUST"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjust:
		return true
	default:
		return false
	}
}

type Stock struct {
	ProductID string          `json:"product_id"`
	UnitID    string          `json:"unit_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	MinStock  decimal.Decimal `json:"min_stock"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type InventoryTransaction struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	UnitID      string          `json:"unit_id"`
	Type        MovementType    `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"`
	Reason      string          `json:"reason,omitempty"`
	ReferenceID string          `json:"reference_id,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type MovementRequest struct {
	ProductID   string          `json:"product_id" validate:"required"`
	UnitID      string          `json:"unit_id" validate:"required"`
	Type        string          `json:"type" validate:"required,oneof=IN OUT ADJUST"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	Cost        decimal.Decimal `json:"cost" validate:"gte=0"`
	Reason      string          `json:"reason" validate:"max=255"`
	ReferenceID string          `json:"reference_id" validate:"max=120"`
}

// Movement is a validated MovementRequest ready for a store. A zero Cost
// leaves the average cost untouched.
type Movement struct {
	ID          string
	ProductID   string
	UnitID      string
	Type        MovementType
	Quantity    decimal.Decimal
	Cost        decimal.Decimal
	Reason      string
	ReferenceID string
	CreatedBy   string
	CreatedAt   time.Time
}

type MovementResult struct {
	Stock       Stock                `json:"stock"`
	Transaction InventoryTransaction `json:"transaction"`
}

type TransactionFilter struct {
	UnitID    string
	ProductID string
	Type      MovementType
	Limit     int
}

type MinStockRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	UnitID    string          `json:"unit_id" validate:"required"`
	MinStock  decimal.Decimal `json:"min_stock" validate:"gte=0"`
}

type StockCountItem struct {
	ProductID  string          `json:"product_id" validate:"required"`
	CountedQty decimal.Decimal `json:"counted_qty" validate:"gte=0"`
}

type StockCountRequest struct {
	UnitID string           `json:"unit_id" validate:"required"`
	Notes  string           `json:"notes" validate:"max=255"`
	Items  []StockCountItem `json:"items" validate:"required,min=1,dive"`
}

type StockCount struct {
	ID        string
	UnitID    string
	Notes     string
	Items     []StockCountItem
	CountedBy string
	CountedAt time.Time
}

type StockCountLine struct {
	ProductID  string          `json:"product_id"`
	SystemQty  decimal.Decimal `json:"system_qty"`
	CountedQty decimal.Decimal `json:"counted_qty"`
	Delta      decimal.Decimal `json:"delta"`
}

type StockCountResult struct {
	CountID      string                 `json:"count_id"`
	UnitID       string                 `json:"unit_id"`
	Lines        []StockCountLine       `json:"lines"`
	Transactions []InventoryTransaction `json:"transactions"`
	CountedAt    time.Time              `json:"counted_at"`
}

type PlanStatus string

const (
	PlanPlanned    PlanStatus = "planned"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
)

type ProductionPlan struct {
	ID          string          `json:"id"`
	UnitID      string          `json:"unit_id"`
	RecipeID    string          `json:"recipe_id"`
	Date        string          `json:"date"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      PlanStatus      `json:"status"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedBy string          `json:"completed_by,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type ProductionPlanCreateRequest struct {
	UnitID   string          `json:"unit_id" validate:"required"`
	RecipeID string          `json:"recipe_id" validate:"required"`
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type ProductionPlanFilter struct {
	UnitID string
	Status PlanStatus
	Date   string
	Limit  int
}

type ProductionCompletion struct {
	Plan         ProductionPlan         `json:"plan"`
	Transactions []InventoryTransaction `json:"transactions"`
}

type PurchaseStatus string

const (
	PurchaseDraft    PurchaseStatus = "draft"
	PurchaseOrdered  PurchaseStatus = "ordered"
	PurchaseReceived PurchaseStatus = "received"
)

// PurchaseItem cost is the unit cost of one measure of the product.
type PurchaseItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	Cost      decimal.Decimal `json:"cost" validate:"gte=0"`
}

type PurchaseOrder struct {
	ID         string         `json:"id"`
	UnitID     string         `json:"unit_id"`
	Supplier   string         `json:"supplier"`
	Status     PurchaseStatus `json:"status"`
	Items      []PurchaseItem `json:"items"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	OrderedAt  *time.Time     `json:"ordered_at,omitempty"`
	ReceivedBy string         `json:"received_by,omitempty"`
	ReceivedAt *time.Time     `json:"received_at,omitempty"`
}

type PurchaseOrderCreateRequest struct {
	UnitID   string         `json:"unit_id" validate:"required"`
	Supplier string         `json:"supplier" validate:"required,max=160"`
	Items    []PurchaseItem `json:"items" validate:"required,min=1,dive"`
}

type PurchaseReceipt struct {
	Order        PurchaseOrder          `json:"order"`
	Transactions []InventoryTransaction `json:"transactions"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Units       []string `json:"units"`
	ExpiresAt   string   `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Units     []string  `json:"units"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string   `json:"username" validate:"required,min=3,max=64"`
	Password string   `json:"password" validate:"required,min=8,max=128"`
	Role     string   `json:"role" validate:"required,role"`
	Units    []string `json:"units" validate:"max=32,dive,max=64"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	UnitID     string    `json:"unit_id,omitempty"`
	Actor      string    `json:"actor"`
	Role       string    `json:"role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StockEvent is published once per committed inventory transaction.
type StockEvent struct {
	TransactionID string          `json:"transaction_id"`
	Workflow      string          `json:"workflow"`
	ProductID     string          `json:"product_id"`
	UnitID        string          `json:"unit_id"`
	Type          MovementType    `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Cost          decimal.Decimal `json:"cost"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// LowStockItem is a stock row at or below its minimum with the quantity
// that brings it back to the reorder target.
type LowStockItem struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	Measure       string          `json:"measure"`
	UnitID        string          `json:"unit_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	MinStock      decimal.Decimal `json:"min_stock"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	SuggestedQty  decimal.Decimal `json:"suggested_qty"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	ReasonCode    string          `json:"reason_code"`
}
