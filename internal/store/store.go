package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyCompleted  = errors.New("production plan already completed")
	ErrAlreadyReceived   = errors.New("purchase order already received")
	ErrInvalidStatus     = errors.New("invalid status transition")
)

// Repository is implemented by the memory and postgres stores. Every method
// that mutates stock runs as a single atomic unit of work: either all of its
// stock rows and transaction-log rows are written or none are.
type Repository interface {
	CreateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error)
	GetUnit(ctx context.Context, id string) (*domain.Unit, error)
	ListUnits(ctx context.Context) ([]domain.Unit, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error)
	GetRecipe(ctx context.Context, id string) (*domain.Recipe, error)
	ListRecipes(ctx context.Context) ([]domain.Recipe, error)

	GetStock(ctx context.Context, productID string, unitID string) (*domain.Stock, error)
	ListStocks(ctx context.Context, unitID string) ([]domain.Stock, error)
	SetMinStock(ctx context.Context, productID string, unitID string, minStock decimal.Decimal, at time.Time) (*domain.Stock, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error)
	RecordMovement(ctx context.Context, movement domain.Movement) (*domain.MovementResult, error)
	ApplyStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCountResult, error)

	CreateProductionPlan(ctx context.Context, plan domain.ProductionPlan) (*domain.ProductionPlan, error)
	GetProductionPlan(ctx context.Context, id string) (*domain.ProductionPlan, error)
	ListProductionPlans(ctx context.Context, filter domain.ProductionPlanFilter) ([]domain.ProductionPlan, error)
	StartProductionPlan(ctx context.Context, id string) (*domain.ProductionPlan, error)
	DeleteProductionPlan(ctx context.Context, id string) error
	CompleteProductionPlan(ctx context.Context, id string, completedBy string, completedAt time.Time) (*domain.ProductionCompletion, error)

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, unitID string, status domain.PurchaseStatus, limit int) ([]domain.PurchaseOrder, error)
	PlacePurchaseOrder(ctx context.Context, id string, orderedAt time.Time) (*domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, id string, receivedBy string, receivedAt time.Time) (*domain.PurchaseReceipt, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, unitID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
