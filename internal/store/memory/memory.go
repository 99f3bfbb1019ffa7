package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/ledger"
	"kitchenops/backend/internal/store"
	"kitchenops/backend/internal/xid"
)

// Store keeps everything in maps guarded by one mutex. Each workflow runs
// entirely under the write lock and stages its changes before applying
// them, so a failed workflow leaves no trace.
type Store struct {
	mu           sync.RWMutex
	units        map[string]domain.Unit
	products     map[string]domain.Product
	recipes      map[string]domain.Recipe
	stocks       map[stockKey]domain.Stock
	transactions []domain.InventoryTransaction
	plans        map[string]domain.ProductionPlan
	orders       map[string]domain.PurchaseOrder
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount
}

type stockKey struct {
	productID string
	unitID    string
}

func New() *Store {
	return &Store{
		units:        make(map[string]domain.Unit),
		products:     make(map[string]domain.Product),
		recipes:      make(map[string]domain.Recipe),
		stocks:       make(map[stockKey]domain.Stock),
		transactions: make([]domain.InventoryTransaction, 0, 128),
		plans:        make(map[string]domain.ProductionPlan),
		orders:       make(map[string]domain.PurchaseOrder),
		auditLogs:    make([]domain.AuditLog, 0, 64),
		users:        make(map[string]domain.UserAccount),
	}
}

// Seed identifiers used by NewSeeded. Tests and local demos rely on them.
const (
	SeedHubID     = "unit-central"
	SeedSpokeID   = "unit-north"
	SeedFlourID   = "prd-flour"
	SeedTomatoID  = "prd-tomato"
	SeedCheeseID  = "prd-cheese"
	SeedOilID     = "prd-oil"
	SeedBasilID   = "prd-basil"
	SeedPizzaID   = "rcp-margherita"
	SeedSauceID   = "rcp-tomato-sauce"
	SeedPassword  = "kitchen123"
	SeedAdminUser = "admin"
)

// seedUsers builds one account per role for dev/demo mode. Passwords come
// from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD with a dev default.
func seedUsers(now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", SeedPassword)
	staffPwd := envOr("SEED_STAFF_PASSWORD", SeedPassword)
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logrus.WithField("component", "memory-store").Warn("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	adminHash := mustHash(adminPwd)
	staffHash := adminHash
	if staffPwd != adminPwd {
		staffHash = mustHash(staffPwd)
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		hash     string
		role     string
		units    []string
	}{
		{SeedAdminUser, adminHash, "admin", nil},
		{"manager", staffHash, "manager", []string{SeedHubID, SeedSpokeID}},
		{"operator", staffHash, "operator", []string{SeedHubID}},
		{"nutritionist", staffHash, "nutritionist", []string{SeedHubID}},
		{"chef", staffHash, "chef", []string{SeedSpokeID}},
	} {
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  u.hash,
			Role:      u.role,
			Units:     u.units,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func mustHash(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("memory-store: hash seed password: %v", err))
	}
	return string(hash)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func qty(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

// NewSeeded returns a store with a hub and a spoke kitchen, a small
// ingredient catalog, two recipes, stock at the hub and one user per role.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.units[SeedHubID] = domain.Unit{ID: SeedHubID, Name: "Central Kitchen", Kind: domain.UnitKindHub, Active: true, CreatedAt: now}
	s.units[SeedSpokeID] = domain.Unit{ID: SeedSpokeID, Name: "North Satellite", Kind: domain.UnitKindSpoke, HubID: SeedHubID, Active: true, CreatedAt: now}

	for _, p := range []domain.Product{
		{ID: SeedFlourID, Name: "Wheat Flour 00", Category: "dry goods", Measure: "kg"},
		{ID: SeedTomatoID, Name: "Peeled Tomato", Category: "produce", Measure: "kg"},
		{ID: SeedCheeseID, Name: "Mozzarella", Category: "dairy", Measure: "kg"},
		{ID: SeedOilID, Name: "Olive Oil", Category: "oils", Measure: "l"},
		{ID: SeedBasilID, Name: "Fresh Basil", Category: "produce", Measure: "kg"},
	} {
		p.Active = true
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	s.recipes[SeedSauceID] = domain.Recipe{
		ID: SeedSauceID, Name: "Tomato Sauce", YieldQty: qty("5"), YieldMeasure: "kg", CreatedAt: now,
		Ingredients: []domain.RecipeIngredient{
			{ProductID: SeedTomatoID, GrossQty: qty("6"), NetQty: qty("5"), CorrectionFactor: qty("1.2")},
			{ProductID: SeedOilID, GrossQty: qty("0.2"), NetQty: qty("0.2"), CorrectionFactor: qty("1")},
			{ProductID: SeedBasilID, GrossQty: qty("0.05"), NetQty: qty("0.04"), CorrectionFactor: qty("1.25")},
		},
	}
	s.recipes[SeedPizzaID] = domain.Recipe{
		ID: SeedPizzaID, Name: "Pizza Margherita", YieldQty: qty("1"), YieldMeasure: "un", CreatedAt: now,
		Ingredients: []domain.RecipeIngredient{
			{ProductID: SeedFlourID, GrossQty: qty("0.25"), NetQty: qty("0.25"), CorrectionFactor: qty("1")},
			{ProductID: SeedTomatoID, GrossQty: qty("0.12"), NetQty: qty("0.1"), CorrectionFactor: qty("1.2")},
			{ProductID: SeedCheeseID, GrossQty: qty("0.15"), NetQty: qty("0.15"), CorrectionFactor: qty("1")},
		},
	}

	for _, st := range []domain.Stock{
		{ProductID: SeedFlourID, Quantity: qty("50"), MinStock: qty("10"), AvgCost: qty("4.2")},
		{ProductID: SeedTomatoID, Quantity: qty("30"), MinStock: qty("8"), AvgCost: qty("6.5")},
		{ProductID: SeedCheeseID, Quantity: qty("12"), MinStock: qty("5"), AvgCost: qty("32")},
		{ProductID: SeedOilID, Quantity: qty("8"), MinStock: qty("2"), AvgCost: qty("38")},
		{ProductID: SeedBasilID, Quantity: qty("0.5"), MinStock: qty("1"), AvgCost: qty("80")},
	} {
		st.UnitID = SeedHubID
		st.UpdatedAt = now
		s.stocks[stockKey{st.ProductID, st.UnitID}] = st
	}

	s.users = seedUsers(now)
	return s
}

func (s *Store) CreateUnit(_ context.Context, unit domain.Unit) (*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if unit.ID == "" {
		unit.ID = xid.New("unit")
	}
	if _, exists := s.units[unit.ID]; exists {
		return nil, store.ErrConflict
	}
	if unit.HubID != "" {
		hub, ok := s.units[unit.HubID]
		if !ok {
			return nil, fmt.Errorf("%w: hub %s", store.ErrNotFound, unit.HubID)
		}
		if hub.Kind != domain.UnitKindHub {
			return nil, fmt.Errorf("%w: unit %s is not a hub", store.ErrInvalidInput, unit.HubID)
		}
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now().UTC()
	}
	unit.Active = true
	s.units[unit.ID] = unit
	return &unit, nil
}

func (s *Store) GetUnit(_ context.Context, id string) (*domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.units[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &unit, nil
}

func (s *Store) ListUnits(_ context.Context) ([]domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]domain.Unit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	slices.SortFunc(units, func(a, b domain.Unit) int { return strings.Compare(a.Name, b.Name) })
	return units, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = current.CreatedAt
	product.Measure = current.Measure
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) CreateRecipe(_ context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(recipe.Ingredients) == 0 {
		return nil, fmt.Errorf("%w: recipe needs at least one ingredient", store.ErrInvalidInput)
	}
	for _, ing := range recipe.Ingredients {
		if _, ok := s.products[ing.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, ing.ProductID)
		}
	}
	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	if recipe.CreatedAt.IsZero() {
		recipe.CreatedAt = time.Now().UTC()
	}
	recipe.Ingredients = slices.Clone(recipe.Ingredients)
	s.recipes[recipe.ID] = recipe
	saved := cloneRecipe(recipe)
	return &saved, nil
}

func (s *Store) GetRecipe(_ context.Context, id string) (*domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipe, ok := s.recipes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := cloneRecipe(recipe)
	return &saved, nil
}

func (s *Store) ListRecipes(_ context.Context) ([]domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipes := make([]domain.Recipe, 0, len(s.recipes))
	for _, r := range s.recipes {
		recipes = append(recipes, cloneRecipe(r))
	}
	slices.SortFunc(recipes, func(a, b domain.Recipe) int { return strings.Compare(a.Name, b.Name) })
	return recipes, nil
}

func (s *Store) GetStock(_ context.Context, productID string, unitID string) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[stockKey{productID, unitID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListStocks(_ context.Context, unitID string) ([]domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]domain.Stock, 0, len(s.products))
	for key, st := range s.stocks {
		if key.unitID == unitID {
			stocks = append(stocks, st)
		}
	}
	slices.SortFunc(stocks, func(a, b domain.Stock) int { return strings.Compare(a.ProductID, b.ProductID) })
	return stocks, nil
}

func (s *Store) SetMinStock(_ context.Context, productID string, unitID string, minStock decimal.Decimal, at time.Time) (*domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{productID, unitID}
	st, ok := s.stocks[key]
	if !ok {
		return nil, fmt.Errorf("%w: no stock for product %s at unit %s", store.ErrNotFound, productID, unitID)
	}
	st.MinStock = ledger.Round(minStock)
	st.UpdatedAt = at
	s.stocks[key] = st
	return &st, nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransaction, 0, 32)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if filter.UnitID != "" && tx.UnitID != filter.UnitID {
			continue
		}
		if filter.ProductID != "" && tx.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		result = append(result, tx)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// batch stages stock rows and log rows for one workflow. Nothing is visible
// to the store until commit.
type batch struct {
	s      *Store
	staged map[stockKey]domain.Stock
	txs    []domain.InventoryTransaction
}

func (s *Store) newBatch() *batch {
	return &batch{s: s, staged: make(map[stockKey]domain.Stock)}
}

func (b *batch) current(productID string, unitID string) *domain.Stock {
	key := stockKey{productID, unitID}
	if st, ok := b.staged[key]; ok {
		return &st
	}
	if st, ok := b.s.stocks[key]; ok {
		return &st
	}
	return nil
}

func (b *batch) apply(mv domain.Movement) (domain.Stock, domain.InventoryTransaction, error) {
	next, err := ledger.Apply(b.current(mv.ProductID, mv.UnitID), mv.ProductID, mv.UnitID, mv.Type, mv.Quantity, mv.Cost, mv.CreatedAt)
	if err != nil {
		return domain.Stock{}, domain.InventoryTransaction{}, err
	}
	id := mv.ID
	if id == "" {
		id = xid.New("itx")
	}
	tx := domain.InventoryTransaction{
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
	b.staged[stockKey{mv.ProductID, mv.UnitID}] = next
	b.txs = append(b.txs, tx)
	return next, tx, nil
}

func (b *batch) commit() {
	for key, st := range b.staged {
		b.s.stocks[key] = st
	}
	b.s.transactions = append(b.s.transactions, b.txs...)
}

func (s *Store) requirePair(productID string, unitID string) error {
	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	if _, ok := s.units[unitID]; !ok {
		return fmt.Errorf("%w: unit %s", store.ErrNotFound, unitID)
	}
	return nil
}

func (s *Store) RecordMovement(_ context.Context, movement domain.Movement) (*domain.MovementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePair(movement.ProductID, movement.UnitID); err != nil {
		return nil, err
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	b := s.newBatch()
	st, tx, err := b.apply(movement)
	if err != nil {
		return nil, err
	}
	b.commit()
	return &domain.MovementResult{Stock: st, Transaction: tx}, nil
}

func (s *Store) ApplyStockCount(_ context.Context, count domain.StockCount) (*domain.StockCountResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[count.UnitID]; !ok {
		return nil, fmt.Errorf("%w: unit %s", store.ErrNotFound, count.UnitID)
	}
	if count.CountedAt.IsZero() {
		count.CountedAt = time.Now().UTC()
	}
	if count.ID == "" {
		count.ID = xid.New("cnt")
	}

	result := &domain.StockCountResult{CountID: count.ID, UnitID: count.UnitID, CountedAt: count.CountedAt}
	b := s.newBatch()
	for _, item := range sortedCountItems(count.Items) {
		if err := s.requirePair(item.ProductID, count.UnitID); err != nil {
			return nil, err
		}
		system := decimal.Zero
		if cur := b.current(item.ProductID, count.UnitID); cur != nil {
			system = cur.Quantity
		}
		line := domain.StockCountLine{ProductID: item.ProductID, SystemQty: system, CountedQty: ledger.Round(item.CountedQty)}
		line.Delta = line.CountedQty.Sub(system)
		result.Lines = append(result.Lines, line)

		kind, delta, ok := ledger.CountDelta(system, item.CountedQty)
		if !ok {
			continue
		}
		if _, _, err := b.apply(domain.Movement{
			ProductID:   item.ProductID,
			UnitID:      count.UnitID,
			Type:        kind,
			Quantity:    delta,
			Reason:      countReason(count.Notes),
			ReferenceID: count.ID,
			CreatedBy:   count.CountedBy,
			CreatedAt:   count.CountedAt,
		}); err != nil {
			return nil, err
		}
	}
	b.commit()
	result.Transactions = slices.Clone(b.txs)
	return result, nil
}

func countReason(notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ledger.ReasonStockCount
	}
	return ledger.ReasonStockCount + ": " + notes
}

func sortedCountItems(items []domain.StockCountItem) []domain.StockCountItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b domain.StockCountItem) int { return strings.Compare(a.ProductID, b.ProductID) })
	return out
}

func (s *Store) CreateProductionPlan(_ context.Context, plan domain.ProductionPlan) (*domain.ProductionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[plan.UnitID]; !ok {
		return nil, fmt.Errorf("%w: unit %s", store.ErrNotFound, plan.UnitID)
	}
	if _, ok := s.recipes[plan.RecipeID]; !ok {
		return nil, fmt.Errorf("%w: recipe %s", store.ErrNotFound, plan.RecipeID)
	}
	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	plan.Status = domain.PlanPlanned
	plan.CompletedAt = nil
	plan.CompletedBy = ""
	s.plans[plan.ID] = plan
	return &plan, nil
}

func (s *Store) GetProductionPlan(_ context.Context, id string) (*domain.ProductionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &plan, nil
}

func (s *Store) ListProductionPlans(_ context.Context, filter domain.ProductionPlanFilter) ([]domain.ProductionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]domain.ProductionPlan, 0, len(s.plans))
	for _, p := range s.plans {
		if filter.UnitID != "" && p.UnitID != filter.UnitID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Date != "" && p.Date != filter.Date {
			continue
		}
		plans = append(plans, p)
	}
	slices.SortFunc(plans, func(a, b domain.ProductionPlan) int {
		if a.Date != b.Date {
			return strings.Compare(b.Date, a.Date)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(plans) > filter.Limit {
		plans = plans[:filter.Limit]
	}
	return plans, nil
}

func (s *Store) StartProductionPlan(_ context.Context, id string) (*domain.ProductionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	switch plan.Status {
	case domain.PlanCompleted:
		return nil, store.ErrAlreadyCompleted
	case domain.PlanInProgress:
		return nil, fmt.Errorf("%w: plan %s is already in progress", store.ErrInvalidStatus, id)
	}
	plan.Status = domain.PlanInProgress
	s.plans[id] = plan
	return &plan, nil
}

func (s *Store) DeleteProductionPlan(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[id]
	if !ok {
		return store.ErrNotFound
	}
	if plan.Status == domain.PlanCompleted {
		return fmt.Errorf("%w: completed plans cannot be deleted", store.ErrInvalidStatus)
	}
	delete(s.plans, id)
	return nil
}

func (s *Store) CompleteProductionPlan(_ context.Context, id string, completedBy string, completedAt time.Time) (*domain.ProductionCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if plan.Status == domain.PlanCompleted {
		return nil, store.ErrAlreadyCompleted
	}
	recipe, ok := s.recipes[plan.RecipeID]
	if !ok {
		return nil, fmt.Errorf("%w: recipe %s", store.ErrNotFound, plan.RecipeID)
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	b := s.newBatch()
	for _, req := range ledger.Requirements(recipe.Ingredients, plan.Quantity) {
		cost := decimal.Zero
		if cur := b.current(req.ProductID, plan.UnitID); cur != nil {
			cost = cur.AvgCost
		}
		if _, _, err := b.apply(domain.Movement{
			ProductID:   req.ProductID,
			UnitID:      plan.UnitID,
			Type:        domain.MovementOut,
			Quantity:    req.Quantity,
			Cost:        cost,
			Reason:      ledger.ReasonProduction,
			ReferenceID: plan.ID,
			CreatedBy:   completedBy,
			CreatedAt:   completedAt,
		}); err != nil {
			return nil, err
		}
	}
	b.commit()

	plan.Status = domain.PlanCompleted
	plan.CompletedBy = completedBy
	plan.CompletedAt = &completedAt
	s.plans[id] = plan
	return &domain.ProductionCompletion{Plan: plan, Transactions: slices.Clone(b.txs)}, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.units[po.UnitID]; !ok {
		return nil, fmt.Errorf("%w: unit %s", store.ErrNotFound, po.UnitID)
	}
	if len(po.Items) == 0 {
		return nil, fmt.Errorf("%w: purchase order needs at least one item", store.ErrInvalidInput)
	}
	for _, item := range po.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.Status = domain.PurchaseDraft
	s.orders[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, unitID string, status domain.PurchaseStatus, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PurchaseOrder, 0, len(s.orders))
	for _, po := range s.orders {
		if unitID != "" && po.UnitID != unitID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PlacePurchaseOrder(_ context.Context, id string, orderedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	switch po.Status {
	case domain.PurchaseReceived:
		return nil, store.ErrAlreadyReceived
	case domain.PurchaseOrdered:
		return nil, fmt.Errorf("%w: purchase order %s is already ordered", store.ErrInvalidStatus, id)
	}
	po.Status = domain.PurchaseOrdered
	po.OrderedAt = &orderedAt
	s.orders[id] = po
	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, id string, receivedBy string, receivedAt time.Time) (*domain.PurchaseReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if po.Status == domain.PurchaseReceived {
		return nil, store.ErrAlreadyReceived
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = "system"
	}

	b := s.newBatch()
	for _, item := range po.Items {
		if _, _, err := b.apply(domain.Movement{
			ProductID:   item.ProductID,
			UnitID:      po.UnitID,
			Type:        domain.MovementIn,
			Quantity:    item.Quantity,
			Cost:        item.Cost,
			Reason:      ledger.ReasonPurchase,
			ReferenceID: po.ID,
			CreatedBy:   receivedBy,
			CreatedAt:   receivedAt,
		}); err != nil {
			return nil, err
		}
	}
	b.commit()

	po.Status = domain.PurchaseReceived
	po.ReceivedBy = receivedBy
	po.ReceivedAt = &receivedAt
	s.orders[id] = po
	return &domain.PurchaseReceipt{Order: clonePurchaseOrder(po), Transactions: slices.Clone(b.txs)}, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, unitID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if unitID != "" && entry.UnitID != unitID {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("%w: user %s", store.ErrConflict, username)
	}
	user.Username = username
	user.Units = slices.Clone(user.Units)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Units = slices.Clone(user.Units)
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		user.Units = slices.Clone(user.Units)
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return users, nil
}

func cloneRecipe(src domain.Recipe) domain.Recipe {
	dst := src
	dst.Ingredients = slices.Clone(src.Ingredients)
	return dst
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
