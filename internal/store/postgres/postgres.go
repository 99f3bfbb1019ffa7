package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/store"
	"kitchenops/backend/internal/xid"
)

// Store keeps one pgxpool. db is a database/sql view over the same pool for
// goose and the row-locking workflows.
type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

// Ping checks that the pool can still reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

func (s *Store) CreateUnit(ctx context.Context, unit domain.Unit) (*domain.Unit, error) {
	if unit.ID == "" {
		unit.ID = xid.New("unit")
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now().UTC()
	}
	unit.Active = true

	if unit.HubID != "" {
		var kind string
		err := s.db.QueryRowContext(ctx, `SELECT kind FROM units WHERE id = $1`, unit.HubID).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: hub %s", store.ErrNotFound, unit.HubID)
		}
		if err != nil {
			return nil, err
		}
		if domain.UnitKind(kind) != domain.UnitKindHub {
			return nil, fmt.Errorf("%w: unit %s is not a hub", store.ErrInvalidInput, unit.HubID)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, name, kind, hub_id, active, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, unit.ID, unit.Name, string(unit.Kind), unit.HubID, unit.Active, unit.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &unit, nil
}

const unitColumns = `id, name, kind, COALESCE(hub_id, ''), active, created_at`

func scanUnit(row interface{ Scan(...any) error }) (domain.Unit, error) {
	var u domain.Unit
	var kind string
	if err := row.Scan(&u.ID, &u.Name, &kind, &u.HubID, &u.Active, &u.CreatedAt); err != nil {
		return domain.Unit{}, err
	}
	u.Kind = domain.UnitKind(kind)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) GetUnit(ctx context.Context, id string) (*domain.Unit, error) {
	u, err := scanUnit(s.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+unitColumns+` FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]domain.Unit, 0, 16)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, measure, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, product.ID, product.Name, product.Category, product.Measure, product.Active, product.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &product, nil
}

const productColumns = `id, name, category, measure, active, created_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Measure, &p.Active, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, active = $4
		WHERE id = $1
		RETURNING `+productColumns, product.ID, product.Name, product.Category, product.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	if len(recipe.Ingredients) == 0 {
		return nil, fmt.Errorf("%w: recipe needs at least one ingredient", store.ErrInvalidInput)
	}
	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	if recipe.CreatedAt.IsZero() {
		recipe.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recipes (id, name, yield_qty, yield_measure, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, recipe.ID, recipe.Name, recipe.YieldQty, recipe.YieldMeasure, recipe.CreatedAt); err != nil {
		return nil, mapWriteError(err)
	}
	for idx, ing := range recipe.Ingredients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_ingredients (recipe_id, position, product_id, gross_qty, net_qty, correction_factor)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, recipe.ID, idx, ing.ProductID, ing.GrossQty, ing.NetQty, ing.CorrectionFactor); err != nil {
			return nil, mapWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &recipe, nil
}

func (s *Store) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	var r domain.Recipe
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, yield_qty, yield_measure, created_at
		FROM recipes
		WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &r.YieldQty, &r.YieldMeasure, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()

	ingredients, err := loadIngredients(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	r.Ingredients = ingredients
	return &r, nil
}

func (s *Store) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, yield_qty, yield_measure, created_at
		FROM recipes
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	recipes := make([]domain.Recipe, 0, 32)
	for rows.Next() {
		var r domain.Recipe
		if err := rows.Scan(&r.ID, &r.Name, &r.YieldQty, &r.YieldMeasure, &r.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range recipes {
		ingredients, err := loadIngredients(ctx, s.db, recipes[i].ID)
		if err != nil {
			return nil, err
		}
		recipes[i].Ingredients = ingredients
	}
	return recipes, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadIngredients(ctx context.Context, q queryer, recipeID string) ([]domain.RecipeIngredient, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, gross_qty, net_qty, correction_factor
		FROM recipe_ingredients
		WHERE recipe_id = $1
		ORDER BY position
	`, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ingredients := make([]domain.RecipeIngredient, 0, 8)
	for rows.Next() {
		var ing domain.RecipeIngredient
		if err := rows.Scan(&ing.ProductID, &ing.GrossQty, &ing.NetQty, &ing.CorrectionFactor); err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ing)
	}
	return ingredients, rows.Err()
}

const stockColumns = `product_id, unit_id, quantity, min_stock, avg_cost, updated_at`

func scanStock(row interface{ Scan(...any) error }) (domain.Stock, error) {
	var st domain.Stock
	if err := row.Scan(&st.ProductID, &st.UnitID, &st.Quantity, &st.MinStock, &st.AvgCost, &st.UpdatedAt); err != nil {
		return domain.Stock{}, err
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

func (s *Store) GetStock(ctx context.Context, productID string, unitID string) (*domain.Stock, error) {
	st, err := scanStock(s.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stocks
		WHERE product_id = $1 AND unit_id = $2
	`, productID, unitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStocks(ctx context.Context, unitID string) ([]domain.Stock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockColumns+`
		FROM stocks
		WHERE unit_id = $1
		ORDER BY product_id
	`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks := make([]domain.Stock, 0, 64)
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, st)
	}
	return stocks, rows.Err()
}

func (s *Store) SetMinStock(ctx context.Context, productID string, unitID string, minStock decimal.Decimal, at time.Time) (*domain.Stock, error) {
	st, err := scanStock(s.db.QueryRowContext(ctx, `
		UPDATE stocks
		SET min_stock = $3, updated_at = $4
		WHERE product_id = $1 AND unit_id = $2
		RETURNING `+stockColumns, productID, unitID, minStock, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no stock for product %s at unit %s", store.ErrNotFound, productID, unitID)
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, unit_id, type, quantity, cost, reason, reference_id, created_by, created_at
		FROM inventory_transactions
		WHERE ($1 = '' OR unit_id = $1)
		  AND ($2 = '' OR product_id = $2)
		  AND ($3 = '' OR type = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, filter.UnitID, filter.ProductID, string(filter.Type), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryTransaction, 0, limit)
	for rows.Next() {
		var t domain.InventoryTransaction
		var kind string
		if err := rows.Scan(&t.ID, &t.ProductID, &t.UnitID, &kind, &t.Quantity, &t.Cost, &t.Reason, &t.ReferenceID, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = domain.MovementType(kind)
		t.CreatedAt = t.CreatedAt.UTC()
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, unit_id, actor, role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.UnitID, entry.Actor, entry.Role, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, unitID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, actor, role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR unit_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, unitID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.UnitID, &entry.Actor, &entry.Role, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, units, active, created_at)
		VALUES ($1, $2, $3, $4, true, $5)
	`, username, user.Password, user.Role, joinUnits(user.Units), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrConflict, username)
		}
		return err
	}
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (domain.UserAccount, error) {
	var u domain.UserAccount
	var units string
	if err := row.Scan(&u.Username, &u.Password, &u.Role, &units, &u.Active, &u.CreatedAt); err != nil {
		return domain.UserAccount{}, err
	}
	u.Units = splitUnits(units)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT username, password, role, units, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, units, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func joinUnits(units []string) string {
	return strings.Join(units, ",")
}

func splitUnits(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func mapWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	default:
		return err
	}
}
