package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/ledger"
	"kitchenops/backend/internal/store"
)

func (s *Service) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	units, err := s.repo.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	out := units[:0]
	for _, u := range units {
		if visibleUnit(ctx, u.ID) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) CreateUnit(ctx context.Context, req domain.UnitCreateRequest) (domain.Unit, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.HubID = strings.TrimSpace(req.HubID)
	if err := s.validate(req); err != nil {
		return domain.Unit{}, err
	}
	kind := domain.UnitKind(req.Kind)
	if kind == domain.UnitKindHub && req.HubID != "" {
		return domain.Unit{}, invalidField("hub_id", "excluded_with_hub")
	}

	created, err := s.repo.CreateUnit(ctx, domain.Unit{
		Name:      req.Name,
		Kind:      kind,
		HubID:     req.HubID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Unit{}, err
	}
	s.logAudit(ctx, created.ID, "unit_create", "unit", created.ID, fmt.Sprintf("name=%s,kind=%s", created.Name, created.Kind))
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Measure = strings.ToLower(strings.TrimSpace(req.Measure))
	if err := s.validate(req); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:      req.Name,
		Category:  req.Category,
		Measure:   req.Measure,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "", "product_create", "product", created.ID, fmt.Sprintf("name=%s,measure=%s", created.Name, created.Measure))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, invalidField("id", "required")
	}
	if err := s.validate(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalidField("name", "required")
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "", "product_update", "product", saved.ID, fmt.Sprintf("name=%s,active=%t", saved.Name, saved.Active))
	return *saved, nil
}

func (s *Service) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	return s.repo.ListRecipes(ctx)
}

func (s *Service) GetRecipe(ctx context.Context, id string) (domain.Recipe, error) {
	recipe, err := s.repo.GetRecipe(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Recipe{}, err
	}
	return *recipe, nil
}

func (s *Service) CreateRecipe(ctx context.Context, req domain.RecipeCreateRequest) (domain.Recipe, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.YieldMeasure = strings.ToLower(strings.TrimSpace(req.YieldMeasure))
	if err := s.validate(req); err != nil {
		return domain.Recipe{}, err
	}

	ingredients := make([]domain.RecipeIngredient, 0, len(req.Ingredients))
	seen := make(map[string]struct{}, len(req.Ingredients))
	for idx, in := range req.Ingredients {
		in.ProductID = strings.TrimSpace(in.ProductID)
		if _, dup := seen[in.ProductID]; dup {
			return domain.Recipe{}, invalidField(fmt.Sprintf("ingredients[%d].product_id", idx), "unique")
		}
		seen[in.ProductID] = struct{}{}

		if _, err := s.repo.GetProduct(ctx, in.ProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Recipe{}, fmt.Errorf("%w: product %s", store.ErrNotFound, in.ProductID)
			}
			return domain.Recipe{}, err
		}
		ingredient, err := ledger.NormalizeIngredient(in)
		if err != nil {
			return domain.Recipe{}, err
		}
		ingredients = append(ingredients, ingredient)
	}

	created, err := s.repo.CreateRecipe(ctx, domain.Recipe{
		Name:         req.Name,
		YieldQty:     ledger.Round(req.YieldQty),
		YieldMeasure: req.YieldMeasure,
		Ingredients:  ingredients,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return domain.Recipe{}, err
	}
	s.logAudit(ctx, "", "recipe_create", "recipe", created.ID, fmt.Sprintf("name=%s,ingredients=%d", created.Name, len(created.Ingredients)))
	return *created, nil
}

// RecipeCost prices one batch of a recipe at the unit's current average
// costs. Ingredients without a stock row are priced at zero.
func (s *Service) RecipeCost(ctx context.Context, recipeID string, unitID string) (domain.RecipeCost, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return domain.RecipeCost{}, invalidField("unit_id", "required")
	}
	if _, err := s.requireUnit(ctx, unitID); err != nil {
		return domain.RecipeCost{}, err
	}
	recipe, err := s.repo.GetRecipe(ctx, strings.TrimSpace(recipeID))
	if err != nil {
		return domain.RecipeCost{}, err
	}
	products, err := s.productIndex(ctx)
	if err != nil {
		return domain.RecipeCost{}, err
	}

	result := domain.RecipeCost{
		RecipeID: recipe.ID,
		UnitID:   unitID,
		Lines:    make([]domain.RecipeCostLine, 0, len(recipe.Ingredients)),
		Total:    decimal.Zero,
	}
	for _, ing := range recipe.Ingredients {
		avgCost := decimal.Zero
		st, err := s.repo.GetStock(ctx, ing.ProductID, unitID)
		switch {
		case err == nil:
			avgCost = st.AvgCost
		case !errors.Is(err, store.ErrNotFound):
			return domain.RecipeCost{}, err
		}
		cost := ledger.Round(ing.GrossQty.Mul(avgCost))
		result.Lines = append(result.Lines, domain.RecipeCostLine{
			ProductID: ing.ProductID,
			Name:      products[ing.ProductID].Name,
			GrossQty:  ing.GrossQty,
			AvgCost:   avgCost,
			Cost:      cost,
		})
		result.Total = result.Total.Add(cost)
	}
	return result, nil
}
