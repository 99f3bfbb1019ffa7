package service

import (
	"context"
	"fmt"
	"strings"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/ledger"
)

func (s *Service) CreateProductionPlan(ctx context.Context, req domain.ProductionPlanCreateRequest) (domain.ProductionPlan, error) {
	req.UnitID = strings.TrimSpace(req.UnitID)
	req.RecipeID = strings.TrimSpace(req.RecipeID)
	req.Date = strings.TrimSpace(req.Date)
	if err := s.validate(req); err != nil {
		return domain.ProductionPlan{}, err
	}
	quantity := ledger.Round(req.Quantity)
	if !quantity.IsPositive() {
		return domain.ProductionPlan{}, invalidField("quantity", "gt")
	}
	if err := authorizeUnit(ctx, req.UnitID); err != nil {
		return domain.ProductionPlan{}, err
	}

	username, _ := actor(ctx)
	created, err := s.repo.CreateProductionPlan(ctx, domain.ProductionPlan{
		UnitID:    req.UnitID,
		RecipeID:  req.RecipeID,
		Date:      req.Date,
		Quantity:  quantity,
		CreatedBy: username,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.ProductionPlan{}, err
	}
	s.logAudit(ctx, created.UnitID, "production_plan_create", "production_plan", created.ID,
		fmt.Sprintf("recipe=%s,date=%s,quantity=%s", created.RecipeID, created.Date, created.Quantity))
	return *created, nil
}

func (s *Service) ListProductionPlans(ctx context.Context, filter domain.ProductionPlanFilter) ([]domain.ProductionPlan, error) {
	filter.UnitID = strings.TrimSpace(filter.UnitID)
	filter.Date = strings.TrimSpace(filter.Date)
	switch filter.Status {
	case "", domain.PlanPlanned, domain.PlanInProgress, domain.PlanCompleted:
	default:
		return nil, invalidField("status", "oneof")
	}
	if filter.Date != "" {
		if err := s.validator.Var(filter.Date, "datetime=2006-01-02"); err != nil {
			return nil, invalidField("date", "datetime")
		}
	}
	if filter.UnitID != "" {
		if err := authorizeUnit(ctx, filter.UnitID); err != nil {
			return nil, err
		}
	}
	filter.Limit = clampLimit(filter.Limit)

	plans, err := s.repo.ListProductionPlans(ctx, filter)
	if err != nil {
		return nil, err
	}
	if filter.UnitID != "" {
		return plans, nil
	}
	out := plans[:0]
	for _, p := range plans {
		if visibleUnit(ctx, p.UnitID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) GetProductionPlan(ctx context.Context, id string) (domain.ProductionPlan, error) {
	plan, err := s.repo.GetProductionPlan(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ProductionPlan{}, err
	}
	if err := authorizeUnit(ctx, plan.UnitID); err != nil {
		return domain.ProductionPlan{}, err
	}
	return *plan, nil
}

func (s *Service) StartProductionPlan(ctx context.Context, id string) (domain.ProductionPlan, error) {
	plan, err := s.GetProductionPlan(ctx, id)
	if err != nil {
		return domain.ProductionPlan{}, err
	}

	var started *domain.ProductionPlan
	err = s.withUnitLock(ctx, plan.UnitID, func() error {
		var err error
		started, err = s.repo.StartProductionPlan(ctx, plan.ID)
		return err
	})
	if err != nil {
		return domain.ProductionPlan{}, err
	}
	s.logAudit(ctx, started.UnitID, "production_plan_start", "production_plan", started.ID, "status=in_progress")
	return *started, nil
}

func (s *Service) DeleteProductionPlan(ctx context.Context, id string) error {
	plan, err := s.GetProductionPlan(ctx, id)
	if err != nil {
		return err
	}

	err = s.withUnitLock(ctx, plan.UnitID, func() error {
		return s.repo.DeleteProductionPlan(ctx, plan.ID)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, plan.UnitID, "production_plan_delete", "production_plan", plan.ID, fmt.Sprintf("status=%s", plan.Status))
	return nil
}

// CompleteProductionPlan deducts gross quantity x plan quantity of every
// ingredient from the plan's unit and marks the plan completed, all or
// nothing.
func (s *Service) CompleteProductionPlan(ctx context.Context, id string) (completion domain.ProductionCompletion, err error) {
	defer func() { s.observe(WorkflowProduction, err) }()

	plan, err := s.GetProductionPlan(ctx, id)
	if err != nil {
		return domain.ProductionCompletion{}, err
	}

	username, _ := actor(ctx)
	var done *domain.ProductionCompletion
	err = s.withUnitLock(ctx, plan.UnitID, func() error {
		var err error
		done, err = s.repo.CompleteProductionPlan(ctx, plan.ID, username, s.now())
		return err
	})
	if err != nil {
		return domain.ProductionCompletion{}, err
	}

	s.afterCommit(ctx, WorkflowProduction, plan.UnitID, done.Transactions)
	s.logAudit(ctx, plan.UnitID, "production_complete", "production_plan", plan.ID,
		fmt.Sprintf("recipe=%s,quantity=%s,movements=%d", plan.RecipeID, plan.Quantity, len(done.Transactions)))
	return *done, nil
}
