package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/httpapi"
	"kitchenops/backend/internal/logging"
	"kitchenops/backend/internal/service"
	"kitchenops/backend/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{Logger: logging.Discard()})
	auth := httpapi.NewAuthManager("client-test-secret-that-is-long-enough", time.Hour, repo)
	srv := httptest.NewServer(httpapi.New(svc, auth, logging.Discard(), "*").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientsKeepSeparateCredentials(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	operator := New(srv.URL, srv.Client())
	chef := New(srv.URL, srv.Client())
	if _, err := operator.Login(ctx, "operator", memory.SeedPassword); err != nil {
		t.Fatalf("operator login: %v", err)
	}
	if _, err := chef.Login(ctx, "chef", memory.SeedPassword); err != nil {
		t.Fatalf("chef login: %v", err)
	}
	if operator.Token() == chef.Token() {
		t.Fatalf("expected distinct tokens per client")
	}

	if _, err := operator.ListStocks(ctx, memory.SeedHubID); err != nil {
		t.Fatalf("operator list hub stocks: %v", err)
	}

	_, err := chef.ListStocks(ctx, memory.SeedHubID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for chef on hub, got %v", err)
	}
}

func TestClientRequiresLogin(t *testing.T) {
	srv := newTestServer(t)

	_, err := New(srv.URL, nil).ListStocks(context.Background(), memory.SeedHubID)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestClientMovementAndValidationError(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	c := New(srv.URL, srv.Client())
	if _, err := c.Login(ctx, "operator", memory.SeedPassword); err != nil {
		t.Fatalf("login: %v", err)
	}

	result, err := c.RecordMovement(ctx, MovementRequest{
		ProductID: memory.SeedOilID,
		UnitID:    memory.SeedHubID,
		Type:      "OUT",
		Quantity:  decimal.RequireFromString("1.5"),
	})
	if err != nil {
		t.Fatalf("record movement: %v", err)
	}
	if !result.Stock.Quantity.Equal(decimal.RequireFromString("6.5")) {
		t.Fatalf("expected 6.5 l left, got %s", result.Stock.Quantity)
	}

	_, err = c.RecordMovement(ctx, MovementRequest{
		ProductID: memory.SeedOilID,
		UnitID:    memory.SeedHubID,
		Type:      "OUT",
		Quantity:  decimal.Zero,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if _, ok := apiErr.Fields["quantity"]; !ok {
		t.Fatalf("expected quantity field error, got %+v", apiErr.Fields)
	}
}

func TestClientProductionAndPurchaseWorkflows(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	c := New(srv.URL, srv.Client())
	if _, err := c.Login(ctx, "manager", memory.SeedPassword); err != nil {
		t.Fatalf("login: %v", err)
	}

	plan, err := c.CreateProductionPlan(ctx, ProductionPlanCreateRequest{
		UnitID:   memory.SeedHubID,
		RecipeID: memory.SeedPizzaID,
		Date:     "2026-03-14",
		Quantity: decimal.NewFromInt(4),
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	done, err := c.CompleteProduction(ctx, plan.ID)
	if err != nil {
		t.Fatalf("complete plan: %v", err)
	}
	if done.Plan.Status != domain.PlanCompleted {
		t.Fatalf("expected completed plan, got %s", done.Plan.Status)
	}

	po, err := c.CreatePurchaseOrder(ctx, PurchaseOrderCreateRequest{
		UnitID:   memory.SeedHubID,
		Supplier: "Dairy Farm",
		Items: []domain.PurchaseItem{
			{ProductID: memory.SeedCheeseID, Quantity: decimal.NewFromInt(3), Cost: decimal.NewFromInt(30)},
		},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	receipt, err := c.ReceivePurchase(ctx, po.ID)
	if err != nil {
		t.Fatalf("receive purchase order: %v", err)
	}
	if receipt.Order.Status != domain.PurchaseReceived {
		t.Fatalf("expected received order, got %s", receipt.Order.Status)
	}

	_, err = c.ReceivePurchase(ctx, po.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on second receipt, got %v", err)
	}

	data, err := c.ExportStocks(ctx, memory.SeedHubID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) < 2 || string(data[:2]) != "PK" {
		t.Fatalf("expected xlsx payload")
	}
}
