// Package client is a small Go client for the kitchenops HTTP API. Each Client
// holds its own access token, so one process can act for several users.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kitchenops/backend/internal/domain"
)

type (
	MovementRequest             = domain.MovementRequest
	MovementResult              = domain.MovementResult
	Stock                       = domain.Stock
	StockCountRequest           = domain.StockCountRequest
	StockCountResult            = domain.StockCountResult
	ProductionPlan              = domain.ProductionPlan
	ProductionPlanCreateRequest = domain.ProductionPlanCreateRequest
	ProductionCompletion        = domain.ProductionCompletion
	PurchaseOrder               = domain.PurchaseOrder
	PurchaseOrderCreateRequest  = domain.PurchaseOrderCreateRequest
	PurchaseReceipt             = domain.PurchaseReceipt
	LowStockItem                = domain.LowStockItem
)

var ErrNotLoggedIn = errors.New("client: not logged in")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("kitchenops: %d %s %v", e.StatusCode, e.Message, e.Fields)
	}
	return fmt.Sprintf("kitchenops: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Login(ctx context.Context, username string, password string) (domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, domain.LoginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	c.token = resp.AccessToken
	return resp, nil
}

func (c *Client) RecordMovement(ctx context.Context, req MovementRequest) (MovementResult, error) {
	var out MovementResult
	err := c.doAuth(ctx, http.MethodPost, "/api/inventory/movement", nil, req, &out)
	return out, err
}

func (c *Client) ListStocks(ctx context.Context, unitID string) ([]Stock, error) {
	var out struct {
		Stocks []Stock `json:"stocks"`
	}
	err := c.doAuth(ctx, http.MethodGet, "/api/inventory/stocks", url.Values{"unit_id": {unitID}}, nil, &out)
	return out.Stocks, err
}

func (c *Client) LowStock(ctx context.Context, unitID string) ([]LowStockItem, error) {
	var out struct {
		Items []LowStockItem `json:"items"`
	}
	err := c.doAuth(ctx, http.MethodGet, "/api/inventory/low-stock", url.Values{"unit_id": {unitID}}, nil, &out)
	return out.Items, err
}

func (c *Client) CountStock(ctx context.Context, req StockCountRequest) (StockCountResult, error) {
	var out StockCountResult
	err := c.doAuth(ctx, http.MethodPost, "/api/inventory/count", nil, req, &out)
	return out, err
}

// ExportStocks downloads the unit's stock workbook.
func (c *Client) ExportStocks(ctx context.Context, unitID string) ([]byte, error) {
	if c.token == "" {
		return nil, ErrNotLoggedIn
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/inventory/stocks/export", url.Values{"unit_id": {unitID}}, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, decodeAPIError(res)
	}
	return io.ReadAll(res.Body)
}

func (c *Client) CreateProductionPlan(ctx context.Context, req ProductionPlanCreateRequest) (ProductionPlan, error) {
	var out struct {
		Plan ProductionPlan `json:"plan"`
	}
	err := c.doAuth(ctx, http.MethodPost, "/api/production", nil, req, &out)
	return out.Plan, err
}

func (c *Client) CompleteProduction(ctx context.Context, planID string) (ProductionCompletion, error) {
	var out ProductionCompletion
	err := c.doAuth(ctx, http.MethodPost, "/api/production/"+url.PathEscape(planID)+"/complete", nil, nil, &out)
	return out, err
}

func (c *Client) CreatePurchaseOrder(ctx context.Context, req PurchaseOrderCreateRequest) (PurchaseOrder, error) {
	var out struct {
		PurchaseOrder PurchaseOrder `json:"purchase_order"`
	}
	err := c.doAuth(ctx, http.MethodPost, "/api/purchases", nil, req, &out)
	return out.PurchaseOrder, err
}

func (c *Client) ReceivePurchase(ctx context.Context, orderID string) (PurchaseReceipt, error) {
	var out PurchaseReceipt
	err := c.doAuth(ctx, http.MethodPost, "/api/purchases/"+url.PathEscape(orderID)+"/receive", nil, nil, &out)
	return out, err
}

func (c *Client) doAuth(ctx context.Context, method string, path string, query url.Values, body any, dest any) error {
	if c.token == "" {
		return ErrNotLoggedIn
	}
	return c.do(ctx, method, path, query, body, dest)
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, dest any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return decodeAPIError(res)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeAPIError(res *http.Response) error {
	apiErr := &APIError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Fields = body.Fields
	}
	return apiErr
}
