package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kitchenops/backend/internal/access"
	"kitchenops/backend/internal/cache"
	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/events"
	"kitchenops/backend/internal/lock"
	"kitchenops/backend/internal/metrics"
	"kitchenops/backend/internal/recommendation"
	"kitchenops/backend/internal/store"
	"kitchenops/backend/internal/xid"
)

// ErrForbidden is returned when the caller's unit scope does not cover the
// unit an operation touches.
var ErrForbidden = errors.New("unit is outside your scope")

const (
	WorkflowMovement   = "movement"
	WorkflowStockCount = "stock_count"
	WorkflowProduction = "production_complete"
	WorkflowPurchase   = "purchase_receive"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// ValidationError carries the request fields that failed validation keyed by
// their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return store.ErrInvalidInput.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}

type Options struct {
	StockCache    cache.StockCache
	StockCacheTTL time.Duration
	Locker        lock.Locker
	Events        events.Publisher
	Reorder       *recommendation.Engine
	Logger        logrus.FieldLogger
	Now           func() time.Time
}

type Service struct {
	repo          store.Repository
	stockCache    cache.StockCache
	stockCacheTTL time.Duration
	locker        lock.Locker
	events        events.Publisher
	reorder       *recommendation.Engine
	logger        logrus.FieldLogger
	validator     *validator.Validate
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.StockCache == nil {
		opts.StockCache = cache.NoopStockCache{}
	}
	if opts.StockCacheTTL <= 0 {
		opts.StockCacheTTL = 30 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = lock.NoopLocker{}
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if opts.Reorder == nil {
		opts.Reorder = recommendation.NewEngine(decimal.NewFromInt(2))
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:          repo,
		stockCache:    opts.StockCache,
		stockCacheTTL: opts.StockCacheTTL,
		locker:        opts.Locker,
		events:        opts.Events,
		reorder:       opts.Reorder,
		logger:        opts.Logger.WithField("component", "service"),
		validator:     newValidator(),
		now:           opts.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	// role keeps account requests in step with the permission table.
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return access.ValidRole(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) validate(req any) error {
	return asValidationError(s.validator.Struct(req))
}

// RequestValidator applies the service's validate-tag rules to requests
// handled outside the Service, such as logins and account creation.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: newValidator()}
}

// Validate reports tag failures as a *ValidationError keyed by JSON name.
func (rv *RequestValidator) Validate(req any) error {
	return asValidationError(rv.v.Struct(req))
}

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		fields[ns] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func invalidField(field string, rule string) error {
	return &ValidationError{Fields: map[string]string{field: rule}}
}

func actor(ctx context.Context) (string, string) {
	claims, ok := access.FromContext(ctx)
	if !ok {
		return "system", "system"
	}
	return claims.Username, string(claims.Role)
}

// authorizeUnit checks the caller's unit scope. Calls without claims come
// from inside the process and are trusted.
func authorizeUnit(ctx context.Context, unitID string) error {
	claims, ok := access.FromContext(ctx)
	if !ok || claims.CanAccessUnit(unitID) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, unitID)
}

// visibleUnit reports whether rows of unitID may be returned to the caller.
func visibleUnit(ctx context.Context, unitID string) bool {
	return authorizeUnit(ctx, unitID) == nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// withUnitLock serialises mutation workflows per unit across instances.
func (s *Service) withUnitLock(ctx context.Context, unitID string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, "unit:"+unitID)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) observe(workflow string, err error) {
	switch {
	case err == nil:
		metrics.ObserveWorkflow(workflow, metrics.ResultOK)
	case isRejection(err):
		metrics.ObserveWorkflow(workflow, metrics.ResultRejected)
	default:
		metrics.ObserveWorkflow(workflow, metrics.ResultError)
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		store.ErrInvalidInput,
		store.ErrNotFound,
		store.ErrInsufficientStock,
		store.ErrAlreadyCompleted,
		store.ErrAlreadyReceived,
		store.ErrInvalidStatus,
		store.ErrConflict,
		ErrForbidden,
		lock.ErrNotObtained,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// afterCommit runs the side effects of a committed stock workflow. None of
// them can fail the request; the database is the source of truth.
func (s *Service) afterCommit(ctx context.Context, workflow string, unitID string, txs []domain.InventoryTransaction) {
	if err := s.stockCache.Invalidate(ctx, unitID); err != nil {
		s.logger.WithFields(logrus.Fields{"unit_id": unitID, "workflow": workflow}).WithError(err).Warn("failed to invalidate stock cache")
	}

	counts := make(map[domain.MovementType]int, 3)
	for _, tx := range txs {
		counts[tx.Type]++
	}
	for kind, n := range counts {
		metrics.AddMovements(string(kind), n)
	}

	if len(txs) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events.FromTransactions(workflow, txs)...); err != nil {
		s.logger.WithFields(logrus.Fields{"unit_id": unitID, "workflow": workflow, "events": len(txs)}).WithError(err).Warn("failed to publish stock events")
	}
}

func (s *Service) logAudit(ctx context.Context, unitID string, action string, entityType string, entityID string, detail string) {
	username, role := actor(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		UnitID:     unitID,
		Actor:      username,
		Role:       role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, unitID string, limit int) ([]domain.AuditLog, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID != "" {
		if err := authorizeUnit(ctx, unitID); err != nil {
			return nil, err
		}
	}
	logs, err := s.repo.ListAuditLogs(ctx, unitID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if unitID != "" {
		return logs, nil
	}
	out := logs[:0]
	for _, entry := range logs {
		if entry.UnitID == "" || visibleUnit(ctx, entry.UnitID) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Service) productIndex(ctx context.Context) (map[string]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index, nil
}

func (s *Service) requireUnit(ctx context.Context, unitID string) (*domain.Unit, error) {
	if err := authorizeUnit(ctx, unitID); err != nil {
		return nil, err
	}
	unit, err := s.repo.GetUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unit %s", store.ErrNotFound, unitID)
		}
		return nil, err
	}
	return unit, nil
}
