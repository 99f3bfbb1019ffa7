package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kitchenops/backend/internal/access"
	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/service"
	"kitchenops/backend/internal/store"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
	units map[string]bool
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrConflict
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) GetUnit(_ context.Context, id string) (*domain.Unit, error) {
	if !s.units[id] {
		return nil, store.ErrNotFound
	}
	return &domain.Unit{ID: id, Active: true}, nil
}

func newStubManager(t *testing.T) (*AuthManager, *userStoreStub) {
	t.Helper()
	stub := &userStoreStub{units: map[string]bool{"unit-a": true, "unit-b": true}}
	return NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, stub), stub
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	manager, stub := newStubManager(t)
	ctx := context.Background()

	user, err := manager.CreateUser(ctx, domain.UserCreateRequest{
		Username: "  Chef.Anna ",
		Password: "pass1234",
		Role:     "chef",
		Units:    []string{"unit-a", "unit-a", ""},
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "chef.anna" {
		t.Fatalf("expected normalized username, got %q", user.Username)
	}
	if user.Password != "" {
		t.Fatalf("expected password to be cleared in response")
	}
	if len(user.Units) != 1 || user.Units[0] != "unit-a" {
		t.Fatalf("expected deduplicated units, got %v", user.Units)
	}

	saved := stub.users["chef.anna"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", saved.Password)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "CHEF.ANNA", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.Username != "chef.anna" || claims.Role != access.RoleChef {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.CanAccessUnit("unit-a") || claims.CanAccessUnit("unit-b") {
		t.Fatalf("expected token scope limited to unit-a")
	}
}

func TestCreateUserRejectsBadInput(t *testing.T) {
	manager, _ := newStubManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.UserCreateRequest
		want error
	}{
		{"short username", domain.UserCreateRequest{Username: "ab", Password: "pass1234", Role: "admin"}, store.ErrInvalidInput},
		{"space in username", domain.UserCreateRequest{Username: "head chef", Password: "pass1234", Role: "admin"}, store.ErrInvalidInput},
		{"short password", domain.UserCreateRequest{Username: "boss", Password: "short", Role: "admin"}, store.ErrInvalidInput},
		{"unknown role", domain.UserCreateRequest{Username: "boss", Password: "pass1234", Role: "cashier"}, store.ErrInvalidInput},
		{"scoped role without units", domain.UserCreateRequest{Username: "boss", Password: "pass1234", Role: "operator"}, store.ErrInvalidInput},
		{"unknown unit", domain.UserCreateRequest{Username: "boss", Password: "pass1234", Role: "operator", Units: []string{"unit-x"}}, store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.CreateUser(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateUserReportsFieldErrors(t *testing.T) {
	manager, _ := newStubManager(t)

	_, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: strings.Repeat("a", 65),
		Password: strings.Repeat("p", 129),
		Role:     "cashier",
	})
	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]string{"username": "max", "password": "max", "role": "role"}
	for field, rule := range want {
		if verr.Fields[field] != rule {
			t.Fatalf("expected %s to fail %s, got %+v", field, rule, verr.Fields)
		}
	}

	_, err = manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "line", Password: "pass1234", Role: "operator"})
	if !errors.As(err, &verr) || verr.Fields["units"] == "" {
		t.Fatalf("expected units field error, got %v", err)
	}
}

func TestLoginReportsMissingFields(t *testing.T) {
	manager, _ := newStubManager(t)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "   "})
	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Fields["username"] != "required" || verr.Fields["password"] != "required" {
		t.Fatalf("expected username and password required, got %+v", verr.Fields)
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	manager, stub := newStubManager(t)
	ctx := context.Background()

	if _, err := manager.CreateUser(ctx, domain.UserCreateRequest{Username: "owner", Password: "pass1234", Role: "admin"}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "owner", Password: "wrong-pass"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "ghost", Password: "pass1234"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}

	user := stub.users["owner"]
	user.Active = false
	stub.users["owner"] = user
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "owner", Password: "pass1234"}); !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	manager, _ := newStubManager(t)

	foreign := NewAuthManager("another-secret-key-that-is-long-enough", time.Hour, &userStoreStub{})
	token, err := foreign.sign("owner", "admin", nil, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(token); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected invalid token for foreign secret, got %v", err)
	}

	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := manager.sign("owner", "admin", nil, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(expired); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected invalid token for expired token, got %v", err)
	}

	unknownRole, err := manager.sign("owner", "cashier", nil, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(unknownRole); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected invalid token for unknown role, got %v", err)
	}
}

func TestEnsureBootstrapAdminRunsOnce(t *testing.T) {
	manager, stub := newStubManager(t)
	ctx := context.Background()

	created, err := manager.EnsureBootstrapAdmin(ctx, "admin", "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("expected bootstrap admin to be created, got created=%v err=%v", created, err)
	}
	if stub.users["admin"].Role != "admin" {
		t.Fatalf("expected admin role, got %q", stub.users["admin"].Role)
	}

	created, err = manager.EnsureBootstrapAdmin(ctx, "admin2", "bootstrap-pass")
	if err != nil || created {
		t.Fatalf("expected no-op once users exist, got created=%v err=%v", created, err)
	}
}

func TestListUsersSortedWithoutPasswords(t *testing.T) {
	manager, _ := newStubManager(t)
	ctx := context.Background()

	for _, name := range []string{"zed", "amy", "mia"} {
		if _, err := manager.CreateUser(ctx, domain.UserCreateRequest{Username: name, Password: "pass1234", Role: "admin"}); err != nil {
			t.Fatalf("create %s failed: %v", name, err)
		}
	}
	users, err := manager.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 3 || users[0].Username != "amy" || users[2].Username != "zed" {
		t.Fatalf("unexpected order %+v", users)
	}
	for _, u := range users {
		if u.Password != "" {
			t.Fatalf("expected password cleared for %s", u.Username)
		}
	}
}
