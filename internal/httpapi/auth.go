package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kitchenops/backend/internal/access"
	"kitchenops/backend/internal/domain"
	"kitchenops/backend/internal/service"
	"kitchenops/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidToken       = errors.New("invalid or expired token")
	errInactiveAccount    = errors.New("account is inactive")
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	validator *service.RequestValidator
	now       func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	GetUnit(ctx context.Context, id string) (*domain.Unit, error)
}

type kitchenClaims struct {
	jwtlib.RegisteredClaims
	Role  string   `json:"role"`
	Units []string `json:"units,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		validator: service.NewRequestValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	req.Username = username
	if err := a.validator.Validate(req); err != nil {
		return domain.LoginResponse{}, err
	}

	user, err := a.userStore.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user.Username, user.Role, user.Units, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	units := user.Units
	if units == nil {
		units = []string{}
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		Units:       units,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken verifies the token and resolves it to typed claims. Tokens that
// carry a role this build does not know are rejected.
func (a *AuthManager) ParseToken(tokenStr string) (access.Claims, error) {
	claims := &kitchenClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("kitchenops"))
	if err != nil || !token.Valid {
		return access.Claims{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return access.Claims{}, errors.New("invalid token subject")
	}
	resolved, err := access.Resolve(sub, claims.Role, claims.Units)
	if err != nil {
		return access.Claims{}, errInvalidToken
	}
	return resolved, nil
}

func (a *AuthManager) sign(username string, role string, units []string, expiresAt time.Time) (string, error) {
	claims := kitchenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kitchenops",
		},
		Role:  role,
		Units: units,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	req.Username = username
	if err := a.validator.Validate(req); err != nil {
		return domain.UserAccount{}, err
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, &service.ValidationError{Fields: map[string]string{"username": "no_spaces"}}
	}

	units := make([]string, 0, len(req.Units))
	for _, unitID := range req.Units {
		unitID = strings.TrimSpace(unitID)
		if unitID == "" || slices.Contains(units, unitID) {
			continue
		}
		if _, err := a.userStore.GetUnit(ctx, unitID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.UserAccount{}, fmt.Errorf("%w: unit %s", store.ErrNotFound, unitID)
			}
			return domain.UserAccount{}, err
		}
		units = append(units, unitID)
	}
	if access.Role(req.Role) != access.RoleAdmin && len(units) == 0 {
		return domain.UserAccount{}, &service.ValidationError{Fields: map[string]string{"units": "required_for_role"}}
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      req.Role,
		Units:     units,
		Active:    true,
		CreatedAt: a.now(),
	}
	if err := a.userStore.CreateUser(ctx, user); err != nil {
		return domain.UserAccount{}, err
	}
	user.Password = ""
	return user, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Password = ""
	}
	slices.SortFunc(users, func(x, y domain.UserAccount) int { return strings.Compare(x.Username, y.Username) })
	return users, nil
}

// EnsureBootstrapAdmin creates the first admin account when the user store is
// empty. It is a no-op once any user exists.
func (a *AuthManager) EnsureBootstrapAdmin(ctx context.Context, username string, password string) (bool, error) {
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	if _, err := a.CreateUser(ctx, domain.UserCreateRequest{
		Username: username,
		Password: password,
		Role:     string(access.RoleAdmin),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
