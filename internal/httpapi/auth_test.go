package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
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

func (s *userStoreStub) ListUsers(_ context.Context, restaurantID string) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		if user.RestaurantID == restaurantID {
			out = append(out, user)
		}
	}
	return out, nil
}

func stubWithOwner(t *testing.T) *userStoreStub {
	t.Helper()
	hash, err := hashPassword("owner123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:     "owner",
				Password:     hash,
				Role:         domain.RoleOwner,
				RestaurantID: "rest-1",
				Active:       true,
				CreatedAt:    time.Now().UTC(),
			},
		},
	}
}

func TestLoginIssuesTokenWithTenantClaims(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, stubWithOwner(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "Owner", // mixed case must still resolve
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleOwner {
		t.Fatalf("unexpected role %s", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "owner" || actor.Role != domain.RoleOwner || actor.RestaurantID != "rest-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	stub := stubWithOwner(t)
	hash, _ := hashPassword("sleepy123")
	stub.users["dormant"] = domain.UserAccount{
		Username:     "dormant",
		Password:     hash,
		Role:         domain.RoleCashier,
		RestaurantID: "rest-1",
		Active:       false,
	}
	manager := NewAuthManager("test-secret", time.Hour, stub)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "wrong"}); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "owner123"}); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "dormant", Password: "sleepy123"}); err == nil {
		t.Fatalf("expected inactive account to fail")
	}
}

func TestParseTokenRejectsForeignAndTenantlessTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, stubWithOwner(t))

	other := NewAuthManager("other-secret", time.Hour, stubWithOwner(t))
	resp, err := other.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "owner123"})
	if err != nil {
		t.Fatalf("login on other manager: %v", err)
	}
	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	// A well-signed token without a restaurant claim must not authenticate.
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "owner",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleOwner,
	}
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign tenantless token: %v", err)
	}
	if _, err := manager.ParseToken(raw); err == nil {
		t.Fatalf("expected tenantless token to be rejected")
	}
}

func TestCreateCashierHashesPasswordAndScopesTenant(t *testing.T) {
	stub := stubWithOwner(t)
	manager := NewAuthManager("test-secret", time.Hour, stub)
	owner := domain.Actor{Username: "owner", Role: domain.RoleOwner, RestaurantID: "rest-1"}

	cashier, err := manager.CreateCashier(context.Background(), owner, domain.CashierCreateRequest{
		Username: "Fatima",
		Password: "pass1234",
		BranchID: "branch-1",
	})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if cashier.Username != "fatima" {
		t.Fatalf("username should be lowercased, got %s", cashier.Username)
	}

	saved := stub.users["fatima"]
	if saved.RestaurantID != "rest-1" || saved.BranchID != "branch-1" {
		t.Fatalf("cashier not scoped to owner tenant: %+v", saved)
	}
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "fatima", Password: "pass1234"}); err != nil {
		t.Fatalf("new cashier cannot log in: %v", err)
	}

	if _, err := manager.CreateCashier(context.Background(), owner, domain.CashierCreateRequest{
		Username: "fatima",
		Password: "pass1234",
	}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

func TestCreateCashierValidatesInput(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, stubWithOwner(t))
	owner := domain.Actor{Username: "owner", Role: domain.RoleOwner, RestaurantID: "rest-1"}

	cases := []domain.CashierCreateRequest{
		{Username: "ab", Password: "pass1234"},
		{Username: "has space", Password: "pass1234"},
		{Username: "validname", Password: "short"},
	}
	for _, req := range cases {
		if _, err := manager.CreateCashier(context.Background(), owner, req); err == nil {
			t.Fatalf("expected %q/%q to be rejected", req.Username, req.Password)
		}
	}
}

func TestListCashiersFiltersByRoleAndTenant(t *testing.T) {
	stub := stubWithOwner(t)
	manager := NewAuthManager("test-secret", time.Hour, stub)
	owner := domain.Actor{Username: "owner", Role: domain.RoleOwner, RestaurantID: "rest-1"}

	if _, err := manager.CreateCashier(context.Background(), owner, domain.CashierCreateRequest{
		Username: "amira", Password: "pass1234",
	}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	stub.users["foreign"] = domain.UserAccount{
		Username: "foreign", Role: domain.RoleCashier, RestaurantID: "rest-2", Active: true,
	}

	cashiers, err := manager.ListCashiers(context.Background(), owner)
	if err != nil {
		t.Fatalf("list cashiers: %v", err)
	}
	if len(cashiers) != 1 || cashiers[0].Username != "amira" {
		t.Fatalf("expected only the tenant's cashier, got %+v", cashiers)
	}
}
