package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"siifmart/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
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

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateUserStoresHashAndTokenCarriesEmployee(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username:   "PickerTwo",
		Password:   "pass1234",
		Role:       RolePicker,
		EmployeeID: "emp-picker-2",
		SiteID:     "site-main",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "pickertwo" {
		t.Fatalf("expected lower-cased username, got %s", user.Username)
	}

	saved := store.users["pickertwo"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash to be stored, got %s", saved.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "pickertwo", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with new user failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Role != RolePicker || actor.EmployeeID != "emp-picker-2" || actor.SiteID != "site-main" {
		t.Fatalf("unexpected actor from token: %+v", actor)
	}
}

func TestCreateUserRejectsAdminAndDuplicates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "rootuser", Password: "pass1234", Role: RoleAdmin,
	}); err == nil {
		t.Fatalf("expected admin role creation to fail")
	}

	req := domain.UserCreateRequest{Username: "cashier2", Password: "pass1234", Role: RoleCashier}
	if _, err := manager.CreateUser(context.Background(), req); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := manager.CreateUser(context.Background(), req); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"cashier": {Username: "cashier", Password: "cashier123", Role: RoleCashier, Active: true},
	}}
	issuer := NewAuthManager("secret-one", time.Hour, "123456", store)
	verifier := NewAuthManager("secret-two", time.Hour, "123456", store)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"picker": {Username: "picker", Password: "picker123", Role: RolePicker, Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "picker", Password: "picker123"}); err != errInactiveAccount {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
