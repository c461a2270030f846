package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/internal/users"
	pkgAuth "github.com/bytefrontng/bytefront-backend/pkg/auth"
	"github.com/bytefrontng/bytefront-backend/pkg/auth/session"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/security"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "bytefront",
		ExpirationMinutes: 30,
	}
}

func TestRegisterCreatesCustomerAndIssuesTokens(t *testing.T) {
	repo := newStubUserRepo()
	sessions := newStubSessionManager()
	svc := mustService(t, repo, sessions)

	resp, err := svc.Register(context.Background(), RegisterRequest{
		FirstName: "Ada",
		LastName:  "Obi",
		Email:     "  Ada@Example.NG ",
		Password:  "correct-horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if resp.User == nil || resp.User.Email != "ada@example.ng" {
		t.Fatalf("expected normalized email, got %+v", resp.User)
	}
	if resp.User.Role != enums.UserRoleCustomer {
		t.Fatalf("expected customer role, got %s", resp.User.Role)
	}

	stored := repo.byEmail["ada@example.ng"]
	if stored == nil {
		t.Fatalf("user not persisted")
	}
	if stored.PasswordHash == "correct-horse" {
		t.Fatalf("password stored in clear")
	}
	valid, err := security.VerifyPassword("correct-horse", stored.PasswordHash)
	if err != nil || !valid {
		t.Fatalf("stored hash does not verify: valid=%v err=%v", valid, err)
	}

	claims, err := pkgAuth.ParseAccessToken(testJWTConfig(), resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != stored.ID {
		t.Fatalf("claims user id mismatch")
	}
	if len(sessions.generated) != 1 || claims.ID != sessions.generated[0] {
		t.Fatalf("jti should match the generated session id")
	}
	if resp.RefreshToken == "" {
		t.Fatalf("expected refresh token")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	repo := newStubUserRepo()
	repo.seed(t, "taken@example.ng", "whatever", true, enums.UserRoleCustomer)
	svc := mustService(t, repo, newStubSessionManager())

	_, err := svc.Register(context.Background(), RegisterRequest{
		FirstName: "Ada",
		LastName:  "Obi",
		Email:     "taken@example.ng",
		Password:  "correct-horse",
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := mustService(t, newStubUserRepo(), newStubSessionManager())

	cases := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing email", RegisterRequest{FirstName: "A", LastName: "B", Password: "longenough"}},
		{"not an email", RegisterRequest{FirstName: "A", LastName: "B", Email: "nope", Password: "longenough"}},
		{"short password", RegisterRequest{FirstName: "A", LastName: "B", Email: "a@b.ng", Password: "short"}},
		{"missing name", RegisterRequest{Email: "a@b.ng", Password: "longenough"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.req)
			if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoginIssuesTokensAndRecordsLogin(t *testing.T) {
	repo := newStubUserRepo()
	user := repo.seed(t, "ada@example.ng", "correct-horse", true, enums.UserRoleAdmin)
	sessions := newStubSessionManager()
	svc := mustService(t, repo, sessions)

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "Ada@example.NG",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := pkgAuth.ParseAccessToken(testJWTConfig(), resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Role != enums.UserRoleAdmin {
		t.Fatalf("expected admin role claim, got %s", claims.Role)
	}
	if _, ok := repo.lastLogin[user.ID]; !ok {
		t.Fatalf("last login not recorded")
	}
	if resp.User == nil || resp.User.LastLoginAt == nil {
		t.Fatalf("response should carry last login timestamp")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newStubUserRepo()
	repo.seed(t, "ada@example.ng", "correct-horse", true, enums.UserRoleCustomer)
	repo.seed(t, "gone@example.ng", "correct-horse", false, enums.UserRoleCustomer)
	svc := mustService(t, repo, newStubSessionManager())

	cases := []struct {
		name string
		req  LoginRequest
	}{
		{"wrong password", LoginRequest{Email: "ada@example.ng", Password: "wrong"}},
		{"unknown email", LoginRequest{Email: "ghost@example.ng", Password: "correct-horse"}},
		{"inactive account", LoginRequest{Email: "gone@example.ng", Password: "correct-horse"}},
		{"blank email", LoginRequest{Password: "correct-horse"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.req)
			if pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
				t.Fatalf("expected unauthorized, got %v", err)
			}
			if err == nil || !strings.Contains(err.Error(), invalidCredentialsMessage) {
				t.Fatalf("credential failures must not leak the reason: %v", err)
			}
		})
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	repo := newStubUserRepo()
	repo.seed(t, "ada@example.ng", "correct-horse", true, enums.UserRoleCustomer)
	sessions := newStubSessionManager()
	svc := mustService(t, repo, sessions)

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "ada@example.ng",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	pair, err := svc.Refresh(context.Background(), RefreshRequest{
		AccessToken:  login.AccessToken,
		RefreshToken: login.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	oldClaims, err := pkgAuth.ParseAccessToken(testJWTConfig(), login.AccessToken)
	if err != nil {
		t.Fatalf("parse old token: %v", err)
	}
	newClaims, err := pkgAuth.ParseAccessToken(testJWTConfig(), pair.AccessToken)
	if err != nil {
		t.Fatalf("parse new token: %v", err)
	}
	if newClaims.ID == oldClaims.ID {
		t.Fatalf("expected a fresh jti after rotation")
	}
	if _, ok := sessions.tokens[oldClaims.ID]; ok {
		t.Fatalf("old session should be invalidated")
	}

	// The consumed refresh token must not work twice.
	_, err = svc.Refresh(context.Background(), RefreshRequest{
		AccessToken:  login.AccessToken,
		RefreshToken: login.RefreshToken,
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized on replay, got %v", err)
	}
}

func TestRefreshRevokesInactiveAccounts(t *testing.T) {
	repo := newStubUserRepo()
	user := repo.seed(t, "ada@example.ng", "correct-horse", true, enums.UserRoleCustomer)
	sessions := newStubSessionManager()
	svc := mustService(t, repo, sessions)

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "ada@example.ng",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	repo.byEmail[user.Email].IsActive = false

	_, err = svc.Refresh(context.Background(), RefreshRequest{
		AccessToken:  login.AccessToken,
		RefreshToken: login.RefreshToken,
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(sessions.revoked) == 0 {
		t.Fatalf("expected the session to be revoked")
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	repo := newStubUserRepo()
	repo.seed(t, "ada@example.ng", "correct-horse", true, enums.UserRoleCustomer)
	sessions := newStubSessionManager()
	svc := mustService(t, repo, sessions)

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "ada@example.ng",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := pkgAuth.ParseAccessToken(testJWTConfig(), login.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}

	if err := svc.Logout(context.Background(), claims.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != claims.ID {
		t.Fatalf("expected session %s revoked, got %v", claims.ID, sessions.revoked)
	}

	if err := svc.Logout(context.Background(), "  "); pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for blank access id, got %v", err)
	}
}

type stubUserRepo struct {
	mu        sync.Mutex
	byEmail   map[string]*models.User
	lastLogin map[uuid.UUID]time.Time
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byEmail:   map[string]*models.User{},
		lastLogin: map[uuid.UUID]time.Time{},
	}
}

func (s *stubUserRepo) seed(t *testing.T, email, password string, active bool, role enums.UserRole) *models.User {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Seed",
		LastName:     "User",
		Role:         role,
		IsActive:     active,
	}
	s.byEmail[email] = user
	return user
}

func (s *stubUserRepo) Create(_ context.Context, dto users.CreateUserDTO) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := dto.ToModel()
	user.ID = uuid.New()
	s.byEmail[user.Email] = user
	return user, nil
}

func (s *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.byEmail[email]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserRepo) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLogin[id] = at
	return nil
}

type stubSessionManager struct {
	mu        sync.Mutex
	tokens    map[string]string
	generated []string
	revoked   []string
}

func newStubSessionManager() *stubSessionManager {
	return &stubSessionManager{tokens: map[string]string{}}
}

func (s *stubSessionManager) Generate(_ context.Context, accessID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := "refresh-" + accessID
	s.tokens[accessID] = token
	s.generated = append(s.generated, accessID)
	return token, nil
}

func (s *stubSessionManager) Rotate(_ context.Context, oldAccessID, provided string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tokens[oldAccessID]
	if !ok || stored != provided {
		return "", "", session.ErrInvalidRefreshToken
	}
	delete(s.tokens, oldAccessID)
	newAccessID := uuid.NewString()
	token := "refresh-" + newAccessID
	s.tokens[newAccessID] = token
	return newAccessID, token, nil
}

func (s *stubSessionManager) Revoke(_ context.Context, accessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, accessID)
	s.revoked = append(s.revoked, accessID)
	return nil
}

func mustService(t *testing.T, repo *stubUserRepo, sessions *stubSessionManager) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: sessions,
		JWTConfig:      testJWTConfig(),
		PasswordConfig: config.PasswordConfig{},
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}
