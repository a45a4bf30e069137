package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	authcore "github.com/itrimble/securewatch-auth"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/rbac"
)

type memUserStore struct {
	mu      sync.Mutex
	byID    map[string]*authcore.User
	byEmail map[string]*authcore.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{byID: map[string]*authcore.User{}, byEmail: map[string]*authcore.User{}}
}

func (s *memUserStore) CreateUser(_ context.Context, u *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return authcore.ErrEmailTaken
	}
	clone := *u
	s.byID[u.ID] = &clone
	s.byEmail[u.Email] = &clone
	return nil
}

func (s *memUserStore) GetUserByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *memUserStore) GetUserByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *memUserStore) SetEmailVerified(_ context.Context, userID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.EmailVerified = verified
	return nil
}

func (s *memUserStore) SetActive(_ context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.Active = active
	return nil
}

type memRBACStore struct{ perms []string }

func (s *memRBACStore) GetRole(context.Context, string) (*rbac.Role, error) {
	return nil, rbac.ErrNotFound
}
func (s *memRBACStore) CreateRole(context.Context, *rbac.Role) error { return nil }
func (s *memRBACStore) UpdateRole(context.Context, *rbac.Role) error { return nil }
func (s *memRBACStore) DeleteRole(context.Context, string) error     { return nil }
func (s *memRBACStore) ListRoles(context.Context, string) ([]rbac.Role, error) {
	return nil, nil
}
func (s *memRBACStore) ReplaceRolePermissions(context.Context, string, []string) error {
	return nil
}
func (s *memRBACStore) UpsertAssignment(context.Context, *rbac.Assignment) error { return nil }
func (s *memRBACStore) DeleteAssignment(context.Context, string, string) error   { return nil }
func (s *memRBACStore) RolesForUser(context.Context, string, string) ([]rbac.Role, error) {
	return []rbac.Role{{ID: "role-viewer", Name: "viewer", Priority: 1}}, nil
}
func (s *memRBACStore) PermissionsForUser(context.Context, string, string) ([]string, error) {
	return append([]string(nil), s.perms...), nil
}

type memMethodStore struct {
	mu      sync.Mutex
	methods map[string]*mfa.Method
}

func (s *memMethodStore) GetMethod(_ context.Context, userID, methodType string) (*mfa.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[userID+"|"+methodType]
	if !ok {
		return nil, mfa.ErrNotConfigured
	}
	clone := *m
	return &clone, nil
}

func (s *memMethodStore) CreateMethod(_ context.Context, m *mfa.Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *m
	s.methods[m.UserID+"|"+m.Type] = &clone
	return nil
}

func (s *memMethodStore) ReplaceBackupCodes(_ context.Context, methodID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m.ID == methodID {
			m.BackupCodeHashes = hashes
			return nil
		}
	}
	return mfa.ErrNotConfigured
}

func (s *memMethodStore) TouchLastUsed(_ context.Context, methodID string, at time.Time) error {
	return nil
}

func (s *memMethodStore) DeleteMethodsForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, m := range s.methods {
		if m.UserID == userID {
			delete(s.methods, k)
		}
	}
	return nil
}

func newTestServer(t *testing.T, perms []string) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.MFA.EncryptionKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Audit.Enabled = false

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(newMemUserStore()).
		WithRBACStore(&memRBACStore{perms: perms}).
		WithMFAStore(&memMethodStore{methods: map[string]*mfa.Method{}}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	api := New(engine, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	srv := httptest.NewServer(api.Handler(prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func postJSON(t *testing.T, srv *httptest.Server, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func get(t *testing.T, srv *httptest.Server, path, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func signup(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	resp, body := postJSON(t, srv, "/register", "", map[string]string{
		"email":           email,
		"password":        password,
		"organization_id": "org-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %v", resp.StatusCode, body)
	}
	token, _ := body["verification_token"].(string)
	if token == "" {
		t.Fatal("no verification token in response")
	}

	verify, _ := get(t, srv, "/verify/"+token, "")
	if verify.StatusCode != http.StatusNoContent {
		t.Fatalf("verify status %d", verify.StatusCode)
	}

	resp, body = postJSON(t, srv, "/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %v", resp.StatusCode, body)
	}
	access, _ := body["access_token"].(string)
	if access == "" {
		t.Fatal("no access token in login response")
	}
	return access
}

func TestRegisterLoginAndGuardedRoute(t *testing.T) {
	srv := newTestServer(t, []string{"alerts.read"})
	access := signup(t, srv, "api@example.com", "Sup3rSecretPass")

	resp, body := get(t, srv, "/sessions", access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status %d: %v", resp.StatusCode, body)
	}
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("listed %d sessions, want 1", len(sessions))
	}

	// No bearer token at all.
	resp, _ = get(t, srv, "/sessions", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d, want 401", resp.StatusCode)
	}
}

func TestLoginFailureStatuses(t *testing.T) {
	srv := newTestServer(t, nil)
	signup(t, srv, "who@example.com", "Sup3rSecretPass")

	resp, _ := postJSON(t, srv, "/login", "", map[string]string{
		"email":    "who@example.com",
		"password": "WrongPass12345",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status %d, want 401", resp.StatusCode)
	}

	resp, _ = postJSON(t, srv, "/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "WrongPass12345",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown email status %d, want 401", resp.StatusCode)
	}

	resp, _ = postJSON(t, srv, "/login", "", map[string]string{"email": "who@example.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password status %d, want 400", resp.StatusCode)
	}
}

func TestRoleRoutesRequireManagePermission(t *testing.T) {
	srv := newTestServer(t, []string{"alerts.read"})
	access := signup(t, srv, "lowpriv@example.com", "Sup3rSecretPass")

	resp, _ := get(t, srv, "/roles", access)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("roles without permission status %d, want 403", resp.StatusCode)
	}
}

func TestRefreshAndLogoutRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, body := postJSON(t, srv, "/register", "", map[string]string{
		"email":           "cycle@example.com",
		"password":        "Sup3rSecretPass",
		"organization_id": "org-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d", resp.StatusCode)
	}
	verify, _ := get(t, srv, "/verify/"+body["verification_token"].(string), "")
	if verify.StatusCode != http.StatusNoContent {
		t.Fatalf("verify status %d", verify.StatusCode)
	}

	resp, body = postJSON(t, srv, "/login", "", map[string]string{
		"email":    "cycle@example.com",
		"password": "Sup3rSecretPass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	resp, body = postJSON(t, srv, "/refresh", "", map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status %d: %v", resp.StatusCode, body)
	}
	if body["refresh_token"].(string) == refresh {
		t.Fatal("refresh token was not rotated")
	}

	resp, _ = postJSON(t, srv, "/logout", access, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	resp, _ = get(t, srv, "/sessions", access)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("sessions after logout status %d, want 401", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, _ := get(t, srv, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}
