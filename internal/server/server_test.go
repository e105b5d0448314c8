package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/config"
	"backend-skitrip/internal/docstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const secret = "secret"

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	cfg.JWTSecret = secret
	s := NewServer(cfg, nil, nil, nil)
	t.Cleanup(s.Close)
	return s
}

func bearer(t *testing.T, uid string) string {
	t.Helper()
	tokens, err := auth.NewService(secret, nil).IssueToken(auth.User{ID: uid, DisplayName: uid})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tokens.AccessToken
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t, config.Config{ServerPort: ":0"})

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestDocumentRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, config.Config{})

	body := `{"adminId":"A","config":{"resortName":"Pila"}}`
	req := httptest.NewRequest(http.MethodPut, "/docs/trips/ab12cd", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPut, "/docs/trips/ab12cd", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "A"))
	resp, err = s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		t.Fatalf("expected success, got %d", resp.StatusCode)
	}

	snap, err := s.Store.Get(context.Background(), docstore.TripPath("ab12cd"))
	if err != nil || !snap.Exists || snap.Data["adminId"] != "A" {
		t.Fatalf("expected stored trip, got %+v err=%v", snap, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err = s.App.Test(req)
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "skitrip_document_operations_total") {
		t.Fatalf("expected document metrics, got %s", raw)
	}
}

func TestTripHelperRoutes(t *testing.T) {
	s := newTestServer(t, config.Config{ShareOrigin: "https://ski.example"})

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/presets/pila", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = s.App.Test(httptest.NewRequest(http.MethodGet, "/trips/ab12cd/link", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "https://ski.example/?tripId=ab12cd") {
		t.Fatalf("unexpected link body %s", raw)
	}
}

func TestPrepareSeedsResortStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.yaml")
	if err := os.WriteFile(path, []byte("liftsOpen: 12\nliftsTotal: 15\nweather: Sunny\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := newTestServer(t, config.Config{ResortStatusFile: path})
	ctx := context.Background()

	if err := s.Prepare(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	snap, err := s.Store.Get(ctx, docstore.ResortStatusPath)
	if err != nil || !snap.Exists {
		t.Fatalf("expected resort status, err=%v", err)
	}
	if snap.Data["weather"] != "Sunny" {
		t.Fatalf("unexpected status %+v", snap.Data)
	}

	missing := newTestServer(t, config.Config{ResortStatusFile: filepath.Join(t.TempDir(), "none.yaml")})
	if err := missing.Prepare(ctx); err == nil {
		t.Fatalf("expected error for a missing status file")
	}
}

func TestServerWithRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewServer(config.Config{JWTSecret: secret}, nil, client, nil)
	defer s.Close()
	if s.Redis == nil || s.Stream == nil {
		t.Fatalf("expected redis-backed stream hub")
	}
}

func TestSignInWithoutPostgres(t *testing.T) {
	s := newTestServer(t, config.Config{})

	post := func(target, body string) *http.Response {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("test request: %v", err)
		}
		return resp
	}

	resp := post("/auth/register", `{"email":"a@b.c","displayName":"A","password":"pw"}`)
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("register: status %d body %s", resp.StatusCode, raw)
	}
	resp = post("/auth/login", `{"email":"a@b.c","password":"pw"}`)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("login: status %d body %s", resp.StatusCode, raw)
	}
}
