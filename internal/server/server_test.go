package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/expense-tracker/expense_tracker/internal/config"
	"github.com/expense-tracker/expense_tracker/internal/logging"
	"github.com/expense-tracker/expense_tracker/internal/middleware"
)

func devConfig() config.Config {
	return config.Config{
		AppName:        "ExpenseTracker",
		Env:            "test",
		Port:           "0",
		SessionSecret:  "test-secret",
		SessionTTL:     time.Hour,
		IdempotencyTTL: time.Minute,
		ShutdownPeriod: time.Second,
	}
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestNewRequiresBackendsOutsideDev(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	if _, err := New(cfg, nil, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without database in production")
	}
}

func TestHealthAndPingInMemory(t *testing.T) {
	srv, err := New(devConfig(), nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	resp, body := do(t, srv.App(), fiber.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, srv.App(), fiber.MethodGet, "/api/v1/ping", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["request_id"] == "" {
		t.Fatalf("ping: %d %v", resp.StatusCode, body)
	}
	resp, _ = do(t, srv.App(), fiber.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

func TestGateFlowInMemory(t *testing.T) {
	srv, err := New(devConfig(), nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	app := srv.App()
	base := "/api/v1/devices/phone-1"

	resp, _ := do(t, app, fiber.MethodGet, base+"/profile", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before authentication, got %d", resp.StatusCode)
	}

	_, body := do(t, app, fiber.MethodPost, base+"/start", "", nil)
	if body["state"] != "needs_username" {
		t.Fatalf("start: %v", body)
	}
	resp, body = do(t, app, fiber.MethodPost, base+"/username", `{"username":"wallet_owner"}`, nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "authenticated" {
		t.Fatalf("username: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, app, fiber.MethodPut, base+"/pin", `{"pin":"4321"}`, nil)
	if resp.StatusCode != http.StatusOK || body["notice"] != "pin_set" {
		t.Fatalf("change pin: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, app, fiber.MethodGet, base+"/profile", "", nil)
	if resp.StatusCode != http.StatusOK || body["username"] != "wallet_owner" || body["pin_enabled"] != true {
		t.Fatalf("profile: %d %v", resp.StatusCode, body)
	}

	// A new run on the same device now asks for the PIN.
	_, body = do(t, app, fiber.MethodPost, base+"/start", "", nil)
	if body["state"] != "needs_pin" {
		t.Fatalf("restart: %v", body)
	}
	_, body = do(t, app, fiber.MethodPost, base+"/pin", `{"pin":"4321"}`, nil)
	if body["state"] != "authenticated" {
		t.Fatalf("pin: %v", body)
	}

	resp, body = do(t, app, fiber.MethodPost, base+"/logout", "", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "needs_username" || body["last_username"] != "wallet_owner" {
		t.Fatalf("logout: %d %v", resp.StatusCode, body)
	}
}

func TestGateFlowWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	srv, err := New(devConfig(), nil, cache, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	app := srv.App()
	base := "/api/v1/devices/phone-2"

	do(t, app, fiber.MethodPost, base+"/start", "", nil)

	resp, _ := do(t, app, fiber.MethodPost, base+"/username", `{"username":"redis_user"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected idempotency key to be required, got %d", resp.StatusCode)
	}

	key := map[string]string{middleware.IdempotencyKeyHeader: "k-1"}
	resp, body := do(t, app, fiber.MethodPost, base+"/username", `{"username":"redis_user"}`, key)
	if resp.StatusCode != http.StatusOK || body["state"] != "authenticated" {
		t.Fatalf("username: %d %v", resp.StatusCode, body)
	}
	userID := body["user_id"]

	if got := mr.HGet("identity:v1:device:phone-2", "user_id"); got != userID {
		t.Fatalf("expected device cache to hold %v, got %q", userID, got)
	}

	// Replaying the same key returns the stored response without a second resolution.
	resp, body = do(t, app, fiber.MethodPost, base+"/username", `{"username":"redis_user"}`, key)
	if resp.StatusCode != http.StatusOK || body["user_id"] != userID {
		t.Fatalf("replay: %d %v", resp.StatusCode, body)
	}

	_, body = do(t, app, fiber.MethodPost, base+"/start", "", nil)
	if body["state"] != "authenticated" || body["user_id"] != userID {
		t.Fatalf("restart from redis cache: %v", body)
	}
}
