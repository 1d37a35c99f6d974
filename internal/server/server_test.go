package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"stockroom/internal/app"
	"stockroom/internal/ratelimit"
	"stockroom/pkg/store"
	"stockroom/pkg/token"
)

func newTestHandler(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	issuer, err := token.NewIssuer(token.Options{
		Secret:     "test-secret",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Revoker:    store.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	a, err := app.New(app.Config{
		Store:  store.NewMemoryStore(),
		Tokens: issuer,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = a
	return New(cfg).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Message string `json:"message"`
	}
	decodeInto(t, rec, &resp)
	return resp.Message
}

func loginTokens(t *testing.T, h http.Handler) (access, refresh string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/register", map[string]string{
		"username": "alice", "password": "correct horse",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/login", map[string]string{
		"username": "alice", "password": "correct horse",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decodeInto(t, rec, &resp)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("login returned empty tokens")
	}
	return resp.AccessToken, resp.RefreshToken
}

func TestStoreLifecycle(t *testing.T) {
	h := newTestHandler(t, Config{})

	rec := doJSON(t, h, http.MethodPost, "/store", map[string]string{"name": "Acme"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create store: status %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}
	decodeInto(t, rec, &created)
	if created.ID == 0 || created.Name != "Acme" {
		t.Fatalf("unexpected store payload: %+v", created)
	}

	rec = doJSON(t, h, http.MethodPost, "/store", map[string]string{"name": "Acme"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate store: status %d", rec.Code)
	}
	if got := message(t, rec); got != "A store with that name already exists." {
		t.Fatalf("duplicate store message: %q", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/store/1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get store: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/store/1", nil, "")
	if rec.Code != http.StatusOK || message(t, rec) != "Store deleted." {
		t.Fatalf("delete store: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/store/1", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted store: status %d", rec.Code)
	}
	if got := message(t, rec); got != "Store not found." {
		t.Fatalf("missing store message: %q", got)
	}
}

func TestNonNumericIDReturnsNotFound(t *testing.T) {
	h := newTestHandler(t, Config{})
	rec := doJSON(t, h, http.MethodGet, "/store/abc", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("non-numeric id: status %d", rec.Code)
	}
}

func TestTagEndpoints(t *testing.T) {
	h := newTestHandler(t, Config{})
	access, _ := loginTokens(t, h)

	doJSON(t, h, http.MethodPost, "/store", map[string]string{"name": "Acme"}, "")
	rec := doJSON(t, h, http.MethodPost, "/item", map[string]any{
		"name": "Chair", "price": 19.99, "store_id": 1,
	}, access)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/store/1/tag", map[string]string{"name": "furniture"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tag: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/store/1/tag", map[string]string{"name": "furniture"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate tag: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/item/1/tag/1", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("link: status %d, body %s", rec.Code, rec.Body.String())
	}

	// assigned tag cannot be deleted
	rec = doJSON(t, h, http.MethodDelete, "/tag/1", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("delete assigned tag: status %d", rec.Code)
	}
	if got := message(t, rec); got != "Tag not deleted since it is assigned to one or more items." {
		t.Fatalf("assigned tag message: %q", got)
	}

	rec = doJSON(t, h, http.MethodDelete, "/item/1/tag/1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unlink: status %d, body %s", rec.Code, rec.Body.String())
	}
	var unlink struct {
		Message string `json:"message"`
		Item    struct {
			ID uint `json:"id"`
		} `json:"item"`
		Tag struct {
			ID uint `json:"id"`
		} `json:"tag"`
	}
	decodeInto(t, rec, &unlink)
	if unlink.Message != "Item removed from tag." || unlink.Item.ID != 1 || unlink.Tag.ID != 1 {
		t.Fatalf("unexpected unlink payload: %s", rec.Body.String())
	}

	// unlinking again is an error
	rec = doJSON(t, h, http.MethodDelete, "/item/1/tag/1", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second unlink: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/tag/1", nil, "")
	if rec.Code != http.StatusAccepted || message(t, rec) != "Tag deleted." {
		t.Fatalf("delete tag: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestItemCreateRequiresFreshToken(t *testing.T) {
	h := newTestHandler(t, Config{})
	_, refresh := loginTokens(t, h)
	doJSON(t, h, http.MethodPost, "/store", map[string]string{"name": "Acme"}, "")

	rec := doJSON(t, h, http.MethodPost, "/item", map[string]any{
		"name": "Chair", "price": 1.0, "store_id": 1,
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}

	// a refreshed access token is non-fresh
	rec = doJSON(t, h, http.MethodPost, "/refresh", nil, refresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decodeInto(t, rec, &resp)

	rec = doJSON(t, h, http.MethodPost, "/item", map[string]any{
		"name": "Chair", "price": 1.0, "store_id": 1,
	}, resp.AccessToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("non-fresh token: status %d", rec.Code)
	}
	if got := message(t, rec); got != "Fresh token required." {
		t.Fatalf("non-fresh message: %q", got)
	}

	// deleting only needs a valid access token, fresh or not
	access, _ := func() (string, string) {
		rec := doJSON(t, h, http.MethodPost, "/login", map[string]string{
			"username": "alice", "password": "correct horse",
		}, "")
		var pair struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		}
		decodeInto(t, rec, &pair)
		return pair.AccessToken, pair.RefreshToken
	}()
	rec = doJSON(t, h, http.MethodPost, "/item", map[string]any{
		"name": "Chair", "price": 1.0, "store_id": 1,
	}, access)
	if rec.Code != http.StatusCreated {
		t.Fatalf("fresh token create: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodDelete, "/item/1", nil, resp.AccessToken)
	if rec.Code != http.StatusOK || message(t, rec) != "Item deleted." {
		t.Fatalf("delete item: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestItemUpdate(t *testing.T) {
	h := newTestHandler(t, Config{})
	access, _ := loginTokens(t, h)
	doJSON(t, h, http.MethodPost, "/store", map[string]string{"name": "Acme"}, "")
	doJSON(t, h, http.MethodPost, "/item", map[string]any{
		"name": "Chair", "price": 19.99, "store_id": 1,
	}, access)

	rec := doJSON(t, h, http.MethodPut, "/item/1", map[string]any{
		"name": "Stool", "price": 9.99,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("update item: status %d, body %s", rec.Code, rec.Body.String())
	}
	var item struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	decodeInto(t, rec, &item)
	if item.Name != "Stool" || item.Price != 9.99 {
		t.Fatalf("unexpected item after update: %+v", item)
	}

	rec = doJSON(t, h, http.MethodPut, "/item/99", map[string]any{
		"name": "Ghost", "price": 1.0,
	}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("update missing item: status %d", rec.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newTestHandler(t, Config{})
	access, _ := loginTokens(t, h)
	doJSON(t, h, http.MethodPost, "/store", map[string]string{"name": "Acme"}, "")

	rec := doJSON(t, h, http.MethodPost, "/logout", nil, access)
	if rec.Code != http.StatusOK || message(t, rec) != "Successfully logged out." {
		t.Fatalf("logout: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/item", map[string]any{
		"name": "Chair", "price": 1.0, "store_id": 1,
	}, access)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token accepted: status %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newTestHandler(t, Config{})
	loginTokens(t, h)

	for _, creds := range []map[string]string{
		{"username": "alice", "password": "wrong"},
		{"username": "nobody", "password": "correct horse"},
	} {
		rec := doJSON(t, h, http.MethodPost, "/login", creds, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("login %v: status %d", creds, rec.Code)
		}
		if got := message(t, rec); got != "Invalid credentials." {
			t.Fatalf("login %v: message %q", creds, got)
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	h := newTestHandler(t, Config{LoginLimiter: limiter})

	creds := map[string]string{"username": "alice", "password": "wrong"}
	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/login", creds, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i, rec.Code)
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/login", creds, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited attempt: status %d", rec.Code)
	}
	if got := message(t, rec); got != "Too many requests." {
		t.Fatalf("limited message: %q", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newTestHandler(t, Config{})

	rec := doJSON(t, h, http.MethodPost, "/register", map[string]string{"username": "alice"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing password: status %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/register", map[string]string{
		"username": "alice", "password": "short",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: status %d", rec.Code)
	}

	loginTokens(t, h)
	rec = doJSON(t, h, http.MethodPost, "/register", map[string]string{
		"username": "alice", "password": "correct horse",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate username: status %d", rec.Code)
	}
	if got := message(t, rec); got != "A user with that username already exists." {
		t.Fatalf("duplicate username message: %q", got)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, Config{})
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
	if rid := rec.Header().Get("X-Request-Id"); rid == "" {
		t.Fatal("missing X-Request-Id header")
	}
}
