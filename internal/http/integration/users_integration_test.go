package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/cache"
	"github.com/geocoder89/userhub/internal/config"
	apphttp "github.com/geocoder89/userhub/internal/http"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/repo/memory"
	"github.com/geocoder89/userhub/internal/service/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() config.Config {
	return config.Config{
		Env:                       "test",
		StoreDriver:               config.StoreMemory,
		CacheDriver:               config.CacheMemory,
		CacheTTL:                  60 * time.Second,
		JWTSecret:                 "test-secret-key",
		JWTTTL:                    time.Hour,
		CORSOrigins:               []string{"*"},
		AuthRateLimit:             1000,
		AuthRateWindow:            time.Minute,
		MaxBodyBytes:              1 << 20,
		ServiceName:               "userhub-test",
		ProfileInvalidateOnUpdate: false,
	}
}

type testApp struct {
	router http.Handler
	prom   *observability.Prom
}

func setupRouter(t *testing.T) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	prom := observability.NewProm(prometheus.NewRegistry())

	store := memory.NewUsersRepo()
	mem := cache.NewMemory()
	jwt := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)

	svc := users.NewService(store, cache.NewAside(mem, cfg.CacheTTL, logger, prom), jwt, logger, users.Options{
		InvalidateProfileOnUpdate: cfg.ProfileInvalidateOnUpdate,
	})

	router := apphttp.NewRouter(logger, cfg, apphttp.Deps{
		Users:     svc,
		JWT:       jwt,
		Prom:      prom,
		CachePing: mem.Ping,
	})

	return testApp{router: router, prom: prom}
}

func doRequest(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

type authResponse struct {
	Message string `json:"message"`
	User    struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
	Token string `json:"token"`
}

type listResponse struct {
	FromCache bool `json:"fromCache"`
	Followers []struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
	} `json:"followers"`
	Count int `json:"count"`
}

func register(t *testing.T, router http.Handler, username, email, password string) authResponse {
	t.Helper()

	w := doRequest(router, http.MethodPost, "/api/auth/register",
		`{"username":"`+username+`","email":"`+email+`","password":"`+password+`"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register got status %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp authResponse
	mustReadJSON(t, w, &resp)
	if resp.Token == "" {
		t.Fatalf("register expected token, got empty")
	}
	return resp
}

func TestFollowersScenario(t *testing.T) {
	app := setupRouter(t)

	u1 := register(t, app.router, "u1", "u1@x.com", "pw1")
	u2 := register(t, app.router, "u2", "u2@x.com", "pw2")

	w := doRequest(app.router, http.MethodPost, "/api/users/"+u2.User.ID+"/follow", "", u1.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("follow got status %d, body=%s", w.Code, w.Body.String())
	}

	w = doRequest(app.router, http.MethodGet, "/api/users/"+u2.User.ID+"/followers", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("followers got status %d, body=%s", w.Code, w.Body.String())
	}

	var first listResponse
	mustReadJSON(t, w, &first)
	if first.FromCache {
		t.Fatalf("first read should not come from cache")
	}
	if first.Count != 1 || len(first.Followers) != 1 {
		t.Fatalf("expected exactly one follower, got %+v", first)
	}
	if first.Followers[0].ID != u1.User.ID || first.Followers[0].Username != "u1" {
		t.Fatalf("unexpected follower summary: %+v", first.Followers[0])
	}

	w = doRequest(app.router, http.MethodGet, "/api/users/"+u2.User.ID+"/followers", "", "")
	var second listResponse
	mustReadJSON(t, w, &second)
	if !second.FromCache || second.Count != first.Count {
		t.Fatalf("second read: want fromCache=true count=%d, got %+v", first.Count, second)
	}

	if got := testutil.ToFloat64(app.prom.CacheRequests.WithLabelValues("followers", "hit")); got != 1 {
		t.Fatalf("expected one followers cache hit, got %v", got)
	}

	// following again is a conflict, and unfollow clears the cached list
	w = doRequest(app.router, http.MethodPost, "/api/users/"+u2.User.ID+"/follow", "", u1.Token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate follow got status %d, want 400", w.Code)
	}

	w = doRequest(app.router, http.MethodPost, "/api/users/"+u2.User.ID+"/unfollow", "", u1.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("unfollow got status %d, body=%s", w.Code, w.Body.String())
	}

	w = doRequest(app.router, http.MethodGet, "/api/users/"+u2.User.ID+"/followers", "", "")
	var third listResponse
	mustReadJSON(t, w, &third)
	if third.FromCache || third.Count != 0 {
		t.Fatalf("after unfollow want fresh empty list, got %+v", third)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	app := setupRouter(t)
	register(t, app.router, "alice", "alice@x.com", "pw1")

	wrong := doRequest(app.router, http.MethodPost, "/api/auth/login", `{"email":"alice@x.com","password":"nope"}`, "")
	unknown := doRequest(app.router, http.MethodPost, "/api/auth/login", `{"email":"ghost@x.com","password":"pw1"}`, "")

	if wrong.Code != http.StatusBadRequest || unknown.Code != http.StatusBadRequest {
		t.Fatalf("got %d and %d, want 400 for both", wrong.Code, unknown.Code)
	}

	type errBody struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	var a, b errBody
	mustReadJSON(t, wrong, &a)
	mustReadJSON(t, unknown, &b)
	if a.Error != b.Error || a.Error.Message != "Invalid credentials" {
		t.Fatalf("responses differ: %+v vs %+v", a.Error, b.Error)
	}

	ok := doRequest(app.router, http.MethodPost, "/api/auth/login", `{"email":"alice@x.com","password":"pw1"}`, "")
	if ok.Code != http.StatusOK {
		t.Fatalf("login got status %d, body=%s", ok.Code, ok.Body.String())
	}
}

func TestProfileRequiresToken(t *testing.T) {
	app := setupRouter(t)
	alice := register(t, app.router, "alice", "alice@x.com", "pw1")

	w := doRequest(app.router, http.MethodGet, "/api/users/me", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}

	w = doRequest(app.router, http.MethodGet, "/api/users/me", "", "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}

	w = doRequest(app.router, http.MethodGet, "/api/users/me", "", alice.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var me struct {
		FromCache bool `json:"fromCache"`
		User      struct {
			ID       string `json:"_id"`
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"user"`
	}
	mustReadJSON(t, w, &me)
	if me.FromCache || me.User.ID != alice.User.ID || me.User.Password != "" {
		t.Fatalf("unexpected profile: %+v", me)
	}

	w = doRequest(app.router, http.MethodPatch, "/api/users/me", `{"bio":"hi"}`, alice.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("patch got status %d, body=%s", w.Code, w.Body.String())
	}
}

func TestHealthAndReadiness(t *testing.T) {
	app := setupRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := doRequest(app.router, http.MethodGet, path, "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s got status %d", path, w.Code)
		}
	}
}

type downStore struct {
	*memory.UsersRepo
}

func (downStore) Ping(context.Context) error { return io.ErrUnexpectedEOF }

func TestReadinessFailsWhenStoreIsDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := apphttp.NewRouter(logger, cfg, apphttp.Deps{
		Users: users.NewService(downStore{memory.NewUsersRepo()}, nil, auth.NewManager("s", time.Hour), logger, users.Options{}),
		JWT:   auth.NewManager("s", time.Hour),
	})

	w := doRequest(router, http.MethodGet, "/readyz", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", w.Code)
	}
}
