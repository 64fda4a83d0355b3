package middlewares_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	verifyFn func(token string) (*auth.Claims, error)
}

func (f fakeVerifier) VerifyToken(token string) (*auth.Claims, error) {
	return f.verifyFn(token)
}

func TestRequireAuth(t *testing.T) {
	verifier := fakeVerifier{verifyFn: func(token string) (*auth.Claims, error) {
		if token != "good" {
			return nil, errors.New("bad token")
		}
		return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, nil
	}}

	r := gin.New()
	r.Use(middlewares.RequestID())
	r.GET("/me", middlewares.NewAuthMiddleware(verifier).RequireAuth(), func(ctx *gin.Context) {
		id, _ := middlewares.UserIDFromContext(ctx)
		fromCtx, _ := actorctx.UserIDFrom(ctx.Request.Context())
		ctx.String(http.StatusOK, id+"|"+fromCtx)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "no_header", header: "", wantStatus: http.StatusUnauthorized, wantBody: "Not authorized, no token"},
		{name: "wrong_scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantBody: "Not authorized, no token"},
		{name: "empty_bearer", header: "Bearer  ", wantStatus: http.StatusUnauthorized, wantBody: "Not authorized, no token"},
		{name: "bad_token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantBody: "Not authorized, token failed"},
		{name: "good_token", header: "Bearer good", wantStatus: http.StatusOK, wantBody: "user-1|user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Fatalf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	rl := middlewares.NewRateLimiter(2, time.Minute)

	r := gin.New()
	r.POST("/login", rl.RateLimiterMiddleware(middlewares.KeyByIP), func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)

		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After header")
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: got %d, want %d", i, codes[i], want[i])
		}
	}

	// another client has its own window
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("second client got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "https://app.example", want: "*"},
		{name: "listed", allowed: []string{"https://app.example"}, origin: "https://app.example", want: "https://app.example"},
		{name: "unlisted", allowed: []string{"https://app.example"}, origin: "https://evil.example", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(middlewares.CORSMiddleware(tt.allowed))
			r.GET("/x", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Fatalf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireJSON(t *testing.T) {
	r := gin.New()
	r.POST("/x", middlewares.RequireJSON(), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got %d, want %d", w.Code, http.StatusUnsupportedMediaType)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRequireJSON_MissingContentType(t *testing.T) {
	r := gin.New()
	r.POST("/x", middlewares.RequireJSON(), func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}")))

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got %d, want %d", w.Code, http.StatusUnsupportedMediaType)
	}
	if !strings.Contains(w.Body.String(), "unsupported_media_type") {
		t.Fatalf("body %s does not carry the error code", w.Body.String())
	}
}
