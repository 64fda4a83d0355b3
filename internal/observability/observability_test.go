package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/geocoder89/userhub/internal/actorctx"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyDBErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "unique", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: "unique_violation"},
		{name: "wrapped_deadlock", err: fmt.Errorf("follow: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), want: "deadlock"},
		{name: "other_pg", err: &pgconn.PgError{Code: "22P02"}, want: "pg_22P02"},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), want: "timeout"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "connection_text", err: errors.New("connection refused"), want: "connection"},
		{name: "unknown", err: errors.New("boom"), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyDBErr(tt.err); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestObserveDB_DomainMissIsNotAnError(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	err := p.ObserveDB("users.get_by_id", func() error { return user.ErrNotFound })
	if !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("error must pass through, got %v", err)
	}

	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.get_by_id", "unknown")); got != 0 {
		t.Fatalf("domain miss counted as db error: %v", got)
	}

	_ = p.ObserveDB("users.get_by_id", func() error { return errors.New("boom") })
	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.get_by_id", "unknown")); got != 1 {
		t.Fatalf("got %v db errors, want 1", got)
	}
}

func TestObserveCacheAndHandler(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())
	p.ObserveCache("profile", "hit")
	p.ObserveCache("profile", "hit")

	if got := testutil.ToFloat64(p.CacheRequests.WithLabelValues("profile", "hit")); got != 2 {
		t.Fatalf("got %v, want 2", got)
	}

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(w.Body.String(), "userhub_cache_requests_total") {
		t.Fatalf("metrics output missing cache counter: %s", w.Body.String())
	}
}

func TestLoggerAddsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("dev", &buf)

	ctx := actorctx.WithUserID(context.Background(), "u-42")
	ctx = actorctx.WithRequestID(ctx, "req-7")
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}

	if rec["user_id"] != "u-42" {
		t.Fatalf("got user_id %v, want u-42", rec["user_id"])
	}
	if rec["request_id"] != "req-7" {
		t.Fatalf("got request_id %v, want req-7", rec["request_id"])
	}
	if _, ok := rec["trace_id"]; ok {
		t.Fatalf("trace_id logged without an active span: %v", rec)
	}
}

func TestLoggerDropsDebugOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("prod", &buf)

	log.Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("debug line written in prod: %s", buf.String())
	}
}

func TestGinMiddlewareLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewProm(prometheus.NewRegistry())

	r := gin.New()
	r.Use(p.GinHandleMiddleware())
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/users/a", "/users/b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(p.HTTPRequests.WithLabelValues(http.MethodGet, "/users/:id", "200")); got != 2 {
		t.Fatalf("got %v requests on the template, want 2", got)
	}
	if got := testutil.ToFloat64(p.HTTPRequests.WithLabelValues(http.MethodGet, "unmatched", "404")); got != 1 {
		t.Fatalf("got %v unmatched requests, want 1", got)
	}
	if got := testutil.ToFloat64(p.HTTPInFlight); got != 0 {
		t.Fatalf("in-flight gauge left at %v", got)
	}
}
