package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

func serve(t *testing.T, h echo.HandlerFunc) (*httptest.ResponseRecorder, readinessResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var body readinessResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestLiveness(t *testing.T) {
	rec, _ := serve(t, NewHealthHandler().Liveness)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadiness_AllHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHealthDependenciesHandler(
		RedisCheck(rdb),
		Check{Name: "store", Ping: func(context.Context) error { return nil }},
	)
	rec, body := serve(t, h.Readiness)

	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Fatalf("unexpected readiness: %d %+v", rec.Code, body)
	}
	if body.Dependencies["redis"].Status != "ok" || body.Dependencies["store"].Status != "ok" {
		t.Fatalf("unexpected dependencies: %+v", body.Dependencies)
	}
}

func TestReadiness_Degraded(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	h := NewHealthDependenciesHandler(
		RedisCheck(rdb),
		Check{Name: "postgres", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	rec, body := serve(t, h.Readiness)

	if rec.Code != http.StatusServiceUnavailable || body.Status != "degraded" {
		t.Fatalf("unexpected readiness: %d %+v", rec.Code, body)
	}
	if body.Dependencies["postgres"].Error != "connection refused" {
		t.Fatalf("unexpected postgres status: %+v", body.Dependencies["postgres"])
	}
	if body.Dependencies["redis"].Status != "unhealthy" {
		t.Fatalf("unexpected redis status: %+v", body.Dependencies["redis"])
	}
}
