package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"feedrelay/internal/config"
	"feedrelay/internal/metrics"
	logx "feedrelay/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, token string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return res, string(body)
}

func TestMetricsAndHealth(t *testing.T) {
	m := metrics.New()
	m.ConfigReloaded()
	s := New(m.Registry, func(context.Context) (any, error) {
		return map[string]int{"queue_depth": 3}, nil
	}, logx.Nop())
	h := s.Handler(config.ObservabilityConfig{})

	res, body := get(t, h, "/metrics", "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "feedrelay_config_reloads_total 1") {
		t.Fatalf("metrics status=%d body=%q", res.StatusCode, body)
	}
	res, body = get(t, h, "/healthz", "")
	if res.StatusCode != http.StatusOK || strings.TrimSpace(body) != `{"queue_depth":3}` {
		t.Fatalf("healthz status=%d body=%q", res.StatusCode, body)
	}
	if res, _ := get(t, h, "/debug/pprof/", ""); res.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof must be off by default, status=%d", res.StatusCode)
	}
}

func TestHealthFailure(t *testing.T) {
	s := New(metrics.New().Registry, func(context.Context) (any, error) { return nil, errors.New("db down") }, logx.Nop())
	res, body := get(t, s.Handler(config.ObservabilityConfig{}), "/healthz", "")
	if res.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "db down") {
		t.Fatalf("status=%d body=%q", res.StatusCode, body)
	}
}

func TestTokenRequired(t *testing.T) {
	s := New(metrics.New().Registry, nil, logx.Nop())
	h := s.Handler(config.ObservabilityConfig{Token: "secret", Pprof: true})

	if res, _ := get(t, h, "/healthz", ""); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", res.StatusCode)
	}
	if res, _ := get(t, h, "/healthz", "secret"); res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", res.StatusCode)
	}
	if res, _ := get(t, h, "/debug/pprof/cmdline?token=secret", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("pprof status=%d want 200", res.StatusCode)
	}
}

func TestLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:80":   true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.1:9090":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}
