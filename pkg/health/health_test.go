package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("unreachable") }

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Check
		wantStatus Status
		wantCode   int
	}{
		{"all up", map[string]Check{"catalog": PingCheck(ok, true)}, StatusUp, http.StatusOK},
		{"optional down", map[string]Check{"catalog": PingCheck(ok, true), "redis": PingCheck(fail, false)}, StatusDegraded, http.StatusOK},
		{"critical down", map[string]Check{"catalog": PingCheck(fail, true), "redis": PingCheck(fail, false)}, StatusDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for n, ch := range tt.checks {
				c.Register(n, ch)
			}
			if got := c.Run(context.Background()).Status; got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}
