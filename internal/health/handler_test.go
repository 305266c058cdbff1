package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/echolens/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type fakeDescriber struct {
	available bool
}

func (f *fakeDescriber) Describe(context.Context, []byte, string, string) (string, error) {
	return "There is a tree.", nil
}

func (f *fakeDescriber) IsAvailable(context.Context) bool {
	return f.available
}

type plainDescriber struct{}

func (plainDescriber) Describe(context.Context, []byte, string, string) (string, error) {
	return "There is a tree.", nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error {
	return errors.New("connection refused")
}

func newManager() *session.Manager {
	return session.NewManager(session.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func readiness(t *testing.T, h *Handler) (int, HealthResponse) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	e := echo.New()
	NewHandler(Deps{}).RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	usage := session.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	tests := []struct {
		name       string
		deps       func(t *testing.T) Deps
		wantCode   int
		wantStatus Status
		components []string
	}{
		{
			name: "all healthy",
			deps: func(t *testing.T) Deps {
				return Deps{Usage: usage, Describer: &fakeDescriber{available: true}, ArtifactsDir: t.TempDir()}
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
			components: []string{"artifacts", "redis", "vision"},
		},
		{
			name: "describer without availability check",
			deps: func(t *testing.T) Deps {
				return Deps{Describer: plainDescriber{}, ArtifactsDir: t.TempDir()}
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
			components: []string{"artifacts"},
		},
		{
			name: "vision down degrades",
			deps: func(t *testing.T) Deps {
				return Deps{Describer: &fakeDescriber{}, ArtifactsDir: t.TempDir()}
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			components: []string{"artifacts", "vision"},
		},
		{
			name: "redis down degrades",
			deps: func(t *testing.T) Deps {
				return Deps{Usage: failingPinger{}, ArtifactsDir: t.TempDir()}
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			components: []string{"artifacts", "redis"},
		},
		{
			name: "missing artifact dir",
			deps: func(t *testing.T) Deps {
				return Deps{ArtifactsDir: filepath.Join(t.TempDir(), "gone")}
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
			components: []string{"artifacts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := tt.deps(t)
			deps.Sessions = newManager()
			code, resp := readiness(t, NewHandler(deps))

			if code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, code)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, resp.Status)
			}
			if len(resp.Components) != len(tt.components) {
				t.Errorf("expected components %v, got %v", tt.components, resp.Components)
			}
			for _, name := range tt.components {
				if _, ok := resp.Components[name]; !ok {
					t.Errorf("missing component %s", name)
				}
			}
		})
	}
}

func TestReadiness_Stats(t *testing.T) {
	sessions := newManager()
	sessions.Create()
	sessions.Create()

	h := NewHandler(Deps{ArtifactsDir: t.TempDir(), Sessions: sessions, Version: "test"})
	h.IncrementRequests()
	h.IncrementConnections()

	_, resp := readiness(t, h)
	if resp.Stats.Sessions.Active != 2 {
		t.Errorf("expected 2 active sessions, got %d", resp.Stats.Sessions.Active)
	}
	if resp.Stats.Requests.TotalRequests != 1 || resp.Stats.Requests.ActiveConnections != 1 {
		t.Errorf("unexpected request stats %+v", resp.Stats.Requests)
	}
	if resp.Version != "test" {
		t.Errorf("expected version test, got %s", resp.Version)
	}
}

func TestSessions(t *testing.T) {
	sessions := newManager()
	sess := sessions.Create()

	e := echo.New()
	NewHandler(Deps{Sessions: sessions}).RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/sessions", nil))

	var resp SessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Sessions[0].ID != sess.ID {
		t.Errorf("unexpected sessions %+v", resp)
	}
}
