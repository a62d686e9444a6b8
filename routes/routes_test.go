package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/app"
	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/identity"
	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/models"
)

const devSecret = "routes-test-signing-key"

type testServer struct {
	t      *testing.T
	deps   *app.Dependencies
	server *httptest.Server
}

func newTestServer(t *testing.T, burst int) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			AllowedOrigins:  []string{"http://localhost:5173"},
			ShutdownTimeout: 5 * time.Second,
		},
		Store: config.StoreConfig{
			Driver:           config.DriverMemory,
			RetryAttempts:    1,
			RetryInitial:     time.Millisecond,
			RetryMax:         time.Millisecond,
			OperationTimeout: time.Second,
		},
		Identity:      config.IdentityConfig{DevSecret: devSecret},
		Cache:         config.CacheConfig{TTL: time.Minute, MaxEntries: 100},
		RateLimit:     config.RateLimitConfig{AdminRPS: 0.001, AdminBurst: burst},
		Audit:         config.AuditConfig{BufferSize: 100, WorkerCount: 1},
		Observability: config.ObservabilityConfig{LogLevel: "info", MetricsEnabled: true},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ts := &testServer{t: t, deps: deps, server: httptest.NewServer(SetupRoutes(deps))}
	t.Cleanup(func() {
		ts.server.Close()
		_ = deps.Close(context.Background())
	})
	return ts
}

func (ts *testServer) seedAdmin(id string) {
	ts.t.Helper()
	p := models.NewPendingPrincipal(models.Identity{ID: id, DisplayName: "Admin"})
	p.Role = models.RoleAdmin
	_, _, err := ts.deps.Store.Repos.Principals.CreateIfAbsent(context.Background(), p)
	require.NoError(ts.t, err)
}

func (ts *testServer) token(id string) string {
	ts.t.Helper()
	tok, err := identity.IssueDevToken(devSecret, models.Identity{ID: id, DisplayName: id}, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token, body string) (*http.Response, []byte) {
	ts.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(ts.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.server.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp, data
}

func TestRoutes_Health(t *testing.T) {
	ts := newTestServer(t, 10)

	resp, _ := ts.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body := ts.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "esocialize_http_requests_total")
}

func TestRoutes_NotFound(t *testing.T) {
	ts := newTestServer(t, 10)

	resp, body := ts.do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), `"error":"not_found"`)
}

func TestRoutes_SignInDisabledWithoutProvider(t *testing.T) {
	ts := newTestServer(t, 10)

	resp, _ := ts.do(http.MethodGet, "/auth/login", "", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, body := ts.do(http.MethodGet, "/auth/callback?code=c&state=s", "", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Contains(t, string(body), `"error":"not_implemented"`)
}

func TestRoutes_LogoutClearsSession(t *testing.T) {
	ts := newTestServer(t, 10)

	client := ts.server.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(ts.server.URL + "/auth/logout")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestRoutes_VisitorJourney(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.seedAdmin("admin")
	adminToken := ts.token("admin")
	memberToken := ts.token("member")

	// Anonymous
	resp, body := ts.do(http.MethodGet, "/api/v1/me", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"anonymous"`)

	resp, _ = ts.do(http.MethodGet, "/api/v1/portal/roadmap", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// First sign-in creates a pending principal
	resp, body = ts.do(http.MethodGet, "/api/v1/me", memberToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"pending"`)

	resp, body = ts.do(http.MethodGet, "/api/v1/portal/roadmap", memberToken, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "pending_approval")

	// Pending members cannot manage anyone, including themselves
	resp, _ = ts.do(http.MethodPut, "/api/v1/admin/principals/member/role", memberToken, `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Admin promotes to team member and grants one section
	resp, _ = ts.do(http.MethodPut, "/api/v1/admin/principals/member/role", adminToken, `{"role":"team_member"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(http.MethodPut, "/api/v1/admin/principals/member/permissions/roadmap", adminToken, `{"allowed":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(http.MethodGet, "/api/v1/portal/roadmap", memberToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = ts.do(http.MethodGet, "/api/v1/portal/pitch-deck", memberToken, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "access_denied")

	// Promotion to core member opens everything
	resp, _ = ts.do(http.MethodPut, "/api/v1/admin/principals/member/role", adminToken, `{"role":"core_member"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(http.MethodGet, "/api/v1/portal/pitch-deck", memberToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Unknown target
	resp, _ = ts.do(http.MethodPut, "/api/v1/admin/principals/ghost/role", adminToken, `{"role":"pending"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Listing
	resp, body = ts.do(http.MethodGet, "/api/v1/admin/principals", adminToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Data.Count)

	// Audit entries are written asynchronously
	require.Eventually(t, func() bool {
		resp, body := ts.do(http.MethodGet, "/api/v1/admin/audit?principal_id=member", adminToken, "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var trail struct {
			Data struct {
				Entries []*models.AuditLog `json:"entries"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &trail); err != nil {
			return false
		}
		roleChanges := 0
		for _, e := range trail.Data.Entries {
			if e.Action == models.AuditActionRoleChanged {
				roleChanges++
			}
		}
		return roleChanges == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRoutes_AdminRequiresSignIn(t *testing.T) {
	ts := newTestServer(t, 10)

	resp, _ := ts.do(http.MethodGet, "/api/v1/admin/principals", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(http.MethodGet, "/api/v1/admin/principals", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoutes_AdminRateLimited(t *testing.T) {
	ts := newTestServer(t, 2)
	ts.seedAdmin("admin")
	token := ts.token("admin")

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(http.MethodGet, "/api/v1/admin/principals", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := ts.do(http.MethodGet, "/api/v1/admin/principals", token, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
