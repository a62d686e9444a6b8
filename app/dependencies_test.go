package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/identity"
	"github.com/pel/esocialize-portal/internal/access"
	"github.com/pel/esocialize-portal/models"
)

func TestNewDependencies(t *testing.T) {
	t.Run("memory store with development tokens", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t, config.DriverMemory), zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.Store)
		assert.Nil(t, deps.Store.DB)
		assert.NotNil(t, deps.Retrier)
		assert.NotNil(t, deps.Principals)
		assert.NotNil(t, deps.Cache)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.AdminLimiter)
		assert.NotNil(t, deps.AuthHandler())
		assert.True(t, deps.Audit.GetStats().Started)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("sqlite store is migrated", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t, config.DriverSQLite)
		cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "portal.db")

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps.Store.DB)

		_, created, err := deps.Store.Repos.Principals.CreateIfAbsent(ctx,
			models.NewPendingPrincipal(models.Identity{ID: "u1", DisplayName: "Ana"}))
		require.NoError(t, err)
		assert.True(t, created)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := testConfig(t, "mongo")
		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})
}

func TestDependencies_DevTokenSignIn(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverMemory)
	deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = deps.Close(ctx) }()

	ana := models.Identity{ID: "google-ana", DisplayName: "Ana"}
	token, err := identity.IssueDevToken(cfg.Identity.DevSecret, ana, time.Minute)
	require.NoError(t, err)

	id, err := deps.Verifier.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ana.ID, id.ID)

	// First sign-in creates a pending principal through the cache
	p, degraded := deps.Cache.Resolve(ctx, id)
	assert.False(t, degraded)
	assert.Equal(t, access.Pending, access.Classify(p))

	stored, err := deps.Principals.Get(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RolePending, stored.Role)
}

func TestDependencies_AdminChangeInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t, config.DriverMemory), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = deps.Close(ctx) }()

	admin := models.NewPendingPrincipal(models.Identity{ID: "admin"})
	admin.Role = models.RoleAdmin
	_, _, err = deps.Store.Repos.Principals.CreateIfAbsent(ctx, admin)
	require.NoError(t, err)

	member := models.Identity{ID: "member"}
	p, _ := deps.Cache.Resolve(ctx, member)
	assert.False(t, access.CanAccess(p, "roadmap"))

	require.NoError(t, deps.Principals.SetRole(ctx, admin, member.ID, models.RoleTeamMember))
	require.NoError(t, deps.Principals.SetPermission(ctx, admin, member.ID, "roadmap", true))

	p, _ = deps.Cache.Resolve(ctx, member)
	assert.Equal(t, access.AuthorizedPartial, access.Classify(p))
	assert.True(t, access.CanAccess(p, "roadmap"))
	assert.False(t, access.CanAccess(p, "pitch-deck"))
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t, config.DriverMemory), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, deps.Close(ctx))

	// The audit writer is already stopped
	assert.Error(t, deps.Close(ctx))
}

// Test helpers

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: config.StoreConfig{
			Driver:           driver,
			RetryAttempts:    2,
			RetryInitial:     time.Millisecond,
			RetryMax:         5 * time.Millisecond,
			OperationTimeout: time.Second,
		},
		Identity: config.IdentityConfig{
			DevSecret: "test-only-signing-key",
		},
		Cache: config.CacheConfig{
			TTL:        time.Minute,
			MaxEntries: 100,
		},
		RateLimit: config.RateLimitConfig{
			AdminRPS:   10,
			AdminBurst: 10,
		},
		Audit: config.AuditConfig{
			BufferSize:  100,
			WorkerCount: 1,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "console",
		},
	}
}
