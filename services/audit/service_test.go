package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/models"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, log)
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByTarget(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, targetID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditLog, len(m.insertedLogs))
	copy(out, m.insertedLogs)
	return out
}

type dropCounter struct {
	mu    sync.Mutex
	count int
}

func (d *dropCounter) RecordAuditDropped() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	config := Config{
		BufferSize:  10,
		WorkerCount: 2,
	}

	service := NewAuditService(mockRepo, zap.NewNop(), config, nil)

	err := service.Start()
	require.NoError(t, err)

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	err = service.Start()
	assert.Error(t, err)

	err = service.Stop(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, service.GetStats().Started)

	// Cannot stop twice
	assert.Error(t, service.Stop(time.Second))
}

func TestAuditService_LogEventBeforeStart(t *testing.T) {
	service := NewAuditService(new(MockAuditRepository), zap.NewNop(), DefaultConfig(), nil)
	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog("a", "b", models.AuditActionRoleChanged)})
	assert.Error(t, err)
}

func TestAuditService_LogEventAfterStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig(), nil)
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog("a", "b", models.AuditActionRoleChanged)})
	assert.Error(t, err)
}

func TestAuditService_StopFlushesQueuedEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3}, nil)
	require.NoError(t, service.Start())

	eventCount := 50
	for i := 0; i < eventCount; i++ {
		log := models.NewAuditLog("admin", "u1", models.AuditActionPermissionSet)
		require.NoError(t, service.LogEvent(&AuditEvent{Log: log}))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), eventCount)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 5}, nil)
	require.NoError(t, service.Start())

	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				log := models.NewAuditLog("admin", "u1", models.AuditActionRoleChanged)
				assert.NoError(t, service.LogEvent(&AuditEvent{Log: log}))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), goroutineCount*eventsPerGoroutine)
}

func TestAuditService_FullBufferDropsEvent(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	block := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-block }).Return(nil)

	drops := &dropCounter{}
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1}, drops)
	require.NoError(t, service.Start())

	// The worker takes the first event and blocks. The second fills the buffer.
	require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog("a", "b", models.AuditActionRoleChanged)}))
	require.Eventually(t, func() bool { return service.GetStats().PendingEvents == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog("a", "b", models.AuditActionRoleChanged)}))

	err := service.LogEvent(&AuditEvent{Log: models.NewAuditLog("a", "b", models.AuditActionRoleChanged)})
	assert.Error(t, err)
	assert.Equal(t, 1, drops.count)

	close(block)
	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), 2)
}

func TestAuditService_InsertFailureDoesNotStopWorkers(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1}, nil)
	require.NoError(t, service.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, service.LogEvent(&AuditEvent{Log: models.NewAuditLog("a", "b", models.AuditActionRoleChanged)}))
	}
	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), 3)
}

func TestAuditService_LogRoleChanged(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig(), nil)
	require.NoError(t, service.Start())

	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "req-1", IPAddress: "10.0.0.1"})
	require.NoError(t, service.LogRoleChanged(ctx, "admin-1", "u1", models.RolePending, models.RoleTeamMember))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	log := logs[0]
	assert.Equal(t, "admin-1", log.ActorID)
	assert.Equal(t, "u1", log.TargetID)
	assert.Equal(t, models.AuditActionRoleChanged, log.Action)
	assert.JSONEq(t, `"pending"`, string(log.Before))
	assert.JSONEq(t, `"team_member"`, string(log.After))
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, "10.0.0.1", log.IPAddress)
}

func TestAuditService_LogPermissionSet(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig(), nil)
	require.NoError(t, service.Start())

	prev := true
	require.NoError(t, service.LogPermissionSet(context.Background(), "admin-1", "u1", "roadmap", nil, true))
	require.NoError(t, service.LogPermissionSet(context.Background(), "admin-1", "u1", "roadmap", &prev, false))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 2)
	byBefore := map[string]*models.AuditLog{}
	for _, l := range logs {
		assert.Equal(t, "roadmap", l.Section)
		assert.Equal(t, models.AuditActionPermissionSet, l.Action)
		assert.Empty(t, l.RequestID)
		byBefore[string(l.Before)] = l
	}
	require.Contains(t, byBefore, "null")
	require.Contains(t, byBefore, "true")
	assert.JSONEq(t, "true", string(byBefore["null"].After))
	assert.JSONEq(t, "false", string(byBefore["true"].After))
}

func TestAuditService_LogPrincipalCreatedAndDenied(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1}, nil)
	require.NoError(t, service.Start())

	p := models.NewPendingPrincipal(models.Identity{ID: "u9", DisplayName: "New"})
	require.NoError(t, service.LogPrincipalCreated(context.Background(), p))
	require.NoError(t, service.LogAccessDenied(context.Background(), "u9", "u1", "roadmap"))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditActionPrincipalCreated, logs[0].Action)
	assert.Equal(t, "u9", logs[0].ActorID)
	assert.JSONEq(t, `"pending"`, string(logs[0].After))
	assert.Equal(t, models.AuditActionAccessDenied, logs[1].Action)
	assert.Equal(t, "roadmap", logs[1].Section)
}

func TestAuditService_List(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig(), nil)
	ctx := context.Background()

	byTarget := []*models.AuditLog{models.NewAuditLog("a", "u1", models.AuditActionRoleChanged)}
	all := []*models.AuditLog{byTarget[0], models.NewAuditLog("a", "u2", models.AuditActionRoleChanged)}
	mockRepo.On("ListByTarget", ctx, "u1", 10, 0).Return(byTarget, nil)
	mockRepo.On("List", ctx, 20, 5).Return(all, nil)

	logs, err := service.List(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, byTarget, logs)

	logs, err = service.List(ctx, "", 20, 5)
	require.NoError(t, err)
	assert.Equal(t, all, logs)

	mockRepo.AssertExpectations(t)
}
