package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/repositories"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// DropObserver is told when an event is dropped because the buffer is full
type DropObserver interface {
	RecordAuditDropped()
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	drops       DropObserver
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance. drops may be nil.
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config, drops DropObserver) *AuditService {
	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		drops:       drops,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. A full buffer drops the event.
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		if s.drops != nil {
			s.drops.RecordAuditDropped()
		}
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("target_id", event.Log.TargetID))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("target_id", event.Log.TargetID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// List returns stored audit entries, newest first. An empty targetID lists
// every entry.
func (s *AuditService) List(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error) {
	if targetID == "" {
		return s.auditRepo.List(ctx, limit, offset)
	}
	return s.auditRepo.ListByTarget(ctx, targetID, limit, offset)
}

// Convenience methods for logging common events

// LogPrincipalCreated records a first sign-in
func (s *AuditService) LogPrincipalCreated(ctx context.Context, p *models.Principal) error {
	log := withMeta(ctx, models.NewAuditLog(p.ID, p.ID, models.AuditActionPrincipalCreated)).
		WithChange(nil, p.Role)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogRoleChanged records an admin role assignment
func (s *AuditService) LogRoleChanged(ctx context.Context, actorID, targetID string, before, after models.Role) error {
	log := withMeta(ctx, models.NewAuditLog(actorID, targetID, models.AuditActionRoleChanged)).
		WithChange(before, after)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogPermissionSet records an admin permission toggle. before is nil when
// the key did not exist.
func (s *AuditService) LogPermissionSet(ctx context.Context, actorID, targetID, section string, before *bool, after bool) error {
	log := withMeta(ctx, models.NewAuditLog(actorID, targetID, models.AuditActionPermissionSet)).
		WithSection(section).
		WithChange(before, after)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogAccessDenied records a refused mutation attempt
func (s *AuditService) LogAccessDenied(ctx context.Context, actorID, targetID, section string) error {
	log := withMeta(ctx, models.NewAuditLog(actorID, targetID, models.AuditActionAccessDenied)).
		WithSection(section)
	return s.LogEvent(&AuditEvent{Log: log})
}
