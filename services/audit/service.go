// Package audit records authentication events asynchronously so that writing
// the audit trail never adds latency to a login or registration.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/restaurant-identity/models"
	"github.com/upb/restaurant-identity/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned when entries are queued outside Start/Stop
	ErrNotRunning = errors.New("audit service not running")

	// ErrBufferFull is returned when the queue is full and the entry was dropped
	ErrBufferFull = errors.New("audit buffer full")
)

// Recorder accepts audit entries. Implementations must not block the caller.
type Recorder interface {
	Record(log *models.AuditLog)
}

// NopRecorder discards every entry
type NopRecorder struct{}

func (NopRecorder) Record(*models.AuditLog) {}

// RequestMeta identifies the HTTP request an event came from
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// AuditService writes audit entries to the repository from a fixed pool of
// workers fed by a bounded queue
type AuditService struct {
	auditRepo    repositories.AuditRepository
	logger       *zap.Logger
	queue        chan *models.AuditLog
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	started      bool
	stopped      bool
	mu           sync.RWMutex

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize   int           // Size of the queue
	WorkerCount  int           // Number of concurrent writers
	WriteTimeout time.Duration // Per-insert deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	return &AuditService{
		auditRepo:    auditRepo,
		logger:       logger,
		queue:        make(chan *models.AuditLog, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
	}
}

// Start launches the writers
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

// Stop closes the queue and waits up to timeout for queued entries to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.stopped = true
	pending := len(s.queue)
	close(s.queue)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped",
			zap.Int64("written", s.written.Load()),
			zap.Int64("failed", s.failed.Load()),
			zap.Int64("dropped", s.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Enqueue queues log without blocking
func (s *AuditService) Enqueue(log *models.AuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotRunning
	}

	select {
	case s.queue <- log:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit queue full, dropping event",
			zap.String("action", string(log.Action)))
		return ErrBufferFull
	}
}

// Record implements Recorder. Failures are logged, never returned.
func (s *AuditService) Record(log *models.AuditLog) {
	if err := s.Enqueue(log); err != nil {
		s.logger.Debug("audit event not recorded", zap.Error(err))
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	for log := range s.queue {
		if err := s.write(log); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to write audit event",
				zap.Int("worker_id", id),
				zap.String("action", string(log.Action)),
				zap.Error(err))
			continue
		}
		s.written.Add(1)
	}
}

func (s *AuditService) write(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Stats reports queue configuration and write counters
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Running       bool
	Written       int64
	Failed        int64
	Dropped       int64
}

// GetStats returns a snapshot of the service counters
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.queue),
		WorkerCount:   s.workerCount,
		Running:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Failed:        s.failed.Load(),
		Dropped:       s.dropped.Load(),
	}
}
