package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/restaurant-identity/models"
)

// AuditRepository keeps audit logs in a slice
type AuditRepository struct {
	mu   sync.RWMutex
	logs []*models.AuditLog
}

// NewAuditRepository creates an empty in-memory audit store
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Insert appends a copy of log
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *log

	r.mu.Lock()
	r.logs = append(r.logs, &cp)
	r.mu.Unlock()
	return nil
}

// GetByUserID returns logs for userID, newest first
func (r *AuditRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	return r.filter(ctx, func(l *models.AuditLog) bool {
		return l.UserID != nil && *l.UserID == userID
	}, limit, offset)
}

// All returns every stored log in insertion order
func (r *AuditRepository) All() []*models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.AuditLog, len(r.logs))
	copy(out, r.logs)
	return out
}

func (r *AuditRepository) filter(ctx context.Context, keep func(*models.AuditLog) bool, limit, offset int) ([]*models.AuditLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var matched []*models.AuditLog
	for _, l := range r.logs {
		if keep(l) {
			matched = append(matched, l)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
