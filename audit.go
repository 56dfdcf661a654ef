package grantor

import (
	"context"
	"sync"
	"time"
)

// AuditEventKind labels what a security-relevant audit entry records.
type AuditEventKind string

const (
	AuditDecision   AuditEventKind = "decision"
	AuditIssuance   AuditEventKind = "issuance"
	AuditValidation AuditEventKind = "validation"
	AuditRevocation AuditEventKind = "revocation"
)

// AuditEntry records one security-relevant outcome for later inspection.
type AuditEntry struct {
	ID           string            `json:"id"`
	Kind         AuditEventKind    `json:"kind"`
	Timestamp    time.Time         `json:"timestamp"`
	UserID       string            `json:"user_id"`
	ResourceType ResourceType      `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Action       Action            `json:"action"`
	Granted      bool              `json:"granted"`
	Reason       string            `json:"reason"`
	Policy       string            `json:"policy,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AuditStore persists audit entries.
type AuditStore interface {
	LogEvent(ctx context.Context, entry *AuditEntry) error
	GetEvents(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	UserID     string
	ResourceID string
	Kind       AuditEventKind
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// MemoryAuditStore keeps entries in memory. Used by tests and as the default
// when no SQL store is wired in.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogEvent(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetEvents(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, e := range s.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.StartTime.IsZero() && e.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && e.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
