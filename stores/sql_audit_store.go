package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/forgecloud/grantor"
)

// SQLAuditStore persists audit events in SQL. Pair with Migrate.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogEvent(ctx context.Context, entry *grantor.AuditEntry) error {
	metaB, _ := json.Marshal(entry.Metadata)
	q := `INSERT INTO audit_events(id, kind, timestamp, user_id, resource_type, resource_id, action, granted, reason, policy, provider, metadata_json)
	      VALUES(:id, :kind, :timestamp, :user_id, :resource_type, :resource_id, :action, :granted, :reason, :policy, :provider, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"kind":          string(entry.Kind),
		"timestamp":     entry.Timestamp,
		"user_id":       entry.UserID,
		"resource_type": string(entry.ResourceType),
		"resource_id":   entry.ResourceID,
		"action":        string(entry.Action),
		"granted":       boolToInt(entry.Granted),
		"reason":        entry.Reason,
		"policy":        entry.Policy,
		"provider":      entry.Provider,
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditStore) GetEvents(ctx context.Context, filter grantor.AuditFilter) ([]*grantor.AuditEntry, error) {
	q := `SELECT id, kind, timestamp, user_id, resource_type, resource_id, action, granted, reason, policy, provider, metadata_json FROM audit_events WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.ResourceID != "" {
		q += " AND resource_id = :resource_id"
		params["resource_id"] = filter.ResourceID
	}
	if filter.Kind != "" {
		q += " AND kind = :kind"
		params["kind"] = string(filter.Kind)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*grantor.AuditEntry, 0)
	for r.Next() {
		var id, kind, userID, resourceType, resourceID, action, reason, policy, provider, metaJSON string
		var timestampRaw any
		var grantedInt int
		if err := r.Scan(&id, &kind, &timestampRaw, &userID, &resourceType, &resourceID, &action, &grantedInt, &reason, &policy, &provider, &metaJSON); err != nil {
			return nil, err
		}
		entry := &grantor.AuditEntry{
			ID:           id,
			Kind:         grantor.AuditEventKind(kind),
			UserID:       userID,
			ResourceType: grantor.ResourceType(resourceType),
			ResourceID:   resourceID,
			Action:       grantor.Action(action),
			Granted:      grantedInt != 0,
			Reason:       reason,
			Policy:       policy,
			Provider:     provider,
		}
		switch v := timestampRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}
