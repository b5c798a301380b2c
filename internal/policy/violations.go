package policy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/originflow/conductor/internal/store"
	"github.com/originflow/conductor/pkg/models"
)

// ViolationStore is the append-only audit trail of admission failures.
type ViolationStore struct {
	db *store.DB
}

// NewViolationStore creates a store over the given database.
func NewViolationStore(db *store.DB) *ViolationStore {
	return &ViolationStore{db: db}
}

// Append records one violation. The ID and timestamp are filled in when
// absent.
func (s *ViolationStore) Append(v models.PolicyViolation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("marshal violation metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO policy_violations (id, type, severity, description, tenant_id, user_id, task_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, string(v.Type), string(v.Severity), v.Description, v.TenantID,
		store.NullString(v.UserID), store.NullString(v.TaskID), string(metadata),
		store.FormatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("append violation: %w", err)
	}
	return nil
}

// ViolationFilter narrows audit queries.
type ViolationFilter struct {
	TenantID string
	Type     models.ViolationType
	Limit    int
}

// List returns violations most recent first, narrowed by the filter.
func (s *ViolationStore) List(filter ViolationFilter) ([]models.PolicyViolation, error) {
	query := `SELECT id, type, severity, description, tenant_id, COALESCE(user_id,''), COALESCE(task_id,''),
		COALESCE(metadata,''), created_at FROM policy_violations WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var violations []models.PolicyViolation
	for rows.Next() {
		var (
			v            models.PolicyViolation
			typ          string
			severity     string
			metadata     string
			createdAtStr string
		)
		if err := rows.Scan(&v.ID, &typ, &severity, &v.Description, &v.TenantID,
			&v.UserID, &v.TaskID, &metadata, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Type = models.ViolationType(typ)
		v.Severity = models.Severity(severity)
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &v.Metadata)
		}
		if t, err := store.ParseTime(createdAtStr); err == nil {
			v.CreatedAt = t
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
