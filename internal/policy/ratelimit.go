package policy

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/originflow/conductor/internal/store"
)

// Rate-limit scopes, checked narrowest first.
const (
	scopeUser   = "user"
	scopeTenant = "tenant"
	scopeGlobal = "global"
)

// RateLimits holds the per-window admission caps.
type RateLimits struct {
	UserLimit   int
	TenantLimit int
	GlobalLimit int
	Window      time.Duration
}

// RateLimiter enforces fixed-window rate limits at user, tenant, and
// global scope, persisted so counts survive restarts. Callers must
// serialize mutations per tenant; the Router owns that lock.
type RateLimiter struct {
	db     *store.DB
	limits RateLimits
}

// NewRateLimiter creates a limiter over the given database.
func NewRateLimiter(db *store.DB, limits RateLimits) *RateLimiter {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	return &RateLimiter{db: db, limits: limits}
}

// ExceededScope returns the narrowest scope at its limit for this
// submission, or "" when all scopes have headroom. Counts are not
// modified; Increment applies them once the task is admitted.
func (r *RateLimiter) ExceededScope(tenantID, userID string) (string, error) {
	checks := []struct {
		scope  string
		tenant string
		user   string
		limit  int
	}{
		{scopeUser, tenantID, userID, r.limits.UserLimit},
		{scopeTenant, tenantID, "", r.limits.TenantLimit},
		{scopeGlobal, "", "", r.limits.GlobalLimit},
	}
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		count, _, err := r.currentCount(c.tenant, c.user, c.scope)
		if err != nil {
			return "", err
		}
		if count >= c.limit {
			return c.scope, nil
		}
	}
	return "", nil
}

// Increment bumps all three scope counters for an admitted submission.
func (r *RateLimiter) Increment(tenantID, userID string) error {
	rows := []struct {
		scope  string
		tenant string
		user   string
		limit  int
	}{
		{scopeUser, tenantID, userID, r.limits.UserLimit},
		{scopeTenant, tenantID, "", r.limits.TenantLimit},
		{scopeGlobal, "", "", r.limits.GlobalLimit},
	}
	for _, row := range rows {
		if err := r.increment(row.tenant, row.user, row.scope, row.limit); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the in-window count for a scope. Used by status surfaces.
func (r *RateLimiter) Count(tenantID, userID, scope string) (int, error) {
	count, _, err := r.currentCount(tenantID, userID, scope)
	return count, err
}

// currentCount reads a counter, treating a lapsed window as zero. The
// row itself is reset lazily on the next increment.
func (r *RateLimiter) currentCount(tenantID, userID, scope string) (int, time.Time, error) {
	row := r.db.QueryRow(`
		SELECT current_count, window_seconds, window_start
		FROM rate_limits WHERE tenant_id = ? AND user_id = ? AND resource = ?
	`, tenantID, userID, scope)

	var (
		count          int
		windowSeconds  int
		windowStartStr string
	)
	err := row.Scan(&count, &windowSeconds, &windowStartStr)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("load rate limit: %w", err)
	}

	windowStart, err := store.ParseTime(windowStartStr)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse window start: %w", err)
	}
	if time.Since(windowStart) >= time.Duration(windowSeconds)*time.Second {
		return 0, windowStart, nil
	}
	return count, windowStart, nil
}

// increment upserts a counter row, resetting the window when it lapsed.
func (r *RateLimiter) increment(tenantID, userID, scope string, limit int) error {
	now := time.Now()
	windowSeconds := int(r.limits.Window.Seconds())

	count, windowStart, err := r.currentCount(tenantID, userID, scope)
	if err != nil {
		return err
	}

	if windowStart.IsZero() {
		_, err = r.db.Exec(`
			INSERT INTO rate_limits (tenant_id, user_id, resource, limit_count, window_seconds, current_count, window_start)
			VALUES (?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(tenant_id, user_id, resource) DO UPDATE SET
				current_count = 1, window_start = excluded.window_start
		`, tenantID, userID, scope, limit, windowSeconds, store.FormatTime(now))
		if err != nil {
			return fmt.Errorf("create rate limit: %w", err)
		}
		return nil
	}

	if count == 0 && time.Since(windowStart) >= r.limits.Window {
		// Window lapsed: start a fresh one.
		_, err = r.db.Exec(`
			UPDATE rate_limits SET current_count = 1, window_start = ?
			WHERE tenant_id = ? AND user_id = ? AND resource = ?
		`, store.FormatTime(now), tenantID, userID, scope)
	} else {
		_, err = r.db.Exec(`
			UPDATE rate_limits SET current_count = current_count + 1
			WHERE tenant_id = ? AND user_id = ? AND resource = ?
		`, tenantID, userID, scope)
	}
	if err != nil {
		return fmt.Errorf("bump rate limit: %w", err)
	}
	return nil
}
