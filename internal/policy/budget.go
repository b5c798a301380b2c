// Package policy implements admission control: PSU budget accounting,
// rate limiting, permission scopes, resource caps, and content checks,
// composed by the Router into a single Check decision.
package policy

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/originflow/conductor/internal/store"
)

// ErrBudgetExceeded indicates a reservation would push a tenant past its
// quota plus overage allowance.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Allocation is one tenant's PSU budget state for the current period.
type Allocation struct {
	TenantID     string    `json:"tenant_id"`
	Total        float64   `json:"total"`
	Used         float64   `json:"used"`
	Reserved     float64   `json:"reserved"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Rollover     bool      `json:"rollover"`
	OverageLimit float64   `json:"overage_limit"`
}

// Available returns the PSUs a new reservation could still claim.
func (a *Allocation) Available() float64 {
	return a.Total + a.OverageLimit - a.Used - a.Reserved
}

// BudgetDefaults seed new tenant allocations.
type BudgetDefaults struct {
	Total        float64
	PeriodDays   int
	OverageLimit float64
	Rollover     bool
}

// BudgetLedger tracks per-tenant PSU budgets in SQLite. Callers must
// serialize mutations per tenant; the Router owns that lock.
type BudgetLedger struct {
	db       *store.DB
	defaults BudgetDefaults
}

// NewBudgetLedger creates a ledger over the given database.
func NewBudgetLedger(db *store.DB, defaults BudgetDefaults) *BudgetLedger {
	if defaults.PeriodDays <= 0 {
		defaults.PeriodDays = 30
	}
	return &BudgetLedger{db: db, defaults: defaults}
}

// Allocation loads a tenant's allocation, creating it from defaults on
// first use and rolling the period forward when it has lapsed.
func (l *BudgetLedger) Allocation(tenantID string) (*Allocation, error) {
	alloc, err := l.load(tenantID)
	if err != nil {
		return nil, err
	}
	if alloc == nil {
		alloc, err = l.create(tenantID)
		if err != nil {
			return nil, err
		}
	}
	return l.refreshPeriod(alloc)
}

// Reserve claims estimated PSUs against a tenant's budget. The budget
// invariant used + reserved <= total + overage always holds afterward.
func (l *BudgetLedger) Reserve(tenantID string, amount float64) error {
	alloc, err := l.Allocation(tenantID)
	if err != nil {
		return err
	}
	if amount > alloc.Available() {
		return fmt.Errorf("%w: tenant %s needs %.2f PSU, %.2f available",
			ErrBudgetExceeded, tenantID, amount, alloc.Available())
	}

	_, err = l.db.Exec(`UPDATE budget_allocations SET reserved = reserved + ? WHERE tenant_id = ?`,
		amount, tenantID)
	if err != nil {
		return fmt.Errorf("reserve budget: %w", err)
	}
	return nil
}

// Commit converts a reservation into actual consumption. The actual cost
// may differ from the reserved estimate; the unused remainder is freed.
func (l *BudgetLedger) Commit(tenantID string, reserved, actual float64) error {
	_, err := l.db.Exec(`
		UPDATE budget_allocations
		SET reserved = MAX(reserved - ?, 0), used = used + ?
		WHERE tenant_id = ?
	`, reserved, actual, tenantID)
	if err != nil {
		return fmt.Errorf("commit budget: %w", err)
	}
	return nil
}

// Release frees a reservation without consuming anything.
func (l *BudgetLedger) Release(tenantID string, amount float64) error {
	_, err := l.db.Exec(`
		UPDATE budget_allocations SET reserved = MAX(reserved - ?, 0) WHERE tenant_id = ?
	`, amount, tenantID)
	if err != nil {
		return fmt.Errorf("release budget: %w", err)
	}
	return nil
}

// SetTotal overrides a tenant's quota for the current period.
func (l *BudgetLedger) SetTotal(tenantID string, total float64) error {
	if _, err := l.Allocation(tenantID); err != nil {
		return err
	}
	_, err := l.db.Exec(`UPDATE budget_allocations SET total = ? WHERE tenant_id = ?`, total, tenantID)
	if err != nil {
		return fmt.Errorf("set budget total: %w", err)
	}
	return nil
}

// load reads a tenant's allocation row, or nil if absent.
func (l *BudgetLedger) load(tenantID string) (*Allocation, error) {
	row := l.db.QueryRow(`
		SELECT tenant_id, total, used, reserved, period_start, period_end, rollover, overage_limit
		FROM budget_allocations WHERE tenant_id = ?
	`, tenantID)

	var (
		alloc          Allocation
		periodStartStr string
		periodEndStr   string
		rollover       int
	)
	err := row.Scan(&alloc.TenantID, &alloc.Total, &alloc.Used, &alloc.Reserved,
		&periodStartStr, &periodEndStr, &rollover, &alloc.OverageLimit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load allocation: %w", err)
	}
	if t, err := store.ParseTime(periodStartStr); err == nil {
		alloc.PeriodStart = t
	}
	if t, err := store.ParseTime(periodEndStr); err == nil {
		alloc.PeriodEnd = t
	}
	alloc.Rollover = rollover == 1
	return &alloc, nil
}

// create seeds a tenant allocation from the configured defaults.
func (l *BudgetLedger) create(tenantID string) (*Allocation, error) {
	now := time.Now()
	alloc := &Allocation{
		TenantID:     tenantID,
		Total:        l.defaults.Total,
		PeriodStart:  now,
		PeriodEnd:    now.AddDate(0, 0, l.defaults.PeriodDays),
		Rollover:     l.defaults.Rollover,
		OverageLimit: l.defaults.OverageLimit,
	}
	rollover := 0
	if alloc.Rollover {
		rollover = 1
	}
	_, err := l.db.Exec(`
		INSERT INTO budget_allocations (tenant_id, total, used, reserved, period_start, period_end, rollover, overage_limit)
		VALUES (?, ?, 0, 0, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO NOTHING
	`, alloc.TenantID, alloc.Total, store.FormatTime(alloc.PeriodStart),
		store.FormatTime(alloc.PeriodEnd), rollover, alloc.OverageLimit)
	if err != nil {
		return nil, fmt.Errorf("create allocation: %w", err)
	}
	return alloc, nil
}

// refreshPeriod rolls an allocation into a new period when the current
// one has ended. With rollover enabled, unused quota carries forward on
// top of the default total. Both used and reserved reset to zero; a
// settle against a stale reservation is safe because Commit and Release
// clamp at zero.
func (l *BudgetLedger) refreshPeriod(alloc *Allocation) (*Allocation, error) {
	now := time.Now()
	if !now.After(alloc.PeriodEnd) {
		return alloc, nil
	}

	total := l.defaults.Total
	if alloc.Rollover {
		if unused := alloc.Total - alloc.Used; unused > 0 {
			total += unused
		}
	}
	alloc.Total = total
	alloc.Used = 0
	alloc.Reserved = 0
	alloc.PeriodStart = now
	alloc.PeriodEnd = now.AddDate(0, 0, l.defaults.PeriodDays)

	_, err := l.db.Exec(`
		UPDATE budget_allocations
		SET total = ?, used = 0, reserved = 0, period_start = ?, period_end = ?
		WHERE tenant_id = ?
	`, alloc.Total, store.FormatTime(alloc.PeriodStart), store.FormatTime(alloc.PeriodEnd), alloc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("roll period: %w", err)
	}
	return alloc, nil
}
