package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/originflow/conductor/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBudget_ReserveInvariant(t *testing.T) {
	l := NewBudgetLedger(testDB(t), BudgetDefaults{Total: 100, PeriodDays: 30})

	if err := l.Reserve("t1", 60); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Reserve("t1", 30); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// 90 reserved of 100: one more unit over the remainder must fail.
	err := l.Reserve("t1", 11)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	alloc, err := l.Allocation("t1")
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Used+alloc.Reserved > alloc.Total+alloc.OverageLimit {
		t.Errorf("budget invariant broken: used=%.2f reserved=%.2f total=%.2f",
			alloc.Used, alloc.Reserved, alloc.Total)
	}
	if alloc.Reserved != 90 {
		t.Errorf("expected reserved 90, got %.2f", alloc.Reserved)
	}
}

func TestBudget_OverageAllowance(t *testing.T) {
	l := NewBudgetLedger(testDB(t), BudgetDefaults{Total: 100, PeriodDays: 30, OverageLimit: 20})

	if err := l.Reserve("t1", 115); err != nil {
		t.Fatalf("reserve within overage should succeed: %v", err)
	}
	if err := l.Reserve("t1", 10); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded past overage, got %v", err)
	}
}

func TestBudget_CommitConvertsReservation(t *testing.T) {
	l := NewBudgetLedger(testDB(t), BudgetDefaults{Total: 100, PeriodDays: 30})

	if err := l.Reserve("t1", 20); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// Actual cost came in under the estimate.
	if err := l.Commit("t1", 20, 14); err != nil {
		t.Fatalf("commit: %v", err)
	}

	alloc, _ := l.Allocation("t1")
	if alloc.Reserved != 0 {
		t.Errorf("expected reservation freed, got %.2f", alloc.Reserved)
	}
	if alloc.Used != 14 {
		t.Errorf("expected used 14, got %.2f", alloc.Used)
	}
}

func TestBudget_ReleaseFreesUnconsumed(t *testing.T) {
	l := NewBudgetLedger(testDB(t), BudgetDefaults{Total: 100, PeriodDays: 30})

	if err := l.Reserve("t1", 40); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release("t1", 40); err != nil {
		t.Fatalf("release: %v", err)
	}

	alloc, _ := l.Allocation("t1")
	if alloc.Reserved != 0 || alloc.Used != 0 {
		t.Errorf("expected clean allocation after release, got %+v", alloc)
	}
	if err := l.Reserve("t1", 100); err != nil {
		t.Errorf("full quota should be available again: %v", err)
	}
}

func TestBudget_SetTotal(t *testing.T) {
	l := NewBudgetLedger(testDB(t), BudgetDefaults{Total: 100, PeriodDays: 30})

	if err := l.SetTotal("t1", 5); err != nil {
		t.Fatalf("set total: %v", err)
	}
	if err := l.Reserve("t1", 14); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected ErrBudgetExceeded against lowered quota, got %v", err)
	}
}

func TestBudget_PeriodResetClearsUsage(t *testing.T) {
	db := testDB(t)
	l := NewBudgetLedger(db, BudgetDefaults{Total: 100, PeriodDays: 30})

	if err := l.Reserve("t1", 15); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// used=5, reserved=10.
	if err := l.Commit("t1", 5, 5); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Lapse the period.
	if _, err := db.Exec(`UPDATE budget_allocations SET period_end = ? WHERE tenant_id = ?`,
		store.FormatTime(time.Now().Add(-48*time.Hour)), "t1"); err != nil {
		t.Fatalf("lapse period: %v", err)
	}

	alloc, err := l.Allocation("t1")
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if alloc.Used != 0 {
		t.Errorf("expected used zeroed on period reset, got %.2f", alloc.Used)
	}
	if alloc.Reserved != 0 {
		t.Errorf("expected reserved zeroed on period reset, got %.2f", alloc.Reserved)
	}
	if alloc.PeriodEnd.Before(time.Now()) {
		t.Error("expected a fresh period end in the future")
	}

	// A stale settle against the reset allocation must clamp at zero.
	if err := l.Release("t1", 10); err != nil {
		t.Fatalf("release: %v", err)
	}
	alloc, _ = l.Allocation("t1")
	if alloc.Reserved != 0 {
		t.Errorf("expected reserved to stay at zero after stale release, got %.2f", alloc.Reserved)
	}
}

func TestBudget_TenantsIsolated(t *testing.T) {
	l := NewBudgetLedger(testDB(t), BudgetDefaults{Total: 50, PeriodDays: 30})

	if err := l.Reserve("t1", 50); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Reserve("t2", 50); err != nil {
		t.Errorf("tenant t2 budget should be unaffected by t1: %v", err)
	}
}
