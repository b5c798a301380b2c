package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/originflow/conductor/internal/store"
	"github.com/originflow/conductor/pkg/models"
)

// ResourceLimits caps what a single admission may claim.
type ResourceLimits struct {
	// MaxTaskDuration bounds a plan's estimated duration. Over-cap tasks
	// are admitted with a clamped duration rather than denied.
	MaxTaskDuration time.Duration
	// MaxConcurrentPerUser caps in-flight tasks per user.
	MaxConcurrentPerUser int
	// MaxConcurrentPerTenant caps in-flight tasks per tenant.
	MaxConcurrentPerTenant int
}

// CheckRequest carries everything the router evaluates for one task.
type CheckRequest struct {
	// Task is the submission under review. The router reads it but never
	// mutates it.
	Task *models.Task
	// EstimatedCost is the PSU estimate to reserve on admission.
	EstimatedCost float64
	// EstimatedDuration is the projected wall-clock duration.
	EstimatedDuration time.Duration
	// RequiredScopes are the permission scopes the task's tools need.
	RequiredScopes []string
}

// Router is the admission-control gate. Check evaluates budget,
// permissions, rate limits, resource caps, and content policy in order,
// and on admission atomically reserves budget and bumps rate counters.
// All mutations for one tenant are serialized through a per-tenant lock.
type Router struct {
	ledger  *BudgetLedger
	limiter *RateLimiter
	audit   *ViolationStore
	limits  ResourceLimits

	mu             sync.Mutex
	tenantLocks    map[string]*sync.Mutex
	inflightTenant map[string]int
	inflightUser   map[string]int
}

// NewRouter creates a policy router over one shared database.
func NewRouter(db *store.DB, budget BudgetDefaults, rates RateLimits, limits ResourceLimits) *Router {
	return &Router{
		ledger:         NewBudgetLedger(db, budget),
		limiter:        NewRateLimiter(db, rates),
		audit:          NewViolationStore(db),
		limits:         limits,
		tenantLocks:    make(map[string]*sync.Mutex),
		inflightTenant: make(map[string]int),
		inflightUser:   make(map[string]int),
	}
}

// Ledger exposes the budget ledger for status surfaces. Mutations must
// still go through Check, Complete, and Release.
func (r *Router) Ledger() *BudgetLedger { return r.ledger }

// Violations exposes the audit trail.
func (r *Router) Violations() *ViolationStore { return r.audit }

// Check runs every admission stage and returns the decision. An approve
// or modify outcome has already reserved the estimated budget and
// incremented rate counters by the time Check returns.
func (r *Router) Check(req CheckRequest) (models.Decision, error) {
	task := req.Task
	lock := r.tenantLock(task.TenantID)
	lock.Lock()
	defer lock.Unlock()

	var violations []models.PolicyViolation
	changes := make(map[string]any)

	// Budget sufficiency.
	alloc, err := r.ledger.Allocation(task.TenantID)
	if err != nil {
		return models.Decision{}, fmt.Errorf("policy check: %w", err)
	}
	if req.EstimatedCost > alloc.Available() {
		violations = append(violations, r.violation(task, models.ViolationBudget, models.SeverityCritical,
			fmt.Sprintf("BUDGET_EXCEEDED: task needs %.2f PSU, %.2f available", req.EstimatedCost, alloc.Available()),
			map[string]any{"estimated_cost": req.EstimatedCost, "available": alloc.Available()}))
	}

	// Permission scopes.
	role := taskRole(task)
	if missing := missingScopes(role, req.RequiredScopes); len(missing) > 0 {
		violations = append(violations, r.violation(task, models.ViolationPermission, models.SeverityHigh,
			fmt.Sprintf("role %q lacks scopes: %s", role, strings.Join(missing, ", ")),
			map[string]any{"role": role, "missing_scopes": missing}))
	}

	// Rate limits, user then tenant then global.
	scope, err := r.limiter.ExceededScope(task.TenantID, task.UserID)
	if err != nil {
		return models.Decision{}, fmt.Errorf("policy check: %w", err)
	}
	if scope != "" {
		violations = append(violations, r.violation(task, models.ViolationRate, models.SeverityError,
			fmt.Sprintf("RATE_LIMITED: %s-scope limit reached", scope),
			map[string]any{"scope": scope}))
	}

	// Resource caps.
	if r.limits.MaxTaskDuration > 0 && req.EstimatedDuration > r.limits.MaxTaskDuration {
		violations = append(violations, r.violation(task, models.ViolationResource, models.SeverityWarning,
			fmt.Sprintf("estimated duration %s exceeds cap %s", req.EstimatedDuration, r.limits.MaxTaskDuration),
			map[string]any{"estimated_duration": req.EstimatedDuration.String()}))
		changes["max_duration"] = r.limits.MaxTaskDuration.String()
	}
	r.mu.Lock()
	tenantInflight := r.inflightTenant[task.TenantID]
	userInflight := r.inflightUser[inflightKey(task.TenantID, task.UserID)]
	r.mu.Unlock()
	if r.limits.MaxConcurrentPerUser > 0 && userInflight >= r.limits.MaxConcurrentPerUser {
		violations = append(violations, r.violation(task, models.ViolationResource, models.SeverityError,
			fmt.Sprintf("user %s already has %d tasks in flight", task.UserID, userInflight), nil))
	}
	if r.limits.MaxConcurrentPerTenant > 0 && tenantInflight >= r.limits.MaxConcurrentPerTenant {
		violations = append(violations, r.violation(task, models.ViolationResource, models.SeverityError,
			fmt.Sprintf("tenant %s already has %d tasks in flight", task.TenantID, tenantInflight), nil))
	}

	// Content policy over description and nested context.
	for _, f := range checkContent(task.Description, task.Context) {
		violations = append(violations, r.violation(task, models.ViolationContent, f.severity,
			f.detail, map[string]any{"kind": f.kind, "path": f.path}))
	}

	decision := decide(violations, changes)

	// Every violation reaches the audit trail, including the warnings
	// behind an admitted-with-changes decision.
	for _, v := range violations {
		if err := r.audit.Append(v); err != nil {
			return models.Decision{}, fmt.Errorf("record violation: %w", err)
		}
	}

	if decision.Approved() {
		if err := r.admit(task, req.EstimatedCost); err != nil {
			return models.Decision{}, err
		}
	}
	return decision, nil
}

// decide maps violations to an outcome: any critical denies, any high
// escalates, any error denies, warnings alone modify with the proposed
// changes, none approves.
func decide(violations []models.PolicyViolation, changes map[string]any) models.Decision {
	var worst models.Severity
	for _, v := range violations {
		switch v.Severity {
		case models.SeverityCritical:
			return models.Decision{Kind: models.DecisionDeny, Violations: violations, Reason: v.Description}
		case models.SeverityHigh:
			worst = models.SeverityHigh
		case models.SeverityError:
			if worst != models.SeverityHigh {
				worst = models.SeverityError
			}
		}
	}

	switch {
	case worst == models.SeverityHigh:
		return models.Decision{Kind: models.DecisionEscalate, Violations: violations,
			Reason: "requires human approval: " + violations[0].Description}
	case worst == models.SeverityError:
		return models.Decision{Kind: models.DecisionDeny, Violations: violations,
			Reason: firstOfSeverity(violations, models.SeverityError)}
	case len(violations) > 0:
		return models.Decision{Kind: models.DecisionModify, Violations: violations, Changes: changes,
			Reason: "admitted with parameter changes"}
	default:
		return models.Decision{Kind: models.DecisionApprove}
	}
}

// admit reserves budget, bumps rate counters, and registers the task
// in flight. Caller holds the tenant lock.
func (r *Router) admit(task *models.Task, cost float64) error {
	if err := r.ledger.Reserve(task.TenantID, cost); err != nil {
		return fmt.Errorf("admit: %w", err)
	}
	if err := r.limiter.Increment(task.TenantID, task.UserID); err != nil {
		// Roll the reservation back so a counter failure cannot leak PSUs.
		_ = r.ledger.Release(task.TenantID, cost)
		return fmt.Errorf("admit: %w", err)
	}

	r.mu.Lock()
	r.inflightTenant[task.TenantID]++
	r.inflightUser[inflightKey(task.TenantID, task.UserID)]++
	r.mu.Unlock()
	return nil
}

// Complete converts a task's reservation into actual consumption and
// frees its concurrency slot.
func (r *Router) Complete(tenantID, userID string, reserved, actual float64) error {
	lock := r.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	r.releaseSlot(tenantID, userID)
	return r.ledger.Commit(tenantID, reserved, actual)
}

// Release frees a task's reservation unconsumed, for cancellation and
// pre-execution failure.
func (r *Router) Release(tenantID, userID string, reserved float64) error {
	lock := r.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	r.releaseSlot(tenantID, userID)
	return r.ledger.Release(tenantID, reserved)
}

// releaseSlot decrements in-flight counters, never below zero.
func (r *Router) releaseSlot(tenantID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflightTenant[tenantID] > 0 {
		r.inflightTenant[tenantID]--
	}
	key := inflightKey(tenantID, userID)
	if r.inflightUser[key] > 0 {
		r.inflightUser[key]--
	}
}

// tenantLock returns the mutex serializing one tenant's admissions.
func (r *Router) tenantLock(tenantID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		r.tenantLocks[tenantID] = lock
	}
	return lock
}

// violation builds a violation record bound to the task.
func (r *Router) violation(task *models.Task, typ models.ViolationType, sev models.Severity,
	description string, metadata map[string]any) models.PolicyViolation {
	return models.PolicyViolation{
		Type:        typ,
		Severity:    sev,
		Description: description,
		TenantID:    task.TenantID,
		UserID:      task.UserID,
		TaskID:      task.ID,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
}

// taskRole reads the submitting role from the task context.
func taskRole(task *models.Task) string {
	if role, ok := task.Context["role"].(string); ok && role != "" {
		return role
	}
	return DefaultRole
}

// firstOfSeverity returns the description of the first violation at the
// given severity.
func firstOfSeverity(violations []models.PolicyViolation, sev models.Severity) string {
	for _, v := range violations {
		if v.Severity == sev {
			return v.Description
		}
	}
	return ""
}

// inflightKey keys per-user concurrency within a tenant.
func inflightKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}
