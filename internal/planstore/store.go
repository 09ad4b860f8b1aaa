// Package planstore builds, hashes, stores, and re-verifies Plans. Plans
// are immutable once built; a TTL'd in-memory map backs the store.
package planstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opal-lang/tenantctl/internal/canonhash"
	"github.com/opal-lang/tenantctl/internal/catalog"
	"github.com/opal-lang/tenantctl/internal/controlerr"
	"github.com/opal-lang/tenantctl/internal/invariant"
)

// OperationInput is the caller-supplied, not-yet-normalized operation.
type OperationInput struct {
	OperationID    string
	Domain         string
	Action         string
	Params         map[string]any
	RequiredScopes []string
	Destructive    *bool
	Critical       *bool
	IdempotencyKey string
}

// Descriptor is the normalized, plan-stored view of an operation.
type Descriptor struct {
	OperationID    string
	Domain         string
	Action         string
	Params         map[string]any
	RequiredScopes []string
	Destructive    bool
	Critical       bool
	IdempotencyKey string
}

// RiskLevel mirrors tenantctl.RiskLevel.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Plan is the immutable, stored result of a build.
type Plan struct {
	PlanID           string
	PlanHash         string
	Actor            string
	TargetProjects   []string
	Operations       []Descriptor
	RequiredScopes   []string
	DestructiveCount int
	RiskLevel        RiskLevel
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Store owns the in-memory plan map. Concurrency: preview writes, apply
// reads; a mutex protects both against concurrent independent clients.
type Store struct {
	mu    sync.Mutex
	plans map[string]Plan
	ttl   time.Duration
}

// NewStore constructs a Store with the given plan TTL. A zero ttl
// defaults to 900s, the upper end of the configured TTL's usual range.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 900 * time.Second
	}
	return &Store{plans: make(map[string]Plan), ttl: ttl}
}

// BuildAndStore normalizes operations (union catalog scopes, upgrade
// destructive/critical per the critical rule), computes plan_hash, and
// stores the resulting Plan keyed by a freshly minted plan_id.
func (s *Store) BuildAndStore(actor string, targetProjects []string, ops []OperationInput, now time.Time) Plan {
	invariant.Precondition(actor != "", "planstore: actor must not be empty")
	invariant.Precondition(len(targetProjects) > 0, "planstore: target_projects must not be empty")

	descriptors := normalize(ops, len(targetProjects))
	requiredScopes := unionScopes(descriptors)
	destructiveCount := 0
	for _, d := range descriptors {
		if d.Destructive {
			destructiveCount++
		}
	}

	plan := Plan{
		PlanID:           "plan_" + uuid.NewString(),
		Actor:            actor,
		TargetProjects:   append([]string(nil), targetProjects...),
		Operations:       descriptors,
		RequiredScopes:   requiredScopes,
		DestructiveCount: destructiveCount,
		RiskLevel:        riskLevel(descriptors),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}
	plan.PlanHash = hashPlan(actor, targetProjects, descriptors)

	s.mu.Lock()
	s.plans[plan.PlanID] = plan
	s.mu.Unlock()

	return plan
}

// RequireMatching re-verifies a submitted (plan_id, plan_hash) against
// the stored plan and a freshly rebuilt hash from the same request
// inputs. Returns PLAN_MISMATCH on any discrepancy.
func (s *Store) RequireMatching(actor string, targetProjects []string, ops []OperationInput, planID, planHash string, now time.Time) (Plan, error) {
	if planID == "" || planHash == "" {
		return Plan{}, mismatch("plan_id and plan_hash are both required to apply")
	}

	s.mu.Lock()
	stored, ok := s.plans[planID]
	s.mu.Unlock()
	if !ok {
		return Plan{}, mismatch("no plan found for plan_id %q", planID)
	}
	if !now.Before(stored.ExpiresAt) {
		return Plan{}, mismatch("plan %q expired at %s", planID, stored.ExpiresAt)
	}
	if stored.PlanHash != planHash {
		return Plan{}, mismatch("submitted plan_hash does not match the stored plan")
	}

	descriptors := normalize(ops, len(targetProjects))
	rebuiltHash := hashPlan(actor, targetProjects, descriptors)
	if rebuiltHash != stored.PlanHash {
		return Plan{}, mismatch("request no longer hashes to the stored plan; it was likely modified after preview")
	}

	return stored, nil
}

func mismatch(format string, args ...any) error {
	return controlerr.New(controlerr.CodePlanMismatch, format, args...)
}

// normalize unions catalog scopes into each op and resolves the
// destructive/critical upgrade rule. Client-provided false hints on an
// inherently destructive/critical action are ignored (policy
// monotonicity: only upgrades, never downgrades).
func normalize(ops []OperationInput, targetCount int) []Descriptor {
	out := make([]Descriptor, len(ops))
	for i, op := range ops {
		scopes := unionSorted(op.RequiredScopes, catalog.ScopesFor(op.Action))

		destructive := isInherentlyDestructive(op.Action)
		if op.Destructive != nil && *op.Destructive {
			destructive = true
		}

		critical := op.Action == "project.delete" || (destructive && targetCount >= 2)
		if op.Critical != nil && *op.Critical {
			critical = true
		}

		out[i] = Descriptor{
			OperationID:    op.OperationID,
			Domain:         op.Domain,
			Action:         op.Action,
			Params:         op.Params,
			RequiredScopes: scopes,
			Destructive:    destructive,
			Critical:       critical,
			IdempotencyKey: op.IdempotencyKey,
		}
	}
	return out
}

// isInherentlyDestructive names the actions that are destructive by
// nature regardless of client hints.
func isInherentlyDestructive(action string) bool {
	switch action {
	case "project.delete", "database.delete_collection":
		return true
	default:
		return false
	}
}

func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func unionScopes(descriptors []Descriptor) []string {
	set := make(map[string]bool)
	for _, d := range descriptors {
		for _, s := range d.RequiredScopes {
			set[s] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func riskLevel(descriptors []Descriptor) RiskLevel {
	destructive := false
	for _, d := range descriptors {
		if d.Critical {
			return RiskHigh
		}
		if d.Destructive {
			destructive = true
		}
	}
	if destructive {
		return RiskMedium
	}
	return RiskLow
}

// hashPlan computes plan_hash per invariant 1: SHA-256 over the
// canonical serialization of {actor, mode:"preview", target_projects,
// operations, policy_tag}.
func hashPlan(actor string, targetProjects []string, descriptors []Descriptor) string {
	opsCanon := make([]any, len(descriptors))
	for i, d := range descriptors {
		opsCanon[i] = map[string]any{
			"operation_id":    d.OperationID,
			"domain":          string(d.Domain),
			"action":          d.Action,
			"params":          d.Params,
			"required_scopes": toAnySlice(d.RequiredScopes),
			"destructive":     d.Destructive,
			"critical":        d.Critical,
		}
	}
	targets := toAnySlice(targetProjects)

	return canonhash.Sum(map[string]any{
		"actor":           actor,
		"mode":            "preview",
		"target_projects": targets,
		"operations":      opsCanon,
		"policy_tag":      catalog.Version(),
	})
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
