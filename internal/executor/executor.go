// Package executor implements the mutation executor: per-target auth
// resolution, scope preflight, idempotency caching, dispatch to the HTTP
// adapter, audit emission, and error normalization.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/opal-lang/tenantctl/internal/audit"
	"github.com/opal-lang/tenantctl/internal/controlerr"
	"github.com/opal-lang/tenantctl/internal/httpadapter"
	"github.com/opal-lang/tenantctl/internal/invariant"
	"github.com/opal-lang/tenantctl/internal/redact"
)

// Dispatcher is the subset of httpadapter.Adapter the executor depends
// on, so tests can substitute a fake without a live HTTP server.
type Dispatcher interface {
	Execute(ctx context.Context, targetProjectID string, op httpadapter.Operation, auth httpadapter.AuthContext) (httpadapter.Result, error)
}

// Operation is the normalized, plan-stored operation the executor runs.
type Operation struct {
	OperationID    string
	Domain         string
	Action         string
	Params         map[string]any
	RequiredScopes []string
	IdempotencyKey string
}

// OperationResult is one operation's outcome within a target.
type OperationResult struct {
	OperationID string
	Status      string // "SUCCESS" | "FAILED" | "SKIPPED"
	Data        any
	Error       *controlerr.Error
}

// TargetResult aggregates every operation outcome for one target.
type TargetResult struct {
	ProjectID string
	Status    string // "SUCCESS" | "FAILED"
	Results   []OperationResult
}

// AuthResolver supplies per-target and management auth contexts.
type AuthResolver struct {
	// PerProject, if non-nil, is consulted first by project id.
	PerProject map[string]httpadapter.AuthContext
	// Fallback is used for any project not present in PerProject.
	Fallback *httpadapter.AuthContext
	// Management substitutes for project.* actions when set and enabled.
	Management        *httpadapter.AuthContext
	ManagementEnabled bool
}

func (r AuthResolver) resolve(projectID string) (httpadapter.AuthContext, bool) {
	if ctx, ok := r.PerProject[projectID]; ok {
		return ctx, true
	}
	if r.Fallback != nil {
		return *r.Fallback, true
	}
	return httpadapter.AuthContext{}, false
}

// Executor runs plans against resolved targets.
type Executor struct {
	dispatcher Dispatcher
	auth       AuthResolver
	audit      audit.Sink

	cacheMu sync.Mutex
	cache   map[string]OperationResult
}

// New constructs an Executor.
func New(dispatcher Dispatcher, auth AuthResolver, sink audit.Sink) *Executor {
	invariant.NotNil(dispatcher, "dispatcher")
	invariant.NotNil(sink, "audit sink")
	return &Executor{dispatcher: dispatcher, auth: auth, audit: sink, cache: make(map[string]OperationResult)}
}

// Run executes every operation against every target in order, emitting
// audit entries as it goes, and returns one TargetResult per target in
// the same order as targetProjectIDs.
func (e *Executor) Run(ctx context.Context, actor, correlationID string, targetProjectIDs []string, ops []Operation) []TargetResult {
	for _, projectID := range targetProjectIDs {
		for _, op := range ops {
			e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomePlanned, nil)
		}
	}

	out := make([]TargetResult, len(targetProjectIDs))
	for i, projectID := range targetProjectIDs {
		out[i] = e.runTarget(ctx, actor, correlationID, projectID, ops)
	}
	return out
}

func (e *Executor) runTarget(ctx context.Context, actor, correlationID, projectID string, ops []Operation) TargetResult {
	authCtx, ok := e.auth.resolve(projectID)
	if !ok || !authCtx.Complete() {
		results := make([]OperationResult, len(ops))
		for i, op := range ops {
			err := controlerr.New(controlerr.CodeAuthContextRequired, "no usable auth context configured for target %q", projectID).
				WithTarget(projectID).WithOperationID(op.OperationID).
				WithRemediation("configure an api_key/endpoint for this project or a fallback auth context")
			results[i] = OperationResult{OperationID: op.OperationID, Status: "FAILED", Error: err}
			e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomeFailed, err)
		}
		return TargetResult{ProjectID: projectID, Status: "FAILED", Results: results}
	}

	results := make([]OperationResult, len(ops))
	targetStatus := "SUCCESS"
	for i, op := range ops {
		res := e.runOperation(ctx, actor, correlationID, projectID, op, authCtx)
		results[i] = res
		if res.Status != "SUCCESS" && res.Status != "SKIPPED" {
			targetStatus = "FAILED"
		}
	}
	return TargetResult{ProjectID: projectID, Status: targetStatus, Results: results}
}

func (e *Executor) runOperation(ctx context.Context, actor, correlationID, projectID string, op Operation, authCtx httpadapter.AuthContext) OperationResult {
	effectiveAuth := authCtx
	if isProjectAction(op.Action) {
		if !e.auth.ManagementEnabled {
			err := controlerr.New(controlerr.CodeCapabilityUnavail, "project management is disabled").
				WithTarget(projectID).WithOperationID(op.OperationID).
				WithRemediation("enable management credentials to run project.* actions")
			e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomeFailed, err)
			return OperationResult{OperationID: op.OperationID, Status: "FAILED", Error: err}
		}
		effectiveAuth = *e.auth.Management
	}

	if len(effectiveAuth.Scopes) > 0 {
		if missing := missingScopes(op.RequiredScopes, effectiveAuth.Scopes); len(missing) > 0 {
			err := controlerr.New(controlerr.CodeMissingScope, "missing required scopes for action %q", op.Action).
				WithTarget(projectID).WithOperationID(op.OperationID).
				WithMissingScopes(missing).
				WithRemediation("grant the missing scopes to this project's api key")
			e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomeFailed, err)
			return OperationResult{OperationID: op.OperationID, Status: "FAILED", Error: err}
		}
	}

	if op.IdempotencyKey != "" {
		key := projectID + ":" + op.Action + ":" + op.IdempotencyKey
		e.cacheMu.Lock()
		cached, hit := e.cache[key]
		e.cacheMu.Unlock()
		if hit {
			e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomeSkipped, cached.Data)
			skipped := cached
			skipped.Status = "SKIPPED"
			return skipped
		}
	}

	adapterOp := httpadapter.Operation{Action: op.Action, Params: op.Params, IdempotencyKey: op.IdempotencyKey}
	result, err := e.dispatcher.Execute(ctx, projectID, adapterOp, effectiveAuth)
	if err != nil {
		normalized := normalizeError(err, projectID, op.OperationID)
		e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomeFailed, normalized)
		return OperationResult{OperationID: op.OperationID, Status: "FAILED", Error: normalized}
	}

	data := redact.Value(result.Data)
	opResult := OperationResult{OperationID: op.OperationID, Status: "SUCCESS", Data: data}
	if op.IdempotencyKey != "" {
		key := projectID + ":" + op.Action + ":" + op.IdempotencyKey
		e.cacheMu.Lock()
		e.cache[key] = opResult
		e.cacheMu.Unlock()
	}
	e.emit(actor, correlationID, projectID, op.OperationID, audit.OutcomeSuccess, data)
	return opResult
}

func (e *Executor) emit(actor, correlationID, projectID, operationID string, outcome audit.Outcome, details any) {
	e.audit.Append(audit.Record{
		Actor:         actor,
		Timestamp:     time.Now(),
		TargetProject: projectID,
		OperationID:   operationID,
		Outcome:       outcome,
		CorrelationID: correlationID,
		Details:       redact.Value(details),
	})
}

func normalizeError(err error, projectID, operationID string) *controlerr.Error {
	ce, ok := controlerr.As(err)
	if !ok {
		ce = controlerr.Internal(false, "%v", err)
	}
	if ce.Target == "" {
		ce = ce.WithTarget(projectID)
	}
	if ce.OperationID == "" {
		ce = ce.WithOperationID(operationID)
	}
	ce.Message = redact.String(ce.Message)
	return ce
}

func isProjectAction(action string) bool {
	return len(action) >= len("project.") && action[:len("project.")] == "project."
}

func missingScopes(required, available []string) []string {
	have := make(map[string]bool, len(available))
	for _, s := range available {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
