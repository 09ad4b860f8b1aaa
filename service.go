package tenantctl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opal-lang/tenantctl/internal/audit"
	"github.com/opal-lang/tenantctl/internal/catalog"
	"github.com/opal-lang/tenantctl/internal/confirm"
	"github.com/opal-lang/tenantctl/internal/controlerr"
	"github.com/opal-lang/tenantctl/internal/executor"
	"github.com/opal-lang/tenantctl/internal/httpadapter"
	"github.com/opal-lang/tenantctl/internal/planstore"
	"github.com/opal-lang/tenantctl/internal/redact"
	"github.com/opal-lang/tenantctl/internal/target"
)

// Service is the outer control-plane facade (C0): it wires the
// canonical hasher, redactor, scope catalog, target resolver, plan
// manager, confirmation token service, mutation executor, and HTTP
// adapter, and implements the seven tool operations.
type Service struct {
	cfg       Config
	logger    *slog.Logger
	planStore *planstore.Store
	confirm   *confirm.Service
	adapter   *httpadapter.Adapter
	audit     audit.Sink
}

// NewService constructs a Service from cfg. A non-nil error means
// startup must fail (invalid confirmation secret in production, or a
// malformed adapter response-format header).
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	confirmSvc, err := confirm.NewService(cfg.ConfirmationSecret, cfg.Production)
	if err != nil {
		return nil, err
	}

	adapter, err := httpadapter.NewAdapter(httpadapter.Config{
		Timeout:    cfg.AdapterTimeout,
		MaxRetries: cfg.AdapterMaxRetries,
		RetryBase:  cfg.AdapterRetryBase,
		RetryMax:   cfg.AdapterRetryMax,
	})
	if err != nil {
		return nil, err
	}

	ttl := cfg.PlanTTL
	if ttl <= 0 {
		ttl = 900 * time.Second
	}

	return &Service{
		cfg:       cfg,
		logger:    logger,
		planStore: planstore.NewStore(ttl),
		confirm:   confirmSvc,
		adapter:   adapter,
		audit:     audit.NewMemorySink(),
	}, nil
}

// AuditRecords returns every audit entry appended so far, for callers
// (tests, operators) that need to inspect the log directly.
func (s *Service) AuditRecords() []audit.Record {
	return s.audit.List()
}

// recoverToInternalError is the single recover-and-normalize boundary for
// every tool operation: any panic escaping it (an invariant violation or
// an unexpected third-party panic) is turned into a plain INTERNAL_ERROR
// rather than crashing the caller.
func (s *Service) recoverToInternalError(correlationID string, errOut **StandardError) {
	if r := recover(); r != nil {
		s.logger.Error("recovered panic in tool operation", "correlation_id", correlationID, "panic", fmt.Sprintf("%v", r))
		*errOut = controlerr.Internal(true, "internal error")
	}
}

func newCorrelationID() string {
	return uuid.NewString()
}

// CapabilitiesList implements the capabilities.list tool operation.
func (s *Service) CapabilitiesList(transport string) (resp CapabilitiesResponse, errOut *StandardError) {
	correlationID := newCorrelationID()
	defer s.recoverToInternalError(correlationID, &errOut)

	if transport != "" && !contains(s.cfg.SupportedTransports, transport) {
		errOut = controlerr.New(controlerr.CodeCapabilityUnavail, "transport %q is not supported", transport).
			WithSupportedTransports(s.cfg.SupportedTransports).
			WithRemediation("use one of the supported transports")
		return CapabilitiesResponse{}, errOut
	}

	actions := sortedKeys(catalog.Snapshot())
	return CapabilitiesResponse{
		CorrelationID: correlationID,
		Summary:       "capabilities listed",
		Capabilities: Capabilities{
			Domains: DomainCapabilities{
				Project:   actionsIn(actions, "project."),
				Database:  actionsIn(actions, "database."),
				Auth:      actionsIn(actions, "auth."),
				Function:  actionsIn(actions, "function."),
				Operation: []string{"changes.preview", "changes.apply", "confirm.issue"},
			},
			TransportDefault:     s.cfg.TransportDefault,
			SupportedTransports:  s.cfg.SupportedTransports,
			AutoTargetingEnabled: len(s.cfg.autoTargetProjectIDs()) > 0 || len(s.cfg.knownProjectIDs()) == 1,
			ScopeCatalogVersion:  catalog.Version(),
		},
	}, nil
}

// ContextGet implements the context.get tool operation.
func (s *Service) ContextGet() ContextResponse {
	correlationID := newCorrelationID()

	var defaultSelector *TargetSelector
	if s.cfg.Defaults.TargetSelector != nil {
		defaultSelector = s.cfg.Defaults.TargetSelector
	}

	return ContextResponse{
		CorrelationID:         correlationID,
		Summary:               "context retrieved",
		KnownProjectIDs:       s.cfg.knownProjectIDs(),
		AliasCount:            len(s.cfg.aliasMap()),
		AutoTargetProjectIDs:  s.cfg.autoTargetProjectIDs(),
		DefaultTargetSelector: defaultSelector,
	}
}

// TargetsResolve implements the targets.resolve tool operation.
func (s *Service) TargetsResolve(req TargetsResolveRequest) (resp TargetsResolveResponse, errOut *StandardError) {
	correlationID := newCorrelationID()
	defer s.recoverToInternalError(correlationID, &errOut)

	resolved, source, err := s.resolveTargets(req.Targets, req.TargetSelector)
	if err != nil {
		errOut, _ = controlerr.As(err)
		return TargetsResolveResponse{}, errOut
	}

	out := make([]ResolvedTarget, len(resolved))
	for i, r := range resolved {
		out[i] = ResolvedTarget{Index: r.Index, Source: TargetSource(r.Source), ProjectID: r.ProjectID}
	}

	return TargetsResolveResponse{
		CorrelationID:   correlationID,
		Summary:         fmt.Sprintf("resolved %d target(s) via %s", len(out), source),
		ResolvedTargets: out,
		Source:          TargetSource(source),
	}, nil
}

// ScopesCatalogGet implements the scopes.catalog.get tool operation.
func (s *Service) ScopesCatalogGet() ScopesCatalogResponse {
	correlationID := newCorrelationID()
	snapshot := catalog.Snapshot()
	actions := make(map[string]CatalogActionEntry, len(snapshot))
	for action, scopes := range snapshot {
		sorted := append([]string(nil), scopes...)
		sort.Strings(sorted)
		actions[action] = CatalogActionEntry{RequiredScopes: sorted}
	}

	return ScopesCatalogResponse{
		CorrelationID:  correlationID,
		Summary:        fmt.Sprintf("%d actions in catalog version %s", len(actions), catalog.Version()),
		CatalogVersion: catalog.Version(),
		Actions:        actions,
	}
}

// ChangesPreview implements the changes.preview tool operation.
func (s *Service) ChangesPreview(req PreviewRequest) (resp PreviewResponse, errOut *StandardError) {
	correlationID := newCorrelationID()
	defer s.recoverToInternalError(correlationID, &errOut)

	if len(req.Targets) == 0 && req.TargetSelector == nil && s.cfg.Defaults.TargetSelector == nil && len(s.cfg.autoTargetProjectIDs()) == 0 && len(s.cfg.knownProjectIDs()) != 1 {
		errOut = controlerr.New(controlerr.CodeValidationError, "neither targets nor a target_selector was provided")
		return PreviewResponse{}, errOut
	}

	resolved, _, err := s.resolveTargets(req.Targets, req.TargetSelector)
	if err != nil {
		errOut, _ = controlerr.As(err)
		return PreviewResponse{}, errOut
	}

	ops, err := s.toOperationInputs(req.Operations)
	if err != nil {
		errOut, _ = controlerr.As(err)
		return PreviewResponse{}, errOut
	}

	targetIDs := resolvedProjectIDs(resolved)
	plan := s.planStore.BuildAndStore(req.Actor, targetIDs, ops, time.Now())

	s.logger.Info("plan built", "correlation_id", correlationID, "plan_id", plan.PlanID, "risk_level", string(plan.RiskLevel))

	return PreviewResponse{
		CorrelationID:    correlationID,
		Summary:          planSummary(plan),
		PlanID:           plan.PlanID,
		PlanHash:         plan.PlanHash,
		TargetProjects:   plan.TargetProjects,
		Operations:       toOperationDescriptors(plan.Operations),
		RequiredScopes:   plan.RequiredScopes,
		DestructiveCount: plan.DestructiveCount,
		RiskLevel:        RiskLevel(plan.RiskLevel),
		ExpiresAt:        plan.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// ChangesApply implements the changes.apply tool operation.
func (s *Service) ChangesApply(ctx context.Context, req ApplyRequest) (resp ApplyResponse, errOut *StandardError) {
	correlationID := newCorrelationID()
	defer s.recoverToInternalError(correlationID, &errOut)

	resolved, _, err := s.resolveTargets(req.Targets, req.TargetSelector)
	if err != nil {
		errOut, _ = controlerr.As(err)
		return ApplyResponse{}, errOut
	}
	targetIDs := resolvedProjectIDs(resolved)

	ops, err := s.toOperationInputs(req.Operations)
	if err != nil {
		errOut, _ = controlerr.As(err)
		return ApplyResponse{}, errOut
	}

	plan, err := s.planStore.RequireMatching(req.Actor, targetIDs, ops, req.PlanID, req.PlanHash, time.Now())
	if err != nil {
		errOut, _ = controlerr.As(err)
		return ApplyResponse{}, errOut
	}

	if anyCritical(plan.Operations) {
		if err := s.checkConfirmation(plan, req.ConfirmationToken); err != nil {
			errOut, _ = controlerr.As(err)
			return ApplyResponse{}, errOut
		}
	}

	exec := executor.New(s.adapter, s.buildAuthResolver(), s.audit)
	execOps := make([]executor.Operation, len(plan.Operations))
	for i, d := range plan.Operations {
		execOps[i] = executor.Operation{
			OperationID:    d.OperationID,
			Domain:         d.Domain,
			Action:         d.Action,
			Params:         d.Params,
			RequiredScopes: d.RequiredScopes,
			IdempotencyKey: d.IdempotencyKey,
		}
	}

	targetResults := exec.Run(ctx, req.Actor, correlationID, plan.TargetProjects, execOps)

	return ApplyResponse{
		CorrelationID: correlationID,
		Summary:       applySummary(targetResults),
		Status:        overallStatus(targetResults),
		TargetResults: toTargetResults(targetResults),
	}, nil
}

// ConfirmIssue implements the confirm.issue tool operation.
func (s *Service) ConfirmIssue(req ConfirmIssueRequest) (resp ConfirmIssueResponse, errOut *StandardError) {
	correlationID := newCorrelationID()
	defer s.recoverToInternalError(correlationID, &errOut)

	ttl := confirm.DefaultTTL
	if req.TTLSeconds != 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
		if ttl < confirm.MinTTL || ttl > confirm.MaxTTL {
			errOut = controlerr.New(controlerr.CodeValidationError, "ttl_seconds must be in [30, 7200]")
			return ConfirmIssueResponse{}, errOut
		}
	}

	expiresAt := time.Now().Add(ttl)
	token, err := s.confirm.Issue(req.PlanHash, expiresAt.Unix())
	if err != nil {
		errOut, _ = controlerr.As(err)
		return ConfirmIssueResponse{}, errOut
	}

	return ConfirmIssueResponse{
		CorrelationID: correlationID,
		Summary:       "confirmation token issued",
		Token:         token,
		ExpiresAt:     expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) checkConfirmation(plan planstore.Plan, token string) error {
	if token == "" {
		return controlerr.New(controlerr.CodeConfirmRequired, "this plan contains a critical operation and requires a confirmation token")
	}
	ok, reason := s.confirm.Verify(token, plan.PlanHash, time.Now().Unix())
	if ok {
		return nil
	}
	switch reason {
	case confirm.ReasonExpired:
		return controlerr.New(controlerr.CodeConfirmRequired, "confirmation token expired")
	default:
		return controlerr.New(controlerr.CodeInvalidConfirmToken, "confirmation token is invalid for this plan")
	}
}

func (s *Service) resolveTargets(inputs []TargetInput, selector *TargetSelector) ([]target.Resolved, target.Source, error) {
	cfg := target.Config{
		AliasMap:             s.cfg.aliasMap(),
		KnownProjectIDs:      s.cfg.knownProjectIDs(),
		AutoTargetProjectIDs: s.cfg.autoTargetProjectIDs(),
	}
	if s.cfg.Defaults.TargetSelector != nil {
		cfg.DefaultSelector = &target.Selector{
			Mode:   target.Mode(s.cfg.Defaults.TargetSelector.Mode),
			Values: s.cfg.Defaults.TargetSelector.Values,
		}
	}

	targetInputs := make([]target.Input, len(inputs))
	for i, t := range inputs {
		targetInputs[i] = target.Input{ProjectID: t.ProjectID, Alias: t.Alias}
	}

	var sel *target.Selector
	if selector != nil {
		sel = &target.Selector{Mode: target.Mode(selector.Mode), Values: selector.Values}
	}

	return target.Resolve(cfg, targetInputs, sel)
}

func (s *Service) toOperationInputs(ops []Operation) ([]planstore.OperationInput, error) {
	out := make([]planstore.OperationInput, len(ops))
	for i, op := range ops {
		if op.OperationID == "" {
			return nil, controlerr.New(controlerr.CodeValidationError, "operations[%d].operation_id must not be empty", i)
		}
		if err := catalog.ValidateParams(op.Action, op.Params); err != nil {
			return nil, err
		}
		out[i] = planstore.OperationInput{
			OperationID:    op.OperationID,
			Domain:         string(op.Domain),
			Action:         op.Action,
			Params:         op.Params,
			RequiredScopes: op.RequiredScopes,
			Destructive:    op.Destructive,
			Critical:       op.Critical,
			IdempotencyKey: op.IdempotencyKey,
		}
	}
	return out, nil
}

func (s *Service) buildAuthResolver() executor.AuthResolver {
	perProject := make(map[string]httpadapter.AuthContext, len(s.cfg.Projects))
	for id, p := range s.cfg.Projects {
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = s.cfg.DefaultEndpoint
		}
		perProject[id] = httpadapter.AuthContext{Endpoint: endpoint, APIKey: p.APIKey, Scopes: p.Scopes}
	}

	var mgmt *httpadapter.AuthContext
	if s.cfg.Management != nil {
		endpoint := s.cfg.Management.Endpoint
		if endpoint == "" {
			endpoint = s.cfg.DefaultEndpoint
		}
		mgmt = &httpadapter.AuthContext{Endpoint: endpoint, APIKey: s.cfg.Management.APIKey, Scopes: s.cfg.Management.Scopes}
	}

	return executor.AuthResolver{
		PerProject:        perProject,
		Management:        mgmt,
		ManagementEnabled: s.cfg.Management != nil,
	}
}

func planSummary(plan planstore.Plan) string {
	return fmt.Sprintf("%d operation(s) across %d target(s), risk=%s", len(plan.Operations), len(plan.TargetProjects), plan.RiskLevel)
}

func applySummary(results []executor.TargetResult) string {
	succeeded := 0
	for _, r := range results {
		if r.Status == "SUCCESS" {
			succeeded++
		}
	}
	return fmt.Sprintf("%d/%d target(s) succeeded", succeeded, len(results))
}

func overallStatus(results []executor.TargetResult) string {
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Status == "SUCCESS" {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "SUCCESS"
	case succeeded == 0:
		return "FAILED"
	default:
		return "PARTIAL_SUCCESS"
	}
}

func toTargetResults(results []executor.TargetResult) []TargetResult {
	out := make([]TargetResult, len(results))
	for i, r := range results {
		opResults := make([]TargetOperationResult, len(r.Results))
		for j, or := range r.Results {
			opResults[j] = TargetOperationResult{
				OperationID: or.OperationID,
				Status:      or.Status,
				Data:        redact.Value(or.Data),
				Error:       or.Error,
			}
		}
		out[i] = TargetResult{ProjectID: r.ProjectID, Status: r.Status, Results: opResults}
	}
	return out
}

func toOperationDescriptors(descriptors []planstore.Descriptor) []OperationDescriptor {
	out := make([]OperationDescriptor, len(descriptors))
	for i, d := range descriptors {
		out[i] = OperationDescriptor{
			OperationID:    d.OperationID,
			Domain:         Domain(d.Domain),
			Action:         d.Action,
			Params:         d.Params,
			RequiredScopes: d.RequiredScopes,
			Destructive:    d.Destructive,
			Critical:       d.Critical,
			IdempotencyKey: d.IdempotencyKey,
		}
	}
	return out
}

func anyCritical(descriptors []planstore.Descriptor) bool {
	for _, d := range descriptors {
		if d.Critical {
			return true
		}
	}
	return false
}

func resolvedProjectIDs(resolved []target.Resolved) []string {
	out := make([]string, len(resolved))
	for i, r := range resolved {
		out[i] = r.ProjectID
	}
	return out
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func actionsIn(actions []string, prefix string) []string {
	out := make([]string, 0)
	for _, a := range actions {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			out = append(out, a)
		}
	}
	return out
}
