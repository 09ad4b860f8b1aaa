package tenantctl

// Requests and responses for the seven tool operations exposed by
// Service. These are the payload shapes a transport/framing layer
// (out of scope for this package) marshals to and from the wire.

// CapabilitiesResponse is capabilities.list's success payload.
type CapabilitiesResponse struct {
	CorrelationID string       `json:"correlation_id"`
	Summary       string       `json:"summary"`
	Capabilities  Capabilities `json:"capabilities"`
}

type Capabilities struct {
	Domains               DomainCapabilities `json:"domains"`
	TransportDefault      string             `json:"transport_default"`
	SupportedTransports   []string           `json:"supported_transports"`
	AutoTargetingEnabled  bool               `json:"auto_targeting_enabled"`
	ScopeCatalogVersion   string             `json:"scope_catalog_version"`
}

type DomainCapabilities struct {
	Project   []string `json:"project"`
	Database  []string `json:"database"`
	Auth      []string `json:"auth"`
	Function  []string `json:"function"`
	Operation []string `json:"operation"`
}

// ContextResponse is context.get's success payload.
type ContextResponse struct {
	CorrelationID        string   `json:"correlation_id"`
	Summary              string   `json:"summary"`
	KnownProjectIDs      []string `json:"known_project_ids"`
	AliasCount           int      `json:"alias_count"`
	AutoTargetProjectIDs []string `json:"auto_target_project_ids"`
	DefaultTargetSelector *TargetSelector `json:"default_target_selector,omitempty"`
}

// TargetsResolveRequest is targets.resolve's input.
type TargetsResolveRequest struct {
	Targets        []TargetInput   `json:"targets,omitempty"`
	TargetSelector *TargetSelector `json:"target_selector,omitempty"`
}

// TargetsResolveResponse is targets.resolve's success payload.
type TargetsResolveResponse struct {
	CorrelationID   string           `json:"correlation_id"`
	Summary         string           `json:"summary"`
	ResolvedTargets []ResolvedTarget `json:"resolved_targets"`
	Source          TargetSource     `json:"source"`
}

// ScopesCatalogResponse is scopes.catalog.get's success payload.
type ScopesCatalogResponse struct {
	CorrelationID string                          `json:"correlation_id"`
	Summary       string                          `json:"summary"`
	CatalogVersion string                         `json:"catalog_version"`
	Actions       map[string]CatalogActionEntry   `json:"actions"`
}

type CatalogActionEntry struct {
	RequiredScopes []string `json:"required_scopes"`
}

// ChangeRequest is the shared shape of changes.preview and
// changes.apply's targeting/operations fields.
type ChangeRequest struct {
	Actor          string          `json:"actor"`
	Targets        []TargetInput   `json:"targets,omitempty"`
	TargetSelector *TargetSelector `json:"target_selector,omitempty"`
	Operations     []Operation     `json:"operations"`
	Transport      string          `json:"transport,omitempty"`
	Credentials    map[string]any  `json:"credentials,omitempty"`
}

// PreviewRequest is changes.preview's input.
type PreviewRequest struct {
	ChangeRequest
}

// PreviewResponse is changes.preview's success payload.
type PreviewResponse struct {
	CorrelationID    string                `json:"correlation_id"`
	Summary          string                `json:"summary"`
	PlanID           string                `json:"plan_id"`
	PlanHash         string                `json:"plan_hash"`
	TargetProjects   []string              `json:"target_projects"`
	Operations       []OperationDescriptor `json:"operations"`
	RequiredScopes   []string              `json:"required_scopes"`
	DestructiveCount int                   `json:"destructive_count"`
	RiskLevel        RiskLevel             `json:"risk_level"`
	ExpiresAt        string                `json:"expires_at"`
}

// ApplyRequest is changes.apply's input.
type ApplyRequest struct {
	ChangeRequest
	PlanID             string `json:"plan_id"`
	PlanHash           string `json:"plan_hash"`
	ConfirmationToken  string `json:"confirmation_token,omitempty"`
}

// ApplyResponse is changes.apply's success payload.
type ApplyResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Summary       string         `json:"summary"`
	Status        string         `json:"status"` // SUCCESS | PARTIAL_SUCCESS | FAILED
	TargetResults []TargetResult `json:"target_results"`
}

// ConfirmIssueRequest is confirm.issue's input.
type ConfirmIssueRequest struct {
	PlanHash   string `json:"plan_hash"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// ConfirmIssueResponse is confirm.issue's success payload.
type ConfirmIssueResponse struct {
	CorrelationID string `json:"correlation_id"`
	Summary       string `json:"summary"`
	Token         string `json:"token"`
	ExpiresAt     string `json:"expires_at"`
}

// MutationErrorResponse is the shared failure shape for every tool
// operation.
type MutationErrorResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Status        string         `json:"status"` // always "FAILED"
	Summary       string         `json:"summary"`
	Error         *StandardError `json:"error"`
}
