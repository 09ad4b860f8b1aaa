package tenantctl

import (
	"sort"
	"time"
)

// ProjectConfig is the per-project entry an external loader populates
// from the configuration file's "projects" map.
type ProjectConfig struct {
	APIKey         string   `json:"api_key"`
	Scopes         []string `json:"scopes,omitempty"`
	Endpoint       string   `json:"endpoint,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	DefaultForAuto bool     `json:"default_for_auto,omitempty"`
	DisplayName    string   `json:"display_name,omitempty"`
}

// ManagementConfig carries the auth context substituted for any
// operation whose action is in the project.* namespace.
type ManagementConfig struct {
	Endpoint  string   `json:"endpoint,omitempty"`
	APIKey    string   `json:"api_key"`
	Scopes    []string `json:"scopes,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

// Defaults carries the configuration file's optional "defaults" block.
type Defaults struct {
	AutoTargetProjectIDs []string        `json:"auto_target_project_ids,omitempty"`
	TargetSelector       *TargetSelector `json:"target_selector,omitempty"`
}

// Config is the fully parsed, validated shape an external loader must
// populate before constructing a Service. The loader itself (file
// discovery, JSON parsing, schema validation, startup-time error
// messages) is not part of this package; only the shape it must fill in
// is.
type Config struct {
	DefaultEndpoint string
	Projects        map[string]ProjectConfig
	Defaults        Defaults
	Management      *ManagementConfig

	// PlanTTL is how long a built plan remains valid for apply. Spec
	// default range is 600-900s; NewService defaults to 900s if zero.
	PlanTTL time.Duration

	// ConfirmationSecret is the process secret used to HMAC-sign
	// confirmation tokens. A production Service must reject a
	// default/sentinel value; see confirm.NewService.
	ConfirmationSecret []byte

	// Production gates the default-secret rejection in the
	// confirmation token service; set true outside local development.
	Production bool

	// AdapterTimeout, AdapterMaxRetries, AdapterRetryBase, and
	// AdapterRetryMax configure the HTTP adapter's execution loop.
	// Zero values fall back to the adapter's own defaults at
	// construction.
	AdapterTimeout    time.Duration
	AdapterMaxRetries int
	AdapterRetryBase  time.Duration
	AdapterRetryMax   time.Duration

	// SupportedTransports and TransportDefault feed capabilities.list.
	SupportedTransports []string
	TransportDefault    string
}

// aliasMap builds the alias → project_id lookup from Projects.
func (c Config) aliasMap() map[string]string {
	out := make(map[string]string)
	for id, p := range c.Projects {
		for _, alias := range p.Aliases {
			out[alias] = id
		}
	}
	return out
}

// knownProjectIDs returns every configured project id.
func (c Config) knownProjectIDs() []string {
	out := make([]string, 0, len(c.Projects))
	for id := range c.Projects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// autoTargetProjectIDs returns the configured auto targets, falling back
// to projects marked default_for_auto when Defaults doesn't name any.
func (c Config) autoTargetProjectIDs() []string {
	if len(c.Defaults.AutoTargetProjectIDs) > 0 {
		return c.Defaults.AutoTargetProjectIDs
	}
	out := make([]string, 0)
	for id, p := range c.Projects {
		if p.DefaultForAuto {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
