// Package target resolves a request's targets (explicit project ids or
// aliases, a selector, or configured auto-targets) to an ordered,
// deduplicated list of project ids. Resolution is a small ordered rule
// chain: explicit targets, then selector, then auto, first match wins.
package target

import (
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/opal-lang/tenantctl/internal/controlerr"
)

// Mode mirrors tenantctl.TargetSelectorMode without importing the root
// package (which itself will import this one).
type Mode string

const (
	ModeProjectID Mode = "project_id"
	ModeAlias     Mode = "alias"
	ModeAuto      Mode = "auto"
)

// Source mirrors tenantctl.TargetSource.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceSelector Source = "selector"
	SourceAuto     Source = "auto"
)

// Input is one client-supplied target entry.
type Input struct {
	ProjectID string
	Alias     string
}

// Selector picks a resolution mode and its raw values.
type Selector struct {
	Mode   Mode
	Values []string
}

// Config is the immutable-after-startup state the resolver consults.
type Config struct {
	AliasMap              map[string]string
	KnownProjectIDs       []string
	AutoTargetProjectIDs  []string
	DefaultSelector       *Selector
}

// Resolved is one fully resolved target.
type Resolved struct {
	Index     int
	Source    Source
	ProjectID string
}

// Resolve applies targets in order: explicit targets first, then an
// effective selector (request-supplied or configured default), then the
// auto rule as a last resort.
func Resolve(cfg Config, targets []Input, selector *Selector) ([]Resolved, Source, error) {
	if len(targets) > 0 {
		out, err := resolveExplicit(cfg, targets)
		return out, SourceExplicit, err
	}

	effective := selector
	if effective == nil {
		effective = cfg.DefaultSelector
	}
	if effective != nil {
		out, err := resolveSelector(cfg, *effective)
		return out, SourceSelector, err
	}

	out, err := resolveAuto(cfg)
	return out, SourceAuto, err
}

func resolveExplicit(cfg Config, targets []Input) ([]Resolved, error) {
	out := make([]Resolved, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		var projectID string
		switch {
		case t.ProjectID != "":
			projectID = t.ProjectID
		case t.Alias != "":
			resolved, ok := cfg.AliasMap[t.Alias]
			if !ok {
				return nil, notFound(t.Alias, cfg)
			}
			projectID = resolved
		default:
			return nil, notFound("", cfg)
		}
		if seen[projectID] {
			continue
		}
		seen[projectID] = true
		out = append(out, Resolved{Index: len(out), Source: SourceExplicit, ProjectID: projectID})
	}
	return out, nil
}

func resolveSelector(cfg Config, sel Selector) ([]Resolved, error) {
	switch sel.Mode {
	case ModeProjectID:
		return filterKnown(cfg, sel.Values, SourceSelector)
	case ModeAlias:
		return filterAlias(cfg, sel.Values, SourceSelector)
	case ModeAuto:
		return resolveAuto(cfg)
	default:
		return nil, controlerr.New(controlerr.CodeTargetNotFound, "unrecognized target selector mode %q", sel.Mode)
	}
}

func filterKnown(cfg Config, values []string, source Source) ([]Resolved, error) {
	known := make(map[string]bool, len(cfg.KnownProjectIDs))
	for _, id := range cfg.KnownProjectIDs {
		known[id] = true
	}
	out := make([]Resolved, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if !known[v] || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, Resolved{Index: len(out), Source: source, ProjectID: v})
	}
	if len(out) == 0 {
		return nil, notFound(values0(values), cfg)
	}
	return out, nil
}

func filterAlias(cfg Config, values []string, source Source) ([]Resolved, error) {
	out := make([]Resolved, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		id, ok := cfg.AliasMap[v]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Resolved{Index: len(out), Source: source, ProjectID: id})
	}
	if len(out) == 0 {
		return nil, notFound(values0(values), cfg)
	}
	return out, nil
}

func resolveAuto(cfg Config) ([]Resolved, error) {
	if len(cfg.AutoTargetProjectIDs) > 0 {
		out := make([]Resolved, 0, len(cfg.AutoTargetProjectIDs))
		seen := make(map[string]bool, len(cfg.AutoTargetProjectIDs))
		for _, id := range cfg.AutoTargetProjectIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, Resolved{Index: len(out), Source: SourceAuto, ProjectID: id})
		}
		return out, nil
	}
	if len(cfg.KnownProjectIDs) == 1 {
		return []Resolved{{Index: 0, Source: SourceAuto, ProjectID: cfg.KnownProjectIDs[0]}}, nil
	}
	return nil, ambiguous(cfg)
}

func values0(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// notFound builds TARGET_NOT_FOUND with a fuzzy-matched remediation hint
// against every known project id and alias, when one is close enough to
// be worth suggesting.
func notFound(attempted string, cfg Config) error {
	err := controlerr.New(controlerr.CodeTargetNotFound, "target %q could not be resolved", attempted)
	if hint := closestKnown(attempted, cfg); hint != "" {
		err = err.WithRemediation("did you mean \"" + hint + "\"?")
	}
	return err
}

func ambiguous(cfg Config) error {
	return controlerr.New(controlerr.CodeTargetAmbiguous, "no targets, selector, or usable auto-target configured").
		WithRemediation("specify targets[] or target_selector explicitly")
}

// closestKnown returns the best fuzzy match for attempted among known
// project ids and aliases, or "" if attempted is empty or nothing is
// close.
func closestKnown(attempted string, cfg Config) string {
	if attempted == "" {
		return ""
	}
	candidates := make([]string, 0, len(cfg.KnownProjectIDs)+len(cfg.AliasMap))
	candidates = append(candidates, cfg.KnownProjectIDs...)
	for alias := range cfg.AliasMap {
		candidates = append(candidates, alias)
	}
	ranked := fuzzy.RankFindNormalizedFold(attempted, candidates)
	if len(ranked) == 0 {
		return ""
	}
	best := ranked[0]
	for _, r := range ranked {
		if r.Distance < best.Distance {
			best = r
		}
	}
	return best.Target
}
