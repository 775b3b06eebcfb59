package core

import (
	"context"
	"fmt"
	"strings"

	"morphicutil/pkg/domain"
)

// RuleInput is the view handed to every rule.
type RuleInput struct {
	Action     domain.Action
	DatasetID  string
	Submission *domain.Submission
}

// Rule defines a check evaluated before any remote call.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in RuleInput) (domain.Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine(policy OrphanPolicy) *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(LineageIntegrityRule(policy))
	engine.Register(ModifyIdentifiersRule())
	return engine
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	out := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Name())
	}
	return out
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, in RuleInput) (domain.Result, error) {
	var combined domain.Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, in)
		if err != nil {
			return domain.Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}

// OrphanPolicy controls the severity of parents that no child references.
type OrphanPolicy string

// Orphan policies.
const (
	OrphanAdvisory OrphanPolicy = "advisory"
	OrphanStrict   OrphanPolicy = "strict"
)

// ParseOrphanPolicy accepts "advisory", "strict" or "" (advisory).
func ParseOrphanPolicy(raw string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OrphanAdvisory:
		return OrphanAdvisory, nil
	case OrphanStrict:
		return OrphanStrict, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q", raw)
	}
}

// Severity maps the policy to a violation severity.
func (p OrphanPolicy) Severity() domain.Severity {
	if p == OrphanStrict {
		return domain.SeverityBlock
	}
	return domain.SeverityWarn
}
