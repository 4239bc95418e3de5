package sla

import (
	"context"
	"fmt"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// RuleSource supplies the active rule set for a slice. Implementations are
// the YAML file source and the slice-manager HTTP client.
type RuleSource interface {
	RulesFor(ctx context.Context, sliceID string) ([]models.SlaRule, error)
}

// Invalidator is implemented by rule sources that cache lookups and accept
// explicit invalidation when a slice is updated.
type Invalidator interface {
	Invalidate(sliceID string)
}

// Evaluator maps a validated sample to zero or more violations. Evaluation
// is pure: it never mutates the sample, the store, or rule state. Every
// failing rule emits its own event; rules on the same metric do not
// short-circuit or deduplicate across severities.
type Evaluator struct {
	rules RuleSource
}

// NewEvaluator constructs an evaluator over the given rule source.
func NewEvaluator(rules RuleSource) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate returns the violations the sample triggers. A rule-source
// failure is returned so the coordinator can degrade to a zero-violation
// dispatch; it is never fatal for the sample.
func (e *Evaluator) Evaluate(ctx context.Context, sample models.MetricSample) ([]models.ViolationEvent, error) {
	if e == nil || e.rules == nil {
		return nil, nil
	}

	rules, err := e.rules.RulesFor(ctx, sample.SliceID)
	if err != nil {
		return nil, fmt.Errorf("rule lookup for slice %s: %w", sample.SliceID, err)
	}

	var events []models.ViolationEvent
	for _, rule := range rules {
		observed, ok := sample.Value(rule.Metric)
		if !ok {
			continue
		}
		if rule.Comparator.Breaches(observed, rule.Threshold) {
			events = append(events, models.NewViolationEvent(sample, rule, observed))
		}
	}
	return events, nil
}
