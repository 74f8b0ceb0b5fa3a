// Package policy decides which chat types a caller may use.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the document the policy is evaluated against.
type Input struct {
	Owner    string `json:"owner"`
	ChatType string `json:"chat_type"`
	Action   string `json:"action"`
}

// Decision is the policy outcome.
type Decision struct {
	Allow  bool
	Reason string
}

// NewEngine prepares policyContent, which must define data.chat_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy.decision"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate runs the policy. The rule may yield "allow", "deny" or an object
// {"decision": ..., "reason": ...}. No result denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "no decision"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Allow: v == "allow"}, nil
	case map[string]any:
		d, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		return Decision{Allow: d == "allow", Reason: reason}, nil
	}
	return Decision{Reason: "unexpected policy result"}, nil
}

// DefaultPolicy allows the known chat types and denies everything else.
const DefaultPolicy = `
package chat_policy

known_types := {"general", "faq", "admissions", "self_analysis", "study_support"}

default decision = {"decision": "deny", "reason": "unknown chat type"}

decision = {"decision": "allow"} {
	known_types[input.chat_type]
}
`
