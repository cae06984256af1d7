// Package governance implements the rule evaluation engine that gates
// every ledger append. A GovernancePolicy is a versioned, ordered list
// of rules; Evaluate walks them in declared order and returns the first
// rule whose action and conditions match, applying its
// actor/signer/approval constraints, falling through to the policy's
// DefaultDecision when nothing matches. The tool-vs-event default split
// is data the policy carries (DefaultDecision), not logic baked into
// the engine.
package governance

import (
	"fmt"
	"strings"

	"github.com/kuibu/transparent-company/pkg/canonical"
	"github.com/kuibu/transparent-company/pkg/signer"
)

// ConditionOp enumerates the dotted-path comparison operators a rule
// condition may use.
type ConditionOp string

const (
	OpEq       ConditionOp = "eq"
	OpNe       ConditionOp = "ne"
	OpGt       ConditionOp = "gt"
	OpGte      ConditionOp = "gte"
	OpLt       ConditionOp = "lt"
	OpLte      ConditionOp = "lte"
	OpIn       ConditionOp = "in"
	OpContains ConditionOp = "contains"
	OpExists   ConditionOp = "exists"
)

// RuleCondition tests one dotted path in the evaluation context.
type RuleCondition struct {
	Field string      `yaml:"field" json:"field"`
	Op    ConditionOp `yaml:"op" json:"op"`
	Value any         `yaml:"value,omitempty" json:"value,omitempty"`
}

// GovernanceRule binds an action string ("event:<Kind>" or
// "tool:<connector>.<action>") to the constraints that must hold for the
// action to proceed.
type GovernanceRule struct {
	RuleID             string        `yaml:"rule_id" json:"rule_id"`
	Action             string        `yaml:"action" json:"action"`
	Description        string        `yaml:"description" json:"description"`
	Conditions         []RuleCondition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	RequiredActorTypes []signer.ActorType `yaml:"required_actor_types,omitempty" json:"required_actor_types,omitempty"`
	RequiredSigner     string        `yaml:"required_signer" json:"required_signer"` // agent|human|auditor|any
	ApprovalChain      []signer.Role `yaml:"approval_chain,omitempty" json:"approval_chain,omitempty"`
}

// Decision is the coarse allow/deny outcome applied when no rule matches.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// DefaultDecision names the fallback decision separately for tool:* and
// event:* actions, so that split is data the policy carries rather than
// logic baked into the engine.
type DefaultDecision struct {
	ToolDefault  Decision `yaml:"tool_default" json:"tool_default"`
	EventDefault Decision `yaml:"event_default" json:"event_default"`
}

// resolve picks ToolDefault or EventDefault by the action's prefix.
func (d DefaultDecision) resolve(action string) Decision {
	if strings.HasPrefix(action, "tool:") {
		if d.ToolDefault == "" {
			return DecisionDeny
		}
		return d.ToolDefault
	}
	if d.EventDefault == "" {
		return DecisionAllow
	}
	return d.EventDefault
}

// GovernancePolicy is the process-global, versioned rule set. It is only
// ever reloaded as a whole, never patched in place.
type GovernancePolicy struct {
	PolicyID string           `yaml:"policy_id" json:"policy_id"`
	Version  string           `yaml:"version" json:"version"`
	Rules    []GovernanceRule `yaml:"rules" json:"rules"`
	Default  DefaultDecision  `yaml:"default_decision" json:"default_decision"`
}

// DefaultPolicy is the built-in rule set: large procurement orders and a
// handful of named high-risk tool actions require a human signer;
// everything else falls through to the default decision (deny for
// tool:*, allow for event:*).
func DefaultPolicy() *GovernancePolicy {
	return &GovernancePolicy{
		PolicyID: "governance_policy_v1",
		Version:  "1.0.0",
		Default: DefaultDecision{
			ToolDefault:  DecisionDeny,
			EventDefault: DecisionAllow,
		},
		Rules: []GovernanceRule{
			{
				RuleID:      "procurement_gt_5000_human",
				Action:      "event:ProcurementOrdered",
				Description: "Single procurement above $5000 requires human signature",
				Conditions: []RuleCondition{
					{Field: "derived.procurement_total_cents", Op: OpGt, Value: 500_000},
				},
				RequiredActorTypes: []signer.ActorType{signer.ActorHuman},
				RequiredSigner:     "human",
				ApprovalChain:      []signer.Role{signer.RoleHuman},
			},
			{
				RuleID:             "bank_transfer_human_only",
				Action:             "tool:payment.bank_transfer",
				Description:        "High-risk bank transfer requires human signature",
				RequiredActorTypes: []signer.ActorType{signer.ActorHuman},
				RequiredSigner:     "human",
				ApprovalChain:      []signer.Role{signer.RoleHuman},
			},
			{
				RuleID:             "tax_submit_human_only",
				Action:             "tool:tax.submit_final",
				Description:        "Final tax submission requires human signature",
				RequiredActorTypes: []signer.ActorType{signer.ActorHuman},
				RequiredSigner:     "human",
				ApprovalChain:      []signer.Role{signer.RoleHuman},
			},
			{
				RuleID:             "major_contract_human_only",
				Action:             "tool:esign.sign_contract_final",
				Description:        "Major contract final signature requires human",
				RequiredActorTypes: []signer.ActorType{signer.ActorHuman},
				RequiredSigner:     "human",
				ApprovalChain:      []signer.Role{signer.RoleHuman},
			},
		},
	}
}

func (p *GovernancePolicy) toCanonical() canonical.Map {
	rules := make(canonical.List, len(p.Rules))
	for i, r := range p.Rules {
		conds := make(canonical.List, len(r.Conditions))
		for j, c := range r.Conditions {
			conds[j] = canonical.Map{"field": c.Field, "op": string(c.Op), "value": c.Value}
		}
		actorTypes := make(canonical.List, len(r.RequiredActorTypes))
		for j, a := range r.RequiredActorTypes {
			actorTypes[j] = string(a)
		}
		chain := make(canonical.List, len(r.ApprovalChain))
		for j, role := range r.ApprovalChain {
			chain[j] = string(role)
		}
		rules[i] = canonical.Map{
			"rule_id":              r.RuleID,
			"action":               r.Action,
			"description":          r.Description,
			"conditions":           conds,
			"required_actor_types": actorTypes,
			"required_signer":      r.RequiredSigner,
			"approval_chain":       chain,
		}
	}
	return canonical.Map{
		"policy_id": p.PolicyID,
		"version":   p.Version,
		"rules":     rules,
		"default_decision": canonical.Map{
			"tool_default":  string(p.Default.ToolDefault),
			"event_default": string(p.Default.EventDefault),
		},
	}
}

// Hash returns H(canonical(policy)), the value published as policy_hash.
func (p *GovernancePolicy) Hash() (string, error) {
	return canonical.Hash(p.toCanonical())
}

// GovernanceDecision is the outcome of evaluating one action request.
type GovernanceDecision struct {
	Allowed       bool
	PolicyID      string
	PolicyVersion string
	PolicyHash    string
	Action        string
	MatchedRuleID string // "" when no rule matched
	Reason        string
}

// ToAuditMap renders the decision for embedding in an event's
// tool_trace.governance field.
func (d GovernanceDecision) ToAuditMap() canonical.Map {
	var matched any
	if d.MatchedRuleID != "" {
		matched = d.MatchedRuleID
	}
	return canonical.Map{
		"allowed":         d.Allowed,
		"policy_id":       d.PolicyID,
		"policy_version":  d.PolicyVersion,
		"policy_hash":     d.PolicyHash,
		"action":          d.Action,
		"matched_rule_id": matched,
		"reason":          d.Reason,
	}
}

// Engine evaluates action requests against one loaded, hashed policy.
type Engine struct {
	policy     *GovernancePolicy
	policyHash string
}

// NewEngine builds an Engine over policy, pre-computing its hash. A nil
// policy falls back to DefaultPolicy().
func NewEngine(policy *GovernancePolicy) (*Engine, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	h, err := policy.Hash()
	if err != nil {
		return nil, fmt.Errorf("governance: hashing policy: %w", err)
	}
	return &Engine{policy: policy, policyHash: h}, nil
}

// PolicyManifest returns the policy document plus its policy_hash, the
// body served by GET /governance/policy.
func (e *Engine) PolicyManifest() canonical.Map {
	m := e.policy.toCanonical()
	m["policy_hash"] = e.policyHash
	return m
}

func getPath(data canonical.Map, path string) any {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(canonical.Map)
		if !ok {
			return nil
		}
		v, ok := m[part]
		if !ok {
			return nil
		}
		current = v
	}
	return current
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		return 0, false
	}
}

func matches(cond RuleCondition, context canonical.Map) bool {
	left := getPath(context, cond.Field)
	right := cond.Value

	switch cond.Op {
	case OpExists:
		return left != nil
	case OpEq:
		return equalValue(left, right)
	case OpNe:
		return !equalValue(left, right)
	case OpGt, OpGte, OpLt, OpLte:
		lf, lok := asFloat(left)
		rf, rok := asFloat(right)
		if !lok || !rok {
			return false
		}
		switch cond.Op {
		case OpGt:
			return lf > rf
		case OpGte:
			return lf >= rf
		case OpLt:
			return lf < rf
		default:
			return lf <= rf
		}
	case OpIn:
		list, ok := right.(canonical.List)
		if !ok {
			if l2, ok2 := right.([]any); ok2 {
				list = canonical.List(l2)
			} else {
				return false
			}
		}
		for _, item := range list {
			if equalValue(item, left) {
				return true
			}
		}
		return false
	case OpContains:
		list, ok := left.(canonical.List)
		if !ok {
			if l2, ok2 := left.([]any); ok2 {
				list = canonical.List(l2)
			} else {
				return false
			}
		}
		for _, item := range list {
			if equalValue(item, right) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func equalValue(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func deriveValues(action string, payload canonical.Map) canonical.Map {
	derived := canonical.Map{}

	if action == "event:ProcurementOrdered" {
		total := int64(0)
		if items, ok := payload["items"].(canonical.List); ok {
			for _, raw := range items {
				item, ok := raw.(canonical.Map)
				if !ok {
					continue
				}
				qty, _ := asFloat(item["qty"])
				unitCost, _ := asFloat(item["unit_cost"])
				total += int64(qty) * int64(unitCost)
			}
		}
		derived["procurement_total_cents"] = total
	}

	if amount, ok := payload["amount"]; ok {
		if f, ok := asFloat(amount); ok {
			derived["amount_cents"] = int64(f)
		}
	}

	return derived
}

// Evaluate runs action through the policy's rules in declared order and
// returns the first matching decision, or the policy default when none
// match.
func (e *Engine) Evaluate(
	action string,
	actorType signer.ActorType,
	signerRole signer.Role,
	payload canonical.Map,
	toolTrace canonical.Map,
	approvals []string,
) GovernanceDecision {
	if payload == nil {
		payload = canonical.Map{}
	}
	if toolTrace == nil {
		toolTrace = canonical.Map{}
	}

	effective := map[string]struct{}{string(signerRole): {}}
	for _, a := range approvals {
		effective[a] = struct{}{}
	}
	switch actorType {
	case signer.ActorAgent, signer.ActorHuman, signer.ActorAuditor:
		effective[string(actorType)] = struct{}{}
	}
	approvalList := make(canonical.List, 0, len(effective))
	for a := range effective {
		approvalList = append(approvalList, a)
	}

	context := canonical.Map{
		"action":      action,
		"actor_type":  string(actorType),
		"signer_role": string(signerRole),
		"payload":     payload,
		"tool_trace":  toolTrace,
		"approvals":   approvalList,
		"derived":     deriveValues(action, payload),
	}

	for _, rule := range e.policy.Rules {
		if rule.Action != action {
			continue
		}
		allMatch := true
		for _, cond := range rule.Conditions {
			if !matches(cond, context) {
				allMatch = false
				break
			}
		}
		if !allMatch {
			continue
		}

		if len(rule.RequiredActorTypes) > 0 && !containsActor(rule.RequiredActorTypes, actorType) {
			return e.deny(action, rule.RuleID, fmt.Sprintf("actor_type=%s not allowed by rule=%s", actorType, rule.RuleID))
		}

		if rule.RequiredSigner != "" && rule.RequiredSigner != "any" && string(signerRole) != rule.RequiredSigner {
			return e.deny(action, rule.RuleID, fmt.Sprintf("signer_role=%s must be %s", signerRole, rule.RequiredSigner))
		}

		var missing []string
		for _, role := range rule.ApprovalChain {
			if _, ok := effective[string(role)]; !ok {
				missing = append(missing, string(role))
			}
		}
		if len(missing) > 0 {
			return e.deny(action, rule.RuleID, fmt.Sprintf("missing approvals: %v", missing))
		}

		return GovernanceDecision{
			Allowed:       true,
			PolicyID:      e.policy.PolicyID,
			PolicyVersion: e.policy.Version,
			PolicyHash:    e.policyHash,
			Action:        action,
			MatchedRuleID: rule.RuleID,
			Reason:        "allowed by matched rule",
		}
	}

	def := e.policy.Default.resolve(action)
	return GovernanceDecision{
		Allowed:       def == DecisionAllow,
		PolicyID:      e.policy.PolicyID,
		PolicyVersion: e.policy.Version,
		PolicyHash:    e.policyHash,
		Action:        action,
		MatchedRuleID: "",
		Reason:        fmt.Sprintf("no matched rule, default_decision=%s", def),
	}
}

func (e *Engine) deny(action, ruleID, reason string) GovernanceDecision {
	return GovernanceDecision{
		Allowed:       false,
		PolicyID:      e.policy.PolicyID,
		PolicyVersion: e.policy.Version,
		PolicyHash:    e.policyHash,
		Action:        action,
		MatchedRuleID: ruleID,
		Reason:        reason,
	}
}

func containsActor(list []signer.ActorType, target signer.ActorType) bool {
	for _, a := range list {
		if a == target {
			return true
		}
	}
	return false
}
