package governance

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes one tool call about to run.
type Request struct {
	Tool      string
	Arguments string
	ChatID    string
	// Admin is true when the plan asked for admin access and the caller is
	// a configured admin.
	Admin bool
}

// Result contains the outcome of a policy evaluation. Rule names the rule
// that denied the call and is empty on allow.
type Result struct {
	Effect Effect
	Reason string
	Rule   string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Rules is the declarative form of a policy, as read from config.
type Rules struct {
	DenyTools     []string
	AdminTools    []string
	DenyPatterns  []string
	ToolArguments map[string][]string
}

// rule returns a non-empty reason when it denies req.
type rule struct {
	name  string
	check func(req Request) string
}

// DefaultPolicyEngine checks rules in the order they were added; the
// first denial wins.
type DefaultPolicyEngine struct {
	rules []rule
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{}
}

// NewPolicyEngine builds an engine from declarative rules. Tool bans come
// first, then admin gating, then argument patterns.
func NewPolicyEngine(r Rules) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, name := range r.DenyTools {
		e.DenyTool(name)
	}
	for _, name := range r.AdminTools {
		e.RequireAdmin(name)
	}
	for _, pattern := range r.DenyPatterns {
		if err := e.DenyArguments(pattern); err != nil {
			return nil, err
		}
	}
	tools := make([]string, 0, len(r.ToolArguments))
	for tool := range r.ToolArguments {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		for _, pattern := range r.ToolArguments[tool] {
			if err := e.DenyToolArguments(tool, pattern); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.rules = append(e.rules, rule{
		name: "deny_tool:" + name,
		check: func(req Request) string {
			if req.Tool == name {
				return fmt.Sprintf("Tool '%s' is restricted by system policy", name)
			}
			return ""
		},
	})
}

// RequireAdmin restricts a tool to admin requests.
func (e *DefaultPolicyEngine) RequireAdmin(name string) {
	e.rules = append(e.rules, rule{
		name: "admin_tool:" + name,
		check: func(req Request) string {
			if req.Tool == name && !req.Admin {
				return fmt.Sprintf("Tool '%s' requires admin access", name)
			}
			return ""
		},
	})
}

// DenyArguments denies any call whose arguments match pattern. Admins are
// bound by it too.
func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	return e.DenyToolArguments("", pattern)
}

// DenyToolArguments is DenyArguments scoped to one tool. An empty tool
// applies the pattern to every tool.
func (e *DefaultPolicyEngine) DenyToolArguments(tool, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("policy pattern %q: %w", pattern, err)
	}
	name := "deny_pattern:" + pattern
	if tool != "" {
		name = "deny_pattern:" + tool + ":" + pattern
	}
	e.rules = append(e.rules, rule{
		name: name,
		check: func(req Request) string {
			if tool != "" && req.Tool != tool {
				return ""
			}
			if re.MatchString(req.Arguments) {
				return fmt.Sprintf("Arguments match restricted pattern: %s", re.String())
			}
			return ""
		},
	})
	return nil
}

// Len reports how many rules are installed.
func (e *DefaultPolicyEngine) Len() int { return len(e.rules) }

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	for _, r := range e.rules {
		if reason := r.check(req); reason != "" {
			return Result{Effect: EffectDeny, Reason: reason, Rule: r.name}, nil
		}
	}
	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
