package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rahul/switchboard/internal/governance"
	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/internal/plan"
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrPolicyDenied = errors.New("tool call denied by policy")
)

// Tool defines the interface for all agent capabilities.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (string, error)
}

// TextAdapter is implemented by tools that can build their JSON arguments
// from a plain-text step action.
type TextAdapter interface {
	ArgsFromText(text string) (string, error)
}

type ctxKey string

const chatIDKey ctxKey = "chatID"

// WithChatID attaches the calling chat to ctx.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey, chatID)
}

func ChatIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(chatIDKey).(string)
	return id
}

// Registry manages the set of available tools and invokes them under the
// governance policy.
type Registry struct {
	Tools map[string]Tool

	Policy governance.PolicyEngine
	// IsAdmin reports whether a chat may use admin-only tools.
	IsAdmin func(chatID string) bool
	// Timeout bounds each Execute call. Zero means no limit.
	Timeout time.Duration
	Logger  *observability.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		Tools:  make(map[string]Tool),
		Logger: observability.NewNopLogger(),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe lists the tools one per line for prompts.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.Names() {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.Tools[name].Description())
	}
	return b.String()
}

// Invoke runs a tool for a plan step. Plain-text input is converted to
// arguments for tools implementing TextAdapter.
func (r *Registry) Invoke(ctx context.Context, toolID, input string, p *plan.Plan) (string, error) {
	t := r.Get(toolID)
	if t == nil {
		return "", fmt.Errorf("%w: %s (available: %s)", ErrToolNotFound, toolID, strings.Join(r.Names(), ", "))
	}

	args, err := arguments(t, input)
	if err != nil {
		return "", fmt.Errorf("invalid input for %s: %w", toolID, err)
	}

	chatID := ChatIDFrom(ctx)
	if r.Policy != nil {
		admin := p != nil && p.AdminAccessNeeded && r.IsAdmin != nil && r.IsAdmin(chatID)
		res, err := r.Policy.Evaluate(ctx, governance.Request{Tool: toolID, Arguments: args, ChatID: chatID, Admin: admin})
		if err != nil {
			return "", fmt.Errorf("policy evaluation failed: %w", err)
		}
		r.Logger.LogPolicy(chatID, toolID, string(res.Effect), res.Reason)
		if res.Effect == governance.EffectDeny {
			return "", fmt.Errorf("%w: %s", ErrPolicyDenied, res.Reason)
		}
	}

	r.Logger.LogToolCall(chatID, toolID, args)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return t.Execute(ctx, args)
}

func arguments(t Tool, input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	if a, ok := t.(TextAdapter); ok {
		return a.ArgsFromText(trimmed)
	}
	return "", errors.New("tool expects JSON arguments")
}

// jsonArgs marshals a flat argument object.
func jsonArgs(kv map[string]any) (string, error) {
	b, err := json.Marshal(kv)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
