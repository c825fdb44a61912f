package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{Tool: "search"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect)
	assert.Empty(t, res.Rule)

	engine.DenyTool("shell")
	res, err = engine.Evaluate(ctx, Request{Tool: "shell"})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)
	assert.Equal(t, "deny_tool:shell", res.Rule)
}

func TestDefaultPolicyEngine_AdminOnly(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	engine.RequireAdmin("shell")
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{Tool: "shell", Arguments: `{"command":"uptime"}`})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect, "non-admin")

	res, err = engine.Evaluate(ctx, Request{Tool: "shell", Arguments: `{"command":"uptime"}`, Admin: true})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect, res.Reason)
}

func TestDefaultPolicyEngine_DenyArguments(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	require.NoError(t, engine.DenyArguments(`rm\s+-rf`))
	assert.Error(t, engine.DenyArguments(`(`))

	res, _ := engine.Evaluate(context.Background(), Request{Tool: "shell", Arguments: `{"command":"rm -rf /"}`, Admin: true})
	assert.Equal(t, EffectDeny, res.Effect, "admins are still bound by argument rules")
}

func TestDefaultPolicyEngine_ToolScopedArguments(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	require.NoError(t, engine.DenyToolArguments("filesystem", `"command":"delete"`))
	ctx := context.Background()

	res, _ := engine.Evaluate(ctx, Request{Tool: "filesystem", Arguments: `{"command":"delete","filename":"a"}`})
	assert.Equal(t, EffectDeny, res.Effect)

	res, _ = engine.Evaluate(ctx, Request{Tool: "cron", Arguments: `{"command":"delete"}`})
	assert.Equal(t, EffectAllow, res.Effect, "pattern is scoped to filesystem")
}

func TestNewPolicyEngine_FromRules(t *testing.T) {
	engine, err := NewPolicyEngine(Rules{
		DenyTools:     []string{"browser"},
		AdminTools:    []string{"shell"},
		DenyPatterns:  []string{`mkfs`},
		ToolArguments: map[string][]string{"filesystem": {`\.\./`}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, engine.Len())
	ctx := context.Background()

	res, _ := engine.Evaluate(ctx, Request{Tool: "browser", Admin: true})
	assert.Equal(t, "deny_tool:browser", res.Rule)

	res, _ = engine.Evaluate(ctx, Request{Tool: "shell", Arguments: "mkfs /dev/sda"})
	assert.Equal(t, "admin_tool:shell", res.Rule, "admin gating is checked before patterns")

	res, _ = engine.Evaluate(ctx, Request{Tool: "shell", Arguments: "mkfs /dev/sda", Admin: true})
	assert.Equal(t, "deny_pattern:mkfs", res.Rule)

	_, err = NewPolicyEngine(Rules{ToolArguments: map[string][]string{"x": {"["}}})
	assert.Error(t, err)
}

func TestDefaultPolicyEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDefaultPolicyEngine().Evaluate(ctx, Request{Tool: "search"})
	assert.ErrorIs(t, err, context.Canceled)
}
