package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/switchboard/internal/capability"
	"github.com/rahul/switchboard/internal/plan"
)

type recordingOracle struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (o *recordingOracle) Respond(ctx context.Context, prompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, prompt)
	if o.err != nil {
		return "", o.err
	}
	line := strings.SplitN(strings.SplitN(prompt, "Step: ", 2)[1], "\n", 2)[0]
	return "done: " + line, nil
}

type fakeTools struct {
	calls []string
	err   error
}

func (f *fakeTools) Invoke(ctx context.Context, toolID, input string, p *plan.Plan) (string, error) {
	f.calls = append(f.calls, toolID+":"+input)
	if f.err != nil {
		return "", f.err
	}
	return "tool output for " + input, nil
}

type fakeVision struct{ gotURL, gotInstruction string }

func (v *fakeVision) DescribeImage(ctx context.Context, url, instruction string) (string, error) {
	v.gotURL, v.gotInstruction = url, instruction
	return "a cat on a sofa", nil
}

type opaqueHandle struct{}

func newManager(handles map[capability.ID]capability.Handle, failures map[capability.ID]error) *capability.Manager {
	f := capability.FactoryFunc(func(ctx context.Context, id capability.ID) (capability.Handle, error) {
		if err := failures[id]; err != nil {
			return nil, err
		}
		if h, ok := handles[id]; ok {
			return h, nil
		}
		return opaqueHandle{}, nil
	})
	return capability.NewManager(f, capability.Options{AlwaysResident: []capability.ID{capability.Text}})
}

func textStep(id int, action string, deps ...int) plan.Step {
	return plan.Step{ID: id, Action: action, Capability: capability.Text, DependsOn: deps}
}

func stepIDs(rec Record) []int {
	var out []int
	for _, s := range rec.Steps {
		out = append(out, s.StepID)
	}
	return out
}

func TestExecute_DeterministicOrder(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		textStep(3, "third", 1),
		textStep(1, "first"),
		textStep(2, "second"),
	}}
	oracle := &recordingOracle{}
	e := New(newManager(nil, nil), nil, oracle, nil)

	for i := 0; i < 10; i++ {
		rec := e.Execute(context.Background(), p, &ExecutionContext{UserInput: "hi"})
		assert.Equal(t, []int{1, 2, 3}, stepIDs(rec))
		assert.True(t, rec.OverallSuccess)
	}
	assert.Contains(t, oracle.prompts[2], "- step 1: done: first")
}

func TestExecute_ContinuesPastFailedDependency(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{ID: 1, Action: "describe image", Capability: capability.Vision, DependsOn: []int{}},
		textStep(2, "answer", 1),
	}}
	m := newManager(nil, map[capability.ID]error{capability.Vision: errors.New("no gpu")})
	oracle := &recordingOracle{}
	ec := &ExecutionContext{UserInput: "what is in this picture?"}

	rec := New(m, nil, oracle, nil).Execute(context.Background(), p, ec)

	require.Len(t, rec.Steps, 2)
	assert.False(t, rec.Steps[0].Success)
	assert.Contains(t, rec.Steps[0].Error, "no gpu")
	assert.True(t, rec.Steps[1].Success)
	assert.False(t, rec.OverallSuccess)
	assert.Equal(t, []capability.ID{capability.Text}, rec.CapabilitiesUsed)
	assert.True(t, ec.Loaded.Has(capability.Text))
	assert.False(t, ec.Loaded.Has(capability.Vision))

	require.Len(t, oracle.prompts, 1)
	assert.Contains(t, oracle.prompts[0], "step 1 failed")
	assert.Contains(t, oracle.prompts[0], "no gpu")
}

func TestExecute_DisabledCapabilityFailsStep(t *testing.T) {
	f := capability.FactoryFunc(func(ctx context.Context, id capability.ID) (capability.Handle, error) {
		return opaqueHandle{}, nil
	})
	m := capability.NewManager(f, capability.Options{Enabled: func(id capability.ID) bool { return id == capability.Text }})
	p := &plan.Plan{Steps: []plan.Step{{ID: 1, Action: "speak", Capability: capability.SpeechOutput}}}

	rec := New(m, nil, &recordingOracle{}, nil).Execute(context.Background(), p, &ExecutionContext{})
	require.Len(t, rec.Steps, 1)
	assert.False(t, rec.Steps[0].Success)
	assert.Contains(t, rec.Steps[0].Error, capability.ErrDisabled.Error())
}

func TestExecute_ToolSteps(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{ID: 1, Action: "golang release notes", Capability: capability.Text, Tool: "search"},
		{ID: 2, Action: "summarise", Capability: capability.Text, Tool: "scraper", DependsOn: []int{1}},
	}}
	tools := &fakeTools{}
	e := New(newManager(nil, nil), tools, &recordingOracle{}, nil)

	rec := e.Execute(context.Background(), p, &ExecutionContext{})
	assert.True(t, rec.OverallSuccess)
	assert.Equal(t, []string{"scraper", "search"}, rec.ToolsUsed)
	assert.Equal(t, "search", rec.Steps[0].ToolUsed)
	assert.Equal(t, "tool output for golang release notes", rec.Steps[0].Output)
	assert.Equal(t, []string{"search:golang release notes", "scraper:summarise"}, tools.calls)
	assert.Empty(t, rec.CapabilitiesUsed)

	tools.err = errors.New("blocked by policy")
	rec = e.Execute(context.Background(), p, &ExecutionContext{})
	assert.False(t, rec.OverallSuccess)
	assert.Len(t, rec.Failed(), 2)
	assert.Contains(t, rec.Steps[0].Output, "blocked by policy")
}

func TestExecute_VisionHandlerUsesAttachment(t *testing.T) {
	vision := &fakeVision{}
	m := newManager(map[capability.ID]capability.Handle{capability.Vision: vision}, nil)
	p := &plan.Plan{Steps: []plan.Step{{ID: 1, Action: "describe image", Capability: capability.Vision}}}

	ec := &ExecutionContext{Attachments: map[string]string{AttachImageURL: "https://example.com/cat.png"}}
	rec := New(m, nil, &recordingOracle{}, nil).Execute(context.Background(), p, ec)

	require.True(t, rec.OverallSuccess)
	assert.Equal(t, "a cat on a sofa", rec.Steps[0].Output)
	assert.Equal(t, "https://example.com/cat.png", vision.gotURL)
	assert.Equal(t, "describe image", vision.gotInstruction)

	rec = New(m, nil, &recordingOracle{}, nil).Execute(context.Background(), p, &ExecutionContext{})
	assert.False(t, rec.OverallSuccess)
	assert.Contains(t, rec.Steps[0].Error, "no image attached")
}

func TestExecute_NoHandler(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{{ID: 1, Action: "make a clip", Capability: capability.Video}}}
	rec := New(newManager(nil, nil), nil, &recordingOracle{}, nil).Execute(context.Background(), p, &ExecutionContext{})
	assert.False(t, rec.Steps[0].Success)
	assert.Contains(t, rec.Steps[0].Error, ErrNoHandler.Error())
	assert.Equal(t, []capability.ID{capability.Video}, rec.CapabilitiesUsed)
}

func TestExecute_HandlerPanicIsIsolated(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{ID: 1, Action: "explode", Capability: capability.Document},
		textStep(2, "carry on"),
	}}
	e := New(newManager(nil, nil), nil, &recordingOracle{}, nil)
	e.Handle(capability.Document, func(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
		panic("boom")
	})

	rec := e.Execute(context.Background(), p, &ExecutionContext{})
	require.Len(t, rec.Steps, 2)
	assert.Contains(t, rec.Steps[0].Error, "boom")
	assert.True(t, rec.Steps[1].Success)
}

func TestExecute_OracleFailureFailsTextStep(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{textStep(1, "answer")}}
	rec := New(newManager(nil, nil), nil, &recordingOracle{err: errors.New("timeout")}, nil).
		Execute(context.Background(), p, &ExecutionContext{})
	assert.False(t, rec.OverallSuccess)
	assert.Equal(t, "timeout", rec.Steps[0].Error)
}

func TestKeepSet(t *testing.T) {
	assert.Empty(t, KeepSet(&plan.Plan{Complexity: plan.Simple, PrimaryCapability: capability.Vision}))
	assert.Empty(t, KeepSet(&plan.Plan{Complexity: plan.Moderate, PrimaryCapability: capability.Vision}))
	assert.Equal(t,
		capability.NewSet(capability.Embedding, capability.Vision),
		KeepSet(&plan.Plan{Complexity: plan.Complex, PrimaryCapability: capability.Vision}))
}

func TestReleasePlan(t *testing.T) {
	simple := &plan.Plan{Complexity: plan.Simple, PrimaryCapability: capability.Vision}
	complexPlan := &plan.Plan{Complexity: plan.Complex, PrimaryCapability: capability.Vision}

	_, needed := ReleasePlan(simple, &ExecutionContext{Loaded: capability.NewSet(capability.Text)})
	assert.False(t, needed, "only the main brain was loaded")

	keep, needed := ReleasePlan(simple, &ExecutionContext{Loaded: capability.NewSet(capability.Text, capability.Vision)})
	assert.True(t, needed)
	assert.Empty(t, keep)

	_, needed = ReleasePlan(complexPlan, &ExecutionContext{Loaded: capability.NewSet(capability.Vision, capability.Embedding)})
	assert.False(t, needed, "everything loaded is kept")

	_, needed = ReleasePlan(complexPlan, &ExecutionContext{Loaded: capability.NewSet(capability.Vision, capability.Document)})
	assert.True(t, needed)
}

func TestExecute_StepTimeoutFailsStep(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{ID: 1, Action: "describe image", Capability: capability.Vision},
		{ID: 2, Action: "read it", Capability: capability.Document},
		textStep(3, "answer anyway", 1, 2),
	}}
	stuck := make(chan struct{})
	defer close(stuck)

	e := New(newManager(nil, nil), nil, &recordingOracle{}, nil)
	e.StepTimeout = 50 * time.Millisecond
	e.Handle(capability.Vision, func(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e.Handle(capability.Document, func(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
		<-stuck
		return "too late", nil
	})

	done := make(chan Record, 1)
	go func() { done <- e.Execute(context.Background(), p, &ExecutionContext{}) }()

	var rec Record
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish after the step timeout")
	}

	require.Len(t, rec.Steps, 3)
	assert.False(t, rec.Steps[0].Success)
	assert.Contains(t, rec.Steps[0].Error, context.DeadlineExceeded.Error())
	assert.False(t, rec.Steps[1].Success, "a provider ignoring cancellation is abandoned")
	assert.Contains(t, rec.Steps[1].Error, "did not finish")
	assert.True(t, rec.Steps[2].Success)
	assert.False(t, rec.OverallSuccess)
}
