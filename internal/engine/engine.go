// Package engine executes a validated plan step by step.
//
// Steps run sequentially in dependency order with an ascending-id
// tie-break. A failing step never aborts the plan: dependents still run and
// see the failure text among their inputs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rahul/switchboard/internal/capability"
	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/internal/plan"
)

// Attachment keys understood by the built-in handlers.
const (
	AttachImageURL     = "image_url"
	AttachAudioPath    = "audio_path"
	AttachDocumentPath = "document_path"
)

var ErrNoHandler = errors.New("no handler for capability")

// Resources hands out provider leases. *capability.Manager implements it.
type Resources interface {
	Acquire(ctx context.Context, id capability.ID) (*capability.Lease, error)
}

// Oracle answers free-text prompts for text steps.
type Oracle interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// ToolProvider runs named tools.
type ToolProvider interface {
	Invoke(ctx context.Context, toolID, input string, p *plan.Plan) (string, error)
}

// ExecutionContext is the per-turn state threaded through execution.
type ExecutionContext struct {
	UserID    string
	UserInput string
	// History holds recent exchanges, oldest first.
	History     []string
	Memories    []string
	Attachments map[string]string
	// Loaded collects every capability acquired during this turn. It drives
	// the post-plan release decision, see ReleasePlan.
	Loaded capability.Set
}

func (ec *ExecutionContext) attachment(key string) string {
	if ec.Attachments == nil {
		return ""
	}
	return ec.Attachments[key]
}

// StepResult is the outcome of one step.
type StepResult struct {
	StepID   int    `json:"stepId"`
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	ToolUsed string `json:"toolUsed,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Record is the execution record of one plan.
type Record struct {
	Steps            []StepResult    `json:"steps"`
	CapabilitiesUsed []capability.ID `json:"capabilitiesUsed"`
	ToolsUsed        []string        `json:"toolsUsed"`
	OverallSuccess   bool            `json:"overallSuccess"`
	Duration         time.Duration   `json:"duration"`
}

// Failed returns the results that did not succeed.
func (r Record) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// StepInput is what a handler sees when running a step.
type StepInput struct {
	Step plan.Step
	// Prompt is the composed text for the step: action, request and
	// upstream results.
	Prompt   string
	Upstream []StepResult
	Exec     *ExecutionContext
}

// Handler runs one step against a leased provider handle.
type Handler func(ctx context.Context, h capability.Handle, in StepInput) (string, error)

type Engine struct {
	// StepTimeout bounds each capability call. Zero means no bound beyond
	// the caller's context.
	StepTimeout time.Duration

	resources Resources
	tools     ToolProvider
	oracle    Oracle
	handlers  map[capability.ID]Handler
	logger    *observability.Logger
}

func New(resources Resources, tools ToolProvider, oracle Oracle, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	e := &Engine{
		resources: resources,
		tools:     tools,
		oracle:    oracle,
		handlers:  make(map[capability.ID]Handler),
		logger:    logger.With("engine"),
	}
	registerDefaults(e)
	return e
}

// Handle registers h for id, replacing any existing handler.
func (e *Engine) Handle(id capability.ID, h Handler) {
	e.handlers[id] = h
}

// Execute runs every step of p and returns the record. It never fails;
// per-step errors are captured in the results.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, ec *ExecutionContext) Record {
	start := time.Now()
	if ec.Loaded == nil {
		ec.Loaded = capability.NewSet()
	}

	order, err := plan.Order(p.Steps)
	if err != nil {
		// Parsed plans are always valid; keep going in declared order.
		e.logger.Warn("plan failed ordering, executing in declared order", err)
		order = make([]int, len(p.Steps))
		for i := range order {
			order[i] = i
		}
	}

	results := make(map[int]StepResult, len(p.Steps))
	rec := Record{OverallSuccess: true}
	used := capability.NewSet()
	tools := make(map[string]struct{})

	for _, idx := range order {
		step := p.Steps[idx]
		in := StepInput{
			Step:     step,
			Upstream: upstream(step, results),
			Exec:     ec,
		}
		in.Prompt = stepPrompt(in)

		res := e.runStep(ctx, p, in, used, tools)
		results[step.ID] = res
		rec.Steps = append(rec.Steps, res)
		if !res.Success {
			rec.OverallSuccess = false
		}
		e.logger.LogStep(ec.UserID, step.ID, string(step.Capability), res.ToolUsed, res.Success, res.Error)
	}

	rec.CapabilitiesUsed = used.Sorted()
	for t := range tools {
		rec.ToolsUsed = append(rec.ToolsUsed, t)
	}
	slices.Sort(rec.ToolsUsed)
	for id := range used {
		ec.Loaded.Add(id)
	}
	rec.Duration = time.Since(start)
	return rec
}

func (e *Engine) runStep(ctx context.Context, p *plan.Plan, in StepInput, used capability.Set, tools map[string]struct{}) (res StepResult) {
	step := in.Step
	res = StepResult{StepID: step.ID}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("step panicked: %v", r)
		}
	}()

	if step.Tool != "" {
		res.ToolUsed = step.Tool
		tools[step.Tool] = struct{}{}
		if e.tools == nil {
			res.Error = "no tool provider configured"
			res.Output = res.Error
			return res
		}
		out, err := e.tools.Invoke(ctx, step.Tool, toolInput(in), p)
		if err != nil {
			res.Error = err.Error()
			res.Output = fmt.Sprintf("Error using %s: %v", step.Tool, err)
			return res
		}
		res.Success = true
		res.Output = out
		return res
	}

	lease, err := e.resources.Acquire(ctx, step.Capability)
	if err != nil {
		res.Error = fmt.Sprintf("capability %s unavailable: %v", step.Capability, err)
		return res
	}
	used.Add(step.Capability)

	out, err := e.call(ctx, lease, in)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Output = out
	return res
}

type callResult struct {
	out string
	err error
}

// call runs the step against the leased provider under StepTimeout. A
// provider that ignores cancellation is abandoned when the deadline passes;
// its lease is released once it returns.
func (e *Engine) call(ctx context.Context, lease *capability.Lease, in StepInput) (string, error) {
	if e.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.StepTimeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		defer lease.Release()
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		var r callResult
		if in.Step.Capability == capability.Text {
			r.out, r.err = e.oracle.Respond(ctx, in.Prompt)
		} else {
			r.out, r.err = e.dispatch(ctx, lease.Handle(), in)
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("%s step did not finish: %w", in.Step.Capability, ctx.Err())
	}
}

func (e *Engine) dispatch(ctx context.Context, h capability.Handle, in StepInput) (string, error) {
	if handler, ok := e.handlers[in.Step.Capability]; ok {
		return handler(ctx, h, in)
	}
	if gen, ok := h.(capability.TextGenerator); ok {
		return gen.Generate(ctx, in.Prompt)
	}
	return "", fmt.Errorf("%w %s", ErrNoHandler, in.Step.Capability)
}

// KeepSet returns the capabilities to keep resident after p has run.
// Complex plans keep embedding and their primary capability for reuse
// later in the session. Pinned capabilities are kept by the manager.
func KeepSet(p *plan.Plan) capability.Set {
	keep := capability.NewSet()
	if p.Complexity == plan.Complex {
		keep.Add(capability.Embedding)
		if p.PrimaryCapability != "" {
			keep.Add(p.PrimaryCapability)
		}
	}
	return keep
}

// ReleasePlan decides what to do with providers once p has run. It returns
// the keep set and whether a release is needed at all: a turn that loaded
// nothing outside the keep set and the main brain leaves the resident set
// alone, so it cannot evict providers another turn is about to reuse.
func ReleasePlan(p *plan.Plan, ec *ExecutionContext) (capability.Set, bool) {
	keep := KeepSet(p)
	for id := range ec.Loaded {
		if id != capability.Text && !keep.Has(id) {
			return keep, true
		}
	}
	return keep, false
}

func upstream(step plan.Step, results map[int]StepResult) []StepResult {
	deps := slices.Clone(step.DependsOn)
	slices.Sort(deps)
	deps = slices.Compact(deps)

	out := make([]StepResult, 0, len(deps))
	for _, id := range deps {
		if r, ok := results[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func toolInput(in StepInput) string {
	if strings.TrimSpace(in.Step.Action) != "" {
		return in.Step.Action
	}
	return in.Exec.UserInput
}

func stepPrompt(in StepInput) string {
	var b strings.Builder
	b.WriteString("You are completing one step of a larger plan.\n")
	fmt.Fprintf(&b, "Step: %s\n", in.Step.Action)
	fmt.Fprintf(&b, "User request: %s\n", in.Exec.UserInput)

	if len(in.Exec.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, h := range in.Exec.History {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	if len(in.Exec.Memories) > 0 {
		b.WriteString("\nRelevant memories:\n")
		for _, m := range in.Exec.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(in.Upstream) > 0 {
		b.WriteString("\nResults from earlier steps:\n")
		for _, r := range in.Upstream {
			if r.Success {
				fmt.Fprintf(&b, "- step %d: %s\n", r.StepID, r.Output)
			} else {
				fmt.Fprintf(&b, "- step %d failed: %s\n", r.StepID, r.Error)
			}
		}
	}
	return b.String()
}
