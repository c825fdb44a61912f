// Package agent ties planning, execution and memory together into user
// turns.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rahul/switchboard/internal/capability"
	"github.com/rahul/switchboard/internal/engine"
	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/internal/oracle"
	"github.com/rahul/switchboard/internal/plan"
	"github.com/rahul/switchboard/internal/store"
	"github.com/rahul/switchboard/internal/tools"
)

const genericApology = "I encountered an error processing your request. Let me try a different approach."

// Brain answers a chat message with text.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

// Memory is the durable interaction store.
type Memory interface {
	Retrieve(ctx context.Context, userID string, queries []string, limit int) ([]string, error)
	Store(ctx context.Context, in store.Interaction) error
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
}

// Resources is the capability resource manager as seen by the
// orchestrator.
type Resources interface {
	engine.Resources
	Release(keep capability.Set) []capability.ID
	Active() []capability.ID
}

// Request is one user turn.
type Request struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	// Context carries attachments such as image_url, audio_path and
	// document_path.
	Context map[string]string `json:"context,omitempty"`
}

type Response struct {
	Success          bool          `json:"success"`
	Response         string        `json:"response"`
	Analysis         plan.Plan     `json:"analysis"`
	ExecutionDetails engine.Record `json:"executionDetails"`
	Error            string        `json:"error,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	TurnID           string        `json:"turnId"`
}

// Deps are the collaborators of an Orchestrator. Memory, Prompts and
// Tools may be nil.
type Deps struct {
	Oracle    oracle.Oracle
	Resources Resources
	Tools     engine.ToolProvider
	Memory    Memory
	Prompts   *PromptManager
	Logger    *observability.Logger

	HistorySize     int
	MaxUsers        int
	RetrieveLimit   int
	MemoryTimeout   time.Duration
	ProviderTimeout time.Duration
}

type Orchestrator struct {
	oracle    oracle.Oracle
	resources Resources
	tools     engine.ToolProvider
	memory    Memory
	prompts   *PromptManager
	engine    *engine.Engine
	history   *ConversationCache
	logger    *observability.Logger

	retrieveLimit int
	memoryTimeout time.Duration
}

func NewOrchestrator(d Deps) (*Orchestrator, error) {
	if d.Oracle == nil || d.Resources == nil {
		return nil, fmt.Errorf("orchestrator needs an oracle and a resource manager")
	}
	if d.Logger == nil {
		d.Logger = observability.NewNopLogger()
	}
	if d.Prompts == nil {
		d.Prompts = NewPromptManager("")
	}
	if d.HistorySize <= 0 {
		d.HistorySize = 5
	}
	if d.MaxUsers <= 0 {
		d.MaxUsers = 256
	}
	if d.RetrieveLimit <= 0 {
		d.RetrieveLimit = 3
	}
	if d.MemoryTimeout <= 0 {
		d.MemoryTimeout = 5 * time.Second
	}
	history, err := NewConversationCache(d.MaxUsers, d.HistorySize)
	if err != nil {
		return nil, err
	}
	eng := engine.New(d.Resources, d.Tools, d.Oracle, d.Logger)
	eng.StepTimeout = d.ProviderTimeout
	return &Orchestrator{
		oracle:        d.Oracle,
		resources:     d.Resources,
		tools:         d.Tools,
		memory:        d.Memory,
		prompts:       d.Prompts,
		engine:        eng,
		history:       history,
		logger:        d.Logger.With("orchestrator"),
		retrieveLimit: d.RetrieveLimit,
		memoryTimeout: d.MemoryTimeout,
	}, nil
}

// Engine exposes the step engine so callers can register handlers.
func (o *Orchestrator) Engine() *engine.Engine { return o.engine }

// Think implements Brain.
func (o *Orchestrator) Think(ctx context.Context, chatID string, input string) (string, error) {
	resp := o.Process(ctx, Request{Message: input, UserID: chatID})
	return resp.Response, nil
}

// Process runs one turn: plan, execute, respond, record. It always returns
// a non-empty response.
func (o *Orchestrator) Process(ctx context.Context, req Request) (resp Response) {
	turnID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("turn panicked", fmt.Errorf("%v", r))
			resp = Response{
				Success:   false,
				Response:  genericApology,
				Error:     fmt.Sprintf("internal error: %v", r),
				Timestamp: time.Now(),
				TurnID:    turnID,
			}
			o.history.Complete(req.UserID, turnID, genericApology)
		}
		observability.SetStatus(turnID, observability.RoleIdle, "")
	}()

	ctx = tools.WithChatID(ctx, req.UserID)
	o.logger.LogTurn(req.UserID, turnID, "received")

	// Received
	history := o.history.Recent(req.UserID)
	o.history.Append(req.UserID, Exchange{TurnID: turnID, Input: req.Message, At: time.Now()})

	// Planned
	observability.SetStatus(turnID, observability.RolePlanning, truncate(req.Message, 40))
	memories := o.retrieve(ctx, req.UserID, []string{req.Message})
	p := o.plan(ctx, req, history, memories)
	o.logger.LogPlan(req.UserID, turnID, p.Intent, string(p.Complexity), len(p.Steps), p.Confidence)
	if len(p.MemoryOps.RetrieveQueries) > 0 {
		memories = mergeUnique(memories, o.retrieve(ctx, req.UserID, p.MemoryOps.RetrieveQueries))
	}

	// Executed
	observability.SetStatus(turnID, observability.RoleExecuting, p.Intent)
	ec := &engine.ExecutionContext{
		UserID:      req.UserID,
		UserInput:   req.Message,
		History:     exchangeLines(history),
		Memories:    memories,
		Attachments: req.Context,
		Loaded:      capability.NewSet(),
	}
	rec := o.engine.Execute(ctx, &p, ec)
	o.logger.LogTurn(req.UserID, turnID, "executed")
	if keep, needed := engine.ReleasePlan(&p, ec); needed {
		if evicted := o.resources.Release(keep); len(evicted) > 0 {
			o.logger.Debug(fmt.Sprintf("released capabilities %v", evicted))
		}
	}

	// Responded
	observability.SetStatus(turnID, observability.RoleResponding, p.Intent)
	reply := o.synthesize(ctx, req, &p, rec, memories)
	o.logger.LogTurn(req.UserID, turnID, "responded")

	// Recorded
	o.record(ctx, turnID, req, &p, rec, reply)
	o.logger.LogTurn(req.UserID, turnID, "recorded")

	return Response{
		Success:          true,
		Response:         reply,
		Analysis:         p,
		ExecutionDetails: rec,
		Timestamp:        time.Now(),
		TurnID:           turnID,
	}
}

func (o *Orchestrator) plan(ctx context.Context, req Request, history []Exchange, memories []string) plan.Plan {
	raw, err := o.oracle.Respond(ctx, o.plannerPrompt(ctx, req, history, memories))
	if err != nil {
		o.logger.Warn("planning call failed, using fallback plan", err)
		return plan.Fallback()
	}
	p, err := plan.Analyze(raw)
	if err != nil {
		o.logger.Warn("plan not usable as returned", err)
	}
	return p
}

func (o *Orchestrator) plannerPrompt(ctx context.Context, req Request, history []Exchange, memories []string) string {
	var b strings.Builder
	b.WriteString(o.prompts.GetPlannerPrompt())
	fmt.Fprintf(&b, "\n\nUser request: %q\n", req.Message)

	if profile, ok := o.profile(ctx, req.UserID); ok && profile.Interactions > 0 {
		fmt.Fprintf(&b, "User profile: %d previous interactions (%d successful), last seen %s\n",
			profile.Interactions, profile.Successes, profile.LastSeen.Format(time.RFC3339))
	}
	if len(req.Context) > 0 {
		b.WriteString("Attachments:")
		for _, k := range []string{engine.AttachImageURL, engine.AttachAudioPath, engine.AttachDocumentPath} {
			if req.Context[k] != "" {
				fmt.Fprintf(&b, " %s", k)
			}
		}
		b.WriteString("\n")
	}
	writeList(&b, "Recent conversation", exchangeLines(history))
	writeList(&b, "Relevant memories", memories)

	b.WriteString("\nAvailable capabilities:\n")
	for _, id := range capability.All {
		fmt.Fprintf(&b, "- %s: %s\n", id, id.Description())
	}
	if d, ok := o.tools.(interface{ Describe() string }); ok {
		if list := d.Describe(); list != "" {
			b.WriteString("\nAvailable tools:\n")
			b.WriteString(list)
		}
	}
	return b.String()
}

func (o *Orchestrator) synthesize(ctx context.Context, req Request, p *plan.Plan, rec engine.Record, memories []string) string {
	var b strings.Builder
	if persona, err := o.prompts.GetPersonaPrompt(); err == nil {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	b.WriteString(o.prompts.GetSynthesisPrompt())
	fmt.Fprintf(&b, "\n\nUser input: %q\n", req.Message)
	fmt.Fprintf(&b, "Plan intent: %s\n", p.Intent)
	fmt.Fprintf(&b, "Overall success: %t\n", rec.OverallSuccess)
	b.WriteString("\nStep results:\n")
	for _, s := range rec.Steps {
		status := "ok"
		text := s.Output
		if !s.Success {
			status = "failed"
			if s.Error != "" {
				text = s.Error
			}
		}
		if s.ToolUsed != "" {
			fmt.Fprintf(&b, "- step %d [%s] (tool %s): %s\n", s.StepID, status, s.ToolUsed, text)
		} else {
			fmt.Fprintf(&b, "- step %d [%s]: %s\n", s.StepID, status, text)
		}
	}
	writeList(&b, "Relevant memories", memories)

	reply, err := o.oracle.Respond(ctx, b.String())
	if err != nil || strings.TrimSpace(reply) == "" {
		o.logger.Warn("synthesis failed, using fallback response", err)
		return fallbackResponse(req.Message)
	}
	return strings.TrimSpace(reply)
}

func (o *Orchestrator) record(ctx context.Context, turnID string, req Request, p *plan.Plan, rec engine.Record, reply string) {
	o.history.Complete(req.UserID, turnID, reply)
	if o.memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.memoryTimeout)
	defer cancel()

	if chat, ok := o.memory.(interface {
		AddMessage(ctx context.Context, chatID, role, content string) error
	}); ok {
		err := chat.AddMessage(ctx, req.UserID, "user", req.Message)
		if err == nil {
			err = chat.AddMessage(ctx, req.UserID, "assistant", reply)
		}
		o.logger.LogMemory(req.UserID, "message", err)
	}

	caps := make([]string, 0, len(rec.CapabilitiesUsed))
	for _, id := range rec.CapabilitiesUsed {
		caps = append(caps, string(id))
	}
	err := o.memory.Store(ctx, store.Interaction{
		UserID:       req.UserID,
		Input:        req.Message,
		Response:     reply,
		Success:      rec.OverallSuccess,
		Summary:      p.MemoryOps.StoreSummary,
		Capabilities: caps,
		Tools:        rec.ToolsUsed,
		Timestamp:    time.Now(),
	})
	o.logger.LogMemory(req.UserID, "store", err)
}

func (o *Orchestrator) retrieve(ctx context.Context, userID string, queries []string) []string {
	if o.memory == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.memoryTimeout)
	defer cancel()
	hits, err := o.memory.Retrieve(ctx, userID, queries, o.retrieveLimit)
	o.logger.LogMemory(userID, "retrieve", err)
	if err != nil {
		return nil
	}
	return hits
}

func (o *Orchestrator) profile(ctx context.Context, userID string) (store.Profile, bool) {
	if o.memory == nil {
		return store.Profile{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, o.memoryTimeout)
	defer cancel()
	p, err := o.memory.GetProfile(ctx, userID)
	if err != nil {
		o.logger.LogMemory(userID, "profile", err)
		return store.Profile{}, false
	}
	return p, true
}

// Status is a point-in-time snapshot for dashboards and the CLI.
type Status struct {
	ActiveCapabilities []capability.ID `json:"activeCapabilities"`
	CachedUsers        int             `json:"cachedUsers"`
	Tools              []string        `json:"tools"`
	Memory             *store.Stats    `json:"memory,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

func (o *Orchestrator) Status(ctx context.Context) Status {
	s := Status{
		ActiveCapabilities: o.resources.Active(),
		CachedUsers:        o.history.Users(),
		Timestamp:          time.Now(),
	}
	if n, ok := o.tools.(interface{ Names() []string }); ok {
		s.Tools = n.Names()
	}
	if st, ok := o.memory.(interface {
		Stats(context.Context) (store.Stats, error)
	}); ok {
		if stats, err := st.Stats(ctx); err == nil {
			s.Memory = &stats
		}
	}
	return s
}

func fallbackResponse(input string) string {
	return fmt.Sprintf("I understand your request about '%s...' but encountered some technical difficulties. Let me try to help in a different way.", truncate(input, 50))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func exchangeLines(history []Exchange) []string {
	out := make([]string, len(history))
	for i, e := range history {
		out[i] = e.String()
	}
	return out
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
