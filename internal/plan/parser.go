package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rahul/switchboard/internal/capability"
)

var (
	ErrNoPayload      = errors.New("no structured payload in planning response")
	ErrInvalidPayload = errors.New("planning payload is not a valid plan")
)

const defaultConfidence = 0.8

// Parse never fails: output it cannot trust becomes the keyword plan or
// the fallback plan.
func Parse(raw string) Plan {
	p, _ := Analyze(raw)
	return p
}

// Analyze is Parse that also reports why the oracle's plan was not used.
// The error is informational; the returned Plan is always executable.
//
// Raw text without any balanced {...} payload goes to ClassifyByKeyword.
// A payload that fails to decode or validate yields Fallback.
func Analyze(raw string) (Plan, error) {
	payloads := extractPayloads(raw)
	if len(payloads) == 0 {
		return ClassifyByKeyword(raw), ErrNoPayload
	}

	var decodeErr error
	for _, payload := range payloads {
		var rp rawPlan
		dec := json.NewDecoder(bytes.NewReader(payload))
		if err := dec.Decode(&rp); err != nil {
			if decodeErr == nil {
				decodeErr = err
			}
			continue
		}
		p, err := rp.toPlan()
		if err != nil {
			return Fallback(), fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return p, nil
	}
	return Fallback(), fmt.Errorf("%w: %w", ErrInvalidPayload, decodeErr)
}

// extractPayloads returns every top-level balanced brace span in s, in
// order of appearance. Braces inside JSON strings are ignored.
func extractPayloads(s string) [][]byte {
	var out [][]byte
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, []byte(s[start:i+1]))
				start = -1
			}
		}
	}
	return out
}

// rawPlan accepts both the camelCase shape and the snake_case shape the
// planning prompt historically asked for.
type rawPlan struct {
	Intent     string `json:"intent"`
	Complexity string `json:"complexity"`

	PrimaryCapability      string `json:"primaryCapability"`
	PrimaryCapabilitySnake string `json:"primary_capability"`

	AdditionalCapabilities      []string `json:"additionalCapabilities"`
	AdditionalCapabilitiesSnake []string `json:"additional_capabilities"`

	ToolsNeeded      []string `json:"toolsNeeded"`
	ToolsNeededSnake []string `json:"tools_needed"`

	Steps          []rawStep `json:"steps"`
	ExecutionSteps []rawStep `json:"execution_steps"`

	MemoryOps        *rawMemoryOps `json:"memoryOps"`
	MemoryOperations *rawMemoryOps `json:"memory_operations"`

	AdminAccessNeeded      bool `json:"adminAccessNeeded"`
	AdminAccessNeededSnake bool `json:"admin_access_needed"`

	Confidence flexFloat `json:"confidence"`
}

type rawStep struct {
	ID          *flexInt  `json:"id"`
	Step        *flexInt  `json:"step"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Capability  string    `json:"capability"`
	Tool        *string   `json:"tool"`
	DependsOn   []flexInt `json:"dependsOn"`
	DependsOnSn []flexInt `json:"depends_on"`
}

type rawMemoryOps struct {
	RetrieveQueries flexStrings `json:"retrieveQueries"`
	Retrieve        flexStrings `json:"retrieve"`
	StoreSummary    string      `json:"storeSummary"`
	Store           string      `json:"store"`
}

// flexInt decodes 3 and "3" alike.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		v, err := strconv.Atoi(n.String())
		if err != nil {
			return err
		}
		*f = flexInt(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// flexFloat decodes 0.9, "0.9" and "90%". Text that is not a number
// leaves it unset rather than failing the whole plan.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		f.v, f.set = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return nil
	}
	if percent {
		v /= 100
	}
	f.v, f.set = v, true
	return nil
}

// flexStrings decodes a list of strings or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s != "" {
		*f = []string{s}
	}
	return nil
}

func firstNonEmpty[T any](a, b []T) []T {
	if len(a) > 0 {
		return a
	}
	return b
}

func (rp *rawPlan) toPlan() (Plan, error) {
	rawSteps := firstNonEmpty(rp.Steps, rp.ExecutionSteps)
	if len(rawSteps) == 0 {
		return Plan{}, ErrNoSteps
	}

	p := Plan{
		Intent:            strings.TrimSpace(rp.Intent),
		Complexity:        parseComplexity(rp.Complexity),
		AdminAccessNeeded: rp.AdminAccessNeeded || rp.AdminAccessNeededSnake,
		Confidence:        defaultConfidence,
		Source:            "oracle",
	}
	if p.Intent == "" {
		p.Intent = "Respond to user request"
	}
	if rp.Confidence.set {
		p.Confidence = clamp01(rp.Confidence.v)
	}

	tools := newOrderedSet()
	for _, t := range firstNonEmpty(rp.ToolsNeeded, rp.ToolsNeededSnake) {
		tools.add(toolName(t))
	}

	p.Steps = make([]Step, 0, len(rawSteps))
	for i, rs := range rawSteps {
		s := Step{
			ID:         i + 1,
			Action:     strings.TrimSpace(rs.Action),
			Capability: normalizeCapability(rs.Capability),
			DependsOn:  []int{},
		}
		switch {
		case rs.ID != nil:
			s.ID = int(*rs.ID)
		case rs.Step != nil:
			s.ID = int(*rs.Step)
		}
		if s.Action == "" {
			s.Action = strings.TrimSpace(rs.Description)
		}
		if rs.Tool != nil {
			s.Tool = toolName(*rs.Tool)
			tools.add(s.Tool)
		}
		for _, d := range firstNonEmpty(rs.DependsOn, rs.DependsOnSn) {
			s.DependsOn = append(s.DependsOn, int(d))
		}
		p.Steps = append(p.Steps, s)
	}

	if err := Validate(p.Steps); err != nil {
		return Plan{}, err
	}

	primary := firstNonEmptyString(rp.PrimaryCapability, rp.PrimaryCapabilitySnake)
	if id, ok := capability.Parse(primary); ok {
		p.PrimaryCapability = id
	} else {
		p.PrimaryCapability = p.Steps[0].Capability
	}

	extra := capability.NewSet(p.PrimaryCapability)
	for _, name := range firstNonEmpty(rp.AdditionalCapabilities, rp.AdditionalCapabilitiesSnake) {
		id, ok := capability.Parse(name)
		if !ok || extra.Has(id) {
			continue
		}
		extra.Add(id)
		p.AdditionalCapabilities = append(p.AdditionalCapabilities, id)
	}
	p.ToolsNeeded = tools.items

	if ops := rp.MemoryOps; ops != nil {
		p.MemoryOps = ops.toMemoryOps()
	} else if ops := rp.MemoryOperations; ops != nil {
		p.MemoryOps = ops.toMemoryOps()
	}
	return p, nil
}

func (ro *rawMemoryOps) toMemoryOps() MemoryOps {
	var queries []string
	for _, q := range firstNonEmpty(ro.RetrieveQueries, ro.Retrieve) {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	return MemoryOps{
		RetrieveQueries: queries,
		StoreSummary:    firstNonEmptyString(ro.StoreSummary, ro.Store),
	}
}

// toolName returns "" for the ways planners write "no tool".
func toolName(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "none", "null", "nil", "n/a", "na", "-", "no tool", "false":
		return ""
	}
	return s
}

// normalizeCapability maps unknown or empty names (including "tools") to text.
func normalizeCapability(name string) capability.ID {
	if id, ok := capability.Parse(name); ok {
		return id
	}
	return capability.Text
}

func parseComplexity(s string) Complexity {
	switch Complexity(strings.ToLower(strings.TrimSpace(s))) {
	case Moderate:
		return Moderate
	case Complex:
		return Complex
	default:
		return Simple
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmptyString(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet { return &orderedSet{seen: map[string]bool{}} }

func (o *orderedSet) add(s string) {
	if s == "" || o.seen[s] {
		return
	}
	o.seen[s] = true
	o.items = append(o.items, s)
}
