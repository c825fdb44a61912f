// Package plan turns a main-brain planning response into a validated,
// dependency-ordered Plan.
package plan

import (
	"github.com/rahul/switchboard/internal/capability"
)

type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Plan represents the steps needed to fulfil a user request.
type Plan struct {
	Intent                 string          `json:"intent"`
	Complexity             Complexity      `json:"complexity"`
	PrimaryCapability      capability.ID   `json:"primaryCapability"`
	AdditionalCapabilities []capability.ID `json:"additionalCapabilities"`
	ToolsNeeded            []string        `json:"toolsNeeded"`
	Steps                  []Step          `json:"steps"`
	MemoryOps              MemoryOps       `json:"memoryOps"`
	AdminAccessNeeded      bool            `json:"adminAccessNeeded"`
	Confidence             float64         `json:"confidence"`
	// Source records how the plan was produced: "oracle", "keyword" or "fallback".
	Source string `json:"source"`
}

// Step represents a single unit of work. Steps are immutable once parsed.
type Step struct {
	ID         int           `json:"id"`
	Action     string        `json:"action"`
	Capability capability.ID `json:"capability"`
	Tool       string        `json:"tool,omitempty"`
	DependsOn  []int         `json:"dependsOn"`
}

type MemoryOps struct {
	RetrieveQueries []string `json:"retrieveQueries"`
	StoreSummary    string   `json:"storeSummary"`
}

// Capabilities returns the primary capability followed by the additional
// ones, de-duplicated, in load priority order.
func (p *Plan) Capabilities() []capability.ID {
	seen := capability.NewSet()
	var out []capability.ID
	for _, id := range append([]capability.ID{p.PrimaryCapability}, p.AdditionalCapabilities...) {
		if id == "" || seen.Has(id) {
			continue
		}
		seen.Add(id)
		out = append(out, id)
	}
	return out
}

// Fallback is the plan used whenever planning output cannot be trusted.
func Fallback() Plan {
	return Plan{
		Intent:            "Respond to user request",
		Complexity:        Simple,
		PrimaryCapability: capability.Text,
		Steps: []Step{{
			ID:         1,
			Action:     "Generate helpful response",
			Capability: capability.Text,
			DependsOn:  []int{},
		}},
		MemoryOps:  MemoryOps{StoreSummary: "User interaction"},
		Confidence: 0.5,
		Source:     "fallback",
	}
}
