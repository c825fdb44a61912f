package plan

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/switchboard/internal/capability"
)

func TestParse_CamelCasePlan(t *testing.T) {
	raw := `Sure! Here is the plan:
{"primaryCapability":"vision","steps":[{"id":1,"action":"describe image","capability":"vision","dependsOn":[]}]}
Let me know if you need anything else.`

	p, err := Analyze(raw)
	require.NoError(t, err)
	assert.Equal(t, "oracle", p.Source)
	assert.Equal(t, capability.Vision, p.PrimaryCapability)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, Step{ID: 1, Action: "describe image", Capability: capability.Vision, DependsOn: []int{}}, p.Steps[0])
	assert.Equal(t, defaultConfidence, p.Confidence)
	assert.Equal(t, Simple, p.Complexity)
}

func TestParse_SnakeCasePlan(t *testing.T) {
	raw := "```json\n" + `{
  "intent": "summarise the attached pdf and read it aloud",
  "complexity": "COMPLEX",
  "primary_capability": "document",
  "additional_capabilities": ["speech_output", "tools", "document"],
  "tools_needed": ["search"],
  "execution_steps": [
    {"step": 1, "action": "extract text {with braces}", "capability": "document", "depends_on": []},
    {"step": "2", "action": "summarise", "capability": "text", "depends_on": [1]},
    {"step": 3, "action": "look up author", "capability": "tools", "tool": "scraper", "depends_on": ["1"]},
    {"step": 4, "action": "speak summary", "capability": "speech-output", "depends_on": [2, 3]}
  ],
  "memory_operations": {"retrieve": "previous summaries", "store": "user likes audio summaries"},
  "admin_access_needed": true,
  "confidence": 1.7
}` + "\n```"

	p, err := Analyze(raw)
	require.NoError(t, err)
	assert.Equal(t, Complex, p.Complexity)
	assert.Equal(t, capability.Document, p.PrimaryCapability)
	assert.Equal(t, []capability.ID{capability.SpeechOutput}, p.AdditionalCapabilities)
	assert.Equal(t, []string{"search", "scraper"}, p.ToolsNeeded)
	assert.Equal(t, []string{"previous summaries"}, p.MemoryOps.RetrieveQueries)
	assert.Equal(t, "user likes audio summaries", p.MemoryOps.StoreSummary)
	assert.True(t, p.AdminAccessNeeded)
	assert.Equal(t, 1.0, p.Confidence)

	require.Len(t, p.Steps, 4)
	assert.Equal(t, "extract text {with braces}", p.Steps[0].Action)
	assert.Equal(t, 2, p.Steps[1].ID)
	assert.Equal(t, capability.Text, p.Steps[2].Capability)
	assert.Equal(t, "scraper", p.Steps[2].Tool)
	assert.Equal(t, capability.SpeechOutput, p.Steps[3].Capability)
	assert.Equal(t, []int{2, 3}, p.Steps[3].DependsOn)
}

func TestParse_AssignsMissingIDsInOrder(t *testing.T) {
	p, err := Analyze(`{"steps":[{"action":"a"},{"action":"b","dependsOn":[1]}]}`)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Steps[0].ID)
	assert.Equal(t, 2, p.Steps[1].ID)
	assert.Equal(t, capability.Text, p.PrimaryCapability)
}

func TestParse_CycleFallsBack(t *testing.T) {
	raw := `{"steps":[{"id":1,"action":"a","dependsOn":[2]},{"id":2,"action":"b","dependsOn":[1]}]}`
	p, err := Analyze(raw)
	assert.ErrorIs(t, err, ErrCycle)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, Fallback(), p)
}

func TestParse_InvalidPayloadsFallBack(t *testing.T) {
	cases := map[string]string{
		"missing dependency": `{"steps":[{"id":1,"action":"a","dependsOn":[9]}]}`,
		"self dependency":    `{"steps":[{"id":1,"action":"a","dependsOn":[1]}]}`,
		"duplicate ids":      `{"steps":[{"id":1,"action":"a"},{"id":1,"action":"b"}]}`,
		"no steps":           `{"intent":"hello","steps":[]}`,
		"not json":           `{this is not json}`,
		"bad id":             `{"steps":[{"id":"one","action":"a"}]}`,
		"forward dependency": `{"steps":[{"id":1,"action":"a","dependsOn":[2]},{"id":2,"action":"b"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := Analyze(raw)
			assert.Error(t, err)
			assert.Equal(t, Fallback(), p)
		})
	}
}

func TestParse_SkipsNonJSONBracesBeforePayload(t *testing.T) {
	raw := `I will use {vision} for this. {"steps":[{"id":1,"action":"caption","capability":"vision"}]}`
	p, err := Analyze(raw)
	require.NoError(t, err)
	assert.Equal(t, capability.Vision, p.Steps[0].Capability)
}

func TestParse_GarbageWithoutKeywordsIsFallback(t *testing.T) {
	// The user asked "What's today's weather?" and the oracle answered with noise.
	p, err := Analyze("zxq lorem ipsum ... the forecast is unclear !!")
	assert.ErrorIs(t, err, ErrNoPayload)
	assert.Equal(t, capability.Text, p.PrimaryCapability)
	assert.Len(t, p.Steps, 1)
	assert.Equal(t, 0.5, p.Confidence)
	assert.Equal(t, "fallback", p.Source)
}

func TestParse_GarbageWithKeywordsUsesClassifier(t *testing.T) {
	p := Parse("the user wants me to look at this photo and then speak about it")
	assert.Equal(t, "keyword", p.Source)
	assert.Equal(t, capability.Vision, p.PrimaryCapability)
	assert.Equal(t, []capability.ID{capability.SpeechOutput}, p.AdditionalCapabilities)
	assert.Equal(t, 0.7, p.Confidence)
	require.NoError(t, Validate(p.Steps))
}

// Any input must yield an executable plan: no cycles and no dangling dependencies.
func TestParse_AlwaysValid(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	fragments := []string{
		"{", "}", `"`, `\`, ",", ":", "[", "]", "steps", `"steps"`, `"id"`, `"dependsOn"`,
		"1", "2", "3", "-4", "null", "true", "image", "pdf", "hello", " ", "\n",
		`{"steps":[{"id":1,"dependsOn":[2]},{"id":2,"dependsOn":[1]}]}`,
		`{"steps":[{"id":1},{"id":2,"dependsOn":[1]}]}`,
		`{"steps":[{"id":5,"dependsOn":[6]}]}`,
	}

	for i := 0; i < 2000; i++ {
		var b strings.Builder
		n := rng.Intn(12)
		for j := 0; j < n; j++ {
			b.WriteString(fragments[rng.Intn(len(fragments))])
		}
		raw := b.String()

		p := Parse(raw)
		require.NotEmpty(t, p.Steps, "input %q", raw)
		require.NoError(t, Validate(p.Steps), "input %q", raw)
		require.True(t, p.PrimaryCapability.Valid(), "input %q", raw)
		for _, s := range p.Steps {
			require.True(t, s.Capability.Valid(), "input %q", raw)
		}
	}
}

func TestClassifyByKeyword(t *testing.T) {
	p := ClassifyByKeyword("Find similar songs and generate music from this video clip")
	assert.Equal(t, capability.Video, p.PrimaryCapability)
	assert.Equal(t, []capability.ID{capability.AudioGeneration, capability.Embedding}, p.AdditionalCapabilities)
	assert.Equal(t, Moderate, p.Complexity)

	last := p.Steps[len(p.Steps)-1]
	assert.Equal(t, capability.Text, last.Capability)
	assert.Equal(t, []int{1, 2, 3}, last.DependsOn)

	assert.Equal(t, Fallback(), ClassifyByKeyword("hello there"))
}

func TestPlanCapabilities(t *testing.T) {
	p := Plan{
		PrimaryCapability:      capability.Vision,
		AdditionalCapabilities: []capability.ID{capability.Text, capability.Vision, capability.Embedding},
	}
	assert.Equal(t, []capability.ID{capability.Vision, capability.Text, capability.Embedding}, p.Capabilities())
}

func TestParse_ForwardDependencyIsRejected(t *testing.T) {
	p, err := Analyze(`{"steps":[{"id":1,"action":"a","dependsOn":[2]},{"id":2,"action":"b"}]}`)
	assert.ErrorIs(t, err, ErrForwardDependency)
	assert.Equal(t, Fallback(), p)

	// Ids need not be ascending, only listed before their dependents.
	p, err = Analyze(`{"steps":[{"id":5,"action":"a"},{"id":2,"action":"b","dependsOn":[5]}]}`)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, p.Steps[1].DependsOn)
}

func TestParse_NoToolSpellings(t *testing.T) {
	p, err := Analyze(`{"toolsNeeded":["none","search"],"steps":[
		{"id":1,"action":"a","tool":"none"},
		{"id":2,"action":"b","tool":"NULL"},
		{"id":3,"action":"c","tool":" search "}]}`)
	require.NoError(t, err)
	assert.Empty(t, p.Steps[0].Tool)
	assert.Empty(t, p.Steps[1].Tool)
	assert.Equal(t, "search", p.Steps[2].Tool)
	assert.Equal(t, []string{"search"}, p.ToolsNeeded)
}

func TestParse_FlexibleConfidence(t *testing.T) {
	cases := map[string]float64{
		`0.9`:    0.9,
		`"0.9"`:  0.9,
		`"75%"`:  0.75,
		`"high"`: defaultConfidence,
		`7`:      1,
		`null`:   defaultConfidence,
	}
	for raw, want := range cases {
		p, err := Analyze(`{"confidence":` + raw + `,"steps":[{"id":1,"action":"a"}]}`)
		require.NoError(t, err, raw)
		assert.Equal(t, "oracle", p.Source, raw)
		assert.InDelta(t, want, p.Confidence, 1e-9, raw)
	}
}
