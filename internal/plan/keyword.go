package plan

import (
	"fmt"
	"strings"

	"github.com/rahul/switchboard/internal/capability"
)

// keywordTable is scanned in order; the first match becomes the primary
// capability.
var keywordTable = []struct {
	id    capability.ID
	words []string
}{
	{capability.Vision, []string{"image", "photo", "picture", "visual"}},
	{capability.SpeechInput, []string{"speech", "voice", "listen"}},
	{capability.SpeechOutput, []string{"speak", "tts"}},
	{capability.Video, []string{"video", "clip"}},
	{capability.Document, []string{"pdf", "document", "extract"}},
	{capability.AudioGeneration, []string{"music", "sound", "generate"}},
	{capability.Embedding, []string{"search", "similar", "memory"}},
}

// DetectCapabilities returns the capabilities whose keywords occur in
// text, in table order.
func DetectCapabilities(text string) []capability.ID {
	lower := strings.ToLower(text)
	var found []capability.ID
	for _, row := range keywordTable {
		for _, w := range row.words {
			if strings.Contains(lower, w) {
				found = append(found, row.id)
				break
			}
		}
	}
	return found
}

// ClassifyByKeyword builds a plan from keyword hits in raw. With no hits it
// returns Fallback. Otherwise each detected capability gets its own step
// and a final text step, depending on all of them, composes the answer.
func ClassifyByKeyword(raw string) Plan {
	found := DetectCapabilities(raw)
	if len(found) == 0 {
		return Fallback()
	}

	p := Plan{
		Intent:                 "Respond to user request",
		Complexity:             Simple,
		PrimaryCapability:      found[0],
		AdditionalCapabilities: found[1:],
		MemoryOps:              MemoryOps{StoreSummary: "User interaction"},
		Confidence:             0.7,
		Source:                 "keyword",
	}
	if len(found) > 1 {
		p.Complexity = Moderate
	}

	deps := make([]int, 0, len(found))
	for i, id := range found {
		p.Steps = append(p.Steps, Step{
			ID:         i + 1,
			Action:     fmt.Sprintf("Process the request with the %s capability", id),
			Capability: id,
			DependsOn:  []int{},
		})
		deps = append(deps, i+1)
	}
	p.Steps = append(p.Steps, Step{
		ID:         len(found) + 1,
		Action:     "Generate helpful response",
		Capability: capability.Text,
		DependsOn:  deps,
	})
	return p
}
