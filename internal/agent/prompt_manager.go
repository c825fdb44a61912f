package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	plannerFile   = "planner.md"
	synthesisFile = "synthesis.md"
)

const defaultPlannerPrompt = `You are the main brain of a multi-capability assistant. Analyze the user request and create an execution plan.

Only use specialized capabilities or tools when they are actually needed.
Respond with a single JSON object and nothing else:
{
  "intent": "what the user wants to achieve",
  "complexity": "simple|moderate|complex",
  "primaryCapability": "main capability needed",
  "additionalCapabilities": ["other capabilities needed"],
  "toolsNeeded": ["tools required"],
  "steps": [
    {"id": 1, "action": "what to do", "capability": "which capability to use", "tool": "tool name if needed", "dependsOn": []}
  ],
  "memoryOps": {"retrieveQueries": ["what to search in memory"], "storeSummary": "what to remember about this interaction"},
  "adminAccessNeeded": false,
  "confidence": 0.9
}`

const defaultSynthesisPrompt = `Generate a clear, helpful response to the user based on the execution results below.
If some steps failed, answer with what succeeded and say briefly what could not be done.`

// PromptManager loads prompt fragments from a directory of markdown files.
// Missing planner and synthesis files fall back to built-in prompts.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetPersonaPrompt concatenates every persona file in a fixed order:
// identity, soul, capabilities, user, then the rest alphabetically.
func (pm *PromptManager) GetPersonaPrompt() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	var contents []string

	order := map[string]int{
		"identity.md":     1,
		"soul.md":         2,
		"capabilities.md": 3,
		"user.md":         4,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".md") || name == plannerFile || name == synthesisFile {
			continue
		}
		path := filepath.Join(pm.Directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) GetPlannerPrompt() string {
	return pm.readOr(plannerFile, defaultPlannerPrompt)
}

func (pm *PromptManager) GetSynthesisPrompt() string {
	return pm.readOr(synthesisFile, defaultSynthesisPrompt)
}

func (pm *PromptManager) readOr(name, fallback string) string {
	data, err := os.ReadFile(filepath.Join(pm.Directory, name))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return fallback
	}
	return string(data)
}
