package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// maxShellOutput caps the command output kept for the step result.
const maxShellOutput = 8 * 1024

// ShellTool runs a bash command in the workspace. It is admin-only under
// the default policy.
type ShellTool struct {
	Dir string
}

func NewShellTool(dir string) *ShellTool {
	return &ShellTool{Dir: dir}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Run a bash command in the workspace and return its output (admin only)."
}

func (s *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (s *ShellTool) ArgsFromText(text string) (string, error) {
	return jsonArgs(map[string]any{"command": text})
}

func (s *ShellTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", args.Command)
	cmd.Dir = s.Dir
	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if len(result) > maxShellOutput {
		result = result[len(result)-maxShellOutput:]
		result = "[output truncated]\n" + result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("command exited with status %d: %s", exitErr.ExitCode(), result)
		}
		return "", fmt.Errorf("command failed: %w", err)
	}
	if result == "" {
		result = "(no output)"
	}
	return result, nil
}
