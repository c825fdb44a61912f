package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rahul/switchboard/internal/store"
)

// minInterval keeps recurring tasks from flooding a chat.
const minInterval = 60

type CronStore interface {
	AddTask(chatID string, description string, intervalSeconds int) error
	ListTasks(chatID string) ([]store.Task, error)
	DeleteTask(chatID string, taskID int) error
	ClearTasks(chatID string) error
}

// CronTool lets a chat manage its scheduled tasks. The scheduler later
// replays each task as a turn for the same chat.
type CronTool struct {
	Store CronStore
}

func NewCronTool(store CronStore) *CronTool {
	return &CronTool{Store: store}
}

func (c *CronTool) Name() string {
	return "schedule_task"
}

func (c *CronTool) Description() string {
	return "Manage scheduled tasks for this chat: 'schedule' (recurring, or once when interval is 0), 'list', 'cancel' one by id, or 'clear' all."
}

func (c *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"schedule", "list", "cancel", "clear"},
				"description": "The action to perform.",
			},
			"task_description": map[string]any{
				"type":        "string",
				"description": "What the assistant should do when the task runs (for 'schedule')",
			},
			"interval_seconds": map[string]any{
				"type":        "integer",
				"description": "Repeat interval in seconds, minimum 60; 0 runs the task once (for 'schedule')",
			},
			"task_id": map[string]any{
				"type":        "integer",
				"description": "Task to remove (for 'cancel')",
			},
		},
		"required": []string{"action"},
	}
}

type cronArgs struct {
	Action   string `json:"action"`
	Desc     string `json:"task_description,omitempty"`
	Interval int    `json:"interval_seconds,omitempty"`
	TaskID   int    `json:"task_id,omitempty"`
}

var everyPattern = regexp.MustCompile(`(?i)every\s+(\d+)?\s*(second|sec|minute|min|hour|hr|day)s?\b`)

var unitSeconds = map[string]int{
	"second": 1, "sec": 1,
	"minute": 60, "min": 60,
	"hour": 3600, "hr": 3600,
	"day": 86400,
}

// ArgsFromText understands plan actions like "remind me to stretch every
// 30 minutes", "list my tasks", "cancel task 3" and "clear all tasks".
func (c *CronTool) ArgsFromText(text string) (string, error) {
	lower := strings.ToLower(text)
	var args cronArgs
	switch {
	case everyPattern.MatchString(text):
		m := everyPattern.FindStringSubmatch(text)
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		args = cronArgs{
			Action:   "schedule",
			Interval: n * unitSeconds[strings.ToLower(m[2])],
			Desc:     strings.TrimSpace(everyPattern.ReplaceAllString(text, "")),
		}
	case strings.Contains(lower, "cancel"):
		id := regexp.MustCompile(`\d+`).FindString(text)
		if id == "" {
			return "", fmt.Errorf("no task id in %q", text)
		}
		n, _ := strconv.Atoi(id)
		args = cronArgs{Action: "cancel", TaskID: n}
	case strings.Contains(lower, "clear"):
		args = cronArgs{Action: "clear"}
	case strings.Contains(lower, "list"), strings.Contains(lower, "show"):
		args = cronArgs{Action: "list"}
	default:
		args = cronArgs{Action: "schedule", Desc: strings.TrimSpace(text)}
	}
	data, err := json.Marshal(args)
	return string(data), err
}

func (c *CronTool) Execute(ctx context.Context, input string) (string, error) {
	var args cronArgs
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	chatID := ChatIDFrom(ctx)
	if chatID == "" {
		return "", fmt.Errorf("missing chatID in context")
	}

	switch args.Action {
	case "clear":
		if err := c.Store.ClearTasks(chatID); err != nil {
			return "", fmt.Errorf("failed to clear tasks: %w", err)
		}
		return "Cleared all your scheduled tasks.", nil

	case "cancel":
		if args.TaskID <= 0 {
			return "", fmt.Errorf("task_id is required for 'cancel'")
		}
		if err := c.Store.DeleteTask(chatID, args.TaskID); err != nil {
			return "", fmt.Errorf("failed to cancel task: %w", err)
		}
		return fmt.Sprintf("Cancelled task #%d.", args.TaskID), nil

	case "list":
		tasks, err := c.Store.ListTasks(chatID)
		if err != nil {
			return "", fmt.Errorf("failed to list tasks: %w", err)
		}
		if len(tasks) == 0 {
			return "You have no scheduled tasks.", nil
		}
		var b strings.Builder
		for _, t := range tasks {
			if t.IntervalSeconds == 0 {
				fmt.Fprintf(&b, "#%d once: %s\n", t.ID, t.Description)
				continue
			}
			fmt.Fprintf(&b, "#%d every %ds: %s\n", t.ID, t.IntervalSeconds, t.Description)
		}
		return b.String(), nil

	case "schedule":
		if strings.TrimSpace(args.Desc) == "" {
			return "", fmt.Errorf("task_description is required for 'schedule'")
		}
		if args.Interval != 0 && args.Interval < minInterval {
			return "", fmt.Errorf("minimum interval is %d seconds", minInterval)
		}
		if err := c.Store.AddTask(chatID, args.Desc, args.Interval); err != nil {
			return "", fmt.Errorf("failed to schedule task: %w", err)
		}
		if args.Interval == 0 {
			return fmt.Sprintf("Scheduled one-time task: '%s'.", args.Desc), nil
		}
		return fmt.Sprintf("Scheduled task: '%s' every %d seconds.", args.Desc, args.Interval), nil

	default:
		return "", fmt.Errorf("unknown action %q; use 'schedule', 'list', 'cancel' or 'clear'", args.Action)
	}
}
