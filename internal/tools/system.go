package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SystemTool reports on the host and drives its desktop. Screenshots are
// written under Dir so a vision step can describe them. Admin-only under
// the default policy.
type SystemTool struct {
	Dir string
}

func NewSystemTool(dir string) *SystemTool {
	return &SystemTool{Dir: dir}
}

func (s *SystemTool) Name() string {
	return "system"
}

func (s *SystemTool) Description() string {
	return "Inspect the host ('info'), capture the desktop ('desktop_screenshot') or drive mouse and keyboard ('mouse_move', 'mouse_click', 'key_press', 'type_text'). Admin only."
}

func (s *SystemTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"info", "desktop_screenshot", "mouse_move", "mouse_click", "key_press", "type_text"},
				"description": "The system action to perform.",
			},
			"x":      map[string]any{"type": "integer", "description": "X coordinate for mouse_move."},
			"y":      map[string]any{"type": "integer", "description": "Y coordinate for mouse_move."},
			"button": map[string]any{"type": "string", "description": "Mouse button for mouse_click (1=left, 2=middle, 3=right). Default is 1."},
			"key":    map[string]any{"type": "string", "description": "Key or combination for key_press, e.g. 'Return' or 'alt+Tab'."},
			"text":   map[string]any{"type": "string", "description": "Text to type for type_text."},
		},
		"required": []string{"action"},
	}
}

type systemArgs struct {
	Action string `json:"action"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button"`
	Key    string `json:"key"`
	Text   string `json:"text"`
}

// ArgsFromText maps "screenshot" requests to a desktop capture and
// everything else to a host report.
func (s *SystemTool) ArgsFromText(text string) (string, error) {
	action := "info"
	if strings.Contains(strings.ToLower(text), "screenshot") {
		action = "desktop_screenshot"
	}
	return jsonArgs(map[string]any{"action": action})
}

func (s *SystemTool) Execute(ctx context.Context, input string) (string, error) {
	var args systemArgs
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	switch args.Action {
	case "info":
		return hostInfo(), nil
	case "desktop_screenshot":
		return s.captureDesktop(ctx)
	}

	cmdArgs, err := xdotoolArgs(args)
	if err != nil {
		return "", err
	}
	output, err := exec.CommandContext(ctx, "xdotool", cmdArgs...).CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("xdotool is not installed")
		}
		return "", fmt.Errorf("xdotool %s failed: %v: %s", args.Action, err, strings.TrimSpace(string(output)))
	}
	return fmt.Sprintf("Executed %s", args.Action), nil
}

func xdotoolArgs(args systemArgs) ([]string, error) {
	switch args.Action {
	case "mouse_move":
		return []string{"mousemove", strconv.Itoa(args.X), strconv.Itoa(args.Y)}, nil
	case "mouse_click":
		button := args.Button
		if button == "" {
			button = "1"
		}
		return []string{"click", button}, nil
	case "key_press":
		if args.Key == "" {
			return nil, fmt.Errorf("key is required for key_press")
		}
		return []string{"key", args.Key}, nil
	case "type_text":
		if args.Text == "" {
			return nil, fmt.Errorf("text is required for type_text")
		}
		return []string{"type", args.Text}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", args.Action)
	}
}

func hostInfo() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	host, _ := os.Hostname()

	var b strings.Builder
	fmt.Fprintf(&b, "host: %s\n", host)
	fmt.Fprintf(&b, "os: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "cpus: %d\n", runtime.NumCPU())
	fmt.Fprintf(&b, "goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&b, "heap: %.1f MB\n", float64(m.HeapAlloc)/1024/1024)
	return b.String()
}

func (s *SystemTool) captureDesktop(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("desktop_%d.png", time.Now().Unix()))

	output, err := exec.CommandContext(ctx, "ffmpeg", "-f", "x11grab", "-i", ":0.0", "-frames:v", "1", path, "-y").CombinedOutput()
	if err != nil {
		// Fallback to scrot
		output, err = exec.CommandContext(ctx, "scrot", path).CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("capturing desktop: %v: %s", err, strings.TrimSpace(string(output)))
		}
	}

	absPath, _ := filepath.Abs(path)
	return fmt.Sprintf("Desktop screenshot saved to %s", absPath), nil
}
