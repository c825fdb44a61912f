package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

const (
	browserActionTimeout = 60 * time.Second
	maxPageText          = 20000
)

// BrowserTool drives one long-lived Chrome session. The session survives
// across steps and turns until 'close' or Close.
type BrowserTool struct {
	// Headless hides the browser window.
	Headless bool
	// Dir receives screenshots.
	Dir string

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool(dir string, headless bool) *BrowserTool {
	return &BrowserTool{Dir: dir, Headless: headless}
}

type browserArgs struct {
	Action      string `json:"action"`
	URL         string `json:"url"`
	Selector    string `json:"selector"`
	Text        string `json:"text"`
	WaitSeconds int    `json:"wait_seconds"`
}

// browserAction runs against a live session and reports what happened.
type browserAction func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error)

var browserActions = map[string]browserAction{
	"navigate": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		if args.URL == "" {
			return "", fmt.Errorf("url is required for 'navigate'")
		}
		var title string
		if err := chromedp.Run(ctx, chromedp.Navigate(args.URL), chromedp.Title(&title)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Opened %s (%s)", args.URL, title), nil
	},
	"content": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		sel := args.Selector
		if sel == "" {
			sel = "body"
		}
		var text string
		if err := chromedp.Run(ctx, chromedp.Text(sel, &text, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return capText(strings.TrimSpace(text), maxPageText), nil
	},
	"html": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		var html string
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}))
		if err != nil {
			return "", err
		}
		return capText(html, maxPageText), nil
	},
	"click": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		if args.Selector == "" {
			return "", fmt.Errorf("selector is required for 'click'")
		}
		return "Clicked " + args.Selector, chromedp.Run(ctx, chromedp.Click(args.Selector, chromedp.ByQuery))
	},
	"type": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		if args.Selector == "" || args.Text == "" {
			return "", fmt.Errorf("selector and text are required for 'type'")
		}
		return "Typed into " + args.Selector, chromedp.Run(ctx, chromedp.SendKeys(args.Selector, args.Text, chromedp.ByQuery))
	},
	"press": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		if args.Text == "" {
			return "", fmt.Errorf("text (key) is required for 'press'")
		}
		return "Pressed " + args.Text, chromedp.Run(ctx, chromedp.KeyEvent(args.Text))
	},
	"scroll": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		if args.Selector != "" {
			return "Scrolled to " + args.Selector, chromedp.Run(ctx, chromedp.ScrollIntoView(args.Selector, chromedp.ByQuery))
		}
		return "Scrolled to bottom", chromedp.Run(ctx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil))
	},
	"wait": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		if args.Selector != "" {
			return "Found " + args.Selector, chromedp.Run(ctx, chromedp.WaitVisible(args.Selector, chromedp.ByQuery))
		}
		d := time.Duration(args.WaitSeconds) * time.Second
		select {
		case <-time.After(d):
			return fmt.Sprintf("Waited %s", d), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	},
	"back": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		return "Navigated back", chromedp.Run(ctx, chromedp.NavigateBack())
	},
	"forward": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		return "Navigated forward", chromedp.Run(ctx, chromedp.NavigateForward())
	},
	"reload": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		return "Page reloaded", chromedp.Run(ctx, chromedp.Reload())
	},
	"screenshot": func(ctx context.Context, b *BrowserTool, args browserArgs) (string, error) {
		var buf []byte
		if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return "", err
		}
		if err := os.MkdirAll(b.Dir, 0755); err != nil {
			return "", err
		}
		path := filepath.Join(b.Dir, fmt.Sprintf("page_%d.png", time.Now().UnixNano()))
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return "", err
		}
		absPath, _ := filepath.Abs(path)
		return "Screenshot saved to " + absPath, nil
	},
}

func browserActionNames() []string {
	names := []string{"close"}
	for name := range browserActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Drive a persistent Chrome session: open pages, read their text, click, type and take screenshots. Actions: " + strings.Join(browserActionNames(), ", ") + "."
}

func (b *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        browserActionNames(),
				"description": "The action to perform.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to open (required for 'navigate')",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for the target element",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The text to type or key to press",
			},
			"wait_seconds": map[string]any{
				"type":        "integer",
				"description": "Seconds to wait when no selector is given",
			},
		},
		"required": []string{"action"},
	}
}

// ArgsFromText navigates to the first URL in text.
func (b *BrowserTool) ArgsFromText(text string) (string, error) {
	u := firstURL(text)
	if u == "" {
		return "", fmt.Errorf("no URL found in %q", text)
	}
	return jsonArgs(map[string]any{"action": "navigate", "url": u})
}

func (b *BrowserTool) Execute(ctx context.Context, input string) (string, error) {
	var args browserArgs
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	if args.Action == "close" {
		return "Closed the browser.", b.Close()
	}
	action, ok := browserActions[args.Action]
	if !ok {
		return "", fmt.Errorf("unknown browser action %q", args.Action)
	}

	session, err := b.session()
	if err != nil {
		return "", fmt.Errorf("failed to start browser: %w", err)
	}

	// chromedp needs the session context; the step deadline still applies.
	actionCtx, cancel := context.WithTimeout(session, browserActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	out, err := action(actionCtx, b, args)
	if err != nil {
		return "", fmt.Errorf("browser %s failed: %w", args.Action, err)
	}
	return out, nil
}

// session returns the live browser context, starting Chrome if needed.
func (b *BrowserTool) session() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return b.browserCtx, nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	b.browserCtx, b.browserCancel, b.allocCancel = browserCtx, browserCancel, allocCancel
	return browserCtx, nil
}

// Close shuts the browser down. It is safe to call when no session exists.
func (b *BrowserTool) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
	return nil
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.browserCancel = nil
	b.allocCancel = nil
}

func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
