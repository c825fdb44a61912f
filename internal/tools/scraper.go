package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	maxPageBytes   = 5 << 20
	maxArticleText = 50000
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// firstURL returns the first http(s) URL in text without trailing
// punctuation.
func firstURL(text string) string {
	return strings.TrimRight(urlPattern.FindString(text), ".,;:!?)]}")
}

// ScraperTool fetches a page and reduces it to readable text.
type ScraperTool struct {
	UserAgent string
	Client    *http.Client

	sanitizer *bluemonday.Policy
}

func NewScraperTool() *ScraperTool {
	return &ScraperTool{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (s *ScraperTool) Name() string {
	return "scraper"
}

func (s *ScraperTool) Description() string {
	return "Fetch a web page and return its main content as clean text."
}

func (s *ScraperTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the page (e.g., https://example.com/article)",
			},
		},
		"required": []string{"url"},
	}
}

func (s *ScraperTool) ArgsFromText(text string) (string, error) {
	u := firstURL(text)
	if u == "" {
		return "", fmt.Errorf("no URL found in %q", text)
	}
	return jsonArgs(map[string]any{"url": u})
}

func (s *ScraperTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	pageURL, err := url.Parse(args.URL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return "", fmt.Errorf("not an http(s) URL: %q", args.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}
	body := io.LimitReader(resp.Body, maxPageBytes)

	// Plain text and JSON need no article extraction.
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		if !strings.HasPrefix(mediaType, "text/") && mediaType != "application/json" {
			return "", fmt.Errorf("unsupported content type %s", mediaType)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		return capText(string(data), maxArticleText), nil
	}

	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", article.Title)
	if article.Byline != "" {
		fmt.Fprintf(&b, "BY: %s\n", article.Byline)
	}
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", s.sanitizer.Sanitize(article.Excerpt))
	}
	fmt.Fprintf(&b, "SOURCE: %s\n", pageURL)
	b.WriteString("\n-- CONTENT --\n")
	b.WriteString(capText(s.sanitizer.Sanitize(article.TextContent), maxArticleText))
	return b.String(), nil
}
