// Package gateway connects chat platforms to the orchestrator.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/switchboard/internal/agent"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop and blocks until Stop.
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Processor runs one turn. *agent.Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, req agent.Request) agent.Response
}

// Multi fans Send out to the messenger that owns the chat id. Chat ids are
// prefixed with the platform name, except Telegram which uses bare
// numeric ids.
type Multi map[string]Messenger

func (m Multi) Send(chatID, text string) error {
	name := "telegram"
	if i := strings.IndexByte(chatID, ':'); i > 0 {
		name = chatID[:i]
	}
	g, ok := m[name]
	if !ok {
		return fmt.Errorf("no gateway for chat %s", chatID)
	}
	return g.Send(chatID, text)
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(out) == 0 {
		out = append(out, string(runes))
	}
	return out
}

var (
	downloadClient = &http.Client{Timeout: 60 * time.Second}
	// maxDownloadBytes caps one attachment.
	maxDownloadBytes int64 = 25 << 20
)

// download saves url under dir with a random name and returns the path.
func download(ctx context.Context, url, dir, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: %s", resp.Status)
	}

	if resp.ContentLength > maxDownloadBytes {
		return "", fmt.Errorf("attachment is %d bytes, limit is %d", resp.ContentLength, maxDownloadBytes)
	}

	path := filepath.Join(dir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxDownloadBytes {
		err = fmt.Errorf("attachment exceeds %d bytes", maxDownloadBytes)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
