package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/switchboard/internal/engine"
)

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{""}, splitMessage("", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, chunks)

	long := strings.Repeat("x", 25)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, splitMessage(long, 10))
}

type recordingMessenger struct{ got []string }

func (r *recordingMessenger) Start() error { return nil }
func (r *recordingMessenger) Stop() error  { return nil }
func (r *recordingMessenger) Send(chatID, text string) error {
	r.got = append(r.got, chatID+"="+text)
	return nil
}

func TestMulti_RoutesByPrefix(t *testing.T) {
	tg, dc := &recordingMessenger{}, &recordingMessenger{}
	m := Multi{"telegram": tg, "discord": dc}

	require.NoError(t, m.Send("12345", "hi"))
	require.NoError(t, m.Send("discord:987", "yo"))
	assert.Error(t, m.Send("slack:1", "nope"))

	assert.Equal(t, []string{"12345=hi"}, tg.got)
	assert.Equal(t, []string{"discord:987=yo"}, dc.got)
}

func TestDiscordRequest(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ChannelID: "c1",
		Content:   "<@42> what is this?",
		Mentions:  []*discordgo.User{{ID: "42"}},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn/a.png", ContentType: "image/png"},
			{URL: "https://cdn/b.png", ContentType: "image/png"},
		},
	}}

	req := discordRequest(m)
	assert.Equal(t, "discord:c1", req.UserID)
	assert.Equal(t, "what is this?", req.Message)
	assert.Equal(t, "https://cdn/a.png", req.Context[engine.AttachImageURL])

	m.Content = "<@42>"
	assert.Equal(t, "What is in this image?", discordRequest(m).Message)
}

func TestTelegramMessageText(t *testing.T) {
	assert.Equal(t, "hello", messageText(&tgbotapi.Message{Text: "hello"}))
	assert.Equal(t, "look", messageText(&tgbotapi.Message{Caption: "look", Photo: []tgbotapi.PhotoSize{{FileID: "p"}}}))
	assert.Equal(t, "What is in this image?", messageText(&tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "p"}}}))
	assert.Equal(t, "Please summarise this document.", messageText(&tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d"}}))
	assert.Equal(t, "", messageText(&tgbotapi.Message{}))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("voice bytes"))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "inbox")
	path, err := download(context.Background(), srv.URL+"/note", dir, ".ogg")
	require.NoError(t, err)
	assert.Equal(t, ".ogg", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "voice bytes", string(data))

	_, err = download(context.Background(), srv.URL+"/missing", dir, ".ogg")
	assert.ErrorContains(t, err, "404")
}

func TestDownload_Bounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stream":
			w.(http.Flusher).Flush()
			_, _ = w.Write([]byte("far too many bytes"))
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		default:
			_, _ = w.Write([]byte("far too many bytes"))
		}
	}))
	defer srv.Close()

	oldLimit, oldClient := maxDownloadBytes, downloadClient
	maxDownloadBytes = 4
	downloadClient = &http.Client{Timeout: 50 * time.Millisecond}
	defer func() { maxDownloadBytes, downloadClient = oldLimit, oldClient }()

	dir := filepath.Join(t.TempDir(), "inbox")
	_, err := download(context.Background(), srv.URL+"/sized", dir, ".ogg")
	assert.ErrorContains(t, err, "limit is 4")

	_, err = download(context.Background(), srv.URL+"/stream", dir, ".ogg")
	assert.ErrorContains(t, err, "exceeds 4 bytes")

	_, err = download(context.Background(), srv.URL+"/slow", dir, ".ogg")
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial downloads are removed")
}
