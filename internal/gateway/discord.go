package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/rahul/switchboard/internal/agent"
	"github.com/rahul/switchboard/internal/engine"
	"github.com/rahul/switchboard/internal/observability"
)

const (
	discordLimit  = 2000
	discordPrefix = "discord:"
)

// DiscordGateway answers direct messages and mentions. Chat ids are the
// channel id prefixed with "discord:".
type DiscordGateway struct {
	Session  *discordgo.Session
	Agent    Processor
	InboxDir string
	logger   *observability.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func NewDiscordGateway(token string, p Processor, inboxDir string, logger *observability.Logger) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	return &DiscordGateway{
		Session:  session,
		Agent:    p,
		InboxDir: inboxDir,
		logger:   logger.With("discord"),
		done:     make(chan struct{}),
	}, nil
}

func (d *DiscordGateway) Start() error {
	d.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		// Only respond in DMs or when mentioned
		if m.GuildID != "" && !mentioned(s.State.User.ID, m.Mentions) {
			return
		}
		go d.handle(m)
	})

	if err := d.Session.Open(); err != nil {
		return err
	}
	d.logger.Info("discord session open")
	<-d.done
	return nil
}

func (d *DiscordGateway) handle(m *discordgo.MessageCreate) {
	ctx := context.Background()
	req := discordRequest(m)
	d.fetchAttachments(ctx, m, req.Context)
	if req.Message == "" && len(req.Context) == 0 {
		return
	}

	resp := d.Agent.Process(ctx, req)
	for _, chunk := range splitMessage(resp.Response, discordLimit) {
		if _, err := d.Session.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			d.logger.Warn("sending reply failed", err)
			return
		}
	}
}

// discordRequest maps the message text and any image attachment to a turn.
// Mentions of the bot are stripped from the text.
func discordRequest(m *discordgo.MessageCreate) agent.Request {
	text := m.Content
	for _, u := range m.Mentions {
		text = strings.ReplaceAll(text, "<@"+u.ID+">", "")
		text = strings.ReplaceAll(text, "<@!"+u.ID+">", "")
	}
	req := agent.Request{
		Message: strings.TrimSpace(text),
		UserID:  discordPrefix + m.ChannelID,
		Context: map[string]string{},
	}
	for _, a := range m.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") && req.Context[engine.AttachImageURL] == "" {
			req.Context[engine.AttachImageURL] = a.URL
		}
	}
	if req.Message == "" && req.Context[engine.AttachImageURL] != "" {
		req.Message = "What is in this image?"
	}
	return req
}

// fetchAttachments downloads the first audio and the first document
// attachment so the speech and document capabilities can read them.
func (d *DiscordGateway) fetchAttachments(ctx context.Context, m *discordgo.MessageCreate, attach map[string]string) {
	for _, a := range m.Attachments {
		key := ""
		switch {
		case strings.HasPrefix(a.ContentType, "audio/"):
			key = engine.AttachAudioPath
		case strings.HasPrefix(a.ContentType, "image/"):
			continue
		default:
			key = engine.AttachDocumentPath
		}
		if attach[key] != "" {
			continue
		}
		path, err := download(ctx, a.URL, d.InboxDir, filepath.Ext(a.Filename))
		if err != nil {
			d.logger.Warn("downloading attachment failed", err)
			continue
		}
		attach[key] = path
	}
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	channelID := strings.TrimPrefix(chatID, discordPrefix)
	for _, chunk := range splitMessage(text, discordLimit) {
		if _, err := d.Session.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordGateway) Stop() error {
	d.stopOnce.Do(func() { close(d.done) })
	return d.Session.Close()
}

func mentioned(botID string, mentions []*discordgo.User) bool {
	for _, mention := range mentions {
		if mention.ID == botID {
			return true
		}
	}
	return false
}
