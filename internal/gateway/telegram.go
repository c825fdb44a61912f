package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rahul/switchboard/internal/agent"
	"github.com/rahul/switchboard/internal/engine"
	"github.com/rahul/switchboard/internal/observability"
)

const telegramLimit = 4096

type TelegramGateway struct {
	Bot   *tgbotapi.BotAPI
	Agent Processor
	// InboxDir receives downloaded voice notes and documents.
	InboxDir string
	logger   *observability.Logger
}

func NewTelegramGateway(token string, p Processor, inboxDir string, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.With("telegram")
	logger.Info(fmt.Sprintf("authorized on account %s", bot.Self.UserName))

	return &TelegramGateway{
		Bot:      bot,
		Agent:    p,
		InboxDir: inboxDir,
		logger:   logger,
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		// Turns for different chats run concurrently.
		go tg.handle(update.Message)
	}
	return nil
}

func (tg *TelegramGateway) handle(msg *tgbotapi.Message) {
	ctx := context.Background()
	req := tg.request(ctx, msg)
	if req.Message == "" && len(req.Context) == 0 {
		return
	}

	resp := tg.Agent.Process(ctx, req)
	for _, chunk := range splitMessage(resp.Response, telegramLimit) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(msg.Chat.ID, chunk)); err != nil {
			tg.logger.Warn("sending reply failed", err)
			return
		}
	}
}

// request maps a Telegram message to a turn. Attachments that cannot be
// fetched are dropped; the text still goes through.
func (tg *TelegramGateway) request(ctx context.Context, msg *tgbotapi.Message) agent.Request {
	req := agent.Request{
		Message: messageText(msg),
		UserID:  strconv.FormatInt(msg.Chat.ID, 10),
		Context: map[string]string{},
	}

	if len(msg.Photo) > 0 {
		// Largest size comes last.
		photo := msg.Photo[len(msg.Photo)-1]
		if url, err := tg.Bot.GetFileDirectURL(photo.FileID); err == nil {
			req.Context[engine.AttachImageURL] = url
		} else {
			tg.logger.Warn("resolving photo failed", err)
		}
	}
	if msg.Voice != nil {
		tg.fetch(ctx, req.Context, engine.AttachAudioPath, msg.Voice.FileID, ".ogg")
	} else if msg.Audio != nil {
		tg.fetch(ctx, req.Context, engine.AttachAudioPath, msg.Audio.FileID, filepath.Ext(msg.Audio.FileName))
	}
	if msg.Document != nil {
		tg.fetch(ctx, req.Context, engine.AttachDocumentPath, msg.Document.FileID, filepath.Ext(msg.Document.FileName))
	}
	return req
}

func (tg *TelegramGateway) fetch(ctx context.Context, attach map[string]string, key, fileID, ext string) {
	url, err := tg.Bot.GetFileDirectURL(fileID)
	if err != nil {
		tg.logger.Warn("resolving file failed", err)
		return
	}
	path, err := download(ctx, url, tg.InboxDir, ext)
	if err != nil {
		tg.logger.Warn("downloading file failed", err)
		return
	}
	attach[key] = path
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Caption != "" {
		return msg.Caption
	}
	switch {
	case len(msg.Photo) > 0:
		return "What is in this image?"
	case msg.Voice != nil || msg.Audio != nil:
		return "Please respond to this voice message."
	case msg.Document != nil:
		return "Please summarise this document."
	}
	return ""
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	for _, chunk := range splitMessage(text, telegramLimit) {
		msg := tgbotapi.NewMessage(id, chunk)
		msg.ParseMode = "Markdown"
		if _, err := tg.Bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
