package report

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const maxMessageLen = 4000

// TelegramSink sends reports to one chat (optionally a forum thread).
type TelegramSink struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegramSink(token string, chatID int64, threadID int) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	// Offline skips the getMe round-trip; the bot never polls.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chat: &tele.Chat{ID: chatID}, threadID: threadID}, nil
}

func (t *TelegramSink) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{ThreadID: t.threadID, DisableWebPagePreview: true})
	return err
}
