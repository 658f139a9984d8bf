package tgbot

import (
	"context"
	"strings"
	"time"

	"abot/bot"
	"abot/bots/timerbot/locale"
	"abot/bots/timerbot/session"
	"abot/bots/timerbot/timer"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

const errNotModified = "message is not modified"

// Send posts the status message. It implements keeper.Transport.
func (b *TBot) Send(ctx context.Context, chat session.Chat, text string) (session.EditTarget, error) {
	m := tg.NewMessage(chat.ID, text)
	m.DisableWebPagePreview = true

	sent, err := b.send(ctx, m)
	if err != nil {
		return session.EditTarget{}, err
	}

	target := session.EditTarget{ChatID: chat.ID, MessageID: sent.MessageID}
	if sent.Chat != nil {
		target.ChatID = sent.Chat.ID
	}
	return target, nil
}

// Edit replaces text of the status message. It implements keeper.Transport.
func (b *TBot) Edit(ctx context.Context, target session.EditTarget, text string) error {
	be := tg.BaseEdit{ChatID: target.ChatID, MessageID: target.MessageID}
	if target.InlineMessageID != "" {
		be = tg.BaseEdit{InlineMessageID: target.InlineMessageID}
	}

	updText := tg.EditMessageTextConfig{
		BaseEdit:              be,
		Text:                  text,
		DisableWebPagePreview: true,
	}

	var err error
	ok := bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.API.Request(updText)
		if err != nil && strings.Contains(err.Error(), errNotModified) {
			err = nil
		}
		return err == nil
	})
	if !ok {
		if err == nil {
			err = ctx.Err()
		}
		return errors.Wrap(err, "failed updating message text")
	}
	return nil
}

// NotifyExpiry sends a separate "times up" message in the chat's language. It
// implements keeper.Transport.
func (b *TBot) NotifyExpiry(ctx context.Context, chat session.Chat, label string, d time.Duration) error {
	var sb strings.Builder
	sb.WriteString(b.Texts.Text(chat.Lang, locale.TimesUp))
	if label != "" {
		sb.WriteString(" ")
		sb.WriteString(label)
	}
	sb.WriteString(" ")
	sb.WriteString(timer.Format(d))

	_, err := b.send(ctx, tg.NewMessage(chat.ID, sb.String()))
	return err
}

// SendMessage sends txt as a reply to replyTo message unless it's negative.
func (b *TBot) SendMessage(ctx context.Context, chatID int64, txt string, replyTo int) error {
	m := tg.NewMessage(chatID, txt)
	if replyTo >= 0 {
		m.ReplyToMessageID = replyTo
	}
	m.DisableWebPagePreview = true

	_, err := b.send(ctx, m)
	if err != nil {
		b.Logger.Errorw("failed sending message", "chat", chatID, "err", err)
	}
	return err
}

func (b *TBot) send(ctx context.Context, m tg.MessageConfig) (tg.Message, error) {
	var sent tg.Message
	var err error
	ok := bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		sent, err = b.API.Send(m)
		return err == nil
	})
	if !ok {
		if err == nil {
			err = ctx.Err()
		}
		return tg.Message{}, errors.Wrap(err, "failed sending message")
	}
	return sent, nil
}
