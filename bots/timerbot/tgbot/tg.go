package tgbot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"abot/bots/timerbot/keeper"
	"abot/bots/timerbot/locale"
	"abot/bots/timerbot/session"
	"abot/bots/timerbot/timer"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// sender is the part of tg.BotAPI the bot uses.
type sender interface {
	Send(c tg.Chattable) (tg.Message, error)
	Request(c tg.Chattable) (*tg.APIResponse, error)
}

type Command struct {
	Name string
}

func makeCommand(name string) *Command {
	return &Command{Name: name}
}

var (
	cmdStart  = makeCommand("start")
	cmdHelp   = makeCommand("help")
	cmdStop   = makeCommand("stop")
	cmdCancel = makeCommand("cancel")
	cmdWipe   = makeCommand("wipe")
)

// timer commands look like /5, /5 tea or /5tea
var reTimerCommand = regexp.MustCompile(`^(\d+)(.*)$`)

// longer numbers are out of range for any limit
const maxMinuteDigits = 5

type TBot struct {
	API           sender
	Keeper        *keeper.Keeper
	Texts         *locale.Catalog
	Logger        *zap.SugaredLogger
	RetryAttempts int
	RetryDelay    time.Duration

	queue *keyQueue
}

func NewTBot(api sender, texts *locale.Catalog, l *zap.SugaredLogger) *TBot {
	return &TBot{
		API:           api,
		Texts:         texts,
		Logger:        l,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		queue:         newKeyQueue(),
	}
}

// KeyFromUpdate derives the conversation key: user and chat for messages, the
// user alone for inline queries.
func KeyFromUpdate(upd tg.Update) (session.Key, error) {
	switch {
	case upd.Message != nil:
		msg := upd.Message
		if msg.From == nil || msg.Chat == nil {
			return "", session.ErrNoConversation
		}
		return session.NewKey(msg.From.ID, msg.Chat.ID), nil

	case upd.InlineQuery != nil:
		if upd.InlineQuery.From == nil {
			return "", session.ErrNoConversation
		}
		return session.InlineKey(upd.InlineQuery.From.ID), nil
	}

	return "", session.ErrNoConversation
}

// HandleUpdate handles commands sent in messages; other updates are ignored.
func (b *TBot) HandleUpdate(ctx context.Context, upd tg.Update) {
	key, keyErr := KeyFromUpdate(upd)

	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		b.Logger.Debugw("skipping update", "id", upd.UpdateID, "key", key)
		return
	}

	if !msg.IsCommand() {
		return
	}

	lang := ""
	if msg.From != nil {
		lang = msg.From.LanguageCode
	}
	if keyErr != nil {
		b.Logger.Warnw("command without conversation", "chat", msg.Chat.ID, "err", keyErr)
		b.SendMessage(ctx, msg.Chat.ID, b.Texts.Text(lang, locale.NoConversation), msg.MessageID)
		return
	}

	b.Logger.Debugw("command received", "key", key, "text", msg.Text)
	b.HandleCommand(ctx, key, lang, msg)
}

func (b *TBot) HandleCommand(ctx context.Context, key session.Key, lang string, msg *tg.Message) {
	cht := msg.Chat.ID
	chat := session.Chat{ID: cht, Lang: lang}
	l := b.Logger.With("key", key)

	switch cmd := msg.Command(); cmd {
	case cmdStart.Name:
		b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Start), -1)

	case cmdHelp.Name:
		b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Help), -1)

	case cmdStop.Name, cmdCancel.Name:
		if err := b.Keeper.StopAll(ctx, key); err != nil {
			l.Errorw("failed stopping timers", "err", err)
			b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Failure), msg.MessageID)
			return
		}
		b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Stopped), -1)

	case cmdWipe.Name:
		if err := b.Keeper.Wipe(ctx, key); err != nil {
			l.Errorw("failed wiping session", "err", err)
			b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Failure), msg.MessageID)
			return
		}
		b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Wiped), -1)

	default:
		minutes, label, ok := parseTimerCommand(cmd, msg.CommandArguments())
		if !ok {
			b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.UnknownCommand), msg.MessageID)
			return
		}

		err := b.Keeper.StartTimer(ctx, key, chat, minutes, label)
		switch {
		case errors.Is(err, timer.ErrInvalidDuration):
			l.Infow("rejected timer", "minutes", minutes, "err", err)
			maxMinutes := int(b.Keeper.Limit() / time.Minute)
			b.SendMessage(ctx, cht, fmt.Sprintf(b.Texts.Text(lang, locale.InvalidDuration), maxMinutes), msg.MessageID)
		case err != nil:
			l.Errorw("failed starting timer", "err", err)
			b.SendMessage(ctx, cht, b.Texts.Text(lang, locale.Failure), msg.MessageID)
		}
	}
}

// parseTimerCommand extracts minutes and label from a command like "5tea" with
// arguments. Numbers longer than maxMinuteDigits are reported as -1 minutes so
// that they are rejected as out of range.
func parseTimerCommand(cmd, args string) (int, string, bool) {
	m := reTimerCommand.FindStringSubmatch(cmd)
	if m == nil {
		return 0, "", false
	}

	minutes := -1
	if len(m[1]) <= maxMinuteDigits {
		minutes, _ = strconv.Atoi(m[1])
	}

	label := strings.TrimSpace(strings.TrimSpace(m[2]) + " " + strings.TrimSpace(args))
	return minutes, label, true
}
