package timerbot

import (
	"context"
	"net/http"
	"time"

	"abot/bot"
	"abot/bots/timerbot/keeper"
	"abot/bots/timerbot/locale"
	"abot/bots/timerbot/session"
	"abot/bots/timerbot/tgbot"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	Name = "TimerBot"

	pollTimeout = 60 // seconds
)

type TimerBot struct {
	tbot  *tgbot.TBot
	close func()
}

func (tb *TimerBot) Init(cfg *bot.Config, l *zap.SugaredLogger) (*bot.Context, error) {
	store, closeStore, err := openStore(cfg, l)
	if err != nil {
		l.Errorw("failed to initialize session store", "err", err)
		return nil, err
	}

	// long polling holds a request for up to pollTimeout
	client := &http.Client{Timeout: pollTimeout*time.Second + cfg.RequestTimeout}
	b, err := tg.NewBotAPIWithClient(cfg.TgToken, tg.APIEndpoint, client)
	if err != nil {
		l.Errorw("failed to initialize Telegram Bot", "err", err)
		closeStore()
		return nil, err
	}

	b.Debug = cfg.Debug

	l.Infof("authorized on account %q (%q, %d)", b.Self.FirstName, b.Self.UserName, b.Self.ID)

	tbot := tgbot.NewTBot(b, locale.Builtin(), l)
	tbot.RetryAttempts = cfg.RetryAttempts
	tbot.RetryDelay = cfg.RetryDelay
	tbot.Keeper = keeper.New(store, tbot, keeper.Options{
		Limit:          time.Duration(cfg.MaxTimerMinutes) * time.Minute,
		RequestTimeout: cfg.RequestTimeout,
		TickInterval:   cfg.TickInterval,
	}, l)

	tb.tbot = tbot
	tb.close = closeStore

	return bot.NewContext(b, l), nil
}

// openStore picks PostgreSQL when a connection string is configured and keeps
// sessions in memory otherwise.
func openStore(cfg *bot.Config, l *zap.SugaredLogger) (session.Store, func(), error) {
	if cfg.DBConnStr == "" {
		l.Info("keeping sessions in memory")
		return session.NewMemoryStore(), func() {}, nil
	}

	ctx := context.Background()
	pg, err := session.NewPgStore(ctx, cfg.DBConnStr, cfg.DBTimeout)
	if err != nil {
		return nil, nil, err
	}

	if err = pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}

	n, err := pg.Purge(ctx)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	l.Infof("keeping sessions in database; dropped %d stale session(s)", n)

	return pg, pg.Close, nil
}

func (tb *TimerBot) Run(ctx context.Context, bctx *bot.Context) {
	if bctx == nil {
		return
	}
	if bctx.Bot == nil || tb.tbot == nil {
		bctx.Logger.Warn("Bot can't run")
		return
	}
	defer tb.close()

	uCfg := tg.NewUpdate(0)
	uCfg.Timeout = pollTimeout

	updates := bctx.Bot.GetUpdatesChan(uCfg)
	for {
		select {
		case <-ctx.Done():
			bctx.Bot.StopReceivingUpdates()
			tb.tbot.Wait()
			tb.tbot.Keeper.Shutdown()
			bctx.Logger.Info("bot stopped")
			return

		case u, ok := <-updates:
			if !ok {
				tb.tbot.Wait()
				tb.tbot.Keeper.Shutdown()
				return
			}
			tb.tbot.Dispatch(ctx, u)
		}
	}
}

func init() {
	bot.Register(Name, &TimerBot{}, bot.CfgTgToken)
}
