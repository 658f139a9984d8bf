// Package keeper drives the timers of every conversation: it accepts commands,
// ticks running conversations and keeps the status message up to date.
package keeper

import (
	"context"
	"time"

	"abot/bots/timerbot/scheduler"
	"abot/bots/timerbot/session"
	"abot/bots/timerbot/timer"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

var ErrShutdown = errors.New("keeper is shut down")

// Transport delivers messages to a chat.
type Transport interface {
	// Send posts a new message and returns where it can be edited.
	Send(ctx context.Context, chat session.Chat, text string) (session.EditTarget, error)
	Edit(ctx context.Context, target session.EditTarget, text string) error
	// NotifyExpiry tells the chat that a timer of duration d is over.
	NotifyExpiry(ctx context.Context, chat session.Chat, label string, d time.Duration) error
}

type Options struct {
	Clock          clock.Clock
	Limit          time.Duration // longest accepted timer
	RequestTimeout time.Duration // bound of a single transport or store call
	TickInterval   time.Duration
}

type Keeper struct {
	store     session.Store
	transport Transport
	scheduler *scheduler.Scheduler
	locks     *keyLocks
	logger    *zap.SugaredLogger

	clk            clock.Clock
	limit          time.Duration
	requestTimeout time.Duration
}

func New(store session.Store, transport Transport, opts Options, l *zap.SugaredLogger) *Keeper {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Limit <= 0 {
		opts.Limit = timer.DefaultLimit
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	return &Keeper{
		store:          store,
		transport:      transport,
		scheduler:      scheduler.New(opts.TickInterval, l),
		locks:          newKeyLocks(),
		logger:         l,
		clk:            opts.Clock,
		limit:          opts.Limit,
		requestTimeout: opts.RequestTimeout,
	}
}

// Limit returns the longest accepted timer.
func (k *Keeper) Limit() time.Duration {
	return k.limit
}

// StartTimer adds a timer of the given minutes to the conversation and makes
// sure the conversation ticks. Durations out of range are rejected with
// timer.ErrInvalidDuration and don't affect running timers.
func (k *Keeper) StartTimer(ctx context.Context, key session.Key, chat session.Chat, minutes int, label string) error {
	if key == "" {
		return session.ErrNoConversation
	}

	// checked on minutes: converting first may overflow into a valid duration
	if minutes < 1 || minutes > int(k.limit/time.Minute) {
		return errors.Wrapf(timer.ErrInvalidDuration, "%d minutes", minutes)
	}

	unlock := k.locks.lock(key)
	defer unlock()

	st, err := k.store.Load(ctx, key)
	if err != nil {
		return errors.Wrap(err, "failed loading session")
	}

	t, err := st.Timers.Add(time.Duration(minutes)*time.Minute, label, k.clk.Now(), k.limit)
	if err != nil {
		return err
	}
	st.Chat = chat

	// the task can't tick before the lock is released, so it's started ahead
	// of saving and nothing is stored once the keeper is shut down
	started := k.scheduler.EnsureStarted(string(key), k.tickFunc(key))
	if !started && !k.scheduler.Active(string(key)) {
		return ErrShutdown
	}

	if err = k.store.Save(ctx, key, st); err != nil {
		if started {
			k.scheduler.Stop(string(key))
		}
		return errors.Wrap(err, "failed saving session")
	}

	k.logger.Infow("timer started", "key", key, "duration", t.Duration, "label", t.Label, "timers", st.Timers.Len())
	return nil
}

// StopAll stops ticking and forgets timers of the conversation regardless of
// their state. It's a no-op when the conversation has nothing running.
func (k *Keeper) StopAll(ctx context.Context, key session.Key) error {
	if key == "" {
		return session.ErrNoConversation
	}

	unlock := k.locks.lock(key)
	defer unlock()

	stopped := k.scheduler.Stop(string(key))

	st, err := k.store.Load(ctx, key)
	if err != nil {
		return errors.Wrap(err, "failed loading session")
	}

	if !stopped && st.Timers.Len() == 0 && !st.Render.CanEdit {
		return nil
	}

	st.Timers.Clear()
	st.Render.Reset()
	if err = k.store.Save(ctx, key, st); err != nil {
		return errors.Wrap(err, "failed saving session")
	}

	k.logger.Infow("timers cleared", "key", key)
	return nil
}

// Wipe stops ticking and deletes everything stored about the conversation.
func (k *Keeper) Wipe(ctx context.Context, key session.Key) error {
	if key == "" {
		return session.ErrNoConversation
	}

	unlock := k.locks.lock(key)
	defer unlock()

	k.scheduler.Stop(string(key))
	if err := k.store.Wipe(ctx, key); err != nil {
		return errors.Wrap(err, "failed wiping session")
	}

	k.logger.Infow("session wiped", "key", key)
	return nil
}

// Running reports whether the conversation ticks.
func (k *Keeper) Running(key session.Key) bool {
	return k.scheduler.Active(string(key))
}

// Shutdown stops all conversations and waits for in-flight ticks.
func (k *Keeper) Shutdown() {
	k.scheduler.Shutdown()
}

func (k *Keeper) tickFunc(key session.Key) scheduler.TickFunc {
	return func(ctx context.Context) {
		k.tick(ctx, key)
	}
}

// tick is a single evaluation of the conversation's timers.
func (k *Keeper) tick(ctx context.Context, key session.Key) {
	unlock := k.locks.lock(key)
	defer unlock()

	// stopped while waiting for the lock
	if ctx.Err() != nil {
		return
	}

	l := k.logger.With("key", key)

	st, err := k.load(ctx, key)
	if err != nil {
		l.Errorw("failed loading session", "err", err)
		return
	}

	now := k.clk.Now()
	for _, t := range st.Timers.Tick(now) {
		if err := k.notify(ctx, st.Chat, t); err != nil {
			l.Errorw("failed notifying timer expiry", "label", t.Label, "err", err)
		}
	}

	if txt := timer.Render(st.Timers.Timers(), now); txt != "" {
		k.showStatus(ctx, l, st, txt)
	} else {
		l.Debug("nothing to show")
	}

	// nothing left to tick
	if st.Timers.Len() == 0 || st.Timers.AllExpired() {
		k.scheduler.Stop(string(key))
		st.Timers.Clear()
		st.Render.Reset()
		l.Info("ticking finished")
	}

	if err := k.save(ctx, key, st); err != nil {
		l.Errorw("failed saving session", "err", err)
	}
}

// showStatus edits the status message in place or sends a fresh one. Failures
// drop this cycle's status.
func (k *Keeper) showStatus(ctx context.Context, l *zap.SugaredLogger, st *session.State, txt string) {
	ctx, cancel := context.WithTimeout(ctx, k.requestTimeout)
	defer cancel()

	if st.Render.CanEdit {
		if err := k.transport.Edit(ctx, st.Render.Target, txt); err != nil {
			l.Errorw("failed editing status", "err", err)
		}
		return
	}

	target, err := k.transport.Send(ctx, st.Chat, txt)
	if err != nil {
		l.Errorw("failed sending status", "err", err)
		return
	}
	st.Render.SetTarget(target)
}

func (k *Keeper) notify(ctx context.Context, chat session.Chat, t timer.Timer) error {
	ctx, cancel := context.WithTimeout(ctx, k.requestTimeout)
	defer cancel()

	return k.transport.NotifyExpiry(ctx, chat, t.Label, t.Duration)
}

func (k *Keeper) load(ctx context.Context, key session.Key) (*session.State, error) {
	ctx, cancel := context.WithTimeout(ctx, k.requestTimeout)
	defer cancel()

	return k.store.Load(ctx, key)
}

// save doesn't inherit cancellation: the state of a tick that stopped its own
// task must still be stored.
func (k *Keeper) save(ctx context.Context, key session.Key, st *session.State) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.requestTimeout)
	defer cancel()

	return k.store.Save(ctx, key, st)
}
