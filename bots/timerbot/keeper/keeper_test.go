package keeper

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"abot/bots/timerbot/session"
	"abot/bots/timerbot/timer"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const chatID = 200

var (
	key  = session.NewKey(100, chatID)
	chat = session.Chat{ID: chatID}
)

type notification struct {
	chatID int64
	label  string
	d      time.Duration
}

type fakeTransport struct {
	mu         sync.Mutex
	sent       []string
	edits      []string
	notes      []notification
	targets    []session.EditTarget
	nextID     int
	failSend   error
	failEdit   error
	failNotify error
}

func (f *fakeTransport) Send(_ context.Context, chat session.Chat, text string) (session.EditTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSend != nil {
		return session.EditTarget{}, f.failSend
	}
	f.nextID++
	f.sent = append(f.sent, text)
	return session.EditTarget{ChatID: chat.ID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) Edit(_ context.Context, target session.EditTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failEdit != nil {
		return f.failEdit
	}
	f.edits = append(f.edits, text)
	f.targets = append(f.targets, target)
	return nil
}

func (f *fakeTransport) NotifyExpiry(_ context.Context, chat session.Chat, label string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNotify != nil {
		return f.failNotify
	}
	f.notes = append(f.notes, notification{chat.ID, label, d})
	return nil
}

type fixture struct {
	k     *Keeper
	tr    *fakeTransport
	store *session.MemoryStore
	clk   clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		tr:    &fakeTransport{},
		store: session.NewMemoryStore(),
		clk:   clock.NewFake(),
	}
	// the background ticker never fires during a test, ticks are driven by hand
	f.k = New(f.store, f.tr, Options{Clock: f.clk, TickInterval: time.Hour}, zap.NewNop().Sugar())
	t.Cleanup(f.k.Shutdown)
	return f
}

func (f *fixture) tick() {
	f.k.tick(context.Background(), key)
}

func (f *fixture) state(t *testing.T) *session.State {
	t.Helper()

	st, err := f.store.Load(context.Background(), key)
	require.NoError(t, err)
	return st
}

func TestTeaScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.k.StartTimer(ctx, key, chat, 5, "tea"))
	assert.True(t, f.k.Running(key))

	f.clk.Add(time.Second)
	f.tick()
	require.Len(t, f.tr.sent, 1)
	assert.Equal(t, "04:59 — tea", f.tr.sent[0])
	assert.True(t, f.state(t).Render.CanEdit)

	f.clk.Add(time.Minute)
	f.tick()
	require.Len(t, f.tr.edits, 1, "status is edited in place after the first send")
	assert.Equal(t, "03:59 — tea", f.tr.edits[0])
	assert.Equal(t, session.EditTarget{ChatID: chatID, MessageID: 1}, f.tr.targets[0])
	assert.Empty(t, f.tr.notes)

	f.clk.Add(4 * time.Minute)
	f.tick()
	require.Len(t, f.tr.notes, 1)
	assert.Equal(t, notification{chatID, "tea", 5 * time.Minute}, f.tr.notes[0])
	assert.True(t, strings.HasSuffix(f.tr.edits[1], "*EXPIRED*"))

	assert.False(t, f.k.Running(key))
	st := f.state(t)
	assert.Zero(t, st.Timers.Len())
	assert.False(t, st.Render.CanEdit)

	f.clk.Add(time.Second)
	f.tick()
	assert.Len(t, f.tr.notes, 1, "no second notification")
	assert.Len(t, f.tr.sent, 1)
}

func TestNotifiesEachTimerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.k.StartTimer(ctx, key, chat, 1, "first"))
	require.NoError(t, f.k.StartTimer(ctx, key, chat, 2, "second"))

	f.clk.Add(time.Minute)
	f.tick()
	f.tick()
	require.Len(t, f.tr.notes, 1)
	assert.Equal(t, "first", f.tr.notes[0].label)
	assert.True(t, f.k.Running(key))

	f.clk.Add(time.Minute)
	f.tick()
	require.Len(t, f.tr.notes, 2)
	assert.Equal(t, "second", f.tr.notes[1].label)
	assert.False(t, f.k.Running(key))
}

func TestStartTimer_InvalidDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// times a minute it wraps around int64 to exactly 5 minutes
	var wraps int64 = 1<<53 + 5

	for _, minutes := range []int{0, -1, int(timer.DefaultLimit/time.Minute) + 1, int(wraps)} {
		err := f.k.StartTimer(ctx, key, chat, minutes, "")
		assert.True(t, errors.Is(err, timer.ErrInvalidDuration), "minutes %d", minutes)
	}

	assert.False(t, f.k.Running(key))
	assert.Zero(t, f.state(t).Timers.Len())
}

func TestStartTimer_ConcurrentCallsShareOneTask(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.k.StartTimer(context.Background(), key, chat, 3, ""))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, f.state(t).Timers.Len())
	assert.Equal(t, 1, f.k.scheduler.Len())
	assert.Zero(t, f.k.locks.len())
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.k.StartTimer(ctx, key, chat, 3, "pasta"))
	f.clk.Add(time.Second)
	f.tick()
	require.True(t, f.state(t).Render.CanEdit)

	require.NoError(t, f.k.StopAll(ctx, key))
	assert.False(t, f.k.Running(key))
	st := f.state(t)
	assert.Zero(t, st.Timers.Len())
	assert.False(t, st.Render.CanEdit)

	// a new timer starts with a fresh status message
	require.NoError(t, f.k.StartTimer(ctx, key, chat, 1, ""))
	f.tick()
	assert.Len(t, f.tr.sent, 2)
}

func TestStopAll_WithoutTimers(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.k.StopAll(context.Background(), key))
	assert.NoError(t, f.k.StopAll(context.Background(), key))
	assert.False(t, f.k.Running(key))
}

func TestWipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.k.StartTimer(ctx, key, chat, 3, ""))
	require.NoError(t, f.k.Wipe(ctx, key))

	assert.False(t, f.k.Running(key))
	assert.Zero(t, f.state(t).Timers.Len())
}

func TestUnresolvableKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, session.ErrNoConversation, f.k.StartTimer(ctx, "", chat, 3, ""))
	assert.Equal(t, session.ErrNoConversation, f.k.StopAll(ctx, ""))
	assert.Equal(t, session.ErrNoConversation, f.k.Wipe(ctx, ""))
}

func TestTransportFailureKeepsTicking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.k.StartTimer(ctx, key, chat, 1, "soup"))
	require.NoError(t, f.k.StartTimer(ctx, key, chat, 2, ""))

	f.tr.failSend = errors.New("network is down")
	f.tr.failNotify = errors.New("network is down")

	f.clk.Add(time.Minute)
	f.tick()
	assert.True(t, f.k.Running(key))
	assert.False(t, f.state(t).Render.CanEdit)
	assert.Empty(t, f.tr.notes, "failed notification isn't retried")

	f.tr.failSend = nil
	f.tick()
	assert.Len(t, f.tr.sent, 1)
	assert.True(t, f.state(t).Render.CanEdit)

	f.tr.failEdit = errors.New("message to edit not found")
	f.tick()
	assert.True(t, f.k.Running(key))
	assert.True(t, f.state(t).Render.CanEdit)
}

func TestTick_CancelledTaskDoesNothing(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.k.StartTimer(context.Background(), key, chat, 1, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.clk.Add(time.Minute)
	f.k.tick(ctx, key)

	assert.Empty(t, f.tr.sent)
	assert.Empty(t, f.tr.notes)
	assert.False(t, f.state(t).Timers.List[0].Expired)
}

func TestStartTimer_AfterShutdown(t *testing.T) {
	f := newFixture(t)
	f.k.Shutdown()

	err := f.k.StartTimer(context.Background(), key, chat, 1, "")
	assert.Equal(t, ErrShutdown, err)
	assert.Zero(t, f.state(t).Timers.Len(), "nothing is stored for a timer that never ticks")
	assert.Zero(t, f.k.scheduler.Len())
}

type failingStore struct {
	*session.MemoryStore
	saveErr error
}

func (s *failingStore) Save(ctx context.Context, key session.Key, st *session.State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.Save(ctx, key, st)
}

func TestStartTimer_SaveFailureStopsNewTask(t *testing.T) {
	store := &failingStore{MemoryStore: session.NewMemoryStore(), saveErr: errors.New("disk is full")}
	k := New(store, &fakeTransport{}, Options{Clock: clock.NewFake(), TickInterval: time.Hour}, zap.NewNop().Sugar())
	t.Cleanup(k.Shutdown)
	ctx := context.Background()

	assert.Error(t, k.StartTimer(ctx, key, chat, 1, ""))
	assert.False(t, k.Running(key))

	// a running conversation keeps ticking its stored timers
	store.saveErr = nil
	require.NoError(t, k.StartTimer(ctx, key, chat, 1, ""))
	store.saveErr = errors.New("disk is full")
	assert.Error(t, k.StartTimer(ctx, key, chat, 2, ""))
	assert.True(t, k.Running(key))
}

func TestStartTimer_KeepsChatLanguage(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.k.StartTimer(context.Background(), key, session.Chat{ID: chatID, Lang: "ru"}, 1, ""))
	assert.Equal(t, session.Chat{ID: chatID, Lang: "ru"}, f.state(t).Chat)
}
