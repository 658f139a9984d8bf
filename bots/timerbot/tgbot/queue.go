package tgbot

import (
	"context"
	"sync"

	"abot/bots/timerbot/session"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// keyQueue runs updates of one conversation in arrival order while different
// conversations proceed in parallel. A key has a worker goroutine only while
// it has pending updates.
type keyQueue struct {
	mu      sync.Mutex
	pending map[session.Key][]tg.Update
	wg      sync.WaitGroup
}

func newKeyQueue() *keyQueue {
	return &keyQueue{pending: map[session.Key][]tg.Update{}}
}

func (q *keyQueue) push(key session.Key, upd tg.Update, handle func(tg.Update)) {
	q.mu.Lock()
	list, busy := q.pending[key]
	q.pending[key] = append(list, upd)
	q.mu.Unlock()

	if busy {
		return
	}

	q.wg.Add(1)
	go q.drain(key, handle)
}

func (q *keyQueue) drain(key session.Key, handle func(tg.Update)) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		list := q.pending[key]
		if len(list) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		upd := list[0]
		q.pending[key] = list[1:]
		q.mu.Unlock()

		handle(upd)
	}
}

func (q *keyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

func (q *keyQueue) wait() {
	q.wg.Wait()
}

// Dispatch queues upd behind earlier updates of the same conversation, so
// "/5" followed by "/stop" is never applied in reverse. Updates without a
// conversation share one queue.
func (b *TBot) Dispatch(ctx context.Context, upd tg.Update) {
	key, _ := KeyFromUpdate(upd)
	b.queue.push(key, upd, func(u tg.Update) {
		b.HandleUpdate(ctx, u)
	})
}

// Wait blocks until every dispatched update is handled.
func (b *TBot) Wait() {
	b.queue.wait()
}
