// Package session keeps per-conversation state of the timer bot.
package session

import (
	"context"
	"strconv"

	"abot/bots/timerbot/timer"

	"github.com/pkg/errors"
)

var ErrNoConversation = errors.New("conversation can't be identified")

// Key identifies a conversation: a user in a chat, or a user on their own for
// inline queries.
type Key string

// NewKey derives the key of user usr in chat cht.
func NewKey(usr, cht int64) Key {
	return Key(strconv.FormatInt(usr, 10) + ":" + strconv.FormatInt(cht, 10))
}

// InlineKey derives the key of an inline-query context which has no chat.
func InlineKey(usr int64) Key {
	return NewKey(usr, usr)
}

// EditTarget addresses the status message. InlineMessageID takes precedence
// over ChatID and MessageID when set.
type EditTarget struct {
	ChatID          int64  `json:"chat_id,omitempty"`
	MessageID       int    `json:"message_id,omitempty"`
	InlineMessageID string `json:"inline_message_id,omitempty"`
}

// RenderState tells whether the last status message can be edited in place.
type RenderState struct {
	CanEdit bool       `json:"can_edit"`
	Target  EditTarget `json:"target"`
}

// Reset makes the next status a freshly sent message.
func (r *RenderState) Reset() {
	*r = RenderState{}
}

// SetTarget remembers where the status was sent so it can be edited later.
func (r *RenderState) SetTarget(t EditTarget) {
	r.Target = t
	r.CanEdit = true
}

// Chat is where a conversation's messages go and the language they are
// written in.
type Chat struct {
	ID   int64  `json:"id"`
	Lang string `json:"lang,omitempty"`
}

// State is everything the bot knows about a conversation.
type State struct {
	Chat   Chat        `json:"chat"`
	Timers timer.Set   `json:"timers"`
	Render RenderState `json:"render"`
}

// Clone returns a deep copy of st.
func (st *State) Clone() *State {
	c := *st
	c.Timers.List = st.Timers.Timers()
	return &c
}

// Store persists conversation state.
type Store interface {
	// Load returns the state of key, or an empty state if nothing is stored.
	Load(ctx context.Context, key Key) (*State, error)
	Save(ctx context.Context, key Key, st *State) error
	Wipe(ctx context.Context, key Key) error
}
