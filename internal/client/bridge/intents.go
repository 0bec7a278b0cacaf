package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/realtime"
)

// idOf reads the id carried by presence and typing payloads: a bare string or an
// object with an id.
func idOf(data []byte) (string, error) {
	result := gjson.ParseBytes(data)
	switch {
	case result.Type == gjson.String && result.Str != "":
		return result.Str, nil
	case result.IsObject():
		if id := result.Get("id"); id.Type == gjson.String && id.Str != "" {
			return id.Str, nil
		}
	}
	return "", fmt.Errorf("%w: id", realtime.ErrMissingField)
}

// JoinChat subscribes the session to a conversation's events.
func (b *Bridge) JoinChat(ctx context.Context, chatID string) error {
	return b.run(ctx, func() error {
		return b.emit(realtime.EventJoinChat, chatID)
	})
}

// LeaveChat unsubscribes the session from a conversation.
func (b *Bridge) LeaveChat(ctx context.Context, chatID string) error {
	return b.run(ctx, func() error {
		return b.emit(realtime.EventLeaveChat, chatID)
	})
}

// OpenChat makes chatID the open conversation: the previous one is left, unread state
// is reset, history seeds the message list and the room is joined.
func (b *Bridge) OpenChat(ctx context.Context, chatID string, history []chat.Message) error {
	return b.run(ctx, func() error {
		prev := b.store.SelectedChat()
		if prev != "" && prev != chatID {
			b.stopTyping()
			if err := b.emit(realtime.EventLeaveChat, prev); err != nil {
				return err
			}
		}

		b.store.SelectChat(chatID)
		b.store.SetMessages(chatID, history)
		return b.emit(realtime.EventJoinChat, chatID)
	})
}

// CloseChat leaves the open conversation, if any.
func (b *Bridge) CloseChat(ctx context.Context) error {
	return b.run(ctx, func() error {
		prev := b.store.SelectedChat()
		if prev == "" {
			return nil
		}
		b.stopTyping()
		b.store.CloseChat()
		return b.emit(realtime.EventLeaveChat, prev)
	})
}

// NotifyTyping reports a keystroke in the open conversation. typing is sent once per
// burst; stop-typing follows after TypingIdle without further keystrokes.
func (b *Bridge) NotifyTyping(ctx context.Context) error {
	return b.run(ctx, func() error {
		chatID := b.store.SelectedChat()
		if chatID == "" {
			return ErrNoChatOpen
		}

		if b.typingChat != chatID {
			b.stopTyping()
			if err := b.emit(realtime.EventTyping, chatID); err != nil {
				return err
			}
			b.typingChat = chatID
		}

		b.armIdle()
		return nil
	})
}

// StopTyping sends stop-typing now if a typing burst is in progress.
func (b *Bridge) StopTyping(ctx context.Context) error {
	return b.run(ctx, func() error {
		b.stopTyping()
		return nil
	})
}

// PublishMessage fans out a message the server already persisted. It is appended to
// the open conversation at once; the echo from the hub is deduplicated by id.
func (b *Bridge) PublishMessage(ctx context.Context, m chat.Message) error {
	if m.ID == "" || m.Chat == nil || len(m.Chat.Users) == 0 {
		return ErrUnpopulated
	}

	return b.run(ctx, func() error {
		b.store.AppendLocal(m)
		if b.typingChat == m.ConversationID() {
			b.stopTyping()
		}
		err := b.emit(realtime.EventNewMessage, m)
		b.notify(realtime.EventNewMessage)
		return err
	})
}

// armIdle runs on the loop.
func (b *Bridge) armIdle() {
	b.cancelIdle()

	gen := b.idleGen
	b.idleTimer = time.AfterFunc(b.cfg.TypingIdle, func() {
		b.loop.Post(func() {
			if b.idleGen == gen {
				b.stopTyping()
			}
		})
	})
}

func (b *Bridge) cancelIdle() {
	b.idleGen++
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
}

// stopTyping runs on the loop.
func (b *Bridge) stopTyping() {
	b.cancelIdle()
	if b.typingChat == "" {
		return
	}

	chatID := b.typingChat
	b.typingChat = ""
	if err := b.emit(realtime.EventStopTyping, chatID); err != nil {
		b.logger.Debug().Err(err).Str("chat_id", chatID).Msg("stop-typing not sent")
	}
}
