package handler

import (
	"errors"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/realtime"
	"relaychat/internal/app/storage"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
)

// AppDeps carries everything the handlers need. Storage is nil when uploads are not
// configured.
type AppDeps struct {
	Config  *configs.AppConfig
	Store   store.Store
	Hub     *realtime.Hub
	Storage storage.Service
	Pow     *pow.Manager
	Limits  Limits
}

// withImageURL fills ImageURL on a message and on the latest message of its conversation.
func (d *AppDeps) withImageURL(m *chat.Message) {
	if m == nil {
		return
	}
	if m.ImageKey != "" && d.Storage != nil {
		m.ImageURL = d.Storage.PublicURL(m.ImageKey)
	}
	if m.Chat != nil {
		d.chatImageURLs(m.Chat)
	}
}

func (d *AppDeps) chatImageURLs(c *chat.Chat) {
	if c != nil && c.LatestMessage != nil {
		d.withImageURL(c.LatestMessage)
	}
}

// storeError maps a store failure onto the business code for the resource involved.
func storeError(err error, notFound int) *errs.CustomError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NewError(notFound)
	case errors.Is(err, store.ErrNotMember):
		return errs.NewError(errs.ErrNotChatMember)
	default:
		return errs.NewError(errs.ErrUnknown, err)
	}
}
