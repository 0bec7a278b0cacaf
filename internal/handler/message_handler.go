package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/storage"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

type SendMessageInput struct {
	ChatID   string `json:"chatId"`
	Content  string `json:"content,omitempty"`
	ImageKey string `json:"imageKey,omitempty"`
}

// memberChat fetches a conversation the caller belongs to.
func memberChat(ctx context.Context, deps *AppDeps, chatID, callerID string) (*chat.Chat, *errs.CustomError) {
	if chatID == "" {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}

	c, err := deps.Store.ChatByID(ctx, chatID)
	if err != nil {
		return nil, storeError(err, errs.ErrChatNotFound)
	}
	if !c.HasMember(callerID) {
		return nil, errs.NewError(errs.ErrNotChatMember)
	}
	return c, nil
}

// checkImage confirms the key names an uploaded image. Objects that turn out not to be
// images are removed.
func checkImage(ctx context.Context, deps *AppDeps, key string) *errs.CustomError {
	if customErr := chat.ValidateImageKey(key); customErr != nil {
		return customErr
	}
	if deps.Storage == nil {
		return errs.NewError(errs.ErrStorageDisabled)
	}

	info, err := deps.Storage.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return errs.NewError(errs.ErrImageKeyInvalid)
		}
		return errs.NewError(errs.ErrFileStorageFailed)
	}

	if _, ok := chat.AllowedMIMETypes[strings.ToLower(info.ContentType)]; !ok || info.Size > chat.MaxImageSize {
		logx.Warn("Rejecting stored object that is not an accepted image", "key", key, "content_type", info.ContentType)
		if err := deps.Storage.Delete(ctx, key); err != nil {
			logx.Error(err, "Failed to delete rejected object", "key", key)
		}
		return errs.NewError(errs.ErrImageKeyInvalid)
	}
	return nil
}

// HandleSendMessage persists a message and returns it populated with sender and
// conversation. Socket fan-out is the sender's client's job once this succeeds.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input SendMessageInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if customErr := chat.ValidateContent(input.Content, input.ImageKey); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if _, customErr := memberChat(r.Context(), deps, input.ChatID, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.ImageKey != "" {
			if customErr := checkImage(r.Context(), deps, input.ImageKey); customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
		}

		msg, err := deps.Store.CreateMessage(r.Context(), &chat.Message{
			ChatID:   input.ChatID,
			Sender:   user.Profile{ID: identity.ID},
			Content:  input.Content,
			ImageKey: input.ImageKey,
		})
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrChatNotFound))
			return
		}

		deps.withImageURL(msg)
		resp.RespondSuccess(w, r, msg)
	}
}

// HandleListMessages returns the conversation history, oldest first.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		chatID := chi.URLParam(r, "chatId")

		if _, customErr := memberChat(r.Context(), deps, chatID, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		messages, err := deps.Store.Messages(r.Context(), chatID, limit)
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrChatNotFound))
			return
		}

		for i := range messages {
			deps.withImageURL(&messages[i])
		}
		resp.RespondSuccess(w, r, messages)
	}
}
