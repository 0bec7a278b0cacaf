package handler

import (
	"errors"
	"net/http"
	"strings"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// DirectChatName is stored as the name of direct conversations; clients show the other
// member instead.
const DirectChatName = "sender"

type AccessChatInput struct {
	UserID string `json:"userId"`
}

type CreateGroupInput struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

type RenameGroupInput struct {
	ChatID string `json:"chatId"`
	Name   string `json:"chatName"`
}

type GroupMemberInput struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// HandleAccessChat returns the direct conversation with another user, creating it on
// first contact.
func HandleAccessChat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input AccessChatInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.UserID == "" || input.UserID == identity.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		existing, err := deps.Store.DirectChat(r.Context(), identity.ID, input.UserID)
		if err == nil {
			deps.chatImageURLs(existing)
			resp.RespondSuccess(w, r, existing)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		created, err := deps.Store.CreateChat(r.Context(), &chat.Chat{
			Name:  DirectChatName,
			Users: []user.Profile{{ID: identity.ID}, {ID: input.UserID}},
		})
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with the other member opening the same chat.
			created, err = deps.Store.DirectChat(r.Context(), identity.ID, input.UserID)
		}
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrUserNotFound))
			return
		}

		logx.Info("Direct chat created", "chat_id", created.ID)
		deps.chatImageURLs(created)
		resp.RespondSuccess(w, r, created)
	}
}

// HandleListChats lists the caller's conversations, most recently active first.
func HandleListChats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		chats, err := deps.Store.ChatsOf(r.Context(), identity.ID)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		for i := range chats {
			deps.chatImageURLs(&chats[i])
		}
		resp.RespondSuccess(w, r, chats)
	}
}

// HandleCreateGroup creates a group administered by the caller.
func HandleCreateGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input CreateGroupInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		others := make([]string, 0, len(input.Users))
		for _, id := range chat.Dedupe(input.Users) {
			if id != identity.ID {
				others = append(others, id)
			}
		}

		if customErr := chat.ValidateGroup(input.Name, others); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		members := []user.Profile{{ID: identity.ID}}
		for _, id := range others {
			members = append(members, user.Profile{ID: id})
		}

		group, err := deps.Store.CreateChat(r.Context(), &chat.Chat{
			Name:    strings.TrimSpace(input.Name),
			IsGroup: true,
			Users:   members,
			Admin:   &user.Profile{ID: identity.ID},
		})
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrUserNotFound))
			return
		}

		logx.Info("Group chat created", "chat_id", group.ID, "members", len(group.Users))
		resp.RespondCreated(w, r, group)
	}
}

// loadGroup fetches a group the caller belongs to.
func loadGroup(r *http.Request, deps *AppDeps, chatID, callerID string) (*chat.Chat, *errs.CustomError) {
	if chatID == "" {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}

	c, err := deps.Store.ChatByID(r.Context(), chatID)
	if err != nil {
		return nil, storeError(err, errs.ErrChatNotFound)
	}
	if !c.IsGroup {
		return nil, errs.NewError(errs.ErrNotGroupChat)
	}
	if !c.HasMember(callerID) {
		return nil, errs.NewError(errs.ErrNotChatMember)
	}
	return c, nil
}

// HandleRenameGroup renames a group. Any member may rename it.
func HandleRenameGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input RenameGroupInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		name := strings.TrimSpace(input.Name)
		if name == "" || len([]rune(name)) > chat.MaxGroupNameRunes {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if _, customErr := loadGroup(r, deps, input.ChatID, identity.ID); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		renamed, err := deps.Store.RenameChat(r.Context(), input.ChatID, name)
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrChatNotFound))
			return
		}

		deps.chatImageURLs(renamed)
		resp.RespondSuccess(w, r, renamed)
	}
}

// HandleAddToGroup adds a user to a group. Only the admin may add members.
func HandleAddToGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input GroupMemberInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if input.UserID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		group, customErr := loadGroup(r, deps, input.ChatID, identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if !group.IsAdmin(identity.ID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupAdmin))
			return
		}

		updated, err := deps.Store.AddMember(r.Context(), input.ChatID, input.UserID)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				// Already a member: the request is satisfied.
				deps.chatImageURLs(group)
				resp.RespondSuccess(w, r, group)
				return
			}
			resp.RespondError(w, r, storeError(err, errs.ErrUserNotFound))
			return
		}

		deps.chatImageURLs(updated)
		resp.RespondSuccess(w, r, updated)
	}
}

// HandleRemoveFromGroup removes a member. The admin may remove anyone; other members
// may only remove themselves.
func HandleRemoveFromGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input GroupMemberInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if input.UserID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		group, customErr := loadGroup(r, deps, input.ChatID, identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if input.UserID != identity.ID && !group.IsAdmin(identity.ID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupAdmin))
			return
		}

		updated, err := deps.Store.RemoveMember(r.Context(), input.ChatID, input.UserID)
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrChatNotFound))
			return
		}

		deps.chatImageURLs(updated)
		resp.RespondSuccess(w, r, updated)
	}
}
