/*
Package handler provides HTTP handler functions for user authentication and management.
*/
package handler

import (
	"errors"
	"net/http"
	"strings"

	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar,omitempty"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// issueToken answers with a fresh identity token and the public profile.
func issueToken(w http.ResponseWriter, r *http.Request, deps *AppDeps, u *user.User, status int) {
	payload := &jwt.Payload{ID: u.ID, Name: u.Name, Email: u.Email}

	token, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.IdentityExpiration)
	if err != nil {
		logx.Error(err, "failed to generate identity token", "user_id", u.ID)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	data := map[string]any{
		"token": token,
		"user":  u.Profile(),
	}
	if status == http.StatusCreated {
		resp.RespondCreated(w, r, data)
		return
	}
	resp.RespondSuccess(w, r, data)
}

// HandleRegister creates an account and signs the caller in.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input RegisterInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		name := strings.TrimSpace(input.Name)
		email := user.NormalizeEmail(input.Email)

		if customErr := user.ValidateName(name); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if customErr := user.ValidateEmail(email); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if customErr := user.ValidatePassword(input.Password); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		hash, err := user.HashPassword(input.Password)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		avatar := strings.TrimSpace(input.Avatar)
		if avatar == "" {
			avatar = randx.DefaultAvatar(name)
		}

		u := &user.User{Name: name, Email: email, Avatar: avatar, PasswordHash: hash}
		if err := deps.Store.CreateUser(r.Context(), u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				logx.Warn("registration conflict: email already exists", "email", email)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}

			logx.Error(err, "failed to create user")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		logx.Info("User registered", "user_id", u.ID)
		issueToken(w, r, deps, u, http.StatusCreated)
	}
}

// HandleLogin verifies user credentials and issues a JWT token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if identity := jwt.GetPayloadFromContext(r); identity != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input LoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		email := user.NormalizeEmail(input.Email)
		if email == "" || input.Password == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		u, err := deps.Store.UserByEmail(r.Context(), email)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logx.Error(err, "login: user fetch failed")
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if !u.CheckPassword(input.Password) {
			logx.Warn("login: password mismatch", "user_id", u.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		issueToken(w, r, deps, u, http.StatusOK)
	}
}
