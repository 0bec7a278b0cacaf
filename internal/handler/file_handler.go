package handler

import (
	"net/http"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// ImageFormField is the multipart field carrying the image on direct uploads.
const ImageFormField = "image"

// PresignUploadInput defines the JSON input structure for generating upload URL.
type PresignUploadInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignUpload issues a time-limited PUT URL for a message image. The returned
// imageKey is what the client attaches to the message.
func HandlePresignUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Storage == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageDisabled))
			return
		}

		var input PresignUploadInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if customErr := chat.ValidateImageSize(input.FileSize); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ext, customErr := chat.ValidateImageType(input.FileName, input.MimeType)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		key := randx.ObjectKey(chat.ImageKeyPrefix, ext)

		url, err := deps.Storage.PresignUpload(r.Context(), key, chat.ExtToMIME[ext], input.FileSize, chat.PresignedURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"imageKey":     key,
			"imageUrl":     deps.Storage.PublicURL(key),
			"expiresIn":    int(chat.PresignedURLDuration.Seconds()),
		})
	}
}

// HandleUploadImage accepts a multipart image and stores it through the server.
func HandleUploadImage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Storage == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageDisabled))
			return
		}

		if customErr := req.SetupMultipart(w, r); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		file, header, err := r.FormFile(ImageFormField)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		defer file.Close()

		if customErr := chat.ValidateImageSize(header.Size); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ext, customErr := chat.ValidateImageType(header.Filename, header.Header.Get("Content-Type"))
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		key := randx.ObjectKey(chat.ImageKeyPrefix, ext)
		if err := deps.Storage.Upload(r.Context(), key, chat.ExtToMIME[ext], file); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		logx.Info("Image uploaded", "key", key, "size", header.Size)
		resp.RespondCreated(w, r, map[string]any{
			"imageKey": key,
			"imageUrl": deps.Storage.PublicURL(key),
		})
	}
}
