/*
Package req binds HTTP request bodies (JSON and multipart) and maps failures to errs codes.
*/
package req

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"relaychat/internal/pkg/errs"
)

const (
	// MaxJSONBody bounds JSON request bodies.
	MaxJSONBody int64 = 1 << 20 // 1 MB

	// MaxFormMemory is the in-memory part of a multipart form; larger parts spill to disk.
	MaxFormMemory int64 = 8 << 20 // 8 MB

	// MaxRequestFileSize bounds the whole multipart request body.
	MaxRequestFileSize int64 = 6 << 20 // 6 MB
)

// BindJSON decodes the JSON body of r into dst, rejecting unknown fields and trailing data.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBody)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

// SetupMultipart bounds and parses a multipart form body.
func SetupMultipart(w http.ResponseWriter, r *http.Request) *errs.CustomError {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestFileSize)

	if err := r.ParseMultipartForm(MaxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}

		return errs.NewError(errs.ErrFormParseFailed)
	}

	return nil
}
