package chat

import (
	"path/filepath"
	"strings"
	"time"

	"relaychat/internal/pkg/errs"
)

const (
	// MaxImageSizeMB is the maximum allowed image size in megabytes.
	MaxImageSizeMB = 5

	// MaxImageSize is the maximum allowed image size in bytes.
	MaxImageSize = MaxImageSizeMB * 1024 * 1024

	// PresignedURLDuration is how long an upload URL stays valid.
	PresignedURLDuration = 5 * time.Minute

	// ImageKeyPrefix is the object key namespace for message images.
	ImageKeyPrefix = "images"
)

// AllowedMIMETypes defines the set of permitted image MIME types.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their corresponding MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateImageSize checks if the provided file size is within acceptable limits.
func ValidateImageSize(fileSize int64) *errs.CustomError {
	if fileSize <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if fileSize > MaxImageSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateImageType checks that the MIME type is an accepted image and agrees with the
// file extension. It returns the normalized extension.
func ValidateImageType(fileName string, mimeType string) (string, *errs.CustomError) {
	lowerMimeType := strings.ToLower(mimeType)

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return "", errs.NewError(errs.ErrFileTypeInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) < 2 {
		return "", errs.NewError(errs.ErrFileTypeInvalid)
	}

	expectedMIME, ok := ExtToMIME[ext]
	if !ok || expectedMIME != lowerMimeType {
		return "", errs.NewError(errs.ErrFileTypeInvalid)
	}

	return ext, nil
}

// ValidateImageKey accepts only keys issued under ImageKeyPrefix with a known extension.
func ValidateImageKey(key string) *errs.CustomError {
	if key == "" {
		return nil
	}

	rest, ok := strings.CutPrefix(key, ImageKeyPrefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") || strings.Contains(rest, "..") {
		return errs.NewError(errs.ErrImageKeyInvalid)
	}

	if _, ok := ExtToMIME[strings.ToLower(filepath.Ext(rest))]; !ok {
		return errs.NewError(errs.ErrImageKeyInvalid)
	}

	return nil
}
