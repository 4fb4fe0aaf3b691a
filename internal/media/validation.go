package media

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Size limits per upload.
const (
	MaxPhotoSize int64 = 50 << 20
	MaxVideoSize int64 = 1 << 30
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrInvalidKey      = errors.New("invalid media key")
	ErrStorageLimit    = errors.New("storage limit reached")
)

// allowedContentTypes lists what the platforms will accept for publishing.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/heic": true,

	"video/mp4":        true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
}

var safeFilename = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

// IsVideo reports whether contentType is a video type.
func IsVideo(contentType string) bool {
	return strings.HasPrefix(contentType, "video/")
}

// Validate checks contentType against the allow-list and size against the
// per-kind limit.
func Validate(contentType string, size int64) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if !allowedContentTypes[ct] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrTooLarge)
	}
	limit := MaxPhotoSize
	if IsVideo(ct) {
		limit = MaxVideoSize
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d MB", ErrTooLarge, size, limit>>20)
	}
	return nil
}

// ValidateFilename rejects path components and anything outside the safe set.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidFilename)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: path separators are not allowed", ErrInvalidFilename)
	}
	if !safeFilename.MatchString(name) {
		return fmt.Errorf("%w: only letters, digits, dots, hyphens, underscores, spaces and parentheses are allowed", ErrInvalidFilename)
	}
	return nil
}

// ValidateKey checks that key is an upload key owned by userID:
// media/<userID>/<id>/<filename>.
func ValidateKey(userID, key string) error {
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return ErrInvalidKey
	}
	prefix := userPrefix(userID)
	if userID == "" || !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("%w: not owned by caller", ErrInvalidKey)
	}
	parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
	if len(parts) != 2 || parts[0] == "" {
		return fmt.Errorf("%w: expected media/<user>/<id>/<filename>", ErrInvalidKey)
	}
	return ValidateFilename(parts[1])
}

func userPrefix(userID string) string {
	return "media/" + userID + "/"
}
