/*
Package randx generates random identifiers: Base62 connection ids, UUID object keys and
default avatar URLs.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars is the alphabet used for short random ids (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the size of Base62Chars.
	Base62Len = int64(len(Base62Chars))

	// ConnIDPrefix prefixes every websocket connection id.
	ConnIDPrefix = "conn_"

	// ConnIDRawLength is the length of the Base62 part of a connection id.
	ConnIDRawLength = 12

	// DefaultAvatarBase is the avatar service used when a user registers without a picture.
	DefaultAvatarBase = "https://api.dicebear.com/9.x/initials/svg?seed="
)

func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// ConnID returns a new connection id such as "conn_4fK9aQ0ZpL2x".
// If the system random source fails it falls back to a UUID suffix.
func ConnID() string {
	raw, err := base62(ConnIDRawLength)
	if err != nil {
		return ConnIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return ConnIDPrefix + raw
}

// IsValidConnID reports whether id has the shape produced by ConnID.
func IsValidConnID(id string) bool {
	raw, ok := strings.CutPrefix(id, ConnIDPrefix)
	if !ok || len(raw) != ConnIDRawLength {
		return false
	}

	for _, char := range raw {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// ObjectKey returns a storage key "<prefix>/<uuid><ext>".
func ObjectKey(prefix, ext string) string {
	return fmt.Sprintf("%s/%s%s", prefix, uuid.NewString(), ext)
}

// DefaultAvatar returns a generated avatar URL seeded by name.
func DefaultAvatar(name string) string {
	seed := strings.TrimSpace(name)
	if seed == "" {
		seed = "user"
	}
	return DefaultAvatarBase + strings.ReplaceAll(seed, " ", "+")
}
