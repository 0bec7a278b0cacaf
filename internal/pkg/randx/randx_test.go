package randx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id := ConnID()
		assert.True(t, IsValidConnID(id), id)
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestIsValidConnID(t *testing.T) {
	assert.False(t, IsValidConnID(""))
	assert.False(t, IsValidConnID("conn_short"))
	assert.False(t, IsValidConnID("user_4fK9aQ0ZpL2x"))
	assert.False(t, IsValidConnID("conn_4fK9aQ0ZpL2-"))
	assert.True(t, IsValidConnID("conn_4fK9aQ0ZpL2x"))
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("images", ".png")
	assert.True(t, strings.HasPrefix(key, "images/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Len(t, key, len("images/")+36+len(".png"))
}

func TestDefaultAvatar(t *testing.T) {
	assert.Equal(t, DefaultAvatarBase+"Ada+Lovelace", DefaultAvatar(" Ada Lovelace "))
	assert.Equal(t, DefaultAvatarBase+"user", DefaultAvatar(""))
}
