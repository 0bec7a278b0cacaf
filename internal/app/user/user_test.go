package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/errs"
)

func TestValidateEmail(t *testing.T) {
	assert.Nil(t, ValidateEmail("ada@example.com"))
	for _, bad := range []string{"", "ada", "Ada <ada@example.com>", "@example.com"} {
		err := ValidateEmail(bad)
		require.NotNil(t, err, bad)
		assert.Equal(t, errs.ErrInvalidEmail, err.Code)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
}

func TestValidateName(t *testing.T) {
	assert.Nil(t, ValidateName("Ada"))
	assert.NotNil(t, ValidateName("   "))
	assert.NotNil(t, ValidateName(string(make([]rune, MaxNameLength+1))))
}

func TestValidatePassword(t *testing.T) {
	assert.Nil(t, ValidatePassword("secret"))
	assert.NotNil(t, ValidatePassword("short"))
	assert.Nil(t, ValidatePassword("密码密码密码"), "length counts runes")
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	u := &User{ID: "u1", Name: "Ada", PasswordHash: hash}
	assert.True(t, u.CheckPassword("correct horse"))
	assert.False(t, u.CheckPassword("wrong horse"))
}

func TestProfile(t *testing.T) {
	u := &User{ID: "u1", Name: "Ada", Email: "ada@example.com", Avatar: "a.png", PasswordHash: "x"}
	assert.Equal(t, Profile{ID: "u1", Name: "Ada", Email: "ada@example.com", Avatar: "a.png"}, u.Profile())
}
