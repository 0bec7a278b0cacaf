/*
Package user defines the identity of a chat participant and the credential rules applied
at registration and login.

User is what the durable store keeps; Profile is the public shape embedded in messages,
chats and socket payloads, and the shape a client sends with the setup event.
*/
package user

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"relaychat/internal/pkg/errs"
)

const (
	MinPasswordLength = 6
	MaxPasswordLength = 50
	MaxNameLength     = 40
)

// User is a registered account.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	Email        string    `json:"email" bson:"email"`
	Avatar       string    `json:"avatar" bson:"avatar"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// Profile is the public identity of a user.
type Profile struct {
	ID     string `json:"id" bson:"_id"`
	Name   string `json:"name" bson:"name"`
	Email  string `json:"email,omitempty" bson:"email"`
	Avatar string `json:"avatar,omitempty" bson:"avatar"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: u.Avatar}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail accepts a bare address such as "ada@example.com".
func ValidateEmail(email string) *errs.CustomError {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errs.NewError(errs.ErrInvalidEmail)
	}
	return nil
}

// ValidateName checks the display name length after trimming.
func ValidateName(name string) *errs.CustomError {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 || n > MaxNameLength {
		return errs.NewError(errs.ErrInvalidName)
	}
	return nil
}

// ValidatePassword checks the password length in runes.
func ValidatePassword(password string) *errs.CustomError {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return errs.NewError(errs.ErrInvalidPassword)
	}
	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
