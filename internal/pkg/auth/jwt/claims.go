package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a relaychat identity token.
type Payload struct {
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the durable-store user identifier; it is also the user's inbox room id.
	ID string `json:"id"`

	// Name is the display name at issue time.
	Name string `json:"name"`

	// Email is the login address at issue time.
	Email string `json:"email,omitempty"`
}
