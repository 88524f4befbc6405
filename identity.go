package chatsync

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// subjectClaims lists the claims that may carry the user id, in priority
// order.
var subjectClaims = []string{"userId", "sub", "id"}

// SubjectFromCredential reads the local user id from a JWT credential.
// The signature is not checked here; the server validates the credential
// when the channel and the API are used.
func SubjectFromCredential(credential string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	for _, key := range subjectClaims {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: no subject claim", ErrInvalidCredential)
}
