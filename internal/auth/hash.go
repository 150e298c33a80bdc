package auth

import (
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// HashCost is the bcrypt cost for refresh token keys.
const HashCost = 10

// HashToken returns a salted bcrypt hash of a raw token key.
func HashToken(key string) (string, error) {
	if key == "" {
		return "", apperrors.Argument("tokenIdentifier")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), HashCost)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return string(hash), nil
}

// CompareToken reports whether hash was produced from key.
func CompareToken(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
