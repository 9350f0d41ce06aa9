package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"paygate/internal/support"

	"golang.org/x/crypto/bcrypt"
)

var ErrCredentialsNotConfigured = errors.New("login credentials are not configured")

// CheckCredentials compares against VALID_USERNAME and VALID_PASSWORD. The
// password may be given as a bcrypt hash.
func CheckCredentials(username, password string) (bool, error) {
	validUser := strings.TrimSpace(support.GetEnv("VALID_USERNAME", ""))
	validPass := support.GetEnv("VALID_PASSWORD", "")
	if validUser == "" || validPass == "" {
		return false, ErrCredentialsNotConfigured
	}

	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(validUser)) == 1

	var passOK bool
	if isBcryptHash(validPass) {
		passOK = bcrypt.CompareHashAndPassword([]byte(validPass), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(validPass)) == 1
	}

	return userOK && passOK, nil
}

// HashPassword produces a value suitable for VALID_PASSWORD.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
