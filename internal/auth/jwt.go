package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"paygate/internal/support"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL    = 24 * time.Hour
	tokenIssuer = "paygate"
)

var (
	ErrInvalidToken = errors.New("invalid token")

	secretOnce sync.Once
	secretKey  []byte
)

func jwtSecret() []byte {
	secretOnce.Do(func() {
		if secret := strings.TrimSpace(support.GetEnv("JWT_SECRET", "")); secret != "" {
			secretKey = []byte(secret)
			return
		}

		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic("auth: could not generate jwt secret: " + err.Error())
		}
		secretKey = []byte(hex.EncodeToString(buf))
		log.Warn("JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	})
	return secretKey
}

// GenerateJWT issues an HS256 token for username valid for 24 hours.
func GenerateJWT(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"username": username,
		"iss":      tokenIssuer,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (any, error) {
			return jwtSecret(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func resetSecretForTests() {
	secretOnce = sync.Once{}
	secretKey = nil
}
