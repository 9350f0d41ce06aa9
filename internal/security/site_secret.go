package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	siteKeyEncryptionEnv = "SITE_KEY_ENCRYPTION_KEY"
	SiteKeyPrefix        = "enc:"
)

// ErrEncryptionKeyMissing is returned when an encrypted value is read without a key.
var ErrEncryptionKeyMissing = errors.New("site key encryption key not set: " + siteKeyEncryptionEnv)

var (
	siteCipherOnce sync.Once
	siteCipherInst cipher.AEAD
	siteCipherErr  error
)

func getSiteCipher() (cipher.AEAD, error) {
	siteCipherOnce.Do(func() {
		rawKey := strings.TrimSpace(os.Getenv(siteKeyEncryptionEnv))
		if rawKey == "" {
			siteCipherErr = ErrEncryptionKeyMissing
			return
		}

		block, err := aes.NewCipher(deriveKey(rawKey))
		if err != nil {
			siteCipherErr = fmt.Errorf("create cipher: %w", err)
			return
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			siteCipherErr = fmt.Errorf("create gcm: %w", err)
			return
		}

		siteCipherInst = gcm
	})

	return siteCipherInst, siteCipherErr
}

// deriveKey accepts a base64 AES key of a valid size; anything else is hashed.
func deriveKey(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		switch len(decoded) {
		case 16, 24, 32:
			return decoded
		}
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

// SiteKeyEncryptionEnabled reports whether API keys are encrypted before storage.
func SiteKeyEncryptionEnabled() bool {
	_, err := getSiteCipher()
	return err == nil
}

func EncryptSiteKey(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	gcm, err := getSiteCipher()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return SiteKeyPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSiteKey returns the plaintext key. Values without the enc: prefix are
// legacy plaintext and are returned unchanged with legacy=true.
func DecryptSiteKey(value string) (plain string, legacy bool, err error) {
	if value == "" {
		return "", false, nil
	}

	if !IsSiteKeyEncrypted(value) {
		return value, true, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SiteKeyPrefix))
	if err != nil {
		return "", false, fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := getSiteCipher()
	if err != nil {
		return "", false, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", false, errors.New("ciphertext too short")
	}

	opened, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", false, fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return string(opened), false, nil
}

func IsSiteKeyEncrypted(value string) bool {
	return strings.HasPrefix(value, SiteKeyPrefix)
}

func ResetSiteCipherForTests() {
	siteCipherOnce = sync.Once{}
	siteCipherInst = nil
	siteCipherErr = nil
}
