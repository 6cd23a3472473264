package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const passphraseSaltBytes = 16

// HashPassphrase 生成 "salt:digest" 形式的加盐 SHA-256 摘要，用于写入配置。
func HashPassphrase(passphrase string) (string, error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	salt := make([]byte, passphraseSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return encodeDigest(salt, passphrase), nil
}

func encodeDigest(salt []byte, passphrase string) string {
	digest := sha256.Sum256(append(append([]byte(nil), salt...), []byte(passphrase)...))
	return base64.RawStdEncoding.EncodeToString(salt) + ":" + base64.RawStdEncoding.EncodeToString(digest[:])
}

// VerifyPassphrase 验证口令是否与摘要匹配。
func VerifyPassphrase(hashed, passphrase string) bool {
	if hashed == "" {
		return false
	}
	parts := strings.SplitN(hashed, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(salt, []byte(passphrase)...))
	return subtle.ConstantTimeCompare(expected, digest[:]) == 1
}
