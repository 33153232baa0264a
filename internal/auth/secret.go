package auth

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret 生成 cron secret 的 bcrypt hash，用于 auth.cron_secret_hash
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// secretMatcher 校验调用方给出的共享密钥
type secretMatcher struct {
	plain []byte
	hash  []byte
}

func newSecretMatcher(plain, hash string) secretMatcher {
	m := secretMatcher{}
	if plain != "" {
		sum := sha256.Sum256([]byte(plain))
		m.plain = sum[:]
	}
	if hash != "" {
		m.hash = []byte(hash)
	}
	return m
}

func (m secretMatcher) configured() bool {
	return m.plain != nil || m.hash != nil
}

// match 明文比较使用常量时间（先取摘要，长度不泄露）
func (m secretMatcher) match(candidate string) bool {
	if candidate == "" {
		return false
	}
	if m.plain != nil {
		sum := sha256.Sum256([]byte(candidate))
		if subtle.ConstantTimeCompare(sum[:], m.plain) == 1 {
			return true
		}
	}
	if m.hash != nil {
		if bcrypt.CompareHashAndPassword(m.hash, []byte(candidate)) == nil {
			return true
		}
	}
	return false
}
