package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Session 管理员会话中解析出的身份
type Session struct {
	UserID string
	Email  string
}

// ParseSession 校验 HS256 会话 token 并提取身份
func ParseSession(tokenStr, secret string) (*Session, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}

	userID := claimString(claims, "sub")
	if userID == "" {
		userID = claimString(claims, "user_id")
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing subject", jwt.ErrTokenMalformed)
	}

	return &Session{
		UserID: userID,
		Email:  claimString(claims, "email"),
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// ExtractBearer 从 Authorization 头中取出 Bearer token
func ExtractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
