// Package auth 判断调用方是否可以触发 dispatch：
// 共享密钥（cron/队列触发）或管理员会话
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ErrUnauthorized 没有有效凭证
var ErrUnauthorized = errors.New("unauthorized")

// ForbiddenError 会话有效但不是管理员
type ForbiddenError struct {
	UserID string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: admin access required"
}

// Config 授权配置
type Config struct {
	CronSecret     string
	CronSecretHash string
	JWTSecret      string
	AdminEmails    []string
	SessionCookie  string
}

// AdminLookup 管理员表查询
type AdminLookup interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// 调用方类型
const (
	KindSecret = "secret"
	KindAdmin  = "admin"
)

// Principal 通过授权的调用方
type Principal struct {
	Kind   string
	UserID string
	Email  string
}

// Gate 授权检查
type Gate struct {
	secret      secretMatcher
	jwtSecret   string
	cookie      string
	adminEmails map[string]struct{}
	admins      AdminLookup
	logger      *zap.Logger
}

// NewGate 创建 Gate；admins 可以为 nil，此时只认 AdminEmails
func NewGate(cfg Config, admins AdminLookup, logger *zap.Logger) *Gate {
	emails := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails[e] = struct{}{}
		}
	}
	cookie := cfg.SessionCookie
	if cookie == "" {
		cookie = "session"
	}
	return &Gate{
		secret:      newSecretMatcher(cfg.CronSecret, cfg.CronSecretHash),
		jwtSecret:   cfg.JWTSecret,
		cookie:      cookie,
		adminEmails: emails,
		admins:      admins,
		logger:      logger,
	}
}

// Authorize 先检查共享密钥，再检查管理员会话
// 返回 ErrUnauthorized、*ForbiddenError，或管理员查询失败时的其他错误
func (g *Gate) Authorize(r *http.Request) (*Principal, error) {
	bearer := ExtractBearer(r)

	if g.secret.configured() {
		for _, candidate := range []string{r.Header.Get("X-Cron-Secret"), bearer} {
			if g.secret.match(candidate) {
				return &Principal{Kind: KindSecret}, nil
			}
		}
	}

	var token string
	if c, err := r.Cookie(g.cookie); err == nil && c.Value != "" {
		token = c.Value
	} else {
		token = bearer
	}
	if token == "" || g.jwtSecret == "" {
		return nil, ErrUnauthorized
	}

	session, err := ParseSession(token, g.jwtSecret)
	if err != nil {
		g.logger.Debug("Rejected session token", zap.Error(err))
		return nil, fmt.Errorf("%w: invalid session", ErrUnauthorized)
	}

	principal := &Principal{Kind: KindAdmin, UserID: session.UserID, Email: session.Email}
	if session.Email != "" {
		if _, ok := g.adminEmails[strings.ToLower(session.Email)]; ok {
			return principal, nil
		}
	}

	if g.admins != nil {
		ok, err := g.admins.IsAdmin(r.Context(), session.UserID)
		if err != nil {
			return nil, fmt.Errorf("admin lookup: %w", err)
		}
		if ok {
			return principal, nil
		}
	}

	return nil, &ForbiddenError{UserID: session.UserID}
}

// StatusCode 把授权错误映射为 HTTP 状态码
func StatusCode(err error) int {
	var forbidden *ForbiddenError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
