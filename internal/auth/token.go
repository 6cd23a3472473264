package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"VoiceSwap/pkg/logger"
)

var (
	// ErrMissingToken 表示请求未携带 Bearer 令牌。
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken 表示令牌不匹配。
	ErrInvalidToken = errors.New("invalid token")
)

// TokenAuthenticator 校验静态 API 令牌。令牌为空时不做校验。
type TokenAuthenticator struct {
	token string
	audit *slog.Logger
}

// NewTokenAuthenticator 创建令牌校验器。
func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: strings.TrimSpace(token), audit: logger.Audit()}
}

// Enabled 判断是否需要校验。
func (a *TokenAuthenticator) Enabled() bool {
	return a != nil && a.token != ""
}

// Authenticate 校验 Authorization 头。
func (a *TokenAuthenticator) Authenticate(header string) error {
	if !a.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(a.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware 返回 HTTP 中间件，未通过校验的请求返回 401 并写入审计日志。
func (a *TokenAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.Authenticate(r.Header.Get("Authorization")); err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			a.audit.Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", http.StatusUnauthorized,
				"error", err.Error(),
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}
