package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jobnotify/internal/auth"
	"jobnotify/pkg/logger"
	"jobnotify/pkg/metrics"
	"jobnotify/pkg/trace"
)

// Authorizer 授权检查
type Authorizer interface {
	Authorize(r *http.Request) (*auth.Principal, error)
}

// TraceMiddleware 读取或生成 X-Trace-ID 并放入 request context
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, traceID := trace.Ensure(c.Request.Context(), c.GetHeader(trace.HeaderName))
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// MetricsMiddleware 记录请求耗时
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// RequireDispatchAuth 共享密钥或管理员会话
func RequireDispatchAuth(gate Authorizer, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := gate.Authorize(c.Request)
		if err != nil {
			status := auth.StatusCode(err)
			msg := "unauthorized"
			switch status {
			case http.StatusForbidden:
				msg = "forbidden"
			case http.StatusInternalServerError:
				msg = "authorization check failed"
				logger.WithTrace(c.Request.Context(), log).Error("Authorization check failed", zap.Error(err))
			}
			c.JSON(status, gin.H{"ok": false, "error": msg})
			c.Abort()
			return
		}

		c.Set("principal", principal)
		c.Next()
	}
}
