package middlewares

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shiftcrew/dispatch_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	HeaderCorrelationId  = "X-Correlation-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// RequestMiddleware carries the correlation id and the Idempotency-Key header
// into the request context and logs one line per request.
func RequestMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationId := strings.TrimSpace(c.Request.Header.Get(HeaderCorrelationId))
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Header(HeaderCorrelationId, correlationId)

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		if key := strings.TrimSpace(c.Request.Header.Get(HeaderIdempotencyKey)); key != "" {
			ctx = utils.SetIdempotencyKeyInContext(ctx, key)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		actorId, _ := utils.GetActorIdFromContext(c.Request.Context())
		entry := logger.WithFields(logrus.Fields{
			"field":          "http",
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         c.Writer.Status(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"correlation_id": correlationId,
			"actor_id":       actorId,
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Info("request")
	}
}
