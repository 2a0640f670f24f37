package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prohmpiriya/healthcare-educate/internal/metrics"
	"github.com/prohmpiriya/healthcare-educate/pkg/logger"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// ContextKeyRequestID is the gin context key for the request id
const ContextKeyRequestID = "request_id"

// RequestLogger assigns a request id and writes one access log line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.RecordRequestDuration(c.Request.Context(), c.Request.Method, route, status, latency)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestID),
		}
		if traceID := c.GetString("trace_id"); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.Get()
		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
