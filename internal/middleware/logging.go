// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"strings"
	"time"

	"txn-ingest-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 批量文件通过 multipart 提交，请求体可能很大，这里只记录元信息而不捕获请求体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path

		contentType := c.ContentType()
		isMultipart := strings.HasPrefix(contentType, "multipart/")

		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", latency.String(),
			"clientIP", clientIP,
			"method", method,
			"path", path,
			"contentType", contentType,
			"multipart", isMultipart,
			"contentLength", c.Request.ContentLength,
		)
	}
}
