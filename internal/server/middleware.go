package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

const requestIDHeader = "X-Request-Id"

// requestID 为每个请求分配ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// recovery 捕获处理函数中的panic并返回500
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				utils.WithFields(logrus.Fields{
					"error":  fmt.Sprintf("%v", r),
					"stack":  string(debug.Stack()),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("处理请求时发生panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "内部错误",
					"kind":  string(utils.KindInternal),
				})
			}
		}()
		c.Next()
	}
}

// requestLogger 把请求日志写入 logrus，健康检查只在调试级别记录
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		entry := utils.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client":     c.ClientIP(),
			"request_id": c.GetString("request_id"),
		})

		switch {
		case status >= 500:
			entry.Error("请求完成")
		case status >= 400:
			entry.Warn("请求完成")
		case c.Request.URL.Path == "/health":
			entry.Debug("请求完成")
		default:
			entry.Info("请求完成")
		}
	}
}
