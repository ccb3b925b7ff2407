package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit 未配置时的请求体上限
const DefaultBodyLimit int64 = 1 << 20

// BodySizeLimit 拒绝声明长度超限的请求，并限制实际读取的字节数。
// maxBytes <= 0 时使用 DefaultBodyLimit。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultBodyLimit
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abort(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("请求体超过 %d 字节", maxBytes))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
