package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JonMonday/inv-sub000/internal/tracing"
)

// Tracing wraps each request in a server span named after its route.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.StartServerSpan(c.Request.Context(), c.Request.Method+" "+route)
		span.WithAttributes(map[string]string{
			"http.method":    c.Request.Method,
			"http.route":     route,
			"correlation.id": CorrelationIDFrom(ctx),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.WithAttributes(map[string]string{"http.status_code": strconv.Itoa(status)})
		if status >= http.StatusInternalServerError {
			span.End(fmt.Errorf("%s %s returned %d", c.Request.Method, route, status))
			return
		}
		span.End(nil)
	}
}
