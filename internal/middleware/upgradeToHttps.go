package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UpgradeToHttps redirects plaintext requests to HTTPS. The proxy in front terminates TLS,
// so X-Forwarded-Proto is what tells the two apart. Requests with a body keep their method.
func UpgradeToHttps() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") != "http" {
			c.Next()
			return
		}
		status := http.StatusMovedPermanently
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			status = http.StatusPermanentRedirect
		}
		c.Redirect(status, "https://"+c.Request.Host+c.Request.URL.RequestURI())
		c.Abort()
	}
}
