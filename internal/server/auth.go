package server

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

const hasAuthKey = "has-auth"

func (h handlers) checkAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(hasAuthKey, h.auth.Authenticate(c.Request))
		c.Next()
	}
}

func (h handlers) authPost() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.auth.StartSession(c)
	}
}

func (h handlers) authDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.auth.ClearSession(c.Writer)
		c.Status(http.StatusOK)
	}
}

func (h handlers) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(hasAuthKey) {
			h.auth.ClearSession(c.Writer)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Auth required",
			})
			return
		}
		c.Next()
	}
}

// RestrictIPAddresses admits only clients whose IP equals one of the addresses or falls
// inside one of the CIDR prefixes. An empty list admits everyone.
func RestrictIPAddresses(ipAddresses []string) gin.HandlerFunc {
	var prefixes []netip.Prefix
	for _, address := range ipAddresses {
		address = strings.TrimSpace(address)
		if p, err := netip.ParsePrefix(address); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(address); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}

	return func(c *gin.Context) {
		if len(ipAddresses) == 0 {
			c.Next()
			return
		}

		if clientIP, err := netip.ParseAddr(c.ClientIP()); err == nil {
			clientIP = clientIP.Unmap()
			for _, p := range prefixes {
				if p.Contains(clientIP) {
					c.Next()
					return
				}
			}
		}

		c.String(http.StatusUnauthorized, "Unauthorized access")
		c.Abort()
	}
}
