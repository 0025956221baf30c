package v1

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// getClientIP resolves the originating client address, preferring
// reverse-proxy headers over the socket peer.
func getClientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		for _, part := range strings.Split(forwarded, ",") {
			candidate := strings.TrimSpace(part)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"} {
		if value := strings.TrimSpace(c.Get(header)); value != "" {
			if net.ParseIP(value) != nil {
				return value
			}
		}
	}

	if ip := c.IP(); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

// requestUserAgent prefers the proxy-forwarded user agent over the direct one.
func requestUserAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get("User-Agent")
}
