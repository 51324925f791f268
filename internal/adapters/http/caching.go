package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// cacheTTLs maps path prefixes to a default Cache-Control header. Live trip
// data goes stale within seconds, so everything here is short.
var cacheTTLs = []struct {
	prefix string
	header string
}{
	{"/v1/stats", "public, max-age=5"},
	{"/v1/trips", "private, max-age=5"},
	{"/docs", "public, max-age=3600"},
}

// CachingMiddleware applies a default Cache-Control header to successful GET
// responses that did not set one themselves.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}
		if c.Method() != fiber.MethodGet || c.Response().StatusCode() != 200 {
			return nil
		}
		if len(c.Response().Header.Peek(fiber.HeaderCacheControl)) > 0 {
			return nil
		}
		path := c.Path()
		for _, rule := range cacheTTLs {
			if strings.HasPrefix(path, rule.prefix) {
				c.Set(fiber.HeaderCacheControl, rule.header)
				return nil
			}
		}
		return nil
	}
}
