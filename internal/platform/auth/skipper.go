package auth

import "github.com/labstack/echo/v4"

// publicPaths are infrastructure endpoints served without a bearer token.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/metrics":      true,
	"/openapi.json": true,
}

// IsPublicPath reports whether path is an unauthenticated infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// PublicSkipper is an echo middleware skipper for infrastructure endpoints.
// Request logging and HTTP metrics use it to keep probe traffic out of the
// access log and the latency histograms.
func PublicSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
