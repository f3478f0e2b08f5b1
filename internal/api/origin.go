// origin.go - Browser origin checks for the local API
package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ismart-scholar/workbench/internal/config"
)

// OriginPolicy decides which browser origins may call the local API.
// The API can read local paths, so only the dashboard's own origin is
// trusted unless CORS origins are configured explicitly.
type OriginPolicy struct {
	allowed map[string]struct{}
	any     bool
}

// NewOriginPolicy builds the policy from the server settings. Configured
// origins only count when CORS is enabled.
func NewOriginPolicy(cfg config.ServerConfig) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{})}
	if !cfg.EnableCORS {
		return p
	}
	for _, o := range corsOrigins(cfg.AllowOrigins) {
		if o == "*" {
			p.any = true
			continue
		}
		p.allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return p
}

// Allow reports whether r may be served. Requests without an Origin header
// come from non-browser clients such as the CLI and are always allowed.
func (p *OriginPolicy) Allow(r *http.Request) bool {
	origin := r.Header.Get(echo.HeaderOrigin)
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if p.any {
		return true
	}
	_, ok := p.allowed[strings.ToLower(origin)]
	return ok
}

// Middleware rejects requests from origins the policy does not allow.
func (p *OriginPolicy) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.Allow(c.Request()) {
				return NewForbiddenError("origin not allowed: " + c.Request().Header.Get(echo.HeaderOrigin))
			}
			return next(c)
		}
	}
}

func corsOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
