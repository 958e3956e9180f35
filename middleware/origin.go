package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginChecker decides whether a browser origin may open the socket. An
// empty allow list accepts everything; "*" does too.
type OriginChecker struct {
	allowed map[string]struct{}
	any     bool
}

func NewOriginChecker(allowed []string) *OriginChecker {
	o := &OriginChecker{allowed: make(map[string]struct{}, len(allowed))}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimRight(strings.TrimSpace(a), "/"))
		if a == "" {
			continue
		}
		if a == "*" {
			o.any = true
		}
		o.allowed[a] = struct{}{}
	}
	if len(o.allowed) == 0 {
		o.any = true
	}
	return o
}

// Check has the websocket.Upgrader CheckOrigin signature. Requests without
// an Origin header (non-browser clients) pass.
func (o *OriginChecker) Check(r *http.Request) bool {
	if o.any {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	_, ok := o.allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

// Origin rejects the /ws upgrade early with 403 for a disallowed origin.
func Origin(o *OriginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == "/ws" && !o.Check(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		c.Next()
	}
}
