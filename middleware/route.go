package middleware

import "github.com/gin-gonic/gin"

// RouteOpt 路由选项
type RouteOpt struct {
	NoStore bool // live views: forbid caching
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Next()
}

// GET registers handler with the options applied in front of it.
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.NoStore {
		r.GET(path, noStore, handler)
	} else {
		r.GET(path, handler)
	}
}
