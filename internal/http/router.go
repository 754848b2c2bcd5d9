// Package http wires the gin engine: routes, middleware order, and the
// static admin UI fallback.
package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/awolfe89/sds-shopify/internal/config"
	"github.com/awolfe89/sds-shopify/internal/http/handler"
	"github.com/awolfe89/sds-shopify/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	authHandler *handler.AuthHandler,
	contentHandler *handler.ContentHandler,
	guard *middleware.SessionGuard,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/health", contentHandler.Health)

	auth := r.Group("/auth")
	{
		auth.GET("/install", authHandler.Install)
		auth.POST("/verifier", authHandler.AttachVerifier)
		auth.GET("/callback", authHandler.Callback)
		auth.GET("/verify", guard.Handler(), authHandler.Verify)
		auth.POST("/logout", authHandler.Logout)
	}

	protected := r.Group("/", guard.Handler())
	{
		protected.POST("/upload", contentHandler.Upload)
		protected.GET("/upload/:id", contentHandler.UploadStatus)
		protected.POST("/format", contentHandler.FormatText)
	}

	// The embedded admin UI is served only as static files; all auth logic
	// stays on the API routes.
	attachUIRoutes(r, filepath.Join("ui", "dist"))

	return r
}

func attachUIRoutes(r *gin.Engine, distDir string) {
	indexPath := filepath.Join(distDir, "index.html")

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if isAPIPath(path) {
			c.Status(http.StatusNotFound)
			return
		}

		if filePath, ok := safeJoin(distDir, path); ok {
			if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
				c.File(filePath)
				return
			}
		}

		c.File(indexPath)
	})
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/auth") ||
		strings.HasPrefix(path, "/upload") ||
		strings.HasPrefix(path, "/format") ||
		strings.HasPrefix(path, "/health")
}

func safeJoin(baseDir, requestPath string) (string, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." {
		return filepath.Join(baseDir, cleaned), true
	}
	if strings.HasPrefix(cleaned, "..") {
		return "", false
	}
	return filepath.Join(baseDir, cleaned), true
}
