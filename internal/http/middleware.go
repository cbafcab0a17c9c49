package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const subjectKey = "auth_subject"

// AuthMiddleware checks HS256 bearer tokens signed with secret. With an empty
// secret every request passes.
func AuthMiddleware(secret string, log zerolog.Logger) gin.HandlerFunc {
	if secret == "" {
		log.Warn().Msg("auth secret not set, protected endpoints are open")
		return func(c *gin.Context) { c.Next() }
	}

	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing bearer token"))
			return
		}

		token, err := parser.Parse(strings.TrimSpace(raw), func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			log.Debug().Err(err).Msg("rejected bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid token"))
			return
		}

		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			c.Set(subjectKey, sub)
		}
		c.Next()
	}
}

// CORS allows every origin when the list is empty or contains "*".
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || lo.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders("Authorization")
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}

func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

type RouterOptions struct {
	Mode           string
	AllowedOrigins []string
	MaxUploadMB    int64
	// FilesDir, when set, is served read-only under /files.
	FilesDir string
}

// NewRouter builds the gin engine with middleware and static file serving;
// routes are added by Handler.Register.
func NewRouter(opts RouterOptions, log zerolog.Logger) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), CORS(opts.AllowedOrigins))
	if opts.MaxUploadMB > 0 {
		r.MaxMultipartMemory = opts.MaxUploadMB << 20
	}
	if opts.FilesDir != "" {
		r.Static("/files", opts.FilesDir)
	}
	return r
}
