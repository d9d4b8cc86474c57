// Package api exposes the OD portal over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"odportal/internal/account"
	"odportal/internal/attendance"
	"odportal/internal/auth"
	"odportal/internal/directory"
	"odportal/internal/events"
	"odportal/internal/httpmiddleware"
	"odportal/internal/identity"
	"odportal/internal/logging"
	"odportal/internal/metrics"
	"odportal/internal/odrequest"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router.
type Options struct {
	JWTSigningKey      string
	JWTIssuer          string
	CORSOrigins        []string
	RateLimitPerMin    int
	MaxAttachmentBytes int64
	HealthChecks       map[string]HealthCheck
}

// Handler holds the services behind the HTTP routes.
type Handler struct {
	accounts   *account.Service
	profiles   *identity.Service
	requests   *odrequest.Service
	attendance *attendance.Service
	events     *events.Service
	directory  *directory.Service
	sessions   auth.SessionStore
	opts       Options
	logger     *zap.Logger
}

// New creates a handler.
func New(accounts *account.Service, profiles *identity.Service, requests *odrequest.Service,
	att *attendance.Service, evts *events.Service, dir *directory.Service,
	sessions auth.SessionStore, opts Options, logger *zap.Logger) *Handler {
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = 10 << 20
	}
	return &Handler{
		accounts:   accounts,
		profiles:   profiles,
		requests:   requests,
		attendance: att,
		events:     evts,
		directory:  dir,
		sessions:   sessions,
		opts:       opts,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes and middleware.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = h.opts.MaxAttachmentBytes
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(h.logger, "/healthz", "/metrics"))
	r.Use(metrics.GinMiddleware())
	r.Use(corsMiddleware(h.opts.CORSOrigins))
	r.Use(securityHeaders())

	limiter := httpmiddleware.NewSimpleTokenBucket(h.opts.RateLimitPerMin, h.opts.RateLimitPerMin)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	public := r.Group("/v1/auth", limiter.GinMiddleware())
	public.POST("/signup", h.SignUp)
	public.POST("/signin", h.SignIn)
	public.POST("/google", h.SignInWithGoogle)
	public.POST("/refresh", h.Refresh)

	v1 := r.Group("/v1",
		auth.RequireSession(h.opts.JWTSigningKey, h.opts.JWTIssuer, h.sessions, h.profiles.RoleOf, h.logger),
		limiter.GinMiddleware())
	v1.POST("/auth/signout", h.SignOut)
	v1.GET("/me", h.Me)
	v1.POST("/me/profile", h.CreateProfile)
	v1.GET("/dashboard", h.Dashboard)

	v1.POST("/od-requests", h.CreateRequest)
	v1.GET("/od-requests/mine", h.ListMine)
	v1.GET("/od-requests/pending", h.ListPending)
	v1.GET("/od-requests/approved", h.ListApproved)
	v1.GET("/od-requests/:id", h.GetRequest)
	v1.POST("/od-requests/:id/approve", h.Approve)
	v1.POST("/od-requests/:id/reject", h.Reject)
	v1.GET("/od-requests/:id/attendance", h.AttendanceStatus)
	v1.POST("/od-requests/:id/attendance", h.MarkAttendance)

	v1.GET("/attendance/approved", h.ApprovedForStudent)
	v1.GET("/attendance/calendar", h.Calendar)
	v1.GET("/attendance/calendar/:date", h.CalendarDay)

	v1.GET("/events", h.ListEvents)
	v1.POST("/events", h.CreateEvent)

	v1.GET("/students", h.Students)
	v1.GET("/students/departments", h.Departments)

	return r
}

// Healthz reports the reachability of each dependency.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.opts.HealthChecks {
		healthy := check(ctx)
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
