package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"servicehours/internal/auth"
	"servicehours/internal/config"
	"servicehours/internal/httpmiddleware"
	"servicehours/internal/notify"
	"servicehours/internal/participation"
	"servicehours/internal/report"
	"servicehours/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q notify.Queue
	if cfg.QueueBackend == "memory" {
		q = notify.NewInMemory(64)
	} else {
		q = notify.NewRedisQueue(redisClient.Client, cfg.NotificationQueueKey)
	}

	repo := participation.NewRepository(db.Client)
	if err := repo.Migrate(context.Background()); err != nil {
		return err
	}

	engine := participation.NewService(repo, notify.NewQueueNotifier(q))
	calc := participation.NewCalculator(repo, cfg.CompletionHours)
	reports := report.NewEngine(repo, cfg.CompletionHours, cfg.ReportSectionTimeout)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := repo.Ping(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	v1 := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	operator := v1.Group("", auth.RequireRole(string(participation.RoleStaff), string(participation.RoleAdmin)))

	v1.GET("/events", func(c *gin.Context) {
		events, err := repo.ListEvents(c.Request.Context(), true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	operator.POST("/events", func(c *gin.Context) {
		var req struct {
			Title            string    `json:"title" binding:"required"`
			Date             time.Time `json:"date" binding:"required"`
			StartTime        string    `json:"start_time"`
			EndTime          string    `json:"end_time"`
			Location         string    `json:"location"`
			HoursValue       float64   `json:"hours_value"`
			RequiresApproval bool      `json:"requires_approval"`
			Visible          bool      `json:"visible"`
			Departments      []string  `json:"departments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		evt, err := repo.CreateEvent(c.Request.Context(), participation.Event{
			Title:            req.Title,
			Date:             req.Date,
			StartTime:        req.StartTime,
			EndTime:          req.EndTime,
			Location:         req.Location,
			HoursValue:       req.HoursValue,
			RequiresApproval: req.RequiresApproval,
			Visible:          req.Visible,
			Departments:      req.Departments,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, evt)
	})

	operator.PATCH("/events/:id/status", func(c *gin.Context) {
		var req struct {
			Status participation.EventStatus `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valid status required"})
			return
		}
		writeOutcome(c, repo.UpdateEventStatus(c.Request.Context(), c.Param("id"), req.Status))
	})

	operator.PATCH("/events/:id/hours", func(c *gin.Context) {
		var req struct {
			HoursValue float64 `json:"hours_value"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.HoursValue < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "non-negative hours_value required"})
			return
		}
		writeOutcome(c, repo.UpdateEventHours(c.Request.Context(), c.Param("id"), req.HoursValue))
	})

	operator.GET("/events/:id/attendance", func(c *gin.Context) {
		recs, err := repo.ListRecords(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": recs})
	})

	operator.POST("/users", func(c *gin.Context) {
		var req struct {
			Name       string             `json:"name" binding:"required"`
			Email      string             `json:"email" binding:"required,email"`
			Role       participation.Role `json:"role"`
			Department string             `json:"department"`
			Year       string             `json:"year"`
			YearLevel  string             `json:"year_level"`
			Section    string             `json:"section"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role != "" && !req.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
			return
		}
		user, err := repo.CreateUser(c.Request.Context(), participation.User{
			Name:       req.Name,
			Email:      req.Email,
			Role:       req.Role,
			Department: req.Department,
			Year:       req.Year,
			YearLevel:  req.YearLevel,
			Section:    req.Section,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	v1.GET("/users/:id", func(c *gin.Context) {
		user, err := repo.FindUser(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, user)
	})

	v1.POST("/events/:id/register", func(c *gin.Context) {
		rec, err := engine.Register(c.Request.Context(), c.Param("id"), subject(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	v1.DELETE("/events/:id/register", func(c *gin.Context) {
		writeOutcome(c, engine.Unregister(c.Request.Context(), c.Param("id"), subject(c)))
	})

	// Clock values are supplied here, at the boundary, so the engine
	// stays free of wall-clock coupling.
	v1.POST("/events/:id/time-in", func(c *gin.Context) {
		writeOutcome(c, engine.TimeIn(c.Request.Context(), c.Param("id"), subject(c), time.Now()))
	})

	v1.POST("/events/:id/time-out", func(c *gin.Context) {
		writeOutcome(c, engine.TimeOut(c.Request.Context(), c.Param("id"), subject(c), time.Now()))
	})

	operator.POST("/events/:id/registrations/:userID/approve", func(c *gin.Context) {
		writeOutcome(c, engine.ApproveRegistration(c.Request.Context(), c.Param("id"), c.Param("userID"), subject(c)))
	})
	operator.POST("/events/:id/registrations/:userID/disapprove", func(c *gin.Context) {
		writeOutcome(c, engine.DisapproveRegistration(c.Request.Context(), c.Param("id"), c.Param("userID"), subject(c)))
	})
	operator.POST("/events/:id/attendance/:userID/approve", func(c *gin.Context) {
		writeOutcome(c, engine.ApproveAttendance(c.Request.Context(), c.Param("id"), c.Param("userID"), subject(c)))
	})
	operator.POST("/events/:id/attendance/:userID/disapprove", func(c *gin.Context) {
		writeOutcome(c, engine.DisapproveAttendance(c.Request.Context(), c.Param("id"), c.Param("userID"), subject(c)))
	})

	v1.GET("/users/:id/hours", func(c *gin.Context) {
		total, err := calc.TotalHours(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.Param("id"),
			"total":     total,
			"threshold": calc.Threshold(),
			"complete":  total >= calc.Threshold(),
		})
	})

	operator.GET("/reports/dashboard", func(c *gin.Context) {
		rep, err := reports.BuildReport(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func subject(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

func writeOutcome(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// writeError maps engine errors onto HTTP statuses specific enough for the
// caller to explain the refusal.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, participation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, participation.ErrAlreadyRegistered),
		errors.Is(err, participation.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, participation.ErrInvalidTransition),
		errors.Is(err, participation.ErrEventNotOpen):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, participation.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
