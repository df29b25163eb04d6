package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/avbelov/fanout/internal/config"
	"github.com/avbelov/fanout/internal/models"
	"github.com/avbelov/fanout/internal/service"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Settings   *service.SettingsService
	Dispatcher *service.Dispatcher
	Recipes    *service.RecipeService
	Scheduler  *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDB(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	registry := service.NewPublisherRegistry(logger)
	settings := service.NewSettingsService(db, cfg.Project.Key, logger)
	resolver := service.NewResolver(logger)
	dispatcher := service.NewDispatcher(db, registry, resolver, settings, logger)
	recipes := service.NewRecipeService(db, logger)
	scheduler := service.NewScheduler(&cfg.Scheduler, db, dispatcher, logger)

	// Create router
	router := gin.New()

	srv := &Server{
		Config:     cfg,
		DB:         db,
		Router:     router,
		Logger:     logger,
		Settings:   settings,
		Dispatcher: dispatcher,
		Recipes:    recipes,
		Scheduler:  scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		jobs := api.Group("/jobs")
		{
			jobs.GET("", s.handleListJobs)
			jobs.POST("", s.handleCreateJob)
			jobs.GET("/:id", s.handleGetJob)
			jobs.POST("/:id/dispatch", s.handleDispatchJob)
			jobs.POST("/:id/requeue", s.handleRequeueJob)
			jobs.POST("/:id/cancel", s.handleCancelJob)
			jobs.PUT("/:id/schedule", s.handleRescheduleJob)
		}

		recipes := api.Group("/recipes")
		{
			recipes.GET("", s.handleListRecipes)
			recipes.PUT("", s.handleUpsertRecipe)
			recipes.POST("/cascade", s.handleCascadePreview)
		}

		api.POST("/schedule", s.handleCreateSchedule)
		api.POST("/publish/run", s.handleRunDue)

		settings := api.Group("/settings")
		{
			settings.GET("", s.handleListSettings)
			settings.PUT("", s.handlePutSetting)
		}
	}
}

func (s *Server) handleListJobs(c *gin.Context) {
	query := s.DB.Preload("News").Preload("Review").Order("publish_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}

	var jobs []models.PublishJob
	if err := query.Limit(200).Find(&jobs).Error; err != nil {
		s.Logger.Error("Failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleGetJob(c *gin.Context) {
	var job models.PublishJob
	err := s.DB.Preload("News").Preload("Review").First(&job, "id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		s.Logger.Error("Failed to get job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

type createJobRequest struct {
	NewsID        *string   `json:"news_id"`
	ReviewID      *string   `json:"review_id"`
	Platform      string    `json:"platform" binding:"required"`
	PublishAt     time.Time `json:"publish_at" binding:"required"`
	SocialContent string    `json:"social_content"`
}

func (s *Server) handleCreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	platform := models.Platform(req.Platform)
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown platform: %s", req.Platform)})
		return
	}
	if (req.NewsID == nil) == (req.ReviewID == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of news_id and review_id must be set"})
		return
	}

	job := models.PublishJob{
		NewsID:        req.NewsID,
		ReviewID:      req.ReviewID,
		Platform:      platform,
		Status:        models.JobStatusQueued,
		PublishAt:     req.PublishAt,
		SocialContent: req.SocialContent,
	}
	if err := s.DB.Create(&job).Error; err != nil {
		s.Logger.Error("Failed to create job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) handleDispatchJob(c *gin.Context) {
	job, err := s.Dispatcher.Dispatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotClaimable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.Logger.Error("Failed to dispatch job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleRequeueJob(c *gin.Context) {
	job, err := s.Dispatcher.Requeue(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleCancelJob(c *gin.Context) {
	job, err := s.Dispatcher.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

type rescheduleRequest struct {
	PublishAt time.Time `json:"publish_at" binding:"required"`
	Cascade   bool      `json:"cascade"`
}

func (s *Server) handleRescheduleJob(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Recipes.MoveAnchor(c.Request.Context(), c.Param("id"), req.PublishAt, req.Cascade); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Job rescheduled"})
}

func (s *Server) handleListRecipes(c *gin.Context) {
	recipes, err := s.Recipes.List(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to list recipes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recipes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

type upsertRecipeRequest struct {
	Platform   string `json:"platform" binding:"required"`
	IsActive   bool   `json:"is_active"`
	IsMain     bool   `json:"is_main"`
	DelayHours int    `json:"delay_hours"`
}

func (s *Server) handleUpsertRecipe(c *gin.Context) {
	var req upsertRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipe := models.PublishRecipe{
		Platform:   models.Platform(req.Platform),
		IsActive:   req.IsActive,
		IsMain:     req.IsMain,
		DelayHours: req.DelayHours,
	}
	if err := s.Recipes.Upsert(c.Request.Context(), &recipe); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recipe": recipe})
}

type cascadeRequest struct {
	Anchor time.Time `json:"anchor" binding:"required"`
}

func (s *Server) handleCascadePreview(c *gin.Context) {
	var req cascadeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slots, err := s.Recipes.Cascade(c.Request.Context(), req.Anchor)
	if err != nil {
		s.Logger.Error("Failed to compute cascade", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute cascade"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"schedule": slots})
}

type createScheduleRequest struct {
	NewsID    *string   `json:"news_id"`
	ReviewID  *string   `json:"review_id"`
	PublishAt time.Time `json:"publish_at" binding:"required"`
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := s.Recipes.CreateSchedule(c.Request.Context(), req.NewsID, req.ReviewID, req.PublishAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"jobs": jobs})
}

func (s *Server) handleRunDue(c *gin.Context) {
	count, err := s.Scheduler.RunDue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run due jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispatched": count})
}

func (s *Server) handleListSettings(c *gin.Context) {
	rows, err := s.Settings.List(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to list settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": rows})
}

type putSettingRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

func (s *Server) handlePutSetting(c *gin.Context) {
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Settings.Set(c.Request.Context(), req.Key, req.Value); err != nil {
		s.Logger.Error("Failed to save setting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save setting"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Setting saved"})
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
