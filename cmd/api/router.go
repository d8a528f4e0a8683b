package main

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"taxiflow/config"
	"taxiflow/handlers"
	"taxiflow/metrics"
	"taxiflow/middleware"
	"taxiflow/services"
)

type routerDeps struct {
	cfg    *config.Config
	db     *gorm.DB
	cache  *services.CacheService
	models *services.ModelService
	auth   *services.AuthService
}

func setupRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SetupCORS(d.cfg.CORS))

	predict := handlers.NewPredictHandler(d.models, d.cache)
	router.GET("/health", predict.Health)
	router.POST("/predict", predict.Predict)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Operator accounts and run history live in Postgres; without it the
	// API serves predictions only.
	if d.db != nil {
		authHandler := handlers.NewAuthHandler(d.db, d.auth)
		runs := handlers.NewRunHandler(d.db, d.cache)

		v1 := router.Group("/api/v1")
		auth := v1.Group("/auth")
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)

		protected := v1.Group("")
		protected.Use(middleware.RequireAuth(d.auth))
		protected.GET("/runs", runs.ListRuns)
		protected.GET("/runs/:id", runs.GetRun)
	}

	router.GET("/ws/runs", handlers.RunsWebSocket(d.cache, d.auth))
	return router
}
