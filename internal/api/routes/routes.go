package routes

import (
	"github.com/gin-gonic/gin"

	"automator/internal/api/handlers"
	"automator/internal/api/middleware"
	"automator/internal/config"
)

func SetupRoutes(cfg *config.Config) *gin.Engine {
	router := gin.Default()

	// Global middleware
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Public routes (no auth required)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", handlers.Login)
			auth.POST("/register", handlers.Register)
		}

		// Health check
		v1.GET("/health", handlers.HealthCheck)

		// Extension bus endpoint (no auth middleware for WebSocket)
		v1.GET("/ws/bus", handlers.RecordingWebSocket)

		// Protected routes (auth required)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User management
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile)
				users.PUT("/profile", handlers.UpdateProfile)
				users.GET("", handlers.GetUsers)
				users.PUT("/:id/password", handlers.AdminChangePassword) // Admin only
			}

			// Record management
			records := protected.Group("/records")
			{
				records.GET("", handlers.GetRecords)
				records.POST("", handlers.CreateRecord)
				records.GET("/:id", handlers.GetRecord)
				records.PUT("/:id", handlers.UpdateRecord)
				records.DELETE("/:id", handlers.DeleteRecord)
				records.POST("/:id/execute", handlers.ExecuteRecord)
				records.POST("/:id/pause", handlers.PauseRecord)
				records.POST("/:id/resume", handlers.ResumeRecord)
			}

			// Execution history
			executions := protected.Group("/executions")
			{
				executions.GET("", handlers.GetExecutions)
				executions.GET("/statistics", handlers.GetExecutionStatistics)
				executions.GET("/:id", handlers.GetExecution)
				executions.DELETE("/:id", handlers.DeleteExecution)
			}

			// Recording sessions
			recording := protected.Group("/recording")
			{
				recording.POST("/start", handlers.StartRecording)
				recording.POST("/stop", handlers.StopRecording)
				recording.GET("/status", handlers.GetRecordingStatus)
				recording.POST("/save", handlers.SaveRecording)
			}
		}
	}

	return router
}
