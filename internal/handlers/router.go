package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type HandlerManager struct {
	sessionHandler *SessionHandler
	examHandler    *ExamHandler
	userHandler    *UserHandler
	authMiddleware *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		sessionHandler: NewSessionHandler(serviceManager.Session(), validator, logger),
		examHandler: NewExamHandler(
			serviceManager.Exam(),
			serviceManager.Session(),
			serviceManager.Export(),
			validator,
			logger,
		),
		userHandler:    NewUserHandler(userRepo, logger),
		authMiddleware: authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Session routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/start", hm.sessionHandler.StartSession)
			sessions.POST("/resume", hm.sessionHandler.ResumeSession)
			sessions.GET("/active", hm.sessionHandler.GetActiveSession)
			sessions.GET("/:id", hm.sessionHandler.GetSessionState)
			sessions.POST("/:id/finish", hm.sessionHandler.FinishSession)
			sessions.GET("/:id/results", hm.sessionHandler.GetResults)

			// In-session intents
			sessions.PUT("/:id/answer", hm.sessionHandler.SelectAnswer)
			sessions.POST("/:id/flag", hm.sessionHandler.ToggleMarkForReview)
			sessions.POST("/:id/eliminate", hm.sessionHandler.ToggleEliminateOption)
			sessions.POST("/:id/next", hm.sessionHandler.NextQuestion)
			sessions.POST("/:id/previous", hm.sessionHandler.PreviousQuestion)
			sessions.POST("/:id/jump", hm.sessionHandler.JumpToQuestion)
			sessions.POST("/:id/next-section", hm.sessionHandler.NextSection)
		}

		// Exam routes
		exams := v1.Group("/exams")
		{
			// Create exams - Teachers and Admins only
			exams.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.CreateExam)

			// View exams - All authenticated users
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)
		}

		// Module routes
		modules := v1.Group("/modules/:course_id/:module_id")
		{
			modules.GET("/exam", hm.examHandler.GetModuleExam)
			modules.GET("/sessions", hm.examHandler.ListModuleSessions)

			// Reporting - Teachers and Admins only
			modules.GET("/stats", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.GetModuleStats)
			modules.GET("/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.examHandler.ExportModuleResults)
		}

		// User routes
		users := v1.Group("/users")
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "exam-session-service",
		})
	})
}
