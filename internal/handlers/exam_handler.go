package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type ExamHandler struct {
	BaseHandler
	examService    services.ExamService
	sessionService services.SessionService
	exportService  services.ExportService
	validator      *validator.Validator
}

func NewExamHandler(
	examService services.ExamService,
	sessionService services.SessionService,
	exportService services.ExportService,
	validator *validator.Validator,
	logger utils.Logger,
) *ExamHandler {
	return &ExamHandler{
		BaseHandler:    NewBaseHandler(logger),
		examService:    examService,
		sessionService: sessionService,
		exportService:  exportService,
		validator:      validator,
	}
}

// CreateExam creates a unit test definition for a module
// @Summary Create exam
// @Tags exams
// @Accept json
// @Produce json
// @Param exam body services.CreateExamRequest true "Exam definition"
// @Success 201 {object} services.ExamResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /exams [post]
func (h *ExamHandler) CreateExam(c *gin.Context) {
	h.LogRequest(c, "Creating exam")

	var req services.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.CreateExam(c.Request.Context(), userID, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

// GetExam returns an exam definition by ID
// @Summary Get exam
// @Tags exams
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ExamResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id} [get]
func (h *ExamHandler) GetExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	exam, err := h.examService.GetExam(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// ListExams lists exam definitions with optional filters
// @Summary List exams
// @Tags exams
// @Produce json
// @Param course_id query string false "Course ID"
// @Param status query string false "Exam status"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} SuccessResponse
// @Router /exams [get]
func (h *ExamHandler) ListExams(c *gin.Context) {
	filters := repositories.ExamFilters{
		Limit:  parseIntQuery(c, "limit", 20),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if courseID := c.Query("course_id"); courseID != "" {
		filters.CourseID = &courseID
	}
	if status := c.Query("status"); status != "" {
		s := models.ExamStatus(status)
		filters.Status = &s
	}

	exams, total, err := h.examService.ListExams(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exams":  exams,
		"total":  total,
		"limit":  filters.Limit,
		"offset": filters.Offset,
	})
}

// GetModuleExam returns the exam bound to a course module
// @Summary Get module exam
// @Tags exams
// @Produce json
// @Param course_id path string true "Course ID"
// @Param module_id path string true "Module ID"
// @Success 200 {object} services.ExamResponse
// @Failure 404 {object} ErrorResponse
// @Router /modules/{course_id}/{module_id}/exam [get]
func (h *ExamHandler) GetModuleExam(c *gin.Context) {
	courseID := c.Param("course_id")
	moduleID := c.Param("module_id")

	exam, err := h.examService.GetModuleExam(c.Request.Context(), courseID, moduleID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// ListModuleSessions lists sessions taken against a module's exam.
// Students see only their own sessions, reviewers see everyone's.
// @Summary List module sessions
// @Tags exams
// @Produce json
// @Param course_id path string true "Course ID"
// @Param module_id path string true "Module ID"
// @Param status query string false "Session status"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} services.ModuleSessionsResponse
// @Router /modules/{course_id}/{module_id}/sessions [get]
func (h *ExamHandler) ListModuleSessions(c *gin.Context) {
	courseID := c.Param("course_id")
	moduleID := c.Param("module_id")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := repositories.SessionFilters{
		Limit:     parseIntQuery(c, "limit", 20),
		Offset:    parseIntQuery(c, "offset", 0),
		SortBy:    c.DefaultQuery("sort_by", "started_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	if status := c.Query("status"); status != "" {
		s := models.SessionStatus(status)
		filters.Status = &s
	}

	sessions, err := h.sessionService.ListModuleSessions(c.Request.Context(), userID, courseID, moduleID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// GetModuleStats aggregates session outcomes for a module
// @Summary Get module statistics
// @Tags exams
// @Produce json
// @Param course_id path string true "Course ID"
// @Param module_id path string true "Module ID"
// @Success 200 {object} repositories.ModuleSessionStats
// @Failure 403 {object} ErrorResponse
// @Router /modules/{course_id}/{module_id}/stats [get]
func (h *ExamHandler) GetModuleStats(c *gin.Context) {
	courseID := c.Param("course_id")
	moduleID := c.Param("module_id")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.sessionService.GetModuleStats(c.Request.Context(), userID, courseID, moduleID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ExportModuleResults streams an xlsx of finished sessions in a module
// @Summary Export module results
// @Tags exams
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param course_id path string true "Course ID"
// @Param module_id path string true "Module ID"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Router /modules/{course_id}/{module_id}/export [get]
func (h *ExamHandler) ExportModuleResults(c *gin.Context) {
	courseID := c.Param("course_id")
	moduleID := c.Param("module_id")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Exporting module results", "course_id", courseID, "module_id", moduleID)

	export, err := h.exportService.ExportModuleResults(c.Request.Context(), userID, courseID, moduleID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+export.FileName)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		export.Content)
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
