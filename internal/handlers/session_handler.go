package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	validator      *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		validator:      validator,
	}
}

// StartSession starts a new exam session
// @Summary Start exam session
// @Description Starts a timed session for a module's unit test
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.StartSessionRequest true "Start session data"
// @Success 201 {object} engine.State
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/start [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.LogRequest(c, "Starting exam session")

	var req services.StartSessionRequest
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

	state, err := h.sessionService.StartSession(c.Request.Context(), userID, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, state)
}

// ResumeSession resumes an interrupted session
// @Summary Resume exam session
// @Description Resumes the in-progress session for a module, if any
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.StartSessionRequest true "Resume session data"
// @Success 200 {object} engine.State
// @Failure 404 {object} ErrorResponse
// @Router /sessions/resume [post]
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.LogRequest(c, "Resuming exam session")

	var req services.StartSessionRequest
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

	state, err := h.sessionService.ResumeSession(c.Request.Context(), userID, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// GetActiveSession reports the caller's resumable session for a module
// @Summary Get active session
// @Tags sessions
// @Produce json
// @Param course_id query string true "Course ID"
// @Param module_id query string true "Module ID"
// @Success 200 {object} services.SessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/active [get]
func (h *SessionHandler) GetActiveSession(c *gin.Context) {
	courseID := c.Query("course_id")
	moduleID := c.Query("module_id")
	if courseID == "" || moduleID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "course_id and module_id query parameters are required",
		})
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.GetActiveSession(c.Request.Context(), userID, courseID, moduleID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSessionState returns the current snapshot of a running session
// @Summary Get session state
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} engine.State
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSessionState(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), userID, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// SelectAnswer records an answer for the current question
// @Summary Select answer
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param answer body services.SelectAnswerRequest true "Answer value"
// @Success 200 {object} engine.State
// @Failure 400 {object} ErrorResponse
// @Router /sessions/{id}/answer [put]
func (h *SessionHandler) SelectAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SelectAnswerRequest
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

	state, err := h.sessionService.SelectAnswer(c.Request.Context(), userID, id, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// ToggleMarkForReview flips the review flag on the current question
// @Summary Toggle mark for review
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} engine.State
// @Router /sessions/{id}/flag [post]
func (h *SessionHandler) ToggleMarkForReview(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	state, err := h.sessionService.ToggleMarkForReview(c.Request.Context(), userID, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// ToggleEliminateOption strikes an option out or back in
// @Summary Toggle eliminate option
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param option body services.ToggleEliminateRequest true "Option to toggle"
// @Success 200 {object} engine.State
// @Router /sessions/{id}/eliminate [post]
func (h *SessionHandler) ToggleEliminateOption(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.ToggleEliminateRequest
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

	state, err := h.sessionService.ToggleEliminateOption(c.Request.Context(), userID, id, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// NextQuestion advances the cursor within the section
// @Summary Next question
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} engine.State
// @Router /sessions/{id}/next [post]
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	h.navigate(c, h.sessionService.NextQuestion)
}

// PreviousQuestion moves the cursor back within the section
// @Summary Previous question
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} engine.State
// @Router /sessions/{id}/previous [post]
func (h *SessionHandler) PreviousQuestion(c *gin.Context) {
	h.navigate(c, h.sessionService.PreviousQuestion)
}

// NextSection commits the current section and enters the next one
// @Summary Next section
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} engine.State
// @Failure 422 {object} ErrorResponse
// @Router /sessions/{id}/next-section [post]
func (h *SessionHandler) NextSection(c *gin.Context) {
	h.navigate(c, h.sessionService.NextSection)
}

// JumpToQuestion moves the cursor to an arbitrary question in the section
// @Summary Jump to question
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param target body services.JumpToQuestionRequest true "Target question index"
// @Success 200 {object} engine.State
// @Router /sessions/{id}/jump [post]
func (h *SessionHandler) JumpToQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.JumpToQuestionRequest
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

	state, err := h.sessionService.JumpToQuestion(c.Request.Context(), userID, id, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// FinishSession submits the session for final scoring
// @Summary Finish session
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResultResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/finish [post]
func (h *SessionHandler) FinishSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Finishing exam session", "session_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.FinishSession(c.Request.Context(), userID, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetResults returns the review payload for a finished session
// @Summary Get session results
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResultResponse
// @Failure 409 {object} ErrorResponse
// @Router /sessions/{id}/results [get]
func (h *SessionHandler) GetResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.GetResults(c.Request.Context(), userID, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// navigate factors out the shared shape of the cursor movement handlers
func (h *SessionHandler) navigate(c *gin.Context, move func(ctx context.Context, userID string, sessionID uint) (*engine.State, error)) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	state, err := move(c.Request.Context(), userID, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}
