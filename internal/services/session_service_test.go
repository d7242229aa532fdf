package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/grader"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ===== IN-MEMORY REPOSITORY =====

type fakeRepository struct {
	exam    *fakeExamRepo
	session *fakeSessionRepo
	answer  *fakeAnswerRepo
	user    *fakeUserRepo
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		exam:    &fakeExamRepo{exams: make(map[uint]*models.Exam)},
		session: &fakeSessionRepo{sessions: make(map[uint]*models.ExamSession)},
		answer:  &fakeAnswerRepo{answers: make(map[uint]map[uint]*models.SessionAnswer)},
		user:    &fakeUserRepo{users: make(map[string]*models.User)},
	}
}

func (r *fakeRepository) Exam() repositories.ExamRepository       { return r.exam }
func (r *fakeRepository) Session() repositories.SessionRepository { return r.session }
func (r *fakeRepository) Answer() repositories.AnswerRepository   { return r.answer }
func (r *fakeRepository) User() repositories.UserRepository       { return r.user }

func (r *fakeRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}

func (r *fakeRepository) Ping(ctx context.Context) error { return nil }
func (r *fakeRepository) Close() error                   { return nil }

type fakeExamRepo struct {
	mu    sync.Mutex
	seq   uint
	exams map[uint]*models.Exam
}

func (r *fakeExamRepo) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exam.ID == 0 {
		r.seq++
		exam.ID = r.seq
	}
	r.exams[exam.ID] = exam
	return nil
}

func (r *fakeExamRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exam, ok := r.exams[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return exam, nil
}

func (r *fakeExamRepo) GetByModule(ctx context.Context, tx *gorm.DB, courseID, moduleID string) (*models.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, exam := range r.exams {
		if exam.CourseID == courseID && exam.ModuleID == moduleID {
			return exam, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeExamRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Exam, 0, len(r.exams))
	for _, exam := range r.exams {
		out = append(out, exam)
	}
	return out, int64(len(out)), nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	seq      uint
	sessions map[uint]*models.ExamSession
}

func (r *fakeSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	session.ID = r.seq
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) GetMostRecent(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (*models.ExamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *models.ExamSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.CourseID == courseID && s.ModuleID == moduleID {
			if newest == nil || s.ID > newest.ID {
				newest = s
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	copied := *newest
	return &copied, nil
}

func (r *fakeSessionRepo) GetActive(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (*models.ExamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.CourseID == courseID && s.ModuleID == moduleID && s.Status == models.SessionInProgress {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) HasActive(ctx context.Context, tx *gorm.DB, userID, courseID, moduleID string) (bool, error) {
	s, err := r.GetActive(ctx, tx, userID, courseID, moduleID)
	return s != nil, err
}

func (r *fakeSessionRepo) Update(ctx context.Context, tx *gorm.DB, session *models.ExamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *fakeSessionRepo) Finalize(ctx context.Context, tx *gorm.DB, id uint, status models.SessionStatus, score int, endReason string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if session.Status != models.SessionInProgress {
		return false, nil
	}
	session.Status = status
	session.Score = &score
	session.EndReason = &endReason
	session.CompletedAt = &completedAt
	return true, nil
}

func (r *fakeSessionRepo) GetExpired(ctx context.Context, tx *gorm.DB, asOf time.Time, limit int) ([]*models.ExamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExamSession
	for _, s := range r.sessions {
		if s.Status == models.SessionInProgress && !s.EndsAt.After(asOf) {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSessionRepo) ListByModule(ctx context.Context, tx *gorm.DB, courseID, moduleID string, filters repositories.SessionFilters) ([]*models.ExamSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ExamSession
	for _, s := range r.sessions {
		if s.CourseID != courseID || s.ModuleID != moduleID {
			continue
		}
		if filters.UserID != nil && s.UserID != *filters.UserID {
			continue
		}
		if filters.Status != nil && s.Status != *filters.Status {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *fakeSessionRepo) GetModuleStats(ctx context.Context, tx *gorm.DB, courseID, moduleID string) (*repositories.ModuleSessionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repositories.ModuleSessionStats{}
	for _, s := range r.sessions {
		if s.CourseID != courseID || s.ModuleID != moduleID {
			continue
		}
		stats.TotalSessions++
		switch s.Status {
		case models.SessionCompleted:
			stats.CompletedSessions++
		case models.SessionTimedOut:
			stats.TimedOutSessions++
		case models.SessionInProgress:
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

type fakeAnswerRepo struct {
	mu      sync.Mutex
	answers map[uint]map[uint]*models.SessionAnswer
}

func (r *fakeAnswerRepo) Upsert(ctx context.Context, tx *gorm.DB, answer *models.SessionAnswer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bySession, ok := r.answers[answer.SessionID]
	if !ok {
		bySession = make(map[uint]*models.SessionAnswer)
		r.answers[answer.SessionID] = bySession
	}
	copied := *answer
	bySession[answer.QuestionID] = &copied
	return nil
}

func (r *fakeAnswerRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.SessionAnswer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SessionAnswer
	for _, a := range r.answers[sessionID] {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (r *fakeAnswerRepo) GetByQuestion(ctx context.Context, tx *gorm.DB, sessionID, questionID uint) (*models.SessionAnswer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.answers[sessionID][questionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAnswerRepo) CountCorrect(ctx context.Context, tx *gorm.DB, sessionID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.answers[sessionID] {
		if a.IsCorrect {
			count++
		}
	}
	return count, nil
}

func (r *fakeAnswerRepo) DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.answers, sessionID)
	return nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[id]
	return ok, nil
}

func (r *fakeUserRepo) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	return ok && user.Role == role, nil
}

func (r *fakeUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, int64(len(out)), nil
}

// ===== SUPPORTING FAKES =====

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.SessionEvent
}

func (p *capturingPublisher) PublishSessionEvent(ctx context.Context, event events.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) byType(eventType string) []events.SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.SessionEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type stubOracle struct{}

func (stubOracle) Grade(ctx context.Context, req grader.Request) (*grader.Result, error) {
	return &grader.Result{IsCorrect: true, Feedback: "fine"}, nil
}

// ===== FIXTURES =====

func mustJSON(t *testing.T, v interface{}) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return datatypes.JSON(raw)
}

func seedExam(t *testing.T, repo *fakeRepository) *models.Exam {
	t.Helper()
	exam := &models.Exam{
		ID:       1,
		CourseID: "course-1",
		ModuleID: "module-1",
		Title:    "Unit Test 1",
		Status:   models.ExamActive,
		Sections: []models.Section{
			{
				ID:              10,
				Position:        0,
				Title:           "Vocabulary",
				DurationMinutes: 15,
				Questions: []models.Question{
					{ID: 101, Position: 0, Type: models.MultipleChoice, Text: "Pick A",
						Content: mustJSON(t, models.MultipleChoiceContent{Options: []string{"A", "B"}, CorrectAnswer: "A"})},
					{ID: 102, Position: 1, Type: models.MultipleChoice, Text: "Pick B",
						Content: mustJSON(t, models.MultipleChoiceContent{Options: []string{"A", "B"}, CorrectAnswer: "B"})},
				},
			},
			{
				ID:              11,
				Position:        1,
				Title:           "Grammar",
				DurationMinutes: 15,
				Questions: []models.Question{
					{ID: 201, Position: 0, Type: models.MultipleChoice, Text: "Pick B again",
						Content: mustJSON(t, models.MultipleChoiceContent{Options: []string{"A", "B"}, CorrectAnswer: "B"})},
				},
			},
		},
	}
	repo.exam.exams[exam.ID] = exam
	return exam
}

type serviceFixture struct {
	repo      *fakeRepository
	publisher *capturingPublisher
	service   SessionService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := newFakeRepository()
	publisher := &capturingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo.user.users["student-1"] = &models.User{ID: "student-1", Role: models.RoleStudent}
	repo.user.users["teacher-1"] = &models.User{ID: "teacher-1", Role: models.RoleTeacher}

	svc := NewSessionService(repo, nil, logger, validator.New(), stubOracle{}, publisher, nil)
	return &serviceFixture{repo: repo, publisher: publisher, service: svc}
}

func seedExpiredSession(f *serviceFixture, userID string) *models.ExamSession {
	now := time.Now()
	session := &models.ExamSession{
		UserID:         userID,
		CourseID:       "course-1",
		ModuleID:       "module-1",
		ExamID:         1,
		Status:         models.SessionInProgress,
		StartedAt:      now.Add(-time.Hour),
		EndsAt:         now.Add(-30 * time.Minute),
		TotalQuestions: 3,
	}
	f.repo.session.Create(context.Background(), nil, session)
	return session
}

// ===== LIFECYCLE =====

func TestStartSession(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	exam := seedExam(t, f.repo)

	state, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if state.SectionIndex != 0 || state.QuestionIndex != 0 {
		t.Errorf("new session cursor = (%d,%d), want (0,0)", state.SectionIndex, state.QuestionIndex)
	}
	if state.TotalSections != len(exam.Sections) {
		t.Errorf("TotalSections = %d, want %d", state.TotalSections, len(exam.Sections))
	}

	stored, err := f.repo.session.GetByID(ctx, nil, state.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if want := stored.StartedAt.Add(30 * time.Minute); !stored.EndsAt.Equal(want) {
		t.Errorf("EndsAt = %v, want started + 30m", stored.EndsAt)
	}
	if stored.TotalQuestions != 3 {
		t.Errorf("TotalQuestions = %d, want 3", stored.TotalQuestions)
	}

	if got := f.publisher.byType(events.EventSessionStarted); len(got) != 1 {
		t.Errorf("published %d started events, want 1", len(got))
	}
}

func TestStartSessionRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)

	req := StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"}
	if _, err := f.service.StartSession(ctx, "student-1", req); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.StartSession(ctx, "student-1", req); !errors.Is(err, ErrActiveSessionExists) {
		t.Errorf("second StartSession = %v, want ErrActiveSessionExists", err)
	}

	// a different student is unaffected
	f.repo.user.users["student-2"] = &models.User{ID: "student-2", Role: models.RoleStudent}
	if _, err := f.service.StartSession(ctx, "student-2", req); err != nil {
		t.Errorf("StartSession for another user = %v", err)
	}
}

func TestStartSessionFinalizesStaleSessionFirst(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)
	stale := seedExpiredSession(f, "student-1")

	state, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
	if err != nil {
		t.Fatalf("StartSession over stale session: %v", err)
	}
	if state.SessionID == stale.ID {
		t.Fatalf("stale session reused instead of finalized")
	}

	old, err := f.repo.session.GetByID(ctx, nil, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != models.SessionTimedOut {
		t.Errorf("stale session status = %s, want %s", old.Status, models.SessionTimedOut)
	}
	if old.CompletedAt == nil || !old.CompletedAt.Equal(old.EndsAt) {
		t.Errorf("timed out CompletedAt = %v, want the deadline %v", old.CompletedAt, old.EndsAt)
	}

	if got := f.publisher.byType(events.EventSessionFinished); len(got) != 1 {
		t.Errorf("published %d finished events for the stale session, want 1", len(got))
	}
}

func TestStartSessionExamChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("missing exam", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
		if !errors.Is(err, ErrExamNotFound) {
			t.Errorf("got %v, want ErrExamNotFound", err)
		}
	})

	t.Run("inactive exam", func(t *testing.T) {
		f := newServiceFixture(t)
		exam := seedExam(t, f.repo)
		exam.Status = models.ExamDraft
		_, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
		if !errors.Is(err, ErrExamNotActive) {
			t.Errorf("got %v, want ErrExamNotActive", err)
		}
	})

	t.Run("empty exam", func(t *testing.T) {
		f := newServiceFixture(t)
		exam := seedExam(t, f.repo)
		exam.Sections = nil
		_, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
		if !errors.Is(err, ErrExamHasNoQuestions) {
			t.Errorf("got %v, want ErrExamHasNoQuestions", err)
		}
	})

	t.Run("missing course id", func(t *testing.T) {
		f := newServiceFixture(t)
		seedExam(t, f.repo)
		_, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{ModuleID: "module-1"})
		if err == nil {
			t.Error("blank course_id accepted")
		}
	})
}

func TestResumeSession(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)

	req := StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"}

	if _, err := f.service.ResumeSession(ctx, "student-1", req); !errors.Is(err, ErrNoResumableSession) {
		t.Errorf("resume with nothing to resume = %v, want ErrNoResumableSession", err)
	}

	started, err := f.service.StartSession(ctx, "student-1", req)
	if err != nil {
		t.Fatal(err)
	}

	resumed, err := f.service.ResumeSession(ctx, "student-1", req)
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if resumed.SessionID != started.SessionID {
		t.Errorf("resumed session %d, want %d", resumed.SessionID, started.SessionID)
	}
}

func TestResumeExpiredSessionFinalizesIt(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)
	stale := seedExpiredSession(f, "student-1")

	_, err := f.service.ResumeSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
	if !errors.Is(err, ErrNoResumableSession) {
		t.Fatalf("resume of expired session = %v, want ErrNoResumableSession", err)
	}

	old, err := f.repo.session.GetByID(ctx, nil, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != models.SessionTimedOut {
		t.Errorf("expired session status = %s, want %s", old.Status, models.SessionTimedOut)
	}
}

// ===== FINISH AND RESULTS =====

func TestFinishSessionScoresFromPersistedAnswers(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)

	state, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
	if err != nil {
		t.Fatal(err)
	}
	id := state.SessionID

	// answer q1 correctly, q2 wrong, leave q3 blank
	if _, err := f.service.SelectAnswer(ctx, "student-1", id, SelectAnswerRequest{Answer: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.NextQuestion(ctx, "student-1", id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.SelectAnswer(ctx, "student-1", id, SelectAnswerRequest{Answer: "A"}); err != nil {
		t.Fatal(err)
	}

	result, err := f.service.FinishSession(ctx, "student-1", id)
	if err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if result.Status != models.SessionCompleted {
		t.Errorf("status = %s, want %s", result.Status, models.SessionCompleted)
	}
	if result.Score == nil || *result.Score != 1 {
		t.Errorf("score = %v, want 1", result.Score)
	}
	if result.CorrectCount != 1 {
		t.Errorf("CorrectCount = %d, want 1", result.CorrectCount)
	}
	if len(result.Answers) != 2 {
		t.Errorf("answers in result = %d, want 2", len(result.Answers))
	}
	for _, a := range result.Answers {
		if a.QuestionText == "" {
			t.Errorf("answer for question %d missing question text", a.QuestionID)
		}
	}

	if got := f.publisher.byType(events.EventSessionFinished); len(got) != 1 {
		t.Fatalf("published %d finished events, want 1", len(got))
	}
	event := f.publisher.byType(events.EventSessionFinished)[0]
	if event.Score == nil || *event.Score != 1 {
		t.Errorf("event score = %v, want 1", event.Score)
	}

	if _, err := f.service.FinishSession(ctx, "student-1", id); !errors.Is(err, ErrSessionAlreadyFinished) {
		t.Errorf("second finish = %v, want ErrSessionAlreadyFinished", err)
	}
	if got := f.publisher.byType(events.EventSessionFinished); len(got) != 1 {
		t.Errorf("finished event published again on double finish")
	}
}

func TestGetResults(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)

	state, err := f.service.StartSession(ctx, "student-1", StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.service.GetResults(ctx, "student-1", state.SessionID); !errors.Is(err, ErrSessionNotFinished) {
		t.Errorf("results for running session = %v, want ErrSessionNotFinished", err)
	}

	if _, err := f.service.FinishSession(ctx, "student-1", state.SessionID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.service.GetResults(ctx, "student-1", state.SessionID); err != nil {
		t.Errorf("results for finished session = %v", err)
	}

	// another student cannot read them
	if _, err := f.service.GetResults(ctx, "teacher-1", state.SessionID); !errors.Is(err, ErrForbidden) {
		t.Errorf("results for non-owner = %v, want ErrForbidden", err)
	}

	if _, err := f.service.GetResults(ctx, "student-1", 999); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("results for unknown session = %v, want ErrSessionNotFound", err)
	}
}

// ===== REPORTING =====

func TestListModuleSessionsScopesStudentsToSelf(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)
	f.repo.user.users["student-2"] = &models.User{ID: "student-2", Role: models.RoleStudent}

	for _, userID := range []string{"student-1", "student-2"} {
		state, err := f.service.StartSession(ctx, userID, StartSessionRequest{CourseID: "course-1", ModuleID: "module-1"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.service.FinishSession(ctx, userID, state.SessionID); err != nil {
			t.Fatal(err)
		}
	}

	mine, err := f.service.ListModuleSessions(ctx, "student-1", "course-1", "module-1", repositories.SessionFilters{})
	if err != nil {
		t.Fatalf("ListModuleSessions as student: %v", err)
	}
	if len(mine.Sessions) != 1 || mine.Sessions[0].UserID != "student-1" {
		t.Errorf("student sees %d sessions, want only their own", len(mine.Sessions))
	}

	all, err := f.service.ListModuleSessions(ctx, "teacher-1", "course-1", "module-1", repositories.SessionFilters{})
	if err != nil {
		t.Fatalf("ListModuleSessions as teacher: %v", err)
	}
	if len(all.Sessions) != 2 {
		t.Errorf("teacher sees %d sessions, want 2", len(all.Sessions))
	}
}

func TestGetModuleStatsRequiresReviewer(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)

	if _, err := f.service.GetModuleStats(ctx, "student-1", "course-1", "module-1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("stats as student = %v, want ErrForbidden", err)
	}
	if _, err := f.service.GetModuleStats(ctx, "teacher-1", "course-1", "module-1"); err != nil {
		t.Errorf("stats as teacher = %v", err)
	}
}

// ===== SWEEP =====

func TestSweepExpiredSessions(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	seedExam(t, f.repo)

	seedExpiredSession(f, "student-1")
	seedExpiredSession(f, "student-2")

	// a session still inside its window must not be swept
	now := time.Now()
	live := &models.ExamSession{
		UserID:    "student-3",
		CourseID:  "course-1",
		ModuleID:  "module-1",
		ExamID:    1,
		Status:    models.SessionInProgress,
		StartedAt: now,
		EndsAt:    now.Add(30 * time.Minute),
	}
	f.repo.session.Create(ctx, nil, live)

	swept, err := f.service.SweepExpiredSessions(ctx, 10)
	if err != nil {
		t.Fatalf("SweepExpiredSessions: %v", err)
	}
	if swept != 2 {
		t.Errorf("swept %d sessions, want 2", swept)
	}

	if got := f.publisher.byType(events.EventSessionFinished); len(got) != 2 {
		t.Errorf("published %d finished events, want 2", len(got))
	}

	untouched, err := f.repo.session.GetByID(ctx, nil, live.ID)
	if err != nil {
		t.Fatal(err)
	}
	if untouched.Status != models.SessionInProgress {
		t.Errorf("live session swept, status = %s", untouched.Status)
	}

	// a second sweep finds nothing
	swept, err = f.service.SweepExpiredSessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 0 {
		t.Errorf("second sweep swept %d sessions, want 0", swept)
	}
}
