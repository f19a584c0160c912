package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edubridge/classquiz/internal/blob"
	"github.com/edubridge/classquiz/internal/clock"
	"github.com/edubridge/classquiz/internal/extract"
	"github.com/edubridge/classquiz/internal/metrics"
	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/segment"
	"github.com/edubridge/classquiz/internal/store"
)

// Dispatcher schedules document pipeline work.
type Dispatcher interface {
	EnqueueSubmission(ctx context.Context, quizID, participantID string) error
	EnqueueQuizDocument(ctx context.Context, quizID string, role model.DocumentRole) error
}

// MaxDocumentSize bounds uploaded documents.
const MaxDocumentSize = 20 << 20

// Service implements the quiz lifecycle for instructors and participants.
type Service struct {
	store  store.Store
	blobs  blob.Store
	jobs   Dispatcher
	clock  clock.Clock
	policy Policy
}

// NewService creates a Service.
func NewService(st store.Store, blobs blob.Store, jobs Dispatcher, clk clock.Clock, policy Policy) *Service {
	return &Service{store: st, blobs: blobs, jobs: jobs, clock: clk, policy: policy}
}

// Input holds the editable fields of a quiz.
type Input struct {
	ClassroomID string
	Title       string
	Description string
	StartTime   time.Time
	Duration    int
	Published   bool
	Mode        model.QuizMode
	Questions   []model.Question
}

// Upload is a document sent by a user.
type Upload struct {
	Filename string
	Data     []byte
}

// View is a participant's view of a quiz: no answers, plus their status.
type View struct {
	ID                  string           `json:"id"`
	ClassroomID         string           `json:"classroom_id"`
	Title               string           `json:"title"`
	Description         string           `json:"description"`
	StartTime           time.Time        `json:"start_time"`
	Duration            int              `json:"duration"`
	Mode                model.QuizMode   `json:"mode"`
	Status              model.QuizStatus `json:"status"`
	StartedAt           *time.Time       `json:"started_at,omitempty"`
	HasQuestionDocument bool             `json:"has_question_document"`
	Questions           []model.Question `json:"questions,omitempty"`
}

// validateInput checks in and returns its questions with defaults applied.
func validateInput(in Input) ([]model.Question, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidQuiz)
	}
	if in.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", model.ErrInvalidQuiz)
	}
	if in.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", model.ErrInvalidQuiz)
	}
	switch in.Mode {
	case model.ModeStructured:
		if len(in.Questions) == 0 {
			return nil, fmt.Errorf("%w: a structured quiz needs at least one question", model.ErrInvalidQuiz)
		}
		questions := make([]model.Question, 0, len(in.Questions))
		seen := make(map[string]bool, len(in.Questions))
		for _, q := range in.Questions {
			if q.ID == "" {
				return nil, fmt.Errorf("%w: question id is required", model.ErrInvalidQuiz)
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("%w: duplicate question id %q", model.ErrInvalidQuiz, q.ID)
			}
			seen[q.ID] = true
			valid, err := q.Wire().Question()
			if err != nil {
				return nil, err
			}
			questions = append(questions, valid)
		}
		return questions, nil
	case model.ModeDocument:
		if len(in.Questions) > 0 {
			return nil, fmt.Errorf("%w: a document quiz has no structured questions", model.ErrInvalidQuiz)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown mode %q", model.ErrInvalidQuiz, in.Mode)
}

// CreateQuiz creates a quiz owned by user. Document quizzes get their
// question paper through UploadQuizDocument.
func (s *Service) CreateQuiz(ctx context.Context, user *model.User, in Input) (*model.Quiz, error) {
	questions, err := validateInput(in)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	q := &model.Quiz{
		ID:          uuid.NewString(),
		ClassroomID: in.ClassroomID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		StartTime:   in.StartTime,
		Duration:    in.Duration,
		Published:   in.Published,
		Mode:        in.Mode,
		Questions:   questions,
		CreatedBy:   user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateQuiz(ctx, q); err != nil {
		return nil, fmt.Errorf("create quiz: %w", err)
	}
	slog.Info("quiz created", "quiz_id", q.ID, "mode", q.Mode, "created_by", user.ID)
	return q, nil
}

// Quiz returns the full quiz.
func (s *Service) Quiz(ctx context.Context, id string) (*model.Quiz, error) {
	return s.store.GetQuiz(ctx, id)
}

// Quizzes lists the quizzes of a classroom, or all quizzes.
func (s *Service) Quizzes(ctx context.Context, classroomID string) ([]model.Quiz, error) {
	return s.store.ListQuizzes(ctx, classroomID)
}

// owned loads a quiz the user may manage.
func (s *Service) owned(ctx context.Context, user *model.User, id string) (*model.Quiz, error) {
	q, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role != model.UserRoleTeacher || q.CreatedBy != user.ID {
		return nil, fmt.Errorf("%w: quiz %s belongs to another instructor", model.ErrForbidden, id)
	}
	return q, nil
}

// UpdateQuiz replaces the editable fields of an unlocked quiz. The mode of
// a quiz cannot change.
func (s *Service) UpdateQuiz(ctx context.Context, user *model.User, id string, in Input) (*model.Quiz, error) {
	q, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if q.Locked {
		return nil, model.ErrQuizLocked
	}
	if in.Mode == "" {
		in.Mode = q.Mode
	}
	if in.Mode != q.Mode {
		return nil, fmt.Errorf("%w: mode cannot change from %s to %s", model.ErrInvalidQuiz, q.Mode, in.Mode)
	}
	questions, err := validateInput(in)
	if err != nil {
		return nil, err
	}
	q.ClassroomID = in.ClassroomID
	q.Title = strings.TrimSpace(in.Title)
	q.Description = in.Description
	q.StartTime = in.StartTime
	q.Duration = in.Duration
	q.Published = in.Published
	q.Questions = questions
	q.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateQuiz(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// DeleteQuiz removes an unlocked quiz and its documents.
func (s *Service) DeleteQuiz(ctx context.Context, user *model.User, id string) error {
	q, err := s.owned(ctx, user, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteQuiz(ctx, id); err != nil {
		return err
	}
	for _, ref := range []*model.DocumentRef{q.QuestionDocument, q.AnswerKeyDocument} {
		s.deleteBlob(ctx, ref)
	}
	slog.Info("quiz deleted", "quiz_id", id)
	return nil
}

// UploadQuizDocument stores a question paper or answer key for an unlocked
// document quiz and schedules its extraction.
func (s *Service) UploadQuizDocument(ctx context.Context, user *model.User, id string, role model.DocumentRole, up Upload) (*model.DocumentRef, error) {
	if role != model.RoleQuestionPaper && role != model.RoleAnswerKey {
		return nil, fmt.Errorf("%w: quizzes have no %q document", model.ErrInvalidQuiz, role)
	}
	q, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if q.Mode != model.ModeDocument {
		return nil, model.ErrWrongMode
	}
	if q.Locked {
		return nil, model.ErrQuizLocked
	}
	ref, err := s.putDocument(ctx, blob.QuizDocumentKey(id, role, uuid.NewString()), up)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetQuizDocument(ctx, id, role, ref); err != nil {
		s.deleteBlob(ctx, ref)
		return nil, err
	}
	previous, _ := q.Document(role)
	s.deleteBlob(ctx, previous)

	if err := s.jobs.EnqueueQuizDocument(ctx, id, role); err != nil {
		// The upload stands; processing can be retried by uploading again.
		slog.Error("failed to enqueue quiz document", "quiz_id", id, "role", role, "error", err)
	}
	slog.Info("quiz document uploaded", "quiz_id", id, "role", role, "size", ref.Size)
	return ref, nil
}

// SetModelAnswers stores instructor-typed reference answers keyed by
// question number. They replace any answer key extract.
func (s *Service) SetModelAnswers(ctx context.Context, user *model.User, id string, answers map[string]string) (*model.ExtractedContent, error) {
	q, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if q.Mode != model.ModeDocument {
		return nil, model.ErrWrongMode
	}
	segs := make(model.Segments, len(answers))
	var raw []string
	for k, v := range answers {
		key, ok := segment.NormalizeKey(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a question number", model.ErrInvalidQuiz, k)
		}
		if v = strings.TrimSpace(v); v == "" {
			return nil, fmt.Errorf("%w: answer %s is empty", model.ErrInvalidQuiz, key)
		}
		segs[key] = v
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: no answers given", model.ErrInvalidQuiz)
	}
	for _, n := range segs.QuestionNumbers() {
		raw = append(raw, n+". "+segs[n])
	}
	c := &model.ExtractedContent{
		RawText:     strings.Join(raw, "\n"),
		Segments:    segs,
		Method:      model.MethodManual,
		ExtractedAt: s.clock.Now(),
	}
	if err := s.store.SetModelAnswers(ctx, id, c); err != nil {
		return nil, err
	}
	return c, nil
}

// QuizDocument returns a quiz document. Participants may read the question
// paper once the quiz is available to them, and never the answer key.
func (s *Service) QuizDocument(ctx context.Context, user *model.User, id string, role model.DocumentRole) (*model.DocumentRef, []byte, error) {
	q, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if user.Role != model.UserRoleTeacher {
		if role != model.RoleQuestionPaper || !q.Published {
			return nil, nil, model.ErrForbidden
		}
		status, err := s.status(ctx, q, user.ID)
		if err != nil {
			return nil, nil, err
		}
		if status == model.StatusUpcoming {
			return nil, nil, fmt.Errorf("%w: quiz has not opened yet", model.ErrNotAvailable)
		}
	}
	ref, _ := q.Document(role)
	if ref == nil {
		return nil, nil, model.ErrNotFound
	}
	data, err := s.blobs.Get(ctx, ref.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("read document: %w", err)
	}
	return ref, data, nil
}

func (s *Service) submitted(ctx context.Context, quizID, participantID string) (bool, error) {
	_, err := s.store.GetSubmission(ctx, quizID, participantID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotFound):
		return false, nil
	}
	return false, err
}

func (s *Service) status(ctx context.Context, q *model.Quiz, participantID string) (model.QuizStatus, error) {
	done, err := s.submitted(ctx, q.ID, participantID)
	if err != nil {
		return "", err
	}
	return s.policy.StatusAt(ScheduleOf(q), done, s.clock.Now()), nil
}

// published loads a quiz visible to participants.
func (s *Service) published(ctx context.Context, id string) (*model.Quiz, error) {
	q, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	if !q.Published {
		return nil, model.ErrNotFound
	}
	return q, nil
}

func (s *Service) view(ctx context.Context, q *model.Quiz, participantID string, withQuestions bool) (*View, error) {
	status, err := s.status(ctx, q, participantID)
	if err != nil {
		return nil, err
	}
	v := &View{
		ID:                  q.ID,
		ClassroomID:         q.ClassroomID,
		Title:               q.Title,
		Description:         q.Description,
		StartTime:           q.StartTime,
		Duration:            q.Duration,
		Mode:                q.Mode,
		Status:              status,
		HasQuestionDocument: q.QuestionDocument != nil,
	}
	started, err := s.store.GetStart(ctx, q.ID, participantID)
	if err != nil {
		return nil, err
	}
	if !started.IsZero() {
		v.StartedAt = &started
	}
	if withQuestions {
		v.Questions = stripped(q.Questions)
	}
	return v, nil
}

// ParticipantQuizzes lists the published quizzes of a classroom with the
// participant's status. Questions are not included.
func (s *Service) ParticipantQuizzes(ctx context.Context, classroomID, participantID string) ([]View, error) {
	quizzes, err := s.store.ListQuizzes(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(quizzes))
	for i := range quizzes {
		if !quizzes[i].Published {
			continue
		}
		v, err := s.view(ctx, &quizzes[i], participantID, false)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// ParticipantQuiz returns one published quiz. Questions are included only
// once the participant has started or submitted.
func (s *Service) ParticipantQuiz(ctx context.Context, id, participantID string) (*View, error) {
	q, err := s.published(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.view(ctx, q, participantID, false)
	if err != nil {
		return nil, err
	}
	// Questions stay hidden until the participant starts.
	if v.StartedAt != nil || v.Status == model.StatusSubmitted {
		v.Questions = stripped(q.Questions)
	}
	return v, nil
}

func stripped(questions []model.Question) []model.Question {
	out := make([]model.Question, len(questions))
	for i, q := range questions {
		out[i] = q.StripAnswers()
	}
	return out
}

// Status returns the participant's status for a quiz.
func (s *Service) Status(ctx context.Context, id, participantID string) (model.QuizStatus, error) {
	q, err := s.published(ctx, id)
	if err != nil {
		return "", err
	}
	return s.status(ctx, q, participantID)
}

// Start records the participant's first start and returns the quiz with
// its questions.
func (s *Service) Start(ctx context.Context, id, participantID string) (*View, error) {
	q, err := s.published(ctx, id)
	if err != nil {
		return nil, err
	}
	done, err := s.submitted(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.policy.CanStart(ScheduleOf(q), done, now); err != nil {
		return nil, err
	}
	if q.Mode == model.ModeDocument && q.QuestionDocument == nil {
		return nil, fmt.Errorf("%w: question paper not uploaded yet", model.ErrNotAvailable)
	}
	if _, err := s.store.RecordStart(ctx, id, participantID, now); err != nil {
		return nil, fmt.Errorf("record start: %w", err)
	}
	slog.Info("quiz started", "quiz_id", id, "participant_id", participantID)
	return s.view(ctx, q, participantID, true)
}

// checkSubmit loads a quiz that accepts a submission from the participant now.
func (s *Service) checkSubmit(ctx context.Context, id, participantID string, mode model.QuizMode) (*model.Quiz, error) {
	q, err := s.published(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Mode != mode {
		return nil, model.ErrWrongMode
	}
	done, err := s.submitted(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanSubmit(ScheduleOf(q), done, s.clock.Now()); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) newSubmission(ctx context.Context, q *model.Quiz, participantID string) (*model.Submission, error) {
	now := s.clock.Now()
	started, err := s.store.GetStart(ctx, q.ID, participantID)
	if err != nil {
		return nil, err
	}
	if started.IsZero() {
		started = now
	}
	return &model.Submission{
		ID:            uuid.NewString(),
		QuizID:        q.ID,
		ParticipantID: participantID,
		StartTime:     started,
		EndTime:       now,
	}, nil
}

// insert stores the submission and locks the quiz against further edits.
func (s *Service) insert(ctx context.Context, q *model.Quiz, sub *model.Submission) error {
	if err := s.store.Submit(ctx, sub); err != nil {
		return err
	}
	metrics.Submissions.WithLabelValues(string(q.Mode)).Inc()
	slog.Info("submission received", "quiz_id", q.ID, "participant_id", sub.ParticipantID, "mode", q.Mode)
	return nil
}

// SubmitAnswers scores and stores the answers to a structured quiz.
func (s *Service) SubmitAnswers(ctx context.Context, id, participantID string, responses map[string]model.Response) (*model.Submission, error) {
	q, err := s.checkSubmit(ctx, id, participantID, model.ModeStructured)
	if err != nil {
		return nil, err
	}
	records, totals, err := ScoreAll(q.Questions, responses)
	if err != nil {
		return nil, err
	}
	sub, err := s.newSubmission(ctx, q, participantID)
	if err != nil {
		return nil, err
	}
	sub.Answers = records
	sub.Score = totals.Score
	sub.MaxScore = totals.MaxScore
	sub.Percentage = totals.Percentage
	sub.CorrectCount = totals.CorrectCount
	sub.IsGraded = !hasFreeText(q.Questions)
	if err := s.insert(ctx, q, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func hasFreeText(questions []model.Question) bool {
	for _, q := range questions {
		if _, ok := q.Body.(model.FreeText); ok {
			return true
		}
	}
	return false
}

// SubmitDocument stores an answer script and schedules its grading.
func (s *Service) SubmitDocument(ctx context.Context, id, participantID string, up Upload) (*model.Submission, error) {
	q, err := s.checkSubmit(ctx, id, participantID, model.ModeDocument)
	if err != nil {
		return nil, err
	}
	sub, err := s.newSubmission(ctx, q, participantID)
	if err != nil {
		return nil, err
	}
	ref, err := s.putDocument(ctx, blob.SubmissionDocumentKey(id, participantID, sub.ID), up)
	if err != nil {
		return nil, err
	}
	sub.Document = ref
	if err := s.insert(ctx, q, sub); err != nil {
		s.deleteBlob(ctx, ref)
		return nil, err
	}
	if err := s.jobs.EnqueueSubmission(ctx, id, participantID); err != nil {
		slog.Error("failed to enqueue submission", "quiz_id", id, "participant_id", participantID, "error", err)
	}
	return sub, nil
}

// Result returns the participant's own submission.
func (s *Service) Result(ctx context.Context, id, participantID string) (*model.Submission, error) {
	if _, err := s.published(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetSubmission(ctx, id, participantID)
}

// Results returns every submission of a quiz in export form.
func (s *Service) Results(ctx context.Context, user *model.User, id string) (*model.QuizExport, error) {
	if _, err := s.owned(ctx, user, id); err != nil {
		return nil, err
	}
	return store.ExportQuiz(ctx, s.store, id, s.clock.Now())
}

// Submission returns one participant's submission to the quiz owner.
func (s *Service) Submission(ctx context.Context, user *model.User, id, participantID string) (*model.Submission, error) {
	if _, err := s.owned(ctx, user, id); err != nil {
		return nil, err
	}
	return s.store.GetSubmission(ctx, id, participantID)
}

// SubmissionDocument returns an answer script to the quiz owner or to the
// participant who uploaded it.
func (s *Service) SubmissionDocument(ctx context.Context, user *model.User, id, participantID string) (*model.DocumentRef, []byte, error) {
	if user.ID != participantID {
		if _, err := s.owned(ctx, user, id); err != nil {
			return nil, nil, err
		}
	}
	sub, err := s.store.GetSubmission(ctx, id, participantID)
	if err != nil {
		return nil, nil, err
	}
	if sub.Document == nil {
		return nil, nil, model.ErrNotFound
	}
	data, err := s.blobs.Get(ctx, sub.Document.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("read document: %w", err)
	}
	return sub.Document, data, nil
}

// TriggerAutoGrade schedules grading of a document submission. Graded
// submissions are returned unchanged.
func (s *Service) TriggerAutoGrade(ctx context.Context, user *model.User, id, participantID string) (*model.Submission, error) {
	q, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if q.Mode != model.ModeDocument {
		return nil, model.ErrWrongMode
	}
	sub, err := s.store.GetSubmission(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	if sub.AutoGraded || sub.ManualGraded {
		return sub, nil
	}
	if err := s.jobs.EnqueueSubmission(ctx, id, participantID); err != nil {
		return nil, fmt.Errorf("enqueue grading: %w", err)
	}
	return sub, nil
}

// ManualGrade overrides a submission's score and feedback. A zero maxScore
// keeps the stored maximum.
func (s *Service) ManualGrade(ctx context.Context, user *model.User, id, participantID string, score, maxScore float64, feedback string) (*model.Submission, error) {
	if _, err := s.owned(ctx, user, id); err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubmission(ctx, id, participantID)
	if err != nil {
		return nil, err
	}
	limit := maxScore
	if limit == 0 {
		limit = sub.MaxScore
	}
	if score < 0 || maxScore < 0 || (limit > 0 && score > limit) {
		return nil, fmt.Errorf("%w: score must be between 0 and %g", model.ErrInvalidAnswer, limit)
	}
	err = s.store.SaveManualGrade(ctx, id, participantID, model.ManualGrade{
		Score:    score,
		MaxScore: maxScore,
		Feedback: strings.TrimSpace(feedback),
		GradedBy: user.ID,
		GradedAt: s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("submission graded manually", "quiz_id", id, "participant_id", participantID, "score", score, "graded_by", user.ID)
	return s.store.GetSubmission(ctx, id, participantID)
}

func (s *Service) putDocument(ctx context.Context, key string, up Upload) (*model.DocumentRef, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: empty document", model.ErrInvalidAnswer)
	}
	if len(up.Data) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: document larger than %d MB", model.ErrInvalidAnswer, MaxDocumentSize>>20)
	}
	contentType := extract.Detect(up.Data)
	if contentType == "" {
		return nil, fmt.Errorf("%w: only PDF and image documents are accepted", model.ErrInvalidAnswer)
	}
	if err := s.blobs.Put(ctx, key, up.Data, contentType); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	return &model.DocumentRef{
		Key:         key,
		Filename:    up.Filename,
		ContentType: contentType,
		Size:        int64(len(up.Data)),
		UploadedAt:  s.clock.Now(),
	}, nil
}

func (s *Service) deleteBlob(ctx context.Context, ref *model.DocumentRef) {
	if ref == nil {
		return
	}
	if err := s.blobs.Delete(ctx, ref.Key); err != nil {
		slog.Warn("failed to delete document", "key", ref.Key, "error", err)
	}
}
