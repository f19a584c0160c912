package model

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// UserRole represents a caller's access level.
type UserRole string

const (
	// UserRoleStudent is a quiz participant.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a quiz instructor.
	UserRoleTeacher UserRole = "teacher"
)

// User is the authenticated caller, as asserted by the identity provider's token.
type User struct {
	ID   string
	Name string
	Role UserRole
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// QuizMode says how a quiz's questions are represented.
type QuizMode string

const (
	ModeStructured QuizMode = "structured"
	ModeDocument   QuizMode = "document"
)

// QuizStatus is a participant's view of a quiz at a point in time. It is never stored.
type QuizStatus string

const (
	StatusUpcoming  QuizStatus = "upcoming"
	StatusAvailable QuizStatus = "available"
	StatusSubmitted QuizStatus = "submitted"
	StatusMissed    QuizStatus = "missed"
)

// DocumentRole identifies which uploaded document a piece of text came from.
type DocumentRole string

const (
	RoleQuestionPaper DocumentRole = "question-paper"
	RoleAnswerKey     DocumentRole = "answer-key"
	RoleAnswerScript  DocumentRole = "answer-script"
)

// Valid reports whether r is a known document role.
func (r DocumentRole) Valid() bool {
	switch r {
	case RoleQuestionPaper, RoleAnswerKey, RoleAnswerScript:
		return true
	}
	return false
}

// ExtractionMethod records which extraction strategy produced a text.
type ExtractionMethod string

const (
	MethodTextLayer ExtractionMethod = "text-layer"
	MethodOCR       ExtractionMethod = "ocr"
	// MethodManual marks reference answers typed in by the instructor.
	MethodManual ExtractionMethod = "manual"
)

// PreambleKey holds text that could not be attributed to a question.
const PreambleKey = "0"

// DocumentRef points at an uploaded document in blob storage.
type DocumentRef struct {
	Key         string    `json:"key" bson:"key"`
	Filename    string    `json:"filename" bson:"filename"`
	ContentType string    `json:"content_type" bson:"contentType"`
	Size        int64     `json:"size" bson:"size"`
	UploadedAt  time.Time `json:"uploaded_at" bson:"uploadedAt"`
}

// Segments maps a question number to its text. Key "0" is the preamble.
type Segments map[string]string

// QuestionNumbers returns the keys other than the preamble, sorted numerically.
func (s Segments) QuestionNumbers() []string {
	nums := make([]string, 0, len(s))
	for k := range s {
		if k != PreambleKey {
			nums = append(nums, k)
		}
	}
	SortQuestionNumbers(nums)
	return nums
}

// SortQuestionNumbers sorts numeric keys by value; non-numeric keys sort after, lexically.
func SortQuestionNumbers(nums []string) {
	sort.Slice(nums, func(i, j int) bool {
		a, errA := strconv.Atoi(nums[i])
		b, errB := strconv.Atoi(nums[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return nums[i] < nums[j]
	})
}

// ExtractedContent is the text pulled from one document plus its segmentation.
type ExtractedContent struct {
	RawText     string           `json:"raw_text" bson:"rawText"`
	Segments    Segments         `json:"segments" bson:"segments"`
	Method      ExtractionMethod `json:"method" bson:"method"`
	ExtractedAt time.Time        `json:"extracted_at" bson:"extractedAt"`
}

// Quiz is a time-bounded assessment.
type Quiz struct {
	ID          string    `json:"id" bson:"_id"`
	ClassroomID string    `json:"classroom_id" bson:"classroomId"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description" bson:"description"`
	StartTime   time.Time `json:"start_time" bson:"startTime"`
	Duration    int       `json:"duration" bson:"duration"` // minutes
	Published   bool      `json:"published" bson:"published"`
	Mode        QuizMode  `json:"mode" bson:"mode"`

	Questions []Question `json:"questions,omitempty" bson:"questions,omitempty"`

	QuestionDocument      *DocumentRef      `json:"question_document,omitempty" bson:"questionDocument,omitempty"`
	AnswerKeyDocument     *DocumentRef      `json:"answer_key_document,omitempty" bson:"answerKeyDocument,omitempty"`
	QuestionExtract       *ExtractedContent `json:"question_extract,omitempty" bson:"questionExtract,omitempty"`
	AnswerKeyExtract      *ExtractedContent `json:"answer_key_extract,omitempty" bson:"answerKeyExtract,omitempty"`
	QuestionExtractError  string            `json:"question_extract_error,omitempty" bson:"questionExtractError,omitempty"`
	AnswerKeyExtractError string            `json:"answer_key_extract_error,omitempty" bson:"answerKeyExtractError,omitempty"`

	Locked    bool      `json:"locked" bson:"locked"`
	CreatedBy string    `json:"created_by" bson:"createdBy"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
}

// End returns the nominal end of the quiz window.
func (q *Quiz) End() time.Time {
	return q.StartTime.Add(time.Duration(q.Duration) * time.Minute)
}

// Document returns the document ref and extract stored for role.
func (q *Quiz) Document(role DocumentRole) (*DocumentRef, *ExtractedContent) {
	switch role {
	case RoleQuestionPaper:
		return q.QuestionDocument, q.QuestionExtract
	case RoleAnswerKey:
		return q.AnswerKeyDocument, q.AnswerKeyExtract
	}
	return nil, nil
}

// MaxScore sums the point values of structured questions.
func (q *Quiz) MaxScore() float64 {
	var total float64
	for _, qs := range q.Questions {
		total += qs.Points
	}
	return total
}

// Response is what a participant submitted for one structured question.
type Response struct {
	SelectedOption  string   `json:"selected_option,omitempty" bson:"selectedOption,omitempty"`
	SelectedOptions []string `json:"selected_options,omitempty" bson:"selectedOptions,omitempty"`
	Text            string   `json:"text,omitempty" bson:"text,omitempty"`
}

// AnswerRecord is a stored response with its derived score.
type AnswerRecord struct {
	Response  `bson:",inline"`
	IsCorrect bool    `json:"is_correct" bson:"isCorrect"`
	Score     float64 `json:"score" bson:"score"`
	MaxScore  float64 `json:"max_score" bson:"maxScore"`
	IsGraded  bool    `json:"is_graded" bson:"isGraded"`
}

// QuestionGradeResult is the grade for one question of a document submission.
type QuestionGradeResult struct {
	QuestionNumber     string   `json:"question_number" bson:"questionNumber"`
	Score              float64  `json:"score" bson:"score"`
	MaxScore           float64  `json:"max_score" bson:"maxScore"`
	Feedback           string   `json:"feedback" bson:"feedback"`
	KeyPointsAddressed []string `json:"key_points_addressed" bson:"keyPointsAddressed"`
	KeyPointsMissed    []string `json:"key_points_missed" bson:"keyPointsMissed"`
	Answered           bool     `json:"answered" bson:"answered"`
	GradingFailed      bool     `json:"grading_failed,omitempty" bson:"gradingFailed,omitempty"`
}

// Submission is one participant's attempt at a quiz.
type Submission struct {
	ID            string    `json:"id" bson:"_id"`
	QuizID        string    `json:"quiz_id" bson:"quizId"`
	ParticipantID string    `json:"participant_id" bson:"participantId"`
	StartTime     time.Time `json:"start_time" bson:"startTime"`
	EndTime       time.Time `json:"end_time" bson:"endTime"`

	Answers map[string]AnswerRecord `json:"answers,omitempty" bson:"answers,omitempty"`

	Document        *DocumentRef          `json:"document,omitempty" bson:"document,omitempty"`
	Extracted       *ExtractedContent     `json:"extracted,omitempty" bson:"extracted,omitempty"`
	ExtractionError string                `json:"extraction_error,omitempty" bson:"extractionError,omitempty"`
	GradeResults    []QuestionGradeResult `json:"grade_results,omitempty" bson:"gradeResults,omitempty"`

	Score        float64    `json:"score" bson:"score"`
	MaxScore     float64    `json:"max_score" bson:"maxScore"`
	Percentage   float64    `json:"percentage" bson:"percentage"`
	CorrectCount int        `json:"correct_count" bson:"correctCount"`
	IsGraded     bool       `json:"is_graded" bson:"isGraded"`
	AutoGraded   bool       `json:"auto_graded" bson:"autoGraded"`
	ManualGraded bool       `json:"manual_graded" bson:"manualGraded"`
	Feedback     string     `json:"feedback,omitempty" bson:"feedback,omitempty"`
	GradingNote  string     `json:"grading_note,omitempty" bson:"gradingNote,omitempty"`
	GradedAt     *time.Time `json:"graded_at,omitempty" bson:"gradedAt,omitempty"`
}

// GradingOutcome is what one auto-grading run writes to a submission.
type GradingOutcome struct {
	Results    []QuestionGradeResult
	Score      float64
	MaxScore   float64
	Percentage float64
	Feedback   string
	GradedAt   time.Time
}

// ManualGrade is a human override of a submission's score and feedback.
type ManualGrade struct {
	Score    float64
	MaxScore float64 // zero keeps the stored max score
	Feedback string
	GradedBy string
	GradedAt time.Time
}
