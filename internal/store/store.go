// Package store persists quizzes, start records and submissions.
package store

import (
	"context"
	"time"

	"github.com/edubridge/classquiz/internal/model"
)

// Store is the document store behind the quiz service and grading pipeline.
// Lookups of missing records return model.ErrNotFound. Conditional writes
// report whether they applied instead of failing.
type Store interface {
	CreateQuiz(ctx context.Context, q *model.Quiz) error
	GetQuiz(ctx context.Context, id string) (*model.Quiz, error)
	// ListQuizzes returns quizzes in creation order. An empty classroom id lists all.
	ListQuizzes(ctx context.Context, classroomID string) ([]model.Quiz, error)
	// UpdateQuiz writes the editable fields (title, description, schedule,
	// published flag, questions) of an unlocked quiz. Returns model.ErrQuizLocked
	// once the quiz is locked.
	UpdateQuiz(ctx context.Context, q *model.Quiz) error
	// DeleteQuiz removes an unlocked quiz. Returns model.ErrQuizLocked once locked.
	DeleteQuiz(ctx context.Context, id string) error
	// LockQuiz marks a quiz as having submissions. It is idempotent.
	LockQuiz(ctx context.Context, id string) error

	// SetQuizDocument attaches a document to an unlocked quiz and clears any
	// previous extraction for that role.
	SetQuizDocument(ctx context.Context, quizID string, role model.DocumentRole, ref *model.DocumentRef) error
	// SetQuizExtraction stores extracted content for the role if the quiz
	// still holds the document stored under docKey and it has no extract yet.
	// It reports false when the document was replaced or already extracted.
	SetQuizExtraction(ctx context.Context, quizID string, role model.DocumentRole, docKey string, c *model.ExtractedContent) (bool, error)
	// SetQuizExtractionError records an extraction failure under the same
	// conditions as SetQuizExtraction.
	SetQuizExtractionError(ctx context.Context, quizID string, role model.DocumentRole, docKey, msg string) (bool, error)
	// SetModelAnswers replaces the reference answers of an unlocked quiz with
	// instructor-typed text.
	SetModelAnswers(ctx context.Context, quizID string, c *model.ExtractedContent) error

	// RecordStart stores the first start time of a participant and returns the
	// effective (earliest recorded) start.
	RecordStart(ctx context.Context, quizID, participantID string, at time.Time) (time.Time, error)
	// GetStart returns the recorded start time, or the zero time if none.
	GetStart(ctx context.Context, quizID, participantID string) (time.Time, error)

	// CreateSubmission inserts a submission. A second submission for the same
	// quiz and participant returns model.ErrAlreadySubmitted.
	CreateSubmission(ctx context.Context, s *model.Submission) error
	// Submit locks the submission's quiz and inserts the submission. When the
	// insert fails the quiz keeps its previous lock state. Returns
	// model.ErrNotFound for an unknown quiz.
	Submit(ctx context.Context, s *model.Submission) error
	GetSubmission(ctx context.Context, quizID, participantID string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, quizID string) ([]model.Submission, error)
	// SetSubmissionExtraction stores extracted content if none exists yet.
	SetSubmissionExtraction(ctx context.Context, quizID, participantID string, c *model.ExtractedContent) (bool, error)
	SetSubmissionExtractionError(ctx context.Context, quizID, participantID, msg string) error
	// SaveAutoGrade writes grading results unless the submission was already
	// auto-graded or manually graded.
	SaveAutoGrade(ctx context.Context, quizID, participantID string, o model.GradingOutcome) (bool, error)
	// SaveGradingNote records why auto-grading was skipped.
	SaveGradingNote(ctx context.Context, quizID, participantID, note string) error
	// SaveManualGrade overrides score and feedback and freezes auto-grading.
	SaveManualGrade(ctx context.Context, quizID, participantID string, g model.ManualGrade) error

	// ImportedQuiz returns the quiz created from a file with the given content
	// hash, or "" if the file was never imported.
	ImportedQuiz(ctx context.Context, hash string) (string, error)
	RecordImport(ctx context.Context, hash, quizID string) error

	Close() error
}
