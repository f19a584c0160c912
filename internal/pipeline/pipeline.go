// Package pipeline runs document quizzes through extraction, segmentation
// and per-question grading.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edubridge/classquiz/internal/blob"
	"github.com/edubridge/classquiz/internal/clock"
	"github.com/edubridge/classquiz/internal/extract"
	"github.com/edubridge/classquiz/internal/grading"
	"github.com/edubridge/classquiz/internal/metrics"
	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/quiz"
	"github.com/edubridge/classquiz/internal/store"
)

// DefaultMaxScore is the per-question cap of document quizzes.
const DefaultMaxScore = 20.0

// NoAnswerFeedback is recorded for questions the participant did not answer.
const NoAnswerFeedback = "No answer provided."

// Extractor turns document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (extract.Result, error)
}

// Segmenter splits text by question number. It never fails.
type Segmenter interface {
	Segment(ctx context.Context, text string, role model.DocumentRole) model.Segments
}

// Grader grades one answer.
type Grader interface {
	Grade(ctx context.Context, req grading.Request) (grading.Response, error)
}

// Processor coordinates the document pipeline for quizzes and submissions.
type Processor struct {
	store     store.Store
	blobs     blob.Store
	extractor Extractor
	segmenter Segmenter
	grader    Grader
	clock     clock.Clock
	maxScore  float64
}

// New creates a Processor. A non-positive maxScore uses DefaultMaxScore.
func New(st store.Store, blobs blob.Store, ex Extractor, seg Segmenter, gr Grader, clk clock.Clock, maxScore float64) *Processor {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}
	return &Processor{
		store:     st,
		blobs:     blobs,
		extractor: ex,
		segmenter: seg,
		grader:    gr,
		clock:     clk,
		maxScore:  maxScore,
	}
}

// maxDocumentPasses bounds how often ProcessQuizDocument starts over when
// the document is replaced while it is being extracted.
const maxDocumentPasses = 3

// ProcessQuizDocument extracts and segments a quiz's question paper or
// answer key. It does nothing if the document was already extracted.
// Extraction failures are recorded on the quiz and are not returned. A
// result is only stored for the document it was produced from; when the
// document is replaced meanwhile, the current one is processed instead.
func (p *Processor) ProcessQuizDocument(ctx context.Context, quizID string, role model.DocumentRole) error {
	for range maxDocumentPasses {
		done, err := p.processQuizDocument(ctx, quizID, role)
		if err != nil || done {
			return err
		}
		slog.Info("quiz document replaced during extraction, starting over", "quiz_id", quizID, "role", role)
	}
	return fmt.Errorf("process %s of quiz %s: document replaced %d times during extraction", role, quizID, maxDocumentPasses)
}

// processQuizDocument runs one pass. It reports false when the result could
// not be stored because the document changed.
func (p *Processor) processQuizDocument(ctx context.Context, quizID string, role model.DocumentRole) (bool, error) {
	q, err := p.store.GetQuiz(ctx, quizID)
	if err != nil {
		return false, fmt.Errorf("get quiz: %w", err)
	}
	ref, existing := q.Document(role)
	if existing != nil {
		slog.Debug("quiz document already extracted", "quiz_id", quizID, "role", role)
		return true, nil
	}
	if ref == nil {
		slog.Warn("quiz document missing, nothing to process", "quiz_id", quizID, "role", role)
		return true, nil
	}

	content, err := p.extract(ctx, ref, role)
	if err != nil {
		var xerr *extract.ExtractionError
		if !errors.As(err, &xerr) {
			return false, err
		}
		applied, serr := p.store.SetQuizExtractionError(ctx, quizID, role, ref.Key, err.Error())
		if serr != nil {
			return false, fmt.Errorf("save extraction error: %w", serr)
		}
		if applied {
			slog.Error("quiz document extraction failed", "quiz_id", quizID, "role", role, "error", err)
		}
		return applied, nil
	}

	applied, err := p.store.SetQuizExtraction(ctx, quizID, role, ref.Key, content)
	if err != nil {
		return false, fmt.Errorf("save quiz extraction: %w", err)
	}
	if !applied {
		return false, nil
	}
	slog.Info("quiz document processed", "quiz_id", quizID, "role", role,
		"method", content.Method, "questions", len(content.Segments.QuestionNumbers()))
	return true, nil
}

// ProcessSubmission extracts and segments a document submission once and
// then auto-grades it. Structured submissions are left alone.
func (p *Processor) ProcessSubmission(ctx context.Context, quizID, participantID string) error {
	sub, err := p.store.GetSubmission(ctx, quizID, participantID)
	if err != nil {
		return fmt.Errorf("get submission: %w", err)
	}
	if sub.Document == nil {
		return nil
	}

	if sub.Extracted == nil {
		content, err := p.extract(ctx, sub.Document, model.RoleAnswerScript)
		if err != nil {
			var xerr *extract.ExtractionError
			if !errors.As(err, &xerr) {
				return err
			}
			slog.Error("submission extraction failed", "quiz_id", quizID, "participant_id", participantID, "error", err)
			if err := p.store.SetSubmissionExtractionError(ctx, quizID, participantID, err.Error()); err != nil {
				return fmt.Errorf("save extraction error: %w", err)
			}
			return p.store.SaveGradingNote(ctx, quizID, participantID, "Answer script could not be read: "+err.Error())
		}
		if _, err := p.store.SetSubmissionExtraction(ctx, quizID, participantID, content); err != nil {
			return fmt.Errorf("save submission extraction: %w", err)
		}
	}

	return p.GradeSubmission(ctx, quizID, participantID)
}

// GradeSubmission auto-grades a document submission against the quiz's
// reference answers. It is a no-op for submissions that were already
// graded, and it records a note instead of failing when a precondition is
// missing.
func (p *Processor) GradeSubmission(ctx context.Context, quizID, participantID string) error {
	q, err := p.store.GetQuiz(ctx, quizID)
	if err != nil {
		return fmt.Errorf("get quiz: %w", err)
	}
	if q.Mode != model.ModeDocument {
		return fmt.Errorf("auto-grade quiz %s: %w", quizID, model.ErrWrongMode)
	}
	sub, err := p.store.GetSubmission(ctx, quizID, participantID)
	if err != nil {
		return fmt.Errorf("get submission: %w", err)
	}
	if sub.AutoGraded || sub.ManualGraded {
		slog.Debug("submission already graded", "quiz_id", quizID, "participant_id", participantID)
		return nil
	}

	if note := precondition(q, sub); note != "" {
		slog.Info("auto-grading skipped", "quiz_id", quizID, "participant_id", participantID, "reason", note)
		return p.store.SaveGradingNote(ctx, quizID, participantID, note)
	}

	outcome, err := p.grade(ctx, q, sub)
	if err != nil {
		return fmt.Errorf("grade submission: %w", err)
	}
	applied, err := p.store.SaveAutoGrade(ctx, quizID, participantID, outcome)
	if err != nil {
		return fmt.Errorf("save auto grade: %w", err)
	}
	if !applied {
		slog.Info("submission graded concurrently, result discarded", "quiz_id", quizID, "participant_id", participantID)
		return nil
	}
	slog.Info("submission auto-graded", "quiz_id", quizID, "participant_id", participantID,
		"score", outcome.Score, "max_score", outcome.MaxScore)
	return nil
}

func precondition(q *model.Quiz, sub *model.Submission) string {
	switch {
	case q.AnswerKeyExtract == nil && q.AnswerKeyExtractError != "":
		return "Reference answers could not be read: " + q.AnswerKeyExtractError
	case q.AnswerKeyExtract == nil:
		return "No reference answers are available for this quiz."
	case len(q.AnswerKeyExtract.Segments.QuestionNumbers()) == 0:
		return "Reference answers could not be split into questions."
	case sub.Extracted == nil && sub.ExtractionError != "":
		return "Answer script could not be read: " + sub.ExtractionError
	case sub.Extracted == nil:
		return "Answer script has not been processed yet."
	}
	return ""
}

// grade runs the grader over the union of reference and answer question
// numbers. A failed question scores zero and grading continues. It stops
// with the context's error once ctx is done so that nothing is saved.
func (p *Processor) grade(ctx context.Context, q *model.Quiz, sub *model.Submission) (model.GradingOutcome, error) {
	reference := q.AnswerKeyExtract.Segments
	answers := sub.Extracted.Segments
	var questions model.Segments
	if q.QuestionExtract != nil {
		questions = q.QuestionExtract.Segments
	}

	nums := union(reference, answers)
	results := make([]model.QuestionGradeResult, 0, len(nums))
	var total float64
	for _, n := range nums {
		res := model.QuestionGradeResult{
			QuestionNumber:     n,
			MaxScore:           p.maxScore,
			KeyPointsAddressed: []string{},
			KeyPointsMissed:    []string{},
		}
		answer, ok := answers[n]
		switch {
		case !ok || strings.TrimSpace(answer) == "":
			res.Feedback = NoAnswerFeedback
			metrics.QuestionGrades.WithLabelValues("unanswered").Inc()
		default:
			if err := ctx.Err(); err != nil {
				return model.GradingOutcome{}, err
			}
			res.Answered = true
			g, err := p.grader.Grade(ctx, grading.Request{
				QuestionNumber: n,
				Question:       questions[n],
				Reference:      reference[n],
				Answer:         answer,
				MaxScore:       p.maxScore,
			})
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return model.GradingOutcome{}, cerr
				}
				slog.Error("grading failed", "quiz_id", q.ID, "participant_id", sub.ParticipantID, "question", n, "error", err)
				res.GradingFailed = true
				res.Feedback = "Grading error: " + err.Error()
				metrics.QuestionGrades.WithLabelValues("failed").Inc()
				break
			}
			res.Score = grading.Clamp(g.Score, p.maxScore)
			res.Feedback = g.Feedback
			res.KeyPointsAddressed = g.KeyPointsAddressed
			res.KeyPointsMissed = g.KeyPointsMissed
			metrics.QuestionGrades.WithLabelValues("ok").Inc()
		}
		total += res.Score
		results = append(results, res)
	}

	maxTotal := p.maxScore * float64(len(nums))
	pct := quiz.Percentage(total, maxTotal)
	return model.GradingOutcome{
		Results:    results,
		Score:      total,
		MaxScore:   maxTotal,
		Percentage: pct,
		Feedback:   OverallFeedback(total, maxTotal, pct),
		GradedAt:   p.clock.Now(),
	}, nil
}

// OverallFeedback summarises a graded submission by percentage band.
func OverallFeedback(score, maxScore, pct float64) string {
	var band string
	switch {
	case pct >= 90:
		band = "Excellent work! The answers cover the reference points thoroughly."
	case pct >= 80:
		band = "Very good work, with only minor gaps."
	case pct >= 70:
		band = "Good work. Review the missed points for each question."
	case pct >= 60:
		band = "Satisfactory work. Several key points were missed."
	case pct >= 50:
		band = "Minimum requirements met. Significant parts of the material need revision."
	default:
		band = "Needs review. Most key points were missed or left unanswered."
	}
	return fmt.Sprintf("Auto-graded: %.1f/%.0f (%.1f%%). %s", score, maxScore, pct, band)
}

func union(a, b model.Segments) []string {
	keys := make(model.Segments, len(a)+len(b))
	for k := range a {
		keys[k] = ""
	}
	for k := range b {
		keys[k] = ""
	}
	return keys.QuestionNumbers()
}

func (p *Processor) extract(ctx context.Context, ref *model.DocumentRef, role model.DocumentRole) (*model.ExtractedContent, error) {
	data, err := p.blobs.Get(ctx, ref.Key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, &extract.ExtractionError{TextErr: err, OCRErr: err}
		}
		return nil, fmt.Errorf("read document %s: %w", ref.Key, err)
	}
	res, err := p.extractor.Extract(ctx, data)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	return &model.ExtractedContent{
		RawText:     res.Text,
		Segments:    p.segmenter.Segment(ctx, res.Text, role),
		Method:      res.Method,
		ExtractedAt: p.clock.Now(),
	}, nil
}
