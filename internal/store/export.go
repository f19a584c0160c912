package store

import (
	"context"
	"fmt"
	"time"

	"github.com/edubridge/classquiz/internal/model"
)

// ExportQuiz builds export-ready results for every submission of a quiz.
func ExportQuiz(ctx context.Context, st Store, quizID string, now time.Time) (*model.QuizExport, error) {
	q, err := st.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("get quiz %s: %w", quizID, err)
	}
	subs, err := st.ListSubmissions(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	numQuestions := len(q.Questions)
	if q.Mode == model.ModeDocument && q.AnswerKeyExtract != nil {
		numQuestions = len(q.AnswerKeyExtract.Segments.QuestionNumbers())
	}

	export := &model.QuizExport{
		QuizID:       q.ID,
		ClassroomID:  q.ClassroomID,
		Title:        q.Title,
		Mode:         q.Mode,
		StartTime:    q.StartTime,
		Duration:     q.Duration,
		NumQuestions: numQuestions,
		ExportedAt:   now,
		Results:      make([]model.ParticipantResult, 0, len(subs)),
	}
	for i := range subs {
		export.Results = append(export.Results, model.ResultFromSubmission(q, &subs[i]))
	}
	return export, nil
}
