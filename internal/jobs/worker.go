package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/edubridge/classquiz/internal/model"
)

// Processor is the pipeline work the handlers run.
type Processor interface {
	ProcessSubmission(ctx context.Context, quizID, participantID string) error
	ProcessQuizDocument(ctx context.Context, quizID string, role model.DocumentRole) error
}

// HandleProcessSubmission extracts, segments and grades one submission.
func HandleProcessSubmission(p Processor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SubmissionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		slog.Info("processing submission", "quiz_id", payload.QuizID, "participant_id", payload.ParticipantID)
		return retryable(p.ProcessSubmission(ctx, payload.QuizID, payload.ParticipantID))
	}
}

// HandleProcessQuizDocument extracts and segments a question paper or answer key.
func HandleProcessQuizDocument(p Processor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload QuizDocumentPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if !payload.Role.Valid() {
			return fmt.Errorf("unknown document role %q: %w", payload.Role, asynq.SkipRetry)
		}
		slog.Info("processing quiz document", "quiz_id", payload.QuizID, "role", payload.Role)
		return retryable(p.ProcessQuizDocument(ctx, payload.QuizID, payload.Role))
	}
}

// retryable marks errors that a retry cannot fix.
func retryable(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrWrongMode):
		slog.Warn("dropping task", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// RegisterHandlers binds the pipeline task types to p.
func RegisterHandlers(mux *asynq.ServeMux, p Processor) {
	mux.HandleFunc(TypeProcessSubmission, HandleProcessSubmission(p))
	mux.HandleFunc(TypeProcessQuizDocument, HandleProcessQuizDocument(p))
}

// NewServer creates an asynq worker server that logs through slog.
func NewServer(opt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency < 1 {
		concurrency = 4
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      slogLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			slog.Error("task failed", "type", t.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
		}),
	})
}

type slogLogger struct{}

func (slogLogger) Debug(args ...any) { slog.Debug(fmt.Sprint(args...)) }
func (slogLogger) Info(args ...any)  { slog.Info(fmt.Sprint(args...)) }
func (slogLogger) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...)) }
func (slogLogger) Error(args ...any) { slog.Error(fmt.Sprint(args...)) }
func (slogLogger) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...))
	os.Exit(1)
}
