// Package jobs runs the document pipeline off the request path, on asynq
// when Redis is configured and on goroutines otherwise.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/edubridge/classquiz/internal/model"
)

const (
	TypeProcessSubmission   = "submission:process"
	TypeProcessQuizDocument = "quiz:process-document"
)

type SubmissionPayload struct {
	QuizID        string `json:"quiz_id"`
	ParticipantID string `json:"participant_id"`
}

type QuizDocumentPayload struct {
	QuizID string             `json:"quiz_id"`
	Role   model.DocumentRole `json:"role"`
}

func NewProcessSubmissionTask(quizID, participantID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SubmissionPayload{QuizID: quizID, ParticipantID: participantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessSubmission, payload), nil
}

func NewProcessQuizDocumentTask(quizID string, role model.DocumentRole) (*asynq.Task, error) {
	payload, err := json.Marshal(QuizDocumentPayload{QuizID: quizID, Role: role})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessQuizDocument, payload), nil
}

// submissionTaskID deduplicates queued work for one submission.
func submissionTaskID(quizID, participantID string) string {
	return TypeProcessSubmission + ":" + quizID + ":" + participantID
}

func quizDocumentTaskID(quizID string, role model.DocumentRole) string {
	return TypeProcessQuizDocument + ":" + quizID + ":" + string(role)
}

// followUpTaskID is queued when work for id arrives while id is running.
func followUpTaskID(id string) string {
	return id + ":follow-up"
}
