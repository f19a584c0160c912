package model

import "time"

// QuizExport is the top-level JSON structure for quiz result export.
type QuizExport struct {
	QuizID       string              `json:"quiz_id"`
	ClassroomID  string              `json:"classroom_id"`
	Title        string              `json:"title"`
	Mode         QuizMode            `json:"mode"`
	StartTime    time.Time           `json:"start_time"`
	Duration     int                 `json:"duration"`
	NumQuestions int                 `json:"num_questions"`
	ExportedAt   time.Time           `json:"exported_at"`
	Results      []ParticipantResult `json:"results"`
}

// ParticipantResult holds one participant's submission data for export.
type ParticipantResult struct {
	ParticipantID string           `json:"participant_id"`
	StartedAt     time.Time        `json:"started_at"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	Score         float64          `json:"score"`
	MaxScore      float64          `json:"max_score"`
	Percentage    float64          `json:"percentage"`
	CorrectCount  int              `json:"correct_count"`
	IsGraded      bool             `json:"is_graded"`
	AutoGraded    bool             `json:"auto_graded"`
	ManualGraded  bool             `json:"manual_graded"`
	Feedback      string           `json:"feedback,omitempty"`
	Questions     []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question data for export. Structured answers
// are keyed by question id, document answers by question number.
type QuestionResult struct {
	Question      string   `json:"question"`
	Score         float64  `json:"score"`
	MaxScore      float64  `json:"max_score"`
	IsCorrect     bool     `json:"is_correct,omitempty"`
	Answered      bool     `json:"answered"`
	Feedback      string   `json:"feedback,omitempty"`
	GradingFailed bool     `json:"grading_failed,omitempty"`
	Missed        []string `json:"key_points_missed,omitempty"`
}

// ResultFromSubmission flattens a submission for export. Structured answers
// follow the quiz's question order.
func ResultFromSubmission(q *Quiz, s *Submission) ParticipantResult {
	r := ParticipantResult{
		ParticipantID: s.ParticipantID,
		StartedAt:     s.StartTime,
		SubmittedAt:   s.EndTime,
		Score:         s.Score,
		MaxScore:      s.MaxScore,
		Percentage:    s.Percentage,
		CorrectCount:  s.CorrectCount,
		IsGraded:      s.IsGraded,
		AutoGraded:    s.AutoGraded,
		ManualGraded:  s.ManualGraded,
		Feedback:      s.Feedback,
	}
	for _, qs := range q.Questions {
		a, ok := s.Answers[qs.ID]
		r.Questions = append(r.Questions, QuestionResult{
			Question:  qs.ID,
			Score:     a.Score,
			MaxScore:  qs.Points,
			IsCorrect: a.IsCorrect,
			Answered:  ok,
		})
	}
	for _, g := range s.GradeResults {
		r.Questions = append(r.Questions, QuestionResult{
			Question:      g.QuestionNumber,
			Score:         g.Score,
			MaxScore:      g.MaxScore,
			Answered:      g.Answered,
			Feedback:      g.Feedback,
			GradingFailed: g.GradingFailed,
			Missed:        g.KeyPointsMissed,
		})
	}
	return r
}
