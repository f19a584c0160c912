package store

import "github.com/edubridge/classquiz/internal/model"

func applyAutoGrade(sub *model.Submission, o model.GradingOutcome) {
	gradedAt := o.GradedAt
	sub.GradeResults = o.Results
	sub.Score = o.Score
	sub.MaxScore = o.MaxScore
	sub.Percentage = o.Percentage
	sub.Feedback = o.Feedback
	sub.IsGraded = true
	sub.AutoGraded = true
	sub.GradingNote = ""
	sub.GradedAt = &gradedAt
}

func applyManualGrade(sub *model.Submission, g model.ManualGrade) {
	gradedAt := g.GradedAt
	sub.Score = g.Score
	if g.MaxScore > 0 {
		sub.MaxScore = g.MaxScore
	}
	sub.Percentage = 0
	if sub.MaxScore > 0 {
		sub.Percentage = 100 * sub.Score / sub.MaxScore
	}
	sub.Feedback = g.Feedback
	sub.IsGraded = true
	sub.ManualGraded = true
	sub.GradedAt = &gradedAt
}
