package quiz

import (
	"fmt"

	"github.com/edubridge/classquiz/internal/model"
)

// CorrectThreshold is the share of a multi-select question's points at
// which a partially correct answer still counts as correct.
const CorrectThreshold = 0.9

// falsePositivePenalty is subtracted per wrong option, in units of one
// correct option.
const falsePositivePenalty = 0.5

// ScoreAnswer scores one response. Free-text answers are stored ungraded.
func ScoreAnswer(q model.Question, resp model.Response) model.AnswerRecord {
	rec := model.AnswerRecord{Response: resp, MaxScore: q.Points}
	switch b := q.Body.(type) {
	case model.SingleSelect:
		rec.IsGraded = true
		if resp.SelectedOption != "" && resp.SelectedOption == b.CorrectOptionID {
			rec.Score = q.Points
			rec.IsCorrect = true
		}
	case model.MultiSelect:
		rec.IsGraded = true
		rec.Score = multiSelectScore(b.CorrectOptionIDs, resp.SelectedOptions, q.Points)
		rec.IsCorrect = rec.Score >= CorrectThreshold*q.Points
	case model.FreeText:
		rec.IsGraded = false
	}
	return rec
}

func multiSelectScore(correctIDs, selectedIDs []string, points float64) float64 {
	correct := make(map[string]bool, len(correctIDs))
	for _, id := range correctIDs {
		correct[id] = true
	}
	k := len(correct)
	if k == 0 {
		return 0
	}

	selected := make(map[string]bool, len(selectedIDs))
	var tp, fp int
	for _, id := range selectedIDs {
		if selected[id] {
			continue
		}
		selected[id] = true
		if correct[id] {
			tp++
		} else {
			fp++
		}
	}

	if tp == k && fp == 0 {
		return points
	}
	frac := (float64(tp) - falsePositivePenalty*float64(fp)) / float64(k)
	return min(max(frac, 0), 1) * points
}

// Totals is the aggregate of a set of scored answers.
type Totals struct {
	Score        float64
	MaxScore     float64
	Percentage   float64
	CorrectCount int
}

// Aggregate sums scores and max scores across records.
func Aggregate(records map[string]model.AnswerRecord) Totals {
	var t Totals
	for _, r := range records {
		t.Score += r.Score
		t.MaxScore += r.MaxScore
		if r.IsCorrect {
			t.CorrectCount++
		}
	}
	t.Percentage = Percentage(t.Score, t.MaxScore)
	return t
}

// Percentage is 100*score/max, or 0 when max is 0.
func Percentage(score, maxScore float64) float64 {
	if maxScore <= 0 {
		return 0
	}
	return 100 * score / maxScore
}

// ScoreAll scores every question of a structured quiz. Questions without a
// response are recorded as empty answers so the max score covers the whole
// quiz. Responses for unknown question ids are rejected.
func ScoreAll(questions []model.Question, responses map[string]model.Response) (map[string]model.AnswerRecord, Totals, error) {
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	for id := range responses {
		if !known[id] {
			return nil, Totals{}, fmt.Errorf("%w: unknown question %q", model.ErrInvalidAnswer, id)
		}
	}

	records := make(map[string]model.AnswerRecord, len(questions))
	for _, q := range questions {
		records[q.ID] = ScoreAnswer(q, responses[q.ID])
	}
	return records, Aggregate(records), nil
}
