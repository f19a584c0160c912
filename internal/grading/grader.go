// Package grading scores one free-text answer against a reference answer
// with a generative model.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/llm/prompts"
)

// ErrBadReply is returned when the model reply cannot be read as a grade.
var ErrBadReply = errors.New("unreadable grading reply")

// Request is one answer to grade.
type Request struct {
	QuestionNumber string
	Question       string // question text, when the question paper was segmented
	Reference      string
	Answer         string
	MaxScore       float64
}

// Response is the grade for one answer. Score is always within
// [0, MaxScore] of the request.
type Response struct {
	Score              float64
	Feedback           string
	KeyPointsAddressed []string
	KeyPointsMissed    []string
}

// Grader grades answers with a model.
type Grader struct {
	llm         llm.Completer
	temperature float32
}

// New creates a Grader.
func New(c llm.Completer, temperature float32) *Grader {
	return &Grader{llm: c, temperature: temperature}
}

// Grade asks the model for a grade and clamps the returned score.
func (g *Grader) Grade(ctx context.Context, req Request) (Response, error) {
	prompt, err := prompts.BuildGradePrompt(prompts.GradeData{
		QuestionNumber: req.QuestionNumber,
		Question:       req.Question,
		Reference:      req.Reference,
		Answer:         req.Answer,
		MaxScore:       req.MaxScore,
	})
	if err != nil {
		return Response{}, fmt.Errorf("build grade prompt: %w", err)
	}

	raw, err := g.llm.Complete(ctx, llm.Request{
		Kind:        "grade",
		System:      prompts.GradeSystem,
		Prompt:      prompt,
		Temperature: g.temperature,
		JSON:        true,
	})
	if err != nil {
		return Response{}, err
	}
	return ParseReply(raw, req.MaxScore)
}

type reply struct {
	Score              json.RawMessage `json:"score"`
	Feedback           string          `json:"feedback"`
	KeyPointsAddressed []string        `json:"key_points_addressed"`
	KeyPointsMissed    []string        `json:"key_points_missed"`
}

// ParseReply decodes a grading reply and clamps its score into
// [0, maxScore]. The score may be a number or a numeric string.
func ParseReply(raw string, maxScore float64) (Response, error) {
	var r reply
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	score, err := parseScore(r.Score)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Score:              Clamp(score, maxScore),
		Feedback:           strings.TrimSpace(r.Feedback),
		KeyPointsAddressed: nonEmpty(r.KeyPointsAddressed),
		KeyPointsMissed:    nonEmpty(r.KeyPointsMissed),
	}, nil
}

// Clamp limits score to [0, maxScore]. NaN becomes 0.
func Clamp(score, maxScore float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return min(max(score, 0), max(maxScore, 0))
}

func parseScore(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing score", ErrBadReply)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: score is %s", ErrBadReply, raw)
	}
	// Models sometimes answer "15/20".
	s, _, _ = strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: score %q", ErrBadReply, s)
	}
	return n, nil
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
