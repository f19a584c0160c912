package grading

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/edubridge/classquiz/internal/llm"
)

type fakeLLM struct {
	reply string
	err   error
	last  llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func TestParseReplyClamps(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  float64
		isErr bool
	}{
		{"in range", `{"score": 15.5, "feedback": "ok"}`, 15.5, false},
		{"above max", `{"score": 27, "feedback": "generous"}`, 20, false},
		{"negative", `{"score": -3, "feedback": "harsh"}`, 0, false},
		{"zero", `{"score": 0}`, 0, false},
		{"numeric string", `{"score": "12"}`, 12, false},
		{"fraction string", `{"score": "18/20"}`, 18, false},
		{"fenced", "```json\n{\"score\": 19}\n```", 19, false},
		{"huge", `{"score": 1e300}`, 20, false},
		{"missing score", `{"feedback": "no score"}`, 0, true},
		{"null score", `{"score": null}`, 0, true},
		{"word score", `{"score": "excellent"}`, 0, true},
		{"prose", "I would give this 15 points.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.raw, 20)
			if tt.isErr {
				if !errors.Is(err, ErrBadReply) {
					t.Fatalf("expected ErrBadReply, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Score != tt.want {
				t.Errorf("Score = %v, want %v", got.Score, tt.want)
			}
			if got.Score < 0 || got.Score > 20 {
				t.Errorf("score %v escaped [0, 20]", got.Score)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		score, max, want float64
	}{
		{5, 20, 5},
		{25, 20, 20},
		{-1, 20, 0},
		{math.NaN(), 20, 0},
		{math.Inf(1), 20, 20},
		{math.Inf(-1), 20, 0},
		{3, 0, 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.score, tt.max); got != tt.want {
			t.Errorf("Clamp(%v, %v) = %v, want %v", tt.score, tt.max, got, tt.want)
		}
	}
}

func TestGrade(t *testing.T) {
	f := &fakeLLM{reply: `{"score": 19, "feedback": " Correct. ", "key_points_addressed": ["Paris", " "], "key_points_missed": []}`}
	g := New(f, 0.2)

	got, err := g.Grade(context.Background(), Request{
		QuestionNumber: "1",
		Reference:      "Paris",
		Answer:         "The capital is Paris",
		MaxScore:       20,
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	want := Response{Score: 19, Feedback: "Correct.", KeyPointsAddressed: []string{"Paris"}, KeyPointsMissed: []string{}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Grade() = %+v, want %+v", got, want)
	}
	if !f.last.JSON || f.last.Kind != "grade" || f.last.Temperature != 0.2 {
		t.Errorf("unexpected request %+v", f.last)
	}
	if !strings.Contains(f.last.Prompt, "The capital is Paris") || !strings.Contains(f.last.Prompt, "between 0 and 20") {
		t.Errorf("prompt missing answer or cap:\n%s", f.last.Prompt)
	}
}

func TestGradeModelError(t *testing.T) {
	boom := errors.New("deadline exceeded")
	_, err := New(&fakeLLM{err: boom}, 0).Grade(context.Background(), Request{QuestionNumber: "1", MaxScore: 20})
	if !errors.Is(err, boom) {
		t.Errorf("expected model error, got %v", err)
	}
}
