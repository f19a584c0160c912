package quizfile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/quiz"
	"github.com/edubridge/classquiz/internal/store"
)

const capitals = `
title: Capitals
description: European capitals
start_time: 2025-04-01 10:00
duration: 30
published: true
questions:
  - id: q1
    type: single-select
    text: Capital of France?
    points: 2
    options:
      - {id: A, text: Rome}
      - {id: B, text: Paris}
    correct_option_id: B
  - id: q2
    type: free-text
    text: Why is Paris the capital?
    reference_answer: History.
`

type fakeCreator struct {
	inputs []quiz.Input
}

func (f *fakeCreator) CreateQuiz(_ context.Context, user *model.User, in quiz.Input) (*model.Quiz, error) {
	f.inputs = append(f.inputs, in)
	return &model.Quiz{ID: "quiz-" + in.ClassroomID, Questions: in.Questions, CreatedBy: user.ID}, nil
}

func TestParseAndInput(t *testing.T) {
	f, err := Parse([]byte(capitals))
	if err != nil {
		t.Fatal(err)
	}
	loc := time.FixedZone("UTC+2", 2*60*60)
	in, err := f.Input("class-1", loc)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC); !in.StartTime.Equal(want) {
		t.Errorf("start = %v, want %v", in.StartTime, want)
	}
	if in.Mode != model.ModeStructured || len(in.Questions) != 2 {
		t.Fatalf("input = %+v", in)
	}
	if sel, ok := in.Questions[0].Body.(model.SingleSelect); !ok || sel.CorrectOptionID != "B" || sel.Options[1].Text != "Paris" {
		t.Errorf("q1 = %+v", in.Questions[0])
	}
	if in.Questions[1].Points != model.DefaultPoints {
		t.Errorf("q2 points = %v", in.Questions[1].Points)
	}
}

func TestParseJSON(t *testing.T) {
	data := `{"title": "T", "start_time": "2025-04-01T10:00:00Z", "duration": 10, "questions": [{"id": "q1", "type": "free-text", "text": "Say hi"}]}`
	f, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	in, err := f.Input("c", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if !in.StartTime.Equal(time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)) || in.Questions[0].Type() != model.TypeFreeText {
		t.Errorf("input = %+v", in)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"unknown field", "title: T\ncolour: red\n"},
		{"bad time", "title: T\nstart_time: soon\nduration: 5\n"},
		{"bad question", "title: T\nstart_time: 2025-04-01 10:00\nquestions:\n  - {id: q1, type: essay}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.data))
			if err == nil {
				_, err = f.Input("c", time.UTC)
			}
			if !errors.Is(err, model.ErrInvalidQuiz) {
				t.Errorf("error = %v, want ErrInvalidQuiz", err)
			}
		})
	}
}

func TestImportIsIdempotent(t *testing.T) {
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	c := &fakeCreator{}
	user := &model.User{ID: "t-1", Role: model.UserRoleTeacher}
	ctx := context.Background()

	id, created, err := Import(ctx, c, st, user, "class-1", time.UTC, []byte(capitals))
	if err != nil || !created || id != "quiz-class-1" {
		t.Fatalf("first Import() = %q, %v, %v", id, created, err)
	}
	id, created, err = Import(ctx, c, st, user, "class-1", time.UTC, []byte(capitals))
	if err != nil || created || id != "quiz-class-1" {
		t.Fatalf("second Import() = %q, %v, %v", id, created, err)
	}
	if _, created, _ := Import(ctx, c, st, user, "class-2", time.UTC, []byte(capitals)); !created {
		t.Error("import into another classroom was skipped")
	}
	if len(c.inputs) != 2 {
		t.Errorf("CreateQuiz called %d times, want 2", len(c.inputs))
	}
}
