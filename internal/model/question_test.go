package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestQuestionWireValidation(t *testing.T) {
	opts := []Option{{ID: "A", Text: "Rome"}, {ID: "B", Text: "Paris"}}

	tests := []struct {
		name    string
		wire    QuestionWire
		wantErr bool
		want    QuestionType
	}{
		{"single ok", QuestionWire{ID: "q1", Type: TypeSingleSelect, Options: opts, CorrectOptionID: "B"}, false, TypeSingleSelect},
		{"single missing correct", QuestionWire{ID: "q1", Type: TypeSingleSelect, Options: opts}, true, ""},
		{"single unknown correct", QuestionWire{ID: "q1", Type: TypeSingleSelect, Options: opts, CorrectOptionID: "C"}, true, ""},
		{"single one option", QuestionWire{ID: "q1", Type: TypeSingleSelect, Options: opts[:1], CorrectOptionID: "A"}, true, ""},
		{"multi ok", QuestionWire{ID: "q2", Type: TypeMultiSelect, Options: opts, CorrectOptionIDs: []string{"A", "B"}}, false, TypeMultiSelect},
		{"multi no correct", QuestionWire{ID: "q2", Type: TypeMultiSelect, Options: opts}, true, ""},
		{"multi duplicate correct", QuestionWire{ID: "q2", Type: TypeMultiSelect, Options: opts, CorrectOptionIDs: []string{"A", "A"}}, true, ""},
		{"free text", QuestionWire{ID: "q3", Type: TypeFreeText, ReferenceAnswer: "Paris"}, false, TypeFreeText},
		{"unknown type", QuestionWire{ID: "q4", Type: "essay"}, true, ""},
		{"negative points", QuestionWire{ID: "q5", Type: TypeFreeText, Points: -1}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.wire.Question()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuiz) {
					t.Fatalf("expected ErrInvalidQuiz, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", q.Type(), tt.want)
			}
			if q.Points != DefaultPoints {
				t.Errorf("expected default points, got %v", q.Points)
			}
		})
	}
}

func TestQuestionJSON(t *testing.T) {
	in := `{"id":"q1","type":"multi-select","text":"Pick primes","points":4,
		"options":[{"id":"a","text":"2"},{"id":"b","text":"3"},{"id":"c","text":"4"}],
		"correct_option_ids":["a","b"]}`

	var q Question
	if err := json.Unmarshal([]byte(in), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	body, ok := q.Body.(MultiSelect)
	if !ok {
		t.Fatalf("expected MultiSelect body, got %T", q.Body)
	}
	if !reflect.DeepEqual(body.CorrectOptionIDs, []string{"a", "b"}) {
		t.Errorf("unexpected correct ids %v", body.CorrectOptionIDs)
	}

	stripped := q.StripAnswers()
	data, err := json.Marshal(stripped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var w QuestionWire
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if len(w.CorrectOptionIDs) != 0 {
		t.Errorf("stripped question leaked answers: %v", w.CorrectOptionIDs)
	}
	if len(w.Options) != 3 {
		t.Errorf("stripped question lost options: %v", w.Options)
	}
	// The original must be untouched.
	if len(q.Body.(MultiSelect).CorrectOptionIDs) != 2 {
		t.Error("StripAnswers mutated the original question")
	}
}

func TestSegmentsQuestionNumbers(t *testing.T) {
	s := Segments{"0": "intro", "10": "x", "2": "y", "1": "z", "b": "w"}
	got := s.QuestionNumbers()
	want := []string{"1", "2", "10", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QuestionNumbers() = %v, want %v", got, want)
	}
}
