package segment

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/model"
)

type fakeLLM struct {
	reply string
	err   error
	calls []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.Segments
		wantErr bool
	}{
		{
			name: "plain object",
			raw:  `{"0": "Answer all questions.", "1": "Paris", "2": "Helium"}`,
			want: model.Segments{"0": "Answer all questions.", "1": "Paris", "2": "Helium"},
		},
		{
			name: "fenced",
			raw:  "```json\n{\"1\": \"Paris\"}\n```",
			want: model.Segments{"1": "Paris"},
		},
		{
			name: "chatter around the object",
			raw:  "Here is the JSON you asked for:\n{\"1\": \"Paris\"}\nLet me know!",
			want: model.Segments{"1": "Paris"},
		},
		{
			name: "normalised keys",
			raw:  `{"Q1.": " Paris ", "2)": "Helium", " 03 ": "Seven"}`,
			want: model.Segments{"1": "Paris", "2": "Helium", "3": "Seven"},
		},
		{
			name: "unknown keys fold into preamble",
			raw:  `{"0": "Name: A. Student", "bonus": "extra notes", "1": "Paris"}`,
			want: model.Segments{"0": "Name: A. Student\nextra notes", "1": "Paris"},
		},
		{
			name: "duplicate keys after normalising are joined",
			raw:  `{"1": "Paris", "Q1": "is the capital"}`,
			want: model.Segments{"1": "Paris\nis the capital"},
		},
		{name: "not json", raw: "1. Paris\n2. Helium", wantErr: true},
		{name: "array", raw: `["Paris"]`, wantErr: true},
		{name: "non-string value", raw: `{"1": 42}`, wantErr: true},
		{name: "nested object", raw: `{"1": {"text": "Paris"}}`, wantErr: true},
		{name: "empty object", raw: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrContract) {
					t.Fatalf("expected ErrContract, got %v (%v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1", "1", true},
		{"Q12", "12", true},
		{"q 4", "4", true},
		{"5.", "5", true},
		{"6)", "6", true},
		{"7:", "7", true},
		{"0", "", false},
		{"-1", "", false},
		{"1a", "", false},
		{"", "", false},
		{"intro", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeKey(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NormalizeKey(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSegment(t *testing.T) {
	t.Run("uses role prompt", func(t *testing.T) {
		f := &fakeLLM{reply: `{"1": "The capital is Paris"}`}
		got := New(f, 0.1).Segment(context.Background(), "1. The capital is Paris", model.RoleAnswerScript)
		if !reflect.DeepEqual(got, model.Segments{"1": "The capital is Paris"}) {
			t.Errorf("Segment() = %v", got)
		}
		if len(f.calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(f.calls))
		}
		req := f.calls[0]
		if !req.JSON || req.Kind != "segment" || req.Temperature != 0.1 {
			t.Errorf("unexpected request %+v", req)
		}
		if !strings.Contains(req.Prompt, "answer script") {
			t.Error("answer script prompt not used")
		}
	})

	degraded := []struct {
		name string
		llm  *fakeLLM
		text string
	}{
		{"model error", &fakeLLM{err: errors.New("timeout")}, "1. Paris"},
		{"prose reply", &fakeLLM{reply: "Sure! Question 1 is about Paris."}, "1. Paris"},
		{"empty text", &fakeLLM{reply: `{"1": "x"}`}, "   "},
	}
	for _, tt := range degraded {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.llm, 0).Segment(context.Background(), tt.text, model.RoleQuestionPaper)
			want := model.Segments{model.PreambleKey: tt.text}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Segment() = %v, want %v", got, want)
			}
		})
	}
}
