// Package quizfile reads structured quiz definitions from YAML or JSON files.
package quizfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/quiz"
)

// File is a quiz definition. JSON files parse as YAML.
type File struct {
	Title       string               `yaml:"title"`
	Description string               `yaml:"description"`
	StartTime   string               `yaml:"start_time"`
	Duration    int                  `yaml:"duration"`
	Published   bool                 `yaml:"published"`
	Questions   []model.QuestionWire `yaml:"questions"`
}

// Parse decodes a quiz definition. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty quiz file", model.ErrInvalidQuiz)
		}
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidQuiz, err)
	}
	return &f, nil
}

// Input converts f into a structured quiz for classroomID. Start times
// without an offset are read in loc.
func (f *File) Input(classroomID string, loc *time.Location) (quiz.Input, error) {
	start, err := parseTime(f.StartTime, loc)
	if err != nil {
		return quiz.Input{}, err
	}
	questions := make([]model.Question, 0, len(f.Questions))
	for _, w := range f.Questions {
		q, err := w.Question()
		if err != nil {
			return quiz.Input{}, err
		}
		questions = append(questions, q)
	}
	return quiz.Input{
		ClassroomID: classroomID,
		Title:       f.Title,
		Description: f.Description,
		StartTime:   start,
		Duration:    f.Duration,
		Published:   f.Published,
		Mode:        model.ModeStructured,
		Questions:   questions,
	}, nil
}

var timeLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: start_time %q is not a date and time", model.ErrInvalidQuiz, s)
}

// Hash identifies an import of data into a classroom.
func Hash(classroomID string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(classroomID))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Creator creates quizzes.
type Creator interface {
	CreateQuiz(ctx context.Context, user *model.User, in quiz.Input) (*model.Quiz, error)
}

// Ledger remembers which files were imported.
type Ledger interface {
	ImportedQuiz(ctx context.Context, hash string) (string, error)
	RecordImport(ctx context.Context, hash, quizID string) error
}

// Import creates a quiz from data unless the same file was already imported
// into the classroom. It returns the quiz id and whether it was created.
func Import(ctx context.Context, c Creator, l Ledger, user *model.User, classroomID string, loc *time.Location, data []byte) (string, bool, error) {
	hash := Hash(classroomID, data)
	existing, err := l.ImportedQuiz(ctx, hash)
	if err != nil {
		return "", false, fmt.Errorf("check import status: %w", err)
	}
	if existing != "" {
		slog.Info("quiz file unchanged, skipping", "quiz_id", existing)
		return existing, false, nil
	}

	f, err := Parse(data)
	if err != nil {
		return "", false, err
	}
	in, err := f.Input(classroomID, loc)
	if err != nil {
		return "", false, err
	}
	q, err := c.CreateQuiz(ctx, user, in)
	if err != nil {
		return "", false, err
	}
	if err := l.RecordImport(ctx, hash, q.ID); err != nil {
		return "", false, fmt.Errorf("record import: %w", err)
	}
	slog.Info("imported quiz", "quiz_id", q.ID, "questions", len(q.Questions))
	return q.ID, true, nil
}
