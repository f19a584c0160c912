package model

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// QuestionType is the discriminator of the question union on the wire.
type QuestionType string

const (
	TypeSingleSelect QuestionType = "single-select"
	TypeMultiSelect  QuestionType = "multi-select"
	TypeFreeText     QuestionType = "free-text"
)

// DefaultPoints is the point value of a question that does not set one.
const DefaultPoints = 1.0

// Option is one selectable choice.
type Option struct {
	ID   string `json:"id" bson:"id" yaml:"id"`
	Text string `json:"text" bson:"text" yaml:"text"`
}

// QuestionBody is the type-specific part of a question. The set of
// implementations is closed: SingleSelect, MultiSelect and FreeText.
type QuestionBody interface {
	questionType() QuestionType
}

// SingleSelect has exactly one correct option.
type SingleSelect struct {
	Options         []Option
	CorrectOptionID string
}

// MultiSelect has one or more correct options.
type MultiSelect struct {
	Options          []Option
	CorrectOptionIDs []string
}

// FreeText is answered in prose and never scored automatically.
type FreeText struct {
	ReferenceAnswer string
}

func (SingleSelect) questionType() QuestionType { return TypeSingleSelect }
func (MultiSelect) questionType() QuestionType  { return TypeMultiSelect }
func (FreeText) questionType() QuestionType     { return TypeFreeText }

// Question is a structured-mode question.
type Question struct {
	ID     string
	Text   string
	Points float64
	Body   QuestionBody
}

// Type returns the wire discriminator for q.
func (q Question) Type() QuestionType {
	if q.Body == nil {
		return ""
	}
	return q.Body.questionType()
}

// Options returns the selectable options, or nil for free-text questions.
func (q Question) Options() []Option {
	switch b := q.Body.(type) {
	case SingleSelect:
		return b.Options
	case MultiSelect:
		return b.Options
	}
	return nil
}

// StripAnswers returns a copy of q safe to show a participant.
func (q Question) StripAnswers() Question {
	switch b := q.Body.(type) {
	case SingleSelect:
		b.CorrectOptionID = ""
		q.Body = b
	case MultiSelect:
		b.CorrectOptionIDs = nil
		q.Body = b
	case FreeText:
		b.ReferenceAnswer = ""
		q.Body = b
	}
	return q
}

// QuestionWire is the flat, discriminated form of a question used by
// JSON payloads, storage documents and quiz files.
type QuestionWire struct {
	ID               string       `json:"id" bson:"id" yaml:"id"`
	Type             QuestionType `json:"type" bson:"type" yaml:"type"`
	Text             string       `json:"text" bson:"text" yaml:"text"`
	Points           float64      `json:"points,omitempty" bson:"points,omitempty" yaml:"points,omitempty"`
	Options          []Option     `json:"options,omitempty" bson:"options,omitempty" yaml:"options,omitempty"`
	CorrectOptionID  string       `json:"correct_option_id,omitempty" bson:"correctOptionId,omitempty" yaml:"correct_option_id,omitempty"`
	CorrectOptionIDs []string     `json:"correct_option_ids,omitempty" bson:"correctOptionIds,omitempty" yaml:"correct_option_ids,omitempty"`
	ReferenceAnswer  string       `json:"reference_answer,omitempty" bson:"referenceAnswer,omitempty" yaml:"reference_answer,omitempty"`
}

// Wire flattens q.
func (q Question) Wire() QuestionWire {
	w := QuestionWire{ID: q.ID, Type: q.Type(), Text: q.Text, Points: q.Points}
	switch b := q.Body.(type) {
	case SingleSelect:
		w.Options = b.Options
		w.CorrectOptionID = b.CorrectOptionID
	case MultiSelect:
		w.Options = b.Options
		w.CorrectOptionIDs = b.CorrectOptionIDs
	case FreeText:
		w.ReferenceAnswer = b.ReferenceAnswer
	}
	return w
}

// Question converts w into the tagged form, validating the fields each
// variant requires. A zero point value becomes DefaultPoints.
func (w QuestionWire) Question() (Question, error) {
	q := Question{ID: w.ID, Text: w.Text, Points: w.Points}
	if q.Points == 0 {
		q.Points = DefaultPoints
	}
	if q.Points < 0 {
		return Question{}, fmt.Errorf("%w: question %q: negative points", ErrInvalidQuiz, w.ID)
	}
	switch w.Type {
	case TypeSingleSelect:
		if len(w.Options) < 2 {
			return Question{}, fmt.Errorf("%w: question %q: single-select needs at least two options", ErrInvalidQuiz, w.ID)
		}
		if !hasOption(w.Options, w.CorrectOptionID) {
			return Question{}, fmt.Errorf("%w: question %q: correct option %q is not an option", ErrInvalidQuiz, w.ID, w.CorrectOptionID)
		}
		q.Body = SingleSelect{Options: w.Options, CorrectOptionID: w.CorrectOptionID}
	case TypeMultiSelect:
		if len(w.Options) < 2 {
			return Question{}, fmt.Errorf("%w: question %q: multi-select needs at least two options", ErrInvalidQuiz, w.ID)
		}
		if len(w.CorrectOptionIDs) == 0 {
			return Question{}, fmt.Errorf("%w: question %q: multi-select needs a correct option", ErrInvalidQuiz, w.ID)
		}
		seen := make(map[string]bool, len(w.CorrectOptionIDs))
		for _, id := range w.CorrectOptionIDs {
			if !hasOption(w.Options, id) {
				return Question{}, fmt.Errorf("%w: question %q: correct option %q is not an option", ErrInvalidQuiz, w.ID, id)
			}
			if seen[id] {
				return Question{}, fmt.Errorf("%w: question %q: correct option %q listed twice", ErrInvalidQuiz, w.ID, id)
			}
			seen[id] = true
		}
		q.Body = MultiSelect{Options: w.Options, CorrectOptionIDs: w.CorrectOptionIDs}
	case TypeFreeText:
		q.Body = FreeText{ReferenceAnswer: w.ReferenceAnswer}
	default:
		return Question{}, fmt.Errorf("%w: question %q: unknown type %q", ErrInvalidQuiz, w.ID, w.Type)
	}
	return q, nil
}

func hasOption(opts []Option, id string) bool {
	if id == "" {
		return false
	}
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the wire form.
func (q Question) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Wire())
}

// UnmarshalJSON decodes and validates the wire form.
func (q *Question) UnmarshalJSON(data []byte) error {
	var w QuestionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.Question()
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// MarshalBSON encodes the wire form.
func (q Question) MarshalBSON() ([]byte, error) {
	return bson.Marshal(q.Wire())
}

// UnmarshalBSON decodes and validates the wire form.
func (q *Question) UnmarshalBSON(data []byte) error {
	var w QuestionWire
	if err := bson.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.Question()
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
