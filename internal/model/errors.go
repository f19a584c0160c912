package model

import "errors"

var (
	// ErrNotFound is returned when a quiz, submission or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySubmitted is returned on a second submission by the same participant.
	ErrAlreadySubmitted = errors.New("quiz already submitted")
	// ErrQuizLocked is returned when a quiz with submissions is modified or deleted.
	ErrQuizLocked = errors.New("quiz has submissions and can no longer be changed")
	// ErrNotAvailable is returned when a quiz is started or submitted outside its window.
	ErrNotAvailable = errors.New("quiz is not available")
	// ErrInvalidQuiz wraps quiz and question validation failures.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrInvalidAnswer wraps submission validation failures.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrWrongMode is returned when an operation does not apply to the quiz's mode.
	ErrWrongMode = errors.New("operation does not apply to this quiz mode")
	// ErrForbidden is returned when the caller may not act on a resource.
	ErrForbidden = errors.New("forbidden")
)
