// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/store"
)

var base = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

// NewQuiz returns a valid structured quiz.
func NewQuiz(id, classroom string) *model.Quiz {
	return &model.Quiz{
		ID:          id,
		ClassroomID: classroom,
		Title:       "Capitals " + id,
		StartTime:   base,
		Duration:    60,
		Published:   true,
		Mode:        model.ModeStructured,
		Questions: []model.Question{{
			ID:     "q1",
			Text:   "Capital of France?",
			Points: 2,
			Body: model.SingleSelect{
				Options:         []model.Option{{ID: "A", Text: "Rome"}, {ID: "B", Text: "Paris"}},
				CorrectOptionID: "B",
			},
		}},
		CreatedBy: "teacher-1",
		CreatedAt: base,
		UpdatedAt: base,
	}
}

// NewSubmission returns a submission for quiz and participant.
func NewSubmission(quizID, participantID string) *model.Submission {
	return &model.Submission{
		ID:            quizID + "-" + participantID,
		QuizID:        quizID,
		ParticipantID: participantID,
		StartTime:     base,
		EndTime:       base.Add(20 * time.Minute),
		Answers: map[string]model.AnswerRecord{
			"q1": {Response: model.Response{SelectedOption: "B"}, IsCorrect: true, Score: 2, MaxScore: 2, IsGraded: true},
		},
		Score:    2,
		MaxScore: 2,
	}
}

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("QuizCRUD", func(t *testing.T) { testQuizCRUD(t, newStore(t)) })
	t.Run("LockedQuiz", func(t *testing.T) { testLockedQuiz(t, newStore(t)) })
	t.Run("QuizDocuments", func(t *testing.T) { testQuizDocuments(t, newStore(t)) })
	t.Run("ExtractionFollowsDocument", func(t *testing.T) { testExtractionFollowsDocument(t, newStore(t)) })
	t.Run("Starts", func(t *testing.T) { testStarts(t, newStore(t)) })
	t.Run("SubmissionUnique", func(t *testing.T) { testSubmissionUnique(t, newStore(t)) })
	t.Run("SubmitLocksQuiz", func(t *testing.T) { testSubmitLocksQuiz(t, newStore(t)) })
	t.Run("ConcurrentSubmissions", func(t *testing.T) { testConcurrentSubmissions(t, newStore(t)) })
	t.Run("SubmissionExtraction", func(t *testing.T) { testSubmissionExtraction(t, newStore(t)) })
	t.Run("Grading", func(t *testing.T) { testGrading(t, newStore(t)) })
	t.Run("Imports", func(t *testing.T) { testImports(t, newStore(t)) })
}

func testQuizCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetQuiz(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetQuiz(missing) = %v, want ErrNotFound", err)
	}

	q1 := NewQuiz("quiz-1", "class-a")
	q2 := NewQuiz("quiz-2", "class-b")
	q2.CreatedAt = base.Add(time.Minute)
	for _, q := range []*model.Quiz{q1, q2} {
		if err := s.CreateQuiz(ctx, q); err != nil {
			t.Fatalf("CreateQuiz: %v", err)
		}
	}

	got, err := s.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if got.Title != q1.Title || !got.StartTime.Equal(base) || got.Duration != 60 {
		t.Errorf("unexpected quiz %+v", got)
	}
	if len(got.Questions) != 1 {
		t.Fatalf("questions not stored: %+v", got.Questions)
	}
	body, ok := got.Questions[0].Body.(model.SingleSelect)
	if !ok || body.CorrectOptionID != "B" {
		t.Errorf("question body lost: %#v", got.Questions[0].Body)
	}

	all, err := s.ListQuizzes(ctx, "")
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(all) != 2 || all[0].ID != "quiz-1" || all[1].ID != "quiz-2" {
		t.Errorf("ListQuizzes(all) = %v", ids(all))
	}
	byClass, err := s.ListQuizzes(ctx, "class-b")
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(byClass) != 1 || byClass[0].ID != "quiz-2" {
		t.Errorf("ListQuizzes(class-b) = %v", ids(byClass))
	}

	upd := *got
	upd.Title = "Renamed"
	upd.Duration = 45
	upd.ClassroomID = "ignored"
	if err := s.UpdateQuiz(ctx, &upd); err != nil {
		t.Fatalf("UpdateQuiz: %v", err)
	}
	got, _ = s.GetQuiz(ctx, "quiz-1")
	if got.Title != "Renamed" || got.Duration != 45 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.ClassroomID != "class-a" {
		t.Errorf("classroom must not change on update, got %q", got.ClassroomID)
	}

	if err := s.DeleteQuiz(ctx, "quiz-2"); err != nil {
		t.Fatalf("DeleteQuiz: %v", err)
	}
	if _, err := s.GetQuiz(ctx, "quiz-2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("deleted quiz still readable: %v", err)
	}
	if err := s.DeleteQuiz(ctx, "quiz-2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func testLockedQuiz(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := NewQuiz("quiz-1", "class-a")
	if err := s.CreateQuiz(ctx, q); err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}
	if err := s.LockQuiz(ctx, q.ID); err != nil {
		t.Fatalf("LockQuiz: %v", err)
	}
	if err := s.LockQuiz(ctx, q.ID); err != nil {
		t.Fatalf("LockQuiz twice: %v", err)
	}
	if err := s.LockQuiz(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("LockQuiz(missing) = %v", err)
	}

	got, _ := s.GetQuiz(ctx, q.ID)
	if !got.Locked {
		t.Fatal("quiz not locked")
	}
	got.StartTime = base.Add(time.Hour)
	if err := s.UpdateQuiz(ctx, got); !errors.Is(err, model.ErrQuizLocked) {
		t.Errorf("UpdateQuiz on locked = %v, want ErrQuizLocked", err)
	}
	if err := s.DeleteQuiz(ctx, q.ID); !errors.Is(err, model.ErrQuizLocked) {
		t.Errorf("DeleteQuiz on locked = %v, want ErrQuizLocked", err)
	}
	ref := &model.DocumentRef{Key: "k", Filename: "paper.pdf"}
	if err := s.SetQuizDocument(ctx, q.ID, model.RoleQuestionPaper, ref); !errors.Is(err, model.ErrQuizLocked) {
		t.Errorf("SetQuizDocument on locked = %v, want ErrQuizLocked", err)
	}
	if err := s.SetModelAnswers(ctx, q.ID, &model.ExtractedContent{}); !errors.Is(err, model.ErrQuizLocked) {
		t.Errorf("SetModelAnswers on locked = %v, want ErrQuizLocked", err)
	}
	got, _ = s.GetQuiz(ctx, q.ID)
	if !got.StartTime.Equal(base) {
		t.Errorf("locked quiz schedule changed to %v", got.StartTime)
	}
}

func testQuizDocuments(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := NewQuiz("quiz-doc", "class-a")
	q.Mode = model.ModeDocument
	q.Questions = nil
	if err := s.CreateQuiz(ctx, q); err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}

	ref := &model.DocumentRef{Key: "quizzes/quiz-doc/answer-key", Filename: "key.pdf", ContentType: "application/pdf", Size: 10}
	if err := s.SetQuizDocument(ctx, q.ID, model.RoleAnswerKey, ref); err != nil {
		t.Fatalf("SetQuizDocument: %v", err)
	}
	if applied, err := s.SetQuizExtractionError(ctx, q.ID, model.RoleAnswerKey, ref.Key, "no text"); err != nil || !applied {
		t.Fatalf("SetQuizExtractionError = %v, %v", applied, err)
	}

	first := &model.ExtractedContent{RawText: "1. Paris", Segments: model.Segments{"1": "Paris"}, Method: model.MethodTextLayer, ExtractedAt: base}
	applied, err := s.SetQuizExtraction(ctx, q.ID, model.RoleAnswerKey, ref.Key, first)
	if err != nil || !applied {
		t.Fatalf("SetQuizExtraction = %v, %v", applied, err)
	}
	if applied, err := s.SetQuizExtractionError(ctx, q.ID, model.RoleAnswerKey, ref.Key, "late failure"); err != nil || applied {
		t.Fatalf("SetQuizExtractionError after extraction = %v, %v; want not applied", applied, err)
	}
	second := &model.ExtractedContent{RawText: "other", Segments: model.Segments{"0": "other"}}
	applied, err = s.SetQuizExtraction(ctx, q.ID, model.RoleAnswerKey, ref.Key, second)
	if err != nil || applied {
		t.Fatalf("second SetQuizExtraction = %v, %v; want not applied", applied, err)
	}

	got, _ := s.GetQuiz(ctx, q.ID)
	if got.AnswerKeyDocument == nil || got.AnswerKeyDocument.Filename != "key.pdf" {
		t.Errorf("document ref lost: %+v", got.AnswerKeyDocument)
	}
	if got.AnswerKeyExtract == nil || got.AnswerKeyExtract.Segments["1"] != "Paris" {
		t.Errorf("extract = %+v", got.AnswerKeyExtract)
	}
	if got.AnswerKeyExtractError != "" {
		t.Errorf("extraction error not cleared: %q", got.AnswerKeyExtractError)
	}

	manual := &model.ExtractedContent{Segments: model.Segments{"1": "Paris", "2": "Berlin"}, Method: model.MethodManual, ExtractedAt: base}
	if err := s.SetModelAnswers(ctx, q.ID, manual); err != nil {
		t.Fatalf("SetModelAnswers: %v", err)
	}
	got, _ = s.GetQuiz(ctx, q.ID)
	if got.AnswerKeyExtract == nil || got.AnswerKeyExtract.Method != model.MethodManual || got.AnswerKeyExtract.Segments["2"] != "Berlin" {
		t.Errorf("model answers = %+v", got.AnswerKeyExtract)
	}

	// Re-upload clears the extract while unlocked.
	if err := s.SetQuizDocument(ctx, q.ID, model.RoleAnswerKey, ref); err != nil {
		t.Fatalf("SetQuizDocument again: %v", err)
	}
	got, _ = s.GetQuiz(ctx, q.ID)
	if got.AnswerKeyExtract != nil {
		t.Error("re-upload kept the old extract")
	}
}

func testExtractionFollowsDocument(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := NewQuiz("quiz-doc", "class-a")
	q.Mode = model.ModeDocument
	q.Questions = nil
	if err := s.CreateQuiz(ctx, q); err != nil {
		t.Fatalf("CreateQuiz: %v", err)
	}
	v1 := &model.DocumentRef{Key: "quizzes/quiz-doc/answer-key/v1", Filename: "old.pdf"}
	v2 := &model.DocumentRef{Key: "quizzes/quiz-doc/answer-key/v2", Filename: "new.pdf"}

	applied, err := s.SetQuizExtraction(ctx, q.ID, model.RoleAnswerKey, v1.Key, &model.ExtractedContent{RawText: "nothing uploaded"})
	if err != nil || applied {
		t.Fatalf("SetQuizExtraction without document = %v, %v; want not applied", applied, err)
	}
	if err := s.SetQuizDocument(ctx, q.ID, model.RoleAnswerKey, v1); err != nil {
		t.Fatalf("SetQuizDocument v1: %v", err)
	}
	if err := s.SetQuizDocument(ctx, q.ID, model.RoleAnswerKey, v2); err != nil {
		t.Fatalf("SetQuizDocument v2: %v", err)
	}

	applied, err = s.SetQuizExtraction(ctx, q.ID, model.RoleAnswerKey, v1.Key, &model.ExtractedContent{RawText: "OLD KEY TEXT"})
	if err != nil || applied {
		t.Fatalf("SetQuizExtraction for replaced document = %v, %v; want not applied", applied, err)
	}
	applied, err = s.SetQuizExtractionError(ctx, q.ID, model.RoleAnswerKey, v1.Key, "document not found")
	if err != nil || applied {
		t.Fatalf("SetQuizExtractionError for replaced document = %v, %v; want not applied", applied, err)
	}
	got, _ := s.GetQuiz(ctx, q.ID)
	if got.AnswerKeyExtract != nil || got.AnswerKeyExtractError != "" {
		t.Fatalf("replaced document result attached: extract %+v, error %q", got.AnswerKeyExtract, got.AnswerKeyExtractError)
	}

	applied, err = s.SetQuizExtraction(ctx, q.ID, model.RoleAnswerKey, v2.Key, &model.ExtractedContent{RawText: "NEW KEY TEXT"})
	if err != nil || !applied {
		t.Fatalf("SetQuizExtraction for current document = %v, %v", applied, err)
	}
	got, _ = s.GetQuiz(ctx, q.ID)
	if got.AnswerKeyDocument.Key != v2.Key || got.AnswerKeyExtract == nil || got.AnswerKeyExtract.RawText != "NEW KEY TEXT" {
		t.Errorf("document %+v extract %+v", got.AnswerKeyDocument, got.AnswerKeyExtract)
	}

	if _, err := s.SetQuizExtraction(ctx, "missing", model.RoleAnswerKey, v2.Key, &model.ExtractedContent{}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetQuizExtraction(missing) = %v, want ErrNotFound", err)
	}
}

func testSubmitLocksQuiz(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"quiz-1", "quiz-2"} {
		if err := s.CreateQuiz(ctx, NewQuiz(id, "class-a")); err != nil {
			t.Fatalf("CreateQuiz: %v", err)
		}
	}

	if err := s.Submit(ctx, NewSubmission("quiz-1", "student-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := s.GetQuiz(ctx, "quiz-1")
	if !got.Locked {
		t.Error("quiz not locked after a submission")
	}
	if err := s.Submit(ctx, NewSubmission("quiz-1", "student-1")); !errors.Is(err, model.ErrAlreadySubmitted) {
		t.Errorf("second Submit = %v, want ErrAlreadySubmitted", err)
	}
	if err := s.Submit(ctx, NewSubmission("missing", "student-1")); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Submit for missing quiz = %v, want ErrNotFound", err)
	}

	// A submission id that is already taken fails the insert for a
	// reason other than a duplicate participant.
	clash := NewSubmission("quiz-2", "student-9")
	clash.ID = NewSubmission("quiz-1", "student-1").ID
	if err := s.Submit(ctx, clash); err == nil || errors.Is(err, model.ErrAlreadySubmitted) {
		t.Fatalf("Submit with taken id = %v, want an insert error", err)
	}
	got, _ = s.GetQuiz(ctx, "quiz-2")
	if got.Locked {
		t.Error("quiz left locked after a failed submission")
	}
	if _, err := s.GetSubmission(ctx, "quiz-2", "student-9"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetSubmission after failed Submit = %v, want ErrNotFound", err)
	}
}

func testStarts(t *testing.T, s store.Store) {
	ctx := context.Background()

	at, err := s.GetStart(ctx, "quiz-1", "student-1")
	if err != nil || !at.IsZero() {
		t.Fatalf("GetStart before start = %v, %v", at, err)
	}
	first, err := s.RecordStart(ctx, "quiz-1", "student-1", base)
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	again, err := s.RecordStart(ctx, "quiz-1", "student-1", base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("RecordStart again: %v", err)
	}
	if !first.Equal(base) || !again.Equal(base) {
		t.Errorf("start times %v, %v; want first start kept", first, again)
	}
}

func testSubmissionUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub := NewSubmission("quiz-1", "student-1")
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	dup := NewSubmission("quiz-1", "student-1")
	dup.ID = "another-id"
	if err := s.CreateSubmission(ctx, dup); !errors.Is(err, model.ErrAlreadySubmitted) {
		t.Fatalf("duplicate CreateSubmission = %v, want ErrAlreadySubmitted", err)
	}
	if err := s.CreateSubmission(ctx, NewSubmission("quiz-1", "student-2")); err != nil {
		t.Fatalf("CreateSubmission other participant: %v", err)
	}

	got, err := s.GetSubmission(ctx, "quiz-1", "student-1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.ID != sub.ID || got.Answers["q1"].SelectedOption != "B" || got.Score != 2 {
		t.Errorf("unexpected submission %+v", got)
	}
	if _, err := s.GetSubmission(ctx, "quiz-1", "nobody"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetSubmission(missing) = %v", err)
	}

	list, err := s.ListSubmissions(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListSubmissions len = %d, want 2", len(list))
	}
}

func testConcurrentSubmissions(t *testing.T, s store.Store) {
	ctx := context.Background()
	const attempts = 8

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := NewSubmission("quiz-1", "student-1")
			sub.ID = sub.ID + "-" + string(rune('a'+i))
			errs <- s.CreateSubmission(ctx, sub)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrAlreadySubmitted):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != attempts-1 {
		t.Errorf("ok=%d dup=%d, want exactly one success", ok, dup)
	}
}

func testSubmissionExtraction(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.CreateSubmission(ctx, NewSubmission("quiz-1", "student-1")); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	if err := s.SetSubmissionExtractionError(ctx, "quiz-1", "student-1", "unreadable"); err != nil {
		t.Fatalf("SetSubmissionExtractionError: %v", err)
	}
	c := &model.ExtractedContent{RawText: "1. The capital is Paris", Segments: model.Segments{"1": "The capital is Paris"}, Method: model.MethodOCR, ExtractedAt: base}
	applied, err := s.SetSubmissionExtraction(ctx, "quiz-1", "student-1", c)
	if err != nil || !applied {
		t.Fatalf("SetSubmissionExtraction = %v, %v", applied, err)
	}
	applied, err = s.SetSubmissionExtraction(ctx, "quiz-1", "student-1", &model.ExtractedContent{RawText: "x"})
	if err != nil || applied {
		t.Fatalf("second SetSubmissionExtraction = %v, %v", applied, err)
	}
	got, _ := s.GetSubmission(ctx, "quiz-1", "student-1")
	if got.Extracted == nil || got.Extracted.Method != model.MethodOCR || got.ExtractionError != "" {
		t.Errorf("unexpected extraction state %+v / %q", got.Extracted, got.ExtractionError)
	}

	if _, err := s.SetSubmissionExtraction(ctx, "quiz-1", "nobody", c); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetSubmissionExtraction(missing) = %v", err)
	}
}

func testGrading(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, p := range []string{"student-1", "student-2"} {
		if err := s.CreateSubmission(ctx, NewSubmission("quiz-1", p)); err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}

	if err := s.SaveGradingNote(ctx, "quiz-1", "student-1", "answer key not uploaded"); err != nil {
		t.Fatalf("SaveGradingNote: %v", err)
	}

	outcome := model.GradingOutcome{
		Results: []model.QuestionGradeResult{
			{QuestionNumber: "1", Score: 18, MaxScore: 20, Feedback: "good", KeyPointsAddressed: []string{"Paris"}, Answered: true},
		},
		Score: 18, MaxScore: 20, Percentage: 90, Feedback: "Excellent work.", GradedAt: base.Add(time.Hour),
	}
	applied, err := s.SaveAutoGrade(ctx, "quiz-1", "student-1", outcome)
	if err != nil || !applied {
		t.Fatalf("SaveAutoGrade = %v, %v", applied, err)
	}
	got, _ := s.GetSubmission(ctx, "quiz-1", "student-1")
	if !got.IsGraded || !got.AutoGraded || got.Score != 18 || got.MaxScore != 20 || len(got.GradeResults) != 1 {
		t.Errorf("auto grade not stored: %+v", got)
	}
	if got.GradingNote != "" {
		t.Errorf("grading note not cleared: %q", got.GradingNote)
	}
	if got.GradedAt == nil || !got.GradedAt.Equal(outcome.GradedAt) {
		t.Errorf("GradedAt = %v", got.GradedAt)
	}

	outcome.Score = 5
	applied, err = s.SaveAutoGrade(ctx, "quiz-1", "student-1", outcome)
	if err != nil || applied {
		t.Errorf("second SaveAutoGrade = %v, %v; want not applied", applied, err)
	}

	// A manual grade freezes auto-grading.
	manual := model.ManualGrade{Score: 1.5, Feedback: "see me", GradedBy: "teacher-1", GradedAt: base.Add(2 * time.Hour)}
	if err := s.SaveManualGrade(ctx, "quiz-1", "student-2", manual); err != nil {
		t.Fatalf("SaveManualGrade: %v", err)
	}
	applied, err = s.SaveAutoGrade(ctx, "quiz-1", "student-2", outcome)
	if err != nil || applied {
		t.Errorf("SaveAutoGrade after manual = %v, %v; want not applied", applied, err)
	}
	got, _ = s.GetSubmission(ctx, "quiz-1", "student-2")
	if got.Score != 1.5 || got.Feedback != "see me" || !got.ManualGraded || got.MaxScore != 2 {
		t.Errorf("manual grade not kept: %+v", got)
	}
	if got.Percentage != 75 {
		t.Errorf("percentage = %v, want 75", got.Percentage)
	}

	if err := s.SaveManualGrade(ctx, "quiz-1", "nobody", manual); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SaveManualGrade(missing) = %v", err)
	}
}

func testImports(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.ImportedQuiz(ctx, "abc")
	if err != nil || id != "" {
		t.Fatalf("ImportedQuiz before import = %q, %v", id, err)
	}
	if err := s.RecordImport(ctx, "abc", "quiz-1"); err != nil {
		t.Fatalf("RecordImport: %v", err)
	}
	id, err = s.ImportedQuiz(ctx, "abc")
	if err != nil || id != "quiz-1" {
		t.Errorf("ImportedQuiz = %q, %v", id, err)
	}
}

func ids(qs []model.Quiz) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}
