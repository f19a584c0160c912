package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edubridge/classquiz/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded Store backend. Quizzes and submissions are kept as
// JSON documents next to the columns used for lookups and write guards.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// errUnchanged makes modifyQuiz roll back without reporting a failure.
var errUnchanged = errors.New("quiz unchanged")

// New opens (and migrates) the SQLite database at dbPath.
func New(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		classroom_id TEXT NOT NULL DEFAULT '',
		locked INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quizzes_classroom ON quizzes(classroom_id);

	CREATE TABLE IF NOT EXISTS quiz_starts (
		quiz_id TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		PRIMARY KEY (quiz_id, participant_id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		extracted INTEGER NOT NULL DEFAULT 0,
		auto_graded INTEGER NOT NULL DEFAULT 0,
		manual_graded INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (quiz_id, participant_id)
	);

	CREATE TABLE IF NOT EXISTS quiz_imports (
		hash TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateQuiz stores a new quiz.
func (s *SQLite) CreateQuiz(ctx context.Context, q *model.Quiz) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quizzes (id, classroom_id, locked, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.ClassroomID, q.Locked, string(data), q.CreatedAt.UTC(),
	)
	return err
}

// GetQuiz returns a quiz by id.
func (s *SQLite) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	return scanQuiz(s.db.QueryRowContext(ctx, `SELECT data, locked FROM quizzes WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuiz(row rowScanner) (*model.Quiz, error) {
	var data string
	var locked bool
	if err := row.Scan(&data, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	var q model.Quiz
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, fmt.Errorf("decode quiz: %w", err)
	}
	q.Locked = locked
	return &q, nil
}

// ListQuizzes returns quizzes, optionally filtered by classroom.
func (s *SQLite) ListQuizzes(ctx context.Context, classroomID string) ([]model.Quiz, error) {
	query := `SELECT data, locked FROM quizzes`
	var args []any
	if classroomID != "" {
		query += ` WHERE classroom_id = ?`
		args = append(args, classroomID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quizzes []model.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, *q)
	}
	return quizzes, rows.Err()
}

// UpdateQuiz writes the editable fields of an unlocked quiz.
func (s *SQLite) UpdateQuiz(ctx context.Context, q *model.Quiz) error {
	return s.modifyQuiz(ctx, q.ID, true, func(cur *model.Quiz) error {
		cur.Title = q.Title
		cur.Description = q.Description
		cur.StartTime = q.StartTime
		cur.Duration = q.Duration
		cur.Published = q.Published
		cur.Questions = q.Questions
		cur.UpdatedAt = q.UpdatedAt
		return nil
	})
}

// DeleteQuiz removes an unlocked quiz and its start records.
func (s *SQLite) DeleteQuiz(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM quizzes WHERE id = ? AND locked = 0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrLocked(ctx, tx, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_starts WHERE quiz_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) missingOrLocked(ctx context.Context, tx *sql.Tx, id string) error {
	var locked bool
	err := tx.QueryRowContext(ctx, `SELECT locked FROM quizzes WHERE id = ?`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return model.ErrQuizLocked
}

// LockQuiz marks a quiz as having submissions.
func (s *SQLite) LockQuiz(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE quizzes SET locked = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SetQuizDocument attaches a document to an unlocked quiz.
func (s *SQLite) SetQuizDocument(ctx context.Context, quizID string, role model.DocumentRole, ref *model.DocumentRef) error {
	return s.modifyQuiz(ctx, quizID, true, func(q *model.Quiz) error {
		switch role {
		case model.RoleQuestionPaper:
			q.QuestionDocument, q.QuestionExtract, q.QuestionExtractError = ref, nil, ""
		case model.RoleAnswerKey:
			q.AnswerKeyDocument, q.AnswerKeyExtract, q.AnswerKeyExtractError = ref, nil, ""
		default:
			return fmt.Errorf("quiz has no %q document", role)
		}
		return nil
	})
}

// SetQuizExtraction stores extracted content if the role's document is
// still docKey and has no extract.
func (s *SQLite) SetQuizExtraction(ctx context.Context, quizID string, role model.DocumentRole, docKey string, c *model.ExtractedContent) (bool, error) {
	return s.modifyExtraction(ctx, quizID, role, docKey, func(q *model.Quiz) {
		if role == model.RoleQuestionPaper {
			q.QuestionExtract, q.QuestionExtractError = c, ""
		} else {
			q.AnswerKeyExtract, q.AnswerKeyExtractError = c, ""
		}
	})
}

// SetQuizExtractionError records why extraction of docKey failed.
func (s *SQLite) SetQuizExtractionError(ctx context.Context, quizID string, role model.DocumentRole, docKey, msg string) (bool, error) {
	return s.modifyExtraction(ctx, quizID, role, docKey, func(q *model.Quiz) {
		if role == model.RoleQuestionPaper {
			q.QuestionExtractError = msg
		} else {
			q.AnswerKeyExtractError = msg
		}
	})
}

func (s *SQLite) modifyExtraction(ctx context.Context, quizID string, role model.DocumentRole, docKey string, set func(*model.Quiz)) (bool, error) {
	if role != model.RoleQuestionPaper && role != model.RoleAnswerKey {
		return false, fmt.Errorf("quiz has no %q document", role)
	}
	applied := false
	err := s.modifyQuiz(ctx, quizID, false, func(q *model.Quiz) error {
		ref, existing := q.Document(role)
		if ref == nil || ref.Key != docKey || existing != nil {
			return errUnchanged
		}
		set(q)
		applied = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		err = nil
	}
	return applied, err
}

// SetModelAnswers replaces the answer key extract of an unlocked quiz.
func (s *SQLite) SetModelAnswers(ctx context.Context, quizID string, c *model.ExtractedContent) error {
	return s.modifyQuiz(ctx, quizID, true, func(q *model.Quiz) error {
		q.AnswerKeyExtract, q.AnswerKeyExtractError = c, ""
		return nil
	})
}

// modifyQuiz applies fn to a quiz inside a write transaction. With
// requireUnlocked set, a locked quiz is left untouched.
func (s *SQLite) modifyQuiz(ctx context.Context, id string, requireUnlocked bool, fn func(*model.Quiz) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q, err := scanQuiz(tx.QueryRowContext(ctx, `SELECT data, locked FROM quizzes WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if requireUnlocked && q.Locked {
		return model.ErrQuizLocked
	}
	if err := fn(q); err != nil {
		return err
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	query := `UPDATE quizzes SET data = ? WHERE id = ?`
	if requireUnlocked {
		query += ` AND locked = 0`
	}
	res, err := tx.ExecContext(ctx, query, string(data), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrQuizLocked
	}
	return tx.Commit()
}

// RecordStart stores the first start time of a participant.
func (s *SQLite) RecordStart(ctx context.Context, quizID, participantID string, at time.Time) (time.Time, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_starts (quiz_id, participant_id, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(quiz_id, participant_id) DO NOTHING`,
		quizID, participantID, at.UTC(),
	)
	if err != nil {
		return time.Time{}, err
	}
	return s.GetStart(ctx, quizID, participantID)
}

// GetStart returns the recorded start time, or the zero time.
func (s *SQLite) GetStart(ctx context.Context, quizID, participantID string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM quiz_starts WHERE quiz_id = ? AND participant_id = ?`,
		quizID, participantID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return at, err
}

// CreateSubmission inserts a submission, enforcing one per participant.
func (s *SQLite) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, quiz_id, participant_id, extracted, auto_graded, manual_graded, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(quiz_id, participant_id) DO NOTHING`,
		sub.ID, sub.QuizID, sub.ParticipantID, sub.Extracted != nil, sub.AutoGraded, sub.ManualGraded,
		string(data), sub.EndTime.UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrAlreadySubmitted
	}
	return nil
}

// Submit locks the quiz and inserts the submission in one transaction.
func (s *SQLite) Submit(ctx context.Context, sub *model.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE quizzes SET locked = 1 WHERE id = ?`, sub.QuizID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	res, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, quiz_id, participant_id, extracted, auto_graded, manual_graded, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(quiz_id, participant_id) DO NOTHING`,
		sub.ID, sub.QuizID, sub.ParticipantID, sub.Extracted != nil, sub.AutoGraded, sub.ManualGraded,
		string(data), sub.EndTime.UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrAlreadySubmitted
	}
	return tx.Commit()
}

// GetSubmission returns a participant's submission for a quiz.
func (s *SQLite) GetSubmission(ctx context.Context, quizID, participantID string) (*model.Submission, error) {
	return scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT data FROM submissions WHERE quiz_id = ? AND participant_id = ?`, quizID, participantID))
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return &sub, nil
}

// ListSubmissions returns all submissions of a quiz in submission order.
func (s *SQLite) ListSubmissions(ctx context.Context, quizID string) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM submissions WHERE quiz_id = ? ORDER BY created_at, id`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SetSubmissionExtraction stores extracted content if none exists yet.
func (s *SQLite) SetSubmissionExtraction(ctx context.Context, quizID, participantID string, c *model.ExtractedContent) (bool, error) {
	return s.modifySubmission(ctx, quizID, participantID, `extracted = 0`, func(sub *model.Submission) {
		sub.Extracted = c
		sub.ExtractionError = ""
	})
}

// SetSubmissionExtractionError records why extraction failed.
func (s *SQLite) SetSubmissionExtractionError(ctx context.Context, quizID, participantID, msg string) error {
	_, err := s.modifySubmission(ctx, quizID, participantID, `extracted = 0`, func(sub *model.Submission) {
		sub.ExtractionError = msg
	})
	return err
}

// SaveAutoGrade writes grading results once, never over a manual grade.
func (s *SQLite) SaveAutoGrade(ctx context.Context, quizID, participantID string, o model.GradingOutcome) (bool, error) {
	return s.modifySubmission(ctx, quizID, participantID, `auto_graded = 0 AND manual_graded = 0`, func(sub *model.Submission) {
		applyAutoGrade(sub, o)
	})
}

// SaveGradingNote records why auto-grading was skipped.
func (s *SQLite) SaveGradingNote(ctx context.Context, quizID, participantID, note string) error {
	_, err := s.modifySubmission(ctx, quizID, participantID, `auto_graded = 0 AND manual_graded = 0`, func(sub *model.Submission) {
		sub.GradingNote = note
	})
	return err
}

// SaveManualGrade overrides score and feedback.
func (s *SQLite) SaveManualGrade(ctx context.Context, quizID, participantID string, g model.ManualGrade) error {
	applied, err := s.modifySubmission(ctx, quizID, participantID, `1 = 1`, func(sub *model.Submission) {
		applyManualGrade(sub, g)
	})
	if err == nil && !applied {
		return model.ErrNotFound
	}
	return err
}

// modifySubmission applies fn inside a write transaction when cond holds for
// the row. It reports whether the row was changed.
func (s *SQLite) modifySubmission(ctx context.Context, quizID, participantID, cond string, fn func(*model.Submission)) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	sub, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT data FROM submissions WHERE quiz_id = ? AND participant_id = ? AND `+cond,
		quizID, participantID))
	if errors.Is(err, model.ErrNotFound) {
		// Either missing or the guard does not hold.
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM submissions WHERE quiz_id = ? AND participant_id = ?)`,
			quizID, participantID).Scan(&exists)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, model.ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	fn(sub)
	data, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("marshal submission: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions SET data = ?, extracted = ?, auto_graded = ?, manual_graded = ?
		 WHERE quiz_id = ? AND participant_id = ?`,
		string(data), sub.Extracted != nil, sub.AutoGraded, sub.ManualGraded, quizID, participantID,
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ImportedQuiz returns the quiz created from a file hash, or "".
func (s *SQLite) ImportedQuiz(ctx context.Context, hash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT quiz_id FROM quiz_imports WHERE hash = ?`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// RecordImport remembers which quiz a file hash produced.
func (s *SQLite) RecordImport(ctx context.Context, hash, quizID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_imports (hash, quiz_id) VALUES (?, ?)
		 ON CONFLICT(hash) DO UPDATE SET quiz_id = ?`,
		hash, quizID, quizID,
	)
	return err
}
