// Package mongostore is the MongoDB store.Store backend.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/store"
)

// Store keeps quizzes, start records and submissions in separate collections.
type Store struct {
	client      *mongo.Client
	quizzes     *mongo.Collection
	starts      *mongo.Collection
	submissions *mongo.Collection
	imports     *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New connects to uri, verifies the connection and ensures indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &Store{
		client:      client,
		quizzes:     db.Collection("quizzes"),
		starts:      db.Collection("quiz_starts"),
		submissions: db.Collection("submissions"),
		imports:     db.Collection("quiz_imports"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	pair := bson.D{{Key: "quizId", Value: 1}, {Key: "participantId", Value: 1}}
	if _, err := s.submissions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    pair,
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.starts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    pair,
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := s.quizzes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "classroomId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	return err
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) CreateQuiz(ctx context.Context, q *model.Quiz) error {
	_, err := s.quizzes.InsertOne(ctx, q)
	return err
}

func (s *Store) GetQuiz(ctx context.Context, id string) (*model.Quiz, error) {
	var q model.Quiz
	if err := s.quizzes.FindOne(ctx, bson.M{"_id": id}).Decode(&q); err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *Store) ListQuizzes(ctx context.Context, classroomID string) ([]model.Quiz, error) {
	filter := bson.M{}
	if classroomID != "" {
		filter["classroomId"] = classroomID
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.quizzes.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var quizzes []model.Quiz
	if err := cur.All(ctx, &quizzes); err != nil {
		return nil, err
	}
	return quizzes, nil
}

func (s *Store) UpdateQuiz(ctx context.Context, q *model.Quiz) error {
	res, err := s.quizzes.UpdateOne(ctx,
		bson.M{"_id": q.ID, "locked": false},
		bson.M{"$set": bson.M{
			"title":       q.Title,
			"description": q.Description,
			"startTime":   q.StartTime,
			"duration":    q.Duration,
			"published":   q.Published,
			"questions":   q.Questions,
			"updatedAt":   q.UpdatedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrLocked(ctx, q.ID)
	}
	return nil
}

func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	res, err := s.quizzes.DeleteOne(ctx, bson.M{"_id": id, "locked": false})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return s.missingOrLocked(ctx, id)
	}
	_, err = s.starts.DeleteMany(ctx, bson.M{"quizId": id})
	return err
}

func (s *Store) missingOrLocked(ctx context.Context, id string) error {
	n, err := s.quizzes.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return model.ErrQuizLocked
}

func (s *Store) LockQuiz(ctx context.Context, id string) error {
	res, err := s.quizzes.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"locked": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

type docFields struct {
	doc, extract, errMsg string
}

func quizDocFields(role model.DocumentRole) (docFields, error) {
	switch role {
	case model.RoleQuestionPaper:
		return docFields{"questionDocument", "questionExtract", "questionExtractError"}, nil
	case model.RoleAnswerKey:
		return docFields{"answerKeyDocument", "answerKeyExtract", "answerKeyExtractError"}, nil
	}
	return docFields{}, fmt.Errorf("quiz has no %q document", role)
}

func (s *Store) SetQuizDocument(ctx context.Context, quizID string, role model.DocumentRole, ref *model.DocumentRef) error {
	f, err := quizDocFields(role)
	if err != nil {
		return err
	}
	res, err := s.quizzes.UpdateOne(ctx,
		bson.M{"_id": quizID, "locked": false},
		bson.M{
			"$set":   bson.M{f.doc: ref},
			"$unset": bson.M{f.extract: "", f.errMsg: ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrLocked(ctx, quizID)
	}
	return nil
}

func (s *Store) SetQuizExtraction(ctx context.Context, quizID string, role model.DocumentRole, docKey string, c *model.ExtractedContent) (bool, error) {
	f, err := quizDocFields(role)
	if err != nil {
		return false, err
	}
	return s.updateExtraction(ctx, quizID, f, docKey, bson.M{
		"$set":   bson.M{f.extract: c},
		"$unset": bson.M{f.errMsg: ""},
	})
}

func (s *Store) SetQuizExtractionError(ctx context.Context, quizID string, role model.DocumentRole, docKey, msg string) (bool, error) {
	f, err := quizDocFields(role)
	if err != nil {
		return false, err
	}
	return s.updateExtraction(ctx, quizID, f, docKey, bson.M{"$set": bson.M{f.errMsg: msg}})
}

// updateExtraction applies update while the quiz still holds the document
// docKey and that document has no extract.
func (s *Store) updateExtraction(ctx context.Context, quizID string, f docFields, docKey string, update bson.M) (bool, error) {
	res, err := s.quizzes.UpdateOne(ctx,
		bson.M{
			"_id":          quizID,
			f.doc + ".key": docKey,
			f.extract:      bson.M{"$exists": false},
		},
		update,
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, s.quizExists(ctx, quizID)
	}
	return true, nil
}

func (s *Store) SetModelAnswers(ctx context.Context, quizID string, c *model.ExtractedContent) error {
	res, err := s.quizzes.UpdateOne(ctx,
		bson.M{"_id": quizID, "locked": false},
		bson.M{
			"$set":   bson.M{"answerKeyExtract": c},
			"$unset": bson.M{"answerKeyExtractError": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrLocked(ctx, quizID)
	}
	return nil
}

func (s *Store) quizExists(ctx context.Context, id string) error {
	n, err := s.quizzes.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type startDoc struct {
	QuizID        string    `bson:"quizId"`
	ParticipantID string    `bson:"participantId"`
	StartedAt     time.Time `bson:"startedAt"`
}

func (s *Store) RecordStart(ctx context.Context, quizID, participantID string, at time.Time) (time.Time, error) {
	_, err := s.starts.UpdateOne(ctx,
		bson.M{"quizId": quizID, "participantId": participantID},
		bson.M{"$setOnInsert": bson.M{"startedAt": at}},
		options.Update().SetUpsert(true),
	)
	// A concurrent upsert for the same pair loses on the unique index.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return time.Time{}, err
	}
	return s.GetStart(ctx, quizID, participantID)
}

func (s *Store) GetStart(ctx context.Context, quizID, participantID string) (time.Time, error) {
	var d startDoc
	err := s.starts.FindOne(ctx, bson.M{"quizId": quizID, "participantId": participantID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return d.StartedAt, nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	_, err := s.submissions.InsertOne(ctx, sub)
	if mongo.IsDuplicateKeyError(err) {
		// Only the (quiz, participant) index means the participant already submitted.
		n, cerr := s.submissions.CountDocuments(ctx, submissionFilter(sub.QuizID, sub.ParticipantID))
		if cerr == nil && n > 0 {
			return model.ErrAlreadySubmitted
		}
	}
	return err
}

// Submit locks the quiz, then inserts the submission. If the insert fails
// for any reason other than a duplicate, the lock is released again unless
// the quiz already has submissions.
func (s *Store) Submit(ctx context.Context, sub *model.Submission) error {
	if err := s.LockQuiz(ctx, sub.QuizID); err != nil {
		return err
	}
	err := s.CreateSubmission(ctx, sub)
	if err == nil || errors.Is(err, model.ErrAlreadySubmitted) {
		return err
	}
	if uerr := s.unlockEmpty(context.WithoutCancel(ctx), sub.QuizID); uerr != nil {
		slog.Error("release quiz lock after failed submission", "quiz_id", sub.QuizID, "error", uerr)
	}
	return err
}

func (s *Store) unlockEmpty(ctx context.Context, quizID string) error {
	n, err := s.submissions.CountDocuments(ctx, bson.M{"quizId": quizID})
	if err != nil || n > 0 {
		return err
	}
	_, err = s.quizzes.UpdateOne(ctx, bson.M{"_id": quizID}, bson.M{"$set": bson.M{"locked": false}})
	return err
}

func submissionFilter(quizID, participantID string) bson.M {
	return bson.M{"quizId": quizID, "participantId": participantID}
}

func (s *Store) GetSubmission(ctx context.Context, quizID, participantID string) (*model.Submission, error) {
	var sub model.Submission
	if err := s.submissions.FindOne(ctx, submissionFilter(quizID, participantID)).Decode(&sub); err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, quizID string) ([]model.Submission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "endTime", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.submissions.Find(ctx, bson.M{"quizId": quizID}, opts)
	if err != nil {
		return nil, err
	}
	var subs []model.Submission
	if err := cur.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) SetSubmissionExtraction(ctx context.Context, quizID, participantID string, c *model.ExtractedContent) (bool, error) {
	filter := submissionFilter(quizID, participantID)
	filter["extracted"] = bson.M{"$exists": false}
	return s.updateSubmission(ctx, quizID, participantID, filter, bson.M{
		"$set":   bson.M{"extracted": c},
		"$unset": bson.M{"extractionError": ""},
	})
}

func (s *Store) SetSubmissionExtractionError(ctx context.Context, quizID, participantID, msg string) error {
	filter := submissionFilter(quizID, participantID)
	filter["extracted"] = bson.M{"$exists": false}
	_, err := s.updateSubmission(ctx, quizID, participantID, filter, bson.M{
		"$set": bson.M{"extractionError": msg},
	})
	return err
}

func ungradedFilter(quizID, participantID string) bson.M {
	filter := submissionFilter(quizID, participantID)
	filter["autoGraded"] = false
	filter["manualGraded"] = false
	return filter
}

func (s *Store) SaveAutoGrade(ctx context.Context, quizID, participantID string, o model.GradingOutcome) (bool, error) {
	return s.updateSubmission(ctx, quizID, participantID, ungradedFilter(quizID, participantID), bson.M{
		"$set": bson.M{
			"gradeResults": o.Results,
			"score":        o.Score,
			"maxScore":     o.MaxScore,
			"percentage":   o.Percentage,
			"feedback":     o.Feedback,
			"isGraded":     true,
			"autoGraded":   true,
			"gradedAt":     o.GradedAt,
		},
		"$unset": bson.M{"gradingNote": ""},
	})
}

func (s *Store) SaveGradingNote(ctx context.Context, quizID, participantID, note string) error {
	_, err := s.updateSubmission(ctx, quizID, participantID, ungradedFilter(quizID, participantID), bson.M{
		"$set": bson.M{"gradingNote": note},
	})
	return err
}

// SaveManualGrade uses an update pipeline so the percentage is derived from
// the stored max score in the same write.
func (s *Store) SaveManualGrade(ctx context.Context, quizID, participantID string, g model.ManualGrade) error {
	var maxScore any = "$maxScore"
	if g.MaxScore > 0 {
		maxScore = g.MaxScore
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "score", Value: g.Score},
			{Key: "maxScore", Value: maxScore},
			{Key: "feedback", Value: bson.M{"$literal": g.Feedback}},
			{Key: "isGraded", Value: true},
			{Key: "manualGraded", Value: true},
			{Key: "gradedAt", Value: g.GradedAt},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "percentage", Value: bson.M{"$cond": bson.A{
				bson.M{"$gt": bson.A{"$maxScore", 0}},
				bson.M{"$multiply": bson.A{100, bson.M{"$divide": bson.A{"$score", "$maxScore"}}}},
				0,
			}}},
		}}},
	}
	res, err := s.submissions.UpdateOne(ctx, submissionFilter(quizID, participantID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

// updateSubmission applies update when filter matches and tells a failed
// guard apart from a missing submission.
func (s *Store) updateSubmission(ctx context.Context, quizID, participantID string, filter, update bson.M) (bool, error) {
	res, err := s.submissions.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := s.submissions.CountDocuments(ctx, submissionFilter(quizID, participantID))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, model.ErrNotFound
	}
	return false, nil
}

type importDoc struct {
	Hash   string `bson:"_id"`
	QuizID string `bson:"quizId"`
}

func (s *Store) ImportedQuiz(ctx context.Context, hash string) (string, error) {
	var d importDoc
	err := s.imports.FindOne(ctx, bson.M{"_id": hash}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	return d.QuizID, err
}

func (s *Store) RecordImport(ctx context.Context, hash, quizID string) error {
	_, err := s.imports.ReplaceOne(ctx, bson.M{"_id": hash}, importDoc{Hash: hash, QuizID: quizID},
		options.Replace().SetUpsert(true))
	return err
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.ErrNotFound
	}
	return err
}
