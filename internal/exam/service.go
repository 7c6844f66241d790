package exam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"examportal/internal/notify"
	"examportal/internal/question"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrSessionClosed    = errors.New("session already submitted")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionForbidden = errors.New("session forbidden")
	ErrTestNotFound     = errors.New("test not found")
	ErrStorageFailure   = errors.New("storage failure")
)

const maxSessionIDLength = 128

// maxElapsedSeconds is the largest value the elapsed columns can hold.
const maxElapsedSeconds = math.MaxInt32

// Skip reasons reported back to the caller.
const (
	SkipUnknownQuestion = "unknown_question"
	SkipOtherTest       = "question_not_in_test"
	SkipCatalogInvalid  = "catalog_invalid"
)

type Service struct {
	repo             Repository
	log              *zap.Logger
	notifier         notify.Notifier
	now              func() time.Time
	elapsedTolerance time.Duration
	notifyTimeout    time.Duration
	pending          sync.WaitGroup
}

type ServiceConfig struct {
	Logger           *zap.Logger
	Notifier         notify.Notifier
	ElapsedTolerance time.Duration
	NotifyTimeout    time.Duration
}

type StartInput struct {
	UserID    int64
	TestID    int64
	SessionID string
}

type SubmitInput struct {
	UserID         int64
	TestID         int64
	SessionID      string
	ElapsedSeconds int
	Answers        []AnswerInput
}

type SaveInput struct {
	UserID    int64
	TestID    int64
	SessionID string
	Answer    AnswerInput
}

type QuestionResult struct {
	QuestionID int64   `json:"question_id"`
	Outcome    Outcome `json:"outcome"`
	IsCorrect  *bool   `json:"is_correct"`
	Marks      int     `json:"marks_obtained"`
	Reason     string  `json:"reason"`
}

type SkippedAnswer struct {
	QuestionID int64  `json:"question_id"`
	Reason     string `json:"reason"`
}

type SubmissionResult struct {
	SessionID            string           `json:"session_id"`
	PerQuestion          []QuestionResult `json:"per_question"`
	Skipped              []SkippedAnswer  `json:"skipped"`
	SessionClosed        bool             `json:"session_closed"`
	SubmittedAt          time.Time        `json:"submitted_at"`
	ElapsedSeconds       int              `json:"elapsed_seconds"`
	ServerElapsedSeconds int              `json:"server_elapsed_seconds"`
	ElapsedFlagged       bool             `json:"elapsed_flagged"`
}

type parsedAnswer struct {
	questionID int64
	value      Submission
}

func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ElapsedTolerance <= 0 {
		cfg.ElapsedTolerance = 120 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 15 * time.Second
	}
	return &Service{
		repo:             repo,
		log:              cfg.Logger,
		notifier:         cfg.Notifier,
		now:              time.Now,
		elapsedTolerance: cfg.ElapsedTolerance,
		notifyTimeout:    cfg.NotifyTimeout,
	}
}

// StartSession opens a session or resumes an unsubmitted one with the same
// identifier. An empty session id gets a server-generated one.
func (s *Service) StartSession(ctx context.Context, in StartInput) (*Session, error) {
	if in.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if in.TestID <= 0 {
		return nil, fmt.Errorf("%w: test_id is required", ErrInvalidArgument)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if len(sessionID) > maxSessionIDLength {
		return nil, fmt.Errorf("%w: session_id is too long", ErrInvalidArgument)
	}

	exists, err := s.repo.TestExists(ctx, in.TestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if !exists {
		return nil, ErrTestNotFound
	}

	sess, err := s.repo.StartOrResume(ctx, Session{
		ID:        sessionID,
		UserID:    in.UserID,
		TestID:    in.TestID,
		StartedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrSessionForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.Int64("user_id", sess.UserID),
		zap.Int64("test_id", sess.TestID),
	)
	return sess, nil
}

// SubmitAnswers grades and stores every resolvable answer and closes the
// session in one transaction. Nothing is written unless all of it is.
func (s *Service) SubmitAnswers(ctx context.Context, in SubmitInput) (*SubmissionResult, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	answers, err := validateSubmit(in)
	if err != nil {
		return nil, err
	}

	var result *SubmissionResult
	err = s.repo.RunInTx(ctx, func(tx TxRepository) error {
		result = &SubmissionResult{SessionID: in.SessionID}

		sess, err := lockOpenSession(ctx, tx, in.UserID, in.TestID, in.SessionID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		for _, a := range answers {
			q, err := resolveQuestion(ctx, tx, sess, a.questionID)
			if err != nil {
				var skip *skipError
				if errors.As(err, &skip) {
					s.skip(result, sess, a.questionID, skip.reason, skip.cause)
					continue
				}
				return err
			}
			res, err := recordAnswer(ctx, tx, sess, q, a.value, now)
			if err != nil {
				return err
			}
			result.PerQuestion = append(result.PerQuestion, res)
		}

		closing := s.closeFor(sess, now, in.ElapsedSeconds)
		if err := tx.CloseSession(ctx, sess.ID, closing); err != nil {
			return err
		}
		result.SessionClosed = true
		result.SubmittedAt = closing.SubmittedAt
		result.ElapsedSeconds = closing.ElapsedSeconds
		result.ServerElapsedSeconds = closing.ServerElapsedSeconds
		result.ElapsedFlagged = closing.ElapsedFlagged
		return nil
	})
	if err != nil {
		return nil, s.txError("submission rolled back", err,
			zap.String("session_id", in.SessionID),
			zap.Int64("user_id", in.UserID),
			zap.Int("answers", len(answers)),
		)
	}

	if result.PerQuestion == nil {
		result.PerQuestion = []QuestionResult{}
	}
	if result.Skipped == nil {
		result.Skipped = []SkippedAnswer{}
	}
	if result.ElapsedFlagged {
		s.log.Warn("client elapsed time disagrees with server clock",
			zap.String("session_id", in.SessionID),
			zap.Int64("user_id", in.UserID),
			zap.Int("elapsed_seconds", result.ElapsedSeconds),
			zap.Int("server_elapsed_seconds", result.ServerElapsedSeconds),
		)
	}

	s.dispatchNotice(notify.SubmissionNotice{
		UserID:      in.UserID,
		SessionID:   in.SessionID,
		TestID:      in.TestID,
		SubmittedAt: result.SubmittedAt,
	})
	return result, nil
}

// SaveAnswer grades and stores one answer on an open session without
// closing it. Saving the same question again replaces the stored value, and
// a later SubmitAnswers overrides it for any question it carries.
func (s *Service) SaveAnswer(ctx context.Context, in SaveInput) (*QuestionResult, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if in.TestID <= 0 {
		return nil, fmt.Errorf("%w: test_id is required", ErrInvalidArgument)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	sub, err := ParseSubmission(in.Answer)
	if err != nil {
		return nil, err
	}

	var result *QuestionResult
	err = s.repo.RunInTx(ctx, func(tx TxRepository) error {
		sess, err := lockOpenSession(ctx, tx, in.UserID, in.TestID, in.SessionID)
		if err != nil {
			return err
		}
		q, err := resolveQuestion(ctx, tx, sess, in.Answer.QuestionID)
		if err != nil {
			var skip *skipError
			if errors.As(err, &skip) {
				return fmt.Errorf("%w: question %d: %s", ErrInvalidArgument, in.Answer.QuestionID, skip.reason)
			}
			return err
		}
		res, err := recordAnswer(ctx, tx, sess, q, sub, s.now().UTC())
		if err != nil {
			return err
		}
		result = &res
		return nil
	})
	if err != nil {
		return nil, s.txError("answer save rolled back", err,
			zap.String("session_id", in.SessionID),
			zap.Int64("user_id", in.UserID),
			zap.Int64("question_id", in.Answer.QuestionID),
		)
	}
	return result, nil
}

// txError passes caller-facing errors through and turns everything else
// into ErrStorageFailure.
func (s *Service) txError(msg string, err error, fields ...zap.Field) error {
	switch {
	case errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionForbidden),
		errors.Is(err, ErrInvalidArgument):
		return err
	}
	s.log.Error(msg, append(fields, zap.Error(err))...)
	return fmt.Errorf("%w: %v", ErrStorageFailure, err)
}

// skipError marks an answer that cannot be graded against the catalog.
type skipError struct {
	reason string
	cause  error
}

func (e *skipError) Error() string {
	return "answer skipped: " + e.reason
}

func lockOpenSession(ctx context.Context, tx TxRepository, userID, testID int64, sessionID string) (*Session, error) {
	sess, err := tx.LockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID || sess.TestID != testID {
		return nil, ErrSessionForbidden
	}
	if sess.Submitted() {
		return nil, ErrSessionClosed
	}
	return sess, nil
}

func resolveQuestion(ctx context.Context, tx TxRepository, sess *Session, questionID int64) (*question.Question, error) {
	q, err := tx.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, question.ErrQuestionNotFound) {
			return nil, &skipError{reason: SkipUnknownQuestion}
		}
		return nil, err
	}
	if q.TestID != sess.TestID {
		return nil, &skipError{reason: SkipOtherTest}
	}
	if err := q.Validate(); err != nil {
		return nil, &skipError{reason: SkipCatalogInvalid, cause: err}
	}
	return q, nil
}

func recordAnswer(ctx context.Context, tx TxRepository, sess *Session, q *question.Question, sub Submission, now time.Time) (QuestionResult, error) {
	ev := Evaluate(q, sub)
	if err := tx.UpsertAnswer(ctx, AnswerRecord{
		UserID:     sess.UserID,
		SessionID:  sess.ID,
		QuestionID: q.ID,
		Value:      sub,
		Outcome:    ev.Outcome,
		IsCorrect:  ev.IsCorrect,
		Marks:      ev.Marks,
		AnsweredAt: now,
	}); err != nil {
		return QuestionResult{}, err
	}
	return QuestionResult{
		QuestionID: q.ID,
		Outcome:    ev.Outcome,
		IsCorrect:  ev.IsCorrect,
		Marks:      ev.Marks,
		Reason:     ev.Reason,
	}, nil
}

func (s *Service) ListUserSessions(ctx context.Context, userID int64) ([]SessionSummary, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	items, err := s.repo.ListUserSessions(ctx, userID, 100)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return items, nil
}

func (s *Service) CountSubmittedSessions(ctx context.Context) (int64, error) {
	n, err := s.repo.CountSubmittedSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return n, nil
}

// Drain waits for in-flight submission notices. It gives up with ctx.Err()
// when ctx is done first.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) dispatchNotice(n notify.SubmissionNotice) {
	if s.notifier == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifySubmission(ctx, n); err != nil {
			s.log.Warn("submission notice failed",
				zap.String("session_id", n.SessionID),
				zap.Int64("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) skip(result *SubmissionResult, sess *Session, questionID int64, reason string, cause error) {
	fields := []zap.Field{
		zap.String("session_id", sess.ID),
		zap.Int64("user_id", sess.UserID),
		zap.Int64("question_id", questionID),
		zap.String("reason", reason),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.log.Warn("answer skipped", fields...)
	result.Skipped = append(result.Skipped, SkippedAnswer{QuestionID: questionID, Reason: reason})
}

func (s *Service) closeFor(sess *Session, now time.Time, clientElapsed int) SessionClose {
	serverElapsed := int(now.Sub(sess.StartedAt) / time.Second)
	if serverElapsed < 0 {
		serverElapsed = 0
	}
	diff := int64(clientElapsed) - int64(serverElapsed)
	if diff < 0 {
		diff = -diff
	}
	return SessionClose{
		SubmittedAt:          now,
		ElapsedSeconds:       clientElapsed,
		ServerElapsedSeconds: serverElapsed,
		ElapsedFlagged:       diff > int64(s.elapsedTolerance/time.Second),
	}
}

// validateSubmit resolves the wire answers into submissions. A question
// repeated within the batch keeps its first position and its last value.
func validateSubmit(in SubmitInput) ([]parsedAnswer, error) {
	if in.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	if in.TestID <= 0 {
		return nil, fmt.Errorf("%w: test_id is required", ErrInvalidArgument)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	if in.ElapsedSeconds < 0 || in.ElapsedSeconds > maxElapsedSeconds {
		return nil, fmt.Errorf("%w: elapsed_seconds must be between 0 and %d", ErrInvalidArgument, maxElapsedSeconds)
	}

	out := make([]parsedAnswer, 0, len(in.Answers))
	index := make(map[int64]int, len(in.Answers))
	for _, raw := range in.Answers {
		sub, err := ParseSubmission(raw)
		if err != nil {
			return nil, err
		}
		if i, ok := index[raw.QuestionID]; ok {
			out[i].value = sub
			continue
		}
		index[raw.QuestionID] = len(out)
		out = append(out, parsedAnswer{questionID: raw.QuestionID, value: sub})
	}
	return out, nil
}
