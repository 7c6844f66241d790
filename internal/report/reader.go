package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"examportal/internal/exam"
	"examportal/internal/question"
)

type Reader interface {
	// Snapshot reads the session and everything its report needs. It
	// returns ErrNotFound when the session does not exist.
	Snapshot(ctx context.Context, sessionID string) (*Snapshot, error)
}

type SQLReader struct {
	db *sql.DB
}

func NewSQLReader(db *sql.DB) *SQLReader {
	return &SQLReader{db: db}
}

// Snapshot runs every read in one read-only REPEATABLE READ transaction so
// a concurrent submission is seen either entirely or not at all.
func (r *SQLReader) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin report tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := loadSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Session: *sess}
	test, err := question.LoadTest(ctx, tx, sess.TestID)
	switch {
	case err == nil:
		snap.Test = *test
	case errors.Is(err, question.ErrTestNotFound):
		snap.Test = question.Test{ID: sess.TestID}
	default:
		return nil, err
	}

	snap.Questions, err = question.LoadTestQuestions(ctx, tx, sess.TestID)
	if err != nil {
		return nil, err
	}
	snap.Answers, err = loadAnswers(ctx, tx, sess.ID, sess.UserID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit report tx: %w", err)
	}
	return snap, nil
}

func loadSession(ctx context.Context, tx *sql.Tx, sessionID string) (*exam.Session, error) {
	var (
		s             exam.Session
		submittedAt   sql.NullTime
		elapsed       sql.NullInt64
		serverElapsed sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, test_id, started_at, submitted_at, elapsed_seconds, server_elapsed_seconds, elapsed_flagged
		FROM test_sessions
		WHERE id = $1
	`, sessionID).Scan(&s.ID, &s.UserID, &s.TestID, &s.StartedAt, &submittedAt, &elapsed, &serverElapsed, &s.ElapsedFlagged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load report session: %w", err)
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		s.SubmittedAt = &t
	}
	if elapsed.Valid {
		v := int(elapsed.Int64)
		s.ElapsedSeconds = &v
	}
	if serverElapsed.Valid {
		v := int(serverElapsed.Int64)
		s.ServerElapsedSeconds = &v
	}
	return &s, nil
}

func loadAnswers(ctx context.Context, tx *sql.Tx, sessionID string, userID int64) ([]StoredAnswer, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT question_id, submitted_value, outcome, is_correct, marks_obtained, answered_at
		FROM answers
		WHERE session_id = $1 AND user_id = $2
		ORDER BY question_id ASC
	`, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("query report answers: %w", err)
	}
	defer rows.Close()

	out := make([]StoredAnswer, 0)
	for rows.Next() {
		var (
			a         StoredAnswer
			raw       []byte
			outcome   string
			isCorrect sql.NullBool
		)
		if err := rows.Scan(&a.QuestionID, &raw, &outcome, &isCorrect, &a.Marks, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan report answer: %w", err)
		}
		a.Value, err = exam.DecodeSubmission(raw)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", a.QuestionID, err)
		}
		a.Outcome = exam.Outcome(outcome)
		if isCorrect.Valid {
			v := isCorrect.Bool
			a.IsCorrect = &v
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report answers: %w", err)
	}
	return out, nil
}
