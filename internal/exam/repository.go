package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"examportal/internal/question"
)

type Session struct {
	ID                   string     `json:"session_id"`
	UserID               int64      `json:"user_id"`
	TestID               int64      `json:"test_id"`
	StartedAt            time.Time  `json:"started_at"`
	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	ElapsedSeconds       *int       `json:"elapsed_seconds,omitempty"`
	ServerElapsedSeconds *int       `json:"server_elapsed_seconds,omitempty"`
	ElapsedFlagged       bool       `json:"elapsed_flagged"`
}

func (s *Session) Submitted() bool {
	return s.SubmittedAt != nil
}

type AnswerRecord struct {
	UserID     int64
	SessionID  string
	QuestionID int64
	Value      Submission
	Outcome    Outcome
	IsCorrect  *bool
	Marks      int
	AnsweredAt time.Time
}

type SessionClose struct {
	SubmittedAt          time.Time
	ElapsedSeconds       int
	ServerElapsedSeconds int
	ElapsedFlagged       bool
}

type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	TestID         int64     `json:"test_id"`
	TestTitle      string    `json:"test_title"`
	StartedAt      time.Time `json:"started_at"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	ElapsedFlagged bool      `json:"elapsed_flagged"`
	MarksObtained  int       `json:"marks_obtained"`
}

// Repository is the durable store behind the session and submission flows.
type Repository interface {
	TestExists(ctx context.Context, testID int64) (bool, error)
	// StartOrResume inserts the session or refreshes started_at of an
	// unsubmitted one. It returns ErrSessionClosed or ErrSessionForbidden
	// when the existing row cannot be resumed by this caller.
	StartOrResume(ctx context.Context, sess Session) (*Session, error)
	RunInTx(ctx context.Context, fn func(tx TxRepository) error) error
	ListUserSessions(ctx context.Context, userID int64, limit int) ([]SessionSummary, error)
	CountSubmittedSessions(ctx context.Context) (int64, error)
}

// TxRepository is the write surface available inside one submission.
type TxRepository interface {
	LockSession(ctx context.Context, sessionID string) (*Session, error)
	GetQuestion(ctx context.Context, questionID int64) (*question.Question, error)
	UpsertAnswer(ctx context.Context, a AnswerRecord) error
	CloseSession(ctx context.Context, sessionID string, c SessionClose) error
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const sessionColumns = `id, user_id, test_id, started_at, submitted_at, elapsed_seconds, server_elapsed_seconds, elapsed_flagged`

func (r *SQLRepository) TestExists(ctx context.Context, testID int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tests WHERE id = $1)`, testID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check test exists: %w", err)
	}
	return exists, nil
}

func (r *SQLRepository) StartOrResume(ctx context.Context, sess Session) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO test_sessions (id, user_id, test_id, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			started_at = EXCLUDED.started_at
		WHERE test_sessions.submitted_at IS NULL
		  AND test_sessions.user_id = EXCLUDED.user_id
		  AND test_sessions.test_id = EXCLUDED.test_id
		RETURNING `+sessionColumns, sess.ID, sess.UserID, sess.TestID, sess.StartedAt)

	out, err := scanSession(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("start session: %w", err)
	}

	// Conflict row was not updated: find out why.
	existing, err := loadSession(ctx, r.db, sess.ID, false)
	if err != nil {
		return nil, err
	}
	if existing.UserID != sess.UserID || existing.TestID != sess.TestID {
		return nil, ErrSessionForbidden
	}
	return nil, ErrSessionClosed
}

func (r *SQLRepository) RunInTx(ctx context.Context, fn func(tx TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submit tx: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListUserSessions(ctx context.Context, userID int64, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			s.id,
			s.test_id,
			COALESCE(t.title, ''),
			s.started_at,
			s.submitted_at,
			COALESCE(s.elapsed_seconds, 0),
			s.elapsed_flagged,
			COALESCE(SUM(a.marks_obtained), 0)
		FROM test_sessions s
		LEFT JOIN tests t ON t.id = s.test_id
		LEFT JOIN answers a ON a.session_id = s.id
		WHERE s.user_id = $1
		  AND s.submitted_at IS NOT NULL
		GROUP BY s.id, t.title
		ORDER BY s.submitted_at DESC, s.id ASC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query user sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var it SessionSummary
		if err := rows.Scan(&it.SessionID, &it.TestID, &it.TestTitle, &it.StartedAt, &it.SubmittedAt, &it.ElapsedSeconds, &it.ElapsedFlagged, &it.MarksObtained); err != nil {
			return nil, fmt.Errorf("scan user session: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user sessions: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) CountSubmittedSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_sessions WHERE submitted_at IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submitted sessions: %w", err)
	}
	return n, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) LockSession(ctx context.Context, sessionID string) (*Session, error) {
	return loadSession(ctx, t.tx, sessionID, true)
}

func (t *sqlTx) GetQuestion(ctx context.Context, questionID int64) (*question.Question, error) {
	return question.LoadQuestion(ctx, t.tx, questionID)
}

func (t *sqlTx) UpsertAnswer(ctx context.Context, a AnswerRecord) error {
	value, err := a.Value.Encode()
	if err != nil {
		return err
	}
	var isCorrect interface{}
	if a.IsCorrect != nil {
		isCorrect = *a.IsCorrect
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO answers (
			user_id,
			session_id,
			question_id,
			submitted_value,
			outcome,
			is_correct,
			marks_obtained,
			answered_at
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			submitted_value = EXCLUDED.submitted_value,
			outcome = EXCLUDED.outcome,
			is_correct = EXCLUDED.is_correct,
			marks_obtained = EXCLUDED.marks_obtained,
			answered_at = EXCLUDED.answered_at
	`, a.UserID, a.SessionID, a.QuestionID, value, string(a.Outcome), isCorrect, a.Marks, a.AnsweredAt)
	if err != nil {
		return fmt.Errorf("upsert answer %d: %w", a.QuestionID, err)
	}
	return nil
}

func (t *sqlTx) CloseSession(ctx context.Context, sessionID string, c SessionClose) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE test_sessions
		SET submitted_at = $2,
			elapsed_seconds = $3,
			server_elapsed_seconds = $4,
			elapsed_flagged = $5
		WHERE id = $1
		  AND submitted_at IS NULL
	`, sessionID, c.SubmittedAt, c.ElapsedSeconds, c.ServerElapsedSeconds, c.ElapsedFlagged)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session rows: %w", err)
	}
	if n != 1 {
		return ErrSessionClosed
	}
	return nil
}

func loadSession(ctx context.Context, q queryable, sessionID string, forUpdate bool) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM test_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	out, err := scanSession(q.QueryRowContext(ctx, query, sessionID))
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return out, err
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		s             Session
		submittedAt   sql.NullTime
		elapsed       sql.NullInt64
		serverElapsed sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.TestID, &s.StartedAt, &submittedAt, &elapsed, &serverElapsed, &s.ElapsedFlagged); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
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
