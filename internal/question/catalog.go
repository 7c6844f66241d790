package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type Type string

const (
	SingleChoice Type = "single_choice"
	MultiChoice  Type = "multi_choice"
	Numeric      Type = "numeric"
)

func (t Type) Valid() bool {
	switch t {
	case SingleChoice, MultiChoice, Numeric:
		return true
	}
	return false
}

var (
	ErrQuestionNotFound = errors.New("question not found")
	ErrTestNotFound     = errors.New("test not found")
	ErrInvalidCatalog   = errors.New("question violates catalog invariant")
)

type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct"`
}

// Question owns its options. CanonicalAnswer is only meaningful for Numeric.
type Question struct {
	ID              int64    `json:"id"`
	TestID          int64    `json:"test_id"`
	Type            Type     `json:"type"`
	Text            string   `json:"text"`
	Solution        string   `json:"solution,omitempty"`
	Marks           int      `json:"marks"`
	CanonicalAnswer string   `json:"canonical_answer,omitempty"`
	Options         []Option `json:"options"`
}

// Validate checks the per-type correct-answer invariant.
func (q *Question) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("%w: question %d has unknown type %q", ErrInvalidCatalog, q.ID, q.Type)
	}
	if q.Marks <= 0 {
		return fmt.Errorf("%w: question %d has non-positive marks", ErrInvalidCatalog, q.ID)
	}

	correct := len(q.CorrectOptionIDs())
	switch q.Type {
	case SingleChoice:
		if correct != 1 {
			return fmt.Errorf("%w: single choice question %d has %d correct options", ErrInvalidCatalog, q.ID, correct)
		}
	case MultiChoice:
		if correct == 0 {
			return fmt.Errorf("%w: multi choice question %d has no correct option", ErrInvalidCatalog, q.ID)
		}
	case Numeric:
		if strings.TrimSpace(q.CanonicalAnswer) == "" {
			return fmt.Errorf("%w: numeric question %d has no canonical answer", ErrInvalidCatalog, q.ID)
		}
	}
	return nil
}

// CorrectOptionIDs returns correct option ids in option order.
func (q *Question) CorrectOptionIDs() []int64 {
	out := make([]int64, 0, 1)
	for _, o := range q.Options {
		if o.IsCorrect {
			out = append(out, o.ID)
		}
	}
	return out
}

func (q *Question) Option(id int64) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

type Test struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	CourseName string `json:"course_name"`
}

// Queryable is satisfied by both *sql.DB and *sql.Tx, so catalog reads can
// join a caller's transaction.
type Queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// LoadQuestion reads one question with its options.
func LoadQuestion(ctx context.Context, q Queryable, questionID int64) (*Question, error) {
	out := &Question{}
	var (
		solution  sql.NullString
		canonical sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, test_id, type, text, solution, marks, canonical_answer
		FROM questions
		WHERE id = $1
	`, questionID).Scan(&out.ID, &out.TestID, &out.Type, &out.Text, &solution, &out.Marks, &canonical)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	out.Solution = solution.String
	out.CanonicalAnswer = canonical.String

	opts, err := loadOptions(ctx, q, `
		SELECT id, question_id, text, is_correct
		FROM options
		WHERE question_id = $1
		ORDER BY id ASC
	`, questionID)
	if err != nil {
		return nil, err
	}
	out.Options = opts[questionID]
	return out, nil
}

// LoadTestQuestions reads every question of a test ordered by id, with
// options attached.
func LoadTestQuestions(ctx context.Context, q Queryable, testID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, test_id, type, text, solution, marks, canonical_answer
		FROM questions
		WHERE test_id = $1
		ORDER BY id ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query test questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var (
			it        Question
			solution  sql.NullString
			canonical sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.TestID, &it.Type, &it.Text, &solution, &it.Marks, &canonical); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		it.Solution = solution.String
		it.CanonicalAnswer = canonical.String
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	opts, err := loadOptions(ctx, q, `
		SELECT o.id, o.question_id, o.text, o.is_correct
		FROM options o
		JOIN questions q ON q.id = o.question_id
		WHERE q.test_id = $1
		ORDER BY o.question_id ASC, o.id ASC
	`, testID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Options = opts[out[i].ID]
		if out[i].Options == nil {
			out[i].Options = []Option{}
		}
	}
	return out, nil
}

func loadOptions(ctx context.Context, q Queryable, query string, arg int64) (map[int64][]Option, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Option)
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[o.QuestionID] = append(out[o.QuestionID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return out, nil
}

func LoadTest(ctx context.Context, q Queryable, testID int64) (*Test, error) {
	t := &Test{}
	err := q.QueryRowContext(ctx, `
		SELECT id, title, course_name
		FROM tests
		WHERE id = $1
	`, testID).Scan(&t.ID, &t.Title, &t.CourseName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	return t, nil
}
