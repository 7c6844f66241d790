package question

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jinzhu/copier"
)

// Service is the read-only catalog used by handlers and notifications.
// Authoring lives elsewhere; nothing here writes.
type Service struct {
	db *sql.DB
}

// CandidateQuestion is what a candidate may see while taking a test: no
// correctness flags, canonical answers, or solutions.
type CandidateQuestion struct {
	ID      int64             `json:"id"`
	TestID  int64             `json:"test_id"`
	Type    Type              `json:"type"`
	Text    string            `json:"text"`
	Marks   int               `json:"marks"`
	Choices []CandidateOption `json:"options"`
}

type CandidateOption struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListCandidateQuestions(ctx context.Context, testID int64) ([]CandidateQuestion, error) {
	items, err := LoadTestQuestions(ctx, s.db, testID)
	if err != nil {
		return nil, err
	}
	return ToCandidateView(items)
}

// TestTitle satisfies notify.TestLookup.
func (s *Service) TestTitle(ctx context.Context, testID int64) (string, string, error) {
	t, err := LoadTest(ctx, s.db, testID)
	if err != nil {
		return "", "", err
	}
	return t.Title, t.CourseName, nil
}

func ToCandidateView(items []Question) ([]CandidateQuestion, error) {
	out := make([]CandidateQuestion, 0, len(items))
	for i := range items {
		var cq CandidateQuestion
		if err := copier.Copy(&cq, &items[i]); err != nil {
			return nil, fmt.Errorf("project question %d: %w", items[i].ID, err)
		}
		cq.Choices = make([]CandidateOption, 0, len(items[i].Options))
		if err := copier.Copy(&cq.Choices, &items[i].Options); err != nil {
			return nil, fmt.Errorf("project options of question %d: %w", items[i].ID, err)
		}
		out = append(out, cq)
	}
	return out, nil
}
