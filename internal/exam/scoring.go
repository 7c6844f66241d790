package exam

import (
	"strings"

	"examportal/internal/question"
)

type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeUnanswered Outcome = "unanswered"
)

// MarkingPolicy holds the per-type grading constants. A NegativeDivisor of
// zero disables negative marking; otherwise a wrong answer costs
// marks/NegativeDivisor, truncated.
type MarkingPolicy struct {
	NegativeDivisor int
}

var MarkingPolicies = map[question.Type]MarkingPolicy{
	question.SingleChoice: {NegativeDivisor: 3},
	question.MultiChoice:  {NegativeDivisor: 0},
	question.Numeric:      {NegativeDivisor: 0},
}

// Penalty returns the non-negative deduction for a wrong answer.
func (p MarkingPolicy) Penalty(marks int) int {
	if p.NegativeDivisor <= 0 || marks <= 0 {
		return 0
	}
	return marks / p.NegativeDivisor
}

type Evaluation struct {
	Outcome   Outcome `json:"outcome"`
	IsCorrect *bool   `json:"is_correct"`
	Marks     int     `json:"marks_obtained"`
	Reason    string  `json:"reason"`
}

// Evaluate grades one submission. It is pure: no I/O and no clock.
func Evaluate(q *question.Question, sub Submission) Evaluation {
	if sub.Empty() {
		return Evaluation{Outcome: OutcomeUnanswered, IsCorrect: nil, Marks: 0, Reason: "unanswered"}
	}
	if sub.Kind != q.Type {
		return Evaluation{Outcome: OutcomeIncorrect, IsCorrect: boolPtr(false), Marks: 0, Reason: "kind_mismatch"}
	}

	var correct bool
	switch q.Type {
	case question.SingleChoice:
		correct = isSingleChoiceCorrect(q, sub.OptionID)
	case question.MultiChoice:
		correct = equalIDSet(sub.OptionIDs, q.CorrectOptionIDs())
	case question.Numeric:
		correct = strings.TrimSpace(sub.Text) == strings.TrimSpace(q.CanonicalAnswer)
	}

	if correct {
		return Evaluation{Outcome: OutcomeCorrect, IsCorrect: boolPtr(true), Marks: q.Marks, Reason: "correct"}
	}
	penalty := MarkingPolicies[q.Type].Penalty(q.Marks)
	return Evaluation{Outcome: OutcomeIncorrect, IsCorrect: boolPtr(false), Marks: -penalty, Reason: "wrong"}
}

func isSingleChoiceCorrect(q *question.Question, optionID int64) bool {
	ids := q.CorrectOptionIDs()
	return len(ids) == 1 && ids[0] == optionID
}

func equalIDSet(a, b []int64) bool {
	a = normalizeIDSet(a)
	b = normalizeIDSet(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func boolPtr(v bool) *bool {
	return &v
}
