package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"examportal/internal/exam"
	"examportal/internal/question"
)

// StoredAnswer is an answer row as persisted at submission time.
type StoredAnswer struct {
	QuestionID int64
	Value      exam.Submission
	Outcome    exam.Outcome
	IsCorrect  *bool
	Marks      int
	AnsweredAt time.Time
}

// Snapshot is everything a report is derived from, read at one point in time.
type Snapshot struct {
	Session   exam.Session
	Test      question.Test
	Questions []question.Question
	Answers   []StoredAnswer
}

type QuestionView struct {
	Position      int           `json:"position"`
	QuestionID    int64         `json:"question_id"`
	Type          question.Type `json:"type"`
	Text          string        `json:"text"`
	Solution      string        `json:"solution,omitempty"`
	Marks         int           `json:"marks"`
	Answered      bool          `json:"answered"`
	Outcome       exam.Outcome  `json:"outcome"`
	IsCorrect     *bool         `json:"is_correct"`
	MarksObtained int           `json:"marks_obtained"`
	CorrectAnswer []string      `json:"correct_answer"`
	UserAnswer    []string      `json:"user_answer"`
	AnsweredAt    *time.Time    `json:"answered_at,omitempty"`
	CatalogError  string        `json:"catalog_error,omitempty"`
}

type Summary struct {
	TotalQuestions       int     `json:"total_questions"`
	CorrectCount         int     `json:"correct_count"`
	IncorrectCount       int     `json:"incorrect_count"`
	UnansweredCount      int     `json:"unanswered_count"`
	TotalMarksObtained   int     `json:"total_marks_obtained"`
	RightMarks           int     `json:"right_marks"`
	NegativeMarks        int     `json:"negative_marks"`
	MaxMarks             int     `json:"max_marks"`
	OverallScore         float64 `json:"overall_score"`
	ElapsedSeconds       int     `json:"elapsed_seconds"`
	ElapsedTime          string  `json:"elapsed_time"`
	ServerElapsedSeconds *int    `json:"server_elapsed_seconds,omitempty"`
	ElapsedFlagged       bool    `json:"elapsed_flagged"`
}

type Report struct {
	SessionID   string         `json:"session_id"`
	UserID      int64          `json:"user_id"`
	TestID      int64          `json:"test_id"`
	TestTitle   string         `json:"test_title"`
	CourseName  string         `json:"course_name"`
	StartedAt   time.Time      `json:"started_at"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	Submitted   bool           `json:"submitted"`
	Questions   []QuestionView `json:"questions"`
	Summary     Summary        `json:"summary"`
}

// Aggregate derives the report from a snapshot. It does no I/O, so the same
// snapshot always yields the same report.
func Aggregate(snap Snapshot) *Report {
	questions := make([]question.Question, len(snap.Questions))
	copy(questions, snap.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })

	byQuestion := make(map[int64]StoredAnswer, len(snap.Answers))
	for _, a := range snap.Answers {
		byQuestion[a.QuestionID] = a
	}

	rep := &Report{
		SessionID:   snap.Session.ID,
		UserID:      snap.Session.UserID,
		TestID:      snap.Session.TestID,
		TestTitle:   snap.Test.Title,
		CourseName:  snap.Test.CourseName,
		StartedAt:   snap.Session.StartedAt,
		SubmittedAt: snap.Session.SubmittedAt,
		Submitted:   snap.Session.Submitted(),
		Questions:   make([]QuestionView, 0, len(questions)),
	}

	sum := &rep.Summary
	for i := range questions {
		q := &questions[i]
		view := QuestionView{
			Position:      i + 1,
			QuestionID:    q.ID,
			Type:          q.Type,
			Text:          q.Text,
			Solution:      q.Solution,
			Marks:         q.Marks,
			Outcome:       exam.OutcomeUnanswered,
			CorrectAnswer: correctDisplay(q),
			UserAnswer:    []string{},
		}
		if err := q.Validate(); err != nil {
			view.CatalogError = err.Error()
		}

		if a, ok := byQuestion[q.ID]; ok {
			view.Outcome = a.Outcome
			view.IsCorrect = a.IsCorrect
			view.MarksObtained = a.Marks
			view.Answered = a.Outcome != exam.OutcomeUnanswered
			view.UserAnswer = userDisplay(q, a.Value)
			answeredAt := a.AnsweredAt
			view.AnsweredAt = &answeredAt
		}

		sum.MaxMarks += q.Marks
		sum.TotalMarksObtained += view.MarksObtained
		switch view.Outcome {
		case exam.OutcomeCorrect:
			sum.CorrectCount++
			if view.MarksObtained > 0 {
				sum.RightMarks += view.MarksObtained
			}
		case exam.OutcomeIncorrect:
			sum.IncorrectCount++
		}
		if view.MarksObtained < 0 {
			sum.NegativeMarks += -view.MarksObtained
		}
		rep.Questions = append(rep.Questions, view)
	}

	sum.TotalQuestions = len(questions)
	sum.UnansweredCount = sum.TotalQuestions - sum.CorrectCount - sum.IncorrectCount
	sum.OverallScore = overallScore(sum.TotalMarksObtained, sum.MaxMarks)

	if snap.Session.ElapsedSeconds != nil {
		sum.ElapsedSeconds = *snap.Session.ElapsedSeconds
	}
	sum.ElapsedTime = FormatElapsed(sum.ElapsedSeconds)
	sum.ServerElapsedSeconds = snap.Session.ServerElapsedSeconds
	sum.ElapsedFlagged = snap.Session.ElapsedFlagged
	return rep
}

// FormatElapsed renders seconds as HH:MM:SS. Hours are not wrapped at 24.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// overallScore is a percentage, unrounded.
func overallScore(obtained, maxMarks int) float64 {
	if maxMarks == 0 {
		return 0
	}
	return float64(obtained) / float64(maxMarks) * 100
}

func correctDisplay(q *question.Question) []string {
	if q.Type == question.Numeric {
		if v := strings.TrimSpace(q.CanonicalAnswer); v != "" {
			return []string{v}
		}
		return []string{}
	}
	out := make([]string, 0, 1)
	for _, o := range q.Options {
		if o.IsCorrect {
			out = append(out, o.Text)
		}
	}
	return out
}

func userDisplay(q *question.Question, sub exam.Submission) []string {
	switch sub.Kind {
	case question.SingleChoice:
		if sub.OptionID == 0 {
			return []string{}
		}
		return []string{optionText(q, sub.OptionID)}
	case question.MultiChoice:
		out := make([]string, 0, len(sub.OptionIDs))
		for _, id := range sub.OptionIDs {
			out = append(out, optionText(q, id))
		}
		return out
	case question.Numeric:
		if v := strings.TrimSpace(sub.Text); v != "" {
			return []string{v}
		}
	}
	return []string{}
}

func optionText(q *question.Question, id int64) string {
	if o, ok := q.Option(id); ok {
		return o.Text
	}
	return fmt.Sprintf("option #%d", id)
}
