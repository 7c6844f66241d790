package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const excelSheet = "Report"

// ExportExcel renders a report as a single-sheet workbook: a summary block
// followed by one row per question.
func ExportExcel(rep *Report) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), excelSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	submitted := ""
	if rep.SubmittedAt != nil {
		submitted = rep.SubmittedAt.Format("2006-01-02 15:04:05")
	}
	summary := [][]any{
		{"session_id", rep.SessionID},
		{"test", rep.TestTitle},
		{"course", rep.CourseName},
		{"started_at", rep.StartedAt.Format("2006-01-02 15:04:05")},
		{"submitted_at", submitted},
		{"elapsed_time", rep.Summary.ElapsedTime},
		{"elapsed_flagged", rep.Summary.ElapsedFlagged},
		{"total_questions", rep.Summary.TotalQuestions},
		{"correct", rep.Summary.CorrectCount},
		{"incorrect", rep.Summary.IncorrectCount},
		{"unanswered", rep.Summary.UnansweredCount},
		{"right_marks", rep.Summary.RightMarks},
		{"negative_marks", rep.Summary.NegativeMarks},
		{"total_marks", rep.Summary.TotalMarksObtained},
		{"max_marks", rep.Summary.MaxMarks},
		{"overall_score", rep.Summary.OverallScore},
	}
	for i, values := range summary {
		if err := setRow(f, i+1, values); err != nil {
			return nil, err
		}
	}

	start := len(summary) + 2
	headers := []any{"no", "question_id", "type", "question", "marks", "outcome", "marks_obtained", "your_answer", "correct_answer", "solution"}
	if err := setRow(f, start, headers); err != nil {
		return nil, err
	}
	for i, q := range rep.Questions {
		values := []any{
			q.Position,
			q.QuestionID,
			string(q.Type),
			q.Text,
			q.Marks,
			string(q.Outcome),
			q.MarksObtained,
			strings.Join(q.UserAnswer, ", "),
			strings.Join(q.CorrectAnswer, ", "),
			q.Solution,
		}
		if err := setRow(f, start+1+i, values); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(excelSheet, "A", "C", 16)
	_ = f.SetColWidth(excelSheet, "D", "D", 48)
	_ = f.SetColWidth(excelSheet, "E", "J", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellValue(excelSheet, cell, v); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}
	}
	return nil
}
