package exam

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"examportal/internal/question"
)

// Submission is the answer value, resolved once at ingestion. Only the field
// matching Kind is meaningful.
type Submission struct {
	Kind      question.Type `json:"kind"`
	OptionID  int64         `json:"option_id,omitempty"`
	OptionIDs []int64       `json:"option_ids,omitempty"`
	Text      string        `json:"text,omitempty"`
}

// AnswerInput is one answer as it arrives over the wire.
type AnswerInput struct {
	QuestionID int64         `json:"question_id"`
	Kind       question.Type `json:"kind"`
	OptionID   *int64        `json:"option_id,omitempty"`
	OptionIDs  []int64       `json:"option_ids,omitempty"`
	Text       *string       `json:"text,omitempty"`
}

func SingleChoiceAnswer(optionID int64) Submission {
	return Submission{Kind: question.SingleChoice, OptionID: optionID}
}

func MultiChoiceAnswer(optionIDs ...int64) Submission {
	return Submission{Kind: question.MultiChoice, OptionIDs: normalizeIDSet(optionIDs)}
}

func NumericAnswer(text string) Submission {
	return Submission{Kind: question.Numeric, Text: text}
}

// ParseSubmission validates the wire shape against its declared kind.
// Fields belonging to another kind are rejected rather than guessed at.
func ParseSubmission(in AnswerInput) (Submission, error) {
	if in.QuestionID <= 0 {
		return Submission{}, fmt.Errorf("%w: question_id is required", ErrInvalidArgument)
	}

	switch in.Kind {
	case question.SingleChoice:
		if in.OptionIDs != nil || in.Text != nil {
			return Submission{}, fmt.Errorf("%w: question %d: single_choice takes option_id only", ErrInvalidArgument, in.QuestionID)
		}
		if in.OptionID == nil {
			return Submission{Kind: in.Kind}, nil
		}
		if *in.OptionID < 0 {
			return Submission{}, fmt.Errorf("%w: question %d: invalid option_id", ErrInvalidArgument, in.QuestionID)
		}
		return SingleChoiceAnswer(*in.OptionID), nil
	case question.MultiChoice:
		if in.OptionID != nil || in.Text != nil {
			return Submission{}, fmt.Errorf("%w: question %d: multi_choice takes option_ids only", ErrInvalidArgument, in.QuestionID)
		}
		for _, id := range in.OptionIDs {
			if id <= 0 {
				return Submission{}, fmt.Errorf("%w: question %d: invalid option id %d", ErrInvalidArgument, in.QuestionID, id)
			}
		}
		return MultiChoiceAnswer(in.OptionIDs...), nil
	case question.Numeric:
		if in.OptionID != nil || in.OptionIDs != nil {
			return Submission{}, fmt.Errorf("%w: question %d: numeric takes text only", ErrInvalidArgument, in.QuestionID)
		}
		if in.Text == nil {
			return Submission{Kind: in.Kind}, nil
		}
		return NumericAnswer(*in.Text), nil
	default:
		return Submission{}, fmt.Errorf("%w: question %d: unknown kind %q", ErrInvalidArgument, in.QuestionID, in.Kind)
	}
}

// Empty reports whether nothing was actually chosen or typed.
func (s Submission) Empty() bool {
	switch s.Kind {
	case question.SingleChoice:
		return s.OptionID == 0
	case question.MultiChoice:
		return len(s.OptionIDs) == 0
	case question.Numeric:
		return strings.TrimSpace(s.Text) == ""
	}
	return true
}

// Encode returns the stored JSON form of the submission.
func (s Submission) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}
	return b, nil
}

func DecodeSubmission(raw []byte) (Submission, error) {
	var s Submission
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Submission{}, fmt.Errorf("decode submission: %w", err)
	}
	return s, nil
}

func normalizeIDSet(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
