// Package catalog is the read-only exam template store consumed by the tryout engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("exam template not found")
	ErrInvalidTemplate = errors.New("exam template is inconsistent")
)

// Choice labels, in display order.
var Labels = []string{"A", "B", "C", "D", "E"}

type ExamTemplate struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	QuestionCount   int    `json:"question_count"`
	DurationMinutes int    `json:"duration_minutes"`
	MaxAttempts     int    `json:"max_attempts"`
	Visible         bool   `json:"visible"`
}

type Question struct {
	ID          int64             `json:"id"`
	ExamID      int64             `json:"exam_id"`
	Ordinal     int               `json:"ordinal"`
	Prompt      string            `json:"prompt"`
	Choices     map[string]string `json:"choices"`
	Correct     string            `json:"-"`
	Explanation string            `json:"-"`
}

// Store exposes exam templates and their ordered question lists. Both calls
// must be free of side effects.
type Store interface {
	GetTemplate(ctx context.Context, examID int64) (*ExamTemplate, error)
	GetQuestions(ctx context.Context, examID int64) ([]Question, error)
}

// IsLabel reports whether s is one of the five choice labels (already normalized).
func IsLabel(s string) bool {
	for _, l := range Labels {
		if s == l {
			return true
		}
	}
	return false
}

// NormalizeLabel trims and upper-cases a choice label.
func NormalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidateQuestions checks an ordered question list: ordinals dense from 1,
// a valid answer key, and exactly the five choice labels.
func ValidateQuestions(examID int64, questions []Question) error {
	for i, q := range questions {
		if q.Ordinal != i+1 {
			return fmt.Errorf("%w: exam %d: question ordinals must be dense from 1, got %d at position %d", ErrInvalidTemplate, examID, q.Ordinal, i+1)
		}
	}
	for _, q := range questions {
		if !IsLabel(NormalizeLabel(q.Correct)) {
			return fmt.Errorf("%w: exam %d question %d: invalid correct label %q", ErrInvalidTemplate, examID, q.Ordinal, q.Correct)
		}
		if len(q.Choices) != len(Labels) {
			return fmt.Errorf("%w: exam %d question %d: expected choices %v, got %d", ErrInvalidTemplate, examID, q.Ordinal, Labels, len(q.Choices))
		}
		for _, l := range Labels {
			if _, ok := q.Choices[l]; !ok {
				return fmt.Errorf("%w: exam %d question %d: missing choice %s", ErrInvalidTemplate, examID, q.Ordinal, l)
			}
		}
	}
	return nil
}
