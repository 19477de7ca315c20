// Package tryout runs timed exam attempts: starting and resuming attempts,
// recording answers, grading on submission or expiry, and ranking first
// attempts on the leaderboard.
package tryout

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusTimeUp    Status = "time_up"
	StatusSubmitted Status = "submitted"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusOngoing, StatusTimeUp, StatusSubmitted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown attempt status %q", s)
	}
}

// Gradable reports whether an attempt in this status may still be scored.
func (s Status) Gradable() bool {
	return s == StatusOngoing || s == StatusTimeUp
}

const (
	FinishManual      = "manual"
	FinishAutoExpired = "auto_expired"
)

type Outcome string

const (
	OutcomeCreated                Outcome = "created"
	OutcomeResumed                Outcome = "resumed"
	OutcomeCreatedAfterExpiry     Outcome = "created_after_expiry"
	OutcomeCreatedAfterCompletion Outcome = "created_after_completion"
)

// Attempt is the client-facing handle of one attempt.
type Attempt struct {
	ID          int64      `json:"id"`
	Token       string     `json:"token"`
	ExamID      int64      `json:"exam_id"`
	UserID      int64      `json:"user_id"`
	Ordinal     int        `json:"ordinal"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	Deadline    time.Time  `json:"deadline"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

type StartResult struct {
	Attempt Attempt `json:"attempt"`
	Outcome Outcome `json:"outcome"`
}

type JournalEntry struct {
	Ordinal   int        `json:"ordinal"`
	Selected  string     `json:"selected,omitempty"`
	Uncertain bool       `json:"uncertain"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type ScoreBreakdown struct {
	Correct   int     `json:"correct"`
	Incorrect int     `json:"incorrect"`
	Blank     int     `json:"blank"`
	Uncertain int     `json:"uncertain"`
	Total     int     `json:"total"`
	Score     float64 `json:"score"`
}

type ScoreResult struct {
	AttemptID    int64          `json:"attempt_id"`
	Token        string         `json:"token"`
	ExamID       int64          `json:"exam_id"`
	Ordinal      int            `json:"ordinal"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	FinishReason string         `json:"finish_reason"`
}

type RecordAnswerInput struct {
	Token     string
	UserID    int64
	Ordinal   int
	Selected  *string
	Uncertain *bool
}

type AttemptDetail struct {
	Attempt
	RemainingSecs int64           `json:"remaining_secs"`
	Answered      int             `json:"answered"`
	Uncertain     int             `json:"uncertain"`
	Total         int             `json:"total"`
	FinishReason  string          `json:"finish_reason,omitempty"`
	Score         *ScoreBreakdown `json:"score,omitempty"`
}

// AttemptQuestion is a question as shown inside an attempt. The answer key
// and explanation are only filled once the attempt is submitted.
type AttemptQuestion struct {
	Ordinal     int               `json:"ordinal"`
	Prompt      string            `json:"prompt"`
	Choices     map[string]string `json:"choices"`
	Selected    string            `json:"selected,omitempty"`
	Uncertain   bool              `json:"uncertain"`
	Correct     string            `json:"correct,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
}

type RemainingAttempts struct {
	ExamID    int64 `json:"exam_id"`
	Max       int   `json:"max_attempts"`
	Used      int   `json:"used"`
	Remaining int   `json:"remaining"`
}

type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	UserID         int64     `json:"user_id"`
	AttemptID      int64     `json:"attempt_id"`
	Ordinal        int       `json:"ordinal"`
	Score          float64   `json:"score"`
	Correct        int       `json:"correct"`
	Incorrect      int       `json:"incorrect"`
	Blank          int       `json:"blank"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type Statistics struct {
	ExamID           int64   `json:"exam_id"`
	TotalAttempts    int     `json:"total_attempts"`
	Participants     int     `json:"participants"`
	Submitted        int     `json:"submitted"`
	Unfinished       int     `json:"unfinished"`
	AverageScore     float64 `json:"average_score"`
	AverageCorrect   float64 `json:"average_correct"`
	AverageIncorrect float64 `json:"average_incorrect"`
	AverageBlank     float64 `json:"average_blank"`
}
