package tryout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type attemptRow struct {
	ID        int64
	Token     string
	ExamID    int64
	UserID    int64
	Ordinal   int
	Status    Status
	StartedAt time.Time
	Deadline  time.Time

	Submitted      sql.NullTime
	FinishReason   sql.NullString
	TotalCorrect   sql.NullInt64
	TotalIncorrect sql.NullInt64
	TotalBlank     sql.NullInt64
	TotalUncertain sql.NullInt64
	Score          sql.NullFloat64
}

const attemptColumns = `
	id,
	token,
	tryout_id,
	user_id,
	attempt_no,
	status,
	started_at,
	deadline,
	submitted_at,
	finish_reason,
	total_correct,
	total_incorrect,
	total_blank,
	total_uncertain,
	score`

func scanAttempt(row *sql.Row) (*attemptRow, error) {
	r := &attemptRow{}
	var status string
	err := row.Scan(
		&r.ID,
		&r.Token,
		&r.ExamID,
		&r.UserID,
		&r.Ordinal,
		&status,
		&r.StartedAt,
		&r.Deadline,
		&r.Submitted,
		&r.FinishReason,
		&r.TotalCorrect,
		&r.TotalIncorrect,
		&r.TotalBlank,
		&r.TotalUncertain,
		&r.Score,
	)
	if err != nil {
		return nil, err
	}
	if r.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *attemptRow) handle() (Attempt, error) {
	var a Attempt
	if err := copier.Copy(&a, r); err != nil {
		return Attempt{}, fmt.Errorf("copy attempt handle: %w", err)
	}
	if r.Submitted.Valid {
		t := r.Submitted.Time
		a.SubmittedAt = &t
	}
	return a, nil
}

// breakdown is nil until the attempt has been graded.
func (r *attemptRow) breakdown() *ScoreBreakdown {
	if r.Status != StatusSubmitted || !r.Score.Valid {
		return nil
	}
	b := &ScoreBreakdown{
		Correct:   int(r.TotalCorrect.Int64),
		Incorrect: int(r.TotalIncorrect.Int64),
		Blank:     int(r.TotalBlank.Int64),
		Uncertain: int(r.TotalUncertain.Int64),
		Score:     r.Score.Float64,
	}
	b.Total = b.Correct + b.Incorrect + b.Blank
	return b
}

func (r *attemptRow) scoreResult() *ScoreResult {
	b := r.breakdown()
	if b == nil {
		return nil
	}
	return &ScoreResult{
		AttemptID:    r.ID,
		Token:        r.Token,
		ExamID:       r.ExamID,
		Ordinal:      r.Ordinal,
		Breakdown:    *b,
		SubmittedAt:  r.Submitted.Time,
		FinishReason: r.FinishReason.String,
	}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowLock string

const (
	lockNone   rowLock = ""
	lockShare  rowLock = "FOR SHARE"
	lockUpdate rowLock = "FOR UPDATE"
)

func loadAttemptByToken(ctx context.Context, q queryable, token string, lock rowLock) (*attemptRow, error) {
	parsed, err := uuid.Parse(token)
	if err != nil {
		return nil, ErrAttemptNotFound
	}

	row, err := scanAttempt(q.QueryRowContext(ctx, `
		SELECT`+attemptColumns+`
		FROM attempts
		WHERE token = $1 AND NOT is_deleted
		`+string(lock), parsed.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return row, nil
}

// loadLatestAttempt returns nil when the pair has no live attempt.
func loadLatestAttempt(ctx context.Context, q queryable, examID, userID int64) (*attemptRow, error) {
	row, err := scanAttempt(q.QueryRowContext(ctx, `
		SELECT`+attemptColumns+`
		FROM attempts
		WHERE tryout_id = $1 AND user_id = $2 AND NOT is_deleted
		ORDER BY attempt_no DESC
		LIMIT 1
		FOR UPDATE
	`, examID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest attempt: %w", err)
	}
	return row, nil
}

// usedOrdinal counts soft-deleted attempts too; deleting an attempt does not
// give the attempt back.
func usedOrdinal(ctx context.Context, q queryable, examID, userID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(attempt_no), 0)
		FROM attempts
		WHERE tryout_id = $1 AND user_id = $2
	`, examID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("load used attempts: %w", err)
	}
	return n, nil
}

// lockPair serializes start calls of one (user, exam) pair until the
// transaction ends.
func lockPair(ctx context.Context, tx *sql.Tx, examID, userID int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pairLockKey(examID, userID)); err != nil {
		return fmt.Errorf("lock attempt pair: %w", err)
	}
	return nil
}

func pairLockKey(examID, userID int64) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "tryout:%d:user:%d", examID, userID)
	return int64(h.Sum64())
}

func insertAttempt(ctx context.Context, tx *sql.Tx, examID, userID int64, ordinal int, startedAt, deadline time.Time, questions int) (*attemptRow, error) {
	row, err := scanAttempt(tx.QueryRowContext(ctx, `
		INSERT INTO attempts (
			token,
			tryout_id,
			user_id,
			attempt_no,
			status,
			started_at,
			deadline
		) VALUES ($1, $2, $3, $4, 'ongoing', $5, $6)
		RETURNING`+attemptColumns,
		uuid.NewString(), examID, userID, ordinal, startedAt, deadline))
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_no)
		SELECT $1, g
		FROM generate_series(1, $2::int) AS g
	`, row.ID, questions); err != nil {
		return nil, fmt.Errorf("create answer journal: %w", err)
	}
	return row, nil
}

func loadJournal(ctx context.Context, q queryable, attemptID int64) ([]JournalEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question_no, selected, is_uncertain, updated_at
		FROM attempt_answers
		WHERE attempt_id = $1
		ORDER BY question_no
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answer journal: %w", err)
	}
	defer rows.Close()

	out := make([]JournalEntry, 0)
	for rows.Next() {
		var (
			e         JournalEntry
			selected  sql.NullString
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&e.Ordinal, &selected, &e.Uncertain, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Selected = selected.String
		if updatedAt.Valid {
			t := updatedAt.Time
			e.UpdatedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer journal: %w", err)
	}
	return out, nil
}

type journalWrite struct {
	SetSelected bool
	Selected    sql.NullString
	Uncertain   sql.NullBool
}

// updateJournalEntry touches exactly one (attempt, ordinal) row. It reports
// false when the ordinal is not part of the journal.
func updateJournalEntry(ctx context.Context, q queryable, attemptID int64, ordinal int, w journalWrite, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE attempt_answers
		SET selected = CASE WHEN $3 THEN $4 ELSE selected END,
			is_uncertain = COALESCE($5, is_uncertain),
			updated_at = $6
		WHERE attempt_id = $1 AND question_no = $2
	`, attemptID, ordinal, w.SetSelected, w.Selected, w.Uncertain, now)
	if err != nil {
		return false, fmt.Errorf("update journal entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update journal entry rows: %w", err)
	}
	return n == 1, nil
}

// markTimeUp moves an ongoing attempt to time_up. It is a single statement so
// it commits on its own.
func markTimeUp(ctx context.Context, q queryable, attemptID int64) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'time_up',
			updated_at = now()
		WHERE id = $1 AND status = 'ongoing'
	`, attemptID); err != nil {
		return fmt.Errorf("mark attempt time up: %w", err)
	}
	return nil
}

// writeGrade stores the score and flips the status to submitted, guarded on
// the status still being gradable. It reports false if another writer won.
func writeGrade(ctx context.Context, q queryable, attemptID int64, b ScoreBreakdown, submittedAt time.Time, reason string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'submitted',
			submitted_at = $2,
			finish_reason = $3,
			total_correct = $4,
			total_incorrect = $5,
			total_blank = $6,
			total_uncertain = $7,
			score = $8,
			updated_at = now()
		WHERE id = $1 AND status IN ('ongoing', 'time_up')
	`, attemptID, submittedAt, reason, b.Correct, b.Incorrect, b.Blank, b.Uncertain, b.Score)
	if err != nil {
		return false, fmt.Errorf("write attempt grade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write attempt grade rows: %w", err)
	}
	return n == 1, nil
}
