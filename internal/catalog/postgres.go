package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetTemplate(ctx context.Context, examID int64) (*ExamTemplate, error) {
	var t ExamTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, question_count, duration_minutes, max_attempts, is_visible
		FROM tryouts
		WHERE id = $1 AND is_visible = TRUE AND is_deleted = FALSE
	`, examID).Scan(&t.ID, &t.Title, &t.QuestionCount, &t.DurationMinutes, &t.MaxAttempts, &t.Visible)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load tryout template: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetQuestions(ctx context.Context, examID int64) ([]Question, error) {
	t, err := s.GetTemplate(ctx, examID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_no, prompt,
			choice_a, choice_b, choice_c, choice_d, choice_e,
			correct, COALESCE(explanation, '')
		FROM tryout_questions
		WHERE tryout_id = $1 AND is_deleted = FALSE
		ORDER BY question_no ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query tryout questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0, t.QuestionCount)
	for rows.Next() {
		var (
			q          Question
			a, b, c, d string
			e          string
		)
		if err := rows.Scan(&q.ID, &q.Ordinal, &q.Prompt, &a, &b, &c, &d, &e, &q.Correct, &q.Explanation); err != nil {
			return nil, fmt.Errorf("scan tryout question: %w", err)
		}
		q.ExamID = examID
		q.Correct = NormalizeLabel(q.Correct)
		q.Choices = map[string]string{"A": a, "B": b, "C": c, "D": d, "E": e}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tryout questions: %w", err)
	}
	if len(out) != t.QuestionCount {
		return nil, fmt.Errorf("%w: exam %d declares %d questions, found %d", ErrInvalidTemplate, examID, t.QuestionCount, len(out))
	}
	if err := ValidateQuestions(examID, out); err != nil {
		return nil, err
	}
	return out, nil
}

