package tryout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/gunjou/api-ukai-syndrome/internal/cache"
	"github.com/gunjou/api-ukai-syndrome/internal/catalog"
	"github.com/gunjou/api-ukai-syndrome/internal/db"
)

// Notifier is told about every attempt that has just been graded.
type Notifier interface {
	AttemptGraded(examID, userID int64, ordinal int)
}

type Service struct {
	db       *sql.DB
	catalog  catalog.Store
	cache    cache.Cache
	cacheTTL time.Duration
	notifier Notifier
	now      func() time.Time
	group    singleflight.Group
	// rank computes the leaderboard from storage.
	rank     func(ctx context.Context, examID int64) ([]LeaderboardEntry, error)
}

type Option func(*Service)

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *sql.DB, store catalog.Store, opts ...Option) *Service {
	s := &Service{
		db:       db,
		catalog:  store,
		cache:    cache.Nop{},
		cacheTTL: time.Minute,
		now:      time.Now,
	}
	s.rank = s.rankFromJournal
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock truncates to the precision Postgres stores, so values returned before
// and after a round trip compare equal.
func (s *Service) clock() time.Time {
	return s.now().Truncate(time.Microsecond)
}

func (s *Service) template(ctx context.Context, examID int64) (*catalog.ExamTemplate, error) {
	t, err := s.catalog.GetTemplate(ctx, examID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("load tryout: %w", err)
	}
	return t, nil
}

func (s *Service) questions(ctx context.Context, examID int64) ([]catalog.Question, error) {
	qs, err := s.catalog.GetQuestions(ctx, examID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("load tryout questions: %w", err)
	}
	// The journal and the answer keys are both indexed by ordinal 1..N.
	if err := catalog.ValidateQuestions(examID, qs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateInvalid, err)
	}
	return qs, nil
}

func (s *Service) StartAttempt(ctx context.Context, examID, userID int64) (*StartResult, error) {
	res, err := s.startAttempt(ctx, examID, userID)
	return res, storageErr("start attempt", err)
}

func (s *Service) startAttempt(ctx context.Context, examID, userID int64) (*StartResult, error) {
	tmpl, err := s.template(ctx, examID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions(ctx, examID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockPair(ctx, tx, examID, userID); err != nil {
		return nil, err
	}
	latest, err := loadLatestAttempt(ctx, tx, examID, userID)
	if err != nil {
		return nil, err
	}
	used, err := usedOrdinal(ctx, tx, examID, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var prior *priorAttempt
	if latest != nil {
		prior = &priorAttempt{Status: latest.Status, Deadline: latest.Deadline}
	}
	plan, planErr := decideStart(prior, used, tmpl.MaxAttempts, now)

	if planErr == nil && plan.Outcome == OutcomeResumed {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit resume: %w", err)
		}
		handle, err := latest.handle()
		if err != nil {
			return nil, err
		}
		return &StartResult{Attempt: handle, Outcome: OutcomeResumed}, nil
	}

	var settled *attemptRow
	if plan.SettleLatest {
		settled, err = s.gradeLocked(ctx, tx, latest, answerKeys(questions), FinishAutoExpired, now)
		if err != nil {
			return nil, err
		}
	}

	if planErr != nil {
		if settled == nil {
			return nil, planErr
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit settle: %w", err)
		}
		s.afterGrade(ctx, settled)
		return nil, planErr
	}

	deadline := now.Add(time.Duration(tmpl.DurationMinutes) * time.Minute)
	created, err := insertAttempt(ctx, tx, examID, userID, plan.Ordinal, now, deadline, len(questions))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			log.Warn().Int64("exam_id", examID).Int64("user_id", userID).Msg("concurrent attempt start collided")
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start: %w", err)
	}
	if settled != nil {
		s.afterGrade(ctx, settled)
	}

	log.Info().
		Int64("exam_id", examID).
		Int64("user_id", userID).
		Int("ordinal", created.Ordinal).
		Str("outcome", string(plan.Outcome)).
		Msg("attempt started")

	handle, err := created.handle()
	if err != nil {
		return nil, err
	}
	return &StartResult{Attempt: handle, Outcome: plan.Outcome}, nil
}

func (s *Service) RecordAnswer(ctx context.Context, in RecordAnswerInput) error {
	return storageErr("record answer", s.recordAnswer(ctx, in))
}

func (s *Service) recordAnswer(ctx context.Context, in RecordAnswerInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin answer tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := loadAttemptByToken(ctx, tx, in.Token, lockShare)
	if err != nil {
		return err
	}
	if row.UserID != in.UserID {
		return ErrForbidden
	}
	if row.Status != StatusOngoing {
		return ErrInvalidState
	}
	now := s.clock()
	if now.After(row.Deadline) {
		// The share lock must be released before the status can change.
		_ = tx.Rollback()
		if err := markTimeUp(ctx, s.db, row.ID); err != nil {
			return err
		}
		log.Info().Int64("attempt_id", row.ID).Msg("attempt marked time_up on late answer")
		return ErrExpired
	}

	if in.Ordinal < 1 {
		return ErrInvalidQuestion
	}
	write, err := journalWriteFor(in)
	if err != nil {
		return err
	}
	ok, err := updateJournalEntry(ctx, tx, row.ID, in.Ordinal, write, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidQuestion
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit answer: %w", err)
	}
	return nil
}

// journalWriteFor leaves a field untouched when it is nil. An empty selected
// string clears the choice.
func journalWriteFor(in RecordAnswerInput) (journalWrite, error) {
	var w journalWrite
	if in.Selected != nil {
		w.SetSelected = true
		choice := catalog.NormalizeLabel(*in.Selected)
		if choice != "" {
			if !catalog.IsLabel(choice) {
				return journalWrite{}, ErrInvalidChoice
			}
			w.Selected = sql.NullString{String: choice, Valid: true}
		}
	}
	if in.Uncertain != nil {
		w.Uncertain = sql.NullBool{Bool: *in.Uncertain, Valid: true}
	}
	return w, nil
}

// Submit grades the attempt. For an attempt that was already submitted the
// stored result is returned together with ErrAlreadySubmitted.
func (s *Service) Submit(ctx context.Context, token string, userID int64) (*ScoreResult, error) {
	res, err := s.submit(ctx, token, userID)
	return res, storageErr("submit attempt", err)
}

func (s *Service) submit(ctx context.Context, token string, userID int64) (*ScoreResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := loadAttemptByToken(ctx, tx, token, lockUpdate)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		return nil, ErrForbidden
	}
	if row.Status == StatusSubmitted {
		log.Info().Int64("attempt_id", row.ID).Int64("user_id", userID).Msg("attempt already submitted")
		return row.scoreResult(), ErrAlreadySubmitted
	}

	questions, err := s.questions(ctx, row.ExamID)
	if err != nil {
		return nil, err
	}
	graded, err := s.gradeLocked(ctx, tx, row, answerKeys(questions), FinishManual, s.clock())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}
	s.afterGrade(ctx, graded)
	return graded.scoreResult(), nil
}

// gradeLocked scores a row the caller holds FOR UPDATE and returns the row as
// it now stands.
func (s *Service) gradeLocked(ctx context.Context, tx *sql.Tx, row *attemptRow, keys []string, reason string, now time.Time) (*attemptRow, error) {
	if !row.Status.Gradable() {
		return nil, ErrAlreadySubmitted
	}

	journal, err := loadJournal(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}
	b := GradeJournal(keys, journal)

	ok, err := writeGrade(ctx, tx, row.ID, b, now, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadySubmitted
	}

	graded := *row
	graded.Status = StatusSubmitted
	graded.Submitted = sql.NullTime{Time: now, Valid: true}
	graded.FinishReason = sql.NullString{String: reason, Valid: true}
	graded.TotalCorrect = sql.NullInt64{Int64: int64(b.Correct), Valid: true}
	graded.TotalIncorrect = sql.NullInt64{Int64: int64(b.Incorrect), Valid: true}
	graded.TotalBlank = sql.NullInt64{Int64: int64(b.Blank), Valid: true}
	graded.TotalUncertain = sql.NullInt64{Int64: int64(b.Uncertain), Valid: true}
	graded.Score = sql.NullFloat64{Float64: b.Score, Valid: true}

	log.Info().
		Int64("attempt_id", row.ID).
		Int64("exam_id", row.ExamID).
		Str("finish_reason", reason).
		Float64("score", b.Score).
		Msg("attempt graded")
	return &graded, nil
}

func (s *Service) afterGrade(ctx context.Context, row *attemptRow) {
	s.invalidateLeaderboard(ctx, row.ExamID)
	if s.notifier != nil {
		s.notifier.AttemptGraded(row.ExamID, row.UserID, row.Ordinal)
	}
}

// GetAttempt returns the attempt with its progress. An ongoing attempt past
// its deadline is moved to time_up on the way.
func (s *Service) GetAttempt(ctx context.Context, token string, userID int64) (*AttemptDetail, error) {
	res, err := s.getAttempt(ctx, token, userID)
	return res, storageErr("get attempt", err)
}

func (s *Service) getAttempt(ctx context.Context, token string, userID int64) (*AttemptDetail, error) {
	row, err := s.ownedAttempt(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if row.Status == StatusOngoing && now.After(row.Deadline) {
		if err := markTimeUp(ctx, s.db, row.ID); err != nil {
			return nil, err
		}
		row.Status = StatusTimeUp
	}

	journal, err := loadJournal(ctx, s.db, row.ID)
	if err != nil {
		return nil, err
	}

	handle, err := row.handle()
	if err != nil {
		return nil, err
	}
	detail := &AttemptDetail{
		Attempt:       handle,
		RemainingSecs: remainingSeconds(row.Status, row.Deadline, now),
		Total:         len(journal),
		FinishReason:  row.FinishReason.String,
		Score:         row.breakdown(),
	}
	for _, e := range journal {
		if strings.TrimSpace(e.Selected) != "" {
			detail.Answered++
		}
		if e.Uncertain {
			detail.Uncertain++
		}
	}
	return detail, nil
}

// AttemptQuestions lists the attempt's questions with the caller's current
// answers. Answer keys are only revealed after submission.
func (s *Service) AttemptQuestions(ctx context.Context, token string, userID int64) ([]AttemptQuestion, error) {
	res, err := s.attemptQuestions(ctx, token, userID)
	return res, storageErr("attempt questions", err)
}

func (s *Service) attemptQuestions(ctx context.Context, token string, userID int64) ([]AttemptQuestion, error) {
	row, err := s.ownedAttempt(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions(ctx, row.ExamID)
	if err != nil {
		return nil, err
	}
	journal, err := loadJournal(ctx, s.db, row.ID)
	if err != nil {
		return nil, err
	}
	return mergeQuestions(questions, journal, row.Status == StatusSubmitted), nil
}

func mergeQuestions(questions []catalog.Question, journal []JournalEntry, reveal bool) []AttemptQuestion {
	byOrdinal := make(map[int]JournalEntry, len(journal))
	for _, e := range journal {
		byOrdinal[e.Ordinal] = e
	}

	out := make([]AttemptQuestion, 0, len(questions))
	for _, q := range questions {
		e := byOrdinal[q.Ordinal]
		item := AttemptQuestion{
			Ordinal:   q.Ordinal,
			Prompt:    q.Prompt,
			Choices:   q.Choices,
			Selected:  e.Selected,
			Uncertain: e.Uncertain,
		}
		if reveal {
			item.Correct = q.Correct
			item.Explanation = q.Explanation
		}
		out = append(out, item)
	}
	return out
}

func (s *Service) ownedAttempt(ctx context.Context, token string, userID int64) (*attemptRow, error) {
	row, err := loadAttemptByToken(ctx, s.db, token, lockNone)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		return nil, ErrForbidden
	}
	return row, nil
}

func (s *Service) RemainingAttempts(ctx context.Context, examID, userID int64) (*RemainingAttempts, error) {
	tmpl, err := s.template(ctx, examID)
	if err != nil {
		return nil, storageErr("remaining attempts", err)
	}
	used, err := usedOrdinal(ctx, s.db, examID, userID)
	if err != nil {
		return nil, storageErr("remaining attempts", err)
	}
	out := &RemainingAttempts{ExamID: examID, Max: tmpl.MaxAttempts, Used: used}
	if used < tmpl.MaxAttempts {
		out.Remaining = tmpl.MaxAttempts - used
	}
	return out, nil
}

func (s *Service) Statistics(ctx context.Context, examID int64) (*Statistics, error) {
	if _, err := s.template(ctx, examID); err != nil {
		return nil, storageErr("tryout statistics", err)
	}

	out := &Statistics{ExamID: examID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT user_id),
			COUNT(*) FILTER (WHERE status = 'submitted'),
			COUNT(*) FILTER (WHERE status <> 'submitted'),
			COALESCE(AVG(score) FILTER (WHERE status = 'submitted'), 0)::float8,
			COALESCE(AVG(total_correct) FILTER (WHERE status = 'submitted'), 0)::float8,
			COALESCE(AVG(total_incorrect) FILTER (WHERE status = 'submitted'), 0)::float8,
			COALESCE(AVG(total_blank) FILTER (WHERE status = 'submitted'), 0)::float8
		FROM attempts
		WHERE tryout_id = $1 AND NOT is_deleted
	`, examID).Scan(
		&out.TotalAttempts,
		&out.Participants,
		&out.Submitted,
		&out.Unfinished,
		&out.AverageScore,
		&out.AverageCorrect,
		&out.AverageIncorrect,
		&out.AverageBlank,
	)
	if err != nil {
		return nil, storageErr("tryout statistics", fmt.Errorf("query statistics: %w", err))
	}
	out.AverageScore = roundScore(out.AverageScore)
	out.AverageCorrect = roundScore(out.AverageCorrect)
	out.AverageIncorrect = roundScore(out.AverageIncorrect)
	out.AverageBlank = roundScore(out.AverageBlank)
	return out, nil
}

// DeleteAttempt soft-deletes an attempt. Its ordinal stays consumed.
func (s *Service) DeleteAttempt(ctx context.Context, attemptID int64) error {
	var examID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE attempts
		SET is_deleted = TRUE,
			updated_at = now()
		WHERE id = $1 AND NOT is_deleted
		RETURNING tryout_id
	`, attemptID).Scan(&examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAttemptNotFound
		}
		return storageErr("delete attempt", fmt.Errorf("soft delete attempt: %w", err))
	}
	s.invalidateLeaderboard(ctx, examID)
	log.Info().Int64("attempt_id", attemptID).Int64("exam_id", examID).Msg("attempt deleted")
	return nil
}
