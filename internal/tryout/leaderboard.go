package tryout

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// rankedAttempt is one submitted, non-deleted attempt considered for ranking.
type rankedAttempt struct {
	AttemptID   int64
	UserID      int64
	Ordinal     int
	Score       float64
	Correct     int
	Incorrect   int
	Blank       int
	StartedAt   time.Time
	SubmittedAt time.Time
}

// RankFirstAttempts keeps each user's lowest-ordinal submitted attempt, then
// orders by score descending, elapsed time ascending and user id ascending.
// Later retakes never replace the first attempt, even with a better score.
func RankFirstAttempts(attempts []rankedAttempt) []LeaderboardEntry {
	first := make(map[int64]rankedAttempt, len(attempts))
	for _, a := range attempts {
		cur, ok := first[a.UserID]
		if !ok || a.Ordinal < cur.Ordinal {
			first[a.UserID] = a
		}
	}

	picked := make([]rankedAttempt, 0, len(first))
	for _, a := range first {
		picked = append(picked, a)
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Score != picked[j].Score {
			return picked[i].Score > picked[j].Score
		}
		ei, ej := picked[i].elapsed(), picked[j].elapsed()
		if ei != ej {
			return ei < ej
		}
		return picked[i].UserID < picked[j].UserID
	})

	out := make([]LeaderboardEntry, len(picked))
	for i, a := range picked {
		out[i] = LeaderboardEntry{
			Rank:           i + 1,
			UserID:         a.UserID,
			AttemptID:      a.AttemptID,
			Ordinal:        a.Ordinal,
			Score:          a.Score,
			Correct:        a.Correct,
			Incorrect:      a.Incorrect,
			Blank:          a.Blank,
			ElapsedSeconds: int64(a.elapsed() / time.Second),
			SubmittedAt:    a.SubmittedAt,
		}
	}
	return out
}

func (a rankedAttempt) elapsed() time.Duration {
	d := a.SubmittedAt.Sub(a.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// leaderboardQueryTimeout bounds the shared ranking query, which no longer
// follows any single caller's context.
const leaderboardQueryTimeout = 15 * time.Second

func leaderboardKey(examID, gen int64) string {
	return "leaderboard:" + strconv.FormatInt(examID, 10) + ":v" + strconv.FormatInt(gen, 10)
}

func leaderboardGenKey(examID int64) string {
	return "leaderboard:" + strconv.FormatInt(examID, 10) + ":gen"
}

// Leaderboard ranks the first submitted attempt of every participant.
// limit <= 0 returns everyone.
func (s *Service) Leaderboard(ctx context.Context, examID int64, limit int) ([]LeaderboardEntry, error) {
	if _, err := s.template(ctx, examID); err != nil {
		return nil, storageErr("leaderboard", err)
	}

	entries, err := s.rankedLeaderboard(ctx, examID)
	if err != nil {
		return nil, storageErr("leaderboard", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// rankedLeaderboard reads the ranking cached under the exam's current
// generation. A ranking computed while an invalidation bumps the generation
// is stored under the old one, where no reader looks anymore.
func (s *Service) rankedLeaderboard(ctx context.Context, examID int64) ([]LeaderboardEntry, error) {
	cacheable := true
	var gen int64
	if _, err := s.cache.GetJSON(ctx, leaderboardGenKey(examID), &gen); err != nil {
		log.Warn().Err(err).Int64("exam_id", examID).Msg("leaderboard generation read failed")
		cacheable = false
	}

	key := leaderboardKey(examID, gen)
	if cacheable {
		var entries []LeaderboardEntry
		found, err := s.cache.GetJSON(ctx, key, &entries)
		if err != nil {
			log.Warn().Err(err).Int64("exam_id", examID).Msg("leaderboard cache read failed")
		}
		if found {
			return entries, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaderboardQueryTimeout)
		defer cancel()

		ranked, err := s.rank(qctx, examID)
		if err != nil {
			return nil, err
		}
		if cacheable {
			if err := s.cache.SetJSON(qctx, key, ranked, s.cacheTTL); err != nil {
				log.Warn().Err(err).Int64("exam_id", examID).Msg("leaderboard cache write failed")
			}
		}
		return ranked, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]LeaderboardEntry), nil
}

func (s *Service) rankFromJournal(ctx context.Context, examID int64) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			user_id,
			attempt_no,
			score::float8,
			total_correct,
			total_incorrect,
			total_blank,
			started_at,
			submitted_at
		FROM attempts
		WHERE tryout_id = $1
		  AND status = 'submitted'
		  AND NOT is_deleted
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query submitted attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]rankedAttempt, 0)
	for rows.Next() {
		var a rankedAttempt
		if err := rows.Scan(
			&a.AttemptID,
			&a.UserID,
			&a.Ordinal,
			&a.Score,
			&a.Correct,
			&a.Incorrect,
			&a.Blank,
			&a.StartedAt,
			&a.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submitted attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submitted attempts: %w", err)
	}
	return RankFirstAttempts(attempts), nil
}

func (s *Service) invalidateLeaderboard(ctx context.Context, examID int64) {
	if _, err := s.cache.Incr(ctx, leaderboardGenKey(examID)); err != nil {
		log.Warn().Err(err).Int64("exam_id", examID).Msg("leaderboard cache invalidation failed")
	}
}
