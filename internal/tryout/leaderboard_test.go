package tryout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gunjou/api-ukai-syndrome/internal/cache"
	"github.com/gunjou/api-ukai-syndrome/internal/catalog"
)

func submittedAt(start time.Time, d time.Duration) (time.Time, time.Time) {
	return start, start.Add(d)
}

func TestRankFirstAttempts_FirstAttemptCountsNotBest(t *testing.T) {
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	s1, e1 := submittedAt(base, 20*time.Minute)
	s2, e2 := submittedAt(base.Add(time.Hour), 10*time.Minute)

	got := RankFirstAttempts([]rankedAttempt{
		{AttemptID: 2, UserID: 10, Ordinal: 2, Score: 90, StartedAt: s2, SubmittedAt: e2},
		{AttemptID: 1, UserID: 10, Ordinal: 1, Score: 60, StartedAt: s1, SubmittedAt: e1},
	})
	if len(got) != 1 {
		t.Fatalf("expected one row per user, got %d", len(got))
	}
	if got[0].Score != 60 || got[0].AttemptID != 1 || got[0].Ordinal != 1 {
		t.Fatalf("expected first attempt to be ranked, got %+v", got[0])
	}
	if got[0].ElapsedSeconds != 1200 {
		t.Fatalf("expected 1200s elapsed, got %d", got[0].ElapsedSeconds)
	}
}

func TestRankFirstAttempts_Ordering(t *testing.T) {
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	mk := func(user int64, score float64, took time.Duration) rankedAttempt {
		return rankedAttempt{AttemptID: user * 100, UserID: user, Ordinal: 1, Score: score, StartedAt: base, SubmittedAt: base.Add(took)}
	}

	got := RankFirstAttempts([]rankedAttempt{
		mk(1, 80, 30*time.Minute),
		mk(2, 95, 50*time.Minute),
		mk(3, 80, 25*time.Minute),
		mk(4, 80, 25*time.Minute),
		mk(5, 40, time.Minute),
	})

	wantUsers := []int64{2, 3, 4, 1, 5}
	if len(got) != len(wantUsers) {
		t.Fatalf("expected %d rows, got %d", len(wantUsers), len(got))
	}
	for i, uid := range wantUsers {
		if got[i].UserID != uid {
			t.Fatalf("position %d: expected user %d, got %d", i, uid, got[i].UserID)
		}
		if got[i].Rank != i+1 {
			t.Fatalf("position %d: expected rank %d, got %d", i, i+1, got[i].Rank)
		}
	}
}

func TestRankFirstAttempts_Empty(t *testing.T) {
	got := RankFirstAttempts(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestLeaderboardServedFromCache(t *testing.T) {
	store := catalog.NewMemoryStore()
	if err := store.Put(catalog.ExamTemplate{ID: 4, DurationMinutes: 60, MaxAttempts: 2, Visible: true}, nil); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	c := cache.NewMemory()
	cached := []LeaderboardEntry{
		{Rank: 1, UserID: 10, Score: 90},
		{Rank: 2, UserID: 11, Score: 80},
		{Rank: 3, UserID: 12, Score: 70},
	}
	if err := c.SetJSON(context.Background(), leaderboardKey(4, 0), cached, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// No database: a cache miss would panic on the nil *sql.DB.
	svc := NewService(nil, store, WithCache(c, time.Minute))

	got, err := svc.Leaderboard(context.Background(), 4, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(got) != 2 || got[0].UserID != 10 || got[1].UserID != 11 {
		t.Fatalf("unexpected leaderboard: %+v", got)
	}

	if _, err := svc.Leaderboard(context.Background(), 99, 0); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func seededLeaderboardService(t *testing.T, c cache.Cache) *Service {
	t.Helper()
	store := catalog.NewMemoryStore()
	if err := store.Put(catalog.ExamTemplate{ID: 4, DurationMinutes: 60, MaxAttempts: 2, Visible: true}, nil); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return NewService(nil, store, WithCache(c, time.Minute))
}

func TestLeaderboardInvalidatedDuringRankingIsNotServedStale(t *testing.T) {
	svc := seededLeaderboardService(t, cache.NewMemory())

	calls := 0
	svc.rank = func(ctx context.Context, examID int64) ([]LeaderboardEntry, error) {
		calls++
		if calls == 1 {
			// A grade commits while the first ranking is still being built.
			svc.invalidateLeaderboard(ctx, examID)
			return []LeaderboardEntry{{Rank: 1, UserID: 1, Score: 50}}, nil
		}
		return []LeaderboardEntry{{Rank: 1, UserID: 2, Score: 90}}, nil
	}

	if _, err := svc.Leaderboard(context.Background(), 4, 0); err != nil {
		t.Fatalf("first leaderboard: %v", err)
	}
	got, err := svc.Leaderboard(context.Background(), 4, 0)
	if err != nil {
		t.Fatalf("second leaderboard: %v", err)
	}
	if calls != 2 || len(got) != 1 || got[0].UserID != 2 {
		t.Fatalf("expected a fresh ranking after invalidation, calls=%d got=%+v", calls, got)
	}

	// With no further invalidation the fresh ranking is cached.
	if _, err := svc.Leaderboard(context.Background(), 4, 0); err != nil || calls != 2 {
		t.Fatalf("expected cache hit, calls=%d err=%v", calls, err)
	}
}

func TestLeaderboardQueryIgnoresCallerCancellation(t *testing.T) {
	svc := seededLeaderboardService(t, cache.Nop{})
	svc.rank = func(ctx context.Context, examID int64) ([]LeaderboardEntry, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []LeaderboardEntry{{Rank: 1, UserID: 3}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := svc.Leaderboard(ctx, 4, 0)
	if err != nil {
		t.Fatalf("expected shared query to run detached from the caller, got %v", err)
	}
	if len(got) != 1 || got[0].UserID != 3 {
		t.Fatalf("unexpected leaderboard: %+v", got)
	}
}
