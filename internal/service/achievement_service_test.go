package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/idgen"
	"github.com/Almanaei/cmsvs-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAchievements(t *testing.T, env *testEnv) {
	t.Helper()
	require.NoError(t, env.achievements.SeedDefaults(context.Background()))
}

func loadStats(t *testing.T, env *testEnv, userID uint) model.UserStats {
	t.Helper()
	var stats model.UserStats
	require.NoError(t, env.db.Where("user_id = ?", userID).First(&stats).Error)
	return stats
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.achievements.SeedDefaults(ctx))
	require.NoError(t, env.achievements.SeedDefaults(ctx))

	var count int64
	require.NoError(t, env.db.Model(&model.Achievement{}).Count(&count).Error)
	assert.EqualValues(t, 11, count)
}

func TestPeriodWindow(t *testing.T) {
	// Wednesday 2025-03-12 15:04:05 UTC.
	at := time.Date(2025, 3, 12, 15, 4, 5, 0, time.UTC)

	start, end := periodWindow(model.AchievementTypeDaily, at)
	require.NotNil(t, start)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), *start)
	assert.Equal(t, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC), *end)

	// Weekly windows start on Monday.
	start, end = periodWindow(model.AchievementTypeWeekly, at)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), *start)
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), *end)

	// Sunday belongs to the week that began the previous Monday.
	sunday := time.Date(2025, 3, 16, 10, 0, 0, 0, time.UTC)
	start, _ = periodWindow(model.AchievementTypeWeekly, sunday)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), *start)

	start, end = periodWindow(model.AchievementTypeMonthly, at)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *start)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *end)

	start, end = periodWindow(model.AchievementTypeMilestone, at)
	assert.Nil(t, start)
	assert.Nil(t, end)

	// Non-UTC inputs are normalized before the window is computed.
	offset := time.FixedZone("AST", 3*3600)
	local := time.Date(2025, 3, 13, 1, 0, 0, 0, offset) // 2025-03-12 22:00 UTC
	start, _ = periodWindow(model.AchievementTypeDaily, local)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), *start)
}

func TestUpdateProgressAdvancesAchievements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	at := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, at))

	stats := loadStats(t, env, user.ID)
	assert.Equal(t, 1, stats.CompletedRequests)
	assert.Equal(t, 1, stats.CurrentDailyStreak)

	// Every active template got a progress row, periodic ones at 1.
	var rows []model.UserAchievement
	require.NoError(t, env.db.Where("user_id = ?", user.ID).Find(&rows).Error)
	assert.Len(t, rows, 11)
	for _, ua := range rows {
		assert.Equal(t, 1, ua.CurrentProgress)
		assert.False(t, ua.IsCompleted)
	}
}

func TestDailyAchievementUnlocksOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	at := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, at.Add(time.Duration(i)*time.Minute)))
	}

	var tpl model.Achievement
	require.NoError(t, env.db.Where("type = ? AND target_value = ?", model.AchievementTypeDaily, 5).First(&tpl).Error)

	var ua model.UserAchievement
	require.NoError(t, env.db.Where("user_id = ? AND achievement_id = ?", user.ID, tpl.ID).First(&ua).Error)
	assert.True(t, ua.IsCompleted)
	assert.Equal(t, tpl.Points, ua.PointsEarned)
	assert.NotNil(t, ua.CompletedAt)

	stats := loadStats(t, env, user.ID)
	assert.Equal(t, tpl.Points, stats.TotalPoints)
	assert.Equal(t, 1, stats.AchievementsUnlocked)

	// Completion is terminal and points are awarded once.
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, at.Add(10*time.Minute)))

	require.NoError(t, env.db.First(&ua, ua.ID).Error)
	assert.True(t, ua.IsCompleted)
	assert.Equal(t, tpl.Points, ua.PointsEarned)
	assert.Equal(t, tpl.Points, loadStats(t, env, user.ID).TotalPoints)
}

func TestDailyStreakTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, day1))
	assert.Equal(t, 1, loadStats(t, env, user.ID).CurrentDailyStreak)

	// Same day leaves the streak alone.
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, day1.Add(5*time.Hour)))
	assert.Equal(t, 1, loadStats(t, env, user.ID).CurrentDailyStreak)

	// The next day extends it.
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, day1.AddDate(0, 0, 1)))
	stats := loadStats(t, env, user.ID)
	assert.Equal(t, 2, stats.CurrentDailyStreak)
	assert.Equal(t, 2, stats.LongestDailyStreak)

	// A gap resets to 1 but the longest streak is kept.
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, day1.AddDate(0, 0, 5)))
	stats = loadStats(t, env, user.ID)
	assert.Equal(t, 1, stats.CurrentDailyStreak)
	assert.Equal(t, 2, stats.LongestDailyStreak)
}

func TestSyncUserProgressIsAuthoritative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	gen := idgen.NewGenerator(9999)
	for i := 0; i < 3; i++ {
		req := &model.Request{
			UserID:         user.ID,
			RequestNumber:  gen.NextRequestNumber(),
			UniqueCode:     idgen.NewUniqueCode(),
			FullName:       "n",
			PersonalNumber: "123456789",
			Status:         model.RequestStatusCompleted,
		}
		require.NoError(t, env.db.Create(req).Error)
	}
	pending := &model.Request{
		UserID:         user.ID,
		RequestNumber:  gen.NextRequestNumber(),
		UniqueCode:     idgen.NewUniqueCode(),
		FullName:       "n",
		PersonalNumber: "123456789",
		Status:         model.RequestStatusPending,
	}
	require.NoError(t, env.db.Create(pending).Error)

	require.NoError(t, env.achievements.SyncUserProgress(ctx, user.ID))
	stats := loadStats(t, env, user.ID)
	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 3, stats.CompletedRequests)

	// Periodic rows in the current window mirror the request table.
	var tpl model.Achievement
	require.NoError(t, env.db.Where("type = ? AND target_value = ?", model.AchievementTypeDaily, 5).First(&tpl).Error)
	var ua model.UserAchievement
	require.NoError(t, env.db.Where("user_id = ? AND achievement_id = ?", user.ID, tpl.ID).First(&ua).Error)
	assert.Equal(t, 3, ua.CurrentProgress)

	// Drifted rollups are repaired, and running the sync twice changes nothing.
	require.NoError(t, env.db.Model(&model.UserStats{}).
		Where("user_id = ?", user.ID).
		Update("total_points", 999).Error)
	require.NoError(t, env.achievements.SyncUserProgress(ctx, user.ID))
	require.NoError(t, env.achievements.SyncUserProgress(ctx, user.ID))

	var earned int64
	require.NoError(t, env.db.Model(&model.UserAchievement{}).
		Where("user_id = ? AND is_completed = ?", user.ID, true).
		Select("COALESCE(SUM(points_earned), 0)").
		Scan(&earned).Error)
	assert.EqualValues(t, earned, loadStats(t, env, user.ID).TotalPoints)
}

func TestDashboardReturnsAllTemplates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	dash, err := env.achievements.Dashboard(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, dash.Stats.UserID)
	assert.Len(t, dash.Achievements, 11)
}

func TestGlobalLeaderboardOrdersByPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := seedUser(t, env, "first", model.RoleUser)
	second := seedUser(t, env, "second", model.RoleUser)

	require.NoError(t, env.db.Create(&model.UserStats{UserID: first.ID, TotalPoints: 50}).Error)
	require.NoError(t, env.db.Create(&model.UserStats{UserID: second.ID, TotalPoints: 120}).Error)

	entries, err := env.achievements.GlobalLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].UserID)
	assert.Equal(t, 120, entries[0].Score)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, first.ID, entries[1].UserID)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestCompetitionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	now := time.Now().UTC()
	comp, err := env.achievements.CreateCompetition(ctx, CreateCompetitionRequest{
		Name:        "سباق الإنجاز",
		StartDate:   now.Add(-time.Hour),
		EndDate:     now.Add(24 * time.Hour),
		TargetValue: 10,
		PrizePoints: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CompetitionActive, comp.Status)

	// Joining twice leaves a single participant row.
	require.NoError(t, env.achievements.JoinCompetition(ctx, comp.ID, user.ID))
	require.NoError(t, env.achievements.JoinCompetition(ctx, comp.ID, user.ID))
	var participants int64
	require.NoError(t, env.db.Model(&model.CompetitionParticipant{}).
		Where("competition_id = ?", comp.ID).Count(&participants).Error)
	assert.EqualValues(t, 1, participants)

	// Completions inside the window advance competition progress.
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, now))
	entries, err := env.achievements.CompetitionLeaderboard(ctx, comp.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, user.ID, entries[0].UserID)
	assert.Equal(t, 1, entries[0].Score)

	// An end date before the start is rejected.
	_, err = env.achievements.CreateCompetition(ctx, CreateCompetitionRequest{
		Name:      "bad",
		StartDate: now,
		EndDate:   now.Add(-time.Hour),
	})
	assert.Error(t, err)
}

func TestBusinessWeekStartSkipsWeekends(t *testing.T) {
	// Wednesday 2026-01-14: the five business days are Thu 8, Fri 9,
	// Mon 12, Tue 13 and Wed 14.
	wed := time.Date(2026, 1, 14, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), businessWeekStart(wed))

	// Sunday 2026-01-18 is not a business day itself; the window reaches
	// back to Monday 12.
	sun := time.Date(2026, 1, 18, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), businessWeekStart(sun))
}

func TestZeroDeltaRefreshesWithoutCounting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	at := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 1, at))
	before := loadStats(t, env, user.ID)

	// A zero delta touches nothing: no counter moves, no progress advances.
	require.NoError(t, env.achievements.UpdateProgress(ctx, user.ID, 0, at.Add(time.Hour)))

	after := loadStats(t, env, user.ID)
	assert.Equal(t, before.CompletedRequests, after.CompletedRequests)
	assert.Equal(t, before.CurrentDailyStreak, after.CurrentDailyStreak)
	assert.Equal(t, before.TotalPoints, after.TotalPoints)

	var rows []model.UserAchievement
	require.NoError(t, env.db.Where("user_id = ?", user.ID).Find(&rows).Error)
	for _, ua := range rows {
		assert.Equal(t, 1, ua.CurrentProgress)
	}

	// Negative deltas are rejected outright.
	assert.Error(t, env.achievements.UpdateProgress(ctx, user.ID, -1, at))
}

func TestConcurrentProgressUpdatesLoseNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedAchievements(t, env)
	user := seedUser(t, env, "worker", model.RoleUser)

	at := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- env.achievements.UpdateProgress(ctx, user.ID, 1, at.Add(time.Duration(i)*time.Minute))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Every completion survives the race on the stats row.
	stats := loadStats(t, env, user.ID)
	assert.Equal(t, n, stats.CompletedRequests)
}

func TestLeaderboardLimitClamped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		user := seedUser(t, env, fmt.Sprintf("user%03d", i), model.RoleUser)
		require.NoError(t, env.db.Create(&model.UserStats{
			UserID:      user.ID,
			TotalPoints: i,
		}).Error)
	}

	entries, err := env.achievements.GlobalLeaderboard(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, entries, 100)

	// A non-positive limit falls back to the default page size.
	entries, err = env.achievements.GlobalLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}
