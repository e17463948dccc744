package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DTOs

type UserAchievementResponse struct {
	AchievementID   uint   `json:"achievement_id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	TargetValue     int    `json:"target_value"`
	Points          int    `json:"points"`
	CurrentProgress int    `json:"current_progress"`
	IsCompleted     bool   `json:"is_completed"`
	CompletedAt     string `json:"completed_at,omitempty"`
	PointsEarned    int    `json:"points_earned"`
	PeriodStart     string `json:"period_start,omitempty"`
	PeriodEnd       string `json:"period_end,omitempty"`
}

type AchievementDashboard struct {
	Stats                 UserStatsResponse         `json:"stats"`
	Achievements          []UserAchievementResponse `json:"achievements"`
	RecentAchievements    []UserAchievementResponse `json:"recent_achievements"`
	LeaderboardPosition   int                       `json:"leaderboard_position"`
	CompletedBusinessWeek int                       `json:"completed_business_week"`
}

type UserStatsResponse struct {
	UserID               uint   `json:"user_id"`
	TotalRequests        int    `json:"total_requests"`
	CompletedRequests    int    `json:"completed_requests"`
	CurrentDailyStreak   int    `json:"current_daily_streak"`
	LongestDailyStreak   int    `json:"longest_daily_streak"`
	TotalPoints          int    `json:"total_points"`
	AchievementsUnlocked int    `json:"achievements_unlocked"`
	LastActivityDate     string `json:"last_activity_date,omitempty"`
}

type LeaderboardEntry struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type CreateCompetitionRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date" binding:"required"`
	EndDate     time.Time `json:"end_date" binding:"required"`
	TargetValue int       `json:"target_value" binding:"required,min=1"`
	PrizePoints int       `json:"prize_points"`
}

// AchievementService maintains achievement progress, streaks, points and
// competitions. UpdateProgress is the single write entry point: a request
// transition into COMPLETED calls it with delta 1, and a zero delta leaves
// every counter alone while still refreshing the stats cache.
type AchievementService interface {
	SeedDefaults(ctx context.Context) error
	UpdateProgress(ctx context.Context, userID uint, delta int, at time.Time) error
	SyncUserProgress(ctx context.Context, userID uint) error
	Dashboard(ctx context.Context, userID uint) (*AchievementDashboard, error)
	GlobalLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	PeriodicLeaderboard(ctx context.Context, achievementType string, limit int) ([]LeaderboardEntry, error)
	CreateCompetition(ctx context.Context, req CreateCompetitionRequest) (*model.Competition, error)
	JoinCompetition(ctx context.Context, competitionID, userID uint) error
	ListCompetitions(ctx context.Context, status string) ([]model.Competition, error)
	CompetitionLeaderboard(ctx context.Context, competitionID uint) ([]LeaderboardEntry, error)
}

type achievementService struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time

	// mu serializes progress writes. The streak update is a read-modify-write
	// of user_stats; two concurrent completions without the lock could each
	// read the same streak and one increment would be lost for good.
	mu sync.Mutex
}

func NewAchievementService(db *gorm.DB, logger *zap.Logger) AchievementService {
	return &achievementService{db: db, logger: logger, now: time.Now}
}

// defaultAchievements are the built-in templates seeded at startup.
var defaultAchievements = []model.Achievement{
	{Name: "منجز اليوم", Description: "أكمل 10 طلبات في يوم واحد", Type: model.AchievementTypeDaily, TargetValue: 10, Points: 50, Icon: "sun"},
	{Name: "نشيط اليوم", Description: "أكمل 5 طلبات في يوم واحد", Type: model.AchievementTypeDaily, TargetValue: 5, Points: 25, Icon: "sunrise"},
	{Name: "بطل الأسبوع", Description: "أكمل 50 طلباً في أسبوع", Type: model.AchievementTypeWeekly, TargetValue: 50, Points: 200, Icon: "calendar-week"},
	{Name: "مجتهد الأسبوع", Description: "أكمل 25 طلباً في أسبوع", Type: model.AchievementTypeWeekly, TargetValue: 25, Points: 100, Icon: "calendar"},
	{Name: "نجم الشهر", Description: "أكمل 200 طلب في شهر", Type: model.AchievementTypeMonthly, TargetValue: 200, Points: 500, Icon: "star"},
	{Name: "منجز الشهر", Description: "أكمل 100 طلب في شهر", Type: model.AchievementTypeMonthly, TargetValue: 100, Points: 250, Icon: "moon"},
	{Name: "البداية", Description: "أكمل 10 طلبات إجمالاً", Type: model.AchievementTypeMilestone, TargetValue: 10, Points: 100, Icon: "flag"},
	{Name: "محترف", Description: "أكمل 100 طلب إجمالاً", Type: model.AchievementTypeMilestone, TargetValue: 100, Points: 300, Icon: "medal"},
	{Name: "خبير", Description: "أكمل 500 طلب إجمالاً", Type: model.AchievementTypeMilestone, TargetValue: 500, Points: 1000, Icon: "trophy"},
	{Name: "أسبوع متواصل", Description: "حافظ على سلسلة إنجاز لمدة 7 أيام", Type: model.AchievementTypeStreak, TargetValue: 7, Points: 300, Icon: "fire"},
	{Name: "شهر متواصل", Description: "حافظ على سلسلة إنجاز لمدة 30 يوماً", Type: model.AchievementTypeStreak, TargetValue: 30, Points: 1000, Icon: "flame"},
}

// SeedDefaults creates any missing built-in achievement templates. Existing
// rows are left untouched so admin edits survive restarts.
func (s *achievementService) SeedDefaults(ctx context.Context) error {
	for _, a := range defaultAchievements {
		var existing model.Achievement
		err := s.db.WithContext(ctx).
			Where("name = ? AND type = ?", a.Name, a.Type).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check achievement template: %w", err)
		}
		tpl := a
		tpl.IsActive = true
		if err := s.db.WithContext(ctx).Create(&tpl).Error; err != nil {
			return fmt.Errorf("failed to seed achievement %q: %w", a.Name, err)
		}
	}
	return nil
}

// periodWindow returns the UTC window containing at for a periodic type.
// Weekly windows start on Monday. Milestone and streak types have no window.
func periodWindow(achievementType string, at time.Time) (start, end *time.Time) {
	at = normalizeUTC(at)
	switch achievementType {
	case model.AchievementTypeDaily:
		st := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		en := st.AddDate(0, 0, 1)
		return &st, &en
	case model.AchievementTypeWeekly:
		weekday := int(at.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday counts as day 7 of a Monday week
		}
		st := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(weekday - 1))
		en := st.AddDate(0, 0, 7)
		return &st, &en
	case model.AchievementTypeMonthly:
		st := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		en := st.AddDate(0, 1, 0)
		return &st, &en
	default:
		return nil, nil
	}
}

// UpdateProgress applies delta completions to every active achievement and to
// the user's stats, all inside one transaction. A request transition into
// COMPLETED calls it with delta 1, once per transition, never on re-saves.
// Delta 0 is a counter no-op that still refreshes milestone and streak
// mirrors from the stats cache.
func (s *achievementService) UpdateProgress(ctx context.Context, userID uint, delta int, at time.Time) error {
	if delta < 0 {
		return fmt.Errorf("negative progress delta %d", delta)
	}
	at = normalizeUTC(at)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stats, err := s.bumpStats(tx, userID, delta, at)
		if err != nil {
			return err
		}

		var templates []model.Achievement
		if err := tx.Where("is_active = ?", true).Find(&templates).Error; err != nil {
			return fmt.Errorf("failed to load achievement templates: %w", err)
		}

		for i := range templates {
			tpl := &templates[i]
			ua, err := s.findOrCreateProgress(tx, userID, tpl, at)
			if err != nil {
				return err
			}

			switch tpl.Type {
			case model.AchievementTypeMilestone:
				ua.CurrentProgress = stats.CompletedRequests
			case model.AchievementTypeStreak:
				ua.CurrentProgress = stats.CurrentDailyStreak
			default:
				ua.CurrentProgress += delta
			}

			if err := s.finalizeProgress(tx, ua, tpl, at, stats); err != nil {
				return err
			}
		}

		if delta > 0 {
			if err := s.forwardCompetitionProgress(tx, userID, delta, at); err != nil {
				return err
			}
		}

		return tx.Save(stats).Error
	})
}

// bumpStats adds delta to the completion counters and advances the daily
// streak. Same-day completions leave the streak alone, a completion the day
// after the last activity extends it, anything later resets it to 1. A zero
// delta changes nothing.
func (s *achievementService) bumpStats(tx *gorm.DB, userID uint, delta int, at time.Time) (*model.UserStats, error) {
	stats, err := s.loadOrCreateStats(tx, userID)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return stats, nil
	}

	stats.CompletedRequests += delta

	today := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	if stats.LastActivityDate == nil {
		stats.CurrentDailyStreak = 1
	} else {
		last := normalizeUTC(*stats.LastActivityDate)
		lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
		switch {
		case lastDay.Equal(today):
			// Same day, streak unchanged.
		case lastDay.AddDate(0, 0, 1).Equal(today):
			stats.CurrentDailyStreak++
		default:
			stats.CurrentDailyStreak = 1
		}
	}
	if stats.CurrentDailyStreak > stats.LongestDailyStreak {
		stats.LongestDailyStreak = stats.CurrentDailyStreak
	}
	stats.LastActivityDate = &today

	return stats, nil
}

func (s *achievementService) loadOrCreateStats(tx *gorm.DB, userID uint) (*model.UserStats, error) {
	var stats model.UserStats
	err := tx.Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = model.UserStats{UserID: userID}
		if err := tx.Create(&stats).Error; err != nil {
			return nil, fmt.Errorf("failed to create user stats: %w", err)
		}
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user stats: %w", err)
	}
	return &stats, nil
}

// findOrCreateProgress returns the UserAchievement row for the window
// containing at, creating it when the window is new.
func (s *achievementService) findOrCreateProgress(tx *gorm.DB, userID uint, tpl *model.Achievement, at time.Time) (*model.UserAchievement, error) {
	start, end := periodWindow(tpl.Type, at)

	var ua model.UserAchievement
	query := tx.Where("user_id = ? AND achievement_id = ?", userID, tpl.ID)
	if start != nil {
		query = query.Where("period_start = ?", *start)
	} else {
		query = query.Where("period_start IS NULL")
	}

	err := query.First(&ua).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ua = model.UserAchievement{
			UserID:        userID,
			AchievementID: tpl.ID,
			PeriodStart:   start,
			PeriodEnd:     end,
		}
		if err := tx.Create(&ua).Error; err != nil {
			return nil, fmt.Errorf("failed to create achievement progress: %w", err)
		}
		return &ua, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load achievement progress: %w", err)
	}
	return &ua, nil
}

// finalizeProgress saves the row and, when the target is first reached, marks
// completion and awards points. Completion never reverts.
func (s *achievementService) finalizeProgress(tx *gorm.DB, ua *model.UserAchievement, tpl *model.Achievement, at time.Time, stats *model.UserStats) error {
	if !ua.IsCompleted && ua.CurrentProgress >= tpl.TargetValue {
		completedAt := at
		ua.IsCompleted = true
		ua.CompletedAt = &completedAt
		ua.PointsEarned = tpl.Points
		stats.TotalPoints += tpl.Points
		stats.AchievementsUnlocked++

		s.logger.Info("achievement unlocked",
			zap.Uint("user_id", ua.UserID),
			zap.String("achievement", tpl.Name),
			zap.Int("points", tpl.Points))
	}
	if err := tx.Save(ua).Error; err != nil {
		return fmt.Errorf("failed to save achievement progress: %w", err)
	}
	return nil
}

// forwardCompetitionProgress adds delta to the user's progress in every
// active competition whose window contains the completion.
func (s *achievementService) forwardCompetitionProgress(tx *gorm.DB, userID uint, delta int, at time.Time) error {
	var participants []model.CompetitionParticipant
	err := tx.Joins("JOIN competitions ON competitions.id = competition_participants.competition_id").
		Where("competition_participants.user_id = ?", userID).
		Where("competitions.status = ?", model.CompetitionActive).
		Where("competitions.start_date <= ? AND competitions.end_date > ?", at, at).
		Find(&participants).Error
	if err != nil {
		return fmt.Errorf("failed to load competition participants: %w", err)
	}

	for i := range participants {
		p := &participants[i]
		p.Progress += delta
		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("failed to forward competition progress: %w", err)
		}
	}
	return nil
}

// SyncUserProgress overwrites periodic progress from the Request table for
// every open window, and recomputes milestone progress and points.
// The Request table is the authority; the operation is idempotent and is run
// before dashboard reads so displayed numbers cannot drift.
func (s *achievementService) SyncUserProgress(ctx context.Context, userID uint) error {
	now := normalizeUTC(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stats, err := s.loadOrCreateStats(tx, userID)
		if err != nil {
			return err
		}

		var totalRequests, completedTotal int64
		if err := tx.Model(&model.Request{}).Where("user_id = ?", userID).Count(&totalRequests).Error; err != nil {
			return fmt.Errorf("failed to count requests: %w", err)
		}
		if err := tx.Model(&model.Request{}).
			Where("user_id = ? AND status = ?", userID, model.RequestStatusCompleted).
			Count(&completedTotal).Error; err != nil {
			return fmt.Errorf("failed to count completed requests: %w", err)
		}
		stats.TotalRequests = int(totalRequests)
		stats.CompletedRequests = int(completedTotal)

		var templates []model.Achievement
		if err := tx.Where("is_active = ?", true).Find(&templates).Error; err != nil {
			return fmt.Errorf("failed to load achievement templates: %w", err)
		}

		for i := range templates {
			tpl := &templates[i]
			ua, err := s.findOrCreateProgress(tx, userID, tpl, now)
			if err != nil {
				return err
			}

			switch tpl.Type {
			case model.AchievementTypeMilestone:
				ua.CurrentProgress = int(completedTotal)
			case model.AchievementTypeStreak:
				ua.CurrentProgress = stats.CurrentDailyStreak
			default:
				start, end := periodWindow(tpl.Type, now)
				var inWindow int64
				if err := tx.Model(&model.Request{}).
					Where("user_id = ? AND status = ?", userID, model.RequestStatusCompleted).
					Where("updated_at >= ? AND updated_at < ?", *start, *end).
					Count(&inWindow).Error; err != nil {
					return fmt.Errorf("failed to count completions in window: %w", err)
				}
				ua.CurrentProgress = int(inWindow)
			}

			if err := s.finalizeProgress(tx, ua, tpl, now, stats); err != nil {
				return err
			}
		}

		// total_points always equals the sum of points actually earned.
		var totalPoints int64
		if err := tx.Model(&model.UserAchievement{}).
			Where("user_id = ? AND is_completed = ?", userID, true).
			Select("COALESCE(SUM(points_earned), 0)").
			Scan(&totalPoints).Error; err != nil {
			return fmt.Errorf("failed to sum earned points: %w", err)
		}
		stats.TotalPoints = int(totalPoints)

		var unlocked int64
		if err := tx.Model(&model.UserAchievement{}).
			Where("user_id = ? AND is_completed = ?", userID, true).
			Count(&unlocked).Error; err != nil {
			return fmt.Errorf("failed to count unlocked achievements: %w", err)
		}
		stats.AchievementsUnlocked = int(unlocked)

		return tx.Save(stats).Error
	})
}

// Dashboard syncs then returns stats with the user's progress rows for the
// current windows plus lifetime achievements.
func (s *achievementService) Dashboard(ctx context.Context, userID uint) (*AchievementDashboard, error) {
	if err := s.SyncUserProgress(ctx, userID); err != nil {
		return nil, err
	}

	var stats model.UserStats
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to load user stats: %w", err)
	}

	now := normalizeUTC(s.now())
	var templates []model.Achievement
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("type, target_value").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to load achievement templates: %w", err)
	}

	achievements := make([]UserAchievementResponse, 0, len(templates))
	for i := range templates {
		tpl := &templates[i]
		start, _ := periodWindow(tpl.Type, now)

		var ua model.UserAchievement
		query := s.db.WithContext(ctx).Where("user_id = ? AND achievement_id = ?", userID, tpl.ID)
		if start != nil {
			query = query.Where("period_start = ?", *start)
		} else {
			query = query.Where("period_start IS NULL")
		}
		if err := query.First(&ua).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("failed to load achievement progress: %w", err)
			}
			ua = model.UserAchievement{UserID: userID, AchievementID: tpl.ID}
		}

		achievements = append(achievements, toUserAchievementResponse(ua, tpl))
	}

	recent, err := s.recentUnlocks(ctx, userID, templates)
	if err != nil {
		return nil, err
	}
	position, err := s.leaderboardPosition(ctx, stats.TotalPoints)
	if err != nil {
		return nil, err
	}

	var businessWeek int64
	err = s.db.WithContext(ctx).Model(&model.Request{}).
		Where("user_id = ? AND status = ? AND updated_at >= ?", userID, model.RequestStatusCompleted, businessWeekStart(now)).
		Count(&businessWeek).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count business-week completions: %w", err)
	}

	return &AchievementDashboard{
		Stats:                 toStatsResponse(stats),
		Achievements:          achievements,
		RecentAchievements:    recent,
		LeaderboardPosition:   position,
		CompletedBusinessWeek: int(businessWeek),
	}, nil
}

// businessWeekStart returns the UTC midnight opening the window of the last
// five business days (Mon-Fri), counting today when it is a weekday. This is
// deliberately distinct from the Monday-anchored weekly achievement window.
func businessWeekStart(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	remaining := 5
	for {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			remaining--
			if remaining == 0 {
				return day
			}
		}
		day = day.AddDate(0, 0, -1)
	}
}

// recentUnlocks returns the latest completed achievements, newest first.
func (s *achievementService) recentUnlocks(ctx context.Context, userID uint, templates []model.Achievement) ([]UserAchievementResponse, error) {
	byID := make(map[uint]*model.Achievement, len(templates))
	for i := range templates {
		byID[templates[i].ID] = &templates[i]
	}

	var rows []model.UserAchievement
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_completed = ?", userID, true).
		Order("completed_at DESC").
		Limit(5).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent achievements: %w", err)
	}

	recent := make([]UserAchievementResponse, 0, len(rows))
	for _, ua := range rows {
		tpl, ok := byID[ua.AchievementID]
		if !ok {
			continue
		}
		recent = append(recent, toUserAchievementResponse(ua, tpl))
	}
	return recent, nil
}

// clampLeaderboardLimit bounds a caller-supplied leaderboard size to at most
// 100 rows, defaulting to 10.
func clampLeaderboardLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 100:
		return 100
	}
	return limit
}

// leaderboardPosition is the 1-based rank by total points among active users.
func (s *achievementService) leaderboardPosition(ctx context.Context, totalPoints int) (int, error) {
	var ahead int64
	err := s.db.WithContext(ctx).Model(&model.UserStats{}).
		Joins("JOIN users ON users.id = user_stats.user_id").
		Where("users.is_active = ? AND user_stats.total_points > ?", true, totalPoints).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute leaderboard position: %w", err)
	}
	return int(ahead) + 1, nil
}

func (s *achievementService) GlobalLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	limit = clampLeaderboardLimit(limit)

	var rows []leaderboardRow
	err := s.db.WithContext(ctx).Model(&model.UserStats{}).
		Select("user_stats.user_id, users.username, users.full_name, user_stats.total_points as score").
		Joins("JOIN users ON users.id = user_stats.user_id").
		Where("users.is_active = ?", true).
		Order("user_stats.total_points DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build global leaderboard: %w", err)
	}

	return rankRows(rows), nil
}

// PeriodicLeaderboard ranks users by progress inside the current window of
// the given achievement type.
func (s *achievementService) PeriodicLeaderboard(ctx context.Context, achievementType string, limit int) ([]LeaderboardEntry, error) {
	limit = clampLeaderboardLimit(limit)
	start, _ := periodWindow(achievementType, s.now())
	if start == nil {
		return nil, fmt.Errorf("achievement type %q has no period window", achievementType)
	}

	var rows []leaderboardRow
	err := s.db.WithContext(ctx).Model(&model.UserAchievement{}).
		Select("user_achievements.user_id, users.username, users.full_name, SUM(user_achievements.current_progress) as score").
		Joins("JOIN achievements ON achievements.id = user_achievements.achievement_id").
		Joins("JOIN users ON users.id = user_achievements.user_id").
		Where("achievements.type = ? AND user_achievements.period_start = ?", achievementType, *start).
		Where("users.is_active = ?", true).
		Group("user_achievements.user_id, users.username, users.full_name").
		Order("score DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build periodic leaderboard: %w", err)
	}

	return rankRows(rows), nil
}

func (s *achievementService) CreateCompetition(ctx context.Context, req CreateCompetitionRequest) (*model.Competition, error) {
	if !req.EndDate.After(req.StartDate) {
		return nil, fmt.Errorf("competition end date must be after start date")
	}

	status := model.CompetitionUpcoming
	now := s.now()
	if !req.StartDate.After(now) {
		status = model.CompetitionActive
	}

	comp := model.Competition{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   normalizeUTC(req.StartDate),
		EndDate:     normalizeUTC(req.EndDate),
		TargetValue: req.TargetValue,
		PrizePoints: req.PrizePoints,
		Status:      status,
	}
	if err := s.db.WithContext(ctx).Create(&comp).Error; err != nil {
		return nil, fmt.Errorf("failed to create competition: %w", err)
	}
	return &comp, nil
}

func (s *achievementService) JoinCompetition(ctx context.Context, competitionID, userID uint) error {
	var comp model.Competition
	if err := s.db.WithContext(ctx).First(&comp, "id = ?", competitionID).Error; err != nil {
		return fmt.Errorf("competition not found: %w", err)
	}
	if comp.Status == model.CompetitionFinished {
		return fmt.Errorf("competition %q is finished", comp.Name)
	}

	var existing model.CompetitionParticipant
	err := s.db.WithContext(ctx).
		Where("competition_id = ? AND user_id = ?", competitionID, userID).
		First(&existing).Error
	if err == nil {
		return nil // already joined
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check participation: %w", err)
	}

	participant := model.CompetitionParticipant{CompetitionID: competitionID, UserID: userID}
	if err := s.db.WithContext(ctx).Create(&participant).Error; err != nil {
		return fmt.Errorf("failed to join competition: %w", err)
	}
	return nil
}

func (s *achievementService) ListCompetitions(ctx context.Context, status string) ([]model.Competition, error) {
	query := s.db.WithContext(ctx).Model(&model.Competition{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var comps []model.Competition
	if err := query.Order("start_date DESC").Find(&comps).Error; err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	return comps, nil
}

func (s *achievementService) CompetitionLeaderboard(ctx context.Context, competitionID uint) ([]LeaderboardEntry, error) {
	var rows []leaderboardRow
	err := s.db.WithContext(ctx).Model(&model.CompetitionParticipant{}).
		Select("competition_participants.user_id, users.username, users.full_name, competition_participants.progress as score").
		Joins("JOIN users ON users.id = competition_participants.user_id").
		Where("competition_participants.competition_id = ?", competitionID).
		Order("competition_participants.progress DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build competition leaderboard: %w", err)
	}

	return rankRows(rows), nil
}

// Helpers

type leaderboardRow struct {
	UserID   uint
	Username string
	FullName string
	Score    int
}

func rankRows(rows []leaderboardRow) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		entries = append(entries, LeaderboardEntry{
			UserID:   r.UserID,
			Username: r.Username,
			FullName: r.FullName,
			Score:    r.Score,
			Rank:     i + 1,
		})
	}
	return entries
}

func toUserAchievementResponse(ua model.UserAchievement, tpl *model.Achievement) UserAchievementResponse {
	resp := UserAchievementResponse{
		AchievementID:   tpl.ID,
		Name:            tpl.Name,
		Type:            tpl.Type,
		TargetValue:     tpl.TargetValue,
		Points:          tpl.Points,
		CurrentProgress: ua.CurrentProgress,
		IsCompleted:     ua.IsCompleted,
		PointsEarned:    ua.PointsEarned,
	}
	if ua.CompletedAt != nil {
		resp.CompletedAt = normalizeUTC(*ua.CompletedAt).Format(time.RFC3339)
	}
	if ua.PeriodStart != nil {
		resp.PeriodStart = normalizeUTC(*ua.PeriodStart).Format(time.RFC3339)
	}
	if ua.PeriodEnd != nil {
		resp.PeriodEnd = normalizeUTC(*ua.PeriodEnd).Format(time.RFC3339)
	}
	return resp
}

func toStatsResponse(stats model.UserStats) UserStatsResponse {
	resp := UserStatsResponse{
		UserID:               stats.UserID,
		TotalRequests:        stats.TotalRequests,
		CompletedRequests:    stats.CompletedRequests,
		CurrentDailyStreak:   stats.CurrentDailyStreak,
		LongestDailyStreak:   stats.LongestDailyStreak,
		TotalPoints:          stats.TotalPoints,
		AchievementsUnlocked: stats.AchievementsUnlocked,
	}
	if stats.LastActivityDate != nil {
		resp.LastActivityDate = normalizeUTC(*stats.LastActivityDate).Format("2006-01-02")
	}
	return resp
}
