package model

import (
	"time"
)

// AchievementType enum constants
const (
	AchievementTypeDaily     = "daily"
	AchievementTypeWeekly    = "weekly"
	AchievementTypeMonthly   = "monthly"
	AchievementTypeMilestone = "milestone"
	AchievementTypeStreak    = "streak"
)

// CompetitionStatus enum constants
const (
	CompetitionUpcoming = "upcoming"
	CompetitionActive   = "active"
	CompetitionFinished = "finished"
)

// Achievement is a template describing a target and its point reward.
// User progress lives in UserAchievement rows.
type Achievement struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Type        string    `gorm:"type:varchar(20);not null;index" json:"type"`
	TargetValue int       `gorm:"not null" json:"target_value"`
	Points      int       `gorm:"not null" json:"points"`
	Icon        string    `gorm:"type:varchar(100)" json:"icon"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// UserAchievement tracks one user's progress against one achievement within
// one period window. PeriodStart is nil for milestone and streak achievements,
// which track lifetime progress. Completion is terminal: once is_completed is
// set it never reverts even if underlying counts later drop.
type UserAchievement struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	UserID          uint         `gorm:"not null;uniqueIndex:idx_user_achievement_period,priority:1;index" json:"user_id"`
	AchievementID   uint         `gorm:"not null;uniqueIndex:idx_user_achievement_period,priority:2" json:"achievement_id"`
	Achievement     *Achievement `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
	CurrentProgress int          `gorm:"not null;default:0" json:"current_progress"`
	IsCompleted     bool         `gorm:"not null;default:false" json:"is_completed"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	PointsEarned    int          `gorm:"not null;default:0" json:"points_earned"`
	PeriodStart     *time.Time   `gorm:"uniqueIndex:idx_user_achievement_period,priority:3" json:"period_start,omitempty"`
	PeriodEnd       *time.Time   `json:"period_end,omitempty"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserStats is a per-user rollup maintained by the achievement engine.
type UserStats struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	TotalRequests        int        `gorm:"not null;default:0" json:"total_requests"`
	CompletedRequests    int        `gorm:"not null;default:0" json:"completed_requests"`
	CurrentDailyStreak   int        `gorm:"not null;default:0" json:"current_daily_streak"`
	LongestDailyStreak   int        `gorm:"not null;default:0" json:"longest_daily_streak"`
	LastActivityDate     *time.Time `json:"last_activity_date,omitempty"`
	TotalPoints          int        `gorm:"not null;default:0" json:"total_points"`
	AchievementsUnlocked int        `gorm:"not null;default:0" json:"achievements_unlocked"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Competition is a time-boxed contest ranking participants by forwarded progress.
type Competition struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	StartDate   time.Time `gorm:"not null" json:"start_date"`
	EndDate     time.Time `gorm:"not null" json:"end_date"`
	TargetValue int       `gorm:"not null" json:"target_value"`
	PrizePoints int       `gorm:"not null;default:0" json:"prize_points"`
	Status      string    `gorm:"type:varchar(20);not null;default:'upcoming';index" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CompetitionParticipant joins a user to a competition with running progress.
type CompetitionParticipant struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	CompetitionID uint         `gorm:"not null;uniqueIndex:idx_competition_user,priority:1" json:"competition_id"`
	Competition   *Competition `gorm:"foreignKey:CompetitionID" json:"competition,omitempty"`
	UserID        uint         `gorm:"not null;uniqueIndex:idx_competition_user,priority:2;index" json:"user_id"`
	Progress      int          `gorm:"not null;default:0" json:"progress"`
	Rank          int          `gorm:"not null;default:0" json:"rank"`
	JoinedAt      time.Time    `gorm:"autoCreateTime" json:"joined_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}
