package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DTOs for Request validation

type LogActivityRequest struct {
	UserID       uint                   `json:"user_id"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
}

type ActivityResponse struct {
	ID           uint                   `json:"id"`
	UserID       uint                   `json:"user_id"`
	Username     string                 `json:"username,omitempty"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    string                 `json:"created_at"`
}

// UserActivityReport is one user's slice of the activity report. Every number
// is derived from Request rows; logged activity volume never enters it.
type UserActivityReport struct {
	UserID          uint                  `json:"user_id"`
	Username        string                `json:"username"`
	FullName        string                `json:"name"`
	Email           string                `json:"email"`
	TotalRequests   int64                 `json:"total_requests"`
	DailyAverage    decimal.Decimal       `json:"daily_average"`
	WeeklyAverage   decimal.Decimal       `json:"weekly_average"`
	MonthlyAverage  decimal.Decimal       `json:"monthly_average"`
	Recent30Days    int64                 `json:"recent_requests"`
	StatusBreakdown map[string]int64      `json:"status_breakdown"`
	FirstRequestAt  string                `json:"first_request,omitempty"`
	LastRequestAt   string                `json:"last_request,omitempty"`
	ActivityLevel   string                `json:"activity_level"`
	WeeklySeries    []ActivitySeriesPoint `json:"weekly_requests"`
	MonthlySeries   []ActivitySeriesPoint `json:"monthly_requests"`
}

// ActivityReport covers every active user over a rolling window of months,
// most active users first.
type ActivityReport struct {
	PeriodMonths       int                  `json:"period_months"`
	PeriodStart        string               `json:"period_start"`
	PeriodEnd          string               `json:"period_end"`
	TotalUsers         int                  `json:"total_users"`
	ActiveUsers        int                  `json:"active_users"`
	InactiveUsers      int                  `json:"inactive_users"`
	TotalRequests      int64                `json:"total_requests"`
	AvgRequestsPerUser decimal.Decimal      `json:"average_requests_per_user"`
	UserReports        []UserActivityReport `json:"user_reports"`
	GeneratedAt        string               `json:"generated_at"`
}

type ActivitySeriesPoint struct {
	PeriodStart string `json:"period_start"`
	Count       int64  `json:"count"`
}

// ActivityService records and reports user activity. The log is append-only.
type ActivityService interface {
	Log(ctx context.Context, req LogActivityRequest) error
	LogCrossUserAccess(ctx context.Context, ownerID uint, actor *model.User, activityType, description string, details map[string]interface{}) error
	LogRequestTransition(ctx context.Context, req *model.Request, oldStatus string) error
	LogRequestEdit(ctx context.Context, req *model.Request, changes map[string]interface{}) error
	List(ctx context.Context, filter repository.ActivityFilter, page, limit int) ([]ActivityResponse, int64, error)
	Report(ctx context.Context, periodMonths int) (*ActivityReport, error)
}

type activityService struct {
	db     *gorm.DB
	repo   repository.ActivityRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewActivityService(db *gorm.DB, repo repository.ActivityRepository, logger *zap.Logger) ActivityService {
	return &activityService{db: db, repo: repo, logger: logger, now: time.Now}
}

// normalizeUTC converts any stored timestamp to UTC before arithmetic.
// Period windows and processing times never mix timezones.
func normalizeUTC(t time.Time) time.Time {
	return t.In(time.UTC)
}

func (s *activityService) Log(ctx context.Context, req LogActivityRequest) error {
	entry := &model.Activity{
		UserID:       req.UserID,
		ActivityType: req.ActivityType,
		Description:  req.Description,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
	}
	if len(req.Details) > 0 {
		raw, err := json.Marshal(req.Details)
		if err != nil {
			return fmt.Errorf("marshal activity details: %w", err)
		}
		entry.Details = string(raw)
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}

	s.logger.Debug("activity logged",
		zap.Uint("user_id", req.UserID),
		zap.String("type", req.ActivityType))
	return nil
}

// LogCrossUserAccess records an admin touching another user's resource. The
// entry lands in the OWNER's feed; the acting user is identified in Details.
func (s *activityService) LogCrossUserAccess(ctx context.Context, ownerID uint, actor *model.User, activityType, description string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["accessing_user_id"] = actor.ID
	details["accessing_user_name"] = actor.Username
	details["cross_user_access"] = true

	return s.Log(ctx, LogActivityRequest{
		UserID:       ownerID,
		ActivityType: activityType,
		Description:  description,
		Details:      details,
	})
}

// LogRequestTransition writes the rows a status change implies: one
// request_updated entry carrying the transition as a change pair, and for
// terminal outcomes an additional completion or rejection entry.
func (s *activityService) LogRequestTransition(ctx context.Context, req *model.Request, oldStatus string) error {
	if oldStatus == req.Status {
		return nil
	}

	details := map[string]interface{}{
		"request_id":     req.ID,
		"request_number": req.RequestNumber,
		"old_status":     oldStatus,
		"new_status":     req.Status,
		"changes": map[string]interface{}{
			"status": map[string]interface{}{"old": oldStatus, "new": req.Status},
		},
	}
	if err := s.Log(ctx, LogActivityRequest{
		UserID:       req.UserID,
		ActivityType: model.ActivityRequestUpdated,
		Description:  fmt.Sprintf("تحديث حالة الطلب %s", req.RequestNumber),
		Details:      details,
	}); err != nil {
		return err
	}

	switch req.Status {
	case model.RequestStatusCompleted:
		processing := normalizeUTC(req.UpdatedAt).Sub(normalizeUTC(req.CreatedAt))
		return s.Log(ctx, LogActivityRequest{
			UserID:       req.UserID,
			ActivityType: model.ActivityRequestCompleted,
			Description:  fmt.Sprintf("اكتمل الطلب %s", req.RequestNumber),
			Details: map[string]interface{}{
				"request_id":      req.ID,
				"request_number":  req.RequestNumber,
				"old_status":      oldStatus,
				"new_status":      req.Status,
				"processing_time": processingTimeLabel(processing),
			},
		})
	case model.RequestStatusRejected:
		return s.Log(ctx, LogActivityRequest{
			UserID:       req.UserID,
			ActivityType: model.ActivityRequestRejected,
			Description:  fmt.Sprintf("رفض الطلب %s", req.RequestNumber),
			Details: map[string]interface{}{
				"request_id":     req.ID,
				"request_number": req.RequestNumber,
				"old_status":     oldStatus,
				"new_status":     req.Status,
			},
		})
	}
	return nil
}

// LogRequestEdit records a field mutation together with its old and new
// values. Edits that changed nothing produce no entry.
func (s *activityService) LogRequestEdit(ctx context.Context, req *model.Request, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	return s.Log(ctx, LogActivityRequest{
		UserID:       req.UserID,
		ActivityType: model.ActivityRequestUpdated,
		Description:  fmt.Sprintf("تحديث الطلب %s", req.RequestNumber),
		Details: map[string]interface{}{
			"request_id":     req.ID,
			"request_number": req.RequestNumber,
			"changes":        changes,
		},
	})
}

// processingTimeLabel renders a duration in Arabic day/hour buckets.
func processingTimeLabel(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d يوم", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%d ساعة", int(d.Hours()))
	default:
		return "أقل من ساعة"
	}
}

func (s *activityService) List(ctx context.Context, filter repository.ActivityFilter, page, limit int) ([]ActivityResponse, int64, error) {
	activities, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch activities: %w", err)
	}

	responses := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		responses = append(responses, toActivityResponse(a))
	}
	return responses, total, nil
}

// Report derives engagement metrics for every active user from their Request
// rows over a rolling window of periodMonths * 30 days. Logged activity
// volume (logins, views) deliberately never feeds the averages.
func (s *activityService) Report(ctx context.Context, periodMonths int) (*ActivityReport, error) {
	if periodMonths <= 0 {
		periodMonths = 3
	}

	now := s.now().UTC()
	since := now.AddDate(0, 0, -periodMonths*30)
	recentSince := now.AddDate(0, 0, -30)
	days := int64(now.Sub(since).Hours() / 24)
	if days < 1 {
		days = 1
	}

	var users []model.User
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load users for report: %w", err)
	}

	reports := make([]UserActivityReport, 0, len(users))
	var totalRequests int64
	active := 0
	for i := range users {
		u := &users[i]

		var requests []model.Request
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND created_at >= ?", u.ID, since).
			Order("created_at").
			Find(&requests).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load requests for report: %w", err)
		}

		ur := UserActivityReport{
			UserID:          u.ID,
			Username:        u.Username,
			FullName:        u.FullName,
			Email:           u.Email,
			TotalRequests:   int64(len(requests)),
			StatusBreakdown: make(map[string]int64),
			WeeklySeries:    weeklyBuckets(requests, since, now),
			MonthlySeries:   monthlyBuckets(requests, since, now),
		}
		for j := range requests {
			r := &requests[j]
			ur.StatusBreakdown[r.Status]++
			if !normalizeUTC(r.CreatedAt).Before(recentSince) {
				ur.Recent30Days++
			}
		}
		if len(requests) > 0 {
			ur.FirstRequestAt = normalizeUTC(requests[0].CreatedAt).Format(time.RFC3339)
			ur.LastRequestAt = normalizeUTC(requests[len(requests)-1].CreatedAt).Format(time.RFC3339)
			active++
		}

		ur.DailyAverage = decimal.NewFromInt(ur.TotalRequests).Div(decimal.NewFromInt(days)).Round(2)
		ur.WeeklyAverage = seriesAverage(ur.WeeklySeries)
		ur.MonthlyAverage = seriesAverage(ur.MonthlySeries)
		ur.ActivityLevel = engagementLevel(ur.DailyAverage)

		totalRequests += ur.TotalRequests
		reports = append(reports, ur)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].TotalRequests > reports[j].TotalRequests
	})

	avgPerUser := decimal.Zero
	if len(reports) > 0 {
		avgPerUser = decimal.NewFromInt(totalRequests).
			Div(decimal.NewFromInt(int64(len(reports)))).Round(2)
	}

	return &ActivityReport{
		PeriodMonths:       periodMonths,
		PeriodStart:        since.Format(time.RFC3339),
		PeriodEnd:          now.Format(time.RFC3339),
		TotalUsers:         len(reports),
		ActiveUsers:        active,
		InactiveUsers:      len(reports) - active,
		TotalRequests:      totalRequests,
		AvgRequestsPerUser: avgPerUser,
		UserReports:        reports,
		GeneratedAt:        now.Format(time.RFC3339),
	}, nil
}

// engagementLevel maps a daily average onto the Arabic engagement labels.
func engagementLevel(dailyAvg decimal.Decimal) string {
	switch {
	case dailyAvg.GreaterThan(decimal.NewFromInt(1)):
		return "نشط جداً"
	case dailyAvg.GreaterThan(decimal.NewFromFloat(0.5)):
		return "نشط"
	case dailyAvg.GreaterThan(decimal.NewFromFloat(0.1)):
		return "نشط أحياناً"
	default:
		return "غير نشط"
	}
}

// weeklyBuckets counts requests per seven-day slice of [from, to).
func weeklyBuckets(requests []model.Request, from, to time.Time) []ActivitySeriesPoint {
	var points []ActivitySeriesPoint
	for cursor := from; cursor.Before(to); cursor = cursor.Add(7 * 24 * time.Hour) {
		end := cursor.Add(7 * 24 * time.Hour)
		points = append(points, ActivitySeriesPoint{
			PeriodStart: cursor.Format("2006-01-02"),
			Count:       countBetween(requests, cursor, end),
		})
	}
	return points
}

// monthlyBuckets counts requests per calendar month covering [from, to).
func monthlyBuckets(requests []model.Request, from, to time.Time) []ActivitySeriesPoint {
	var points []ActivitySeriesPoint
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cursor.Before(to) {
		end := cursor.AddDate(0, 1, 0)
		points = append(points, ActivitySeriesPoint{
			PeriodStart: cursor.Format("2006-01"),
			Count:       countBetween(requests, cursor, end),
		})
		cursor = end
	}
	return points
}

func countBetween(requests []model.Request, from, to time.Time) int64 {
	var n int64
	for i := range requests {
		at := normalizeUTC(requests[i].CreatedAt)
		if !at.Before(from) && at.Before(to) {
			n++
		}
	}
	return n
}

func seriesAverage(points []ActivitySeriesPoint) decimal.Decimal {
	if len(points) == 0 {
		return decimal.Zero
	}
	var sum int64
	for _, p := range points {
		sum += p.Count
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(points)))).Round(2)
}

func toActivityResponse(a model.Activity) ActivityResponse {
	resp := ActivityResponse{
		ID:           a.ID,
		UserID:       a.UserID,
		ActivityType: a.ActivityType,
		Description:  a.Description,
		CreatedAt:    normalizeUTC(a.CreatedAt).Format(time.RFC3339),
	}
	if a.User != nil {
		resp.Username = a.User.Username
	}
	if a.Details != "" {
		var details map[string]interface{}
		if err := json.Unmarshal([]byte(a.Details), &details); err == nil {
			resp.Details = details
		}
	}
	return resp
}
