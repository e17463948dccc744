package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAndListRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	require.NoError(t, env.activities.Log(ctx, LogActivityRequest{
		UserID:       user.ID,
		ActivityType: model.ActivityLogin,
		Description:  "تسجيل دخول",
		Details:      map[string]interface{}{"ip": "10.0.0.1", "attempt": float64(1)},
		IPAddress:    "10.0.0.1",
	}))

	entries, total, err := env.activities.List(ctx, repository.ActivityFilter{UserID: user.ID}, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActivityLogin, entries[0].ActivityType)
	assert.Equal(t, "ahmed", entries[0].Username)
	assert.Equal(t, "10.0.0.1", entries[0].Details["ip"])
	assert.Equal(t, float64(1), entries[0].Details["attempt"])
}

func TestCrossUserAccessLandsInOwnerFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := seedUser(t, env, "owner", model.RoleUser)
	admin := seedUser(t, env, "admin", model.RoleAdmin)

	require.NoError(t, env.activities.LogCrossUserAccess(ctx, owner.ID, admin,
		model.ActivityCrossUserFileDeleted, "حذف ملف", nil))

	entries, _, err := env.activities.List(ctx, repository.ActivityFilter{UserID: owner.ID}, 1, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, owner.ID, entries[0].UserID)
	assert.Equal(t, float64(admin.ID), entries[0].Details["accessing_user_id"])
	assert.Equal(t, "admin", entries[0].Details["accessing_user_name"])
	assert.Equal(t, true, entries[0].Details["cross_user_access"])

	// Nothing lands in the acting admin's own feed.
	_, total, err := env.activities.List(ctx, repository.ActivityFilter{UserID: admin.ID}, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestStatusTransitionLogsUpdateEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	base := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

	// A transition to the same status is not a transition.
	unchanged := &model.Request{
		ID: 1, UserID: user.ID, RequestNumber: "REQ-20250312090000-0001",
		Status:    model.RequestStatusPending,
		CreatedAt: base, UpdatedAt: base.Add(30 * time.Second),
	}
	require.NoError(t, env.activities.LogRequestTransition(ctx, unchanged, model.RequestStatusPending))

	_, total, err := env.activities.List(ctx, repository.ActivityFilter{UserID: user.ID}, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, total)

	// A real transition is recorded with the old and new status as a change pair.
	edited := &model.Request{
		ID: 2, UserID: user.ID, RequestNumber: "REQ-20250312090000-0002",
		Status:    model.RequestStatusInProgress,
		CreatedAt: base, UpdatedAt: base.Add(2 * time.Minute),
	}
	require.NoError(t, env.activities.LogRequestTransition(ctx, edited, model.RequestStatusPending))

	entries, _, err := env.activities.List(ctx, repository.ActivityFilter{
		UserID:       user.ID,
		ActivityType: model.ActivityRequestUpdated,
	}, 1, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.RequestStatusPending, entries[0].Details["old_status"])
	assert.Equal(t, model.RequestStatusInProgress, entries[0].Details["new_status"])
	changes, ok := entries[0].Details["changes"].(map[string]interface{})
	require.True(t, ok)
	status, ok := changes["status"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, model.RequestStatusPending, status["old"])
	assert.Equal(t, model.RequestStatusInProgress, status["new"])
}

func TestTerminalTransitionsLogTwoEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	base := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	done := &model.Request{
		ID: 1, UserID: user.ID, RequestNumber: "REQ-20250312090000-0001",
		Status:    model.RequestStatusCompleted,
		CreatedAt: base, UpdatedAt: base.AddDate(0, 0, 1),
	}
	require.NoError(t, env.activities.LogRequestTransition(ctx, done, model.RequestStatusPending))

	// Completion writes both the update entry and the completion entry.
	entries, _, err := env.activities.List(ctx, repository.ActivityFilter{UserID: user.ID}, 1, 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	types := []string{entries[0].ActivityType, entries[1].ActivityType}
	assert.Contains(t, types, model.ActivityRequestUpdated)
	assert.Contains(t, types, model.ActivityRequestCompleted)

	rejected := &model.Request{
		ID: 2, UserID: user.ID, RequestNumber: "REQ-20250312090000-0002",
		Status:    model.RequestStatusRejected,
		CreatedAt: base, UpdatedAt: base.Add(time.Hour),
	}
	require.NoError(t, env.activities.LogRequestTransition(ctx, rejected, model.RequestStatusInProgress))

	entries, _, err = env.activities.List(ctx, repository.ActivityFilter{
		UserID:       user.ID,
		ActivityType: model.ActivityRequestRejected,
	}, 1, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "REQ-20250312090000-0002", entries[0].Details["request_number"])
}

func TestRequestEditRecordsFieldChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	req := &model.Request{
		ID: 1, UserID: user.ID, RequestNumber: "REQ-20250312090000-0001",
		Status: model.RequestStatusPending,
	}

	// An edit that changed nothing leaves no trace.
	require.NoError(t, env.activities.LogRequestEdit(ctx, req, nil))
	_, total, err := env.activities.List(ctx, repository.ActivityFilter{UserID: user.ID}, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, env.activities.LogRequestEdit(ctx, req, map[string]interface{}{
		"full_name": map[string]interface{}{"old": "أحمد", "new": "محمد"},
	}))

	entries, _, err := env.activities.List(ctx, repository.ActivityFilter{
		UserID:       user.ID,
		ActivityType: model.ActivityRequestUpdated,
	}, 1, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	changes, ok := entries[0].Details["changes"].(map[string]interface{})
	require.True(t, ok)
	name, ok := changes["full_name"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "أحمد", name["old"])
	assert.Equal(t, "محمد", name["new"])
}

func TestRequestCompletionCarriesProcessingTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	done := &model.Request{
		ID: 1, UserID: user.ID, RequestNumber: "REQ-20250310090000-0001",
		Status: model.RequestStatusCompleted,
		CreatedAt: base, UpdatedAt: base.AddDate(0, 0, 2),
	}
	require.NoError(t, env.activities.LogRequestTransition(ctx, done, model.RequestStatusInProgress))

	entries, _, err := env.activities.List(ctx, repository.ActivityFilter{
		UserID:       user.ID,
		ActivityType: model.ActivityRequestCompleted,
	}, 1, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2 يوم", entries[0].Details["processing_time"])
}

func TestProcessingTimeLabel(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Minute, "أقل من ساعة"},
		{time.Hour, "1 ساعة"},
		{5*time.Hour + 30*time.Minute, "5 ساعة"},
		{24 * time.Hour, "1 يوم"},
		{72*time.Hour + time.Minute, "3 يوم"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, processingTimeLabel(tc.d), "duration %s", tc.d)
	}
}

func TestEngagementLevel(t *testing.T) {
	cases := []struct {
		avg  string
		want string
	}{
		{"2.5", "نشط جداً"},
		{"1.01", "نشط جداً"},
		{"1", "نشط"},
		{"0.51", "نشط"},
		{"0.5", "نشط أحياناً"},
		{"0.11", "نشط أحياناً"},
		{"0.1", "غير نشط"},
		{"0", "غير نشط"},
	}
	for _, tc := range cases {
		avg, err := decimal.NewFromString(tc.avg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, engagementLevel(avg), "average %s", tc.avg)
	}
}

func seedRequestRow(t *testing.T, env *testEnv, userID uint, seq int, status string, at time.Time) {
	t.Helper()
	require.NoError(t, env.db.Create(&model.Request{
		UserID:         userID,
		RequestNumber:  fmt.Sprintf("REQ-%s-%04d", at.Format("20060102150405"), seq),
		UniqueCode:     fmt.Sprintf("AB12-%04d", seq),
		FullName:       "Test",
		PersonalNumber: "123456789",
		Status:         status,
		CreatedAt:      at,
		UpdatedAt:      at,
	}).Error)
}

func TestReportCoversAllActiveUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	worker := seedUser(t, env, "worker", model.RoleUser)
	idle := seedUser(t, env, "idle", model.RoleUser)

	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	env.activities.(*activityService).now = func() time.Time { return now }

	for i := 0; i < 6; i++ {
		seedRequestRow(t, env, worker.ID, i+1, model.RequestStatusCompleted, now.AddDate(0, 0, -i-1))
	}
	// One request outside the window must not count.
	seedRequestRow(t, env, worker.ID, 99, model.RequestStatusPending, now.AddDate(0, 0, -40))

	// The idle user signs in constantly but never files a request. Login
	// volume must not register as engagement.
	for i := 0; i < 60; i++ {
		require.NoError(t, env.activities.Log(ctx, LogActivityRequest{
			UserID:       idle.ID,
			ActivityType: model.ActivityLogin,
			Description:  "تسجيل دخول",
		}))
	}

	report, err := env.activities.Report(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PeriodMonths)
	assert.Equal(t, 2, report.TotalUsers)
	assert.Equal(t, 1, report.ActiveUsers)
	assert.Equal(t, 1, report.InactiveUsers)
	assert.EqualValues(t, 6, report.TotalRequests)
	assert.Equal(t, "3", report.AvgRequestsPerUser.String())

	require.Len(t, report.UserReports, 2)

	// Most active user first.
	busy := report.UserReports[0]
	assert.Equal(t, worker.ID, busy.UserID)
	assert.EqualValues(t, 6, busy.TotalRequests)
	assert.EqualValues(t, 6, busy.Recent30Days)
	assert.EqualValues(t, 6, busy.StatusBreakdown[model.RequestStatusCompleted])
	assert.Equal(t, "0.2", busy.DailyAverage.String())
	assert.Equal(t, "نشط أحياناً", busy.ActivityLevel)
	assert.NotEmpty(t, busy.FirstRequestAt)
	assert.NotEmpty(t, busy.LastRequestAt)
	assert.Len(t, busy.WeeklySeries, 5)
	assert.Len(t, busy.MonthlySeries, 2)

	quiet := report.UserReports[1]
	assert.Equal(t, idle.ID, quiet.UserID)
	assert.Zero(t, quiet.TotalRequests)
	assert.True(t, quiet.DailyAverage.IsZero())
	assert.Equal(t, "غير نشط", quiet.ActivityLevel)
	assert.Empty(t, quiet.FirstRequestAt)
}
