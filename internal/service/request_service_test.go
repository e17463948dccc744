package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/Almanaei/cmsvs-sub000/internal/apperr"
	"github.com/Almanaei/cmsvs-sub000/internal/idgen"
	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, env *testEnv, username, role string) *model.User {
	t.Helper()
	user := &model.User{
		Username:       username,
		Email:          username + "@example.com",
		FullName:       "Test " + username,
		Password:       "x",
		Role:           role,
		IsActive:       true,
		ApprovalStatus: model.UserApprovalApproved,
	}
	require.NoError(t, env.db.Create(user).Error)
	return user
}

func validCreateDTO() CreateRequestDTO {
	return CreateRequestDTO{
		FullName:        "أحمد محمد",
		PersonalNumber:  "123456789",
		BuildingName:    "برج المنامة",
		LicensesSection: true,
	}
}

func TestCreateRequestAllocatesIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	assert.True(t, idgen.ValidRequestNumber(resp.RequestNumber))
	assert.Len(t, resp.UniqueCode, 12)
	assert.Equal(t, model.RequestStatusPending, resp.Status)

	// Creation is recorded in the owner's activity feed.
	var activities []model.Activity
	require.NoError(t, env.db.Where("user_id = ? AND activity_type = ?", user.ID, model.ActivityRequestCreated).Find(&activities).Error)
	require.Len(t, activities, 1)
}

func TestCreateRequestValidatesPersonalNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	for _, pn := range []string{"12345678", "1234567890", "12345678a", ""} {
		dto := validCreateDTO()
		dto.PersonalNumber = pn
		_, err := env.requests.Create(ctx, user, dto)
		assert.Error(t, err, "personal number %q should be rejected", pn)
	}
}

func TestCreateRequestRejectsMalformedPregeneratedNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	dto := validCreateDTO()
	dto.RequestNumber = "REQ-bogus-0001"
	_, err := env.requests.Create(ctx, user, dto)
	assert.Error(t, err)

	dto.RequestNumber = "REQ-20250314092653-0042"
	resp, err := env.requests.Create(ctx, user, dto)
	require.NoError(t, err)
	assert.Equal(t, "REQ-20250314092653-0042", resp.RequestNumber)
}

func TestConcurrentCreationsAllSucceed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.requests.Create(ctx, user, validCreateDTO())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, env.db.Model(&model.Request{}).Count(&count).Error)
	assert.Equal(t, int64(n), count)

	var distinct int64
	require.NoError(t, env.db.Model(&model.Request{}).Distinct("request_number").Count(&distinct).Error)
	assert.Equal(t, int64(n), distinct)
}

func TestUploadFilesMatchDisk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	content := []byte("%PDF-1.4 test content")
	report, err := env.requests.UploadFiles(ctx, user, resp.ID, []FileUpload{
		{OriginalName: "plan.pdf", MimeType: "application/pdf", Content: content},
		{OriginalName: "plan.pdf", MimeType: "application/pdf", Content: content},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.SuccessfulUploads)
	require.Empty(t, report.Errors)

	// Duplicate original names land under distinct stored names.
	assert.NotEqual(t, report.SavedFiles[0].Filename, report.SavedFiles[1].Filename)

	// Every file row matches its bytes on disk.
	var files []model.File
	require.NoError(t, env.db.Where("request_id = ?", resp.ID).Find(&files).Error)
	require.Len(t, files, 2)
	for _, f := range files {
		data, err := os.ReadFile(f.FilePath)
		require.NoError(t, err)
		assert.Equal(t, content, data)
		assert.Equal(t, int64(len(content)), f.FileSize)
	}
}

func TestUploadPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	report, err := env.requests.UploadFiles(ctx, user, resp.ID, []FileUpload{
		{OriginalName: "good.pdf", MimeType: "application/pdf", Content: []byte("fine")},
		{OriginalName: "bad.exe", MimeType: "application/octet-stream", Content: []byte("nope")},
		{OriginalName: "evil.txt", MimeType: "text/plain", Content: []byte("<script>alert(1)</script>")},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalFilesProcessed)
	assert.Equal(t, 1, report.SuccessfulUploads)
	assert.Len(t, report.Errors, 2)
	require.Len(t, report.SavedFiles, 1)
	assert.Equal(t, "good.pdf", report.SavedFiles[0].OriginalFilename)
}

func TestDeleteRequestCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	report, err := env.requests.UploadFiles(ctx, user, resp.ID, []FileUpload{
		{OriginalName: "plan.pdf", MimeType: "application/pdf", Content: []byte("data")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.SuccessfulUploads)

	require.NoError(t, env.requests.Delete(ctx, user, resp.ID))

	var fileCount int64
	require.NoError(t, env.db.Model(&model.File{}).Where("request_id = ?", resp.ID).Count(&fileCount).Error)
	assert.Zero(t, fileCount)

	var reqCount int64
	require.NoError(t, env.db.Model(&model.Request{}).Where("id = ?", resp.ID).Count(&reqCount).Error)
	assert.Zero(t, reqCount)

	_, err = env.requests.GetByID(ctx, user, resp.ID)
	assert.Error(t, err)
}

func TestStatusCompletionAdvancesAchievementsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.achievements.SeedDefaults(ctx))
	user := seedUser(t, env, "ahmed", model.RoleUser)
	admin := seedUser(t, env, "boss", model.RoleAdmin)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	_, err = env.requests.UpdateStatus(ctx, admin, resp.ID, model.RequestStatusCompleted)
	require.NoError(t, err)

	var stats model.UserStats
	require.NoError(t, env.db.Where("user_id = ?", user.ID).First(&stats).Error)
	assert.Equal(t, 1, stats.CompletedRequests)
	assert.Equal(t, 1, stats.CurrentDailyStreak)

	// Re-applying the same status is a no-op for achievements.
	_, err = env.requests.UpdateStatus(ctx, admin, resp.ID, model.RequestStatusCompleted)
	require.NoError(t, err)

	require.NoError(t, env.db.Where("user_id = ?", user.ID).First(&stats).Error)
	assert.Equal(t, 1, stats.CompletedRequests)
}

func TestCrossUserViewLogsToOwnerFeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := seedUser(t, env, "ahmed", model.RoleUser)
	admin := seedUser(t, env, "boss", model.RoleAdmin)

	resp, err := env.requests.Create(ctx, owner, validCreateDTO())
	require.NoError(t, err)

	_, err = env.requests.GetByID(ctx, admin, resp.ID)
	require.NoError(t, err)

	var entries []model.Activity
	require.NoError(t, env.db.
		Where("user_id = ? AND activity_type = ?", owner.ID, model.ActivityCrossUserRequestViewed).
		Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Details, fmt.Sprintf(`"accessing_user_id":%d`, admin.ID))
	assert.Contains(t, entries[0].Details, `"cross_user_access":true`)

	// The owner viewing their own request logs nothing.
	_, err = env.requests.GetByID(ctx, owner, resp.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.
		Where("user_id = ? AND activity_type = ?", owner.ID, model.ActivityCrossUserRequestViewed).
		Find(&entries).Error)
	assert.Len(t, entries, 1)
}

func TestOtherUserCannotSeeForeignRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := seedUser(t, env, "ahmed", model.RoleUser)
	other := seedUser(t, env, "omar", model.RoleUser)

	resp, err := env.requests.Create(ctx, owner, validCreateDTO())
	require.NoError(t, err)

	_, err = env.requests.GetByID(ctx, other, resp.ID)
	assert.Error(t, err)

	// Listing is scoped to the caller.
	list, total, err := env.requests.List(ctx, other, repository.RequestFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestGetByUniqueCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	created, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	found, err := env.requests.GetByUniqueCode(ctx, user, created.UniqueCode)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = env.requests.GetByUniqueCode(ctx, user, "DOESNOTEXIST")
	assert.Error(t, err)
}

func TestArchiveHidesFromDefaultListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	archived, err := env.requests.Archive(ctx, user, resp.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)

	list, total, err := env.requests.List(ctx, user, repository.RequestFilter{}, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)

	list, total, err = env.requests.List(ctx, user, repository.RequestFilter{IncludeArchived: true}, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsArchived)

	restored, err := env.requests.Restore(ctx, user, resp.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsArchived)

	_, total, err = env.requests.List(ctx, user, repository.RequestFilter{}, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestOwnerDeleteLimitedToPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := seedUser(t, env, "ahmed", model.RoleUser)
	admin := seedUser(t, env, "boss", model.RoleAdmin)

	resp, err := env.requests.Create(ctx, owner, validCreateDTO())
	require.NoError(t, err)
	_, err = env.requests.UpdateStatus(ctx, admin, resp.ID, model.RequestStatusInProgress)
	require.NoError(t, err)

	// Once work started the owner can no longer hard-delete.
	err = env.requests.Delete(ctx, owner, resp.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, env.requests.Delete(ctx, admin, resp.ID))
}

func TestGetByNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := seedUser(t, env, "ahmed", model.RoleUser)
	admin := seedUser(t, env, "boss", model.RoleAdmin)

	created, err := env.requests.Create(ctx, owner, validCreateDTO())
	require.NoError(t, err)

	found, err := env.requests.GetByNumber(ctx, owner, created.RequestNumber)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = env.requests.GetByNumber(ctx, owner, "REQ-19990101000000-0000")
	assert.Error(t, err)

	// An admin lookup by number lands in the owner's feed like any other
	// cross-user read.
	_, err = env.requests.GetByNumber(ctx, admin, created.RequestNumber)
	require.NoError(t, err)

	var entries []model.Activity
	require.NoError(t, env.db.
		Where("user_id = ? AND activity_type = ?", owner.ID, model.ActivityCrossUserRequestViewed).
		Find(&entries).Error)
	require.Len(t, entries, 1)
}

func TestUploadRejectsUnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	// A bad category fails the whole batch before any file is stored.
	_, err = env.requests.UploadFiles(ctx, user, resp.ID, []FileUpload{
		{OriginalName: "plan.pdf", MimeType: "application/pdf", Content: []byte("a"), Category: model.FileCategoryArchitecturalPlans},
		{OriginalName: "other.pdf", MimeType: "application/pdf", Content: []byte("b"), Category: "misc_stuff"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	var count int64
	require.NoError(t, env.db.Model(&model.File{}).Where("request_id = ?", resp.ID).Count(&count).Error)
	assert.Zero(t, count)

	// Every documented category is accepted.
	report, err := env.requests.UploadFiles(ctx, user, resp.ID, []FileUpload{
		{OriginalName: "plan.pdf", MimeType: "application/pdf", Content: []byte("a"), Category: model.FileCategoryFireEquipment},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessfulUploads)
}

func TestUpdateRecordsFieldChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env, "ahmed", model.RoleUser)

	resp, err := env.requests.Create(ctx, user, validCreateDTO())
	require.NoError(t, err)

	flag := true
	updated, err := env.requests.Update(ctx, user, resp.ID, UpdateRequestDTO{
		FullName:             "خالد علي",
		FireEquipmentSection: &flag,
	})
	require.NoError(t, err)
	assert.Equal(t, "خالد علي", updated.FullName)

	var entries []model.Activity
	require.NoError(t, env.db.
		Where("user_id = ? AND activity_type = ?", user.ID, model.ActivityRequestUpdated).
		Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Details, `"full_name":{"new":"خالد علي","old":"أحمد محمد"}`)
	assert.Contains(t, entries[0].Details, `"fire_equipment_section":{"new":true,"old":false}`)

	// An edit that changed nothing leaves the feed untouched.
	_, err = env.requests.Update(ctx, user, resp.ID, UpdateRequestDTO{FullName: "خالد علي"})
	require.NoError(t, err)
	require.NoError(t, env.db.
		Where("user_id = ? AND activity_type = ?", user.ID, model.ActivityRequestUpdated).
		Find(&entries).Error)
	assert.Len(t, entries, 1)
}
