package service

import (
	"testing"

	"github.com/Almanaei/cmsvs-sub000/internal/database"
	"github.com/Almanaei/cmsvs-sub000/internal/idgen"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"
	"github.com/Almanaei/cmsvs-sub000/internal/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// testEnv wires the full service stack over an in-memory database and a
// temporary upload directory.
type testEnv struct {
	db           *gorm.DB
	store        *storage.Store
	activities   ActivityService
	achievements AchievementService
	users        UserService
	requests     RequestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	logger := zap.NewNop()

	allowed := []string{"pdf", "doc", "docx", "txt", "jpg", "jpeg", "png", "gif"}
	store, err := storage.NewStore(t.TempDir(), 1024*1024, allowed, logger)
	require.NoError(t, err)

	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	fileRepo := repository.NewFileRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	activities := NewActivityService(db, activityRepo, logger)
	achievements := NewAchievementService(db, logger)
	users := NewUserService(userRepo, activities, "test-secret", logger)
	requests := NewRequestService(
		txManager, requestRepo, fileRepo,
		idgen.NewGenerator(9999), store,
		activities, achievements, logger,
	)

	return &testEnv{
		db:           db,
		store:        store,
		activities:   activities,
		achievements: achievements,
		users:        users,
		requests:     requests,
	}
}
