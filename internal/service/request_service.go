package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/apperr"
	"github.com/Almanaei/cmsvs-sub000/internal/idgen"
	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"
	"github.com/Almanaei/cmsvs-sub000/internal/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateRequestDTO struct {
	FullName       string `json:"full_name" binding:"required"`
	PersonalNumber string `json:"personal_number" binding:"required"`
	PhoneNumber    string `json:"phone_number"`
	// RequestNumber may carry a pre-generated number from the new-request form.
	RequestNumber string `json:"request_number"`

	BuildingName           string `json:"building_name"`
	RoadName               string `json:"road_name"`
	BuildingNumber         string `json:"building_number"`
	CivilDefenseFileNumber string `json:"civil_defense_file_number"`
	BuildingPermitNumber   string `json:"building_permit_number"`

	LicensesSection           bool `json:"licenses_section"`
	FireEquipmentSection      bool `json:"fire_equipment_section"`
	CommercialRecordsSection  bool `json:"commercial_records_section"`
	EngineeringOfficesSection bool `json:"engineering_offices_section"`
	HazardousMaterialsSection bool `json:"hazardous_materials_section"`
}

type UpdateRequestDTO struct {
	FullName       string  `json:"full_name"`
	PersonalNumber string  `json:"personal_number"`
	PhoneNumber    *string `json:"phone_number"`

	BuildingName           *string `json:"building_name"`
	RoadName               *string `json:"road_name"`
	BuildingNumber         *string `json:"building_number"`
	CivilDefenseFileNumber *string `json:"civil_defense_file_number"`
	BuildingPermitNumber   *string `json:"building_permit_number"`

	LicensesSection           *bool `json:"licenses_section"`
	FireEquipmentSection      *bool `json:"fire_equipment_section"`
	CommercialRecordsSection  *bool `json:"commercial_records_section"`
	EngineeringOfficesSection *bool `json:"engineering_offices_section"`
	HazardousMaterialsSection *bool `json:"hazardous_materials_section"`
}

// FileUpload is one incoming file, already read into memory by the handler.
type FileUpload struct {
	FieldID      string
	OriginalName string
	MimeType     string
	Category     string
	Content      []byte
}

// UploadReport summarizes a multi-file upload. Individual failures do not
// abort the batch; each file succeeds or fails on its own.
type UploadReport struct {
	SavedFiles          []FileResponse `json:"saved_files"`
	Warnings            []string       `json:"warnings"`
	Errors              []string       `json:"errors"`
	TotalFilesProcessed int            `json:"total_files_processed"`
	SuccessfulUploads   int            `json:"successful_uploads"`
}

type FileResponse struct {
	ID               uint   `json:"id"`
	RequestID        uint   `json:"request_id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	FileCategory     string `json:"file_category"`
	CreatedAt        string `json:"created_at"`
}

type RequestResponse struct {
	ID             uint           `json:"id"`
	UserID         uint           `json:"user_id"`
	RequestNumber  string         `json:"request_number"`
	UniqueCode     string         `json:"unique_code"`
	FullName       string         `json:"full_name"`
	PersonalNumber string         `json:"personal_number"`
	PhoneNumber    string         `json:"phone_number,omitempty"`
	Status         string         `json:"status"`
	IsArchived     bool           `json:"is_archived"`
	Files          []FileResponse `json:"files"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`

	BuildingName           string `json:"building_name,omitempty"`
	RoadName               string `json:"road_name,omitempty"`
	BuildingNumber         string `json:"building_number,omitempty"`
	CivilDefenseFileNumber string `json:"civil_defense_file_number,omitempty"`
	BuildingPermitNumber   string `json:"building_permit_number,omitempty"`

	LicensesSection           bool `json:"licenses_section"`
	FireEquipmentSection      bool `json:"fire_equipment_section"`
	CommercialRecordsSection  bool `json:"commercial_records_section"`
	EngineeringOfficesSection bool `json:"engineering_offices_section"`
	HazardousMaterialsSection bool `json:"hazardous_materials_section"`
}

// personalNumberPattern: civil IDs are exactly nine digits.
var personalNumberPattern = regexp.MustCompile(`^\d{9}$`)

const (
	createAttempts  = 3
	createBackoff   = 100 * time.Millisecond
	dbWriteAttempts = 3
)

// StatusBroadcaster pushes status-change events to connected clients.
type StatusBroadcaster interface {
	GetBroadcast() chan []byte
}

// --- Interface ---

type RequestService interface {
	PregenerateRequestNumber(ctx context.Context) string
	Create(ctx context.Context, actor *model.User, req CreateRequestDTO) (*RequestResponse, error)
	GetByID(ctx context.Context, actor *model.User, id uint) (*RequestResponse, error)
	GetByNumber(ctx context.Context, actor *model.User, number string) (*RequestResponse, error)
	GetByUniqueCode(ctx context.Context, actor *model.User, code string) (*RequestResponse, error)
	List(ctx context.Context, actor *model.User, filter repository.RequestFilter, page, limit int) ([]RequestResponse, int64, error)
	Update(ctx context.Context, actor *model.User, id uint, req UpdateRequestDTO) (*RequestResponse, error)
	UpdateStatus(ctx context.Context, actor *model.User, id uint, newStatus string) (*RequestResponse, error)
	Archive(ctx context.Context, actor *model.User, id uint) (*RequestResponse, error)
	Restore(ctx context.Context, actor *model.User, id uint) (*RequestResponse, error)
	Delete(ctx context.Context, actor *model.User, id uint) error
	UploadFiles(ctx context.Context, actor *model.User, requestID uint, uploads []FileUpload) (*UploadReport, error)
	DownloadFile(ctx context.Context, actor *model.User, fileID uint) (*model.File, error)
	DeleteFile(ctx context.Context, actor *model.User, fileID uint) error
	StatusCounts(ctx context.Context, actor *model.User, userID uint) (map[string]int64, error)
	SetBroadcaster(hub StatusBroadcaster)
}

type requestService struct {
	txManager    repository.TransactionManager
	requests     repository.RequestRepository
	files        repository.FileRepository
	gen          *idgen.Generator
	store        *storage.Store
	activities   ActivityService
	achievements AchievementService
	hub          StatusBroadcaster
	logger       *zap.Logger

	// createMu serializes request creation so a burst of submissions cannot
	// race the number counter against the unique index.
	createMu sync.Mutex
}

func NewRequestService(
	txManager repository.TransactionManager,
	requests repository.RequestRepository,
	files repository.FileRepository,
	gen *idgen.Generator,
	store *storage.Store,
	activities ActivityService,
	achievements AchievementService,
	logger *zap.Logger,
) RequestService {
	return &requestService{
		txManager:    txManager,
		requests:     requests,
		files:        files,
		gen:          gen,
		store:        store,
		activities:   activities,
		achievements: achievements,
		logger:       logger,
	}
}

// SetBroadcaster wires the websocket hub after construction. Optional.
func (s *requestService) SetBroadcaster(hub StatusBroadcaster) {
	s.hub = hub
}

// --- Implementation ---

// PregenerateRequestNumber allocates a number for the new-request form so the
// user sees it before submitting. The number is only persisted on Create.
func (s *requestService) PregenerateRequestNumber(ctx context.Context) string {
	return s.gen.NextRequestNumber()
}

func (s *requestService) Create(ctx context.Context, actor *model.User, req CreateRequestDTO) (*RequestResponse, error) {
	if !personalNumberPattern.MatchString(req.PersonalNumber) {
		return nil, apperr.Validation("personal number must be exactly 9 digits")
	}
	if req.RequestNumber != "" && !idgen.ValidRequestNumber(req.RequestNumber) {
		return nil, apperr.Validation("request number %q is malformed", req.RequestNumber)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	var created *model.Request
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(createBackoff * time.Duration(1<<attempt))
		}

		number := req.RequestNumber
		if number == "" || attempt > 0 {
			number = s.gen.NextRequestNumber()
		}

		request := &model.Request{
			UserID:                    actor.ID,
			RequestNumber:             number,
			UniqueCode:                idgen.NewUniqueCode(),
			FullName:                  req.FullName,
			PersonalNumber:            req.PersonalNumber,
			PhoneNumber:               req.PhoneNumber,
			BuildingName:              req.BuildingName,
			RoadName:                  req.RoadName,
			BuildingNumber:            req.BuildingNumber,
			CivilDefenseFileNumber:    req.CivilDefenseFileNumber,
			BuildingPermitNumber:      req.BuildingPermitNumber,
			LicensesSection:           req.LicensesSection,
			FireEquipmentSection:      req.FireEquipmentSection,
			CommercialRecordsSection:  req.CommercialRecordsSection,
			EngineeringOfficesSection: req.EngineeringOfficesSection,
			HazardousMaterialsSection: req.HazardousMaterialsSection,
			Status:                    model.RequestStatusPending,
		}

		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			if createErr := s.requests.Create(txCtx, request); createErr != nil {
				return createErr
			}
			return s.activities.Log(txCtx, LogActivityRequest{
				UserID:       actor.ID,
				ActivityType: model.ActivityRequestCreated,
				Description:  fmt.Sprintf("إنشاء الطلب %s", request.RequestNumber),
				Details: map[string]interface{}{
					"request_id":     request.ID,
					"request_number": request.RequestNumber,
					"unique_code":    request.UniqueCode,
				},
			})
		})
		if err == nil {
			created = request
			break
		}

		lastErr = err
		if !isDuplicateErr(err) {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		s.logger.Warn("request identifier collision, regenerating",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if created == nil {
		return nil, apperr.Conflict("could not allocate unique request identifiers: %v", lastErr)
	}

	resp := toRequestResponse(created)
	return &resp, nil
}

func (s *requestService) GetByID(ctx context.Context, actor *model.User, id uint) (*RequestResponse, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if err := s.authorizeRead(ctx, actor, request, model.ActivityCrossUserRequestViewed,
		fmt.Sprintf("عرض الطلب %s بواسطة مشرف", request.RequestNumber)); err != nil {
		return nil, err
	}

	resp := toRequestResponse(request)
	return &resp, nil
}

func (s *requestService) GetByNumber(ctx context.Context, actor *model.User, number string) (*RequestResponse, error) {
	request, err := s.requests.GetByRequestNumber(ctx, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", number)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if err := s.authorizeRead(ctx, actor, request, model.ActivityCrossUserRequestViewed,
		fmt.Sprintf("عرض الطلب %s برقم الطلب بواسطة مشرف", request.RequestNumber)); err != nil {
		return nil, err
	}

	resp := toRequestResponse(request)
	return &resp, nil
}

func (s *requestService) GetByUniqueCode(ctx context.Context, actor *model.User, code string) (*RequestResponse, error) {
	request, err := s.requests.GetByUniqueCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", code)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if err := s.authorizeRead(ctx, actor, request, model.ActivityCrossUserRequestViewed,
		fmt.Sprintf("عرض الطلب %s بالرمز المميز بواسطة مشرف", request.RequestNumber)); err != nil {
		return nil, err
	}

	resp := toRequestResponse(request)
	return &resp, nil
}

// authorizeRead enforces ownership: owners pass, admins pass with a cross-user
// entry written to the owner's feed, everyone else is treated as a miss.
func (s *requestService) authorizeRead(ctx context.Context, actor *model.User, request *model.Request, activityType, description string) error {
	if actor.ID == request.UserID {
		return nil
	}
	if !actor.IsAdmin() && actor.Role != model.RoleManager {
		return apperr.NotFound("request", request.ID)
	}
	if err := s.activities.LogCrossUserAccess(ctx, request.UserID, actor, activityType, description, map[string]interface{}{
		"request_id":     request.ID,
		"request_number": request.RequestNumber,
	}); err != nil {
		s.logger.Warn("failed to log cross-user access", zap.Error(err))
	}
	return nil
}

func (s *requestService) List(ctx context.Context, actor *model.User, filter repository.RequestFilter, page, limit int) ([]RequestResponse, int64, error) {
	// Non-admin callers only ever see their own requests.
	if !actor.IsAdmin() && actor.Role != model.RoleManager {
		filter.UserID = actor.ID
	}

	requests, total, err := s.requests.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	responses := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		responses = append(responses, toRequestResponse(&requests[i]))
	}
	return responses, total, nil
}

func (s *requestService) Update(ctx context.Context, actor *model.User, id uint, req UpdateRequestDTO) (*RequestResponse, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	crossUser := actor.ID != request.UserID
	if crossUser && !actor.IsAdmin() && actor.Role != model.RoleManager {
		return nil, apperr.NotFound("request", id)
	}

	// Each applied field lands in changes as an old/new pair for the activity
	// entry, so the feed shows exactly what an edit touched.
	changes := make(map[string]interface{})
	setString := func(field string, dst *string, val string) {
		if val == *dst {
			return
		}
		changes[field] = map[string]interface{}{"old": *dst, "new": val}
		*dst = val
	}
	setBool := func(field string, dst *bool, val *bool) {
		if val == nil || *val == *dst {
			return
		}
		changes[field] = map[string]interface{}{"old": *dst, "new": *val}
		*dst = *val
	}

	if req.FullName != "" {
		setString("full_name", &request.FullName, req.FullName)
	}
	if req.PersonalNumber != "" {
		if !personalNumberPattern.MatchString(req.PersonalNumber) {
			return nil, apperr.Validation("personal number must be exactly 9 digits")
		}
		setString("personal_number", &request.PersonalNumber, req.PersonalNumber)
	}
	if req.PhoneNumber != nil {
		setString("phone_number", &request.PhoneNumber, *req.PhoneNumber)
	}
	if req.BuildingName != nil {
		setString("building_name", &request.BuildingName, *req.BuildingName)
	}
	if req.RoadName != nil {
		setString("road_name", &request.RoadName, *req.RoadName)
	}
	if req.BuildingNumber != nil {
		setString("building_number", &request.BuildingNumber, *req.BuildingNumber)
	}
	if req.CivilDefenseFileNumber != nil {
		setString("civil_defense_file_number", &request.CivilDefenseFileNumber, *req.CivilDefenseFileNumber)
	}
	if req.BuildingPermitNumber != nil {
		setString("building_permit_number", &request.BuildingPermitNumber, *req.BuildingPermitNumber)
	}
	setBool("licenses_section", &request.LicensesSection, req.LicensesSection)
	setBool("fire_equipment_section", &request.FireEquipmentSection, req.FireEquipmentSection)
	setBool("commercial_records_section", &request.CommercialRecordsSection, req.CommercialRecordsSection)
	setBool("engineering_offices_section", &request.EngineeringOfficesSection, req.EngineeringOfficesSection)
	setBool("hazardous_materials_section", &request.HazardousMaterialsSection, req.HazardousMaterialsSection)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.requests.Update(txCtx, request); err != nil {
			return err
		}
		if crossUser {
			return s.activities.LogCrossUserAccess(txCtx, request.UserID, actor,
				model.ActivityCrossUserRequestEdited,
				fmt.Sprintf("تعديل الطلب %s بواسطة مشرف", request.RequestNumber),
				map[string]interface{}{
					"request_id":     request.ID,
					"request_number": request.RequestNumber,
					"changes":        changes,
				})
		}
		return s.activities.LogRequestEdit(txCtx, request, changes)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	resp := toRequestResponse(request)
	return &resp, nil
}

func (s *requestService) UpdateStatus(ctx context.Context, actor *model.User, id uint, newStatus string) (*RequestResponse, error) {
	if !model.ValidRequestStatus(newStatus) {
		return nil, apperr.Validation("unknown status %q", newStatus)
	}

	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	crossUser := actor.ID != request.UserID
	if crossUser && !actor.IsAdmin() && actor.Role != model.RoleManager {
		return nil, apperr.NotFound("request", id)
	}

	oldStatus := request.Status
	if oldStatus == newStatus {
		resp := toRequestResponse(request)
		return &resp, nil
	}
	request.Status = newStatus

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.requests.Update(txCtx, request); err != nil {
			return err
		}
		if crossUser {
			if err := s.activities.LogCrossUserAccess(txCtx, request.UserID, actor,
				model.ActivityCrossUserRequestStatusUpdated,
				fmt.Sprintf("تحديث حالة الطلب %s إلى %s بواسطة مشرف", request.RequestNumber, newStatus),
				map[string]interface{}{
					"request_id": request.ID, "request_number": request.RequestNumber,
					"old_status": oldStatus, "new_status": newStatus,
				}); err != nil {
				return err
			}
		}
		return s.activities.LogRequestTransition(txCtx, request, oldStatus)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}

	// A transition into COMPLETED advances achievements exactly once.
	if oldStatus != model.RequestStatusCompleted && newStatus == model.RequestStatusCompleted {
		if err := s.achievements.UpdateProgress(ctx, request.UserID, 1, request.UpdatedAt); err != nil {
			s.logger.Error("failed to record achievement completion",
				zap.Uint("user_id", request.UserID), zap.Error(err))
		}
	}

	s.broadcastStatus(request, oldStatus)

	resp := toRequestResponse(request)
	return &resp, nil
}

func (s *requestService) broadcastStatus(request *model.Request, oldStatus string) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"event":          "request_status_changed",
		"request_id":     request.ID,
		"request_number": request.RequestNumber,
		"user_id":        request.UserID,
		"old_status":     oldStatus,
		"new_status":     request.Status,
	})
	if err != nil {
		return
	}
	select {
	case s.hub.GetBroadcast() <- payload:
	default:
		// Hub backlogged, drop rather than block the request path.
	}
}

// Archive hides the request from default listings. Restore brings it back.
// Neither touches files or status.
func (s *requestService) Archive(ctx context.Context, actor *model.User, id uint) (*RequestResponse, error) {
	return s.setArchived(ctx, actor, id, true)
}

func (s *requestService) Restore(ctx context.Context, actor *model.User, id uint) (*RequestResponse, error) {
	return s.setArchived(ctx, actor, id, false)
}

func (s *requestService) setArchived(ctx context.Context, actor *model.User, id uint, archived bool) (*RequestResponse, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	crossUser := actor.ID != request.UserID
	if crossUser && !actor.IsAdmin() && actor.Role != model.RoleManager {
		return nil, apperr.NotFound("request", id)
	}

	if request.IsArchived == archived {
		resp := toRequestResponse(request)
		return &resp, nil
	}
	request.IsArchived = archived

	description := fmt.Sprintf("أرشفة الطلب %s", request.RequestNumber)
	action := "archived"
	if !archived {
		description = fmt.Sprintf("استعادة الطلب %s", request.RequestNumber)
		action = "restored"
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.requests.Update(txCtx, request); err != nil {
			return err
		}
		details := map[string]interface{}{
			"request_id":     request.ID,
			"request_number": request.RequestNumber,
			"action":         action,
		}
		if crossUser {
			return s.activities.LogCrossUserAccess(txCtx, request.UserID, actor,
				model.ActivityCrossUserRequestEdited, description+" بواسطة مشرف", details)
		}
		return s.activities.Log(txCtx, LogActivityRequest{
			UserID:       request.UserID,
			ActivityType: model.ActivityRequestUpdated,
			Description:  description,
			Details:      details,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change archive state: %w", err)
	}

	resp := toRequestResponse(request)
	return &resp, nil
}

// Delete removes the request with its file rows and its directory on disk.
func (s *requestService) Delete(ctx context.Context, actor *model.User, id uint) error {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("request", id)
		}
		return fmt.Errorf("failed to load request: %w", err)
	}

	if !actor.IsAdmin() {
		if actor.ID != request.UserID {
			return apperr.NotFound("request", id)
		}
		if request.Status != model.RequestStatusPending {
			return apperr.Validation("only pending requests can be deleted by their owner")
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.requests.Delete(txCtx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}

	// Disk cleanup after the rows are gone. A leftover directory is only an
	// orphan on disk, never a dangling database row.
	if err := s.store.DeleteRequestDir(request.RequestNumber); err != nil {
		s.logger.Warn("failed to remove request directory",
			zap.String("request_number", request.RequestNumber), zap.Error(err))
	}

	return nil
}

// UploadFiles validates every file before any bytes are written, then stores
// each file independently so one bad file never sinks the batch.
func (s *requestService) UploadFiles(ctx context.Context, actor *model.User, requestID uint, uploads []FileUpload) (*UploadReport, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request", requestID)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if actor.ID != request.UserID && !actor.IsAdmin() && actor.Role != model.RoleManager {
		return nil, apperr.NotFound("request", requestID)
	}

	// A category outside the documented set is a caller error, not a bad
	// file; the whole batch is refused before any bytes are written.
	for _, up := range uploads {
		if up.Category != "" && !model.ValidFileCategory(up.Category) {
			return nil, apperr.Validation("unknown file category %q", up.Category)
		}
	}

	report := &UploadReport{TotalFilesProcessed: len(uploads)}

	// Phase one: validate everything up front.
	rejected := make(map[int]bool)
	for i, up := range uploads {
		if err := s.store.Validate(up.OriginalName, int64(len(up.Content))); err != nil {
			report.Errors = append(report.Errors, err.Error())
			rejected[i] = true
			continue
		}
		warning, err := s.store.Scan(up.OriginalName, up.MimeType, up.Content)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			rejected[i] = true
			continue
		}
		if warning != "" {
			report.Warnings = append(report.Warnings, warning)
		}
	}

	// Phase two: store the survivors one by one.
	for i, up := range uploads {
		if rejected[i] {
			continue
		}
		saved, err := s.storeOne(ctx, request, actor, up)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("file %q: %v", up.OriginalName, err))
			continue
		}
		report.SavedFiles = append(report.SavedFiles, *saved)
		report.SuccessfulUploads++
	}

	return report, nil
}

// storeOne writes the file to disk, then inserts the row with a short retry.
// If the database insert ultimately fails the stored file is removed so disk
// and database stay consistent.
func (s *requestService) storeOne(ctx context.Context, request *model.Request, actor *model.User, up FileUpload) (*FileResponse, error) {
	category := up.Category
	if category == "" {
		category = model.FileCategoryGeneral
	}

	storedName := s.store.StoredName(category, request.RequestNumber, up.FieldID, up.OriginalName)
	result, err := s.store.Save(request.RequestNumber, storedName, up.Content)
	if err != nil {
		return nil, err
	}

	file := &model.File{
		RequestID:        request.ID,
		Filename:         result.StoredName,
		OriginalFilename: up.OriginalName,
		FilePath:         result.Path,
		FileSize:         result.Size,
		MimeType:         up.MimeType,
		FileCategory:     category,
	}

	var lastErr error
	for attempt := 0; attempt < dbWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(createBackoff * time.Duration(1<<attempt))
		}
		lastErr = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			if err := s.files.Create(txCtx, file); err != nil {
				return err
			}
			return s.activities.Log(txCtx, LogActivityRequest{
				UserID:       request.UserID,
				ActivityType: model.ActivityFileUploaded,
				Description:  fmt.Sprintf("رفع الملف %s للطلب %s", up.OriginalName, request.RequestNumber),
				Details: map[string]interface{}{
					"request_id": request.ID,
					"file_name":  result.StoredName,
					"file_size":  result.Size,
					"category":   category,
				},
			})
		})
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		// Row never landed: remove the bytes so no unreferenced file remains.
		if rmErr := s.store.Delete(result.Path); rmErr != nil {
			s.logger.Error("failed to remove orphaned file after db error",
				zap.String("path", result.Path), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("failed to persist file record: %w", lastErr)
	}

	resp := toFileResponse(*file)
	return &resp, nil
}


// DownloadFile resolves a file row for streaming. The caller serves the bytes
// from FilePath; admin reads of another user's file land in the owner's feed.
func (s *requestService) DownloadFile(ctx context.Context, actor *model.User, fileID uint) (*model.File, error) {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("file", fileID)
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	request, err := s.requests.GetByID(ctx, file.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owning request: %w", err)
	}

	if actor.ID != request.UserID {
		if !actor.IsAdmin() && actor.Role != model.RoleManager {
			return nil, apperr.NotFound("file", fileID)
		}
		if err := s.activities.LogCrossUserAccess(ctx, request.UserID, actor,
			model.ActivityCrossUserFileAccessed,
			fmt.Sprintf("تنزيل الملف %s من الطلب %s بواسطة مشرف", file.OriginalFilename, request.RequestNumber),
			map[string]interface{}{"request_id": request.ID, "file_id": fileID}); err != nil {
			s.logger.Warn("failed to log cross-user file access", zap.Error(err))
		}
	}

	return file, nil
}

func (s *requestService) DeleteFile(ctx context.Context, actor *model.User, fileID uint) error {
	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("file", fileID)
		}
		return fmt.Errorf("failed to load file: %w", err)
	}

	request, err := s.requests.GetByID(ctx, file.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load owning request: %w", err)
	}

	crossUser := actor.ID != request.UserID
	if crossUser && !actor.IsAdmin() {
		return apperr.NotFound("file", fileID)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.files.Delete(txCtx, fileID); err != nil {
			return err
		}
		activityType := model.ActivityFileDeleted
		description := fmt.Sprintf("حذف الملف %s من الطلب %s", file.OriginalFilename, request.RequestNumber)
		if crossUser {
			return s.activities.LogCrossUserAccess(txCtx, request.UserID, actor,
				model.ActivityCrossUserFileDeleted, description,
				map[string]interface{}{"request_id": request.ID, "file_id": fileID})
		}
		return s.activities.Log(txCtx, LogActivityRequest{
			UserID:       request.UserID,
			ActivityType: activityType,
			Description:  description,
			Details:      map[string]interface{}{"request_id": request.ID, "file_id": fileID},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	if err := s.store.Delete(file.FilePath); err != nil {
		s.logger.Warn("failed to remove file from disk",
			zap.String("path", file.FilePath), zap.Error(err))
	}
	return nil
}

func (s *requestService) StatusCounts(ctx context.Context, actor *model.User, userID uint) (map[string]int64, error) {
	if !actor.IsAdmin() && actor.Role != model.RoleManager {
		userID = actor.ID
	}
	counts, err := s.requests.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	return counts, nil
}

// --- Helpers ---

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

func toRequestResponse(r *model.Request) RequestResponse {
	resp := RequestResponse{
		ID:                        r.ID,
		UserID:                    r.UserID,
		RequestNumber:             r.RequestNumber,
		UniqueCode:                r.UniqueCode,
		FullName:                  r.FullName,
		PersonalNumber:            r.PersonalNumber,
		PhoneNumber:               r.PhoneNumber,
		Status:                    r.Status,
		IsArchived:                r.IsArchived,
		CreatedAt:                 normalizeUTC(r.CreatedAt).Format(time.RFC3339),
		UpdatedAt:                 normalizeUTC(r.UpdatedAt).Format(time.RFC3339),
		BuildingName:              r.BuildingName,
		RoadName:                  r.RoadName,
		BuildingNumber:            r.BuildingNumber,
		CivilDefenseFileNumber:    r.CivilDefenseFileNumber,
		BuildingPermitNumber:      r.BuildingPermitNumber,
		LicensesSection:           r.LicensesSection,
		FireEquipmentSection:      r.FireEquipmentSection,
		CommercialRecordsSection:  r.CommercialRecordsSection,
		EngineeringOfficesSection: r.EngineeringOfficesSection,
		HazardousMaterialsSection: r.HazardousMaterialsSection,
	}
	resp.Files = make([]FileResponse, 0, len(r.Files))
	for _, f := range r.Files {
		resp.Files = append(resp.Files, toFileResponse(f))
	}
	return resp
}

func toFileResponse(f model.File) FileResponse {
	return FileResponse{
		ID:               f.ID,
		RequestID:        f.RequestID,
		Filename:         f.Filename,
		OriginalFilename: f.OriginalFilename,
		FileSize:         f.FileSize,
		MimeType:         f.MimeType,
		FileCategory:     f.FileCategory,
		CreatedAt:        normalizeUTC(f.CreatedAt).Format(time.RFC3339),
	}
}
