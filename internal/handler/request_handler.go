package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/Almanaei/cmsvs-sub000/internal/middleware"
	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/repository"
	"github.com/Almanaei/cmsvs-sub000/internal/service"
	"github.com/Almanaei/cmsvs-sub000/pkg/pagination"
	"github.com/Almanaei/cmsvs-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	requestService service.RequestService
	userService    service.UserService
}

func NewRequestHandler(requestService service.RequestService, userService service.UserService) *RequestHandler {
	return &RequestHandler{requestService: requestService, userService: userService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	auth := middleware.RequireAuth(h.userService)

	requests := router.Group("/requests", auth)
	{
		requests.POST("", h.CreateRequest)
		requests.GET("", h.ListRequests)
		requests.GET("/pregenerate", h.PregenerateNumber)
		requests.GET("/stats", h.StatusCounts)
		requests.GET("/code/:code", h.GetByUniqueCode)
		requests.GET("/number/:number", h.GetByNumber)
		requests.GET("/:id", h.GetRequest)
		requests.PUT("/:id", h.UpdateRequest)
		requests.PUT("/:id/status", middleware.RequireRole(model.RoleAdmin, model.RoleManager), h.UpdateStatus)
		requests.PUT("/:id/archive", h.ArchiveRequest)
		requests.PUT("/:id/restore", h.RestoreRequest)
		requests.DELETE("/:id", h.DeleteRequest)
		requests.POST("/:id/files", h.UploadFiles)
	}

	files := router.Group("/files", auth)
	{
		files.GET("/:id", h.DownloadFile)
		files.DELETE("/:id", h.DeleteFile)
	}
}

// PregenerateNumber handles GET /requests/pregenerate
// @Summary      Pre-generate a request number
// @Description  Returns the next request number for display on the new-request form
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response
// @Router       /requests/pregenerate [get]
func (h *RequestHandler) PregenerateNumber(c *gin.Context) {
	number := h.requestService.PregenerateRequestNumber(c.Request.Context())
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"request_number": number}))
}

// CreateRequest handles POST /requests
// @Summary      Create a licensing request
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateRequestDTO  true  "Request Payload"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req service.CreateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.Create(c.Request.Context(), user, req)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests handles GET /requests
// @Summary      List requests
// @Description  Admins and managers see all requests; users see their own
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        status    query     string  false  "Filter by status"
// @Param        search    query     string  false  "Search term"
// @Param        archived  query     bool    false  "Include archived requests"
// @Param        page    query     int     false  "Page"
// @Param        limit   query     int     false  "Limit"
// @Success      200     {object}  response.Response{data=[]service.RequestResponse}
// @Router       /requests [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	p := pagination.Parse(c)

	filter := repository.RequestFilter{
		Status:          c.Query("status"),
		Search:          c.Query("search"),
		IncludeArchived: c.Query("archived") == "true",
	}
	if raw := c.Query("user_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			filter.UserID = uint(id)
		}
	}

	requests, total, err := h.requestService.List(c.Request.Context(), user, filter, p.Page, p.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, requests, pagination.NewMeta(p, total)))
}

// GetRequest handles GET /requests/:id
// @Summary      Get a request by id
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	result, err := h.requestService.GetByID(c.Request.Context(), user, uint(id))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// GetByUniqueCode handles GET /requests/code/:code
// @Summary      Get a request by its unique code
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        code  path      string  true  "Unique code"
// @Success      200   {object}  response.Response{data=service.RequestResponse}
// @Failure      404   {object}  response.Response
// @Router       /requests/code/{code} [get]
func (h *RequestHandler) GetByUniqueCode(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	result, err := h.requestService.GetByUniqueCode(c.Request.Context(), user, c.Param("code"))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// GetByNumber handles GET /requests/number/:number
// @Summary      Get a request by its request number
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        number  path      string  true  "Request number"
// @Success      200     {object}  response.Response{data=service.RequestResponse}
// @Failure      404     {object}  response.Response
// @Router       /requests/number/{number} [get]
func (h *RequestHandler) GetByNumber(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	result, err := h.requestService.GetByNumber(c.Request.Context(), user, c.Param("number"))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// UpdateRequest handles PUT /requests/:id
// @Summary      Update request fields
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      int                       true  "Request ID"
// @Param        payload  body      service.UpdateRequestDTO  true  "Update Payload"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      404      {object}  response.Response
// @Router       /requests/{id} [put]
func (h *RequestHandler) UpdateRequest(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	var req service.UpdateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.Update(c.Request.Context(), user, uint(id), req)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// UpdateStatus handles PUT /requests/:id/status
// @Summary      Update request status
// @Description  Transitions into COMPLETED advance achievement progress
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      int     true  "Request ID"
// @Param        payload  body      object  true  "Status Payload"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /requests/{id}/status [put]
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.UpdateStatus(c.Request.Context(), user, uint(id), req.Status)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ArchiveRequest handles PUT /requests/:id/archive
// @Summary      Archive a request
// @Description  Archived requests are hidden from default listings
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /requests/{id}/archive [put]
func (h *RequestHandler) ArchiveRequest(c *gin.Context) {
	h.setArchived(c, true)
}

// RestoreRequest handles PUT /requests/:id/restore
// @Summary      Restore an archived request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /requests/{id}/restore [put]
func (h *RequestHandler) RestoreRequest(c *gin.Context) {
	h.setArchived(c, false)
}

func (h *RequestHandler) setArchived(c *gin.Context, archived bool) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	op := h.requestService.Restore
	if archived {
		op = h.requestService.Archive
	}
	result, err := op(c.Request.Context(), user, uint(id))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DeleteRequest handles DELETE /requests/:id
// @Summary      Delete a request
// @Description  Removes the request, its file rows and its stored files
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Request ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /requests/{id} [delete]
func (h *RequestHandler) DeleteRequest(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	if err := h.requestService.Delete(c.Request.Context(), user, uint(id)); err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "request deleted"}))
}

// UploadFiles handles POST /requests/:id/files (multipart)
// @Summary      Upload files to a request
// @Description  Validates every file first, then stores each independently
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      int   true  "Request ID"
// @Param        files  formData  file  true  "Files"
// @Success      200    {object}  response.Response{data=service.UploadReport}
// @Failure      400    {object}  response.Response
// @Router       /requests/{id}/files [post]
func (h *RequestHandler) UploadFiles(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid multipart form: "+err.Error()))
		return
	}

	category := c.PostForm("category")
	var uploads []service.FileUpload
	for field, headers := range form.File {
		for _, header := range headers {
			src, err := header.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Failed to read file "+header.Filename))
				return
			}
			content, err := io.ReadAll(src)
			src.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Failed to read file "+header.Filename))
				return
			}
			uploads = append(uploads, service.FileUpload{
				FieldID:      field,
				OriginalName: header.Filename,
				MimeType:     header.Header.Get("Content-Type"),
				Category:     category,
				Content:      content,
			})
		}
	}

	report, err := h.requestService.UploadFiles(c.Request.Context(), user, uint(id), uploads)
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// DownloadFile handles GET /files/:id
// @Summary      Download a stored file
// @Tags         requests
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        id   path      int  true  "File ID"
// @Success      200  {file}    binary
// @Failure      404  {object}  response.Response
// @Router       /files/{id} [get]
func (h *RequestHandler) DownloadFile(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid file id"))
		return
	}

	file, err := h.requestService.DownloadFile(c.Request.Context(), user, uint(id))
	if err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.FileAttachment(file.FilePath, file.OriginalFilename)
}

// DeleteFile handles DELETE /files/:id
// @Summary      Delete a stored file
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "File ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /files/{id} [delete]
func (h *RequestHandler) DeleteFile(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid file id"))
		return
	}

	if err := h.requestService.DeleteFile(c.Request.Context(), user, uint(id)); err != nil {
		c.JSON(httpStatus(err), response.Error(httpStatus(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "file deleted"}))
}

// StatusCounts handles GET /requests/stats
// @Summary      Request counts by status
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     int  false  "Scope to one user (staff only)"
// @Success      200      {object}  response.Response
// @Router       /requests/stats [get]
func (h *RequestHandler) StatusCounts(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			userID = uint(id)
		}
	}

	counts, err := h.requestService.StatusCounts(c.Request.Context(), user, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, counts))
}
