package handler

import (
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

type ActivityHandler struct {
	activityService service.ActivityService
	userService     service.UserService
}

func NewActivityHandler(activityService service.ActivityService, userService service.UserService) *ActivityHandler {
	return &ActivityHandler{activityService: activityService, userService: userService}
}

func (h *ActivityHandler) RegisterRoutes(router *gin.RouterGroup) {
	auth := middleware.RequireAuth(h.userService)

	activities := router.Group("/activities", auth)
	{
		activities.GET("", h.ListActivities)
		activities.GET("/report", h.ActivityReport)
	}
}

// ListActivities handles GET /activities
// @Summary      List activities
// @Description  Users see their own feed; admins may scope to any user
// @Tags         activities
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     int     false  "Scope to one user (staff only)"
// @Param        type     query     string  false  "Filter by activity type"
// @Param        page     query     int     false  "Page"
// @Param        limit    query     int     false  "Limit"
// @Success      200      {object}  response.Response{data=[]service.ActivityResponse}
// @Router       /activities [get]
func (h *ActivityHandler) ListActivities(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	p := pagination.Parse(c)

	filter := repository.ActivityFilter{
		UserID:       user.ID,
		ActivityType: c.Query("type"),
	}
	if user.IsAdmin() || user.Role == model.RoleManager {
		filter.UserID = 0
		if raw := c.Query("user_id"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
				filter.UserID = uint(id)
			}
		}
	}

	activities, total, err := h.activityService.List(c.Request.Context(), filter, p.Page, p.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, activities, pagination.NewMeta(p, total)))
}

// ActivityReport handles GET /activities/report
// @Summary      Activity report over all users
// @Description  Per-user request totals, averages and engagement levels (staff only)
// @Tags         activities
// @Produce      json
// @Security     BearerAuth
// @Param        months  query     int  false  "Period in months (default 3)"
// @Success      200     {object}  response.Response{data=service.ActivityReport}
// @Failure      403     {object}  response.Response
// @Router       /activities/report [get]
func (h *ActivityHandler) ActivityReport(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	if !user.IsAdmin() && user.Role != model.RoleManager {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "insufficient permissions"))
		return
	}

	months, _ := strconv.Atoi(c.DefaultQuery("months", "3"))

	report, err := h.activityService.Report(c.Request.Context(), months)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}
