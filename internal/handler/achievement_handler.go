package handler

import (
	"net/http"
	"strconv"

	"github.com/Almanaei/cmsvs-sub000/internal/middleware"
	"github.com/Almanaei/cmsvs-sub000/internal/model"
	"github.com/Almanaei/cmsvs-sub000/internal/service"
	"github.com/Almanaei/cmsvs-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

type AchievementHandler struct {
	achievementService service.AchievementService
	userService        service.UserService
}

func NewAchievementHandler(achievementService service.AchievementService, userService service.UserService) *AchievementHandler {
	return &AchievementHandler{achievementService: achievementService, userService: userService}
}

func (h *AchievementHandler) RegisterRoutes(router *gin.RouterGroup) {
	auth := middleware.RequireAuth(h.userService)

	achievements := router.Group("/achievements", auth)
	{
		achievements.GET("/dashboard", h.Dashboard)
		achievements.GET("/leaderboard", h.GlobalLeaderboard)
		achievements.GET("/leaderboard/:type", h.PeriodicLeaderboard)
	}

	competitions := router.Group("/competitions", auth)
	{
		competitions.GET("", h.ListCompetitions)
		competitions.POST("", middleware.RequireRole(model.RoleAdmin), h.CreateCompetition)
		competitions.POST("/:id/join", h.JoinCompetition)
		competitions.GET("/:id/leaderboard", h.CompetitionLeaderboard)
	}
}

// Dashboard handles GET /achievements/dashboard
// @Summary      Achievement dashboard
// @Description  Syncs progress from request ground truth, then returns stats and progress
// @Tags         achievements
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     int  false  "Scope to one user (staff only)"
// @Success      200      {object}  response.Response{data=service.AchievementDashboard}
// @Router       /achievements/dashboard [get]
func (h *AchievementHandler) Dashboard(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	targetID := user.ID
	if user.IsAdmin() || user.Role == model.RoleManager {
		if raw := c.Query("user_id"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
				targetID = uint(id)
			}
		}
	}

	dashboard, err := h.achievementService.Dashboard(c.Request.Context(), targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, dashboard))
}

// GlobalLeaderboard handles GET /achievements/leaderboard
// @Summary      Global points leaderboard
// @Tags         achievements
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Entries (default 10)"
// @Success      200    {object}  response.Response{data=[]service.LeaderboardEntry}
// @Router       /achievements/leaderboard [get]
func (h *AchievementHandler) GlobalLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	entries, err := h.achievementService.GlobalLeaderboard(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}

// PeriodicLeaderboard handles GET /achievements/leaderboard/:type
// @Summary      Leaderboard for the current daily, weekly or monthly window
// @Tags         achievements
// @Produce      json
// @Security     BearerAuth
// @Param        type   path      string  true   "daily, weekly or monthly"
// @Param        limit  query     int     false  "Entries (default 10)"
// @Success      200    {object}  response.Response{data=[]service.LeaderboardEntry}
// @Failure      400    {object}  response.Response
// @Router       /achievements/leaderboard/{type} [get]
func (h *AchievementHandler) PeriodicLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	entries, err := h.achievementService.PeriodicLeaderboard(c.Request.Context(), c.Param("type"), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}

// ListCompetitions handles GET /competitions
// @Summary      List competitions
// @Tags         competitions
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "upcoming, active or finished"
// @Success      200     {object}  response.Response{data=[]model.Competition}
// @Router       /competitions [get]
func (h *AchievementHandler) ListCompetitions(c *gin.Context) {
	comps, err := h.achievementService.ListCompetitions(c.Request.Context(), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, comps))
}

// CreateCompetition handles POST /competitions
// @Summary      Create a competition
// @Tags         competitions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateCompetitionRequest  true  "Competition Payload"
// @Success      201      {object}  response.Response{data=model.Competition}
// @Failure      400      {object}  response.Response
// @Router       /competitions [post]
func (h *AchievementHandler) CreateCompetition(c *gin.Context) {
	var req service.CreateCompetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	comp, err := h.achievementService.CreateCompetition(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, comp))
}

// JoinCompetition handles POST /competitions/:id/join
// @Summary      Join a competition
// @Tags         competitions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Competition ID"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /competitions/{id}/join [post]
func (h *AchievementHandler) JoinCompetition(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid competition id"))
		return
	}

	if err := h.achievementService.JoinCompetition(c.Request.Context(), uint(id), user.ID); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "joined competition"}))
}

// CompetitionLeaderboard handles GET /competitions/:id/leaderboard
// @Summary      Competition leaderboard
// @Tags         competitions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Competition ID"
// @Success      200  {object}  response.Response{data=[]service.LeaderboardEntry}
// @Router       /competitions/{id}/leaderboard [get]
func (h *AchievementHandler) CompetitionLeaderboard(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid competition id"))
		return
	}

	entries, err := h.achievementService.CompetitionLeaderboard(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}
