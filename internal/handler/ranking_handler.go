package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ujianku/ujianku-backend/internal/response"
	"github.com/ujianku/ujianku-backend/internal/service"
)

// RankingHandler serves the admin leaderboard and exam statistics.
type RankingHandler struct {
	rankingService *service.RankingService
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(rankingService *service.RankingService) *RankingHandler {
	return &RankingHandler{rankingService: rankingService}
}

// List godoc
// GET /api/v1/admin/exams/:exam_id/ranking?page=1&limit=25
func (h *RankingHandler) List(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))

	ranking, err := h.rankingService.ListByExam(c.Request.Context(), examID, page, limit)
	if err != nil {
		failRankingError(c, err)
		return
	}

	totalPages := 0
	if ranking.Limit > 0 {
		totalPages = (ranking.Total + ranking.Limit - 1) / ranking.Limit
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"ranking": ranking.Entries}, &response.Pagination{
		Page:       ranking.Page,
		PerPage:    ranking.Limit,
		TotalItems: ranking.Total,
		TotalPages: totalPages,
	})
}

// Stats godoc
// GET /api/v1/admin/exams/:exam_id/stats
func (h *RankingHandler) Stats(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	stats, err := h.rankingService.StatsByExam(c.Request.Context(), examID)
	if err != nil {
		failRankingError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

func failRankingError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrExamNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
