package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"taxiflow/middleware"
	"taxiflow/models"
	"taxiflow/services"
)

type RunHandler struct {
	db    *gorm.DB
	cache *services.CacheService
}

func NewRunHandler(db *gorm.DB, cache *services.CacheService) *RunHandler {
	return &RunHandler{db: db, cache: cache}
}

// ListRuns pages through batch runs, newest first. The cursor is the
// started_at of the last run returned.
func (h *RunHandler) ListRuns(c *gin.Context) {
	p := ParsePagination(c)
	f, err := ParseRunFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	details := canSeeRunErrors(c)
	cacheKey := p.cacheKey(f, details)

	var cached CursorResponse
	if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && cached.Data != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	query := h.db.Model(&models.BatchRun{}).Order("started_at DESC").Limit(p.Limit + 1)
	if p.Before != nil {
		query = query.Where("started_at < ?", *p.Before)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.BatchID != "" {
		query = query.Where("batch_id = ?", f.BatchID)
	}

	var rows []models.BatchRun
	if err := query.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	if !details {
		for i := range rows {
			redactRunError(&rows[i])
		}
	}
	resp := p.runPage(rows)
	go h.cache.Set(context.Background(), cacheKey, resp, 5*time.Second)

	c.JSON(http.StatusOK, resp)
}

// GetRun returns a single run by id.
func (h *RunHandler) GetRun(c *gin.Context) {
	var run models.BatchRun
	err := h.db.Where("run_id = ?", c.Param("id")).First(&run).Error
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}
	if !canSeeRunErrors(c) {
		redactRunError(&run)
	}
	c.JSON(http.StatusOK, run)
}

// Error texts carry host paths and internal causes, so only admins get them.
const redactedRunError = "run failed, details restricted to admins"

func canSeeRunErrors(c *gin.Context) bool {
	v, ok := c.Get(middleware.ClaimsKey)
	if !ok {
		return false
	}
	claims, ok := v.(*services.Claims)
	return ok && claims.Role == models.RoleAdmin
}

func redactRunError(run *models.BatchRun) {
	if run.Error != nil {
		msg := redactedRunError
		run.Error = &msg
	}
}
