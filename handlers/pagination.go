package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"taxiflow/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// PaginationParams is a keyset page over batch runs ordered by started_at.
type PaginationParams struct {
	Limit  int
	Before *time.Time
}

type CursorResponse struct {
	Data       interface{} `json:"data"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// RunFilter narrows a run listing. Empty fields match everything.
type RunFilter struct {
	Status  string
	BatchID string
}

func ParsePagination(c *gin.Context) PaginationParams {
	p := PaginationParams{Limit: DefaultLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			p.Limit = min(l, MaxLimit)
		}
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		if t, err := time.Parse(time.RFC3339Nano, beforeStr); err == nil {
			p.Before = &t
		}
	}

	return p
}

// ParseRunFilter reads status and batch_id. Only terminal run states are
// accepted as a status.
func ParseRunFilter(c *gin.Context) (RunFilter, error) {
	f := RunFilter{Status: c.Query("status"), BatchID: c.Query("batch_id")}
	switch f.Status {
	case "", models.RunStatusSucceeded, models.RunStatusFailed:
		return f, nil
	default:
		return f, fmt.Errorf("status must be %s or %s", models.RunStatusSucceeded, models.RunStatusFailed)
	}
}

// cacheKey separates listings by filter, page and whether error details
// were included.
func (p PaginationParams) cacheKey(f RunFilter, details bool) string {
	before := ""
	if p.Before != nil {
		before = p.Before.Format(time.RFC3339Nano)
	}
	scope := "redacted"
	if details {
		scope = "full"
	}
	return fmt.Sprintf("runs:%s:%s:%s:%d:%s", scope, f.Status, f.BatchID, p.Limit, before)
}

// runPage trims the extra Limit+1 row and derives the next cursor from the
// last run kept.
func (p PaginationParams) runPage(rows []models.BatchRun) CursorResponse {
	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}
	resp := CursorResponse{Data: rows, HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		resp.NextCursor = rows[len(rows)-1].StartedAt.Format(time.RFC3339Nano)
	}
	return resp
}
