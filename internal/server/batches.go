package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storagebill/internal/clock"
)

type runBatchRequest struct {
	Date string `json:"date"`
}

// RunBatch runs a sweep synchronously. The run date comes from the date query
// parameter or body and defaults to today.
func (s *Server) RunBatch(c *gin.Context) {
	raw := c.Query("date")
	if raw == "" && c.Request.ContentLength > 0 {
		var req runBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		raw = req.Date
	}

	runDate := clock.Today(s.clock)
	if raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
			return
		}
		runDate = parsed
	}

	rep, err := s.scheduler.RunBatch(c.Request.Context(), runDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rep})
}

func (s *Server) ListBatches(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), 20)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	records, err := s.reports.ListRecent(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(records))
	for _, record := range records {
		items = append(items, gin.H{
			"run_id":      record.RunID,
			"run_date":    record.RunDate.Format(dateOnlyLayout),
			"succeeded":   record.Succeeded,
			"skipped":     record.Skipped,
			"failed":      record.Failed,
			"alerts":      record.Alerts,
			"started_at":  record.StartedAt,
			"finished_at": record.FinishedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetBatch(c *gin.Context) {
	rep, err := s.reports.Get(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rep == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rep})
}

func (s *Server) BillEvent(c *gin.Context) {
	eventID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	period, err := s.scheduler.BillImmediate(c.Request.Context(), eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": period})
}
