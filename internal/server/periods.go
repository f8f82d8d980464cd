package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
)

type cancelPeriodRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListPeriods(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.periodSvc.List(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPeriod(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	period, err := s.periodSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	lines, err := s.periodSvc.ListLines(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"period": period,
		"lines":  lines,
	}})
}

func (s *Server) ConfirmPeriod(c *gin.Context) {
	s.transitionPeriod(c, s.periodSvc.Confirm)
}

func (s *Server) MarkPeriodInvoiced(c *gin.Context) {
	s.transitionPeriod(c, s.periodSvc.MarkInvoiced)
}

func (s *Server) MarkPeriodPaid(c *gin.Context) {
	s.transitionPeriod(c, s.periodSvc.MarkPaid)
}

func (s *Server) CancelPeriod(c *gin.Context) {
	var req cancelPeriodRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	s.transitionPeriod(c, func(ctx context.Context, id snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
		return s.periodSvc.Cancel(ctx, id, strings.TrimSpace(req.Reason))
	})
}

func (s *Server) transitionPeriod(c *gin.Context, fn func(context.Context, snowflake.ID) (*billingperioddomain.BillingPeriod, error)) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := fn(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
