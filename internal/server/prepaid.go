package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
)

type openPrepaidTermRequest struct {
	CustomerID  string `json:"customer_id"`
	ServiceType string `json:"service_type"`
	Amount      string `json:"amount"`
	Units       string `json:"units"`
}

type replenishRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) OpenPrepaidTerm(c *gin.Context) {
	var req openPrepaidTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}
	amount, err := parseDecimalOrZero(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}
	units, err := parseDecimalOrZero(req.Units)
	if err != nil {
		AbortWithError(c, newValidationError("units", "invalid_units", "invalid units"))
		return
	}

	resp, err := s.prepaidSvc.OpenTerm(c.Request.Context(), prepaiddomain.OpenTermRequest{
		CustomerID:  customerID,
		ServiceType: strings.TrimSpace(req.ServiceType),
		Amount:      amount,
		Units:       units,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPrepaidBalance(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	balance, err := s.prepaidSvc.Get(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	consumptions, err := s.prepaidSvc.ListConsumptions(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance":      balance,
		"consumptions": consumptions,
	}})
}

func (s *Server) ReplenishPrepaid(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req replenishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	amount, err := parseDecimalOrZero(req.Amount)
	if err != nil || !amount.IsPositive() {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	resp, err := s.prepaidSvc.Replenish(c.Request.Context(), customerID, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
