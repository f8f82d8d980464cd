package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
)

type createRateRecordRequest struct {
	CompanyID      string            `json:"company_id"`
	Version        int               `json:"version"`
	EffectiveDate  string            `json:"effective_date"`
	ExpiryDate     string            `json:"expiry_date"`
	RushMultiplier string            `json:"rush_multiplier"`
	Prices         map[string]string `json:"prices"`
}

type createNegotiatedRateRequest struct {
	CustomerID            string            `json:"customer_id"`
	CompanyID             string            `json:"company_id"`
	BaseRateRecordID      string            `json:"base_rate_record_id"`
	EffectiveDate         string            `json:"effective_date"`
	ExpiryDate            string            `json:"expiry_date"`
	GlobalDiscountPercent string            `json:"global_discount_percent"`
	VolumeThreshold       string            `json:"volume_threshold"`
	VolumeDiscountPercent string            `json:"volume_discount_percent"`
	RushMultiplier        string            `json:"rush_multiplier"`
	Overrides             map[string]string `json:"overrides"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) CreateRateRecord(c *gin.Context) {
	var req createRateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	companyID, err := parseSnowflakeID(req.CompanyID)
	if err != nil {
		AbortWithError(c, newValidationError("company_id", "invalid_company_id", "invalid company_id"))
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		AbortWithError(c, newValidationError("effective_date", "invalid_effective_date", "invalid effective_date"))
		return
	}
	expiry, err := parseOptionalDate(req.ExpiryDate)
	if err != nil {
		AbortWithError(c, newValidationError("expiry_date", "invalid_expiry_date", "invalid expiry_date"))
		return
	}
	rush, err := parseDecimalOrZero(req.RushMultiplier)
	if err != nil {
		AbortWithError(c, newValidationError("rush_multiplier", "invalid_rush_multiplier", "invalid rush_multiplier"))
		return
	}
	prices, err := parsePrices(req.Prices)
	if err != nil {
		AbortWithError(c, newValidationError("prices", "invalid_prices", "invalid prices"))
		return
	}

	resp, err := s.catalogSvc.CreateRateRecord(c.Request.Context(), ratecatalogdomain.CreateRateRecordRequest{
		CompanyID:      companyID,
		Version:        req.Version,
		EffectiveDate:  effective,
		ExpiryDate:     expiry,
		RushMultiplier: rush,
		Prices:         prices,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ActivateRateRecord(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.catalogSvc.ActivateRateRecord(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRateRecords(c *gin.Context) {
	companyID, err := parseSnowflakeID(c.Param("company_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.catalogSvc.ListRateRecords(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateNegotiatedRate(c *gin.Context) {
	var req createNegotiatedRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
		return
	}
	companyID, err := parseSnowflakeID(req.CompanyID)
	if err != nil {
		AbortWithError(c, newValidationError("company_id", "invalid_company_id", "invalid company_id"))
		return
	}
	baseID, err := parseSnowflakeID(req.BaseRateRecordID)
	if err != nil {
		AbortWithError(c, newValidationError("base_rate_record_id", "invalid_base_rate_record_id", "invalid base_rate_record_id"))
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		AbortWithError(c, newValidationError("effective_date", "invalid_effective_date", "invalid effective_date"))
		return
	}
	expiry, err := parseOptionalDate(req.ExpiryDate)
	if err != nil {
		AbortWithError(c, newValidationError("expiry_date", "invalid_expiry_date", "invalid expiry_date"))
		return
	}
	globalDiscount, err := parseDecimalOrZero(req.GlobalDiscountPercent)
	if err != nil {
		AbortWithError(c, newValidationError("global_discount_percent", "invalid_global_discount_percent", "invalid global_discount_percent"))
		return
	}
	threshold, err := parseOptionalDecimal(req.VolumeThreshold)
	if err != nil {
		AbortWithError(c, newValidationError("volume_threshold", "invalid_volume_threshold", "invalid volume_threshold"))
		return
	}
	volumeDiscount, err := parseDecimalOrZero(req.VolumeDiscountPercent)
	if err != nil {
		AbortWithError(c, newValidationError("volume_discount_percent", "invalid_volume_discount_percent", "invalid volume_discount_percent"))
		return
	}
	rush, err := parseOptionalDecimal(req.RushMultiplier)
	if err != nil {
		AbortWithError(c, newValidationError("rush_multiplier", "invalid_rush_multiplier", "invalid rush_multiplier"))
		return
	}
	overrides, err := parsePrices(req.Overrides)
	if err != nil {
		AbortWithError(c, newValidationError("overrides", "invalid_overrides", "invalid overrides"))
		return
	}

	resp, err := s.catalogSvc.CreateNegotiatedRate(c.Request.Context(), ratecatalogdomain.CreateNegotiatedRateRequest{
		CustomerID:            customerID,
		CompanyID:             companyID,
		BaseRateRecordID:      baseID,
		EffectiveDate:         effective,
		ExpiryDate:            expiry,
		GlobalDiscountPercent: globalDiscount,
		VolumeThreshold:       threshold,
		VolumeDiscountPercent: volumeDiscount,
		RushMultiplier:        rush,
		Overrides:             overrides,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) TransitionNegotiatedRate(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.catalogSvc.TransitionNegotiatedRate(
		c.Request.Context(),
		id,
		ratecatalogdomain.NegotiatedRateStatus(strings.TrimSpace(req.Status)),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
