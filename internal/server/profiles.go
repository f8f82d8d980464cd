package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
)

type createProfileRequest struct {
	CustomerID             string `json:"customer_id"`
	CompanyID              string `json:"company_id"`
	StorageCycle           string `json:"storage_cycle"`
	ServiceCycle           string `json:"service_cycle"`
	BillingDay             int    `json:"billing_day"`
	PrepaidTermMonths      *int   `json:"prepaid_term_months"`
	PrepaidStartDate       string `json:"prepaid_start_date"`
	PrepaidDiscountPercent string `json:"prepaid_discount_percent"`
	AutoGenerateStorage    bool   `json:"auto_generate_storage"`
	AutoGenerateService    bool   `json:"auto_generate_service"`
}

type changeCyclesRequest struct {
	StorageCycle      string `json:"storage_cycle"`
	ServiceCycle      string `json:"service_cycle"`
	PrepaidTermMonths *int   `json:"prepaid_term_months"`
	PrepaidStartDate  string `json:"prepaid_start_date"`
}

func (s *Server) CreateProfile(c *gin.Context) {
	var req createProfileRequest
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
	startDate, err := parseOptionalDate(req.PrepaidStartDate)
	if err != nil {
		AbortWithError(c, newValidationError("prepaid_start_date", "invalid_prepaid_start_date", "invalid prepaid_start_date"))
		return
	}
	discount, err := parseDecimalOrZero(req.PrepaidDiscountPercent)
	if err != nil {
		AbortWithError(c, newValidationError("prepaid_discount_percent", "invalid_prepaid_discount_percent", "invalid prepaid_discount_percent"))
		return
	}

	resp, err := s.profileSvc.Create(c.Request.Context(), billingprofiledomain.CreateProfileRequest{
		CustomerID:             customerID,
		CompanyID:              companyID,
		StorageCycle:           billingprofiledomain.StorageCycle(strings.TrimSpace(req.StorageCycle)),
		ServiceCycle:           billingprofiledomain.ServiceCycle(strings.TrimSpace(req.ServiceCycle)),
		BillingDay:             req.BillingDay,
		PrepaidTermMonths:      req.PrepaidTermMonths,
		PrepaidStartDate:       startDate,
		PrepaidDiscountPercent: discount,
		AutoGenerateStorage:    req.AutoGenerateStorage,
		AutoGenerateService:    req.AutoGenerateService,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetProfile(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.profileSvc.Get(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ChangeProfileCycles(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req changeCyclesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	startDate, err := parseOptionalDate(req.PrepaidStartDate)
	if err != nil {
		AbortWithError(c, newValidationError("prepaid_start_date", "invalid_prepaid_start_date", "invalid prepaid_start_date"))
		return
	}

	resp, err := s.profileSvc.ChangeCycles(c.Request.Context(), customerID, billingprofiledomain.ChangeCyclesRequest{
		StorageCycle:      billingprofiledomain.StorageCycle(strings.TrimSpace(req.StorageCycle)),
		ServiceCycle:      billingprofiledomain.ServiceCycle(strings.TrimSpace(req.ServiceCycle)),
		PrepaidTermMonths: req.PrepaidTermMonths,
		PrepaidStartDate:  startDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateProfile(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	if err := s.profileSvc.Deactivate(c.Request.Context(), customerID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
