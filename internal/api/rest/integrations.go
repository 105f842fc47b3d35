package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecommind/engine/internal/api/middleware"
	"github.com/ecommind/engine/internal/domain"
)

// ConnectIntegration starts a vendor authorization: it returns the consent
// URL the merchant is redirected to. The company id rides along as OAuth
// state so the callback can be correlated.
func (h *Handler) ConnectIntegration(c *gin.Context) {
	vendor := domain.Vendor(c.Param("vendor"))
	companyID := middleware.CompanyID(c)

	if !vendor.Valid() {
		respondValidationError(c, "unsupported vendor "+strconv.Quote(c.Param("vendor")))
		return
	}

	authURL, err := h.factory.AuthorizationURL(vendor, companyID.String())
	if err != nil {
		respondInternalError(c, err, "Failed to build authorization URL",
			zap.String("vendor", string(vendor)))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vendor":           vendor,
		"authorizationUrl": authURL,
	})
}

// completeIntegrationRequest is the body of POST /integrations/:vendor/callback
type completeIntegrationRequest struct {
	Code string `json:"code" binding:"required"`
	// ShopID is the shop binding Shopee includes on its callback; the other
	// vendors do not send one
	ShopID string `json:"shop_id"`
}

// CompleteIntegration finishes the authorization: the callback code is
// exchanged at the vendor and the credential is stored for the company
func (h *Handler) CompleteIntegration(c *gin.Context) {
	vendor := domain.Vendor(c.Param("vendor"))
	companyID := middleware.CompanyID(c)

	if !vendor.Valid() {
		respondValidationError(c, "unsupported vendor "+strconv.Quote(c.Param("vendor")))
		return
	}

	var req completeIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	cred, err := h.factory.Connect(c.Request.Context(), companyID, vendor, req.Code, req.ShopID)
	if err != nil {
		if ve, ok := domain.AsValidationError(err); ok {
			respondValidationError(c, ve.Error())
			return
		}
		if ve, ok := domain.AsVendorError(err); ok {
			respondBadRequest(c, "Vendor rejected the authorization code", ve.Message)
			return
		}
		respondInternalError(c, err, "Failed to connect integration",
			zap.String("vendor", string(vendor)))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"vendor":            cred.Vendor,
		"externalAccountId": cred.ExternalAccountID,
		"expiresAt":         cred.ExpiresAt.UTC().Format(time.RFC3339),
		"enabled":           cred.Enabled,
	})
}
