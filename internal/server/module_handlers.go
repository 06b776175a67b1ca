package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/iahome/backend/internal/accounts"
	"github.com/iahome/backend/internal/activation"
	"go.uber.org/zap"
)

type activateModuleRequestPayload struct {
	UserID      string `json:"userId"`
	ModuleID    string `json:"moduleId"`
	ModuleTitle string `json:"moduleTitle"`
	Cost        int64  `json:"cost"`
}

type activateModuleResponsePayload struct {
	Success         bool                  `json:"success"`
	AlreadyActive   bool                  `json:"already_active"`
	Access          accounts.ModuleAccess `json:"access"`
	RemainingTokens int64                 `json:"remaining_tokens"`
}

type checkModuleResponsePayload struct {
	IsActive bool                   `json:"is_active"`
	Access   *accounts.ModuleAccess `json:"access,omitempty"`
}

type accessTokenRequestPayload struct {
	UserID   string `json:"userId"`
	ModuleID string `json:"moduleId"`
}

type accessTokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleActivateModule(c *gin.Context) {
	var request activateModuleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.UserID) == "" || strings.TrimSpace(request.ModuleID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and moduleId are required"})
		return
	}
	if !h.sameIdentity(c, request.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "identity_mismatch"})
		return
	}

	result, err := h.activator.Activate(c.Request.Context(), activation.ActivateRequest{
		UserID:      request.UserID,
		ModuleID:    request.ModuleID,
		ModuleTitle: request.ModuleTitle,
		Cost:        request.Cost,
	})
	if err != nil {
		h.writeActivationError(c, err)
		return
	}
	if result.AlreadyActive {
		h.metrics.RecordActivation("already_active")
	} else {
		h.metrics.RecordActivation("activated")
	}
	c.JSON(http.StatusOK, activateModuleResponsePayload{
		Success:         true,
		AlreadyActive:   result.AlreadyActive,
		Access:          result.Access,
		RemainingTokens: result.RemainingTokens,
	})
}

func (h *httpHandler) handleCheckModuleActivation(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	moduleID := strings.TrimSpace(c.Query("moduleId"))
	if userID == "" || moduleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and moduleId are required"})
		return
	}
	if !h.sameIdentity(c, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "identity_mismatch"})
		return
	}

	result, err := h.activator.Check(c.Request.Context(), userID, moduleID)
	if err != nil {
		h.writeActivationError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkModuleResponsePayload{IsActive: result.IsActive, Access: result.Access})
}

func (h *httpHandler) handleGenerateAccessToken(c *gin.Context) {
	var request accessTokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.UserID) == "" || strings.TrimSpace(request.ModuleID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and moduleId are required"})
		return
	}
	if !h.sameIdentity(c, request.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "identity_mismatch"})
		return
	}

	issued, err := h.activator.GenerateAccessToken(c.Request.Context(), request.UserID, request.ModuleID)
	if err != nil {
		h.metrics.RecordAccessToken("refused")
		h.writeActivationError(c, err)
		return
	}
	h.metrics.RecordAccessToken("issued")
	c.JSON(http.StatusOK, accessTokenResponsePayload{
		AccessToken: issued.Token,
		ExpiresIn:   issued.ExpiresIn,
		TokenType:   issued.TokenType,
	})
}

func (h *httpHandler) writeActivationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, activation.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, activation.ErrProfileNotFound):
		h.metrics.RecordActivation("profile_not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
	case errors.Is(err, activation.ErrInsufficientTokens):
		h.metrics.RecordActivation("insufficient_tokens")
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient_tokens"})
	case errors.Is(err, activation.ErrNotActivated):
		c.JSON(http.StatusForbidden, gin.H{"error": "module_not_activated"})
	default:
		h.logger.Error("module request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "module_request_failed", "details": err.Error()})
	}
}
