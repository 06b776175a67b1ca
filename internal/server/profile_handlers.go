package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/iahome/backend/internal/accounts"
	"github.com/iahome/backend/internal/profiles"
	"go.uber.org/zap"
)

type syncProfileRequestPayload struct {
	AuthUserID string `json:"authUserId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
}

type syncProfileResponsePayload struct {
	Success        bool             `json:"success"`
	User           accounts.Profile `json:"user"`
	Migrated       bool             `json:"migrated"`
	TokensCreated  bool             `json:"tokens_created"`
	TokenError     string           `json:"token_error,omitempty"`
	ExistingTokens *int64           `json:"existing_tokens,omitempty"`
}

func (h *httpHandler) handleSyncProfile(c *gin.Context) {
	var request syncProfileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.AuthUserID) == "" || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authUserId and email are required"})
		return
	}
	if !h.sameIdentity(c, request.AuthUserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "identity_mismatch"})
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), profiles.ReconcileRequest{
		AuthUserID: request.AuthUserID,
		Email:      request.Email,
		Name:       request.Name,
		AvatarURL:  request.AvatarURL,
	})
	if err != nil {
		h.metrics.RecordReconciliation("", "failed")
		if errors.Is(err, profiles.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("profile sync failed", zap.String("auth_user_id", request.AuthUserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_sync_failed", "details": err.Error()})
		return
	}

	h.metrics.RecordReconciliation(result.Resolution.String(), "success")
	response := syncProfileResponsePayload{
		Success:        true,
		User:           result.User,
		Migrated:       result.Migrated,
		TokensCreated:  result.TokensCreated,
		ExistingTokens: result.ExistingTokens,
	}
	switch {
	case result.GrantError != nil:
		h.metrics.RecordWelcomeGrant("failed")
		response.TokenError = result.GrantError.Error()
	case result.TokensCreated:
		h.metrics.RecordWelcomeGrant("created")
	default:
		h.metrics.RecordWelcomeGrant("existing")
	}
	c.JSON(http.StatusOK, response)
}
