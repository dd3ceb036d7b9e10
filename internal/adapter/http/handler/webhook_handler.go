package handler

import (
	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler manages the caller's transfer-received webhook.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// Update handles PUT /api/v1/users/me/webhook.
func (h *WebhookHandler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if req.WebhookURL != nil && *req.WebhookURL == "" {
		req.WebhookURL = nil
	}

	if err := h.webhookSvc.Configure(c.Request.Context(), userID, req.WebhookURL); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"webhook_url": req.WebhookURL})
}
