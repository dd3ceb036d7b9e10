package handler

import (
	"encoding/json"
	"errors"

	"wallet-ledger/internal/adapter/http/dto"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// WalletHandler handles wallet-related endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// Provision handles POST /api/v1/wallets. Repeated calls return the
// existing wallet.
func (h *WalletHandler) Provision(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	wallet, err := h.walletSvc.ProvisionWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToWalletResponse(wallet))
}

// GetBalance handles GET /api/v1/wallets/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	view, err := h.walletSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToBalanceResponse(view))
}

// GetHistory handles GET /api/v1/wallets/transactions.
func (h *WalletHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	events, err := h.walletSvc.GetHistory(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToHistory(events))
}

// Deposit handles POST /api/v1/wallets/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	userID, key, ok := h.commandContext(c)
	if !ok {
		return
	}

	var req dto.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	out, err := h.walletSvc.Deposit(c.Request.Context(), userID, key, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Raw(c, out.Status, out.Payload, out.Replayed)
}

// Withdraw handles POST /api/v1/wallets/withdraw.
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, key, ok := h.commandContext(c)
	if !ok {
		return
	}

	var req dto.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	out, err := h.walletSvc.Withdraw(c.Request.Context(), userID, key, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Raw(c, out.Status, out.Payload, out.Replayed)
}

// Transfer handles POST /api/v1/wallets/transfer.
func (h *WalletHandler) Transfer(c *gin.Context) {
	userID, key, ok := h.commandContext(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	dto.SanitizeStruct(&req)

	payee, err := uuid.Parse(req.PayeeUserID)
	if err != nil {
		response.Error(c, apperror.Validation("payee_user_id must be a UUID"))
		return
	}

	out, err := h.walletSvc.Transfer(c.Request.Context(), userID, key, payee, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Raw(c, out.Status, out.Payload, out.Replayed)
}

// commandContext extracts the caller and idempotency key of a mutating
// request, writing the error response itself on failure.
func (h *WalletHandler) commandContext(c *gin.Context) (uuid.UUID, string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, "", false
	}

	var hdr dto.IdempotencyHeader
	if err := c.ShouldBindHeader(&hdr); err != nil {
		response.Error(c, apperror.Validation("Idempotency-Key must be at most 128 characters of [A-Za-z0-9_.-]"))
		return uuid.Nil, "", false
	}
	return userID, hdr.Key, true
}

// bindError maps a body binding failure to its error kind. Any problem with
// the amount is an invalid amount; everything else is a malformed request.
func bindError(err error) *apperror.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Amount" {
				return apperror.ErrInvalidAmount()
			}
		}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field == "amount" {
		return apperror.ErrInvalidAmount()
	}
	return apperror.Validation(err.Error())
}
