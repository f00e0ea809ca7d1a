package transfer

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"trackpoints/pkg/errutil"
	"trackpoints/services/account"
	"trackpoints/services/ledger"
)

const HeaderIdempotencyKey = "Idempotency-Key"

var HandlerModule = fx.Module("transfer.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	svc      *Service
	accounts *account.Service
}

type HandlerParams struct {
	fx.In
	Service  *Service
	Accounts *account.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{svc: p.Service, accounts: p.Accounts}
}

func RegisterRoutes(r *gin.Engine, h *Handler, accounts *account.Handler) {
	v1 := r.Group("/v1", accounts.RequireActor())
	v1.POST("/transfers", h.Create)
	v1.GET("/transfers/:id", h.Get)
}

// Beneficiary names the receiving account either directly or by external identity.
type Beneficiary struct {
	Provider    string `json:"provider"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type CreateBody struct {
	BeneficiaryAccountID string       `json:"beneficiary_account_id"`
	Beneficiary          *Beneficiary `json:"beneficiary"`
	Value                int64        `json:"value"`
	Message              string       `json:"message"`
}

func (h *Handler) Create(c *gin.Context) {
	var body CreateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	org := account.OrganizationFrom(c)
	actor := account.ActorFrom(c)

	beneficiaryID := body.BeneficiaryAccountID
	if beneficiaryID == "" && body.Beneficiary != nil {
		acc, err := h.accounts.Resolve(ctx, account.Identity{
			OrganizationID: org.ID,
			Provider:       body.Beneficiary.Provider,
			ExternalID:     body.Beneficiary.ExternalID,
			DisplayName:    body.Beneficiary.DisplayName,
			Email:          body.Beneficiary.Email,
		})
		if err != nil {
			_ = c.Error(HTTPError(err))
			return
		}
		beneficiaryID = acc.ID
	}

	txn, err := h.svc.Transfer(ctx, Request{
		OrganizationID:       org.ID,
		BenefactorAccountID:  actor.ID,
		BeneficiaryAccountID: beneficiaryID,
		Value:                body.Value,
		Message:              body.Message,
		IdempotencyKey:       c.GetHeader(HeaderIdempotencyKey),
	})
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}

	c.JSON(http.StatusCreated, txn)
}

func (h *Handler) Get(c *gin.Context) {
	txn, err := h.svc.Get(c.Request.Context(), account.OrganizationFrom(c).ID, c.Param("id"))
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, txn)
}

func HTTPError(err error) error {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		return errutil.UnprocessableEntity("insufficient balance", err, errutil.WithDetails(
			errutil.Detail{Field: "value", Message: "exceeds available balance"},
		))
	case errors.Is(err, ErrInsufficientBalance):
		return errutil.UnprocessableEntity("insufficient balance", err)
	case errors.Is(err, ErrInvalidTransfer), errors.Is(err, ledger.ErrInvalidDelta):
		return errutil.BadRequest("invalid transfer", err)
	case errors.Is(err, ErrIdempotencyKeyReuse):
		return errutil.Conflict("idempotency key already used for a different transfer", err)
	case errors.Is(err, ErrTransactionNotFound):
		return errutil.NotFound("transaction not found", err)
	case errors.Is(err, account.ErrIdentityResolutionFailed):
		return errutil.UnprocessableEntity("beneficiary identity could not be resolved", err)
	default:
		return account.HTTPError(err)
	}
}
