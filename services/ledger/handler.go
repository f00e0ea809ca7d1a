package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/errutil"
	"trackpoints/services/account"
)

var HandlerModule = fx.Module("ledger.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler, accounts *account.Handler) {
	v1 := r.Group("/v1/accounts/:id", accounts.RequireActor())
	v1.GET("/balance", h.Balance)
	v1.GET("/entries", h.Entries)
	v1.GET("/verify", h.Verify)
}

// accountID reads the :id path parameter, where "me" names the caller.
func accountID(c *gin.Context) string {
	if id := c.Param("id"); id != "me" {
		return id
	}
	return account.ActorFrom(c).ID
}

func (h *Handler) Balance(c *gin.Context) {
	id := accountID(c)
	balance, err := h.svc.Balance(c.Request.Context(), account.OrganizationFrom(c).ID, id)
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (h *Handler) Entries(c *gin.Context) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	ctx := c.Request.Context()
	orgID := account.OrganizationFrom(c).ID
	id := accountID(c)

	// an unknown account has no entries; report it instead of an empty page
	if _, err := h.svc.Balance(ctx, orgID, id); err != nil {
		_ = c.Error(HTTPError(err))
		return
	}

	entries, info, err := h.svc.ListEntries(ctx, orgID, id, page)
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "page_info": info})
}

func (h *Handler) Verify(c *gin.Context) {
	v, err := h.svc.Verify(c.Request.Context(), account.OrganizationFrom(c).ID, accountID(c))
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": v.Valid(), "verification": v})
}

func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return errutil.UnprocessableEntity("insufficient balance", err)
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrInvalidDelta):
		return errutil.BadRequest("invalid ledger batch", err)
	default:
		return account.HTTPError(err)
	}
}
