package action

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/errutil"
	"trackpoints/services/account"
)

var HandlerModule = fx.Module("action.handler",
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
	r.Group("/v1", accounts.RequireActor()).GET("/actions", h.List)
}

// List returns the organization's activity feed, newest first.
func (h *Handler) List(c *gin.Context) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	items, info, err := h.svc.List(c.Request.Context(), account.OrganizationFrom(c).ID, page)
	if err != nil {
		_ = c.Error(account.HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page_info": info})
}
