package leaderboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"trackpoints/pkg/errutil"
	"trackpoints/services/account"
)

var HandlerModule = fx.Module("leaderboard.handler",
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
	r.Group("/v1", accounts.RequireActor()).GET("/leaderboard", h.Leaderboard)
}

type QueryParams struct {
	Start  time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End    time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit"`
	Offset int       `form:"offset"`
}

func (h *Handler) Leaderboard(c *gin.Context) {
	var params QueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		_ = c.Error(errutil.BadRequest("invalid leaderboard query", err))
		return
	}

	page, err := h.svc.Leaderboard(c.Request.Context(), Query{
		OrganizationID: account.OrganizationFrom(c).ID,
		WindowStart:    params.Start,
		WindowEnd:      params.End,
		Limit:          params.Limit,
		Offset:         params.Offset,
	})
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, page)
}

func HTTPError(err error) error {
	if errors.Is(err, ErrInvalidWindow) {
		return errutil.BadRequest("window end must be after start", err)
	}
	return account.HTTPError(err)
}
