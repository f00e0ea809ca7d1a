package account

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"trackpoints/pkg/errutil"
)

// Identity headers set by the authenticating proxy in front of the API.
const (
	HeaderOrganizationID   = "X-Organization-ID"
	HeaderOrganizationName = "X-Organization-Name"
	HeaderIdentityProvider = "X-Identity-Provider"
	HeaderIdentityID       = "X-Identity-ID"
	HeaderIdentityName     = "X-Identity-Name"
	HeaderIdentityEmail    = "X-Identity-Email"
)

const (
	actorKey        = "account.actor"
	organizationKey = "account.organization"
)

var HandlerModule = fx.Module("account.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1", h.RequireActor())
	v1.GET("/me", h.Me)
}

// RequireActor resolves the organization and account of the caller from the proxy
// headers, provisioning both on first sight.
func (h *Handler) RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		org, err := h.svc.EnsureOrganization(ctx, c.GetHeader(HeaderOrganizationID), c.GetHeader(HeaderOrganizationName))
		if err != nil {
			_ = c.Error(HTTPError(err))
			c.Abort()
			return
		}

		actor, err := h.svc.Resolve(ctx, Identity{
			OrganizationID: org.ID,
			Provider:       c.GetHeader(HeaderIdentityProvider),
			ExternalID:     c.GetHeader(HeaderIdentityID),
			DisplayName:    c.GetHeader(HeaderIdentityName),
			Email:          c.GetHeader(HeaderIdentityEmail),
		})
		if err != nil {
			_ = c.Error(HTTPError(err))
			c.Abort()
			return
		}

		c.Set(organizationKey, org)
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the account resolved by RequireActor.
func ActorFrom(c *gin.Context) *Account {
	v, _ := c.Get(actorKey)
	acc, _ := v.(*Account)
	return acc
}

func OrganizationFrom(c *gin.Context) *Organization {
	v, _ := c.Get(organizationKey)
	org, _ := v.(*Organization)
	return org
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"organization": OrganizationFrom(c),
		"account":      ActorFrom(c),
	})
}

// HTTPError maps directory errors to transport errors.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrIdentityResolutionFailed):
		return errutil.Unauthorized("identity headers missing or incomplete", err)
	case errors.Is(err, ErrOrganizationNotFound):
		return errutil.NotFound("organization not found", err)
	case errors.Is(err, ErrAccountNotFound):
		return errutil.NotFound("account not found", err)
	default:
		return err
	}
}
