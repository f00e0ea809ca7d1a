package reward

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trackpoints/pkg/config"
	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/errutil"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/task"
	"trackpoints/services/account"
)

// HeaderDeliveryID identifies a webhook delivery across redeliveries.
const HeaderDeliveryID = "X-Delivery-ID"

var HandlerModule = fx.Module("reward.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	svc      *Service
	accounts *account.Service
	enqueuer task.Enqueuer
	queue    string
	maxRetry int
}

type HandlerParams struct {
	fx.In
	Config   *config.Config
	Service  *Service
	Accounts *account.Service
	Enqueuer task.Enqueuer
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		svc:      p.Service,
		accounts: p.Accounts,
		enqueuer: p.Enqueuer,
		queue:    p.Config.Worker.SettleQueue,
		maxRetry: p.Config.Worker.MaxRetry,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, accounts *account.Handler) {
	v1 := r.Group("/v1", accounts.RequireActor())
	v1.POST("/rewards", h.Create)
	v1.GET("/rewards", h.List)
	v1.GET("/rewards/:id", h.Get)
	v1.PATCH("/rewards/:id", h.Update)
	v1.DELETE("/rewards/:id", h.Delete)

	// deliveries are authenticated upstream and carry no actor headers
	r.POST("/v1/webhooks/issues", h.Webhook)
}

type CreateBody struct {
	IssueID         string `json:"issue_id"`
	IssueIdentifier string `json:"issue_identifier"`
	TargetStateID   string `json:"target_state_id"`
	Value           int64  `json:"value"`
}

type UpdateBody struct {
	TargetStateID string `json:"target_state_id"`
	Value         int64  `json:"value"`
}

type resultResponse struct {
	Reward    *Reward    `json:"reward"`
	Sync      SyncStatus `json:"sync"`
	SyncError string     `json:"sync_error,omitempty"`
}

func respond(res *Result) resultResponse {
	out := resultResponse{Reward: res.Reward, Sync: res.Sync}
	if res.SyncErr != nil {
		out.SyncError = res.SyncErr.Error()
	}
	return out
}

func (h *Handler) Create(c *gin.Context) {
	var body CreateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.svc.Create(c.Request.Context(), CreateRequest{
		OrganizationID:   account.OrganizationFrom(c).ID,
		IssueID:          body.IssueID,
		IssueIdentifier:  body.IssueIdentifier,
		TargetStateID:    body.TargetStateID,
		Value:            body.Value,
		CreatorAccountID: account.ActorFrom(c).ID,
	})
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusCreated, respond(res))
}

func (h *Handler) List(c *gin.Context) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	items, info, err := h.svc.List(c.Request.Context(), account.OrganizationFrom(c).ID, page)
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page_info": info})
}

func (h *Handler) Get(c *gin.Context) {
	r, err := h.svc.Get(c.Request.Context(), account.OrganizationFrom(c).ID, c.Param("id"))
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) Update(c *gin.Context) {
	var body UpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.svc.Update(c.Request.Context(), account.OrganizationFrom(c).ID, c.Param("id"), UpdateRequest{
		TargetStateID: body.TargetStateID,
		Value:         body.Value,
	})
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, respond(res))
}

func (h *Handler) Delete(c *gin.Context) {
	res, err := h.svc.Delete(c.Request.Context(), account.OrganizationFrom(c).ID, c.Param("id"), account.ActorFrom(c).ID)
	if err != nil {
		_ = c.Error(HTTPError(err))
		return
	}
	c.JSON(http.StatusOK, respond(res))
}

// Webhook accepts an issue notification and queues it for settlement. The body's
// organizationId is the tracker's id; it is swapped for ours before enqueueing.
func (h *Handler) Webhook(c *gin.Context) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		_ = c.Error(errutil.BadRequest("invalid notification", err))
		return
	}

	ctx := c.Request.Context()
	deliveryID := c.GetHeader(HeaderDeliveryID)
	log := logger.FromContext(ctx,
		zap.String("delivery_id", deliveryID),
		zap.String("issue_id", ev.IssueID),
	)

	if !ev.Actionable() {
		log.Debug("notification ignored")
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	org, err := h.accounts.FindOrganization(ctx, ev.OrganizationID)
	if errors.Is(err, account.ErrOrganizationNotFound) {
		// no member has signed in, so no reward can exist
		log.Info("notification for unknown organization", zap.String("external_id", ev.OrganizationID))
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	ev.OrganizationID = org.ID

	t, err := NewSettleTask(SettlePayload{Event: ev, DeliveryID: deliveryID}, h.queue, h.maxRetry)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to build settle task", err))
		return
	}
	info, err := h.enqueuer.Enqueue(ctx, t)
	if err != nil {
		_ = c.Error(errutil.ServiceUnavailable("failed to queue notification", err))
		return
	}

	log.Info("notification queued", zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "task_id": info.ID})
}

func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidReward):
		return errutil.BadRequest("invalid reward", err)
	case errors.Is(err, ErrRewardExists):
		return errutil.Conflict("issue already has a reward", err)
	case errors.Is(err, ErrRewardAlreadyClaimed):
		return errutil.UnprocessableEntity("reward already claimed", err)
	case errors.Is(err, ErrRewardNotFound):
		return errutil.NotFound("reward not found", err)
	default:
		return account.HTTPError(err)
	}
}
