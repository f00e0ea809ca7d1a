package reward

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"trackpoints/pkg/config"
	"trackpoints/pkg/middleware"
	"trackpoints/pkg/taskname"
	"trackpoints/services/account"
	"trackpoints/services/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "settle", Type: task.Type()}, nil
}

func (f *fixture) engine(enq *fakeEnqueuer) *gin.Engine {
	cfg := &config.Config{}
	cfg.Worker.SettleQueue = "settle"
	cfg.Worker.MaxRetry = 5

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(HandlerParams{
		Config:   cfg,
		Service:  f.svc,
		Accounts: f.accounts,
		Enqueuer: enq,
	}), account.NewHandler(f.accounts))
	return r
}

func adminHeader() http.Header {
	h := http.Header{}
	h.Set(account.HeaderOrganizationID, "org-ext")
	h.Set(account.HeaderIdentityProvider, "linear")
	h.Set(account.HeaderIdentityID, "admin")
	return h
}

func TestRewardHandlers(t *testing.T) {
	f := newFixture(t, nil)
	r := f.engine(&fakeEnqueuer{})

	w := testutil.DoJSON(t, r, http.MethodPost, "/v1/rewards", CreateBody{IssueID: "i-1", TargetStateID: "done", Value: 50}, adminHeader())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created resultResponse
	testutil.Decode(t, w, &created)
	require.Equal(t, SyncSkipped, created.Sync)
	require.Equal(t, f.admin.ID, created.Reward.CreatorAccountID)
	id := created.Reward.ID

	w = testutil.DoJSON(t, r, http.MethodPost, "/v1/rewards", CreateBody{IssueID: "i-1", TargetStateID: "done", Value: 10}, adminHeader())
	require.Equal(t, http.StatusConflict, w.Code)

	w = testutil.DoJSON(t, r, http.MethodPost, "/v1/rewards", CreateBody{IssueID: "i-2", TargetStateID: "done", Value: -1}, adminHeader())
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = testutil.DoJSON(t, r, http.MethodGet, "/v1/rewards?limit=10", nil, adminHeader())
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []Reward `json:"items"`
	}
	testutil.Decode(t, w, &list)
	require.Len(t, list.Items, 1)

	w = testutil.DoJSON(t, r, http.MethodPatch, "/v1/rewards/"+id, UpdateBody{TargetStateID: "done", Value: 80}, adminHeader())
	require.Equal(t, http.StatusOK, w.Code)

	_, err := f.svc.Settle(context.Background(), f.doneEvent("i-1", "zed"))
	require.NoError(t, err)

	w = testutil.DoJSON(t, r, http.MethodPatch, "/v1/rewards/"+id, UpdateBody{TargetStateID: "done", Value: 90}, adminHeader())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = testutil.DoJSON(t, r, http.MethodDelete, "/v1/rewards/"+id, nil, adminHeader())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(80), f.balanceOf(t, "zed"))

	w = testutil.DoJSON(t, r, http.MethodGet, "/v1/rewards/"+id, nil, adminHeader())
	require.Equal(t, http.StatusNotFound, w.Code)
}

func webhookBody(org string, assignee *Assignee) map[string]any {
	body := map[string]any{"organizationId": org, "issueId": "i-1", "newStateId": "done"}
	if assignee != nil {
		body["assignee"] = assignee
	}
	return body
}

func TestWebhookQueuesSettlement(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "i-1", 25)
	enq := &fakeEnqueuer{}
	r := f.engine(enq)

	header := http.Header{}
	header.Set(HeaderDeliveryID, "d-1")
	w := testutil.DoJSON(t, r, http.MethodPost, "/v1/webhooks/issues",
		webhookBody("org-ext", &Assignee{Provider: "linear", ExternalID: "zed"}), header)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.RewardSettle, enq.tasks[0].Type())

	var payload SettlePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, f.org.ID, payload.OrganizationID)
	require.Equal(t, "d-1", payload.DeliveryID)

	require.NoError(t, NewTask(TaskParams{Service: f.svc}).HandleSettleTask(context.Background(), enq.tasks[0]))
	require.Equal(t, int64(25), f.balanceOf(t, "zed"))
}

func TestWebhookIgnoresAndFailures(t *testing.T) {
	f := newFixture(t, nil)
	enq := &fakeEnqueuer{}
	r := f.engine(enq)

	w := testutil.DoJSON(t, r, http.MethodPost, "/v1/webhooks/issues", webhookBody("org-ext", nil), nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = testutil.DoJSON(t, r, http.MethodPost, "/v1/webhooks/issues",
		webhookBody("someone-else", &Assignee{Provider: "linear", ExternalID: "zed"}), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Empty(t, enq.tasks)

	enq.err = errors.New("redis down")
	w = testutil.DoJSON(t, r, http.MethodPost, "/v1/webhooks/issues",
		webhookBody("org-ext", &Assignee{Provider: "linear", ExternalID: "zed"}), nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
