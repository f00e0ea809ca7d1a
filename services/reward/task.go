package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trackpoints/pkg/config"
	"trackpoints/pkg/taskname"
	"trackpoints/services/account"
	"trackpoints/services/ledger"
)

var TaskModule = fx.Module("task.reward",
	fx.Provide(NewTask),
	fx.Invoke(RegisterTaskHandlers),
)

// SettlePayload carries one issue notification to the settle worker.
type SettlePayload struct {
	Event
	DeliveryID string `json:"deliveryId,omitempty"`
}

// NewSettleTask builds the settle task for an issue event.
func NewSettleTask(p SettlePayload, queue string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(maxRetry)}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return asynq.NewTask(taskname.RewardSettle, payload, opts...), nil
}

// Actionable reports whether the event carries a state change and an assignee.
func (e Event) Actionable() bool {
	return e.OrganizationID != "" && e.IssueID != "" && e.NewStateID != "" &&
		e.Assignee != nil && e.Assignee.Provider != "" && e.Assignee.ExternalID != ""
}

type Task struct {
	svc *Service
}

type TaskParams struct {
	fx.In
	Service *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{svc: p.Service}
}

func RegisterTaskHandlers(mux *asynq.ServeMux, t *Task, cfg *config.Config) {
	mux.HandleFunc(taskname.RewardSettle, t.HandleSettleTask)
	zap.L().Info("[Asynq] task handler registered",
		zap.String("task_type", taskname.RewardSettle),
		zap.String("queue", cfg.Worker.SettleQueue),
	)
}

// HandleSettleTask settles one delivery. Malformed payloads and unresolvable identities
// are dropped; store failures are returned so asynq redelivers within MaxRetry.
func (t *Task) HandleSettleTask(ctx context.Context, task *asynq.Task) error {
	var payload SettlePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.String("organization_id", payload.OrganizationID),
		zap.String("issue_id", payload.IssueID),
		zap.String("delivery_id", payload.DeliveryID),
	)

	if !payload.Actionable() {
		zapLog.Debug("ignoring issue event without state change or assignee")
		return nil
	}

	res, err := t.svc.Settle(ctx, payload.Event)
	if err != nil {
		if errors.Is(err, account.ErrIdentityResolutionFailed) || errors.Is(err, ledger.ErrInvalidDelta) {
			zapLog.Warn("dropping settle event", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	zapLog.Debug("settle task done", zap.String("outcome", string(res.Outcome)))
	return nil
}
