package reward

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/logger"
	"trackpoints/services/account"
	"trackpoints/services/action"
	"trackpoints/services/ledger"
)

var settleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trackpoints_settle_outcomes_total",
	Help: "Reward settlement attempts by outcome; failed counts errors.",
}, []string{"outcome"})

// Settle credits a reward to the assignee of an issue that reached the reward's target
// state. It is safe under duplicate and concurrent delivery of the same event: the claim
// flip and the ledger credit commit in one transaction, guarded by a conditional update
// on claimed, so at most one delivery credits.
func (s *Service) Settle(ctx context.Context, ev Event) (*SettleResult, error) {
	ctx, span := tracer.Start(ctx, "reward.Settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", ev.OrganizationID),
		attribute.String("issue_id", ev.IssueID),
	)

	log := logger.FromContext(ctx,
		zap.String("organization_id", ev.OrganizationID),
		zap.String("issue_id", ev.IssueID),
		zap.String("new_state_id", ev.NewStateID),
	)

	r, err := s.rewards.FindOne(ctx, &Reward{OrganizationID: ev.OrganizationID, IssueID: ev.IssueID})
	if err != nil {
		return nil, s.settleFailed(log, db.Classify(err))
	}
	if r == nil {
		return s.settled(log, &SettleResult{Outcome: OutcomeNoReward}), nil
	}
	if r.TargetStateID != ev.NewStateID {
		return s.settled(log, &SettleResult{Outcome: OutcomeStateMismatch, Reward: r}), nil
	}

	var identity account.Identity
	if ev.Assignee != nil {
		identity = account.Identity{
			OrganizationID: ev.OrganizationID,
			Provider:       ev.Assignee.Provider,
			ExternalID:     ev.Assignee.ExternalID,
			DisplayName:    ev.Assignee.DisplayName,
			Email:          ev.Assignee.Email,
		}
	}

	result := &SettleResult{Reward: r}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		claim := tx.Model(&Reward{}).
			Where("id = ? AND organization_id = ? AND target_state_id = ? AND claimed = ?", r.ID, r.OrganizationID, ev.NewStateID, false).
			Updates(map[string]any{"claimed": true, "claimed_at": now, "updated_at": now})
		if claim.Error != nil {
			return claim.Error
		}

		var current Reward
		if err := tx.Where("id = ?", r.ID).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Outcome = OutcomeNoReward
				return nil
			}
			return err
		}
		result.Reward = &current

		if claim.RowsAffected == 0 {
			// lost to another delivery, or the reward changed since it was read
			result.Outcome = OutcomeAlreadyClaimed
			if !current.Claimed && current.TargetStateID != ev.NewStateID {
				result.Outcome = OutcomeStateMismatch
			}
			return nil
		}

		acc, err := s.accounts.ResolveTx(ctx, tx, identity)
		if err != nil {
			return err
		}
		if _, err := s.ledger.ApplyTx(ctx, tx, r.OrganizationID, []ledger.Delta{{
			AccountID:     acc.ID,
			Difference:    current.Value,
			ReferenceType: ledger.ReferenceReward,
			ReferenceID:   current.ID,
		}}); err != nil {
			return err
		}
		if err := tx.Model(&Reward{}).Where("id = ?", current.ID).
			Update("claimed_by_account_id", acc.ID).Error; err != nil {
			return err
		}

		current.ClaimedByAccountID = &acc.ID
		result.AccountID = acc.ID
		result.Outcome = OutcomeCredited
		return nil
	})
	if err != nil {
		if errors.Is(err, account.ErrOrganizationNotFound) {
			err = fmt.Errorf("%w: %w", account.ErrIdentityResolutionFailed, err)
		}
		return nil, s.settleFailed(log, db.Classify(err))
	}

	if result.Outcome == OutcomeCredited {
		s.actions.Record(ctx, action.Entry{
			OrganizationID: r.OrganizationID,
			ActorAccountID: result.AccountID,
			Type:           action.TypeRewardClaimed,
			RewardID:       r.ID,
			Value:          result.Reward.Value,
			Metadata:       map[string]any{"issue_id": r.IssueID, "state_id": ev.NewStateID},
		})
		result.Sync, _ = s.syncMarker(ctx, result.Reward)
	}
	return s.settled(log, result), nil
}

func (s *Service) settled(log *zap.Logger, res *SettleResult) *SettleResult {
	settleOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	fields := []zap.Field{zap.String("outcome", string(res.Outcome))}
	if res.AccountID != "" {
		fields = append(fields, zap.String("account_id", res.AccountID), zap.Int64("value", res.Reward.Value))
	}
	log.Info("reward settlement", fields...)
	return res
}

func (s *Service) settleFailed(log *zap.Logger, err error) error {
	settleOutcomes.WithLabelValues("failed").Inc()
	log.Error("reward settlement failed", zap.Error(err))
	return err
}
