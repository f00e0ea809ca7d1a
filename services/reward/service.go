package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/db/option"
	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/featureflags"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/marker"
	"trackpoints/pkg/repository"
	"trackpoints/services/account"
	"trackpoints/services/action"
	"trackpoints/services/ledger"
)

var tracer = otel.Tracer("trackpoints/services/reward")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	accounts *account.Service
	ledger   *ledger.Service
	actions  *action.Service
	markers  marker.Client
	flags    featureflags.FeatureFlag

	rewards repository.Repository[Reward]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Accounts *account.Service
	Ledger   *ledger.Service
	Actions  *action.Service
	Markers  marker.Client
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	if p.Flags == nil {
		p.Flags = featureflags.Static(nil)
	}
	return &Service{
		db:       p.DB,
		node:     p.Node,
		now:      func() time.Time { return time.Now().UTC() },
		accounts: p.Accounts,
		ledger:   p.Ledger,
		actions:  p.Actions,
		markers:  p.Markers,
		flags:    p.Flags,
		rewards:  repository.ProvideStore[Reward](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reward.Create")
	defer span.End()

	req.IssueID = strings.TrimSpace(req.IssueID)
	req.TargetStateID = strings.TrimSpace(req.TargetStateID)
	if req.OrganizationID == "" || req.IssueID == "" || req.TargetStateID == "" || req.Value < 0 {
		return nil, ErrInvalidReward
	}

	r := &Reward{
		ID:               s.node.Generate().String(),
		OrganizationID:   req.OrganizationID,
		IssueID:          req.IssueID,
		IssueIdentifier:  req.IssueIdentifier,
		TargetStateID:    req.TargetStateID,
		Value:            req.Value,
		CreatorAccountID: req.CreatorAccountID,
	}
	if err := s.rewards.Create(ctx, r); err != nil {
		if db.IsDuplicate(err) {
			return nil, ErrRewardExists
		}
		return nil, db.Classify(err)
	}

	logger.FromContext(ctx).Info("reward created",
		zap.String("organization_id", r.OrganizationID),
		zap.String("reward_id", r.ID),
		zap.String("issue_id", r.IssueID),
		zap.Int64("value", r.Value),
	)
	s.actions.Record(ctx, action.Entry{
		OrganizationID: r.OrganizationID,
		ActorAccountID: req.CreatorAccountID,
		Type:           action.TypeRewardCreated,
		RewardID:       r.ID,
		Value:          r.Value,
	})

	sync, syncErr := s.syncMarker(ctx, r)
	return &Result{Reward: r, Sync: sync, SyncErr: syncErr}, nil
}

// Update changes target state and value of a reward that has not been claimed yet.
func (s *Service) Update(ctx context.Context, organizationID, rewardID string, req UpdateRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reward.Update")
	defer span.End()

	req.TargetStateID = strings.TrimSpace(req.TargetStateID)
	if req.TargetStateID == "" || req.Value < 0 {
		return nil, ErrInvalidReward
	}

	var r *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.rewards.WithTrx(tx).FindOne(ctx, &Reward{ID: rewardID, OrganizationID: organizationID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if current == nil {
			return ErrRewardNotFound
		}
		if current.Claimed {
			return ErrRewardAlreadyClaimed
		}

		// mysql reports 0 affected rows when nothing changed
		now := s.now()
		if err := tx.Model(&Reward{}).Where("id = ?", current.ID).Updates(map[string]any{
			"target_state_id": req.TargetStateID,
			"value":           req.Value,
			"updated_at":      now,
		}).Error; err != nil {
			return err
		}
		current.TargetStateID = req.TargetStateID
		current.Value = req.Value
		current.UpdatedAt = now
		r = current
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}

	s.actions.Record(ctx, action.Entry{
		OrganizationID: organizationID,
		Type:           action.TypeRewardUpdated,
		RewardID:       r.ID,
		Value:          r.Value,
	})

	sync, syncErr := s.syncMarker(ctx, r)
	return &Result{Reward: r, Sync: sync, SyncErr: syncErr}, nil
}

// Delete removes a reward in either state. Points of a claimed reward stay credited and
// the forfeited value is recorded as an action.
func (s *Service) Delete(ctx context.Context, organizationID, rewardID, actorAccountID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reward.Delete")
	defer span.End()

	var deleted *Reward
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.rewards.WithTrx(tx).FindOne(ctx, &Reward{ID: rewardID, OrganizationID: organizationID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if r == nil {
			return ErrRewardNotFound
		}
		if err := tx.Delete(&Reward{}, "id = ?", r.ID).Error; err != nil {
			return err
		}
		deleted = r
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}

	kind := action.TypeRewardDeleted
	if deleted.Claimed {
		kind = action.TypeRewardForfeited
	}
	logger.FromContext(ctx).Info("reward deleted",
		zap.String("organization_id", organizationID),
		zap.String("reward_id", deleted.ID),
		zap.Bool("claimed", deleted.Claimed),
		zap.Int64("value", deleted.Value),
	)
	s.actions.Record(ctx, action.Entry{
		OrganizationID: organizationID,
		ActorAccountID: actorAccountID,
		Type:           kind,
		RewardID:       deleted.ID,
		Value:          deleted.Value,
		Metadata:       map[string]any{"issue_id": deleted.IssueID, "claimed": deleted.Claimed},
	})

	sync, syncErr := s.deleteMarker(ctx, deleted)
	return &Result{Reward: deleted, Sync: sync, SyncErr: syncErr}, nil
}

func (s *Service) Get(ctx context.Context, organizationID, rewardID string) (*Reward, error) {
	r, err := s.rewards.FindOne(ctx, &Reward{ID: rewardID, OrganizationID: organizationID})
	if err != nil {
		return nil, db.Classify(err)
	}
	if r == nil {
		return nil, ErrRewardNotFound
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, organizationID string, page pagination.Page) ([]*Reward, pagination.PageInfo, error) {
	page = page.Normalize(20, 100)
	query := &Reward{OrganizationID: organizationID}

	total, err := s.rewards.Count(ctx, query)
	if err != nil {
		return nil, pagination.PageInfo{}, db.Classify(err)
	}
	items, err := s.rewards.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(page.Limit),
		option.WithOffset(page.Offset),
	)
	if err != nil {
		return nil, pagination.PageInfo{}, db.Classify(err)
	}
	return items, pagination.BuildPageInfo(page, len(items), total), nil
}

func (s *Service) markerAuth(ctx context.Context, organizationID string) (marker.Auth, bool) {
	org, err := s.accounts.GetOrganization(ctx, organizationID)
	if err != nil || org.APICredential == nil || *org.APICredential == "" {
		return marker.Auth{}, false
	}
	if !s.flags.Enabled(ctx, org.ExternalID, featureflags.MarkerSync, true) {
		return marker.Auth{}, false
	}
	return marker.Auth{OrganizationID: organizationID, Token: *org.APICredential}, true
}

func (s *Service) syncMarker(ctx context.Context, r *Reward) (SyncStatus, error) {
	auth, ok := s.markerAuth(ctx, r.OrganizationID)
	if !ok {
		return SyncSkipped, nil
	}

	subtitle := fmt.Sprintf("Move to %s to earn", r.TargetStateID)
	if r.Claimed {
		subtitle = "Claimed"
	}
	id, err := s.markers.Upsert(ctx, auth, marker.Marker{
		IssueID:  r.IssueID,
		MarkerID: r.MarkerID,
		Title:    fmt.Sprintf("%d points", r.Value),
		Subtitle: subtitle,
		Metadata: marker.Metadata{
			RewardID:      r.ID,
			Points:        r.Value,
			TargetStateID: r.TargetStateID,
			Claimed:       r.Claimed,
		},
	})
	if errors.Is(err, marker.ErrNotConfigured) {
		return SyncSkipped, nil
	}
	if err != nil {
		logger.FromContext(ctx).Warn("marker sync failed",
			zap.String("reward_id", r.ID), zap.String("issue_id", r.IssueID), zap.Error(err))
		return SyncFailed, err
	}

	if id != "" && id != r.MarkerID {
		if err := s.rewards.Update(ctx, r.ID, map[string]any{"marker_id": id}); err != nil {
			logger.FromContext(ctx).Warn("failed to store marker id", zap.String("reward_id", r.ID), zap.Error(err))
			return SyncFailed, err
		}
		r.MarkerID = id
	}
	return SyncOK, nil
}

func (s *Service) deleteMarker(ctx context.Context, r *Reward) (SyncStatus, error) {
	if r.MarkerID == "" {
		return SyncSkipped, nil
	}
	auth, ok := s.markerAuth(ctx, r.OrganizationID)
	if !ok {
		return SyncSkipped, nil
	}
	err := s.markers.Delete(ctx, auth, r.IssueID, r.MarkerID)
	if errors.Is(err, marker.ErrNotConfigured) {
		return SyncSkipped, nil
	}
	if err != nil {
		logger.FromContext(ctx).Warn("marker delete failed",
			zap.String("reward_id", r.ID), zap.String("marker_id", r.MarkerID), zap.Error(err))
		return SyncFailed, err
	}
	return SyncOK, nil
}
