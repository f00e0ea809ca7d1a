package action

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/db/option"
	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/repository"
)

type Service struct {
	node    *snowflake.Node
	actions repository.Repository[Action]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:    p.Node,
		actions: repository.ProvideStore[Action](p.DB),
	}
}

// Record writes an action after the operation it describes has committed. Failures are
// logged and dropped.
func (s *Service) Record(ctx context.Context, e Entry) {
	row := &Action{
		ID:             s.node.Generate().String(),
		OrganizationID: e.OrganizationID,
		Type:           e.Type,
		Value:          e.Value,
		ActorAccountID: optional(e.ActorAccountID),
		TransactionID:  optional(e.TransactionID),
		RewardID:       optional(e.RewardID),
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err == nil {
			row.Metadata = raw
		}
	}

	if err := s.actions.Create(ctx, row); err != nil {
		logger.FromContext(ctx).Warn("failed to record action",
			zap.String("organization_id", e.OrganizationID),
			zap.String("type", string(e.Type)),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, organizationID string, page pagination.Page) ([]*Action, pagination.PageInfo, error) {
	page = page.Normalize(20, 100)
	query := &Action{OrganizationID: organizationID}

	total, err := s.actions.Count(ctx, query)
	if err != nil {
		return nil, pagination.PageInfo{}, db.Classify(err)
	}
	items, err := s.actions.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(page.Limit),
		option.WithOffset(page.Offset),
	)
	if err != nil {
		return nil, pagination.PageInfo{}, db.Classify(err)
	}
	return items, pagination.BuildPageInfo(page, len(items), total), nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
