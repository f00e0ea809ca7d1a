package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/db/option"
	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/repository"
	"trackpoints/services/account"
)

var tracer = otel.Tracer("trackpoints/services/ledger")

var entriesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trackpoints_ledger_entries_total",
	Help: "Point log entries appended, by reference type.",
}, []string{"reference_type"})

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	entries  repository.Repository[PointLogEntry]
	accounts repository.Repository[account.Account]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },

		entries:  repository.ProvideStore[PointLogEntry](p.DB),
		accounts: repository.ProvideStore[account.Account](p.DB),
	}
}

// Apply commits a batch of balance changes atomically: every delta is applied with its
// log entry, or none is.
func (s *Service) Apply(ctx context.Context, organizationID string, deltas []Delta) (*Committed, error) {
	var out *Committed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.ApplyTx(ctx, tx, organizationID, deltas)
		return err
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	return out, nil
}

// ApplyTx is Apply inside the caller's transaction. Touched accounts are locked in id
// order so batches overlapping on accounts cannot deadlock each other.
func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, organizationID string, deltas []Delta) (*Committed, error) {
	ctx, span := tracer.Start(ctx, "ledger.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("organization_id", organizationID), attribute.Int("deltas", len(deltas)))

	if len(deltas) == 0 {
		return nil, ErrEmptyBatch
	}
	if organizationID == "" {
		return nil, ErrInvalidDelta
	}

	ids := make([]string, 0, len(deltas))
	seen := make(map[string]bool, len(deltas))
	for _, d := range deltas {
		if d.AccountID == "" || d.ReferenceType == "" {
			return nil, ErrInvalidDelta
		}
		if !seen[d.AccountID] {
			seen[d.AccountID] = true
			ids = append(ids, d.AccountID)
		}
	}
	sort.Strings(ids)

	var locked []*account.Account
	if err := tx.WithContext(ctx).
		Scopes(option.LockingUpdate).
		Where("organization_id = ? AND id IN ?", organizationID, ids).
		Order("id").
		Find(&locked).Error; err != nil {
		return nil, err
	}
	if len(locked) != len(ids) {
		return nil, account.ErrAccountNotFound
	}

	balances := make(map[string]int64, len(locked))
	heads := make(map[string]*PointLogEntry, len(locked))
	for _, acc := range locked {
		balances[acc.ID] = acc.Balance
		head, err := s.head(ctx, tx, acc.ID)
		if err != nil {
			return nil, err
		}
		heads[acc.ID] = head
	}

	now := s.now()
	entries := make([]*PointLogEntry, 0, len(deltas))
	for _, d := range deltas {
		prev := balances[d.AccountID]
		next := prev + d.Difference
		if (d.Difference > 0 && next < prev) || (d.Difference < 0 && next > prev) {
			return nil, ErrBalanceOverflow
		}
		if next < 0 {
			return nil, &InsufficientBalanceError{AccountID: d.AccountID, Available: prev, Requested: -d.Difference}
		}
		balances[d.AccountID] = next

		entry := &PointLogEntry{
			ID:              s.node.Generate().String(),
			OrganizationID:  organizationID,
			AccountID:       d.AccountID,
			Difference:      d.Difference,
			PreviousBalance: prev,
			NewBalance:      next,
			ReferenceType:   d.ReferenceType,
			ReferenceID:     d.ReferenceID,
			PreviousHash:    genesisHash,
			Sequence:        1,
			CreatedAt:       now,
		}
		if head := heads[d.AccountID]; head != nil {
			entry.PreviousHash = head.Hash
			entry.Sequence = head.Sequence + 1
		}
		entry.Hash = entry.GenerateHash()
		heads[d.AccountID] = entry
		entries = append(entries, entry)
	}

	if err := s.entries.WithTrx(tx).BatchCreate(ctx, entries); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.accounts.WithTrx(tx).Update(ctx, id, map[string]any{
			"balance":    balances[id],
			"updated_at": now,
		}); err != nil {
			return nil, err
		}
	}

	for _, e := range entries {
		entriesAppended.WithLabelValues(string(e.ReferenceType)).Inc()
	}
	logger.FromContext(ctx).Debug("ledger batch applied",
		zap.String("organization_id", organizationID),
		zap.Int("entries", len(entries)),
	)

	return &Committed{Entries: entries, Balances: balances}, nil
}

func (s *Service) head(ctx context.Context, tx *gorm.DB, accountID string) (*PointLogEntry, error) {
	return s.entries.WithTrx(tx).FindOne(ctx, &PointLogEntry{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "desc",
			Allow:   map[string]bool{"sequence": true},
		}),
	)
}

// Balance reads the committed balance of an account.
func (s *Service) Balance(ctx context.Context, organizationID, accountID string) (int64, error) {
	acc, err := s.accounts.FindOne(ctx, &account.Account{ID: accountID, OrganizationID: organizationID})
	if err != nil {
		return 0, db.Classify(err)
	}
	if acc == nil {
		return 0, account.ErrAccountNotFound
	}
	return acc.Balance, nil
}

// ListEntries pages through the log of an account, newest first.
func (s *Service) ListEntries(ctx context.Context, organizationID, accountID string, page pagination.Page) ([]*PointLogEntry, pagination.PageInfo, error) {
	page = page.Normalize(50, 500)
	query := &PointLogEntry{OrganizationID: organizationID, AccountID: accountID}

	total, err := s.entries.Count(ctx, query)
	if err != nil {
		return nil, pagination.PageInfo{}, db.Classify(err)
	}

	entries, err := s.entries.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "sequence", OrderBy: "desc", Allow: map[string]bool{"sequence": true}}),
		option.WithLimit(page.Limit),
		option.WithOffset(page.Offset),
	)
	if err != nil {
		return nil, pagination.PageInfo{}, db.Classify(err)
	}
	return entries, pagination.BuildPageInfo(page, len(entries), total), nil
}

var errChainBroken = errors.New("ledger chain broken")

// Verify recomputes an account's log: the hash chain, the balance continuity between
// consecutive entries, and that the stored balance equals the sum of differences.
func (s *Service) Verify(ctx context.Context, organizationID, accountID string) (*Verification, error) {
	ctx, span := tracer.Start(ctx, "ledger.Verify")
	defer span.End()

	acc, err := s.accounts.FindOne(ctx, &account.Account{ID: accountID, OrganizationID: organizationID})
	if err != nil {
		return nil, db.Classify(err)
	}
	if acc == nil {
		return nil, account.ErrAccountNotFound
	}

	entries, err := s.entries.Find(ctx, &PointLogEntry{OrganizationID: organizationID, AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{SortBy: "sequence", OrderBy: "asc", Allow: map[string]bool{"sequence": true}}),
	)
	if err != nil {
		return nil, db.Classify(err)
	}

	v := &Verification{AccountID: accountID, Balance: acc.Balance, EntryCount: len(entries)}
	for _, e := range entries {
		v.LedgerSum += e.Difference
	}
	v.BalanceMatches = v.LedgerSum == acc.Balance

	chainErr := verifyChain(entries)
	v.ChainValid = chainErr == nil
	if !v.Valid() {
		logger.FromContext(ctx).Warn("ledger verification failed",
			zap.String("account_id", accountID),
			zap.Int64("balance", acc.Balance),
			zap.Int64("ledger_sum", v.LedgerSum),
			zap.NamedError("chain", chainErr),
		)
	}
	return v, nil
}

func verifyChain(entries []*PointLogEntry) error {
	prevHash := genesisHash
	var prevBalance int64
	for i, e := range entries {
		switch {
		case e.Sequence != int64(i+1),
			e.PreviousHash != prevHash,
			e.PreviousBalance != prevBalance,
			e.PreviousBalance+e.Difference != e.NewBalance,
			e.GenerateHash() != e.Hash:
			return errChainBroken
		}
		prevHash = e.Hash
		prevBalance = e.NewBalance
	}
	return nil
}
