package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/db/option"
	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/repository"
	"trackpoints/services/account"
	"trackpoints/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	countFn   func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error { return nil }

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error { return nil }

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error { return nil }

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

type fixture struct {
	db       *gorm.DB
	ledger   *Service
	accounts *account.Service
	org      *account.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb := testutil.NewTestDB(t, append(account.Models(), Models()...)...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	accounts := account.NewService(account.ServiceParams{DB: gdb, Node: node})
	org, err := accounts.EnsureOrganization(context.Background(), "org-ext", "Acme")
	require.NoError(t, err)

	return &fixture{
		db:       gdb,
		ledger:   NewService(ServiceParams{DB: gdb, Node: node}),
		accounts: accounts,
		org:      org,
	}
}

func (f *fixture) account(t *testing.T, externalID string, balance int64) *account.Account {
	t.Helper()
	ctx := context.Background()

	acc, err := f.accounts.Resolve(ctx, account.Identity{
		OrganizationID: f.org.ID,
		Provider:       "github",
		ExternalID:     externalID,
	})
	require.NoError(t, err)

	if balance > 0 {
		_, err = f.ledger.Apply(ctx, f.org.ID, []Delta{{
			AccountID: acc.ID, Difference: balance, ReferenceType: ReferenceReward, ReferenceID: "seed-" + externalID,
		}})
		require.NoError(t, err)
	}
	return acc
}

func TestApplyMovesPointsAndLogsEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", 100)
	b := f.account(t, "bob", 0)

	out, err := f.ledger.Apply(ctx, f.org.ID, []Delta{
		{AccountID: a.ID, Difference: -30, ReferenceType: ReferenceTransaction, ReferenceID: "tx-1"},
		{AccountID: b.ID, Difference: 30, ReferenceType: ReferenceTransaction, ReferenceID: "tx-1"},
	})
	require.NoError(t, err)
	require.Len(t, out.Entries, 2)
	require.Equal(t, int64(70), out.Balances[a.ID])
	require.Equal(t, int64(30), out.Balances[b.ID])

	debit := out.Entries[0]
	require.Equal(t, int64(100), debit.PreviousBalance)
	require.Equal(t, int64(70), debit.NewBalance)
	require.Equal(t, int64(2), debit.Sequence)

	balance, err := f.ledger.Balance(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(70), balance)

	entries, info, err := f.ledger.ListEntries(ctx, f.org.ID, a.ID, pagination.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(2), info.TotalCount)
	require.Equal(t, "tx-1", entries[0].ReferenceID)
}

func TestApplyRejectsWholeBatchOnInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", 40)
	b := f.account(t, "bob", 5)

	_, err := f.ledger.Apply(ctx, f.org.ID, []Delta{
		{AccountID: b.ID, Difference: 50, ReferenceType: ReferenceTransaction, ReferenceID: "tx-1"},
		{AccountID: a.ID, Difference: -50, ReferenceType: ReferenceTransaction, ReferenceID: "tx-1"},
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, a.ID, insufficient.AccountID)
	require.Equal(t, int64(40), insufficient.Available)

	for id, want := range map[string]int64{a.ID: 40, b.ID: 5} {
		got, err := f.ledger.Balance(ctx, f.org.ID, id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	count, err := f.ledger.entries.Count(ctx, &PointLogEntry{ReferenceID: "tx-1"})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestApplyValidatesBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", 0)

	_, err := f.ledger.Apply(ctx, f.org.ID, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = f.ledger.Apply(ctx, f.org.ID, []Delta{{AccountID: a.ID, Difference: 1}})
	require.ErrorIs(t, err, ErrInvalidDelta)

	_, err = f.ledger.Apply(ctx, f.org.ID, []Delta{{AccountID: "nope", Difference: 1, ReferenceType: ReferenceReward}})
	require.ErrorIs(t, err, account.ErrAccountNotFound)

	other, err := f.accounts.EnsureOrganization(ctx, "other-org", "Other")
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, other.ID, []Delta{{AccountID: a.ID, Difference: 1, ReferenceType: ReferenceReward}})
	require.ErrorIs(t, err, account.ErrAccountNotFound)
}

func TestApplyRejectsBalanceOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", math.MaxInt64-10)

	_, err := f.ledger.Apply(ctx, f.org.ID, []Delta{{AccountID: a.ID, Difference: 11, ReferenceType: ReferenceReward, ReferenceID: "r-big"}})
	require.ErrorIs(t, err, ErrBalanceOverflow)
	require.ErrorIs(t, err, ErrInvalidDelta)
	require.NotErrorIs(t, err, ErrInsufficientBalance)

	got, err := f.ledger.Balance(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-10), got)

	_, err = f.ledger.Apply(ctx, f.org.ID, []Delta{{AccountID: a.ID, Difference: 10, ReferenceType: ReferenceReward, ReferenceID: "r-max"}})
	require.NoError(t, err)
}

func TestApplyTxRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", 10)

	boom := errors.New("boom")
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.ledger.ApplyTx(ctx, tx, f.org.ID, []Delta{
			{AccountID: a.ID, Difference: 5, ReferenceType: ReferenceReward, ReferenceID: "r-1"},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := f.ledger.Balance(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", 50)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.Apply(ctx, f.org.ID, []Delta{{
				AccountID: a.ID, Difference: -10, ReferenceType: ReferenceTransaction, ReferenceID: fmt.Sprintf("tx-%d", i),
			}})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrInsufficientBalance)
		rejected++
	}

	require.Equal(t, 5, succeeded)
	require.Equal(t, 5, rejected)

	v, err := f.ledger.Verify(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.True(t, v.Valid())
	require.Zero(t, v.Balance)
	require.Equal(t, 6, v.EntryCount)
}

func TestVerifyDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "alice", 25)

	_, err := f.ledger.Apply(ctx, f.org.ID, []Delta{{AccountID: a.ID, Difference: -5, ReferenceType: ReferenceTransaction, ReferenceID: "tx-1"}})
	require.NoError(t, err)

	v, err := f.ledger.Verify(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.True(t, v.Valid())
	require.Equal(t, int64(20), v.LedgerSum)

	require.NoError(t, f.db.Model(&PointLogEntry{}).
		Where("account_id = ? AND sequence = ?", a.ID, 1).
		Update("difference", 30).Error)

	v, err = f.ledger.Verify(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.False(t, v.ChainValid)
	require.False(t, v.BalanceMatches)

	require.NoError(t, f.db.Model(&account.Account{}).Where("id = ?", a.ID).Update("balance", 999).Error)
	v, err = f.ledger.Verify(ctx, f.org.ID, a.ID)
	require.NoError(t, err)
	require.False(t, v.Valid())
}

func TestBalanceReportsStoreUnavailable(t *testing.T) {
	svc := &Service{
		accounts: &repoMock[account.Account]{
			findOneFn: func(ctx context.Context, query *account.Account, opts ...option.QueryOption) (*account.Account, error) {
				return nil, driver.ErrBadConn
			},
		},
	}

	_, err := svc.Balance(context.Background(), "org", "acc")
	require.ErrorIs(t, err, db.ErrStoreUnavailable)
}
