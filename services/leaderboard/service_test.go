package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/services/account"
	"trackpoints/services/ledger"
	"trackpoints/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
	sets  int
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string][]byte{}
	}
	c.items[key] = value
	c.sets++
	return nil
}

var (
	windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db       *gorm.DB
	accounts *account.Service
	ledger   *ledger.Service
	org      *account.Organization
	ids      map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb := testutil.NewTestDB(t, append(account.Models(), ledger.Models()...)...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:       gdb,
		accounts: account.NewService(account.ServiceParams{DB: gdb, Node: node}),
		ledger:   ledger.NewService(ledger.ServiceParams{DB: gdb, Node: node}),
		ids:      map[string]string{},
	}
	f.org, err = f.accounts.EnsureOrganization(context.Background(), "org-ext", "Acme")
	require.NoError(t, err)
	return f
}

// credit applies points to the named account and backdates the entry to at.
func (f *fixture) credit(t *testing.T, org *account.Organization, name string, points int64, at time.Time) {
	t.Helper()
	ctx := context.Background()

	acc, err := f.accounts.Resolve(ctx, account.Identity{OrganizationID: org.ID, Provider: "github", ExternalID: name, DisplayName: name})
	require.NoError(t, err)
	f.ids[name] = acc.ID

	out, err := f.ledger.Apply(ctx, org.ID, []ledger.Delta{{
		AccountID: acc.ID, Difference: points, ReferenceType: ledger.ReferenceReward, ReferenceID: fmt.Sprintf("r-%s-%d", name, at.Unix()),
	}})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&ledger.PointLogEntry{}).
		Where("id = ?", out.Entries[0].ID).
		Update("created_at", at).Error)
}

func TestLeaderboardCompetitionRanking(t *testing.T) {
	f := newFixture(t)
	in := windowStart.Add(48 * time.Hour)

	f.credit(t, f.org, "alice", 50, in)
	f.credit(t, f.org, "bob", 30, in)
	f.credit(t, f.org, "carol", 20, in)
	f.credit(t, f.org, "carol", 10, in.Add(time.Hour))
	f.credit(t, f.org, "dave", 10, in)
	f.credit(t, f.org, "dave", 100, windowStart.Add(-time.Hour))

	svc := New(f.db, Options{})
	page, err := svc.Leaderboard(context.Background(), Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd})
	require.NoError(t, err)
	require.Equal(t, int64(4), page.TotalCount)
	require.Len(t, page.Items, 4)

	ranks := make([]int64, 0, len(page.Items))
	for _, item := range page.Items {
		ranks = append(ranks, item.Rank)
	}
	require.Equal(t, []int64{1, 2, 2, 4}, ranks)

	require.Equal(t, f.ids["alice"], page.Items[0].AccountID)
	require.Equal(t, "alice", page.Items[0].DisplayName)

	tied := []string{f.ids["bob"], f.ids["carol"]}
	sort.Strings(tied)
	require.Equal(t, tied, []string{page.Items[1].AccountID, page.Items[2].AccountID})

	dave := page.Items[3]
	require.Equal(t, f.ids["dave"], dave.AccountID)
	require.Equal(t, int64(10), dave.Points)
	require.Equal(t, int64(110), dave.TotalPoints)
}

func TestLeaderboardWindowIsHalfOpen(t *testing.T) {
	f := newFixture(t)
	f.credit(t, f.org, "start", 5, windowStart)
	f.credit(t, f.org, "end", 5, windowEnd)

	page, err := New(f.db, Options{}).Leaderboard(context.Background(), Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, f.ids["start"], page.Items[0].AccountID)
}

func TestLeaderboardPagination(t *testing.T) {
	f := newFixture(t)
	in := windowStart.Add(time.Hour)
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		f.credit(t, f.org, name, int64(50-i*10), in)
	}

	svc := New(f.db, Options{DefaultLimit: 2, MaxLimit: 3})
	page, err := svc.Leaderboard(context.Background(), Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, int64(5), page.TotalCount)
	require.Len(t, page.Items, 2)
	require.Equal(t, int64(3), page.Items[0].Rank)
	require.True(t, page.PageInfo.HasMore)

	page, err = svc.Leaderboard(context.Background(), Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd, Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	page, err = svc.Leaderboard(context.Background(), Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd, Offset: 10})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.False(t, page.PageInfo.HasMore)
}

func TestLeaderboardIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	other, err := f.accounts.EnsureOrganization(context.Background(), "other", "Other")
	require.NoError(t, err)

	in := windowStart.Add(time.Hour)
	f.credit(t, f.org, "mine", 5, in)
	f.credit(t, other, "theirs", 500, in)

	page, err := New(f.db, Options{}).Leaderboard(context.Background(), Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, f.ids["mine"], page.Items[0].AccountID)
}

func TestLeaderboardValidation(t *testing.T) {
	svc := New(nil, Options{})
	_, err := svc.Leaderboard(context.Background(), Query{OrganizationID: "org", WindowStart: windowEnd, WindowEnd: windowStart})
	require.ErrorIs(t, err, ErrInvalidWindow)

	_, err = svc.Leaderboard(context.Background(), Query{WindowStart: windowStart, WindowEnd: windowEnd})
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestLeaderboardCache(t *testing.T) {
	f := newFixture(t)
	in := windowStart.Add(time.Hour)
	f.credit(t, f.org, "a", 5, in)

	cache := &memCache{}
	svc := New(f.db, Options{Cache: cache, CacheTTL: time.Minute})
	q := Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd}

	first, err := svc.Leaderboard(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)

	f.credit(t, f.org, "b", 9, in)

	cached, err := svc.Leaderboard(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, cached.Items, 1)
	require.Equal(t, 1, cache.sets)
}

func TestLeaderboardCacheOpenEndedWindow(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)
	f.credit(t, f.org, "a", 5, now.Add(-time.Second))

	cache := &memCache{}
	svc := New(f.db, Options{Cache: cache, CacheTTL: time.Minute})
	q := Query{OrganizationID: f.org.ID}

	for i := 0; i < 3; i++ {
		svc.now = func() time.Time { return now.Add(time.Duration(i*3) * time.Millisecond) }
		page, err := svc.Leaderboard(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
	}
	require.Equal(t, 1, cache.sets)
	require.Len(t, cache.items, 1)

	svc.now = func() time.Time { return now.Add(time.Minute) }
	_, err := svc.Leaderboard(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 2, cache.sets)
}

func TestLeaderboardIgnoresCanceledCaller(t *testing.T) {
	f := newFixture(t)
	f.credit(t, f.org, "a", 5, windowStart.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page, err := New(f.db, Options{}).Leaderboard(ctx, Query{OrganizationID: f.org.ID, WindowStart: windowStart, WindowEnd: windowEnd})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}
