package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"trackpoints/pkg/config"
	"trackpoints/pkg/db"
	"trackpoints/pkg/db/pagination"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/rediskey"
	"trackpoints/services/ledger"
)

var tracer = otel.Tracer("trackpoints/services/leaderboard")

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "trackpoints_leaderboard_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "trackpoints_leaderboard_cache_miss_total"})
)

var ErrInvalidWindow = errors.New("invalid leaderboard window")

// ranked aggregates the window per account, then ranks with competition ranking (1,2,2,4).
// Ties are listed by account id.
const rankedQuery = `
WITH windowed AS (
	SELECT account_id, SUM(difference) AS points
	FROM point_log_entries
	WHERE organization_id = ? AND created_at >= ? AND created_at < ?
	GROUP BY account_id
)
SELECT
	RANK() OVER (ORDER BY w.points DESC) AS ranking,
	w.account_id,
	COALESCE(u.display_name, '') AS display_name,
	w.points,
	a.balance AS total_points
FROM windowed w
JOIN accounts a ON a.id = w.account_id AND a.organization_id = ?
LEFT JOIN users u ON u.id = a.user_id
ORDER BY ranking ASC, w.account_id ASC
LIMIT ? OFFSET ?`

type Options struct {
	DefaultLimit int
	MaxLimit     int
	CacheTTL     time.Duration
	Cache        Cache
}

type Service struct {
	db    *gorm.DB
	opts  Options
	group singleflight.Group
	now   func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	lb := p.Config.Leaderboard
	opts := Options{DefaultLimit: lb.DefaultLimit, MaxLimit: lb.MaxLimit, CacheTTL: lb.CacheTTL}
	if p.Redis != nil && lb.CacheTTL > 0 {
		opts.Cache = NewRedisCache(p.Redis)
	}
	return New(p.DB, opts)
}

func New(gdb *gorm.DB, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	return &Service{
		db:   gdb,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Leaderboard ranks the accounts of an organization by points earned in
// [WindowStart, WindowEnd). A zero start means the beginning of the ledger and a zero
// end means the end of the current cache interval, so open-ended calls share a key.
// It never writes.
func (s *Service) Leaderboard(ctx context.Context, q Query) (*Page, error) {
	ctx, span := tracer.Start(ctx, "leaderboard.Leaderboard")
	defer span.End()

	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}

	key := rediskey.BuildLeaderboardKey(q.OrganizationID, q.WindowStart, q.WindowEnd, q.Limit, q.Offset)
	v, err, _ := s.group.Do(key, func() (any, error) {
		// shared by every waiter on key, so one caller leaving must not fail the rest
		return s.load(context.WithoutCancel(ctx), key, q)
	})
	if err != nil {
		return nil, err
	}
	page := *v.(*Page)
	return &page, nil
}

func (s *Service) normalize(q Query) (Query, error) {
	if strings.TrimSpace(q.OrganizationID) == "" {
		return q, ErrInvalidWindow
	}
	if q.WindowEnd.IsZero() {
		q.WindowEnd = s.openEnd()
	}
	q.WindowStart = q.WindowStart.UTC()
	q.WindowEnd = q.WindowEnd.UTC()
	if !q.WindowEnd.After(q.WindowStart) {
		return q, ErrInvalidWindow
	}

	p := pagination.Page{Limit: q.Limit, Offset: q.Offset}.Normalize(s.opts.DefaultLimit, s.opts.MaxLimit)
	q.Limit, q.Offset = p.Limit, p.Offset
	return q, nil
}

// openEnd rounds now up to the cache TTL, or to the minute without one.
func (s *Service) openEnd() time.Time {
	step := s.opts.CacheTTL
	if step <= 0 {
		step = time.Minute
	}
	return s.now().Truncate(step).Add(step)
}

func (s *Service) load(ctx context.Context, key string, q Query) (*Page, error) {
	log := logger.FromContext(ctx, zap.String("organization_id", q.OrganizationID))

	if s.opts.Cache != nil {
		raw, ok, err := s.opts.Cache.Get(ctx, key)
		if err != nil {
			log.Warn("leaderboard cache read failed", zap.Error(err))
		}
		if ok {
			var page Page
			if err := json.Unmarshal(raw, &page); err == nil {
				cacheHits.Inc()
				return &page, nil
			}
		}
		cacheMiss.Inc()
	}

	page, err := s.query(ctx, q)
	if err != nil {
		return nil, db.Classify(err)
	}

	if s.opts.Cache != nil {
		if raw, err := json.Marshal(page); err == nil {
			if err := s.opts.Cache.Set(ctx, key, raw, s.opts.CacheTTL); err != nil {
				log.Warn("leaderboard cache write failed", zap.Error(err))
			}
		}
	}
	return page, nil
}

func (s *Service) query(ctx context.Context, q Query) (*Page, error) {
	tx := s.db.WithContext(ctx)

	var total int64
	if err := tx.Model(&ledger.PointLogEntry{}).
		Where("organization_id = ? AND created_at >= ? AND created_at < ?", q.OrganizationID, q.WindowStart, q.WindowEnd).
		Distinct("account_id").
		Count(&total).Error; err != nil {
		return nil, err
	}

	items := make([]RankedAccount, 0, q.Limit)
	if total > int64(q.Offset) {
		if err := tx.Raw(rankedQuery,
			q.OrganizationID, q.WindowStart, q.WindowEnd,
			q.OrganizationID,
			q.Limit, q.Offset,
		).Scan(&items).Error; err != nil {
			return nil, err
		}
	}

	p := pagination.Page{Limit: q.Limit, Offset: q.Offset}
	return &Page{
		Items:      items,
		TotalCount: total,
		PageInfo:   pagination.BuildPageInfo(p, len(items), total),
	}, nil
}
