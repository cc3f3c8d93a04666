package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"QRKot/internal/matcher"
	"QRKot/internal/model"
	"QRKot/internal/repository"
	"QRKot/pkg/cache"
)

// ключи кеша; любая операция, меняющая суммы, сбрасывает оба
const (
	projectsListKey   = "charity_projects:list"
	projectsReportKey = "charity_projects:report"
)

// Store: хранилище проектов и пожертвований (PostgreSQL)
type Store interface {
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
	ListProjects(ctx context.Context) ([]model.CharityProject, error)
	ListDonations(ctx context.Context) ([]model.Donation, error)
	ListUserDonations(ctx context.Context, userID int) ([]model.Donation, error)
	ProjectsByCompletionRate(ctx context.Context) ([]model.ProjectCompletion, error)
}

// Cache: кеш сериализованных ответов (Redis)
type Cache interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// Publisher публикует события распределения (NATS)
type Publisher interface {
	PublishJSON(v interface{}) error
}

// core: общие зависимости сервисов проектов и пожертвований
type core struct {
	store Store
	cache Cache
	pub   Publisher
	log   zerolog.Logger
	now   func() time.Time
}

func newCore(store Store, c Cache, pub Publisher, log zerolog.Logger) core {
	return core{store: store, cache: c, pub: pub, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// inTx выполняет fn в транзакции и отдельно логирует нарушение сохранения средств
func (c *core) inTx(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	err := c.store.InTx(ctx, fn)
	if errors.Is(err, matcher.ErrConservationViolation) {
		c.log.Error().Err(err).Str("op", op).Msg("allocation aborted: conservation of funds violated")
	}
	return err
}

// afterCommit сбрасывает кеш и публикует события. Ошибки только логируются:
// транзакция уже зафиксирована.
func (c *core) afterCommit(ctx context.Context, events []model.InvestmentEvent) {
	if err := c.cache.Invalidate(ctx, projectsListKey, projectsReportKey); err != nil {
		c.log.Warn().Err(err).Msg("cache invalidation failed")
	}
	for _, e := range events {
		if err := c.pub.PublishJSON(e); err != nil {
			c.log.Warn().Err(err).
				Int("project_id", e.ProjectID).
				Int("donation_id", e.DonationID).
				Int64("amount", e.Amount).
				Msg("investment event not published")
		}
	}
	if len(events) > 0 {
		c.log.Debug().Int("transfers", len(events)).Msg("allocation committed")
	}
}

// cached читает key из кеша, при промахе вызывает load и сохраняет результат
func cached[T any](ctx context.Context, c *core, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if data, err := c.cache.Get(ctx, key); err == nil {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		c.log.Warn().Str("key", key).Msg("cache entry corrupted, reloading")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.cache.Set(ctx, key, data); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return v, nil
}

// projectEvents строит события для проекта, получившего средства из donations.
// Проект считается закрытым только на последнем перемещении.
func projectEvents(p *model.CharityProject, transfers []matcher.Transfer[*model.Donation], at time.Time) []model.InvestmentEvent {
	events := make([]model.InvestmentEvent, 0, len(transfers))
	for i, t := range transfers {
		events = append(events, model.InvestmentEvent{
			ProjectID:      p.ID,
			DonationID:     t.Counterpart.ID,
			Amount:         t.Amount,
			ProjectClosed:  p.FullyInvested && i == len(transfers)-1,
			DonationClosed: t.Counterpart.FullyInvested,
			CreatedAt:      at,
		})
	}
	return events
}

// donationEvents строит события для пожертвования, распределённого по projects
func donationEvents(d *model.Donation, transfers []matcher.Transfer[*model.CharityProject], at time.Time) []model.InvestmentEvent {
	events := make([]model.InvestmentEvent, 0, len(transfers))
	for i, t := range transfers {
		events = append(events, model.InvestmentEvent{
			ProjectID:      t.Counterpart.ID,
			DonationID:     d.ID,
			Amount:         t.Amount,
			ProjectClosed:  t.Counterpart.FullyInvested,
			DonationClosed: d.FullyInvested && i == len(transfers)-1,
			CreatedAt:      at,
		})
	}
	return events
}
