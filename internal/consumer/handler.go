// Пакет consumer накапливает события распределения из NATS и пакетно пишет их в ClickHouse
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"QRKot/internal/model"
)

// Repo: пакетная запись событий
type Repo interface {
	BatchInsertEvents(ctx context.Context, events []model.InvestmentEvent) error
}

// Consumer буферизует события и отправляет их пакетами по batchSize
type Consumer struct {
	repo      Repo
	batchSize int
	log       zerolog.Logger

	mu     sync.Mutex
	events []model.InvestmentEvent
}

// NewConsumer создаёт Consumer; batchSize меньше 1 трактуется как 1
func NewConsumer(repo Repo, batchSize int, log zerolog.Logger) *Consumer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Consumer{repo: repo, batchSize: batchSize, log: log, events: make([]model.InvestmentEvent, 0, batchSize)}
}

// HandleMessage разбирает событие и при заполнении буфера отправляет пакет
func (c *Consumer) HandleMessage(ctx context.Context, data []byte) error {
	var e model.InvestmentEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("failed to decode investment event: %w", err)
	}
	c.log.Debug().
		Int("project_id", e.ProjectID).
		Int("donation_id", e.DonationID).
		Int64("amount", e.Amount).
		Msg("investment event received")

	c.mu.Lock()
	c.events = append(c.events, e)
	if len(c.events) < c.batchSize {
		c.mu.Unlock()
		return nil
	}
	batch := c.drainLocked()
	c.mu.Unlock()
	return c.insert(ctx, batch)
}

// Flush отправляет все накопленные события, если они есть
func (c *Consumer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.events) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.drainLocked()
	c.mu.Unlock()
	return c.insert(ctx, batch)
}

// insert пишет пакет; при ошибке события возвращаются в начало буфера
// и уйдут со следующим пакетом или при Flush
func (c *Consumer) insert(ctx context.Context, batch []model.InvestmentEvent) error {
	err := c.repo.BatchInsertEvents(ctx, batch)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	c.events = append(batch, c.events...)
	pending := len(c.events)
	c.mu.Unlock()
	c.log.Warn().Err(err).Int("pending", pending).Msg("batch insert failed, events requeued")
	return err
}

// Pending возвращает число событий в буфере
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// drainLocked копирует и очищает буфер; вызывается под mu
func (c *Consumer) drainLocked() []model.InvestmentEvent {
	batch := make([]model.InvestmentEvent, len(c.events))
	copy(batch, c.events)
	c.events = c.events[:0]
	return batch
}
